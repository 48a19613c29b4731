// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package render

import (
	"image"
	"image/color"
	"image/draw"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/config"
	xdraw "golang.org/x/image/draw"
)

type Corner uint8

const (
	CornerTopLeft = Corner(1 << iota)
	CornerTopRight
	CornerBottomLeft
	CornerBottomRight

	CornersAll = CornerTopLeft | CornerTopRight | CornerBottomLeft | CornerBottomRight
)

// CornersFor rounds the corners facing away from the screen edge,
// or all of them when the panel floats off the edge
func CornersFor(anchor config.Anchor, gap bool) Corner {
	if gap {
		return CornersAll
	}
	switch anchor {
	case config.AnchorLeft:
		return CornerTopRight | CornerBottomRight
	case config.AnchorRight:
		return CornerTopLeft | CornerBottomLeft
	case config.AnchorTop:
		return CornerBottomLeft | CornerBottomRight
	default:
		return CornerTopLeft | CornerTopRight
	}
}

// Premultiply turns a straight alpha color in [0,1] into a pixel
func Premultiply(c [4]float32) color.RGBA {
	ch := func(v float32) uint8 {
		return uint8(max(0, min(1, v))*255 + 0.5)
	}
	a := max(0, min(1, c[3]))
	return color.RGBA{R: ch(c[0] * a), G: ch(c[1] * a), B: ch(c[2] * a), A: ch(a)}
}

// Background is the rounded panel rectangle
type Background struct {
	rect    geom.Rect[int]
	radius  int
	corners Corner
	color   color.RGBA
	serial  uint64
	mask    *image.Alpha
}

func NewBackground() *Background {
	return &Background{}
}

// Set updates the background, rect and radius in target pixels
func (b *Background) Set(rect geom.Rect[int], radius int, corners Corner, c color.RGBA) {
	radius = max(0, min(radius, rect.Dx()/2, rect.Dy()/2))
	if rect == b.rect && radius == b.radius && corners == b.corners && c == b.color {
		return
	}
	if rect.Size() != b.rect.Size() || radius != b.radius || corners != b.corners {
		b.mask = nil
	}
	b.rect, b.radius, b.corners, b.color = rect, radius, corners, c
	b.serial++
}

func (b *Background) Key() any                     { return b }
func (b *Background) Bounds() geom.Rect[int]       { return b.rect }
func (b *Background) Serial() uint64               { return b.serial }
func (b *Background) TakeDamage() []geom.Rect[int] { return nil }

func (b *Background) Draw(dst *image.RGBA, clip image.Rectangle) {
	if b.rect.Empty() {
		return
	}
	if b.mask == nil {
		b.mask = roundedMask(b.rect.Size(), b.radius, b.corners)
	}
	src := image.NewUniform(b.color)
	r := b.rect.ImageRect()
	draw.DrawMask(dst, clip, src, image.Point{}, b.mask, clip.Min.Sub(r.Min), draw.Over)
}

// corner resolution before scaling down, smooths the edge
const drawnRadius = 128

var cornerTemplate = func() *image.Alpha {
	img := image.NewAlpha(image.Rect(0, 0, drawnRadius, drawnRadius))
	r2 := drawnRadius * drawnRadius
	for y := 0; y < drawnRadius; y++ {
		for x := 0; x < drawnRadius; x++ {
			// distance from the circle center in the bottom right of the cell
			dx, dy := drawnRadius-x, drawnRadius-y
			if dx*dx+dy*dy <= r2 {
				img.SetAlpha(x, y, color.Alpha{A: 0xff})
			}
		}
	}
	return img
}()

// roundedMask builds coverage for a rectangle of size with the selected corners cut round
func roundedMask(size geom.Point[int], radius int, corners Corner) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(mask, mask.Bounds(), image.Opaque, image.Point{}, draw.Src)
	if radius == 0 {
		return mask
	}
	// the template is the top left corner, the others are mirrored from it
	corner := image.NewAlpha(image.Rect(0, 0, radius, radius))
	xdraw.CatmullRom.Scale(corner, corner.Bounds(), cornerTemplate, cornerTemplate.Bounds(), draw.Src, nil)

	for y := 0; y < radius; y++ {
		for x := 0; x < radius; x++ {
			a := corner.AlphaAt(x, y)
			mx, my := size.X-1-x, size.Y-1-y
			if corners&CornerTopLeft != 0 {
				mask.SetAlpha(x, y, a)
			}
			if corners&CornerTopRight != 0 {
				mask.SetAlpha(mx, y, a)
			}
			if corners&CornerBottomLeft != 0 {
				mask.SetAlpha(x, my, a)
			}
			if corners&CornerBottomRight != 0 {
				mask.SetAlpha(mx, my, a)
			}
		}
	}
	return mask
}
