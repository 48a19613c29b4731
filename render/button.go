package render

import (
	"image"
	"image/color"
	"image/draw"

	"deedles.dev/ximage/geom"
)

// Button is the overflow button of one band. It shows a grid of eight dots
// that reads as "more applets"
type Button struct {
	key    any
	rect   geom.Rect[int]
	fg     color.RGBA
	hover  bool
	serial uint64
}

func NewButton(key any) *Button {
	return &Button{key: key, fg: color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}}
}

// Set places the button, in target pixels
func (b *Button) Set(rect geom.Rect[int], fg color.RGBA) {
	if rect == b.rect && fg == b.fg {
		return
	}
	b.rect, b.fg = rect, fg
	b.serial++
}

func (b *Button) SetHover(hover bool) {
	if hover != b.hover {
		b.hover = hover
		b.serial++
	}
}

func (b *Button) Key() any                     { return b.key }
func (b *Button) Bounds() geom.Rect[int]       { return b.rect }
func (b *Button) Serial() uint64               { return b.serial }
func (b *Button) TakeDamage() []geom.Rect[int] { return nil }

// Dots returns the eight dot rectangles, four columns of two rows centered in the button
func (b *Button) Dots() []geom.Rect[int] {
	side := min(b.rect.Dx(), b.rect.Dy())
	dot := max(side/10, 1)
	gap := dot
	w, h := 4*dot+3*gap, 2*dot+gap
	origin := b.rect.Min.Add(geom.Pt((b.rect.Dx()-w)/2, (b.rect.Dy()-h)/2))
	dots := make([]geom.Rect[int], 0, 8)
	for row := 0; row < 2; row++ {
		for col := 0; col < 4; col++ {
			p := origin.Add(geom.Pt(col*(dot+gap), row*(dot+gap)))
			dots = append(dots, geom.Rt(0, 0, dot, dot).Add(p))
		}
	}
	return dots
}

func (b *Button) Draw(dst *image.RGBA, clip image.Rectangle) {
	if b.hover {
		hl := image.NewUniform(color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0x20})
		draw.Draw(dst, clip.Intersect(b.rect.ImageRect()), hl, image.Point{}, draw.Over)
	}
	fg := image.NewUniform(b.fg)
	for _, d := range b.Dots() {
		draw.Draw(dst, clip.Intersect(d.ImageRect()), fg, image.Point{}, draw.Over)
	}
}
