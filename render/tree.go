package render

import (
	"encoding/binary"
	"hash/fnv"
	"image"
	"image/draw"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/server"
	xdraw "golang.org/x/image/draw"
)

// Layer is one surface of a client surface tree, flattened
type Layer struct {
	Image *image.RGBA
	Src   image.Rectangle
	// Dst is logical and relative to the tree origin
	Dst geom.Rect[int]
	// Damage is logical and relative to Dst.Min
	Damage []geom.Rect[int]
	Serial uint64
}

// Flatten walks a surface and its subsurfaces bottom to top and takes their damage
func Flatten(s *server.Surface) []Layer {
	var layers []Layer
	var walk func(s *server.Surface, origin geom.Point[int])
	walk = func(s *server.Surface, origin geom.Point[int]) {
		for _, c := range s.Stack() {
			if c != s {
				walk(c, origin.Add(c.Subsurface().Position()))
				continue
			}
			damage := s.TakeDamage()
			if s.Image() == nil {
				continue
			}
			layers = append(layers, Layer{
				Image:  s.Image(),
				Src:    s.SourceRect(),
				Dst:    geom.Rect[int]{Max: s.Size()}.Add(origin),
				Damage: damage,
				Serial: s.Commits(),
			})
		}
	}
	walk(s, geom.Point[int]{})
	return layers
}

// Tree draws a flattened surface tree at a logical location
type Tree struct {
	key    any
	layers []Layer
	loc    geom.Point[int]
	scale  float64
	// crop is logical and in target coordinates, empty for none
	crop geom.Rect[int]
}

// NewTree places layers at loc. A non empty crop limits drawing to that
// logical rectangle, for applets configured smaller than what they show
func NewTree(key any, layers []Layer, loc geom.Point[int], scale float64, crop geom.Rect[int]) *Tree {
	return &Tree{key: key, layers: layers, loc: loc, scale: scale, crop: crop}
}

func (t *Tree) Key() any { return t.key }

func (t *Tree) logical() geom.Rect[int] {
	var r geom.Rect[int]
	for _, l := range t.layers {
		r = r.Union(l.Dst)
	}
	r = r.Add(t.loc)
	if !t.crop.Empty() {
		r = r.Intersect(t.crop)
	}
	return r
}

func (t *Tree) Bounds() geom.Rect[int] {
	return layout.PhysicalRect(t.logical(), t.scale)
}

func (t *Tree) Serial() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, l := range t.layers {
		binary.LittleEndian.PutUint64(buf[:], l.Serial)
		h.Write(buf[:])
		for _, v := range []int{l.Dst.Min.X, l.Dst.Min.Y, l.Dst.Max.X, l.Dst.Max.Y} {
			binary.LittleEndian.PutUint64(buf[:], uint64(v))
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}

func (t *Tree) TakeDamage() []geom.Rect[int] {
	var out []geom.Rect[int]
	for i := range t.layers {
		l := &t.layers[i]
		for _, d := range l.Damage {
			r := d.Add(l.Dst.Min).Add(t.loc)
			// one extra pixel covers filtering at fractional scales
			out = append(out, layout.PhysicalRect(r, t.scale).Inset(-1))
		}
		l.Damage = nil
	}
	return out
}

func (t *Tree) Draw(dst *image.RGBA, clip image.Rectangle) {
	if !t.crop.Empty() {
		clip = clip.Intersect(layout.PhysicalRect(t.crop, t.scale).ImageRect())
	}
	target, ok := dst.SubImage(clip).(*image.RGBA)
	if !ok || target.Bounds().Empty() {
		return
	}
	for _, l := range t.layers {
		dr := layout.PhysicalRect(l.Dst.Add(t.loc), t.scale).ImageRect()
		if !dr.Overlaps(clip) {
			continue
		}
		if dr.Size() == l.Src.Size() {
			draw.Draw(target, dr, l.Image, l.Src.Min, draw.Over)
			continue
		}
		xdraw.ApproxBiLinear.Scale(target, dr, l.Image, l.Src, draw.Over, nil)
	}
}
