// Package render composites panel content into shared memory buffers.
// Drawing happens in premultiplied RGBA and only inside damaged areas,
// which the Tracker derives from element changes and buffer age.
package render

import (
	"image"
	"image/draw"

	"deedles.dev/ximage/geom"
)

// MaxAge is how many frames of damage a tracker remembers
const MaxAge = 4

// Above this many rectangles damage collapses into its bounding box
const maxRects = 16

// Element is something drawn into a target. Bounds are target pixels
type Element interface {
	Key() any
	Bounds() geom.Rect[int]
	// Serial changes whenever the pixels change
	Serial() uint64
	// TakeDamage returns the changed parts since the last call.
	// An empty result with a changed serial damages all of Bounds
	TakeDamage() []geom.Rect[int]
	Draw(dst *image.RGBA, clip image.Rectangle)
}

type seenElement struct {
	bounds geom.Rect[int]
	serial uint64
}

// Tracker computes damage for one render target
type Tracker struct {
	size    geom.Point[int]
	last    map[any]seenElement
	history [][]geom.Rect[int]
}

func NewTracker(size geom.Point[int]) *Tracker {
	return &Tracker{size: size, last: map[any]seenElement{}}
}

func (t *Tracker) Size() geom.Point[int] { return t.size }

// Resize forgets all history, the next frame repaints everything
func (t *Tracker) Resize(size geom.Point[int]) {
	t.size = size
	t.last = map[any]seenElement{}
	t.history = nil
}

func (t *Tracker) full() geom.Rect[int] {
	return geom.Rect[int]{Max: t.size}
}

// Damage records a frame of elems and returns what a buffer of the given
// age must repaint. Age 0 means the buffer content is undefined
func (t *Tracker) Damage(age int, elems []Element) []geom.Rect[int] {
	var frame []geom.Rect[int]
	now := make(map[any]seenElement, len(elems))
	for _, e := range elems {
		cur := seenElement{bounds: e.Bounds(), serial: e.Serial()}
		damage := e.TakeDamage()
		now[e.Key()] = cur
		prev, ok := t.last[e.Key()]
		switch {
		case !ok:
			frame = append(frame, cur.bounds)
		case prev.bounds != cur.bounds:
			frame = append(frame, prev.bounds, cur.bounds)
		case prev.serial != cur.serial && len(damage) == 0:
			frame = append(frame, cur.bounds)
		case prev.serial != cur.serial:
			for _, d := range damage {
				frame = append(frame, d.Intersect(cur.bounds))
			}
		}
	}
	for k, prev := range t.last {
		if _, ok := now[k]; !ok {
			frame = append(frame, prev.bounds)
		}
	}
	t.last = now

	frame = t.clip(frame)
	t.history = append([][]geom.Rect[int]{frame}, t.history...)
	if len(t.history) > MaxAge {
		t.history = t.history[:MaxAge]
	}

	if age <= 0 || age > len(t.history) {
		return []geom.Rect[int]{t.full()}
	}
	var out []geom.Rect[int]
	for _, f := range t.history[:age] {
		out = append(out, f...)
	}
	return simplify(out)
}

func (t *Tracker) clip(rects []geom.Rect[int]) []geom.Rect[int] {
	full := t.full()
	out := rects[:0]
	for _, r := range rects {
		r = r.Intersect(full)
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

// simplify drops rectangles covered by others and collapses long lists
func simplify(rects []geom.Rect[int]) []geom.Rect[int] {
	var out []geom.Rect[int]
outer:
	for i, r := range rects {
		for j, o := range rects {
			if i != j && r.In(o) && (r != o || j < i) {
				continue outer
			}
		}
		out = append(out, r)
	}
	if len(out) <= maxRects {
		return out
	}
	var bb geom.Rect[int]
	for _, r := range out {
		bb = bb.Union(r)
	}
	return []geom.Rect[int]{bb}
}

// Frame repaints the damaged parts of dst with elems, bottom to top,
// and returns the repainted rectangles
func Frame(dst *image.RGBA, t *Tracker, age int, elems []Element) []geom.Rect[int] {
	damage := t.Damage(age, elems)
	for _, d := range damage {
		clip := d.ImageRect().Intersect(dst.Bounds())
		draw.Draw(dst, clip, image.Transparent, image.Point{}, draw.Src)
		for _, e := range elems {
			c := clip.Intersect(e.Bounds().ImageRect())
			if !c.Empty() {
				e.Draw(dst, c)
			}
		}
	}
	return damage
}

// Clear makes the whole buffer transparent and forgets history
func Clear(dst *image.RGBA, t *Tracker) []geom.Rect[int] {
	draw.Draw(dst, dst.Bounds(), image.Transparent, image.Point{}, draw.Src)
	t.Resize(t.size)
	return []geom.Rect[int]{t.full()}
}
