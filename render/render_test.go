package render

import (
	"image"
	"image/color"
	"testing"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/config"
)

type fakeElement struct {
	key    string
	bounds geom.Rect[int]
	serial uint64
	damage []geom.Rect[int]
	col    color.RGBA
	drawn  int
}

func (f *fakeElement) Key() any               { return f.key }
func (f *fakeElement) Bounds() geom.Rect[int] { return f.bounds }
func (f *fakeElement) Serial() uint64         { return f.serial }
func (f *fakeElement) TakeDamage() []geom.Rect[int] {
	d := f.damage
	f.damage = nil
	return d
}
func (f *fakeElement) Draw(dst *image.RGBA, clip image.Rectangle) {
	f.drawn++
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		for x := clip.Min.X; x < clip.Max.X; x++ {
			dst.SetRGBA(x, y, f.col)
		}
	}
}

func elems(es ...*fakeElement) []Element {
	out := make([]Element, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

func TestDamageByAge(t *testing.T) {
	tr := NewTracker(geom.Pt(100, 20))
	a := &fakeElement{key: "a", bounds: geom.Rt(0, 0, 20, 20)}
	b := &fakeElement{key: "b", bounds: geom.Rt(40, 0, 60, 20)}

	d := tr.Damage(0, elems(a, b))
	if len(d) != 1 || d[0] != geom.Rt(0, 0, 100, 20) {
		t.Fatalf("First frame damage %v, want the full target", d)
	}

	d = tr.Damage(1, elems(a, b))
	if len(d) != 0 {
		t.Errorf("Unchanged frame damaged %v", d)
	}

	b.serial++
	b.damage = []geom.Rect[int]{geom.Rt(45, 5, 50, 10)}
	d = tr.Damage(1, elems(a, b))
	if len(d) != 1 || d[0] != geom.Rt(45, 5, 50, 10) {
		t.Errorf("Partial damage %v", d)
	}

	a.bounds = geom.Rt(10, 0, 30, 20)
	tr.Damage(1, elems(a, b))
	// a buffer three frames old needs the last three frames
	d = tr.Damage(3, elems(a, b))
	want := []geom.Rect[int]{geom.Rt(0, 0, 20, 20), geom.Rt(10, 0, 30, 20), geom.Rt(45, 5, 50, 10)}
	if len(d) != len(want) {
		t.Fatalf("Age 3 damage %v, want %v", d, want)
	}
	for _, w := range want {
		found := false
		for _, r := range d {
			if w.In(r) {
				found = true
			}
		}
		if !found {
			t.Errorf("Age 3 damage %v misses %v", d, w)
		}
	}

	if d := tr.Damage(MaxAge+1, elems(a, b)); len(d) != 1 || d[0] != geom.Rt(0, 0, 100, 20) {
		t.Errorf("Too old buffer damage %v", d)
	}
}

func TestRemovedElementDamagesItsArea(t *testing.T) {
	tr := NewTracker(geom.Pt(100, 20))
	a := &fakeElement{key: "a", bounds: geom.Rt(0, 0, 20, 20)}
	b := &fakeElement{key: "b", bounds: geom.Rt(40, 0, 60, 20)}
	tr.Damage(0, elems(a, b))
	d := tr.Damage(1, elems(a))
	if len(d) != 1 || d[0] != b.bounds {
		t.Errorf("Damage after removal %v, want %v", d, b.bounds)
	}
}

func TestFrameDrawsOnlyDamage(t *testing.T) {
	tr := NewTracker(geom.Pt(10, 10))
	dst := image.NewRGBA(image.Rect(0, 0, 10, 10))
	a := &fakeElement{key: "a", bounds: geom.Rt(0, 0, 10, 10), col: color.RGBA{R: 0xff, A: 0xff}}
	Frame(dst, tr, 0, elems(a))
	if a.drawn != 1 {
		t.Fatalf("Element drawn %d times", a.drawn)
	}
	Frame(dst, tr, 1, elems(a))
	if a.drawn != 1 {
		t.Errorf("Clean frame redrew the element")
	}
	if got := dst.RGBAAt(5, 5); got != a.col {
		t.Errorf("Pixel %v, want %v", got, a.col)
	}
}

func TestSimplifyCollapses(t *testing.T) {
	var rects []geom.Rect[int]
	for i := 0; i < 20; i++ {
		rects = append(rects, geom.Rt(i*10, 0, i*10+5, 5))
	}
	out := simplify(rects)
	if len(out) != 1 || out[0] != geom.Rt(0, 0, 195, 5) {
		t.Errorf("simplify gave %v", out)
	}
	out = simplify([]geom.Rect[int]{geom.Rt(0, 0, 10, 10), geom.Rt(2, 2, 4, 4), geom.Rt(0, 0, 10, 10)})
	if len(out) != 1 {
		t.Errorf("Contained rects kept: %v", out)
	}
}

func TestCornersFor(t *testing.T) {
	cases := []struct {
		anchor config.Anchor
		gap    bool
		want   Corner
	}{
		{config.AnchorTop, false, CornerBottomLeft | CornerBottomRight},
		{config.AnchorBottom, false, CornerTopLeft | CornerTopRight},
		{config.AnchorLeft, false, CornerTopRight | CornerBottomRight},
		{config.AnchorRight, false, CornerTopLeft | CornerBottomLeft},
		{config.AnchorRight, true, CornersAll},
	}
	for _, c := range cases {
		if got := CornersFor(c.anchor, c.gap); got != c.want {
			t.Errorf("CornersFor(%v, %v) = %b, want %b", c.anchor, c.gap, got, c.want)
		}
	}
}

func TestBackgroundCorners(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 60, 30))
	bg := NewBackground()
	col := Premultiply([4]float32{0, 0, 1, 1})
	bg.Set(geom.Rt(0, 0, 60, 30), 10, CornerBottomLeft|CornerBottomRight, col)
	bg.Draw(dst, dst.Bounds())

	if a := dst.RGBAAt(0, 29).A; a != 0 {
		t.Errorf("Rounded corner pixel has alpha %d", a)
	}
	if got := dst.RGBAAt(0, 0); got != col {
		t.Errorf("Square corner pixel %v, want %v", got, col)
	}
	if got := dst.RGBAAt(30, 15); got != col {
		t.Errorf("Center pixel %v, want %v", got, col)
	}
}

func TestPremultiply(t *testing.T) {
	got := Premultiply([4]float32{1, 0.5, 0, 0.5})
	want := color.RGBA{R: 128, G: 64, B: 0, A: 128}
	if got != want {
		t.Errorf("Premultiply = %v, want %v", got, want)
	}
}

func TestTreeCropAndScale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}
	layers := []Layer{{Image: src, Src: src.Bounds(), Dst: geom.Rt(0, 0, 20, 20), Serial: 1}}

	tree := NewTree("a", layers, geom.Pt(5, 0), 1, geom.Rt(5, 0, 15, 20))
	if b := tree.Bounds(); b != geom.Rt(5, 0, 15, 20) {
		t.Fatalf("Cropped bounds %v", b)
	}
	dst := image.NewRGBA(image.Rect(0, 0, 40, 20))
	tree.Draw(dst, dst.Bounds())
	if dst.RGBAAt(10, 10).A != 0xff {
		t.Errorf("Inside crop not drawn")
	}
	if dst.RGBAAt(20, 10).A != 0 {
		t.Errorf("Drew outside the crop")
	}

	scaled := NewTree("b", layers, geom.Pt(0, 0), 2, geom.Rect[int]{})
	if b := scaled.Bounds(); b != geom.Rt(0, 0, 40, 40) {
		t.Errorf("Scaled bounds %v", b)
	}
}

func TestTreeSerialFollowsCommits(t *testing.T) {
	layers := []Layer{{Dst: geom.Rt(0, 0, 10, 10), Serial: 1}}
	s1 := NewTree("a", layers, geom.Pt(0, 0), 1, geom.Rect[int]{}).Serial()
	layers[0].Serial = 2
	s2 := NewTree("a", layers, geom.Pt(0, 0), 1, geom.Rect[int]{}).Serial()
	if s1 == s2 {
		t.Errorf("Serial did not change with a new commit")
	}
}

func TestToBGRA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	src.SetRGBA(1, 1, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	src.SetRGBA(3, 0, color.RGBA{R: 9, G: 9, B: 9, A: 9})
	dst := make([]byte, 4*4*2)
	ToBGRA(dst, 16, src, []geom.Rect[int]{geom.Rt(0, 1, 2, 2)})
	off := 16 + 4
	if got := dst[off : off+4]; got[0] != 3 || got[1] != 2 || got[2] != 1 || got[3] != 4 {
		t.Errorf("Swizzled pixel %v", got)
	}
	if dst[12] != 0 {
		t.Errorf("Pixel outside damage was copied")
	}
}

func TestButtonDots(t *testing.T) {
	b := NewButton("left")
	b.Set(geom.Rt(0, 0, 40, 40), color.RGBA{A: 0xff})
	dots := b.Dots()
	if len(dots) != 8 {
		t.Fatalf("%d dots", len(dots))
	}
	for _, d := range dots {
		if !d.In(b.Bounds()) {
			t.Errorf("Dot %v outside the button", d)
		}
	}
}
