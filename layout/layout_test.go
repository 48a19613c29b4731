package layout

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/config"
)

// layoutTwice runs a pass, accepts the requested size and runs again
func layoutTwice(t *testing.T, e *Engine, p Params, applets []Applet) Result {
	t.Helper()
	res, err := e.Layout(p, applets)
	var resize *ErrResizing
	if errors.As(err, &resize) {
		p.Current = resize.Size
		res, err = e.Layout(p, applets)
	}
	if err != nil {
		t.Fatalf("Layout failed after resize: %s", err)
	}
	return res
}

func TestSingleAppletTopPanel(t *testing.T) {
	cfg := config.DefaultPanel()
	cfg.PluginsCenter = []string{"a"}
	e := NewEngine()
	p := ParamsFor(&cfg, 3840, geom.Point[int]{})

	res, err := e.Layout(p, []Applet{{ID: "a", Band: BandCenter, Size: geom.Pt(32, 32)}})
	var resize *ErrResizing
	if !errors.As(err, &resize) {
		t.Fatalf("First pass did not ask for a size: %v", err)
	}
	if resize.Size != geom.Pt(40, 40) {
		t.Errorf("Panel sized %v, want 40x40", resize.Size)
	}
	p.Current = resize.Size
	res, err = e.Layout(p, []Applet{{ID: "a", Band: BandCenter, Size: geom.Pt(32, 32)}})
	if err != nil {
		t.Fatalf("Second pass failed: %s", err)
	}
	if r := res.Placed["a"]; r != geom.Rt(4, 4, 36, 36) {
		t.Errorf("Applet placed at %v", r)
	}
	if len(res.Configures) != 0 {
		t.Errorf("Unconstrained applet got configures %v", res.Configures)
	}
}

func overflowParams() Params {
	return Params{
		Horizontal: true,
		MaxLength:  120,
		Size:       config.SizeS,
	}
}

func TestOverflowShrink(t *testing.T) {
	e := NewEngine()
	applets := []Applet{
		{ID: "a", Band: BandCenter, Size: geom.Pt(60, 40), MinUnits: 1, Priority: 2, HasPriority: true},
		{ID: "b", Band: BandCenter, Size: geom.Pt(60, 40), MinUnits: 1, Priority: 1, HasPriority: true},
		{ID: "c", Band: BandCenter, Size: geom.Pt(60, 40), MinUnits: 1, Priority: 0, HasPriority: true},
	}
	res := layoutTwice(t, e, overflowParams(), applets)

	if res.Dimensions != geom.Pt(120, 40) {
		t.Errorf("Panel is %v, want 120x40", res.Dimensions)
	}
	for _, id := range []string{"a", "b", "c"} {
		if w := res.Placed[id].Dx(); w != 40 {
			t.Errorf("Applet %s is %d wide, want 40", id, w)
		}
	}
	if len(res.Overflow) != 0 {
		t.Errorf("Shrinkable applets moved to overflow: %v", res.Overflow)
	}
	if err := Check(&res, []string{"a", "b", "c"}); err != nil {
		t.Error(err)
	}
}

func TestShrinkConfiguresOnce(t *testing.T) {
	e := NewEngine()
	applets := []Applet{
		{ID: "a", Band: BandCenter, Size: geom.Pt(60, 40), MinUnits: 1, Priority: 2, HasPriority: true},
		{ID: "b", Band: BandCenter, Size: geom.Pt(60, 40), MinUnits: 1, Priority: 1, HasPriority: true},
		{ID: "c", Band: BandCenter, Size: geom.Pt(60, 40), MinUnits: 1, Priority: 0, HasPriority: true},
	}
	p := overflowParams()
	first, _ := e.Layout(p, applets)
	if len(first.Configures) != 3 {
		t.Fatalf("Got %d configures, want 3", len(first.Configures))
	}
	for _, c := range first.Configures {
		if c.Size != geom.Pt(40, 40) {
			t.Errorf("Applet %s configured to %v", c.ID, c.Size)
		}
	}

	// the applets obey and commit smaller buffers
	for i := range applets {
		applets[i].Size = geom.Pt(40, 40)
	}
	p.Current = first.Dimensions
	second, err := e.Layout(p, applets)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Configures) != 0 {
		t.Errorf("Repeated configures %v", second.Configures)
	}
	if n, _ := e.Natural("a"); n != geom.Pt(60, 40) {
		t.Errorf("Natural size forgotten, now %v", n)
	}
}

// Movable applets never shrink, so the panel is 100 long and not the 80 a
// shrunken first applet would give: a keeps its natural 60 next to the 40 button
func TestOverflowMoveKeepsNaturalLength(t *testing.T) {
	e := NewEngine()
	applets := []Applet{
		{ID: "a", Band: BandCenter, Size: geom.Pt(60, 40)},
		{ID: "b", Band: BandCenter, Size: geom.Pt(60, 40)},
		{ID: "c", Band: BandCenter, Size: geom.Pt(60, 40)},
	}
	res := layoutTwice(t, e, overflowParams(), applets)

	if _, ok := res.Placed["a"]; !ok {
		t.Errorf("First applet left the panel")
	}
	slots := res.Overflow[BandCenter]
	if len(slots) != 2 {
		t.Fatalf("Overflow holds %v, want two applets", slots)
	}
	if slots[0].ID != "b" || slots[0].Rect.Min != geom.Pt(0, 0) {
		t.Errorf("Slot 0 is %v", slots[0])
	}
	if slots[1].ID != "c" || slots[1].Rect.Min != geom.Pt(40, 0) {
		t.Errorf("Slot 1 is %v", slots[1])
	}
	btn, ok := res.Buttons[BandCenter]
	if !ok || btn.Dx() != 40 {
		t.Errorf("Overflow button %v", btn)
	}
	if res.Dimensions.X != 100 {
		t.Errorf("Panel length %d, want 100", res.Dimensions.X)
	}
	for _, c := range res.Configures {
		if c.ID == "a" {
			t.Errorf("Applet left on the panel was configured to %v", c.Size)
		}
		if (c.ID == "b" || c.ID == "c") && c.Size != geom.Pt(40, 40) {
			t.Errorf("Overflowed applet %s configured to %v", c.ID, c.Size)
		}
	}
	if err := Check(&res, []string{"a", "b", "c"}); err != nil {
		t.Error(err)
	}
}

func TestRelaxPullsBack(t *testing.T) {
	e := NewEngine()
	applets := []Applet{
		{ID: "a", Band: BandCenter, Size: geom.Pt(60, 40)},
		{ID: "b", Band: BandCenter, Size: geom.Pt(60, 40)},
		{ID: "c", Band: BandCenter, Size: geom.Pt(60, 40)},
	}
	p := overflowParams()
	layoutTwice(t, e, p, applets)

	// b and c show the overflow cell size now
	applets[1].Size = geom.Pt(40, 40)
	applets[2].Size = geom.Pt(40, 40)
	p.MaxLength = 400
	res, _ := e.Layout(p, applets)
	if len(res.Overflow) != 0 || len(res.Buttons) != 0 {
		t.Errorf("Overflow not relaxed: %v %v", res.Overflow, res.Buttons)
	}
	released := 0
	for _, c := range res.Configures {
		if c.Size.IsZero() {
			released++
		}
	}
	if released != 2 {
		t.Errorf("Released %d applets, want 2", released)
	}
	if res.Placed["b"].Dx() != 60 {
		t.Errorf("Pulled back applet is %d wide, want its natural 60", res.Placed["b"].Dx())
	}
}

func TestMinimumLargerThanBandUnmaps(t *testing.T) {
	e := NewEngine()
	p := overflowParams()
	p.MaxLength = 100
	applets := []Applet{
		{ID: "big", Band: BandCenter, Size: geom.Pt(200, 40), MinUnits: 3},
		{ID: "small", Band: BandCenter, Size: geom.Pt(40, 40)},
	}
	res := layoutTwice(t, e, p, applets)
	if _, _, unmapped := res.Contains("big"); !unmapped {
		t.Errorf("Applet with a minimum of 120 in a 100 band is not unmapped")
	}
	if onPanel, _, _ := res.Contains("small"); !onPanel {
		t.Errorf("Small applet not shown")
	}
}

func TestTooThickUnmaps(t *testing.T) {
	e := NewEngine()
	res := layoutTwice(t, e, overflowParams(), []Applet{{ID: "tall", Band: BandLeft, Size: geom.Pt(30, 200)}})
	if len(res.Unmapped) != 1 {
		t.Errorf("Applet thicker than the size preset was not unmapped: %v", res)
	}
}

func TestWingsAndCenterPlacement(t *testing.T) {
	e := NewEngine()
	p := Params{Horizontal: true, MaxLength: 1000, Padding: 4, Spacing: 4, Size: config.SizeM, Expand: true}
	applets := []Applet{
		{ID: "l1", Band: BandLeft, Size: geom.Pt(30, 30)},
		{ID: "l2", Band: BandLeft, Size: geom.Pt(30, 30)},
		{ID: "c", Band: BandCenter, Size: geom.Pt(100, 30)},
		{ID: "r", Band: BandRight, Size: geom.Pt(20, 30)},
	}
	res := layoutTwice(t, e, p, applets)
	if got := res.Placed["l2"].Min.X; got != 4+30+4 {
		t.Errorf("Second left applet at %d", got)
	}
	if got := res.Placed["c"].Min.X; got != 500-50 {
		t.Errorf("Center applet at %d, want 450", got)
	}
	if got := res.Placed["r"].Max.X; got != 1000-4 {
		t.Errorf("Right applet ends at %d, want 996", got)
	}
	if res.Dimensions != geom.Pt(1000, 38) {
		t.Errorf("Dimensions %v", res.Dimensions)
	}
}

func TestSingleWingGetsHalf(t *testing.T) {
	e := NewEngine()
	p := overflowParams()
	p.Expand = true
	applets := []Applet{
		{ID: "a", Band: BandLeft, Size: geom.Pt(20, 40)},
		{ID: "b", Band: BandLeft, Size: geom.Pt(50, 40)},
	}
	res := layoutTwice(t, e, p, applets)

	// 70 does not fit the 60 left half even with the right wing empty
	if _, ok := res.Placed["a"]; !ok {
		t.Errorf("First applet left the panel")
	}
	if slots := res.Overflow[BandLeft]; len(slots) != 1 || slots[0].ID != "b" {
		t.Errorf("Left overflow holds %v, want b", slots)
	}
	if _, ok := res.Buttons[BandLeft]; !ok {
		t.Errorf("Left band has no overflow button")
	}
	if err := Check(&res, []string{"a", "b"}); err != nil {
		t.Error(err)
	}
}

func TestVerticalGapOffset(t *testing.T) {
	cfg := config.DefaultPanel()
	cfg.Anchor = config.AnchorLeft
	cfg.AnchorGap = true
	cfg.Margin = 6
	e := NewEngine()
	p := ParamsFor(&cfg, 800, geom.Point[int]{})
	res := layoutTwice(t, e, p, []Applet{{ID: "a", Band: BandLeft, Size: geom.Pt(20, 30)}})
	r := res.Placed["a"]
	// 20 wide applet centered in a 28 thick panel, pushed off the edge by the gap
	if r.Min.X != 6+4 || r.Min.Y != 4 {
		t.Errorf("Applet at %v", r)
	}
	if res.Dimensions != geom.Pt(28+6, 38) {
		t.Errorf("Dimensions %v", res.Dimensions)
	}
}

// Random panels keep every applet in exactly one place and every shown
// band inside its target
func TestPartitionInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		e := NewEngine()
		p := Params{
			Horizontal: rng.Intn(2) == 0,
			MaxLength:  200 + rng.Intn(600),
			Padding:    rng.Intn(6),
			Spacing:    rng.Intn(6),
			Size:       config.Size(rng.Intn(5)),
		}
		var applets []Applet
		var ids []string
		for i := 0; i < 1+rng.Intn(9); i++ {
			a := Applet{
				ID:          fmt.Sprint("a", i),
				Band:        Band(rng.Intn(3)),
				Size:        geom.Pt(10+rng.Intn(90), 10+rng.Intn(50)),
				Priority:    uint32(rng.Intn(3)),
				HasPriority: rng.Intn(2) == 0,
			}
			if rng.Intn(2) == 0 {
				a.MinUnits = uint32(1 + rng.Intn(2))
			}
			applets = append(applets, a)
			ids = append(ids, a.ID)
		}
		res := layoutTwice(t, e, p, applets)
		if err := Check(&res, ids); err != nil {
			t.Fatalf("Round %d: %s", round, err)
		}
	}
}

func TestPhysicalRoundsHalfToEven(t *testing.T) {
	if got := Physical(5, 1.5); got != 8 {
		t.Errorf("Physical(5, 1.5) = %d, want 8", got)
	}
	if got := Physical(3, 1.5); got != 4 {
		t.Errorf("Physical(3, 1.5) = %d, want 4", got)
	}
	if got := OverflowSize(9, 40); got != geom.Pt(320, 80) {
		t.Errorf("OverflowSize(9) = %v", got)
	}
}
