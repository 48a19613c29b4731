package space

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/autohide"
	"github.com/mstarongithub/way2panel/clock"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/server/servertest"
	"github.com/mstarongithub/way2panel/wire"
)

type fakeSurface struct {
	acquires   int
	presents   int
	acquireErr error
	last       *Buffer
	damage     []geom.Rect[int]
	scale      float64
	logical    geom.Point[int]
	input      geom.Rect[int]
	destroyed  bool
}

func (f *fakeSurface) Acquire(size geom.Point[int]) (*Buffer, error) {
	f.acquires++
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.last = &Buffer{Image: image.NewRGBA(image.Rect(0, 0, size.X, size.Y))}
	return f.last, nil
}

func (f *fakeSurface) Present(buf *Buffer, damage []geom.Rect[int]) error {
	f.presents++
	f.damage = damage
	return nil
}

func (f *fakeSurface) SetScale(scale float64, logical geom.Point[int]) {
	f.scale, f.logical = scale, logical
}

func (f *fakeSurface) SetInputRegion(r geom.Rect[int]) { f.input = r }
func (f *fakeSurface) Destroy()                        { f.destroyed = true }

type fakePopup struct {
	fakeSurface
	parent    Popup
	placement Placement
	acks      []uint32
	grabs     []string
}

func (p *fakePopup) Ack(serial uint32)                    { p.acks = append(p.acks, serial) }
func (p *fakePopup) Reposition(pl Placement, token uint32) { p.placement = pl }
func (p *fakePopup) Grab(seat string, serial uint32)       { p.grabs = append(p.grabs, seat) }

type fakeLayer struct {
	fakeSurface
	namespace string
	states    []server.LayerState
	acks      []uint32
	popups    []*fakePopup
}

func (l *fakeLayer) Configure(st server.LayerState) { l.states = append(l.states, st) }
func (l *fakeLayer) Ack(serial uint32)              { l.acks = append(l.acks, serial) }
func (l *fakeLayer) state() server.LayerState       { return l.states[len(l.states)-1] }

func (l *fakeLayer) NewPopup(parent Popup, p Placement) (Popup, error) {
	fp := &fakePopup{parent: parent, placement: p}
	l.popups = append(l.popups, fp)
	return fp, nil
}

type fakeHost struct {
	layers []*fakeLayer
}

func (h *fakeHost) NewLayer(output, namespace string, st server.LayerState) (Layer, error) {
	l := &fakeLayer{namespace: namespace, states: []server.LayerState{st}}
	h.layers = append(h.layers, l)
	return l, nil
}

// router hands inner server events to the one space under test
type router struct {
	server.NopHandler
	sp *Space
}

func (r *router) SurfaceCommitted(s *server.Surface) {
	if r.sp.Owns(s) {
		r.sp.Committed(s)
	}
}
func (r *router) ToplevelCreated(t *server.Toplevel)   { r.sp.AddToplevel(t) }
func (r *router) ToplevelDestroyed(t *server.Toplevel) { r.sp.RemoveToplevel(t) }
func (r *router) PopupCreated(p *server.Popup)         { r.sp.AddPopup(p) }
func (r *router) PopupDestroyed(p *server.Popup)       { r.sp.RemovePopup(p) }

func (r *router) LayerSurfaceCreated(ls *server.LayerSurface)   { r.sp.AddLayerSurface(ls) }
func (r *router) LayerSurfaceDestroyed(ls *server.LayerSurface) { r.sp.RemoveLayerSurface(ls) }

var t0 = time.Unix(5000, 0)

func topPanel() *config.PanelConfig {
	conf := config.DefaultPanel()
	conf.Name = "top"
	conf.Anchor = config.AnchorTop
	conf.Size = config.SizeM
	conf.Padding = 4
	conf.Spacing = 4
	conf.PluginsCenter = []string{"a"}
	return &conf
}

type harness struct {
	t     *testing.T
	clk   *clock.Fake
	l     *loop.Loop
	srv   *server.Server
	host  *fakeHost
	sp    *Space
	layer *fakeLayer
}

func newHarness(t *testing.T, conf *config.PanelConfig) *harness {
	t.Helper()
	h := &harness{t: t, clk: clock.NewFake(t0), host: &fakeHost{}}
	h.l = loop.New(h.clk)
	r := &router{}
	h.srv = server.New(h.l, r, server.Features{})
	t.Cleanup(h.srv.Close)

	var clients []*PanelClient
	for _, name := range conf.PluginsCenter {
		clients = append(clients, &PanelClient{Name: name, Band: layout.BandCenter})
	}
	sp, err := New(conf, Output{Name: "DP-1", Size: geom.Pt(3840, 2160), Scale: 1}, h.host, h.clk, clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.sp = sp
	h.sp = sp
	h.layer = h.host.layers[0]
	return h
}

// configure answers the last layer state with its own size
func (h *harness) configure(serial uint32) {
	h.sp.Configured(serial, h.layer.state().Size)
}

// settle draws frames and answers resize requests until the layout holds.
// It returns the last configure serial used
func (h *harness) settle(serial uint32) uint32 {
	h.t.Helper()
	for i := 0; i < 4; i++ {
		h.sp.SurfaceFrame(h.layer)
		h.sp.Frame(h.clk.Now())
		if h.sp.State() == StateActive {
			return serial
		}
		serial++
		h.configure(serial)
	}
	h.t.Fatalf("Panel never settled")
	return serial
}

func (h *harness) applet(name string) (*servertest.Applet, servertest.Globals) {
	a := servertest.Connect(h.t, h.srv, h.l)
	h.sp.ReplaceClient(name, a.Client.ID())
	return a, a.BindCore()
}

func TestSingleAppletTopPanel(t *testing.T) {
	h := newHarness(t, topPanel())
	if got := h.layer.state().Anchor; got != server.AnchorTop|server.AnchorLeft|server.AnchorRight {
		t.Errorf("Anchor %b", got)
	}
	h.configure(1)
	if h.sp.State() != StateActive {
		t.Fatalf("State after configure is %s", h.sp.State())
	}

	a, g := h.applet("a")
	a.Map(g, geom.Pt(32, 32))
	a.Roundtrip()

	h.sp.Frame(h.clk.Now())
	if h.sp.State() != StateWaitConfigure {
		t.Fatalf("Panel did not ask for a resize: %s", h.sp.State())
	}
	st := h.layer.state()
	if st.Size != geom.Pt(40, 40) {
		t.Errorf("Requested size %v, want 40x40", st.Size)
	}
	if st.ExclusiveZone != 40 {
		t.Errorf("Exclusive zone %d, want 40", st.ExclusiveZone)
	}
	if h.layer.presents != 0 {
		t.Errorf("Drew %d frames before the resize was configured", h.layer.presents)
	}

	h.configure(2)
	h.sp.Frame(h.clk.Now())
	if h.layer.presents != 1 {
		t.Fatalf("Presents after configure: %d", h.layer.presents)
	}
	img := h.layer.last.Image
	if img.Bounds().Size() != image.Pt(40, 40) {
		t.Fatalf("Buffer size %v", img.Bounds().Size())
	}
	if c := img.RGBAAt(20, 20); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("Applet pixel %v", c)
	}
	if r := h.sp.Result().Placed["a"]; r != geom.Rt(4, 4, 36, 36) {
		t.Errorf("Applet placed at %v", r)
	}
	if h.layer.acks[len(h.layer.acks)-1] != 2 {
		t.Errorf("Configure not acked: %v", h.layer.acks)
	}
}

func TestNoRenderWithoutFrameOrDamage(t *testing.T) {
	h := newHarness(t, topPanel())
	h.configure(1)
	h.sp.Frame(h.clk.Now())
	if h.layer.presents != 1 {
		t.Fatalf("First frame not drawn: %d", h.layer.presents)
	}

	h.sp.SetTheme([4]float32{1, 0, 0, 1})
	h.sp.Frame(h.clk.Now())
	if h.layer.presents != 1 {
		t.Errorf("Drew without a frame callback")
	}

	h.sp.SurfaceFrame(h.layer)
	h.sp.Frame(h.clk.Now())
	if h.layer.presents != 2 {
		t.Fatalf("Dirty panel with a frame callback not drawn")
	}

	h.sp.SurfaceFrame(h.layer)
	acquires := h.layer.acquires
	h.sp.Frame(h.clk.Now())
	if h.layer.acquires != acquires || h.layer.presents != 2 {
		t.Errorf("Clean panel touched its render target")
	}
}

func TestToplevelClosedBeforeCommit(t *testing.T) {
	h := newHarness(t, topPanel())
	h.configure(1)
	a, g := h.applet("a")
	w := a.Window(g)
	a.Configured(w)
	a.Until(func() bool { return len(h.sp.Windows()) == 1 })

	a.DestroyWindow(w)
	a.Roundtrip()
	if names := h.sp.Windows(); len(names) != 0 {
		t.Errorf("Windows left after close: %v", names)
	}
	h.sp.Frame(h.clk.Now())
	if on, over, unmapped := h.sp.Result().Contains("a"); on || over || unmapped {
		t.Errorf("Closed applet still in the layout: %v %v %v", on, over, unmapped)
	}
}

func TestRenderFailuresDestroySpace(t *testing.T) {
	h := newHarness(t, topPanel())
	h.configure(1)
	h.layer.acquireErr = errors.New("no buffer")

	var destroy *Destroy
	frames := 0
	for ; frames < 40 && destroy == nil; frames++ {
		for _, c := range h.sp.Frame(h.clk.Now()) {
			if d, ok := c.(Destroy); ok {
				destroy = &d
			}
		}
	}
	if destroy == nil {
		t.Fatalf("Space never gave up")
	}
	if h.layer.acquires != MaxRenderFailures {
		t.Errorf("Gave up after %d attempts, want %d", h.layer.acquires, MaxRenderFailures)
	}
	// every failure is followed by a frame of cooldown
	if frames != 2*MaxRenderFailures-1 {
		t.Errorf("Gave up after %d frames", frames)
	}
}

func TestHiddenPanelDrawsOneClearFrame(t *testing.T) {
	conf := topPanel()
	conf.AutoHide = &config.AutoHide{WaitTime: 0, TransitionTime: 10, HandleSize: 0}
	h := newHarness(t, conf)
	h.configure(1)
	h.sp.Frame(h.clk.Now())
	if h.layer.presents != 1 {
		t.Fatalf("First frame not drawn")
	}

	h.clk.Advance(10 * time.Millisecond)
	h.sp.SurfaceFrame(h.layer)
	h.sp.Frame(h.clk.Now())
	if h.sp.Visibility() != autohide.Hidden {
		t.Fatalf("Panel is %s", h.sp.Visibility())
	}
	if h.layer.presents != 2 {
		t.Fatalf("Hidden frame not drawn, %d presents", h.layer.presents)
	}
	b := h.layer.last.Image.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if c := h.layer.last.Image.RGBAAt(x, y); c.A != 0 {
				t.Fatalf("Hidden frame has %v at %d,%d", c, x, y)
			}
		}
	}
	size := h.sp.Dimensions().Y
	if m := h.layer.state().Margin[0]; m != int32(-(size - 1)) {
		t.Errorf("Hidden margin %d, want %d", m, -(size - 1))
	}
	if in := h.layer.input; in.Dy() != 1 {
		t.Errorf("Hidden input region %v", in)
	}

	h.sp.SurfaceFrame(h.layer)
	h.sp.SetTheme([4]float32{0, 1, 0, 1})
	h.sp.Frame(h.clk.Now())
	if h.layer.presents != 2 {
		t.Errorf("Hidden panel kept drawing")
	}

	h.sp.PointerEntered("seat0", h.layer)
	if h.sp.Visibility() != autohide.TransitionToVisible {
		t.Errorf("Pointer on the handle did not reveal the panel: %s", h.sp.Visibility())
	}
}

func TestAutohideTimeline(t *testing.T) {
	conf := topPanel()
	conf.Anchor = config.AnchorLeft
	conf.AutoHide = &config.AutoHide{WaitTime: 500, TransitionTime: 200, HandleSize: 4}
	h := newHarness(t, conf)
	h.configure(1)
	h.sp.PointerEntered("seat0", h.layer)
	h.sp.PointerLeft("seat0", h.layer)

	tick := func(ms int) {
		h.clk.Advance(time.Duration(ms)*time.Millisecond - h.clk.Now().Sub(t0))
		h.sp.Frame(h.clk.Now())
	}
	tick(500)
	if h.sp.Visibility() != autohide.TransitionToHidden {
		t.Fatalf("At 500ms: %s", h.sp.Visibility())
	}
	tick(700)
	if h.sp.Visibility() != autohide.Hidden {
		t.Fatalf("At 700ms: %s", h.sp.Visibility())
	}
	width := h.sp.Dimensions().X
	if m := h.layer.state().Margin[3]; m != int32(-(width - 4)) {
		t.Errorf("Hidden margin %d, want %d", m, -(width - 4))
	}
	if z := h.layer.state().ExclusiveZone; z != 4 {
		t.Errorf("Hidden exclusive zone %d", z)
	}

	tick(1000)
	h.sp.PointerEntered("seat0", h.layer)
	tick(1200)
	if h.sp.Visibility() != autohide.Visible {
		t.Errorf("At 1200ms: %s", h.sp.Visibility())
	}
	if m := h.layer.state().Margin[3]; m != 0 {
		t.Errorf("Visible margin %d", m)
	}
}

func TestClientReplacedAfterRestart(t *testing.T) {
	h := newHarness(t, topPanel())
	h.configure(1)
	a, g := h.applet("a")
	a.Map(g, geom.Pt(32, 32))
	a.Until(func() bool { return len(h.sp.Windows()) == 1 })
	old := a.Client.ID()

	b := servertest.Connect(t, h.srv, h.l)
	h.sp.ReplaceClient("a", b.Client.ID())
	if len(h.sp.Windows()) != 0 {
		t.Errorf("Old client's window survived the restart")
	}
	if h.sp.Client(old) != nil {
		t.Errorf("Old client id still resolves")
	}
	if pc := h.sp.Client(b.Client.ID()); pc == nil || pc.Name != "a" {
		t.Errorf("New client id resolves to %v", pc)
	}
}

func TestPopupPlacedRelativeToApplet(t *testing.T) {
	h := newHarness(t, topPanel())
	h.configure(1)
	a, g := h.applet("a")
	w := a.Map(g, geom.Pt(32, 32))
	a.Roundtrip()
	h.sp.Frame(h.clk.Now())
	h.configure(2)
	h.sp.Frame(h.clk.Now())

	pos := a.NewID()
	a.Req(wire.NewMessage(g.WmBase, 1).Uint(pos))
	a.Req(wire.NewMessage(pos, 1).Int(100).Int(50))
	a.Req(wire.NewMessage(pos, 2).Int(0).Int(0).Int(32).Int(32))
	surf, xdg, pop := a.NewID(), a.NewID(), a.NewID()
	a.Req(wire.NewMessage(g.Compositor, 0).Uint(surf))
	a.Req(wire.NewMessage(g.WmBase, 2).Uint(xdg).Object(surf))
	a.Req(wire.NewMessage(xdg, 2).Uint(pop).Object(w.Xdg).Object(pos))
	a.Req(wire.NewMessage(surf, 6))
	a.Until(func() bool { return len(h.layer.popups) == 1 })

	fp := h.layer.popups[0]
	if fp.placement.AnchorRect != geom.Rt(4, 4, 36, 36) {
		t.Errorf("Host anchor rect %v", fp.placement.AnchorRect)
	}
	if fp.placement.Size != geom.Pt(100, 50) {
		t.Errorf("Host popup size %v", fp.placement.Size)
	}

	h.sp.PopupConfigured(fp, 77, geom.Rt(4, 36, 104, 86))
	d := a.Expect(pop, 0)
	if x, y := d.Int(), d.Int(); x != 0 || y != 32 {
		t.Errorf("Applet popup at %d,%d, want 0,32", x, y)
	}
	if len(fp.acks) != 1 || fp.acks[0] != 77 {
		t.Errorf("Host popup acks %v", fp.acks)
	}
	if !h.sp.Focused() {
		t.Errorf("Open popup does not hold the panel")
	}

	h.sp.PopupDone(fp)
	a.Expect(pop, 1)
	if !fp.destroyed {
		t.Errorf("Host popup not destroyed after popup_done")
	}
}

func TestOverflowRedrawsOnAppletCommit(t *testing.T) {
	conf := topPanel()
	conf.PluginsCenter = []string{"a", "b"}
	h := newHarness(t, conf)
	h.sp.SetOutputSize(geom.Pt(150, 1080))
	h.configure(1)

	a, ga := h.applet("a")
	a.Map(ga, geom.Pt(60, 32))
	a.Roundtrip()
	b, gb := h.applet("b")
	wb := b.Map(gb, geom.Pt(100, 32))
	b.Roundtrip()
	h.settle(1)

	slots := h.sp.Result().Overflow[layout.BandCenter]
	if len(slots) != 1 || slots[0].ID != "b" {
		t.Fatalf("Center overflow holds %v, want b", slots)
	}
	if err := h.sp.ToggleOverflow(layout.BandCenter); err != nil {
		t.Fatalf("ToggleOverflow: %v", err)
	}
	fp := h.layer.popups[0]
	h.sp.PopupConfigured(fp, 50, geom.Rt(0, 40, 52, 92))
	h.sp.Frame(h.clk.Now())
	if fp.presents != 1 {
		t.Fatalf("Overflow drawn %d times after configure", fp.presents)
	}

	h.sp.SurfaceFrame(fp)
	h.sp.Frame(h.clk.Now())
	if fp.presents != 1 {
		t.Errorf("Clean overflow redrawn")
	}

	b.Commit(gb, wb, geom.Pt(100, 32), [4]byte{0, 0, 0xff, 0xff})
	b.Roundtrip()
	h.sp.Frame(h.clk.Now())
	if fp.presents != 2 {
		t.Errorf("Overflowed applet commit drew %d overflow frames, want 2", fp.presents)
	}
}

func TestProxiedLayerSurfaceDropsStaleCommits(t *testing.T) {
	h := newHarness(t, topPanel())
	h.configure(1)
	h.settle(1)

	a, g := h.applet("a")
	shell := a.Bind("zwlr_layer_shell_v1", 4)
	surf, ls := a.NewID(), a.NewID()
	a.Req(wire.NewMessage(g.Compositor, 0).Uint(surf))
	a.Req(wire.NewMessage(shell, 0).Uint(ls).Object(surf).Object(0).Uint(3).String("notifications"))
	a.Req(wire.NewMessage(ls, 0).Uint(200).Uint(100))
	a.Req(wire.NewMessage(ls, 1).Uint(server.AnchorTop))
	a.Req(wire.NewMessage(surf, 6))
	a.Until(func() bool { return len(h.host.layers) == 2 })

	host := h.host.layers[1]
	if host.namespace != "notifications" || host.state().Size != geom.Pt(200, 100) {
		t.Errorf("Host layer %q with %+v", host.namespace, host.state())
	}
	inner := h.sp.proxies[0].ls

	// commit acks serial when non-zero and shows a fresh buffer of size
	commit := func(serial uint32, size geom.Point[int]) {
		if serial != 0 {
			a.Req(wire.NewMessage(ls, 6).Uint(serial))
		}
		buf := a.Buffer(g.Shm, size.X, size.Y, [4]byte{0xff, 0, 0, 0xff})
		a.Req(wire.NewMessage(surf, 1).Object(buf).Int(0).Int(0))
		a.Req(wire.NewMessage(surf, 6))
		a.Roundtrip()
	}

	h.sp.ProxyConfigured(host, 10, geom.Pt(200, 100))
	d := a.Expect(ls, 0)
	serial := d.Uint()
	if w, hh := d.Uint(), d.Uint(); w != 200 || hh != 100 {
		t.Errorf("Applet configured to %dx%d", w, hh)
	}
	commit(serial, geom.Pt(200, 100))
	st, _, _ := h.sp.ProxyState(inner)
	if st.Kind != SurfaceDirty || st.Gen != 1 {
		t.Fatalf("After first commit the proxy is %+v", st)
	}
	h.sp.Frame(h.clk.Now())
	if host.presents != 1 || host.last.Image.Bounds().Size() != image.Pt(200, 100) {
		t.Fatalf("First proxy frame: %d presents", host.presents)
	}
	if len(host.acks) != 1 || host.acks[0] != 10 {
		t.Errorf("Host layer acks %v", host.acks)
	}

	h.sp.ProxyConfigured(host, 11, geom.Pt(300, 100))
	serial = a.Expect(ls, 0).Uint()
	h.sp.SurfaceFrame(host)

	// still drawing for the old size
	commit(0, geom.Pt(200, 100))
	st, discarded, _ := h.sp.ProxyState(inner)
	if discarded != 1 || st.Kind == SurfaceDirty || st.Gen != 2 {
		t.Errorf("Stale commit left the proxy at %+v, %d discarded", st, discarded)
	}
	h.sp.Frame(h.clk.Now())
	if host.presents != 1 {
		t.Errorf("Stale commit was drawn")
	}

	commit(serial, geom.Pt(300, 100))
	h.sp.Frame(h.clk.Now())
	if host.presents != 2 {
		t.Fatalf("Commit for the new size not drawn")
	}
	if got := host.last.Image.Bounds().Size(); got != image.Pt(300, 100) {
		t.Errorf("Proxy buffer %v after resize", got)
	}
}
