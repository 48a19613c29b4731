package bridge

import (
	"image"
	"os"
	"testing"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/clock"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/host"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/server/servertest"
	"github.com/mstarongithub/way2panel/space"
	"github.com/mstarongithub/way2panel/wire"
	"golang.org/x/sys/unix"
)

type fakeTarget struct{}

func (fakeTarget) Acquire(geom.Point[int]) (*space.Buffer, error) { return nil, nil }
func (fakeTarget) Present(*space.Buffer, []geom.Rect[int]) error  { return nil }
func (fakeTarget) SetScale(float64, geom.Point[int])              {}
func (fakeTarget) SetInputRegion(geom.Rect[int])                  {}
func (fakeTarget) Destroy()                                       {}

type region struct {
	rect   geom.Rect[int]
	applet *space.PanelClient
	surf   *server.Surface
	button bool
}

type fakePanel struct {
	conf    config.PanelConfig
	regions []region
	open    *space.PanelClient

	entered, left int
	dismissed     int
	toggled       []layout.Band
	kbTarget      *server.Surface
}

func (p *fakePanel) Under(_ space.Surface, pos geom.Point[float64]) space.Hit {
	ip := geom.Pt(int(pos.X), int(pos.Y))
	for _, r := range p.regions {
		if !ip.In(r.rect) {
			continue
		}
		if r.button {
			return space.Hit{IsButton: true, Button: layout.BandCenter, Rect: r.rect}
		}
		local := pos.Sub(geom.Pt(float64(r.rect.Min.X), float64(r.rect.Min.Y)))
		return space.Hit{Surface: r.surf, Local: local, Applet: r.applet, Rect: r.rect}
	}
	return space.Hit{}
}

func (p *fakePanel) PointerEntered(string, space.Surface)  { p.entered++ }
func (p *fakePanel) PointerLeft(string, space.Surface)     { p.left++ }
func (p *fakePanel) KeyboardEntered(string, space.Surface) {}
func (p *fakePanel) KeyboardLeft(string, space.Surface)    {}
func (p *fakePanel) KeyboardTarget(space.Surface) *server.Surface {
	return p.kbTarget
}
func (p *fakePanel) ToggleOverflow(b layout.Band) error {
	p.toggled = append(p.toggled, b)
	return nil
}
func (p *fakePanel) PopupApplet() *space.PanelClient { return p.open }
func (p *fakePanel) DismissUngrabbed()               { p.dismissed++ }
func (p *fakePanel) Config() *config.PanelConfig     { return &p.conf }
func (p *fakePanel) Output() space.Output            { return space.Output{Name: "DP-1", Scale: 1} }

type fakePanels struct{ p *fakePanel }

func (f fakePanels) PanelFor(space.Surface) Panel { return f.p }

type fakeHostSeat struct {
	defaults int
	hidden   int
	cursors  []image.Rectangle

	mimes []string
	send  func(mime string, fd int)
}

func (h *fakeHostSeat) SetCursor(img *image.RGBA, src image.Rectangle, _ geom.Point[int], _ int32) {
	if img == nil {
		h.hidden++
		return
	}
	h.cursors = append(h.cursors, src)
}
func (h *fakeHostSeat) DefaultCursor(int32) { h.defaults++ }
func (h *fakeHostSeat) SetSelection(mimes []string, send func(string, int), _ func()) error {
	h.mimes, h.send = mimes, send
	return nil
}
func (h *fakeHostSeat) ClearSelection() { h.mimes, h.send = nil, nil }

type fakeOffer struct {
	mimes    []string
	actions  uint32
	payload  string
	received []string
	accepted string
	serial   uint32
	finished bool
	gone     bool
}

func (o *fakeOffer) MimeTypes() []string { return o.mimes }
func (o *fakeOffer) Actions() uint32     { return o.actions }
func (o *fakeOffer) Receive(mime string, fd int) error {
	o.received = append(o.received, mime)
	unix.Write(fd, []byte(o.payload))
	return unix.Close(fd)
}
func (o *fakeOffer) Accept(serial uint32, mime string) { o.serial, o.accepted = serial, mime }
func (o *fakeOffer) SetActions(uint32, uint32)         {}
func (o *fakeOffer) Finish()                           { o.finished = true }
func (o *fakeOffer) Destroy()                          { o.gone = true }

type handler struct {
	server.NopHandler
	b         *Bridge
	toplevels []*server.Toplevel
}

func (h *handler) ToplevelCreated(t *server.Toplevel) { h.toplevels = append(h.toplevels, t) }
func (h *handler) SelectionSet(seat *server.Seat, src *server.DataSource) {
	h.b.InnerSelection(seat, src)
}

type harness struct {
	t     *testing.T
	clk   *clock.Fake
	l     *loop.Loop
	srv   *server.Server
	h     *handler
	b     *Bridge
	panel *fakePanel
	host  *fakeHostSeat
	seat  *Seat
}

func newHarness(t *testing.T) *harness {
	clk := clock.NewFake(time.Unix(100, 0))
	l := loop.New(clk)
	h := &handler{}
	srv := server.New(l, h, server.Features{})
	t.Cleanup(srv.Close)
	panel := &fakePanel{conf: config.DefaultPanel()}
	b := New(l, srv, fakePanels{panel})
	h.b = b
	hs := &fakeHostSeat{}
	return &harness{
		t:     t,
		clk:   clk,
		l:     l,
		srv:   srv,
		h:     h,
		b:     b,
		panel: panel,
		host:  hs,
		seat:  b.AddSeat("seat0", hs, false),
	}
}

// twoApplets maps two windows of one applet connection side by side and
// returns the pointer bound for them
func (hn *harness) twoApplets() (a *servertest.Applet, ptr uint32, pcA, pcB *space.PanelClient, wB servertest.Window) {
	a = servertest.Connect(hn.t, hn.srv, hn.l)
	g := a.BindCore()
	seat := a.Bind("wl_seat", 5)
	ptr = a.NewID()
	a.Req(wire.NewMessage(seat, 0).Uint(ptr))
	a.Window(g)
	wB = a.Window(g)
	a.Until(func() bool { return len(hn.h.toplevels) == 2 })

	pcA = &space.PanelClient{Name: "a", Hover: space.HoverCenter}
	pcB = &space.PanelClient{Name: "b", Hover: space.HoverStart}
	hn.panel.regions = []region{
		{rect: geom.Rt(0, 0, 32, 32), applet: pcA, surf: hn.h.toplevels[0].Surface()},
		{rect: geom.Rt(32, 0, 64, 32), applet: pcB, surf: hn.h.toplevels[1].Surface()},
	}
	return
}

func TestAutoHoverClicksNeighbour(t *testing.T) {
	hn := newHarness(t)
	hn.panel.conf.AutohoverDelayMs = 300
	a, ptr, pcA, _, wB := hn.twoApplets()
	hn.panel.open = pcA

	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerEnter, Serial: 11, Target: fakeTarget{}, Pos: geom.Pt(40.0, 16.0)})
	d := a.Expect(ptr, 0)
	d.Uint()
	if id := d.Object(); id != wB.Surface {
		t.Fatalf("Pointer entered %d, want %d", id, wB.Surface)
	}
	a.Expect(ptr, 2)
	if hn.seat.hover.Applet != "b" {
		t.Fatalf("No hover armed, token %+v", hn.seat.hover)
	}

	hn.clk.Advance(300 * time.Millisecond)
	hn.l.RunPending()

	d = a.Expect(ptr, 2)
	d.Uint()
	if x := d.Fixed().Float(); x != 1 {
		t.Errorf("Synthesized motion at x=%v, want 1 for a start anchor", x)
	}
	for _, want := range []uint32{server.ButtonPressed, server.ButtonReleased} {
		d = a.Expect(ptr, 3)
		d.Uint()
		d.Uint()
		if button, state := d.Uint(), d.Uint(); button != BtnLeft || state != want {
			t.Errorf("Button %#x state %d, want %#x state %d", button, state, BtnLeft, want)
		}
	}
	if len(hn.seat.serials) != 2 {
		t.Errorf("Clicks remembered %d serials", len(hn.seat.serials))
	}
	if _, serial := hn.b.HostSerial(hn.seat.inner, hn.seat.serials[0].inner); serial != 11 {
		t.Errorf("Synthesized press maps to host serial %d", serial)
	}
}

func TestAutoHoverTokenGoesStale(t *testing.T) {
	hn := newHarness(t)
	hn.panel.conf.AutohoverDelayMs = 300
	_, _, pcA, _, _ := hn.twoApplets()
	hn.panel.open = pcA

	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerEnter, Target: fakeTarget{}, Pos: geom.Pt(40.0, 16.0)})
	tok := hn.seat.hover
	if tok.Applet != "b" {
		t.Fatalf("No hover armed")
	}
	// back over the applet whose popup is open
	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerMotion, Pos: geom.Pt(10.0, 16.0)})
	if hn.seat.hover != (HoverToken{}) {
		t.Errorf("Hover still armed over the open applet: %+v", hn.seat.hover)
	}
	if n := hn.clk.Pending(); n != 0 {
		t.Errorf("%d timers left after the pointer moved on", n)
	}
	hn.seat.hoverFired(tok)
	if len(hn.seat.serials) != 0 {
		t.Errorf("A stale hover token clicked")
	}
}

func TestAutoHoverNeedsAnOpenPopup(t *testing.T) {
	hn := newHarness(t)
	hn.panel.conf.AutohoverDelayMs = 300
	hn.twoApplets()

	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerEnter, Target: fakeTarget{}, Pos: geom.Pt(40.0, 16.0)})
	if hn.seat.hover != (HoverToken{}) {
		t.Errorf("Hover armed without any popup open")
	}
}

func TestButtonSerialMapsToHost(t *testing.T) {
	hn := newHarness(t)
	a, ptr, _, _, _ := hn.twoApplets()

	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerEnter, Serial: 3, Target: fakeTarget{}, Pos: geom.Pt(5.0, 5.0)})
	a.Expect(ptr, 0)
	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerButton, Serial: 42, Button: BtnLeft, State: server.ButtonPressed})
	d := a.Expect(ptr, 3)
	inner := d.Uint()

	seat, serial := hn.b.HostSerial(hn.seat.inner, inner)
	if seat != "seat0" || serial != 42 {
		t.Errorf("Inner serial %d maps to %s/%d, want seat0/42", inner, seat, serial)
	}
	if _, serial := hn.b.HostSerial(hn.seat.inner, inner+1000); serial != 42 {
		t.Errorf("Unknown serial maps to %d, want the newest host serial", serial)
	}
}

func TestOverflowButtonToggles(t *testing.T) {
	hn := newHarness(t)
	hn.panel.regions = []region{{rect: geom.Rt(0, 0, 40, 40), button: true}}

	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerEnter, Target: fakeTarget{}, Pos: geom.Pt(10.0, 10.0)})
	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerButton, Button: BtnLeft, State: server.ButtonPressed})
	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerButton, Button: BtnLeft, State: server.ButtonReleased})
	if len(hn.panel.toggled) != 1 || hn.panel.toggled[0] != layout.BandCenter {
		t.Errorf("Toggled %v", hn.panel.toggled)
	}
}

func TestEmptyPanelShowsDefaultCursorOnce(t *testing.T) {
	hn := newHarness(t)
	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerEnter, Target: fakeTarget{}, Pos: geom.Pt(10.0, 10.0)})
	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerMotion, Pos: geom.Pt(12.0, 10.0)})
	if hn.host.defaults != 1 {
		t.Errorf("Default cursor set %d times", hn.host.defaults)
	}
	hn.b.CursorSet(hn.seat.inner, nil)
	if hn.host.hidden != 1 {
		t.Errorf("Hiding the cursor reached the host %d times", hn.host.hidden)
	}
	hn.seat.Pointer(host.PointerEvent{Kind: host.PointerLeave})
	if hn.panel.entered != 1 || hn.panel.left != 1 {
		t.Errorf("Panel saw %d enters and %d leaves", hn.panel.entered, hn.panel.left)
	}
}

func TestKeyboardLeaveDismissesPopups(t *testing.T) {
	hn := newHarness(t)
	hn.seat.Keyboard(host.KeyboardEvent{Kind: host.KeyboardEnter, Target: fakeTarget{}})
	hn.seat.Keyboard(host.KeyboardEvent{Kind: host.KeyboardLeave})
	if hn.panel.dismissed != 1 {
		t.Errorf("Popups dismissed %d times", hn.panel.dismissed)
	}
}

func TestAppletClipboardReachesHost(t *testing.T) {
	hn := newHarness(t)
	a := servertest.Connect(t, hn.srv, hn.l)
	ddm := a.Bind("wl_data_device_manager", 3)
	seat := a.Bind("wl_seat", 5)

	src := a.NewID()
	a.Req(wire.NewMessage(ddm, 0).Uint(src))
	a.Req(wire.NewMessage(src, 0).String("text/plain;charset=utf-8"))
	a.Req(wire.NewMessage(src, 0).String("UTF8_STRING"))
	dev := a.NewID()
	a.Req(wire.NewMessage(ddm, 1).Uint(dev).Object(seat))
	a.Req(wire.NewMessage(dev, 1).Object(src).Uint(0))
	a.Until(func() bool { return hn.host.send != nil })

	if len(hn.host.mimes) != 2 || hn.host.mimes[0] != "text/plain;charset=utf-8" {
		t.Fatalf("Host selection offers %v", hn.host.mimes)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	wfd, err := unix.Dup(int(w.Fd()))
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	// a host client asks for the text
	hn.host.send("text/plain;charset=utf-8", wfd)

	d := a.Expect(src, 1)
	if mime := d.String(); mime != "text/plain;charset=utf-8" {
		t.Errorf("Applet asked for %q", mime)
	}
	fd := d.FD()
	if fd < 0 {
		t.Fatalf("No fd in send event: %v", d.Err())
	}
	unix.Write(fd, []byte("hi"))
	unix.Close(fd)

	buf := make([]byte, 16)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "hi" {
		t.Errorf("Host read %q, want %q", buf[:n], "hi")
	}
}

func TestHostClipboardReachesApplets(t *testing.T) {
	hn := newHarness(t)
	o := &fakeOffer{mimes: []string{"text/plain"}, payload: "from host"}
	hn.seat.hostSelection(o)

	sel := hn.seat.inner.Selection()
	if sel == nil || len(sel.MimeTypes()) != 1 {
		t.Fatalf("Inner selection is %v", sel)
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	sel.Send("text/plain", p[1])
	buf := make([]byte, 32)
	n, _ := unix.Read(p[0], buf)
	unix.Close(p[0])
	if string(buf[:n]) != "from host" || len(o.received) != 1 {
		t.Errorf("Read %q after %v", buf[:n], o.received)
	}

	hn.seat.hostSelection(nil)
	if hn.seat.inner.Selection() != nil {
		t.Errorf("Host clear left the selection in place")
	}
}

func TestHostDragRoundTrip(t *testing.T) {
	hn := newHarness(t)
	a := servertest.Connect(t, hn.srv, hn.l)
	g := a.BindCore()
	ddm := a.Bind("wl_data_device_manager", 3)
	seat := a.Bind("wl_seat", 5)
	dev := a.NewID()
	a.Req(wire.NewMessage(ddm, 1).Uint(dev).Object(seat))
	w := a.Window(g)
	a.Until(func() bool { return len(hn.h.toplevels) == 1 })
	hn.panel.regions = []region{{rect: geom.Rt(0, 0, 32, 32), surf: hn.h.toplevels[0].Surface()}}

	o := &fakeOffer{mimes: []string{"text/uri-list"}, actions: server.DndActionCopy, payload: "file:///tmp/x"}
	hn.seat.hostDrag(host.DragEnter, fakeTarget{}, 9, 0, geom.Pt(4.0, 4.0), o)

	offer := a.Expect(dev, 0).NewID()
	d := a.Expect(dev, 1)
	d.Uint()
	if id := d.Object(); id != w.Surface {
		t.Fatalf("Drag entered %d, want %d", id, w.Surface)
	}

	a.Req(wire.NewMessage(offer, 0).Uint(0).String("text/uri-list"))
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	a.Req(wire.NewMessage(offer, 1).String("text/uri-list").FD(p[1]))
	unix.Close(p[1])
	a.Roundtrip()

	if o.accepted != "text/uri-list" || o.serial != 9 {
		t.Errorf("Host offer accepted %q with serial %d", o.accepted, o.serial)
	}
	buf := make([]byte, 64)
	n, _ := unix.Read(p[0], buf)
	unix.Close(p[0])
	if string(buf[:n]) != "file:///tmp/x" {
		t.Errorf("Applet read %q from the drag", buf[:n])
	}

	hn.seat.hostDrag(host.DragDrop, nil, 0, 0, geom.Point[float64]{}, nil)
	a.Expect(dev, 4)
	a.Req(wire.NewMessage(offer, 3))
	a.Roundtrip()
	if !o.finished || !o.gone {
		t.Errorf("Host offer finished=%v destroyed=%v", o.finished, o.gone)
	}
	if hn.seat.inner.DndActive() {
		t.Errorf("Inner drag still active after the drop")
	}
}

func TestHostDragLeaveEndsGrab(t *testing.T) {
	hn := newHarness(t)
	o := &fakeOffer{mimes: []string{"text/plain"}}
	hn.seat.hostDrag(host.DragEnter, fakeTarget{}, 1, 0, geom.Pt(1.0, 1.0), o)
	if !hn.seat.inner.DndActive() {
		t.Fatalf("Host drag did not start an inner grab")
	}
	hn.seat.hostDrag(host.DragLeave, nil, 0, 0, geom.Point[float64]{}, nil)
	if hn.seat.inner.DndActive() || hn.seat.dnd != nil {
		t.Errorf("Grab survived the host leave")
	}
}
