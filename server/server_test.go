package server

import (
	"os"
	"testing"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/clock"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/wire"
	"golang.org/x/sys/unix"
)

type recorder struct {
	NopHandler
	toplevels    []*Toplevel
	destroyed    []*Toplevel
	commits      []*Surface
	selections   []*DataSource
	disconnected []*Client
	cursors      []*Surface
	layers       []*LayerSurface
}

func (r *recorder) LayerSurfaceCreated(l *LayerSurface) { r.layers = append(r.layers, l) }

func (r *recorder) ToplevelCreated(t *Toplevel)     { r.toplevels = append(r.toplevels, t) }
func (r *recorder) ToplevelDestroyed(t *Toplevel)   { r.destroyed = append(r.destroyed, t) }
func (r *recorder) SurfaceCommitted(s *Surface)     { r.commits = append(r.commits, s) }
func (r *recorder) ClientDisconnected(c *Client)    { r.disconnected = append(r.disconnected, c) }
func (r *recorder) SelectionSet(_ *Seat, src *DataSource) {
	r.selections = append(r.selections, src)
}
func (r *recorder) CursorSet(_ *Seat, s *Surface, _, _ int32) { r.cursors = append(r.cursors, s) }

type event struct {
	h wire.Header
	d *wire.Decoder
}

type testClient struct {
	t       *testing.T
	l       *loop.Loop
	conn    *wire.Conn
	next    uint32
	events  chan event
	globals map[string]uint32
}

func newTestServer(t *testing.T) (*Server, *loop.Loop, *recorder) {
	l := loop.New(clock.NewFake(time.Unix(0, 0)))
	rec := &recorder{}
	return New(l, rec, Features{}), l, rec
}

func connect(t *testing.T, s *Server, l *loop.Loop) (*testClient, *Client) {
	t.Helper()
	conn, peer, err := wire.Pair("test")
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	c := s.AddClient(conn)
	cc, err := wire.FromFile(peer)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	peer.Close()
	tc := &testClient{t: t, l: l, conn: cc, next: 2, events: make(chan event, 256)}
	go func() {
		for {
			h, d, err := cc.ReadMessage()
			if err != nil {
				close(tc.events)
				return
			}
			tc.events <- event{h, d}
		}
	}()
	t.Cleanup(func() { cc.Close() })
	return tc, c
}

func (tc *testClient) newID() uint32 {
	id := tc.next
	tc.next++
	return id
}

func (tc *testClient) req(b *wire.Builder) {
	tc.t.Helper()
	if err := tc.conn.Send(b); err != nil {
		tc.t.Fatalf("Send: %v", err)
	}
	if err := tc.conn.Flush(); err != nil {
		tc.t.Fatalf("Flush: %v", err)
	}
}

// expect pumps the loop until an event for obj with opcode op arrives.
// Other events are skipped
func (tc *testClient) expect(obj uint32, op uint16) *wire.Decoder {
	tc.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tc.l.RunPending()
		select {
		case e, ok := <-tc.events:
			if !ok {
				tc.t.Fatalf("Connection closed waiting for event %d on %d", op, obj)
			}
			if e.h.Object == obj && e.h.Opcode == op {
				return e.d
			}
		case <-time.After(5 * time.Millisecond):
		}
	}
	tc.t.Fatalf("Timed out waiting for event %d on object %d", op, obj)
	return nil
}

// until pumps the loop until cond holds
func (tc *testClient) until(cond func() bool) {
	tc.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tc.l.RunPending()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	tc.t.Fatalf("Condition never became true")
}

// roundtrip waits until the server processed everything sent so far
func (tc *testClient) roundtrip() {
	tc.t.Helper()
	cb := tc.newID()
	tc.req(wire.NewMessage(displayID, 0).Uint(cb))
	tc.expect(cb, 0)
}

func (tc *testClient) bind(iface string, version uint32) uint32 {
	tc.t.Helper()
	if tc.globals == nil {
		tc.globals = map[string]uint32{}
		reg := tc.newID()
		cb := tc.newID()
		tc.req(wire.NewMessage(displayID, 1).Uint(reg))
		tc.req(wire.NewMessage(displayID, 0).Uint(cb))
		deadline := time.Now().Add(2 * time.Second)
	collect:
		for time.Now().Before(deadline) {
			tc.l.RunPending()
			select {
			case e := <-tc.events:
				if e.h.Object == reg && e.h.Opcode == 0 {
					name := e.d.Uint()
					tc.globals[e.d.String()] = name
				}
				if e.h.Object == cb {
					break collect
				}
			case <-time.After(5 * time.Millisecond):
			}
		}
		tc.globals["registry"] = reg
	}
	name, ok := tc.globals[iface]
	if !ok {
		tc.t.Fatalf("Global %s not advertised", iface)
	}
	id := tc.newID()
	tc.req(wire.NewMessage(tc.globals["registry"], 0).Uint(name).String(iface).Uint(version).Uint(id))
	return id
}

// buffer creates a w×h argb buffer filled with one BGRA pixel value
func (tc *testClient) buffer(shm uint32, w, h int, px [4]byte) uint32 {
	tc.t.Helper()
	size := w * h * 4
	fd, err := unix.MemfdCreate("test-buffer", unix.MFD_CLOEXEC)
	if err != nil {
		tc.t.Fatalf("memfd: %v", err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		tc.t.Fatalf("ftruncate: %v", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		tc.t.Fatalf("mmap: %v", err)
	}
	for i := 0; i < size; i += 4 {
		copy(data[i:], px[:])
	}
	unix.Munmap(data)

	pool := tc.newID()
	tc.req(wire.NewMessage(shm, 0).Uint(pool).FD(fd).Int(int32(size)))
	buf := tc.newID()
	tc.req(wire.NewMessage(pool, 0).Uint(buf).Int(0).Int(int32(w)).Int(int32(h)).Int(int32(w*4)).Uint(FormatArgb8888))
	tc.req(wire.NewMessage(pool, 1))
	return buf
}

type toplevelIDs struct {
	surface, xdg, toplevel uint32
}

func (tc *testClient) toplevel(comp, wm uint32) toplevelIDs {
	ids := toplevelIDs{tc.newID(), tc.newID(), tc.newID()}
	tc.req(wire.NewMessage(comp, 0).Uint(ids.surface))
	tc.req(wire.NewMessage(wm, 2).Uint(ids.xdg).Object(ids.surface))
	tc.req(wire.NewMessage(ids.xdg, 1).Uint(ids.toplevel))
	tc.req(wire.NewMessage(ids.surface, 6))
	return ids
}

func TestToplevelConfigureAndMap(t *testing.T) {
	s, l, rec := newTestServer(t)
	tc, _ := connect(t, s, l)
	comp := tc.bind("wl_compositor", 5)
	shm := tc.bind("wl_shm", 1)
	wm := tc.bind("xdg_wm_base", 5)
	ids := tc.toplevel(comp, wm)
	tc.until(func() bool { return len(rec.toplevels) == 1 })

	top := rec.toplevels[0]
	top.Configure(geom.Pt(40, 40), geom.Point[int]{})
	d := tc.expect(ids.toplevel, 0)
	if w, h := d.Int(), d.Int(); w != 40 || h != 40 {
		t.Errorf("Toplevel configured to %dx%d, want 40x40", w, h)
	}
	serial := tc.expect(ids.xdg, 0).Uint()
	tc.req(wire.NewMessage(ids.xdg, 4).Uint(serial))

	buf := tc.buffer(shm, 40, 40, [4]byte{0x00, 0x00, 0xff, 0xff})
	tc.req(wire.NewMessage(ids.surface, 1).Object(buf).Int(0).Int(0))
	tc.req(wire.NewMessage(ids.surface, 9).Int(0).Int(0).Int(40).Int(40))
	tc.req(wire.NewMessage(ids.surface, 6))
	tc.until(func() bool { return top.Surface().Mapped() })

	surf := top.Surface()
	if size := surf.Size(); size != geom.Pt(40, 40) {
		t.Errorf("Surface size %v, want 40x40", size)
	}
	if got := surf.Image().RGBAAt(3, 3); got.R != 0xff || got.G != 0 || got.B != 0 || got.A != 0xff {
		t.Errorf("Pixel converted to %v, want opaque red", got)
	}
	if len(surf.TakeDamage()) == 0 {
		t.Errorf("First buffer produced no damage")
	}
	// the buffer is released right away because its contents were copied
	tc.expect(buf, 0)
}

func TestUnconfiguredBufferKillsClient(t *testing.T) {
	s, l, rec := newTestServer(t)
	tc, c := connect(t, s, l)
	comp := tc.bind("wl_compositor", 5)
	shm := tc.bind("wl_shm", 1)
	wm := tc.bind("xdg_wm_base", 5)
	ids := tc.toplevel(comp, wm)
	buf := tc.buffer(shm, 4, 4, [4]byte{})
	tc.req(wire.NewMessage(ids.surface, 1).Object(buf).Int(0).Int(0))
	tc.req(wire.NewMessage(ids.surface, 6))

	d := tc.expect(displayID, 0)
	if obj, code := d.Object(), d.Uint(); obj != ids.xdg || code != xdgUnconfiguredBuffer {
		t.Errorf("Error on object %d code %d, want %d code %d", obj, code, ids.xdg, xdgUnconfiguredBuffer)
	}
	tc.until(func() bool { return len(rec.disconnected) == 1 })
	if c.Alive() {
		t.Errorf("Client survived a protocol error")
	}
	if len(rec.destroyed) != 1 {
		t.Errorf("Toplevel destroyed %d times on disconnect, want 1", len(rec.destroyed))
	}
}

func TestRoleReassignmentIsProtocolError(t *testing.T) {
	s, l, rec := newTestServer(t)
	tc, _ := connect(t, s, l)
	comp := tc.bind("wl_compositor", 5)
	sub := tc.bind("wl_subcompositor", 1)
	wm := tc.bind("xdg_wm_base", 5)
	ids := tc.toplevel(comp, wm)
	parent := tc.newID()
	tc.req(wire.NewMessage(comp, 0).Uint(parent))
	tc.req(wire.NewMessage(sub, 1).Uint(tc.newID()).Object(ids.surface).Object(parent))

	tc.expect(displayID, 0)
	tc.until(func() bool { return len(rec.disconnected) == 1 })
}

func TestDestroyBeforeFirstBuffer(t *testing.T) {
	s, l, rec := newTestServer(t)
	tc, _ := connect(t, s, l)
	comp := tc.bind("wl_compositor", 5)
	wm := tc.bind("xdg_wm_base", 5)
	ids := tc.toplevel(comp, wm)
	tc.until(func() bool { return len(rec.toplevels) == 1 })
	rec.toplevels[0].Configure(geom.Pt(10, 10), geom.Point[int]{})

	// the window goes away between its configure and its first buffer
	tc.req(wire.NewMessage(ids.toplevel, 0))
	tc.roundtrip()
	if len(rec.destroyed) != 1 || rec.destroyed[0] != rec.toplevels[0] {
		t.Fatalf("Toplevel destroy not reported: %v", rec.destroyed)
	}
	if rec.toplevels[0].Alive() {
		t.Errorf("Destroyed toplevel still alive")
	}
}

func TestSelectionSendForwardsFD(t *testing.T) {
	s, l, rec := newTestServer(t)
	seat := s.AddSeat("seat0", false)
	tc, _ := connect(t, s, l)
	ddm := tc.bind("wl_data_device_manager", 3)
	seatID := tc.bind("wl_seat", 8)

	src := tc.newID()
	tc.req(wire.NewMessage(ddm, 0).Uint(src))
	tc.req(wire.NewMessage(src, 0).String("text/plain;charset=utf-8"))
	tc.req(wire.NewMessage(src, 0).String("UTF8_STRING"))
	dev := tc.newID()
	tc.req(wire.NewMessage(ddm, 1).Uint(dev).Object(seatID))
	tc.req(wire.NewMessage(dev, 1).Object(src).Uint(0))
	tc.until(func() bool { return len(rec.selections) == 1 })

	ds := rec.selections[0]
	if got := ds.MimeTypes(); len(got) != 2 || got[0] != "text/plain;charset=utf-8" || got[1] != "UTF8_STRING" {
		t.Fatalf("Selection mimes %v", got)
	}
	if seat.Selection() != Selection(ds) {
		t.Errorf("Seat selection not updated")
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
	ds.Send("text/plain;charset=utf-8", wfd)

	d := tc.expect(src, 1)
	if mime := d.String(); mime != "text/plain;charset=utf-8" {
		t.Errorf("Send asked for %q", mime)
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
		t.Errorf("Read %q through the selection, want %q", buf[:n], "hi")
	}
}

func TestPointerAxisValue120(t *testing.T) {
	s, l, _ := newTestServer(t)
	seat := s.AddSeat("seat0", false)
	tc, c := connect(t, s, l)
	comp := tc.bind("wl_compositor", 5)
	seatID := tc.bind("wl_seat", 8)
	ptr := tc.newID()
	tc.req(wire.NewMessage(seatID, 0).Uint(ptr))
	surfID := tc.newID()
	tc.req(wire.NewMessage(comp, 0).Uint(surfID))
	tc.roundtrip()

	surf, ok := lookup[*Surface](c, surfID)
	if !ok {
		t.Fatalf("Surface not in client table")
	}
	seat.PointerEnter(surf, geom.Pt(1.5, 2.0))
	d := tc.expect(ptr, 0)
	d.Uint()
	if id := d.Object(); id != surfID {
		t.Errorf("Enter on %d, want %d", id, surfID)
	}
	if x := d.Fixed().Float(); x != 1.5 {
		t.Errorf("Enter x %v, want 1.5", x)
	}

	var f AxisFrame
	f.Axes[AxisVertical] = AxisValue{Set: true, Value: 15, V120: 120}
	seat.PointerAxis(f)
	seat.PointerFrame()
	if v := tc.expect(ptr, 9); v.Uint() != AxisVertical || v.Int() != 120 {
		t.Errorf("value120 event wrong")
	}
	if v := tc.expect(ptr, 4); v.Uint() != 0 || v.Uint() != AxisVertical || v.Fixed().Float() != 15 {
		t.Errorf("axis event wrong")
	}
	tc.expect(ptr, 5)
}

func TestLayerSurfaceAnchors(t *testing.T) {
	s, l, rec := newTestServer(t)
	tc, _ := connect(t, s, l)
	comp := tc.bind("wl_compositor", 5)
	shell := tc.bind("zwlr_layer_shell_v1", 4)

	surf := tc.newID()
	tc.req(wire.NewMessage(comp, 0).Uint(surf))
	ls := tc.newID()
	tc.req(wire.NewMessage(shell, 0).Uint(ls).Object(surf).Object(0).Uint(2).String("applet"))
	tc.req(wire.NewMessage(ls, 0).Uint(0).Uint(30))
	tc.req(wire.NewMessage(ls, 1).Uint(AnchorTop | AnchorLeft | AnchorRight))
	tc.req(wire.NewMessage(ls, 2).Int(30))
	tc.req(wire.NewMessage(surf, 6))
	tc.until(func() bool { return len(rec.layers) == 1 })

	st := rec.layers[0].State()
	if st.Size != geom.Pt(0, 30) || st.ExclusiveZone != 30 || st.Layer != 2 {
		t.Errorf("Layer state %+v", st)
	}
	if ns := rec.layers[0].Namespace(); ns != "applet" {
		t.Errorf("Namespace %q", ns)
	}

	// dropping the right anchor makes the zero width invalid
	tc.req(wire.NewMessage(ls, 1).Uint(AnchorTop | AnchorLeft))
	tc.req(wire.NewMessage(surf, 6))
	d := tc.expect(displayID, 0)
	if obj, code := d.Object(), d.Uint(); obj != ls || code != 1 {
		t.Errorf("Error on %d code %d, want %d code 1", obj, code, ls)
	}
}

func TestClientResetWithUnreadEvents(t *testing.T) {
	s, l, rec := newTestServer(t)
	conn, peer, err := wire.Pair("test")
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	c := s.AddClient(conn)

	// get_registry makes the server queue one global per interface
	data, _ := wire.NewMessage(displayID, 1).Uint(2).Finish()
	if _, err := peer.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	fds := []unix.PollFd{{Fd: int32(peer.Fd()), Events: unix.POLLIN}}
	deadline := time.Now().Add(2 * time.Second)
	for {
		l.RunPending()
		if n, _ := unix.Poll(fds, 1); n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server never answered get_registry")
		}
	}
	peer.Close()

	deadline = time.Now().Add(2 * time.Second)
	for len(rec.disconnected) == 0 && time.Now().Before(deadline) {
		l.RunPending()
		time.Sleep(time.Millisecond)
	}
	if len(rec.disconnected) != 1 || rec.disconnected[0] != c {
		t.Fatalf("Disconnected clients %v", rec.disconnected)
	}
	if c.Alive() {
		t.Errorf("Reset client still alive")
	}

	// the server keeps serving everybody else
	tc, _ := connect(t, s, l)
	tc.roundtrip()
}
