// Package servertest drives an inner server from a fake applet.
// It speaks the client side of the wire protocol over a real socket pair
package servertest

import (
	"testing"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/wire"
	"golang.org/x/sys/unix"
)

const displayID = 1

type event struct {
	h wire.Header
	d *wire.Decoder
}

// Applet is the client end of one inner connection
type Applet struct {
	t       testing.TB
	l       *loop.Loop
	conn    *wire.Conn
	next    uint32
	events  chan event
	globals map[string]uint32

	Client *server.Client
}

// Connect registers a new client with s and returns its applet side
func Connect(t testing.TB, s *server.Server, l *loop.Loop) *Applet {
	t.Helper()
	conn, peer, err := wire.Pair("servertest")
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	return Attach(t, l, s.AddClient(conn), peer.Fd(), func() { peer.Close() })
}

// Attach speaks for an applet on the client end fd of a connection already
// registered as c. release runs once the fd was duplicated
func Attach(t testing.TB, l *loop.Loop, c *server.Client, fd uintptr, release func()) *Applet {
	t.Helper()
	dup, err := unix.Dup(int(fd))
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	release()
	cc, err := wire.FromFD(dup, "servertest-applet")
	if err != nil {
		t.Fatalf("FromFD: %v", err)
	}
	a := &Applet{t: t, l: l, conn: cc, next: 2, events: make(chan event, 256), Client: c}
	go func() {
		for {
			h, d, err := cc.ReadMessage()
			if err != nil {
				close(a.events)
				return
			}
			a.events <- event{h, d}
		}
	}()
	t.Cleanup(func() { cc.Close() })
	return a
}

func (a *Applet) NewID() uint32 {
	id := a.next
	a.next++
	return id
}

// Req sends one request and flushes it
func (a *Applet) Req(b *wire.Builder) {
	a.t.Helper()
	if err := a.conn.Send(b); err != nil {
		a.t.Fatalf("Send: %v", err)
	}
	if err := a.conn.Flush(); err != nil {
		a.t.Fatalf("Flush: %v", err)
	}
}

// Expect pumps the loop until an event for obj with opcode op arrives.
// Other events are dropped
func (a *Applet) Expect(obj uint32, op uint16) *wire.Decoder {
	a.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a.l.RunPending()
		select {
		case e, ok := <-a.events:
			if !ok {
				a.t.Fatalf("Connection closed waiting for event %d on %d", op, obj)
			}
			if e.h.Object == obj && e.h.Opcode == op {
				return e.d
			}
		case <-time.After(5 * time.Millisecond):
		}
	}
	a.t.Fatalf("Timed out waiting for event %d on object %d", op, obj)
	return nil
}

// Closed pumps the loop until the server hung up on the applet
func (a *Applet) Closed() {
	a.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a.l.RunPending()
		select {
		case _, ok := <-a.events:
			if !ok {
				return
			}
		case <-time.After(5 * time.Millisecond):
		}
	}
	a.t.Fatalf("Connection still open")
}

// Until pumps the loop until cond holds
func Until(t testing.TB, l *loop.Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.RunPending()
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Condition never became true")
}

func (a *Applet) Until(cond func() bool) {
	a.t.Helper()
	Until(a.t, a.l, cond)
}

// Roundtrip waits until the server processed everything sent so far
func (a *Applet) Roundtrip() {
	a.t.Helper()
	cb := a.NewID()
	a.Req(wire.NewMessage(displayID, 0).Uint(cb))
	a.Expect(cb, 0)
}

// Bind binds the first global advertising iface
func (a *Applet) Bind(iface string, version uint32) uint32 {
	a.t.Helper()
	if a.globals == nil {
		a.globals = map[string]uint32{}
		reg := a.NewID()
		cb := a.NewID()
		a.Req(wire.NewMessage(displayID, 1).Uint(reg))
		a.Req(wire.NewMessage(displayID, 0).Uint(cb))
		deadline := time.Now().Add(2 * time.Second)
	collect:
		for time.Now().Before(deadline) {
			a.l.RunPending()
			select {
			case e := <-a.events:
				if e.h.Object == reg && e.h.Opcode == 0 {
					name := e.d.Uint()
					iface := e.d.String()
					if _, ok := a.globals[iface]; !ok {
						a.globals[iface] = name
					}
				}
				if e.h.Object == cb {
					break collect
				}
			case <-time.After(5 * time.Millisecond):
			}
		}
		a.globals["registry"] = reg
	}
	name, ok := a.globals[iface]
	if !ok {
		a.t.Fatalf("Global %s not advertised", iface)
	}
	id := a.NewID()
	a.Req(wire.NewMessage(a.globals["registry"], 0).Uint(name).String(iface).Uint(version).Uint(id))
	return id
}

// Buffer creates a w×h argb buffer filled with one BGRA pixel value
func (a *Applet) Buffer(shm uint32, w, h int, px [4]byte) uint32 {
	a.t.Helper()
	size := w * h * 4
	fd, err := unix.MemfdCreate("servertest-buffer", unix.MFD_CLOEXEC)
	if err != nil {
		a.t.Fatalf("memfd: %v", err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		a.t.Fatalf("ftruncate: %v", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		a.t.Fatalf("mmap: %v", err)
	}
	for i := 0; i < size; i += 4 {
		copy(data[i:], px[:])
	}
	unix.Munmap(data)

	pool := a.NewID()
	a.Req(wire.NewMessage(shm, 0).Uint(pool).FD(fd).Int(int32(size)))
	buf := a.NewID()
	a.Req(wire.NewMessage(pool, 0).Uint(buf).Int(0).Int(int32(w)).Int(int32(h)).Int(int32(w*4)).Uint(server.FormatArgb8888))
	a.Req(wire.NewMessage(pool, 1))
	return buf
}

// Globals are the objects most applets bind first
type Globals struct {
	Compositor, Shm, WmBase uint32
}

func (a *Applet) BindCore() Globals {
	return Globals{
		Compositor: a.Bind("wl_compositor", 5),
		Shm:        a.Bind("wl_shm", 1),
		WmBase:     a.Bind("xdg_wm_base", 5),
	}
}

type Window struct {
	Surface, Xdg, Toplevel uint32
}

// Window creates a toplevel and does the initial commit
func (a *Applet) Window(g Globals) Window {
	w := Window{a.NewID(), a.NewID(), a.NewID()}
	a.Req(wire.NewMessage(g.Compositor, 0).Uint(w.Surface))
	a.Req(wire.NewMessage(g.WmBase, 2).Uint(w.Xdg).Object(w.Surface))
	a.Req(wire.NewMessage(w.Xdg, 1).Uint(w.Toplevel))
	a.Req(wire.NewMessage(w.Surface, 6))
	return w
}

// Configured waits for a toplevel configure, acks it and returns the size
func (a *Applet) Configured(w Window) geom.Point[int] {
	a.t.Helper()
	d := a.Expect(w.Toplevel, 0)
	size := geom.Pt(int(d.Int()), int(d.Int()))
	serial := a.Expect(w.Xdg, 0).Uint()
	a.Req(wire.NewMessage(w.Xdg, 4).Uint(serial))
	return size
}

// Commit attaches a fresh buffer of size to the window surface and commits it
func (a *Applet) Commit(g Globals, w Window, size geom.Point[int], px [4]byte) {
	a.t.Helper()
	buf := a.Buffer(g.Shm, size.X, size.Y, px)
	a.Req(wire.NewMessage(w.Surface, 1).Object(buf).Int(0).Int(0))
	a.Req(wire.NewMessage(w.Surface, 9).Int(0).Int(0).Int(int32(size.X)).Int(int32(size.Y)))
	a.Req(wire.NewMessage(w.Surface, 6))
}

// Map creates a window, waits for its first configure and commits a buffer
// of the configured size, or natural when the panel lets the applet choose
func (a *Applet) Map(g Globals, natural geom.Point[int]) Window {
	a.t.Helper()
	w := a.Window(g)
	size := a.Configured(w)
	if size.X == 0 || size.Y == 0 {
		size = natural
	}
	a.Commit(g, w, size, [4]byte{0xff, 0xff, 0xff, 0xff})
	return w
}

// DestroyWindow destroys the toplevel, its xdg surface and its surface
func (a *Applet) DestroyWindow(w Window) {
	a.Req(wire.NewMessage(w.Toplevel, 0))
	a.Req(wire.NewMessage(w.Xdg, 0))
	a.Req(wire.NewMessage(w.Surface, 0))
}

// Close hangs up
func (a *Applet) Close() {
	a.conn.Close()
}
