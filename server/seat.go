package server

import (
	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	capPointer  = 1
	capKeyboard = 2
	capTouch    = 4
)

const (
	AxisVertical   = 0
	AxisHorizontal = 1
)

const (
	ButtonReleased = 0
	ButtonPressed  = 1
)

// Seat mirrors one host seat. Pointer and keyboard are always advertised
type Seat struct {
	server   *Server
	name     string
	global   *global
	hasTouch bool

	resources map[*Client][]*seatResource

	pointerFocus  *Surface
	keyboardFocus *Surface
	touchFocus    map[int32]*Surface
	touchFrame    map[*Client]bool

	keymapFormat uint32
	keymapFD     int
	keymapSize   uint32
	repeatRate   int32
	repeatDelay  int32
	mods         [4]uint32

	selection Selection
	dnd       *dndGrab

	// Data belongs to the bridge
	Data any
}

// AddSeat advertises a new wl_seat
func (s *Server) AddSeat(name string, touch bool) *Seat {
	seat := &Seat{
		server:      s,
		name:        name,
		hasTouch:    touch,
		resources:   map[*Client][]*seatResource{},
		touchFocus:  map[int32]*Surface{},
		touchFrame:  map[*Client]bool{},
		keymapFD:    -1,
		repeatRate:  25,
		repeatDelay: 600,
	}
	seat.global = s.addGlobal("wl_seat", 8, func(c *Client, id, version uint32) error {
		return seat.bind(c, id, version)
	})
	s.seats = append(s.seats, seat)
	return seat
}

// RemoveSeat withdraws the global. Bound resources stay inert
func (s *Server) RemoveSeat(seat *Seat) {
	s.removeGlobal(seat.global)
	live := s.seats[:0]
	for _, o := range s.seats {
		if o != seat {
			live = append(live, o)
		}
	}
	s.seats = live
	if seat.keymapFD >= 0 {
		unix.Close(seat.keymapFD)
		seat.keymapFD = -1
	}
}

func (s *Server) Seats() []*Seat { return s.seats }

func (s *Seat) Name() string               { return s.name }
func (s *Seat) PointerFocus() *Surface     { return s.pointerFocus }
func (s *Seat) KeyboardFocus() *Surface    { return s.keyboardFocus }
func (s *Seat) Selection() Selection       { return s.selection }

func (s *Seat) caps() uint32 {
	c := uint32(capPointer | capKeyboard)
	if s.hasTouch {
		c |= capTouch
	}
	return c
}

// SetTouch updates the advertised capabilities
func (s *Seat) SetTouch(touch bool) {
	if s.hasTouch == touch {
		return
	}
	s.hasTouch = touch
	for _, rs := range s.resources {
		for _, r := range rs {
			r.send(r.event(0).Uint(s.caps()))
		}
	}
}

func (s *Seat) bind(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "wl_seat", version)
	if err != nil {
		return err
	}
	r := &seatResource{Resource: res, seat: s}
	c.add(r)
	s.resources[c] = append(s.resources[c], r)
	r.send(r.event(0).Uint(s.caps()))
	if version >= 2 {
		r.send(r.event(1).String(s.name))
	}
	return nil
}

type seatResource struct {
	Resource
	seat *Seat

	pointers  []*pointerResource
	keyboards []*keyboardResource
	touches   []*touchResource
	devices   []*dataDevice
}

func (r *seatResource) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // get_pointer
		id := d.NewID()
		if d.Err() != nil {
			return d.Err()
		}
		res, err := r.child(id, "wl_pointer")
		if err != nil {
			return err
		}
		p := &pointerResource{Resource: res, seat: r}
		r.pointers = append(r.pointers, p)
		r.client.add(p)
	case 1: // get_keyboard
		id := d.NewID()
		if d.Err() != nil {
			return d.Err()
		}
		res, err := r.child(id, "wl_keyboard")
		if err != nil {
			return err
		}
		k := &keyboardResource{Resource: res, seat: r}
		r.keyboards = append(r.keyboards, k)
		r.client.add(k)
		k.sendKeymap()
		if k.version >= 4 {
			k.send(k.event(5).Int(r.seat.repeatRate).Int(r.seat.repeatDelay))
		}
	case 2: // get_touch
		id := d.NewID()
		if d.Err() != nil {
			return d.Err()
		}
		res, err := r.child(id, "wl_touch")
		if err != nil {
			return err
		}
		t := &touchResource{Resource: res, seat: r}
		r.touches = append(r.touches, t)
		r.client.add(t)
	case 3:
		r.client.destroy(r.id)
	default:
		return protoErr(&r.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (r *seatResource) destroyed() {
	rs := r.seat.resources[r.client]
	live := rs[:0]
	for _, o := range rs {
		if o != r {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		delete(r.seat.resources, r.client)
	} else {
		r.seat.resources[r.client] = live
	}
}

// forClient visits every seat resource a client bound for this seat
func (s *Seat) forClient(c *Client, f func(r *seatResource)) {
	if c == nil {
		return
	}
	for _, r := range s.resources[c] {
		f(r)
	}
}

func (s *Seat) surfaceGone(surf *Surface) {
	if s.pointerFocus == surf {
		s.pointerFocus = nil
	}
	if s.keyboardFocus == surf {
		s.keyboardFocus = nil
	}
	for id, f := range s.touchFocus {
		if f == surf {
			delete(s.touchFocus, id)
		}
	}
	if s.dnd != nil && s.dnd.focus == surf {
		s.dnd.focus = nil
		s.dnd.offer = nil
	}
}

type pointerResource struct {
	Resource
	seat *seatResource
}

func (p *pointerResource) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // set_cursor
		serial := d.Uint()
		surfID := d.Object()
		hx, hy := d.Int(), d.Int()
		if d.Err() != nil {
			return d.Err()
		}
		seat := p.seat.seat
		if seat.pointerFocus == nil || seat.pointerFocus.client != p.client {
			logrus.WithField("serial", serial).Debugln("Ignoring set_cursor from client without pointer focus")
			return nil
		}
		if surfID == 0 {
			seat.server.handler.CursorSet(seat, nil, 0, 0)
			return nil
		}
		surf, err := mustLookup[*Surface](&p.Resource, surfID)
		if err != nil {
			return err
		}
		if err := surf.setRole(RoleCursor, &p.Resource, 0); err != nil {
			return err
		}
		surf.hotspot = geom.Pt(hx, hy)
		seat.server.handler.CursorSet(seat, surf, hx, hy)
	case 1:
		p.client.destroy(p.id)
	default:
		return protoErr(&p.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (p *pointerResource) destroyed() {
	p.seat.pointers = remove(p.seat.pointers, p)
}

type keyboardResource struct {
	Resource
	seat *seatResource
}

func (k *keyboardResource) request(op uint16, d *wire.Decoder) error {
	if op != 0 {
		return protoErr(&k.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	k.client.destroy(k.id)
	return nil
}

func (k *keyboardResource) destroyed() {
	k.seat.keyboards = remove(k.seat.keyboards, k)
}

func (k *keyboardResource) sendKeymap() {
	seat := k.seat.seat
	if seat.keymapFD < 0 {
		// no_keymap
		fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return
		}
		k.send(k.event(0).Uint(0).OwnedFD(fd).Uint(0))
		return
	}
	fd, err := unix.FcntlInt(uintptr(seat.keymapFD), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		logrus.WithError(err).Warnln("Failed to duplicate keymap fd")
		return
	}
	k.send(k.event(0).Uint(seat.keymapFormat).OwnedFD(fd).Uint(seat.keymapSize))
}

type touchResource struct {
	Resource
	seat *seatResource
}

func (t *touchResource) request(op uint16, d *wire.Decoder) error {
	if op != 0 {
		return protoErr(&t.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	t.client.destroy(t.id)
	return nil
}

func (t *touchResource) destroyed() {
	t.seat.touches = remove(t.seat.touches, t)
}

func remove[T comparable](s []T, v T) []T {
	out := s[:0]
	for _, o := range s {
		if o != v {
			out = append(out, o)
		}
	}
	return out
}

func fixed(v float64) wire.Fixed { return wire.FixedFrom(v) }

// PointerEnter moves pointer focus to surf at surface local pos
func (s *Seat) PointerEnter(surf *Surface, pos geom.Point[float64]) {
	if s.pointerFocus == surf {
		return
	}
	s.PointerLeave()
	if surf == nil || !surf.Alive() {
		return
	}
	s.pointerFocus = surf
	serial := s.server.NextSerial()
	s.forClient(surf.client, func(r *seatResource) {
		for _, p := range r.pointers {
			p.send(p.event(0).Uint(serial).Object(surf.id).Fixed(fixed(pos.X)).Fixed(fixed(pos.Y)))
		}
	})
}

func (s *Seat) PointerLeave() {
	surf := s.pointerFocus
	if surf == nil {
		return
	}
	s.pointerFocus = nil
	if !surf.Alive() {
		return
	}
	serial := s.server.NextSerial()
	s.forClient(surf.client, func(r *seatResource) {
		for _, p := range r.pointers {
			p.send(p.event(1).Uint(serial).Object(surf.id))
			if p.version >= 5 {
				p.send(p.event(5))
			}
		}
	})
}

func (s *Seat) PointerMotion(time uint32, pos geom.Point[float64]) {
	if s.dnd != nil {
		s.dndMotion(time, pos)
		return
	}
	s.eachPointer(func(p *pointerResource) {
		p.send(p.event(2).Uint(time).Fixed(fixed(pos.X)).Fixed(fixed(pos.Y)))
	})
}

// PointerButton forwards a button with a fresh serial, which it returns
func (s *Seat) PointerButton(time, button, state uint32) uint32 {
	serial := s.server.NextSerial()
	s.eachPointer(func(p *pointerResource) {
		p.send(p.event(3).Uint(serial).Uint(time).Uint(button).Uint(state))
	})
	return serial
}

// AxisValue is one axis of a scroll frame
type AxisValue struct {
	Set   bool
	Value float64
	// V120 is the high resolution wheel delta, 0 for continuous sources
	V120 int32
	Stop bool
}

type AxisFrame struct {
	Time      uint32
	Source    uint32
	HasSource bool
	Axes      [2]AxisValue
}

// PointerAxis sends a scroll frame. Clients that predate value120 get discrete steps
func (s *Seat) PointerAxis(f AxisFrame) {
	s.eachPointer(func(p *pointerResource) {
		if f.HasSource && p.version >= 5 {
			p.send(p.event(6).Uint(f.Source))
		}
		for axis, a := range f.Axes {
			if !a.Set {
				continue
			}
			if a.Stop {
				if p.version >= 5 {
					p.send(p.event(7).Uint(f.Time).Uint(uint32(axis)))
				}
				continue
			}
			if a.V120 != 0 {
				switch {
				case p.version >= 8:
					p.send(p.event(9).Uint(uint32(axis)).Int(a.V120))
				case p.version >= 5 && a.V120%120 == 0:
					p.send(p.event(8).Uint(uint32(axis)).Int(a.V120 / 120))
				}
			}
			p.send(p.event(4).Uint(f.Time).Uint(uint32(axis)).Fixed(fixed(a.Value)))
		}
	})
}

func (s *Seat) PointerFrame() {
	s.eachPointer(func(p *pointerResource) {
		if p.version >= 5 {
			p.send(p.event(5))
		}
	})
}

func (s *Seat) eachPointer(f func(p *pointerResource)) {
	if s.pointerFocus == nil || !s.pointerFocus.Alive() {
		return
	}
	s.forClient(s.pointerFocus.client, func(r *seatResource) {
		for _, p := range r.pointers {
			f(p)
		}
	})
}

// KeyboardEnter moves keyboard focus. The new client also gets the current selection
func (s *Seat) KeyboardEnter(surf *Surface, keys []uint32) {
	if s.keyboardFocus == surf {
		return
	}
	var old *Client
	if s.keyboardFocus != nil {
		old = s.keyboardFocus.client
	}
	s.KeyboardLeave()
	if surf == nil || !surf.Alive() {
		return
	}
	s.keyboardFocus = surf
	serial := s.server.NextSerial()
	arr := make([]byte, 0, len(keys)*4)
	for _, k := range keys {
		arr = append(arr, byte(k), byte(k>>8), byte(k>>16), byte(k>>24))
	}
	s.forClient(surf.client, func(r *seatResource) {
		for _, k := range r.keyboards {
			k.send(k.event(1).Uint(serial).Object(surf.id).Array(arr))
			k.send(k.event(4).Uint(serial).Uint(s.mods[0]).Uint(s.mods[1]).Uint(s.mods[2]).Uint(s.mods[3]))
		}
	})
	if old != surf.client {
		s.offerSelection(surf.client)
	}
}

func (s *Seat) KeyboardLeave() {
	surf := s.keyboardFocus
	if surf == nil {
		return
	}
	s.keyboardFocus = nil
	if !surf.Alive() {
		return
	}
	serial := s.server.NextSerial()
	s.forClient(surf.client, func(r *seatResource) {
		for _, k := range r.keyboards {
			k.send(k.event(2).Uint(serial).Object(surf.id))
		}
	})
}

// Key forwards a key with a fresh serial, which it returns
func (s *Seat) Key(time, key, state uint32) uint32 {
	serial := s.server.NextSerial()
	s.eachKeyboard(func(k *keyboardResource) {
		k.send(k.event(3).Uint(serial).Uint(time).Uint(key).Uint(state))
	})
	return serial
}

func (s *Seat) Modifiers(depressed, latched, locked, group uint32) {
	s.mods = [4]uint32{depressed, latched, locked, group}
	serial := s.server.NextSerial()
	s.eachKeyboard(func(k *keyboardResource) {
		k.send(k.event(4).Uint(serial).Uint(depressed).Uint(latched).Uint(locked).Uint(group))
	})
}

// SetKeymap takes ownership of fd and sends it to every bound keyboard
func (s *Seat) SetKeymap(format uint32, fd int, size uint32) {
	if s.keymapFD >= 0 {
		unix.Close(s.keymapFD)
	}
	s.keymapFormat, s.keymapFD, s.keymapSize = format, fd, size
	for _, rs := range s.resources {
		for _, r := range rs {
			for _, k := range r.keyboards {
				k.sendKeymap()
			}
		}
	}
}

func (s *Seat) SetRepeatInfo(rate, delay int32) {
	s.repeatRate, s.repeatDelay = rate, delay
	for _, rs := range s.resources {
		for _, r := range rs {
			for _, k := range r.keyboards {
				if k.version >= 4 {
					k.send(k.event(5).Int(rate).Int(delay))
				}
			}
		}
	}
}

func (s *Seat) eachKeyboard(f func(k *keyboardResource)) {
	if s.keyboardFocus == nil || !s.keyboardFocus.Alive() {
		return
	}
	s.forClient(s.keyboardFocus.client, func(r *seatResource) {
		for _, k := range r.keyboards {
			f(k)
		}
	})
}

// TouchDown starts touch point id on surf and returns its serial
func (s *Seat) TouchDown(surf *Surface, time uint32, id int32, pos geom.Point[float64]) uint32 {
	if surf == nil || !surf.Alive() {
		return 0
	}
	s.touchFocus[id] = surf
	s.touchFrame[surf.client] = true
	serial := s.server.NextSerial()
	s.forClient(surf.client, func(r *seatResource) {
		for _, t := range r.touches {
			t.send(t.event(0).Uint(serial).Uint(time).Object(surf.id).Int(id).Fixed(fixed(pos.X)).Fixed(fixed(pos.Y)))
		}
	})
	return serial
}

func (s *Seat) TouchUp(time uint32, id int32) {
	surf, ok := s.touchFocus[id]
	if !ok {
		return
	}
	delete(s.touchFocus, id)
	s.touchFrame[surf.client] = true
	serial := s.server.NextSerial()
	s.forClient(surf.client, func(r *seatResource) {
		for _, t := range r.touches {
			t.send(t.event(1).Uint(serial).Uint(time).Int(id))
		}
	})
}

func (s *Seat) TouchMotion(time uint32, id int32, pos geom.Point[float64]) {
	surf, ok := s.touchFocus[id]
	if !ok {
		return
	}
	s.touchFrame[surf.client] = true
	s.forClient(surf.client, func(r *seatResource) {
		for _, t := range r.touches {
			t.send(t.event(2).Uint(time).Int(id).Fixed(fixed(pos.X)).Fixed(fixed(pos.Y)))
		}
	})
}

// TouchPoint returns the surface a touch point went down on
func (s *Seat) TouchPoint(id int32) *Surface {
	return s.touchFocus[id]
}

func (s *Seat) TouchFrame() {
	for c := range s.touchFrame {
		s.forClient(c, func(r *seatResource) {
			for _, t := range r.touches {
				t.send(t.event(3))
			}
		})
	}
	s.touchFrame = map[*Client]bool{}
}

func (s *Seat) TouchCancel() {
	for _, surf := range s.touchFocus {
		s.touchFrame[surf.client] = true
	}
	for c := range s.touchFrame {
		s.forClient(c, func(r *seatResource) {
			for _, t := range r.touches {
				t.send(t.event(4))
			}
		})
	}
	s.touchFocus = map[int32]*Surface{}
	s.touchFrame = map[*Client]bool{}
}
