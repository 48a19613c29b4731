package host

import (
	"encoding/binary"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type PointerKind int

const (
	PointerEnter = PointerKind(iota)
	PointerLeave
	PointerMotion
	PointerButton
	// PointerAxis carries a whole scroll frame and comes right before its PointerFrame
	PointerAxis
	PointerFrame
)

type PointerEvent struct {
	Kind   PointerKind
	Target space.Surface
	Serial uint32
	Time   uint32
	// Pos is surface local and logical
	Pos    geom.Point[float64]
	Button uint32
	State  uint32
	Axis   server.AxisFrame
}

type KeyboardKind int

const (
	KeyboardEnter = KeyboardKind(iota)
	KeyboardLeave
	KeyboardKey
	KeyboardModifiers
)

type KeyboardEvent struct {
	Kind   KeyboardKind
	Target space.Surface
	Serial uint32
	Time   uint32
	Key    uint32
	State  uint32
	// Keys are the keys held on enter
	Keys []uint32
	// Mods are depressed, latched, locked and group
	Mods [4]uint32
}

type TouchKind int

const (
	TouchDown = TouchKind(iota)
	TouchUp
	TouchMotion
	TouchFrame
	TouchCancel
)

type TouchEvent struct {
	Kind TouchKind
	// Target is only set on TouchDown, later events belong to the same point
	Target space.Surface
	Serial uint32
	Time   uint32
	ID     int32
	Pos    geom.Point[float64]
}

// Keymap is the last keymap the host sent. FD stays owned by the seat
type Keymap struct {
	Format uint32
	FD     int
	Size   uint32
}

// Seat is one host wl_seat
type Seat struct {
	host    *Host
	name    uint32
	proxy   *client.Seat
	version uint32

	Name     string
	Caps     uint32
	Keymap   Keymap
	Rate     int32
	Delay    int32
	pointer  *client.Pointer
	keyboard *client.Keyboard
	touch    *client.Touch

	// LastSerial is the newest input serial, for grabs and selections
	LastSerial uint32
	// EnterSerial is the serial of the last pointer enter, for cursors
	EnterSerial uint32

	axis    server.AxisFrame
	hasAxis bool

	data   *dataDevice
	cursor *cursor

	announced bool
}

func newSeat(h *Host, name uint32) *Seat {
	s := &Seat{host: h, name: name, proxy: client.NewSeat(h.ctx), Keymap: Keymap{FD: -1}}
	s.proxy.SetCapabilitiesHandler(func(e client.SeatCapabilitiesEvent) {
		h.post(func() { s.setCaps(e.Capabilities) })
	})
	s.proxy.SetNameHandler(func(e client.SeatNameEvent) {
		h.post(func() {
			s.Name = e.Name
			if h.started {
				s.announce()
			}
		})
	})
	return s
}

func (s *Seat) announce() {
	if s.announced {
		return
	}
	if s.Name == "" {
		// wl_seat before v2 has no name
		s.Name = "seat0"
	}
	s.announced = true
	s.setupData()
	logrus.WithField("seat", s.Name).Infoln("Host seat added")
	s.host.events.SeatAdded(s)
}

func (s *Seat) changed() {
	if s.announced {
		s.host.events.SeatChanged(s)
	}
}

func (s *Seat) HasPointer() bool  { return s.Caps&uint32(client.SeatCapabilityPointer) != 0 }
func (s *Seat) HasKeyboard() bool { return s.Caps&uint32(client.SeatCapabilityKeyboard) != 0 }
func (s *Seat) HasTouch() bool    { return s.Caps&uint32(client.SeatCapabilityTouch) != 0 }

func (s *Seat) setCaps(caps uint32) {
	s.Caps = caps
	log := logrus.WithFields(logrus.Fields{"seat": s.Name, "capabilities": caps})
	log.Debugln("Host seat capabilities")

	switch {
	case s.HasPointer() && s.pointer == nil:
		p, err := s.proxy.GetPointer()
		if err != nil {
			log.WithError(err).Warnln("Failed to get host pointer")
			break
		}
		s.pointer = p
		s.setupPointer()
		s.cursor = newCursor(s)
	case !s.HasPointer() && s.pointer != nil:
		s.pointer.Release()
		s.pointer = nil
		s.cursor.destroy()
		s.cursor = nil
	}
	switch {
	case s.HasKeyboard() && s.keyboard == nil:
		k, err := s.proxy.GetKeyboard()
		if err != nil {
			log.WithError(err).Warnln("Failed to get host keyboard")
			break
		}
		s.keyboard = k
		s.setupKeyboard()
	case !s.HasKeyboard() && s.keyboard != nil:
		s.keyboard.Release()
		s.keyboard = nil
	}
	switch {
	case s.HasTouch() && s.touch == nil:
		t, err := s.proxy.GetTouch()
		if err != nil {
			log.WithError(err).Warnln("Failed to get host touch")
			break
		}
		s.touch = t
		s.setupTouch()
	case !s.HasTouch() && s.touch != nil:
		s.touch.Release()
		s.touch = nil
	}
	s.changed()
}

func (s *Seat) pointerEvent(e PointerEvent) {
	s.host.events.Pointer(s, e)
}

func (s *Seat) setupPointer() {
	h := s.host
	p := s.pointer
	p.SetEnterHandler(func(e client.PointerEnterEvent) {
		h.post(func() {
			s.EnterSerial, s.LastSerial = e.Serial, e.Serial
			s.pointerEvent(PointerEvent{Kind: PointerEnter, Target: h.target(e.Surface), Serial: e.Serial, Pos: geom.Pt(e.SurfaceX, e.SurfaceY)})
		})
	})
	p.SetLeaveHandler(func(e client.PointerLeaveEvent) {
		h.post(func() {
			s.pointerEvent(PointerEvent{Kind: PointerLeave, Target: h.target(e.Surface), Serial: e.Serial})
		})
	})
	p.SetMotionHandler(func(e client.PointerMotionEvent) {
		h.post(func() {
			s.pointerEvent(PointerEvent{Kind: PointerMotion, Time: e.Time, Pos: geom.Pt(e.SurfaceX, e.SurfaceY)})
		})
	})
	p.SetButtonHandler(func(e client.PointerButtonEvent) {
		h.post(func() {
			s.LastSerial = e.Serial
			s.pointerEvent(PointerEvent{Kind: PointerButton, Serial: e.Serial, Time: e.Time, Button: e.Button, State: e.State})
		})
	})
	p.SetAxisHandler(func(e client.PointerAxisEvent) {
		h.post(func() {
			if e.Axis > 1 {
				return
			}
			s.axis.Time = e.Time
			a := &s.axis.Axes[e.Axis]
			a.Set = true
			a.Value += e.Value
			s.hasAxis = true
			if s.version < 5 {
				s.flushAxis()
			}
		})
	})
	p.SetAxisSourceHandler(func(e client.PointerAxisSourceEvent) {
		h.post(func() {
			s.axis.Source, s.axis.HasSource = e.AxisSource, true
			s.hasAxis = true
		})
	})
	p.SetAxisStopHandler(func(e client.PointerAxisStopEvent) {
		h.post(func() {
			if e.Axis > 1 {
				return
			}
			s.axis.Time = e.Time
			s.axis.Axes[e.Axis].Set = true
			s.axis.Axes[e.Axis].Stop = true
			s.hasAxis = true
		})
	})
	p.SetAxisDiscreteHandler(func(e client.PointerAxisDiscreteEvent) {
		h.post(func() {
			if e.Axis > 1 {
				return
			}
			// high resolution wheels report in 120ths of a step
			s.axis.Axes[e.Axis].V120 += e.Discrete * 120
			s.hasAxis = true
		})
	})
	p.SetFrameHandler(func(client.PointerFrameEvent) {
		h.post(func() {
			s.flushAxis()
			s.pointerEvent(PointerEvent{Kind: PointerFrame})
		})
	})
}

func (s *Seat) flushAxis() {
	if !s.hasAxis {
		return
	}
	f := s.axis
	s.axis, s.hasAxis = server.AxisFrame{}, false
	s.pointerEvent(PointerEvent{Kind: PointerAxis, Time: f.Time, Axis: f})
}

func keys(b []byte) []uint32 {
	out := make([]uint32, 0, len(b)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(b[i:]))
	}
	return out
}

func (s *Seat) setupKeyboard() {
	h := s.host
	k := s.keyboard
	k.SetKeymapHandler(func(e client.KeyboardKeymapEvent) {
		h.post(func() {
			if s.Keymap.FD >= 0 {
				unix.Close(s.Keymap.FD)
			}
			s.Keymap = Keymap{Format: e.Format, FD: e.Fd, Size: e.Size}
			s.changed()
		})
	})
	k.SetEnterHandler(func(e client.KeyboardEnterEvent) {
		h.post(func() {
			s.LastSerial = e.Serial
			s.host.events.Keyboard(s, KeyboardEvent{Kind: KeyboardEnter, Target: h.target(e.Surface), Serial: e.Serial, Keys: keys(e.Keys)})
		})
	})
	k.SetLeaveHandler(func(e client.KeyboardLeaveEvent) {
		h.post(func() {
			s.host.events.Keyboard(s, KeyboardEvent{Kind: KeyboardLeave, Target: h.target(e.Surface), Serial: e.Serial})
		})
	})
	k.SetKeyHandler(func(e client.KeyboardKeyEvent) {
		h.post(func() {
			s.LastSerial = e.Serial
			s.host.events.Keyboard(s, KeyboardEvent{Kind: KeyboardKey, Serial: e.Serial, Time: e.Time, Key: e.Key, State: e.State})
		})
	})
	k.SetModifiersHandler(func(e client.KeyboardModifiersEvent) {
		h.post(func() {
			s.host.events.Keyboard(s, KeyboardEvent{
				Kind:   KeyboardModifiers,
				Serial: e.Serial,
				Mods:   [4]uint32{e.ModsDepressed, e.ModsLatched, e.ModsLocked, e.Group},
			})
		})
	})
	k.SetRepeatInfoHandler(func(e client.KeyboardRepeatInfoEvent) {
		h.post(func() {
			s.Rate, s.Delay = e.Rate, e.Delay
			s.changed()
		})
	})
}

func (s *Seat) setupTouch() {
	h := s.host
	t := s.touch
	t.SetDownHandler(func(e client.TouchDownEvent) {
		h.post(func() {
			s.LastSerial = e.Serial
			s.host.events.Touch(s, TouchEvent{Kind: TouchDown, Target: h.target(e.Surface), Serial: e.Serial, Time: e.Time, ID: e.Id, Pos: geom.Pt(e.X, e.Y)})
		})
	})
	t.SetUpHandler(func(e client.TouchUpEvent) {
		h.post(func() {
			s.host.events.Touch(s, TouchEvent{Kind: TouchUp, Serial: e.Serial, Time: e.Time, ID: e.Id})
		})
	})
	t.SetMotionHandler(func(e client.TouchMotionEvent) {
		h.post(func() {
			s.host.events.Touch(s, TouchEvent{Kind: TouchMotion, Time: e.Time, ID: e.Id, Pos: geom.Pt(e.X, e.Y)})
		})
	})
	t.SetFrameHandler(func(client.TouchFrameEvent) {
		h.post(func() { s.host.events.Touch(s, TouchEvent{Kind: TouchFrame}) })
	})
	t.SetCancelHandler(func(client.TouchCancelEvent) {
		h.post(func() { s.host.events.Touch(s, TouchEvent{Kind: TouchCancel}) })
	})
}

// DupKeymap returns a copy of the keymap descriptor for the inner seat, -1 without one
func (s *Seat) DupKeymap() int {
	if s.Keymap.FD < 0 {
		return -1
	}
	fd, err := unix.FcntlInt(uintptr(s.Keymap.FD), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		logrus.WithError(err).Warnln("Failed to duplicate keymap")
		return -1
	}
	return fd
}

func (s *Seat) destroy() {
	if s.cursor != nil {
		s.cursor.destroy()
		s.cursor = nil
	}
	if s.data != nil {
		s.data.destroy()
		s.data = nil
	}
	if s.pointer != nil {
		s.pointer.Release()
	}
	if s.keyboard != nil {
		s.keyboard.Release()
	}
	if s.touch != nil {
		s.touch.Release()
	}
	if s.Keymap.FD >= 0 {
		unix.Close(s.Keymap.FD)
		s.Keymap.FD = -1
	}
	s.proxy.Release()
}

func (h *Host) seatByName(name string) *Seat {
	for _, s := range h.seats {
		if s.Name == name {
			return s
		}
	}
	return nil
}
