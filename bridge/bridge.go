// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package bridge carries input between the host and the inner server.
// Every host seat gets an inner seat of the same name. Host pointer, keyboard
// and touch events are routed to whatever inner surface lies under them,
// clipboards are mirrored both ways and drags crossing the panel are driven
// on the inner side.
package bridge

import (
	"image"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/clock"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/sirupsen/logrus"
)

// BtnLeft is the evdev code of the left mouse button
const BtnLeft = 0x110

// serials remembered per seat for mapping inner grabs back to host serials
const serialHistory = 32

// Panel is the part of a panel space input is routed through
type Panel interface {
	Under(target space.Surface, pos geom.Point[float64]) space.Hit
	PointerEntered(seat string, target space.Surface)
	PointerLeft(seat string, target space.Surface)
	KeyboardEntered(seat string, target space.Surface)
	KeyboardLeft(seat string, target space.Surface)
	KeyboardTarget(target space.Surface) *server.Surface
	ToggleOverflow(band layout.Band) error
	PopupApplet() *space.PanelClient
	DismissUngrabbed()
	Config() *config.PanelConfig
	Output() space.Output
}

// Panels finds the panel a host surface belongs to. It returns nil for
// surfaces no panel owns
type Panels interface {
	PanelFor(target space.Surface) Panel
}

// HostSeat is what the bridge needs from a host seat
type HostSeat interface {
	SetCursor(img *image.RGBA, src image.Rectangle, hotspot geom.Point[int], scale int32)
	DefaultCursor(scale int32)
	SetSelection(mimes []string, send func(mime string, fd int), cancelled func()) error
	ClearSelection()
}

// Offer is a host data offer, from the clipboard or a drag
type Offer interface {
	MimeTypes() []string
	Actions() uint32
	// Receive owns fd
	Receive(mime string, fd int) error
	Accept(serial uint32, mime string)
	SetActions(actions, preferred uint32)
	Finish()
	Destroy()
}

type Bridge struct {
	loop   *loop.Loop
	server *server.Server
	panels Panels
	seats  map[string]*Seat

	hoverGen uint64
}

func New(l *loop.Loop, srv *server.Server, panels Panels) *Bridge {
	return &Bridge{
		loop:   l,
		server: srv,
		panels: panels,
		seats:  map[string]*Seat{},
	}
}

type serialPair struct {
	inner, host uint32
}

// Seat pairs one host seat with its inner seat
type Seat struct {
	bridge *Bridge
	name   string
	host   HostSeat
	inner  *server.Seat

	// serial is the newest host input serial
	serial  uint32
	serials []serialPair

	pointer  pointerState
	keyboard keyboardState
	touch    map[int32]*touchPoint

	hover      HoverToken
	hoverTimer *clock.Timer

	cursor  *server.Surface
	drag    *innerDrag
	dnd     *hostDrag
	arrowOn bool
}

// AddSeat mirrors a host seat on the inner server
func (b *Bridge) AddSeat(name string, hs HostSeat, touch bool) *Seat {
	if s, ok := b.seats[name]; ok {
		s.host = hs
		s.inner.SetTouch(touch)
		return s
	}
	s := &Seat{
		bridge: b,
		name:   name,
		host:   hs,
		inner:  b.server.AddSeat(name, touch),
		touch:  map[int32]*touchPoint{},
	}
	s.inner.Data = s
	b.seats[name] = s
	logrus.WithField("seat", name).Debugln("Bridged host seat")
	return s
}

func (b *Bridge) RemoveSeat(name string) {
	s, ok := b.seats[name]
	if !ok {
		return
	}
	s.stopHover()
	if s.drag != nil {
		s.cancelDrag()
	}
	delete(b.seats, name)
	b.server.RemoveSeat(s.inner)
}

func (b *Bridge) Seat(name string) *Seat { return b.seats[name] }

func (b *Bridge) Seats() []*Seat {
	out := make([]*Seat, 0, len(b.seats))
	for _, s := range b.seats {
		out = append(out, s)
	}
	return out
}

func (b *Bridge) seatFor(inner *server.Seat) *Seat {
	if inner == nil {
		return nil
	}
	s, _ := inner.Data.(*Seat)
	return s
}

func (s *Seat) Name() string        { return s.name }
func (s *Seat) Inner() *server.Seat { return s.inner }

func (s *Seat) SetTouch(touch bool) { s.inner.SetTouch(touch) }

// SetKeymap hands fd over to the inner seat
func (s *Seat) SetKeymap(format uint32, fd int, size uint32) {
	s.inner.SetKeymap(format, fd, size)
}

func (s *Seat) SetRepeatInfo(rate, delay int32) { s.inner.SetRepeatInfo(rate, delay) }

func (s *Seat) remember(inner uint32) {
	s.serials = append(s.serials, serialPair{inner: inner, host: s.serial})
	if len(s.serials) > serialHistory {
		s.serials = s.serials[len(s.serials)-serialHistory:]
	}
}

// HostSerial maps a serial the inner server handed out on inner back to
// the host input event it came from. Unknown serials map to the newest
// host serial of the seat
func (b *Bridge) HostSerial(inner *server.Seat, serial uint32) (seat string, host uint32) {
	s := b.seatFor(inner)
	if s == nil {
		return "", 0
	}
	for i := len(s.serials) - 1; i >= 0; i-- {
		if s.serials[i].inner == serial {
			return s.name, s.serials[i].host
		}
	}
	return s.name, s.serial
}

// ClientGone drops references into a client that disconnected
func (b *Bridge) ClientGone(c *server.Client) {
	for _, s := range b.seats {
		if s.cursor != nil && s.cursor.Client() == c {
			s.cursor = nil
		}
		if s.drag != nil && s.drag.src != nil && s.drag.src.Client() == c {
			s.cancelDrag()
		}
	}
}

func (b *Bridge) now() uint32 {
	return uint32(b.loop.Clock().Now().UnixMilli())
}
