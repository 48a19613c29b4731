// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package server is the small compositor the applets talk to.
// It speaks just enough Wayland for applets to hand over their buffers and
// receive input. Everything runs on the panel's loop; every applet connection
// has one reader goroutine that only posts decoded messages into it
package server

import (
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/wire"
	"github.com/sirupsen/logrus"
)

// Handler receives everything the rest of the panel cares about.
// All calls happen on the loop goroutine
type Handler interface {
	SurfaceCommitted(s *Surface)
	ToplevelCreated(t *Toplevel)
	ToplevelDestroyed(t *Toplevel)
	PopupCreated(p *Popup)
	PopupGrab(p *Popup, seat *Seat, serial uint32)
	PopupRepositioned(p *Popup, token uint32)
	PopupDestroyed(p *Popup)
	LayerSurfaceCreated(l *LayerSurface)
	LayerSurfaceDestroyed(l *LayerSurface)
	// src is nil when the selection was cleared
	SelectionSet(seat *Seat, src *DataSource)
	DragStarted(seat *Seat, src *DataSource, origin, icon *Surface, serial uint32)
	// surface is nil when the client hid its cursor
	CursorSet(seat *Seat, surface *Surface, hotspotX, hotspotY int32)
	ClientDisconnected(c *Client)
}

// NopHandler ignores everything. Embed it to implement only part of Handler
type NopHandler struct{}

func (NopHandler) SurfaceCommitted(*Surface)                                  {}
func (NopHandler) ToplevelCreated(*Toplevel)                                  {}
func (NopHandler) ToplevelDestroyed(*Toplevel)                                {}
func (NopHandler) PopupCreated(*Popup)                                        {}
func (NopHandler) PopupGrab(*Popup, *Seat, uint32)                            {}
func (NopHandler) PopupRepositioned(*Popup, uint32)                           {}
func (NopHandler) PopupDestroyed(*Popup)                                      {}
func (NopHandler) LayerSurfaceCreated(*LayerSurface)                          {}
func (NopHandler) LayerSurfaceDestroyed(*LayerSurface)                        {}
func (NopHandler) SelectionSet(*Seat, *DataSource)                            {}
func (NopHandler) DragStarted(*Seat, *DataSource, *Surface, *Surface, uint32) {}
func (NopHandler) CursorSet(*Seat, *Surface, int32, int32)                    {}
func (NopHandler) ClientDisconnected(*Client)                                 {}

// Features lists the optional globals. They mirror what the host offers
type Features struct {
	FractionalScale bool
	Viewporter      bool
}

type ClientID uint64

type Server struct {
	loop     *loop.Loop
	handler  Handler
	features Features

	clients    map[ClientID]*Client
	nextClient ClientID

	globals    []*global
	nextGlobal uint32

	serial uint32

	seats   []*Seat
	outputs []*Output
}

type global struct {
	name    uint32
	iface   string
	version uint32
	bind    func(c *Client, id, version uint32) error
	removed bool
}

func New(l *loop.Loop, h Handler, f Features) *Server {
	s := &Server{
		loop:     l,
		handler:  h,
		features: f,
		clients:  map[ClientID]*Client{},
	}
	s.addGlobal("wl_compositor", 5, bindCompositor)
	s.addGlobal("wl_subcompositor", 1, bindSubcompositor)
	s.addGlobal("wl_shm", 1, bindShm)
	s.addGlobal("xdg_wm_base", 5, bindWmBase)
	s.addGlobal("zwlr_layer_shell_v1", 4, bindLayerShell)
	s.addGlobal("wl_data_device_manager", 3, bindDataDeviceManager)
	if f.FractionalScale {
		s.addGlobal("wp_fractional_scale_manager_v1", 1, bindFractionalScaleManager)
	}
	if f.Viewporter {
		s.addGlobal("wp_viewporter", 1, bindViewporter)
	}
	l.OnIdle(s.Flush)
	return s
}

func (s *Server) Features() Features { return s.features }

func (s *Server) addGlobal(iface string, version uint32, bind func(c *Client, id, version uint32) error) *global {
	s.nextGlobal++
	g := &global{name: s.nextGlobal, iface: iface, version: version, bind: bind}
	s.globals = append(s.globals, g)
	for _, c := range s.clients {
		for _, r := range c.registries {
			r.announce(g)
		}
	}
	return g
}

func (s *Server) removeGlobal(g *global) {
	g.removed = true
	for _, c := range s.clients {
		for _, r := range c.registries {
			r.sendRemove(g)
		}
	}
	live := s.globals[:0]
	for _, o := range s.globals {
		if o != g {
			live = append(live, o)
		}
	}
	s.globals = live
}

// NextSerial hands out serials for every event that carries one
func (s *Server) NextSerial() uint32 {
	s.serial++
	return s.serial
}

// AddClient registers an applet connection and starts reading from it
func (s *Server) AddClient(conn *wire.Conn) *Client {
	s.nextClient++
	c := newClient(s, s.nextClient, conn)
	s.clients[c.id] = c
	logrus.WithField("client", c.id).Debugln("Applet client connected")
	go c.read()
	return c
}

func (s *Server) Client(id ClientID) *Client {
	return s.clients[id]
}

func (s *Server) Clients() []*Client {
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// Flush writes out everything queued for every client
func (s *Server) Flush() {
	for _, c := range s.clients {
		if err := c.conn.Flush(); err != nil {
			c.disconnect(err)
		}
	}
}

// Close disconnects every client
func (s *Server) Close() {
	for _, c := range s.clients {
		c.Close()
	}
}
