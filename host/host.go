// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package host is the panel's client side: the connection to the real
// compositor, its outputs and seats, and the layer surfaces and popups the
// spaces draw into.
//
// go-wayland dispatches on a goroutine of its own. Every handler here does
// nothing but post a closure into the loop, so the objects of this package
// are only ever touched from the loop goroutine
package host

import (
	"errors"
	"fmt"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/proto/fractionalscale"
	"github.com/mstarongithub/way2panel/proto/layershell"
	"github.com/mstarongithub/way2panel/proto/overlapnotify"
	"github.com/mstarongithub/way2panel/proto/securitycontext"
	"github.com/mstarongithub/way2panel/proto/viewporter"
	"github.com/mstarongithub/way2panel/space"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	xdg_shell "github.com/rajveermalviya/go-wayland/wayland/stable/xdg-shell"
	"github.com/sirupsen/logrus"
)

// ErrMissingGlobal is returned by Connect when the compositor lacks
// something the panel cannot work without
var ErrMissingGlobal = errors.New("host compositor is missing a required global")

// Lowest layer shell version with on demand keyboard interactivity
const minLayerShellVersion = 4

// Events receives everything the host connection reports. All calls
// happen on the loop goroutine
type Events interface {
	OutputAdded(o *Output)
	OutputChanged(o *Output)
	OutputRemoved(o *Output)

	SeatAdded(s *Seat)
	// SeatChanged reports new capabilities, a keymap or repeat info
	SeatChanged(s *Seat)
	SeatRemoved(s *Seat)
	Pointer(s *Seat, e PointerEvent)
	Keyboard(s *Seat, e KeyboardEvent)
	Touch(s *Seat, e TouchEvent)
	// Selection reports a new host clipboard, o is nil when it was cleared
	Selection(s *Seat, o *Offer)
	Drag(s *Seat, e DragEvent)

	LayerConfigured(l *Layer, serial uint32, size geom.Point[int])
	LayerClosed(l *Layer)
	PopupConfigured(p *Popup, serial uint32, r geom.Rect[int])
	PopupRepositioned(p *Popup, token uint32)
	PopupDone(p *Popup)
	FrameDone(target space.Surface)
	PreferredScale(target space.Surface, scale float64)
	Overlap(l *Layer, toplevel uint32, entered bool)

	// Lost reports the end of the connection
	Lost(err error)
}

// Features lists the optional globals the host offered
type Features struct {
	FractionalScale bool
	Viewporter      bool
	SecurityContext bool
	OverlapNotify   bool
}

type Host struct {
	loop    *loop.Loop
	events  Events
	started bool

	display  *client.Display
	ctx      *client.Context
	registry *client.Registry

	compositor   *client.Compositor
	shm          *client.Shm
	wmBase       *xdg_shell.WmBase
	layerShell   *layershell.Shell
	dataManager  *client.DataDeviceManager
	fractional   *fractionalscale.Manager
	viewporter   *viewporter.Viewporter
	security     *securitycontext.Manager
	overlap      *overlapnotify.Notify
	layerVersion uint32

	outputs map[uint32]*Output
	seats   map[uint32]*Seat

	// targets maps host surfaces back to what draws into them, for input
	targets map[*client.Surface]space.Surface
}

// Connect opens the connection named by WAYLAND_DISPLAY, binds the globals
// and waits until outputs and seats have described themselves. Events are
// delivered once Start runs the dispatch goroutine
func Connect(l *loop.Loop, ev Events) (*Host, error) {
	display, err := client.Connect("")
	if err != nil {
		return nil, fmt.Errorf("connect to host compositor: %w", err)
	}
	h := &Host{
		loop:    l,
		events:  ev,
		display: display,
		ctx:     display.Context(),
		outputs: map[uint32]*Output{},
		seats:   map[uint32]*Seat{},
		targets: map[*client.Surface]space.Surface{},
	}
	display.SetErrorHandler(func(e client.DisplayErrorEvent) {
		logrus.WithFields(logrus.Fields{
			"code":    e.Code,
			"message": e.Message,
		}).Errorln("Host compositor reported a protocol error")
	})

	h.registry, err = display.GetRegistry()
	if err != nil {
		h.ctx.Close()
		return nil, fmt.Errorf("get host registry: %w", err)
	}
	h.registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		h.post(func() { h.global(e) })
	})
	h.registry.SetGlobalRemoveHandler(func(e client.RegistryGlobalRemoveEvent) {
		h.post(func() { h.globalRemoved(e.Name) })
	})

	if err := h.roundtrip(); err != nil {
		h.ctx.Close()
		return nil, err
	}
	if err := h.checkRequired(); err != nil {
		h.ctx.Close()
		return nil, err
	}
	// outputs and seats send their details in reply to the binds
	if err := h.roundtrip(); err != nil {
		h.ctx.Close()
		return nil, err
	}
	return h, nil
}

func (h *Host) checkRequired() error {
	missing := func(name string) error {
		return fmt.Errorf("%w: %s", ErrMissingGlobal, name)
	}
	switch {
	case h.compositor == nil:
		return missing("wl_compositor")
	case h.shm == nil:
		return missing("wl_shm")
	case h.wmBase == nil:
		return missing("xdg_wm_base")
	case h.layerShell == nil:
		return missing(fmt.Sprintf("%s v%d", layershell.ShellInterfaceName, minLayerShellVersion))
	}
	return nil
}

// post runs f on the loop. Before Start the caller owns the connection,
// so f runs right away
func (h *Host) post(f func()) {
	if !h.started {
		f()
		return
	}
	h.loop.Post(f)
}

func (h *Host) roundtrip() error {
	cb, err := h.display.Sync()
	if err != nil {
		return fmt.Errorf("host sync: %w", err)
	}
	done := false
	cb.SetDoneHandler(func(client.CallbackDoneEvent) { done = true })
	for !done {
		if err := h.ctx.Dispatch(); err != nil {
			return fmt.Errorf("host dispatch: %w", err)
		}
	}
	return nil
}

// Start runs the dispatch goroutine. Losing the connection is reported
// through Events.Lost
func (h *Host) Start() {
	h.started = true
	h.loop.Post(func() {
		for _, o := range h.outputs {
			o.announce()
		}
		for _, s := range h.seats {
			s.announce()
		}
	})
	go func() {
		for {
			if err := h.ctx.Dispatch(); err != nil {
				h.loop.Post(func() { h.events.Lost(fmt.Errorf("host connection: %w", err)) })
				return
			}
		}
	}()
}

func (h *Host) Close() error {
	for _, s := range h.seats {
		s.destroy()
	}
	return h.ctx.Close()
}

func (h *Host) Features() Features {
	return Features{
		FractionalScale: h.fractional != nil,
		Viewporter:      h.viewporter != nil,
		SecurityContext: h.security != nil,
		OverlapNotify:   h.overlap != nil,
	}
}

func (h *Host) Outputs() []*Output {
	out := make([]*Output, 0, len(h.outputs))
	for _, o := range h.outputs {
		if o.ready {
			out = append(out, o)
		}
	}
	return out
}

// Output finds a described output by name
func (h *Host) Output(name string) *Output {
	for _, o := range h.outputs {
		if o.ready && o.Name == name {
			return o
		}
	}
	return nil
}

func (h *Host) Seats() []*Seat {
	out := make([]*Seat, 0, len(h.seats))
	for _, s := range h.seats {
		out = append(out, s)
	}
	return out
}

func (h *Host) global(e client.RegistryGlobalEvent) {
	log := logrus.WithFields(logrus.Fields{
		"interface": e.Interface,
		"version":   e.Version,
	})
	bind := func(version uint32, p client.Proxy) bool {
		if err := h.registry.Bind(e.Name, e.Interface, min(e.Version, version), p); err != nil {
			log.WithError(err).Warnln("Failed to bind host global")
			return false
		}
		log.Debugln("Bound host global")
		return true
	}

	switch e.Interface {
	case "wl_compositor":
		c := client.NewCompositor(h.ctx)
		if bind(4, c) {
			h.compositor = c
		}
	case "wl_shm":
		s := client.NewShm(h.ctx)
		if bind(1, s) {
			h.shm = s
		}
	case "xdg_wm_base":
		w := xdg_shell.NewWmBase(h.ctx)
		w.SetPingHandler(func(e xdg_shell.WmBasePingEvent) {
			h.post(func() {
				if err := w.Pong(e.Serial); err != nil {
					logrus.WithError(err).Warnln("Failed to answer host ping")
				}
			})
		})
		if bind(3, w) {
			h.wmBase = w
		}
	case layershell.ShellInterfaceName:
		if e.Version < minLayerShellVersion {
			log.Warnln("Host layer shell is too old")
			return
		}
		s := layershell.NewShell(h.ctx)
		if bind(4, s) {
			h.layerShell = s
			h.layerVersion = min(e.Version, 4)
		}
	case "wl_data_device_manager":
		m := client.NewDataDeviceManager(h.ctx)
		if bind(3, m) {
			h.dataManager = m
			for _, s := range h.seats {
				s.setupData()
			}
		}
	case fractionalscale.InterfaceName:
		m := fractionalscale.NewManager(h.ctx)
		if bind(1, m) {
			h.fractional = m
		}
	case viewporter.InterfaceName:
		v := viewporter.NewViewporter(h.ctx)
		if bind(1, v) {
			h.viewporter = v
		}
	case securitycontext.InterfaceName:
		m := securitycontext.NewManager(h.ctx)
		if bind(1, m) {
			h.security = m
		}
	case overlapnotify.InterfaceName:
		n := overlapnotify.NewNotify(h.ctx)
		if bind(1, n) {
			h.overlap = n
		}
	case "wl_output":
		o := newOutput(h, e.Name)
		if bind(4, o.proxy) {
			h.outputs[e.Name] = o
		}
	case "wl_seat":
		s := newSeat(h, e.Name)
		if bind(7, s.proxy) {
			s.version = min(e.Version, 7)
			h.seats[e.Name] = s
		}
	}
}

func (h *Host) globalRemoved(name uint32) {
	if o, ok := h.outputs[name]; ok {
		delete(h.outputs, name)
		logrus.WithField("output", o.Name).Infoln("Host output removed")
		if o.announced {
			h.events.OutputRemoved(o)
		}
		if err := o.proxy.Release(); err != nil {
			logrus.WithError(err).Debugln("Failed to release host output")
		}
		return
	}
	if s, ok := h.seats[name]; ok {
		delete(h.seats, name)
		logrus.WithField("seat", s.Name).Infoln("Host seat removed")
		s.destroy()
		if s.announced {
			h.events.SeatRemoved(s)
		}
	}
}

// target resolves the host surface of an input event
func (h *Host) target(s *client.Surface) space.Surface {
	if s == nil {
		return nil
	}
	return h.targets[s]
}
