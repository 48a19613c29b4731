// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package space runs one panel on one output: its host layer surface, the
// applet windows mapped onto it, their popups and the overflow spaces.
// A space is driven entirely from the loop goroutine
package space

import (
	"fmt"
	"strings"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/autohide"
	"github.com/mstarongithub/way2panel/clock"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/render"
	"github.com/mstarongithub/way2panel/server"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

type State int

const (
	StateWaitConfigure = State(iota)
	StateActive
	StateQuit
)

func (s State) String() string {
	switch s {
	case StateWaitConfigure:
		return "wait-configure"
	case StateActive:
		return "active"
	case StateQuit:
		return "quit"
	}
	return "unknown"
}

// Render target failures in a row before a space gives up
const MaxRenderFailures = 10

// FrameInterval paces retries while nothing else drives frames
const FrameInterval = 16 * time.Millisecond

// Output is the host output a space lives on
type Output struct {
	Name string
	// Size is the logical size of the output
	Size  geom.Point[int]
	Scale float64
}

// HoverAnchor is where an auto hover click lands on an applet
type HoverAnchor int

const (
	// HoverNone applets never get auto hover clicks
	HoverNone = HoverAnchor(iota)
	HoverStart
	HoverEnd
	HoverTop
	HoverBottom
	HoverLeft
	HoverRight
	HoverCenter
	HoverAuto
)

// Point is where the click lands in r. Start and End run along the panel,
// the others are fixed sides of the applet
func (a HoverAnchor) Point(r geom.Rect[int], horizontal bool) geom.Point[float64] {
	minX, minY := float64(r.Min.X)+1, float64(r.Min.Y)+1
	maxX, maxY := float64(r.Max.X)-1, float64(r.Max.Y)-1
	mid := geom.Pt((minX+maxX)/2, (minY+maxY)/2)
	switch a {
	case HoverStart:
		if horizontal {
			return geom.Pt(minX, mid.Y)
		}
		return geom.Pt(mid.X, minY)
	case HoverEnd:
		if horizontal {
			return geom.Pt(maxX, mid.Y)
		}
		return geom.Pt(mid.X, maxY)
	case HoverTop:
		return geom.Pt(mid.X, minY)
	case HoverBottom:
		return geom.Pt(mid.X, maxY)
	case HoverLeft:
		return geom.Pt(minX, mid.Y)
	case HoverRight:
		return geom.Pt(maxX, mid.Y)
	}
	return mid
}

func ParseHoverAnchor(s string) (HoverAnchor, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return HoverStart, true
	case "end":
		return HoverEnd, true
	case "top":
		return HoverTop, true
	case "bottom":
		return HoverBottom, true
	case "left":
		return HoverLeft, true
	case "right":
		return HoverRight, true
	case "center":
		return HoverCenter, true
	case "auto":
		return HoverAuto, true
	}
	return HoverNone, false
}

// PanelClient is one applet process of the panel and what its desktop entry says about it
type PanelClient struct {
	Name        string
	Band        layout.Band
	MinUnits    uint32
	Priority    uint32
	HasPriority bool
	Hover       HoverAnchor
	// Minimize marks the applet windows minimize into
	Minimize bool
	// Client is the current inner connection, zero while none is registered
	Client server.ClientID
}

type window struct {
	client   *PanelClient
	toplevel *server.Toplevel
}

func (w *window) id() string { return w.client.Name }

func (w *window) mapped() bool {
	return w.toplevel.Alive() && w.toplevel.Surface().Mapped()
}

// seatFocus holds the host surfaces of the space a seat is on
type seatFocus struct {
	pointer  Surface
	keyboard Surface
}

type Space struct {
	conf   *config.PanelConfig
	output Output
	host   Host
	layer  Layer
	clock  clock.Clock
	theme  [4]float32

	state State
	// set until the first configure was handled
	first      bool
	dimensions geom.Point[int]
	pending    geom.Point[int]
	actual     geom.Point[int]
	scale      float64

	dirty    bool
	hasFrame bool
	cooldown bool
	failures int

	engine  *layout.Engine
	result  layout.Result
	clients []*PanelClient
	windows []*window

	popups   []*popup
	overflow *overflowPopup
	proxies  []*proxy

	hide        *autohide.Machine
	hiddenDrawn bool
	lastZone    int
	lastMargin  int

	tracker *render.Tracker
	bg      *render.Background
	buttons map[layout.Band]*render.Button

	focus    map[string]*seatFocus
	overlaps map[uint32]bool
	// MinimizeRect is where the minimize applet sits, in output coordinates
	minimize geom.Rect[int]
}

// New creates the host layer surface for a panel and asks for its first configure
func New(conf *config.PanelConfig, out Output, host Host, clk clock.Clock, clients []*PanelClient) (*Space, error) {
	if out.Scale <= 0 {
		out.Scale = 1
	}
	s := &Space{
		conf:     conf,
		output:   out,
		host:     host,
		clock:    clk,
		theme:    [4]float32{0.1, 0.1, 0.1, 1},
		state:    StateWaitConfigure,
		first:    true,
		scale:    out.Scale,
		engine:   layout.NewEngine(),
		clients:  clients,
		bg:       render.NewBackground(),
		buttons:  map[layout.Band]*render.Button{},
		focus:    map[string]*seatFocus{},
		overlaps: map[uint32]bool{},
		tracker:  render.NewTracker(geom.Point[int]{}),
	}
	if conf.AutoHide != nil {
		s.hide = autohide.New(conf.Name, &autohide.Config{
			Wait:               conf.HideWait(),
			Transition:         conf.HideTransition(),
			Handle:             conf.HideHandle(),
			OnlyWhenOverlapped: conf.AutoHide.OnlyWhenOverlapped,
		}, 0, clk.Now())
	} else {
		s.hide = autohide.New(conf.Name, nil, 0, clk.Now())
	}

	// an empty layout gives the smallest valid size to start from
	res, _ := s.engine.Layout(s.params(), nil)
	s.pending = res.Dimensions

	layer, err := host.NewLayer(out.Name, "panel-"+conf.Name, s.layerState())
	if err != nil {
		return nil, fmt.Errorf("creating layer surface for %s on %s: %w", conf.Name, out.Name, err)
	}
	s.layer = layer
	s.lastZone, s.lastMargin = s.exclusiveZone(), s.hostMargin()
	logrus.WithFields(logrus.Fields{
		"panel":  conf.Name,
		"output": out.Name,
		"size":   s.pending,
	}).Debugln("Created panel space")
	return s, nil
}

func (s *Space) Name() string                 { return s.conf.Name }
func (s *Space) Config() *config.PanelConfig  { return s.conf }
func (s *Space) Output() Output               { return s.output }
func (s *Space) State() State                 { return s.state }
func (s *Space) Dimensions() geom.Point[int]  { return s.dimensions }
func (s *Space) Actual() geom.Point[int]      { return s.actual }
func (s *Space) Layer() Layer                 { return s.layer }
func (s *Space) Visibility() autohide.State   { return s.hide.State() }
func (s *Space) Result() *layout.Result       { return &s.result }
func (s *Space) Clients() []*PanelClient      { return s.clients }
func (s *Space) MinimizeRect() geom.Rect[int] { return s.minimize }

// SetTheme sets the background color of ThemeDefault panels, straight alpha
func (s *Space) SetTheme(c [4]float32) {
	s.theme = c
	s.dirty = true
}

func (s *Space) params() layout.Params {
	length := s.output.Size.X
	if !s.conf.IsHorizontal() {
		length = s.output.Size.Y
	}
	length -= 2 * s.conf.Gap()
	current := s.dimensions
	if s.state == StateWaitConfigure {
		current = s.pending
	}
	return layout.ParamsFor(s.conf, max(length, 0), current)
}

func (s *Space) cross(size geom.Point[int]) int {
	if s.conf.IsHorizontal() {
		return size.Y
	}
	return size.X
}

func anchorBits(a config.Anchor) uint32 {
	switch a {
	case config.AnchorTop:
		return server.AnchorTop | server.AnchorLeft | server.AnchorRight
	case config.AnchorBottom:
		return server.AnchorBottom | server.AnchorLeft | server.AnchorRight
	case config.AnchorLeft:
		return server.AnchorLeft | server.AnchorTop | server.AnchorBottom
	default:
		return server.AnchorRight | server.AnchorTop | server.AnchorBottom
	}
}

// hostMargin is the offset on the anchored edge. A hidden panel keeps at
// least its input strip on screen
func (s *Space) hostMargin() int {
	size := s.cross(s.size())
	return max(s.hide.Margin(), -(size - s.hide.InputExtent()))
}

func (s *Space) exclusiveZone() int {
	if !s.conf.ExclusiveZone {
		return 0
	}
	if s.hide.Enabled() {
		return s.hide.ExclusiveZone()
	}
	return s.cross(s.size())
}

// size is what the layer surface is or is about to be
func (s *Space) size() geom.Point[int] {
	if !s.pending.IsZero() {
		return s.pending
	}
	return s.dimensions
}

func (s *Space) layerState() server.LayerState {
	st := server.LayerState{
		Size:                  s.size(),
		Anchor:                anchorBits(s.conf.Anchor),
		ExclusiveZone:         int32(s.exclusiveZone()),
		KeyboardInteractivity: uint32(s.conf.KeyboardInteractivity),
		Layer:                 uint32(s.conf.Layer),
	}
	m := int32(s.hostMargin())
	switch s.conf.Anchor {
	case config.AnchorTop:
		st.Margin[0] = m
	case config.AnchorRight:
		st.Margin[1] = m
	case config.AnchorBottom:
		st.Margin[2] = m
	case config.AnchorLeft:
		st.Margin[3] = m
	}
	return st
}

// inputRect is the part of the layer surface that takes pointer input
func (s *Space) inputRect() geom.Rect[int] {
	full := geom.Rect[int]{Max: s.dimensions}
	if s.hide.State() == autohide.Visible {
		return full
	}
	strip := s.hide.InputExtent()
	switch s.conf.Anchor {
	case config.AnchorTop:
		return geom.Rt(0, full.Max.Y-strip, full.Max.X, full.Max.Y)
	case config.AnchorBottom:
		return geom.Rt(0, 0, full.Max.X, strip)
	case config.AnchorLeft:
		return geom.Rt(full.Max.X-strip, 0, full.Max.X, full.Max.Y)
	default:
		return geom.Rt(0, 0, strip, full.Max.Y)
	}
}

// Configured handles a configure of the layer surface
func (s *Space) Configured(serial uint32, size geom.Point[int]) []Command {
	if s.state == StateQuit {
		return nil
	}
	s.layer.Ack(serial)
	if size.X == 0 {
		size.X = s.size().X
	}
	if size.Y == 0 {
		size.Y = s.size().Y
	}
	resized := size != s.dimensions
	s.dimensions = size
	s.pending = geom.Point[int]{}
	if s.state == StateWaitConfigure {
		s.state = StateActive
		if s.first {
			s.first = false
			s.hasFrame = true
		}
	}
	if resized {
		s.resizeTarget()
	}
	s.hide.SetSize(s.cross(size), s.clock.Now())
	s.dirty = true
	logrus.WithFields(logrus.Fields{
		"panel": s.conf.Name,
		"size":  size,
	}).Debugln("Layer surface configured")
	return nil
}

func (s *Space) physical(p geom.Point[int]) geom.Point[int] {
	return geom.Pt(layout.Physical(p.X, s.scale), layout.Physical(p.Y, s.scale))
}

func (s *Space) resizeTarget() {
	s.layer.SetScale(s.scale, s.dimensions)
	s.layer.SetInputRegion(s.inputRect())
	s.tracker.Resize(s.physical(s.dimensions))
}

// Closed is the host dropping the layer surface
func (s *Space) Closed() []Command {
	s.state = StateQuit
	return []Command{Destroy{Reason: "layer surface closed"}}
}

// SetScale applies a new preferred scale from the host
func (s *Space) SetScale(scale float64) {
	if scale <= 0 || scale == s.scale {
		return
	}
	s.scale = scale
	s.output.Scale = scale
	if s.state != StateWaitConfigure {
		s.resizeTarget()
	}
	for _, w := range s.windows {
		if w.toplevel.Alive() {
			w.toplevel.Surface().SetPreferredScale(scale)
		}
	}
	for _, p := range s.popups {
		p.resize(scale)
	}
	s.dirty = true
}

// SetOutputSize follows a mode change of the output
func (s *Space) SetOutputSize(size geom.Point[int]) {
	if size != s.output.Size {
		s.output.Size = size
		s.dirty = true
	}
}

// SetOverlapped records a host toplevel entering or leaving the panel area
func (s *Space) SetOverlapped(toplevel uint32, overlapping bool) {
	if overlapping {
		s.overlaps[toplevel] = true
	} else {
		delete(s.overlaps, toplevel)
	}
	s.hide.SetOverlapped(len(s.overlaps) > 0, s.clock.Now())
	s.applyHide()
}

// FrameDone is the host frame callback of the layer surface
func (s *Space) FrameDone() {
	s.hasFrame = true
}

// Client looks up the panel client owning an inner connection
func (s *Space) Client(id server.ClientID) *PanelClient {
	for _, c := range s.clients {
		if c.Client == id && id != 0 {
			return c
		}
	}
	return nil
}

// ClientByName looks up a panel client by applet name
func (s *Space) ClientByName(name string) *PanelClient {
	for _, c := range s.clients {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ReplaceClient points an applet at a new inner connection after a restart.
// Everything the old connection showed is dropped
func (s *Space) ReplaceClient(name string, id server.ClientID) {
	pc := s.ClientByName(name)
	if pc == nil {
		return
	}
	if pc.Client != 0 && pc.Client != id {
		s.ClientGone(pc.Client)
	}
	pc.Client = id
}

// ClientGone unmaps every window, popup and layer surface of a dead connection
func (s *Space) ClientGone(id server.ClientID) {
	owned := func(surf *server.Surface) bool {
		return surf != nil && surf.Client().ID() == id
	}
	for _, w := range s.windows {
		if owned(w.toplevel.Surface()) {
			s.engine.Forget(w.id())
		}
	}
	s.windows = sliceutils.Filter(s.windows, func(w *window) bool {
		return !owned(w.toplevel.Surface())
	})
	for _, p := range append([]*popup(nil), s.popups...) {
		if owned(p.popup.Surface()) {
			s.dropPopup(p)
		}
	}
	for _, p := range append([]*proxy(nil), s.proxies...) {
		if owned(p.ls.Surface()) {
			s.dropProxy(p)
		}
	}
	s.updateFocus()
	s.dirty = true
}

// AddToplevel takes over a toplevel of one of the panel's clients and sends it its first configure
func (s *Space) AddToplevel(t *server.Toplevel) bool {
	pc := s.Client(t.Surface().Client().ID())
	if pc == nil {
		return false
	}
	for _, w := range s.windows {
		if w.client == pc && w.toplevel.Alive() {
			logrus.WithField("applet", pc.Name).Warnln("Applet opened a second window, ignoring it")
			return true
		}
	}
	w := &window{client: pc, toplevel: t}
	t.Data = w
	s.windows = append(s.windows, w)
	t.Surface().SetPreferredScale(s.scale)
	t.Configure(geom.Point[int]{}, s.output.Size)
	logrus.WithFields(logrus.Fields{
		"panel":  s.conf.Name,
		"applet": pc.Name,
	}).Debugln("Applet toplevel added")
	return true
}

// RemoveToplevel forgets a destroyed toplevel, whether or not it ever mapped
func (s *Space) RemoveToplevel(t *server.Toplevel) bool {
	n := len(s.windows)
	s.windows = sliceutils.Filter(s.windows, func(w *window) bool {
		if w.toplevel == t {
			s.engine.Forget(w.id())
			return false
		}
		return true
	})
	if len(s.windows) == n {
		return false
	}
	s.dirty = true
	return true
}

// Owns reports whether a surface tree belongs to this space
func (s *Space) Owns(surf *server.Surface) bool {
	root := surf.Root()
	for _, w := range s.windows {
		if w.toplevel.Surface() == root {
			return true
		}
	}
	for _, p := range s.popups {
		if p.popup.Surface() == root {
			return true
		}
	}
	for _, p := range s.proxies {
		if p.ls.Surface() == root {
			return true
		}
	}
	return false
}

// Committed marks the space dirty after a commit in one of its trees
func (s *Space) Committed(surf *server.Surface) {
	root := surf.Root()
	for _, p := range s.popups {
		if p.popup.Surface() == root {
			p.dirty = true
			return
		}
	}
	for _, p := range s.proxies {
		if p.ls.Surface() == root {
			p.committed()
			return
		}
	}
	if s.inOverflow(root) {
		s.overflow.dirty = true
	}
	s.dirty = true
}

// Windows lists the applet names with a live toplevel, in mapping order
func (s *Space) Windows() []string {
	var names []string
	for _, w := range s.windows {
		names = append(names, w.id())
	}
	return names
}

// Destroy tears the space down: render target and layer surface first,
// the applet windows are left to the supervisor
func (s *Space) Destroy() {
	if s.overflow != nil {
		s.closeOverflow()
	}
	for _, p := range append([]*popup(nil), s.popups...) {
		s.dropPopup(p)
	}
	for _, p := range append([]*proxy(nil), s.proxies...) {
		p.ls.Close()
		s.dropProxy(p)
	}
	for _, w := range s.windows {
		w.toplevel.SendClose()
	}
	s.windows = nil
	if s.layer != nil {
		s.layer.Destroy()
		s.layer = nil
	}
	s.state = StateQuit
	logrus.WithField("panel", s.conf.Name).Infoln("Panel space destroyed")
}
