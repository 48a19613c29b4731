package bridge

import (
	"math"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/host"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/sirupsen/logrus"
)

type pointerState struct {
	panel  Panel
	target space.Surface
	// pos is the last host position on target, logical
	pos geom.Point[float64]
	hit space.Hit
	// applet is the applet the pointer is over, for auto hover
	applet *space.PanelClient
}

// HoverToken names one pending auto hover click. A timer whose token is no
// longer the seat's current one does nothing
type HoverToken struct {
	Applet     string
	Generation uint64
}

// Pointer routes one host pointer event
func (s *Seat) Pointer(e host.PointerEvent) {
	switch e.Kind {
	case host.PointerEnter:
		s.serial = e.Serial
		s.pointerEnter(e.Target, e.Pos)
	case host.PointerLeave:
		s.serial = e.Serial
		s.pointerLeave()
	case host.PointerMotion:
		s.route(e.Time, e.Pos)
	case host.PointerButton:
		s.serial = e.Serial
		s.button(e.Time, e.Button, e.State)
	case host.PointerAxis:
		if s.drag == nil && s.dnd == nil {
			s.inner.PointerAxis(e.Axis)
		}
	case host.PointerFrame:
		if s.drag == nil && s.dnd == nil {
			s.inner.PointerFrame()
		}
	}
}

func (s *Seat) pointerEnter(target space.Surface, pos geom.Point[float64]) {
	p := s.bridge.panels.PanelFor(target)
	if p == nil {
		logrus.WithField("seat", s.name).Debugln("Pointer entered a surface no panel owns")
		return
	}
	if s.pointer.panel != nil && s.pointer.target != target {
		s.pointerLeave()
	}
	s.pointer = pointerState{panel: p, target: target, pos: pos}
	s.arrowOn = false
	p.PointerEntered(s.name, target)
	s.route(0, pos)
}

func (s *Seat) pointerLeave() {
	p := s.pointer.panel
	if p == nil {
		return
	}
	p.PointerLeft(s.name, s.pointer.target)
	if s.drag != nil {
		s.cancelDrag()
	}
	s.stopHover()
	s.inner.PointerLeave()
	s.cursor = nil
	s.pointer = pointerState{}
}

// route resolves what is under pos and moves the inner pointer there.
// Crossing between inner surfaces is a leave and an enter
func (s *Seat) route(ms uint32, pos geom.Point[float64]) {
	p := s.pointer.panel
	if p == nil {
		return
	}
	hit := p.Under(s.pointer.target, pos)
	s.pointer.pos = pos
	s.pointer.hit = hit

	if s.drag != nil {
		s.inner.DndMotion(hit.Surface, ms, hit.Local)
		return
	}
	if hit.Surface == nil {
		if s.inner.PointerFocus() != nil {
			s.inner.PointerLeave()
			s.inner.PointerFrame()
		}
		s.defaultCursor()
	} else {
		if s.inner.PointerFocus() != hit.Surface {
			s.inner.PointerEnter(hit.Surface, hit.Local)
			s.cursor = nil
			s.arrowOn = false
		}
		s.inner.PointerMotion(ms, hit.Local)
	}
	s.hovered(hit.Applet)
}

func (s *Seat) button(ms, button, state uint32) {
	if s.drag != nil {
		if state == server.ButtonReleased {
			s.drop(ms)
		}
		return
	}
	p := s.pointer.panel
	if p == nil {
		return
	}
	hit := s.pointer.hit
	if hit.IsButton {
		if state == server.ButtonPressed {
			if err := p.ToggleOverflow(hit.Button); err != nil {
				logrus.WithError(err).WithField("band", hit.Button).Warnln("Failed to toggle overflow popup")
			}
		}
		return
	}
	focus := s.inner.PointerFocus()
	if focus == nil {
		return
	}
	s.stopHover()
	if state == server.ButtonPressed && s.keyboard.panel == p && s.keyboard.target == s.pointer.target {
		// clicks move keyboard focus between applets of the same surface
		s.inner.KeyboardEnter(focus.Root(), nil)
	}
	s.remember(s.inner.PointerButton(ms, button, state))
}

func (s *Seat) scale() int32 {
	if p := s.pointer.panel; p != nil {
		return int32(math.Ceil(p.Output().Scale))
	}
	return 1
}

func (s *Seat) defaultCursor() {
	if s.arrowOn {
		return
	}
	s.arrowOn = true
	s.cursor = nil
	s.host.DefaultCursor(s.scale())
}

// hovered tracks which applet the pointer is over and arms an auto hover
// click when another applet's popup is open
func (s *Seat) hovered(pc *space.PanelClient) {
	if pc == s.pointer.applet {
		return
	}
	s.pointer.applet = pc
	s.stopHover()
	if pc == nil || pc.Hover == space.HoverNone {
		return
	}
	p := s.pointer.panel
	delay := p.Config().AutohoverDelayMs
	if delay == 0 {
		return
	}
	if open := p.PopupApplet(); open == nil || open == pc {
		return
	}
	s.bridge.hoverGen++
	tok := HoverToken{Applet: pc.Name, Generation: s.bridge.hoverGen}
	s.hover = tok
	s.hoverTimer = s.bridge.loop.After(time.Duration(delay)*time.Millisecond, func() {
		s.hoverFired(tok)
	})
}

func (s *Seat) stopHover() {
	if s.hoverTimer != nil {
		s.hoverTimer.Stop()
		s.hoverTimer = nil
	}
	s.hover = HoverToken{}
}

func (s *Seat) hoverFired(tok HoverToken) {
	if s.hover != tok {
		return
	}
	s.hover = HoverToken{}
	s.hoverTimer = nil

	p, pc := s.pointer.panel, s.pointer.applet
	if p == nil || pc == nil || pc.Name != tok.Applet || s.drag != nil {
		return
	}
	if p.PopupApplet() == pc {
		return
	}
	at := pc.Hover.Point(s.pointer.hit.Rect, p.Config().IsHorizontal())
	hit := p.Under(s.pointer.target, at)
	if hit.Applet != pc || hit.Surface == nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"seat":   s.name,
		"applet": pc.Name,
	}).Debugln("Auto hover click")

	now := s.bridge.now()
	if s.inner.PointerFocus() != hit.Surface {
		s.inner.PointerEnter(hit.Surface, hit.Local)
	}
	s.inner.PointerMotion(now, hit.Local)
	s.inner.PointerFrame()
	for _, state := range []uint32{server.ButtonPressed, server.ButtonReleased} {
		s.remember(s.inner.PointerButton(now, BtnLeft, state))
		s.inner.PointerFrame()
	}
	// back to where the pointer really is
	s.route(now, s.pointer.pos)
	s.inner.PointerFrame()
}
