package bridge

import (
	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/host"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/sirupsen/logrus"
)

type keyboardState struct {
	panel  Panel
	target space.Surface
}

// Keyboard routes one host keyboard event
func (s *Seat) Keyboard(e host.KeyboardEvent) {
	switch e.Kind {
	case host.KeyboardEnter:
		s.serial = e.Serial
		s.keyboardEnter(e.Target, e.Keys)
	case host.KeyboardLeave:
		s.serial = e.Serial
		s.keyboardLeave()
	case host.KeyboardKey:
		s.serial = e.Serial
		s.remember(s.inner.Key(e.Time, e.Key, e.State))
	case host.KeyboardModifiers:
		s.serial = e.Serial
		s.inner.Modifiers(e.Mods[0], e.Mods[1], e.Mods[2], e.Mods[3])
	}
}

func (s *Seat) keyboardEnter(target space.Surface, keys []uint32) {
	p := s.bridge.panels.PanelFor(target)
	if p == nil {
		return
	}
	s.keyboard = keyboardState{panel: p, target: target}
	p.KeyboardEntered(s.name, target)

	var focus *server.Surface
	if s.pointer.target == target {
		if f := s.inner.PointerFocus(); f != nil {
			focus = f.Root()
		}
	}
	if focus == nil {
		focus = p.KeyboardTarget(target)
	}
	if focus == nil {
		logrus.WithField("seat", s.name).Debugln("Keyboard entered the panel with nothing to focus")
		return
	}
	s.inner.KeyboardEnter(focus, keys)
}

// keyboardLeave clears focus and closes popups that did not grab
func (s *Seat) keyboardLeave() {
	p := s.keyboard.panel
	if p == nil {
		return
	}
	p.KeyboardLeft(s.name, s.keyboard.target)
	s.inner.KeyboardLeave()
	s.keyboard = keyboardState{}
	p.DismissUngrabbed()
}

type touchPoint struct {
	// offset turns host positions into positions on the touched inner surface
	offset geom.Point[float64]
}

// Touch routes one host touch event
func (s *Seat) Touch(e host.TouchEvent) {
	switch e.Kind {
	case host.TouchDown:
		s.serial = e.Serial
		s.touchDown(e)
	case host.TouchUp:
		s.serial = e.Serial
		if _, ok := s.touch[e.ID]; ok {
			delete(s.touch, e.ID)
			s.inner.TouchUp(e.Time, e.ID)
		}
	case host.TouchMotion:
		if tp, ok := s.touch[e.ID]; ok {
			s.inner.TouchMotion(e.Time, e.ID, e.Pos.Add(tp.offset))
		}
	case host.TouchFrame:
		s.inner.TouchFrame()
	case host.TouchCancel:
		clear(s.touch)
		s.inner.TouchCancel()
	}
}

func (s *Seat) touchDown(e host.TouchEvent) {
	p := s.bridge.panels.PanelFor(e.Target)
	if p == nil {
		return
	}
	hit := p.Under(e.Target, e.Pos)
	if hit.IsButton {
		if err := p.ToggleOverflow(hit.Button); err != nil {
			logrus.WithError(err).Warnln("Failed to toggle overflow popup")
		}
		return
	}
	if hit.Surface == nil {
		return
	}
	s.touch[e.ID] = &touchPoint{offset: hit.Local.Sub(e.Pos)}
	s.remember(s.inner.TouchDown(hit.Surface, e.Time, e.ID, hit.Local))
}
