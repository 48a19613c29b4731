package space

import (
	"math"
	"slices"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/server"
)

// Hit is what lies under a point of a host surface
type Hit struct {
	// Surface is the inner surface under the point. Nil over empty panel
	// area, over an overflow button or outside the input region
	Surface *server.Surface
	// Local is the point in Surface coordinates
	Local geom.Point[float64]

	IsButton bool
	Button   layout.Band

	// Applet owns the window under the point, Rect is where that window
	// sits in the coordinates of the host surface
	Applet *PanelClient
	Rect   geom.Rect[int]
}

func floor(p geom.Point[float64]) geom.Point[int] {
	return geom.Pt(int(math.Floor(p.X)), int(math.Floor(p.Y)))
}

func toFloat(p geom.Point[int]) geom.Point[float64] {
	return geom.Pt(float64(p.X), float64(p.Y))
}

// surfaceAt finds the topmost surface of a tree accepting input at p
func surfaceAt(root *server.Surface, p geom.Point[float64]) (*server.Surface, geom.Point[float64]) {
	stack := root.Stack()
	for i := len(stack) - 1; i >= 0; i-- {
		c := stack[i]
		if c == root {
			if root.InputContains(floor(p)) {
				return root, p
			}
			continue
		}
		if hit, local := surfaceAt(c, p.Sub(toFloat(c.Subsurface().Position()))); hit != nil {
			return hit, local
		}
	}
	return nil, geom.Point[float64]{}
}

func (s *Space) windowHit(w *window, r geom.Rect[int], pos geom.Point[float64]) Hit {
	geo := w.toplevel.XdgSurface().Geometry()
	h := Hit{Applet: w.client, Rect: r}
	h.Surface, h.Local = surfaceAt(w.toplevel.Surface(), pos.Sub(toFloat(r.Min)).Add(toFloat(geo.Min)))
	return h
}

// Under finds what is below pos on one of the space's host surfaces, logical
func (s *Space) Under(target Surface, pos geom.Point[float64]) Hit {
	ip := floor(pos)
	switch {
	case target == nil:
		return Hit{}
	case s.layer != nil && target == s.layer:
		if !ip.In(s.inputRect()) {
			return Hit{}
		}
		for band, r := range s.result.Buttons {
			if ip.In(r) {
				return Hit{IsButton: true, Button: band, Rect: r}
			}
		}
		for _, w := range s.windows {
			if r, ok := s.result.Placed[w.id()]; ok && ip.In(r) && w.mapped() {
				return s.windowHit(w, r, pos)
			}
		}
	case s.overflow != nil && s.overflow.host == target:
		for _, slot := range s.result.Overflow[s.overflow.band] {
			if !ip.In(slot.Rect) {
				continue
			}
			for _, w := range s.windows {
				if w.id() == slot.ID && w.mapped() {
					return s.windowHit(w, slot.Rect, pos)
				}
			}
		}
	default:
		if p := s.popupForHost(target); p != nil {
			geo := p.popup.XdgSurface().Geometry()
			surf, local := surfaceAt(p.popup.Surface(), pos.Add(toFloat(geo.Min)))
			return Hit{Surface: surf, Local: local}
		}
		if p := s.proxyForHost(target); p != nil {
			surf, local := surfaceAt(p.ls.Surface(), pos)
			return Hit{Surface: surf, Local: local}
		}
	}
	return Hit{}
}

func (s *Space) seat(name string) *seatFocus {
	f, ok := s.focus[name]
	if !ok {
		f = &seatFocus{}
		s.focus[name] = f
	}
	return f
}

// PointerEntered records a seat's pointer on a host surface of the space
func (s *Space) PointerEntered(seat string, target Surface) {
	s.seat(seat).pointer = target
	s.updateFocus()
}

func (s *Space) PointerLeft(seat string, target Surface) {
	if f := s.seat(seat); f.pointer == target {
		f.pointer = nil
	}
	s.updateFocus()
}

func (s *Space) KeyboardEntered(seat string, target Surface) {
	s.seat(seat).keyboard = target
	s.updateFocus()
}

func (s *Space) KeyboardLeft(seat string, target Surface) {
	if f := s.seat(seat); f.keyboard == target {
		f.keyboard = nil
	}
	s.updateFocus()
}

// SeatRemoved forgets everything about a seat
func (s *Space) SeatRemoved(seat string) {
	delete(s.focus, seat)
	s.updateFocus()
}

// Focused reports whether anything keeps the panel from hiding
func (s *Space) Focused() bool {
	if len(s.popups) > 0 || s.overflow != nil {
		return true
	}
	for _, f := range s.focus {
		if f.pointer != nil || f.keyboard != nil {
			return true
		}
	}
	return false
}

func (s *Space) updateFocus() {
	s.hide.SetFocused(s.Focused(), s.clock.Now())
	s.applyHide()
}

// PopupApplet is the applet whose window an open popup hangs off, nil when there is none
func (s *Space) PopupApplet() *PanelClient {
	for _, p := range s.popups {
		if p.parent != nil || !p.popup.Alive() || p.popup.Parent() == nil {
			continue
		}
		if t := p.popup.Parent().Toplevel(); t != nil {
			if w := s.windowFor(t); w != nil {
				return w.client
			}
		}
	}
	return nil
}

// DismissUngrabbed closes the popups that never asked for a grab
func (s *Space) DismissUngrabbed() {
	for _, p := range append([]*popup(nil), s.popups...) {
		if p.parent != nil || p.wantsGrab || !slices.Contains(s.popups, p) {
			continue
		}
		p.popup.Done()
		s.dropPopup(p)
	}
}

// KeyboardTarget is the inner surface keyboard focus goes to when a seat's
// keyboard enters target without a pointer to go by
func (s *Space) KeyboardTarget(target Surface) *server.Surface {
	switch {
	case target == nil:
		return nil
	case s.layer != nil && target == s.layer:
		if pc := s.PopupApplet(); pc != nil {
			for _, w := range s.windows {
				if w.client == pc && w.mapped() {
					return w.toplevel.Surface()
				}
			}
		}
	default:
		if p := s.popupForHost(target); p != nil {
			return p.popup.Surface()
		}
		if p := s.proxyForHost(target); p != nil {
			return p.ls.Surface()
		}
	}
	return nil
}
