package space

import (
	"fmt"
	"slices"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/render"
	"github.com/mstarongithub/way2panel/server"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

// xdg_positioner anchor and gravity values
const (
	edgeTop    = 1
	edgeBottom = 2
	edgeLeft   = 3
	edgeRight  = 4

	// slide and flip on both axes
	adjustAll = 1 | 2 | 4 | 8
)

// popup is an applet popup shown through a host popup
type popup struct {
	popup  *server.Popup
	host   Popup
	parent *popup
	// offset translates the applet's anchor rect into the host parent surface
	offset geom.Point[int]
	// set when the popup hangs off a window in an overflow space
	overflow bool

	tracker    *render.Tracker
	size       geom.Point[int]
	configured bool
	dirty      bool
	hasFrame   bool
	presented  bool

	grabSeat   string
	grabSerial uint32
	wantsGrab  bool
}

func (p *popup) placement() Placement {
	pos := p.popup.Positioner()
	return Placement{
		Size:                 pos.Size,
		AnchorRect:           pos.AnchorRect.Add(p.offset),
		Anchor:               pos.Anchor,
		Gravity:              pos.Gravity,
		ConstraintAdjustment: pos.ConstraintAdjustment,
		Offset:               pos.Offset,
		Reactive:             pos.Reactive,
	}
}

func (p *popup) resize(scale float64) {
	if !p.configured {
		return
	}
	p.host.SetScale(scale, p.size)
	p.tracker.Resize(geom.Pt(layout.Physical(p.size.X, scale), layout.Physical(p.size.Y, scale)))
	p.dirty = true
}

// ancestors reports whether a is p or one of its parents
func (p *popup) descends(a *popup) bool {
	for c := p; c != nil; c = c.parent {
		if c == a {
			return true
		}
	}
	return false
}

func (s *Space) windowFor(t *server.Toplevel) *window {
	for _, w := range s.windows {
		if w.toplevel == t {
			return w
		}
	}
	return nil
}

func (s *Space) popupFor(p *server.Popup) *popup {
	for _, pp := range s.popups {
		if pp.popup == p {
			return pp
		}
	}
	return nil
}

func (s *Space) popupForHost(h Surface) *popup {
	for _, pp := range s.popups {
		if pp.host == h {
			return pp
		}
	}
	return nil
}

// overflowSlot finds where a window sits in the open overflow space
func (s *Space) overflowSlot(w *window) (layout.Slot, bool) {
	if s.overflow == nil {
		return layout.Slot{}, false
	}
	for _, slot := range s.result.Overflow[s.overflow.band] {
		if slot.ID == w.id() {
			return slot, true
		}
	}
	return layout.Slot{}, false
}

// AddPopup shows an applet popup through a host popup. It reports false
// when the popup does not belong to this space
func (s *Space) AddPopup(p *server.Popup) bool {
	parent := p.Parent()
	if parent == nil {
		return false
	}
	np := &popup{popup: p, tracker: render.NewTracker(geom.Point[int]{})}
	var hostParent Popup
	layer := s.layer

	switch {
	case parent.Toplevel() != nil:
		w := s.windowFor(parent.Toplevel())
		if w == nil {
			return false
		}
		if r, ok := s.result.Placed[w.id()]; ok {
			np.offset = r.Min
		} else if slot, ok := s.overflowSlot(w); ok {
			np.offset = slot.Rect.Min
			np.overflow = true
			hostParent = s.overflow.host
		} else {
			// not shown anywhere, nothing to anchor to
			p.Done()
			return true
		}
	case parent.Popup() != nil:
		pp := s.popupFor(parent.Popup())
		if pp == nil {
			return false
		}
		np.parent = pp
		np.overflow = pp.overflow
		hostParent = pp.host
	case parent.LayerSurface() != nil:
		pr := s.proxyFor(parent.LayerSurface())
		if pr == nil {
			return false
		}
		layer = pr.host
	default:
		return false
	}

	s.closeUnrelated(np)
	host, err := layer.NewPopup(hostParent, np.placement())
	if err != nil {
		logrus.WithError(err).WithField("panel", s.conf.Name).Warnln("Failed to create host popup")
		p.Done()
		return true
	}
	np.host = host
	p.Data = np
	s.popups = append(s.popups, np)
	s.updateFocus()
	return true
}

// closeUnrelated dismisses every popup that is not an ancestor of p
func (s *Space) closeUnrelated(p *popup) {
	for _, other := range append([]*popup(nil), s.popups...) {
		if p.parent != nil && p.parent.descends(other) {
			continue
		}
		if !slices.Contains(s.popups, other) {
			continue
		}
		other.popup.Done()
		s.dropPopup(other)
	}
	if s.overflow != nil && !p.overflow {
		s.closeOverflow()
	}
}

// dropPopup destroys a popup and everything opened from it, children first
func (s *Space) dropPopup(p *popup) {
	for _, c := range append([]*popup(nil), s.popups...) {
		if c.parent == p {
			c.popup.Done()
			s.dropPopup(c)
		}
	}
	if !slices.Contains(s.popups, p) {
		return
	}
	s.popups = sliceutils.Filter(s.popups, func(o *popup) bool { return o != p })
	if p.popup.Data == p {
		p.popup.Data = nil
	}
	if p.host != nil {
		p.host.Destroy()
	}
	s.updateFocus()
}

// RemovePopup handles the applet destroying its popup
func (s *Space) RemovePopup(p *server.Popup) bool {
	pp := s.popupFor(p)
	if pp == nil {
		return false
	}
	s.dropPopup(pp)
	return true
}

// GrabPopup records a grab request. It is applied with the first buffer,
// and only when the popup takes input on more than a single pixel
func (s *Space) GrabPopup(p *server.Popup, seat string, hostSerial uint32) bool {
	pp := s.popupFor(p)
	if pp == nil {
		return false
	}
	pp.wantsGrab, pp.grabSeat, pp.grabSerial = true, seat, hostSerial
	return true
}

// RepositionPopup forwards a new positioner to the host
func (s *Space) RepositionPopup(p *server.Popup, token uint32) bool {
	pp := s.popupFor(p)
	if pp == nil {
		return false
	}
	pp.host.Reposition(pp.placement(), token)
	return true
}

// PopupConfigured handles a configure of a host popup
func (s *Space) PopupConfigured(host Popup, serial uint32, r geom.Rect[int]) bool {
	if s.overflow != nil && s.overflow.host == host {
		s.overflow.configured(serial, r.Size(), s.scale)
		return true
	}
	pp := s.popupForHost(host)
	if pp == nil {
		return false
	}
	pp.popup.Configure(r.Sub(pp.offset))
	host.Ack(serial)
	if r.Size() != pp.size || !pp.configured {
		pp.size = r.Size()
		pp.configured = true
		pp.resize(s.scale)
	}
	if !pp.presented {
		pp.hasFrame = true
	}
	pp.dirty = true
	return true
}

// PopupRepositioned passes the host's reposition acknowledgement on
func (s *Space) PopupRepositioned(host Popup, token uint32) bool {
	pp := s.popupForHost(host)
	if pp == nil {
		return false
	}
	pp.popup.Repositioned(token)
	return true
}

// PopupDone handles the host dismissing a popup
func (s *Space) PopupDone(host Popup) bool {
	if s.overflow != nil && s.overflow.host == host {
		s.closeOverflow()
		return true
	}
	pp := s.popupForHost(host)
	if pp == nil {
		return false
	}
	pp.popup.Done()
	s.dropPopup(pp)
	return true
}

func (s *Space) drawPopup(p *popup, ms uint32) error {
	surf := p.popup.Surface()
	if !p.configured || !p.dirty || !p.hasFrame || !surf.Mapped() {
		return nil
	}
	buf, err := p.host.Acquire(p.tracker.Size())
	if err != nil {
		return fmt.Errorf("acquiring popup buffer: %w", err)
	}
	geo := p.popup.XdgSurface().Geometry()
	tree := render.NewTree(p, render.Flatten(surf), geom.Point[int]{}.Sub(geo.Min), s.scale, geom.Rect[int]{Max: p.size})
	damage := render.Frame(buf.Image, p.tracker, buf.Age, []render.Element{tree})
	if !p.presented && p.wantsGrab && surf.InputArea() > 1 {
		p.host.Grab(p.grabSeat, p.grabSerial)
	}
	if err := p.host.Present(buf, damage); err != nil {
		return fmt.Errorf("presenting popup: %w", err)
	}
	p.presented = true
	p.dirty = false
	p.hasFrame = false
	surf.FrameDone(ms)
	return nil
}

// overflowPopup shows the applets a band moved off the panel
type overflowPopup struct {
	band    layout.Band
	host    Popup
	tracker *render.Tracker
	bg      *render.Background
	size    geom.Point[int]

	ready     bool
	dirty     bool
	hasFrame  bool
	presented bool
}

func (o *overflowPopup) configured(serial uint32, size geom.Point[int], scale float64) {
	o.host.Ack(serial)
	if size != o.size || !o.ready {
		o.size = size
		o.host.SetScale(scale, size)
		o.tracker.Resize(geom.Pt(layout.Physical(size.X, scale), layout.Physical(size.Y, scale)))
	}
	if !o.presented {
		o.hasFrame = true
	}
	o.ready = true
	o.dirty = true
}

func overflowPlacement(anchor config.Anchor, button geom.Rect[int], size geom.Point[int]) Placement {
	p := Placement{Size: size, AnchorRect: button, ConstraintAdjustment: adjustAll}
	switch anchor {
	case config.AnchorTop:
		p.Anchor, p.Gravity = edgeBottom, edgeBottom
	case config.AnchorBottom:
		p.Anchor, p.Gravity = edgeTop, edgeTop
	case config.AnchorLeft:
		p.Anchor, p.Gravity = edgeRight, edgeRight
	default:
		p.Anchor, p.Gravity = edgeLeft, edgeLeft
	}
	return p
}

// ToggleOverflow opens the overflow space of band, or closes it when it is already open
func (s *Space) ToggleOverflow(band layout.Band) error {
	if s.overflow != nil {
		open := s.overflow.band
		s.closeOverflow()
		if open == band {
			return nil
		}
	}
	button, ok := s.result.Buttons[band]
	if !ok {
		return fmt.Errorf("band %s has no overflow", band)
	}
	for _, p := range append([]*popup(nil), s.popups...) {
		p.popup.Done()
		s.dropPopup(p)
	}
	size := layout.OverflowSize(len(s.result.Overflow[band]), s.conf.Size.UnitSize())
	host, err := s.layer.NewPopup(nil, overflowPlacement(s.conf.Anchor, button, size))
	if err != nil {
		return fmt.Errorf("creating overflow popup: %w", err)
	}
	s.overflow = &overflowPopup{
		band:    band,
		host:    host,
		tracker: render.NewTracker(geom.Point[int]{}),
		bg:      render.NewBackground(),
	}
	if b, ok := s.buttons[band]; ok {
		b.SetHover(true)
	}
	s.updateFocus()
	s.dirty = true
	logrus.WithFields(logrus.Fields{
		"panel": s.conf.Name,
		"band":  band,
	}).Debugln("Opened overflow space")
	return nil
}

// OverflowOpen reports which band shows its overflow space
func (s *Space) OverflowOpen() (layout.Band, bool) {
	if s.overflow == nil {
		return 0, false
	}
	return s.overflow.band, true
}

func (s *Space) closeOverflow() {
	o := s.overflow
	if o == nil {
		return
	}
	for _, p := range append([]*popup(nil), s.popups...) {
		if p.overflow {
			p.popup.Done()
			s.dropPopup(p)
		}
	}
	s.overflow = nil
	if b, ok := s.buttons[o.band]; ok {
		b.SetHover(false)
	}
	o.host.Destroy()
	s.updateFocus()
	s.dirty = true
}

// inOverflow reports whether a root surface is a window of the open overflow space
func (s *Space) inOverflow(root *server.Surface) bool {
	for _, w := range s.windows {
		if w.toplevel.Surface() == root {
			_, ok := s.overflowSlot(w)
			return ok
		}
	}
	return false
}

// syncOverflow follows a new layout: the space closes once its band has
// no overflow left and resizes when the applet count changed
func (s *Space) syncOverflow() {
	o := s.overflow
	if o == nil {
		return
	}
	slots := s.result.Overflow[o.band]
	if len(slots) == 0 {
		s.closeOverflow()
		return
	}
	size := layout.OverflowSize(len(slots), s.conf.Size.UnitSize())
	if size != o.size && o.ready {
		o.host.Reposition(overflowPlacement(s.conf.Anchor, s.result.Buttons[o.band], size), 0)
	}
}

func (s *Space) drawOverflow(ms uint32) error {
	o := s.overflow
	if o == nil || !o.ready || !o.dirty || !o.hasFrame {
		return nil
	}
	buf, err := o.host.Acquire(o.tracker.Size())
	if err != nil {
		return fmt.Errorf("acquiring overflow buffer: %w", err)
	}
	full := geom.Rect[int]{Max: o.size}
	o.bg.Set(layout.PhysicalRect(full, s.scale), layout.Physical(int(s.conf.BorderRadius), s.scale), render.CornersAll, s.background())
	elems := []render.Element{o.bg}
	var shown []*window
	for _, slot := range s.result.Overflow[o.band] {
		for _, w := range s.windows {
			if w.id() != slot.ID || !w.mapped() {
				continue
			}
			geo := w.toplevel.XdgSurface().Geometry()
			elems = append(elems, render.NewTree(w, render.Flatten(w.toplevel.Surface()), slot.Rect.Min.Sub(geo.Min), s.scale, slot.Rect))
			shown = append(shown, w)
		}
	}
	damage := render.Frame(buf.Image, o.tracker, buf.Age, elems)
	if err := o.host.Present(buf, damage); err != nil {
		return fmt.Errorf("presenting overflow: %w", err)
	}
	o.presented = true
	o.dirty = false
	o.hasFrame = false
	for _, w := range shown {
		w.toplevel.Surface().FrameDone(ms)
	}
	return nil
}
