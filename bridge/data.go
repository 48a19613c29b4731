package bridge

import (
	"image"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/host"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// hostSelection is the host clipboard as seen by applets
type hostSelection struct {
	seat  string
	offer Offer
}

func (h *hostSelection) MimeTypes() []string { return h.offer.MimeTypes() }

func (h *hostSelection) Send(mime string, fd int) {
	if err := h.offer.Receive(mime, fd); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"seat": h.seat,
			"mime": mime,
		}).Warnln("Failed to read host selection")
	}
}

// Cancel is a no-op, the host owns the offer
func (h *hostSelection) Cancel() {}

// HostSelection installs the host clipboard on the inner seat. nil means
// the host clipboard was cleared
func (s *Seat) HostSelection(o *host.Offer) {
	if o == nil {
		s.hostSelection(nil)
		return
	}
	s.hostSelection(o)
}

func (s *Seat) hostSelection(o Offer) {
	if o == nil {
		if _, ok := s.inner.Selection().(*hostSelection); ok {
			s.inner.SetSelection(nil)
		}
		return
	}
	s.inner.SetSelection(&hostSelection{seat: s.name, offer: o})
}

// InnerSelection puts an applet's clipboard onto the host seat
func (b *Bridge) InnerSelection(inner *server.Seat, src *server.DataSource) {
	s := b.seatFor(inner)
	if s == nil {
		return
	}
	if src == nil {
		s.host.ClearSelection()
		return
	}
	send := func(mime string, fd int) {
		if !src.Alive() {
			unix.Close(fd)
			return
		}
		src.Send(mime, fd)
	}
	cancelled := func() {
		logrus.WithField("seat", s.name).Debugln("Host replaced the panel selection")
	}
	if err := s.host.SetSelection(src.MimeTypes(), send, cancelled); err != nil {
		logrus.WithError(err).WithField("seat", s.name).Warnln("Failed to forward selection to the host")
	}
}

// hostDrag is a host drag over one of the panel's surfaces
type hostDrag struct {
	panel  Panel
	target space.Surface
	offer  Offer
	serial uint32
}

// HostDrag routes one host drag event
func (s *Seat) HostDrag(e host.DragEvent) {
	var o Offer
	if e.Offer != nil {
		o = e.Offer
	}
	s.hostDrag(e.Kind, e.Target, e.Serial, e.Time, e.Pos, o)
}

func (s *Seat) hostDrag(kind host.DragKind, target space.Surface, serial, ms uint32, pos geom.Point[float64], o Offer) {
	switch kind {
	case host.DragEnter:
		if o == nil {
			// drags without data have nothing to give applets
			return
		}
		p := s.bridge.panels.PanelFor(target)
		if p == nil {
			return
		}
		hit := p.Under(target, pos)
		d := &hostDrag{panel: p, target: target, offer: o, serial: serial}
		s.dnd = d
		s.bridge.server.StartServerDnd(s.inner, server.GrabStart{
			Button:   BtnLeft,
			Focus:    hit.Surface,
			Location: hit.Local,
		}, server.DndMetadata{
			MimeTypes: o.MimeTypes(),
			Actions:   o.Actions(),
		}, func(ev server.DndEvent) {
			d.event(ev)
		})
	case host.DragMotion:
		d := s.dnd
		if d == nil {
			return
		}
		hit := d.panel.Under(d.target, pos)
		s.inner.DndMotion(hit.Surface, ms, hit.Local)
	case host.DragDrop:
		if s.dnd == nil {
			return
		}
		s.dnd = nil
		s.inner.DndDrop()
		s.inner.PointerButton(ms, BtnLeft, server.ButtonReleased)
	case host.DragLeave:
		if s.dnd == nil {
			return
		}
		s.dnd = nil
		s.inner.PointerMotion(ms, geom.Point[float64]{})
		s.inner.DndLeave()
	}
}

// event mirrors what the applet does with its inner offer onto the host offer
func (d *hostDrag) event(ev server.DndEvent) {
	switch ev.Kind {
	case server.DndAccept:
		d.offer.Accept(d.serial, ev.Mime)
	case server.DndReceive:
		if err := d.offer.Receive(ev.Mime, ev.FD); err != nil {
			logrus.WithError(err).WithField("mime", ev.Mime).Warnln("Failed to read host drag data")
		}
	case server.DndActions:
		d.offer.SetActions(ev.Actions, ev.Preferred)
	case server.DndFinish:
		d.offer.Finish()
		d.offer.Destroy()
	}
}

// innerDrag is a drag an applet started inside the panel
type innerDrag struct {
	src  *server.DataSource
	icon *server.Surface
}

// DragStarted runs an applet drag on the inner seat. The drag stays inside
// the panel, its icon is shown as the host cursor
func (b *Bridge) DragStarted(inner *server.Seat, src *server.DataSource, icon *server.Surface) {
	s := b.seatFor(inner)
	if s == nil || s.pointer.panel == nil || inner.PointerFocus() == nil || s.drag != nil {
		if src != nil {
			src.Cancel()
		}
		return
	}
	var meta server.DndMetadata
	if src != nil {
		meta = server.DndMetadata{MimeTypes: src.MimeTypes(), Actions: src.Actions()}
	}
	s.stopHover()
	s.drag = &innerDrag{src: src, icon: icon}
	b.server.StartServerDnd(inner, server.GrabStart{
		Button:   BtnLeft,
		Focus:    inner.PointerFocus(),
		Location: s.pointer.hit.Local,
	}, meta, func(ev server.DndEvent) {
		innerDragEvent(src, ev)
	})
	s.showIcon()
}

func innerDragEvent(src *server.DataSource, ev server.DndEvent) {
	if src == nil || !src.Alive() {
		if ev.Kind == server.DndReceive {
			unix.Close(ev.FD)
		}
		return
	}
	switch ev.Kind {
	case server.DndAccept:
		src.Target(ev.Mime)
	case server.DndReceive:
		src.Send(ev.Mime, ev.FD)
	case server.DndActions:
		if a := ev.Preferred & src.Actions(); a != 0 {
			src.Action(a)
		}
	case server.DndFinish:
		src.Finished()
	}
}

func (s *Seat) drop(ms uint32) {
	d := s.drag
	s.drag = nil
	s.inner.DndDrop()
	if d.src != nil {
		d.src.DropPerformed()
	}
	s.arrowOn = false
	// the grab took pointer focus, give it back
	s.route(ms, s.pointer.pos)
}

func (s *Seat) cancelDrag() {
	d := s.drag
	s.drag = nil
	s.inner.DndLeave()
	if d.src != nil {
		d.src.Cancel()
	}
	s.arrowOn = false
}

func (s *Seat) showIcon() {
	icon := s.drag.icon
	if icon == nil || !icon.Alive() || !icon.Mapped() {
		s.host.SetCursor(nil, image.Rectangle{}, geom.Point[int]{}, 1)
		return
	}
	s.host.SetCursor(icon.Image(), icon.SourceRect(), geom.Point[int]{}, icon.BufferScale())
}

// CursorSet follows an applet's wl_pointer.set_cursor. A nil surf hides the pointer
func (b *Bridge) CursorSet(inner *server.Seat, surf *server.Surface) {
	s := b.seatFor(inner)
	if s == nil {
		return
	}
	s.cursor = surf
	s.arrowOn = false
	if s.drag == nil {
		s.showCursor()
	}
}

func (s *Seat) showCursor() {
	surf := s.cursor
	if surf == nil {
		s.host.SetCursor(nil, image.Rectangle{}, geom.Point[int]{}, 1)
		return
	}
	if !surf.Alive() || !surf.Mapped() {
		return
	}
	hs := surf.Hotspot()
	s.host.SetCursor(surf.Image(), surf.SourceRect(), geom.Pt(int(hs.X), int(hs.Y)), surf.BufferScale())
}

// Committed forwards commits of cursor and drag icon surfaces to the host
func (b *Bridge) Committed(surf *server.Surface) {
	switch surf.Role() {
	case server.RoleCursor, server.RoleDndIcon:
	default:
		return
	}
	for _, s := range b.seats {
		switch {
		case s.drag != nil && s.drag.icon == surf:
			s.showIcon()
		case s.drag == nil && s.cursor == surf:
			s.showCursor()
		}
	}
}
