package host

import (
	"fmt"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/space"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Offer is a host wl_data_offer, from the clipboard or a drag
type Offer struct {
	proxy *client.DataOffer
	Mimes []string
	// SourceActions and Action are only meaningful for drags
	SourceActions uint32
	Action        uint32
	dead          bool
}

// Receive asks the source to write mime into fd. fd is closed here
func (o *Offer) Receive(mime string, fd int) error {
	defer unix.Close(fd)
	if o.dead {
		return fmt.Errorf("offer is gone")
	}
	return o.proxy.Receive(mime, fd)
}

func (o *Offer) Accept(serial uint32, mime string) {
	if !o.dead {
		o.proxy.Accept(serial, mime)
	}
}

func (o *Offer) SetActions(actions, preferred uint32) {
	if !o.dead {
		o.proxy.SetActions(actions, preferred)
	}
}

func (o *Offer) Finish() {
	if !o.dead {
		o.proxy.Finish()
	}
}

func (o *Offer) MimeTypes() []string { return o.Mimes }
func (o *Offer) Actions() uint32      { return o.SourceActions }

// Destroy lets go of a dropped offer once the target is done with it
func (o *Offer) Destroy() { o.destroy() }

func (o *Offer) destroy() {
	if o == nil || o.dead {
		return
	}
	o.dead = true
	o.proxy.Destroy()
}

type DragKind int

const (
	DragEnter = DragKind(iota)
	DragLeave
	DragMotion
	DragDrop
)

// DragEvent is a host drag crossing one of the panel's surfaces
type DragEvent struct {
	Kind   DragKind
	Target space.Surface
	Serial uint32
	Time   uint32
	Pos    geom.Point[float64]
	Offer  *Offer
}

type dataDevice struct {
	seat  *Seat
	proxy *client.DataDevice

	offers    map[*client.DataOffer]*Offer
	selection *Offer
	drag      *Offer

	source *client.DataSource
	// mine is set while the selection event for our own source is due
	mine bool
}

func (s *Seat) setupData() {
	h := s.host
	if s.data != nil || h.dataManager == nil || !s.announced {
		return
	}
	proxy, err := h.dataManager.GetDataDevice(s.proxy)
	if err != nil {
		logrus.WithError(err).WithField("seat", s.Name).Warnln("Failed to get host data device")
		return
	}
	d := &dataDevice{seat: s, proxy: proxy, offers: map[*client.DataOffer]*Offer{}}
	s.data = d

	proxy.SetDataOfferHandler(func(e client.DataDeviceDataOfferEvent) {
		// mime events follow on this goroutine before anything posted runs,
		// so the handlers go on right here
		o := &Offer{proxy: e.Id}
		e.Id.SetOfferHandler(func(e client.DataOfferOfferEvent) {
			h.post(func() { o.Mimes = append(o.Mimes, e.MimeType) })
		})
		e.Id.SetSourceActionsHandler(func(e client.DataOfferSourceActionsEvent) {
			h.post(func() { o.SourceActions = e.SourceActions })
		})
		e.Id.SetActionHandler(func(e client.DataOfferActionEvent) {
			h.post(func() { o.Action = e.DndAction })
		})
		h.post(func() { d.offers[e.Id] = o })
	})
	proxy.SetSelectionHandler(func(e client.DataDeviceSelectionEvent) {
		h.post(func() { d.selectionChanged(e.Id) })
	})
	proxy.SetEnterHandler(func(e client.DataDeviceEnterEvent) {
		h.post(func() {
			d.drag.destroy()
			d.drag = d.take(e.Id)
			h.events.Drag(s, DragEvent{Kind: DragEnter, Target: h.target(e.Surface), Serial: e.Serial, Pos: geom.Pt(e.X, e.Y), Offer: d.drag})
		})
	})
	proxy.SetLeaveHandler(func(client.DataDeviceLeaveEvent) {
		h.post(func() {
			h.events.Drag(s, DragEvent{Kind: DragLeave, Offer: d.drag})
			d.drag.destroy()
			d.drag = nil
		})
	})
	proxy.SetMotionHandler(func(e client.DataDeviceMotionEvent) {
		h.post(func() {
			h.events.Drag(s, DragEvent{Kind: DragMotion, Time: e.Time, Pos: geom.Pt(e.X, e.Y), Offer: d.drag})
		})
	})
	proxy.SetDropHandler(func(client.DataDeviceDropEvent) {
		h.post(func() {
			// the offer stays alive until the target finishes with it
			h.events.Drag(s, DragEvent{Kind: DragDrop, Offer: d.drag})
			d.drag = nil
		})
	})
}

func (d *dataDevice) take(p *client.DataOffer) *Offer {
	if p == nil {
		return nil
	}
	o, ok := d.offers[p]
	if !ok {
		o = &Offer{proxy: p}
	}
	delete(d.offers, p)
	return o
}

func (d *dataDevice) selectionChanged(p *client.DataOffer) {
	o := d.take(p)
	if d.mine {
		d.mine = false
		if o != nil {
			logrus.WithField("seat", d.seat.Name).Debugln("Skipping host selection offer for our own source")
			o.destroy()
			return
		}
	}
	d.selection.destroy()
	d.selection = o
	d.seat.host.events.Selection(d.seat, o)
}

// SetSelection puts a panel side clipboard onto the host seat. send writes
// the data for mime into fd and owns fd. cancelled runs when the host
// replaced the selection
func (s *Seat) SetSelection(mimes []string, send func(mime string, fd int), cancelled func()) error {
	d := s.data
	if d == nil {
		return fmt.Errorf("seat %s has no data device", s.Name)
	}
	src, err := s.host.dataManager.CreateDataSource()
	if err != nil {
		return fmt.Errorf("create data source: %w", err)
	}
	for _, m := range mimes {
		src.Offer(m)
	}
	src.SetSendHandler(func(e client.DataSourceSendEvent) {
		s.host.post(func() { send(e.MimeType, e.Fd) })
	})
	src.SetCancelledHandler(func(client.DataSourceCancelledEvent) {
		s.host.post(func() {
			if d.source == src {
				d.source = nil
			}
			src.Destroy()
			cancelled()
		})
	})
	if err := d.proxy.SetSelection(src, s.LastSerial); err != nil {
		src.Destroy()
		return fmt.Errorf("set host selection: %w", err)
	}
	if d.source != nil {
		d.source.Destroy()
	}
	d.source = src
	d.mine = true
	return nil
}

// ClearSelection drops a panel side clipboard from the host seat
func (s *Seat) ClearSelection() {
	d := s.data
	if d == nil || d.source == nil {
		return
	}
	if err := d.proxy.SetSelection(nil, s.LastSerial); err != nil {
		logrus.WithError(err).Warnln("Failed to clear host selection")
	}
	d.source.Destroy()
	d.source = nil
}

func (d *dataDevice) destroy() {
	d.selection.destroy()
	d.drag.destroy()
	for _, o := range d.offers {
		o.destroy()
	}
	if d.source != nil {
		d.source.Destroy()
	}
	d.proxy.Release()
}
