package server

import (
	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/wire"
	"github.com/sirupsen/logrus"
)

// wl_data_device_manager dnd actions
const (
	DndActionNone = 0
	DndActionCopy = 1
	DndActionMove = 2
	DndActionAsk  = 4
)

// Selection is a clipboard source the server can offer to applets
type Selection interface {
	MimeTypes() []string
	// Send writes the data for mime into fd and owns fd from then on
	Send(mime string, fd int)
	// Cancel tells the source it was replaced
	Cancel()
}

func bindDataDeviceManager(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "wl_data_device_manager", version)
	if err != nil {
		return err
	}
	c.add(&dataDeviceManager{res})
	return nil
}

type dataDeviceManager struct{ Resource }

func (m *dataDeviceManager) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // create_data_source
		id := d.NewID()
		if d.Err() != nil {
			return d.Err()
		}
		res, err := m.child(id, "wl_data_source")
		if err != nil {
			return err
		}
		m.client.add(&DataSource{Resource: res})
	case 1: // get_data_device
		id := d.NewID()
		seatID := d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		sr, err := mustLookup[*seatResource](&m.Resource, seatID)
		if err != nil {
			return err
		}
		res, err := m.child(id, "wl_data_device")
		if err != nil {
			return err
		}
		dev := &dataDevice{Resource: res, seat: sr}
		sr.devices = append(sr.devices, dev)
		m.client.add(dev)
		if f := sr.seat.keyboardFocus; f != nil && f.client == m.client {
			dev.offerSelection(sr.seat.selection)
		}
	default:
		return protoErr(&m.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

// DataSource is a selection or drag source owned by an applet
type DataSource struct {
	Resource
	mimes   []string
	actions uint32
	used    bool
	dead    bool

	// Data belongs to the bridge
	Data any
}

func (ds *DataSource) MimeTypes() []string { return ds.mimes }
func (ds *DataSource) Actions() uint32     { return ds.actions }
func (ds *DataSource) Alive() bool         { return !ds.dead && ds.client.Alive() }

func (ds *DataSource) Send(mime string, fd int) {
	if !ds.Alive() {
		closeFD(fd)
		return
	}
	ds.send(ds.event(1).String(mime).OwnedFD(fd))
}

func (ds *DataSource) Cancel() {
	if ds.Alive() {
		ds.send(ds.event(2))
	}
}

// Target reports the mime the drop target accepted, "" for none
func (ds *DataSource) Target(mime string) {
	if !ds.Alive() {
		return
	}
	b := ds.event(0)
	if mime == "" {
		b.NullString()
	} else {
		b.String(mime)
	}
	ds.send(b)
}

func (ds *DataSource) DropPerformed() {
	if ds.Alive() && ds.version >= 3 {
		ds.send(ds.event(3))
	}
}

func (ds *DataSource) Finished() {
	if ds.Alive() && ds.version >= 3 {
		ds.send(ds.event(4))
	}
}

func (ds *DataSource) Action(a uint32) {
	if ds.Alive() && ds.version >= 3 {
		ds.send(ds.event(5).Uint(a))
	}
}

func (ds *DataSource) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // offer
		mime := d.String()
		if d.Err() != nil {
			return d.Err()
		}
		ds.mimes = append(ds.mimes, mime)
	case 1:
		ds.client.destroy(ds.id)
	case 2: // set_actions
		a := d.Uint()
		if d.Err() == nil && a&^(DndActionCopy|DndActionMove|DndActionAsk) != 0 {
			return protoErr(&ds.Resource, 0, "invalid action mask %#x", a)
		}
		ds.actions = a
	default:
		return protoErr(&ds.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (ds *DataSource) destroyed() {
	ds.dead = true
	for _, seat := range ds.client.server.seats {
		if seat.selection == Selection(ds) {
			seat.selection = nil
			seat.offerSelection(seat.focusClient())
			seat.server.handler.SelectionSet(seat, nil)
		}
	}
}

type dataDevice struct {
	Resource
	seat *seatResource
}

func (dev *dataDevice) request(op uint16, d *wire.Decoder) error {
	seat := dev.seat.seat
	switch op {
	case 0: // start_drag
		srcID, originID, iconID := d.Object(), d.Object(), d.Object()
		serial := d.Uint()
		if d.Err() != nil {
			return d.Err()
		}
		var src *DataSource
		if srcID != 0 {
			s, err := mustLookup[*DataSource](&dev.Resource, srcID)
			if err != nil {
				return err
			}
			src = s
			src.used = true
		}
		origin, err := mustLookup[*Surface](&dev.Resource, originID)
		if err != nil {
			return err
		}
		var icon *Surface
		if iconID != 0 {
			icon, err = mustLookup[*Surface](&dev.Resource, iconID)
			if err != nil {
				return err
			}
			if err := icon.setRole(RoleDndIcon, &dev.Resource, 0); err != nil {
				return err
			}
		}
		seat.server.handler.DragStarted(seat, src, origin, icon, serial)
	case 1: // set_selection
		srcID := d.Object()
		d.Uint()
		if d.Err() != nil {
			return d.Err()
		}
		if srcID == 0 {
			seat.replaceSelection(nil)
			seat.server.handler.SelectionSet(seat, nil)
			return nil
		}
		src, err := mustLookup[*DataSource](&dev.Resource, srcID)
		if err != nil {
			return err
		}
		if src.used {
			return protoErr(&dev.Resource, 1, "data source already used")
		}
		src.used = true
		seat.replaceSelection(src)
		seat.server.handler.SelectionSet(seat, src)
	case 2:
		dev.client.destroy(dev.id)
	default:
		return protoErr(&dev.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (dev *dataDevice) destroyed() {
	dev.seat.devices = remove(dev.seat.devices, dev)
}

// newOffer announces a server side offer for sel on this device
func (dev *dataDevice) newOffer(mimes []string) *dataOffer {
	res := dev.client.serverResource("wl_data_offer", dev.version)
	o := &dataOffer{Resource: res}
	dev.client.add(o)
	dev.send(dev.event(0).Uint(o.id))
	for _, m := range mimes {
		o.send(o.event(0).String(m))
	}
	return o
}

func (dev *dataDevice) offerSelection(sel Selection) {
	if sel == nil {
		dev.send(dev.event(5).Object(0))
		return
	}
	o := dev.newOffer(sel.MimeTypes())
	o.selection = sel
	dev.send(dev.event(5).Object(o.id))
}

// dataOffer is what an applet sees of a selection or a drag
type dataOffer struct {
	Resource
	selection Selection
	grab      *dndGrab
}

func (o *dataOffer) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // accept
		d.Uint()
		mime := d.String()
		if d.Err() != nil {
			return d.Err()
		}
		if o.grab != nil {
			o.grab.emit(DndEvent{Kind: DndAccept, Mime: mime})
		}
	case 1: // receive
		mime := d.String()
		fd := d.FD()
		if d.Err() != nil {
			closeFD(fd)
			return d.Err()
		}
		switch {
		case o.selection != nil:
			o.selection.Send(mime, fd)
		case o.grab != nil:
			o.grab.emit(DndEvent{Kind: DndReceive, Mime: mime, FD: fd})
		default:
			closeFD(fd)
		}
	case 2:
		o.client.destroy(o.id)
	case 3: // finish
		if o.grab != nil {
			o.grab.emit(DndEvent{Kind: DndFinish})
		}
	case 4: // set_actions
		actions, preferred := d.Uint(), d.Uint()
		if d.Err() != nil {
			return d.Err()
		}
		if o.grab != nil {
			o.grab.emit(DndEvent{Kind: DndActions, Actions: actions, Preferred: preferred})
			o.send(o.event(2).Uint(o.grab.negotiate(actions, preferred)))
		}
	default:
		return protoErr(&o.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (s *Seat) focusClient() *Client {
	if s.keyboardFocus == nil {
		return nil
	}
	return s.keyboardFocus.client
}

func (s *Seat) replaceSelection(sel Selection) {
	if s.selection != nil && s.selection != sel {
		s.selection.Cancel()
	}
	s.selection = sel
	s.offerSelection(s.focusClient())
}

// SetSelection installs a selection that lives outside the inner server,
// the host clipboard in practice. nil clears it
func (s *Seat) SetSelection(sel Selection) {
	s.replaceSelection(sel)
}

func (s *Seat) offerSelection(c *Client) {
	s.forClient(c, func(r *seatResource) {
		for _, dev := range r.devices {
			dev.offerSelection(s.selection)
		}
	})
}

type DndEventKind int

const (
	DndAccept DndEventKind = iota
	DndReceive
	DndActions
	DndFinish
)

// DndEvent is what a drop target did with a server driven drag
type DndEvent struct {
	Kind      DndEventKind
	Mime      string
	FD        int
	Actions   uint32
	Preferred uint32
}

type GrabStart struct {
	Button   uint32
	Focus    *Surface
	Location geom.Point[float64]
}

type DndMetadata struct {
	MimeTypes []string
	Actions   uint32
}

type dndGrab struct {
	seat    *Seat
	meta    DndMetadata
	onEvent func(DndEvent)
	button  uint32
	focus   *Surface
	offer   *dataOffer
}

func (g *dndGrab) emit(e DndEvent) {
	if g.onEvent != nil {
		g.onEvent(e)
		return
	}
	if e.Kind == DndReceive {
		closeFD(e.FD)
	}
}

func (g *dndGrab) negotiate(actions, preferred uint32) uint32 {
	common := actions & g.meta.Actions
	if preferred&common != 0 {
		return preferred
	}
	for _, a := range []uint32{DndActionCopy, DndActionMove, DndActionAsk} {
		if common&a != 0 {
			return a
		}
	}
	return DndActionNone
}

// StartServerDnd runs a drag that originates outside the inner server. Applet
// actions on the drag come back through onEvent
func (s *Server) StartServerDnd(seat *Seat, start GrabStart, meta DndMetadata, onEvent func(DndEvent)) {
	if seat.dnd != nil {
		seat.DndLeave()
	}
	seat.PointerLeave()
	seat.dnd = &dndGrab{seat: seat, meta: meta, onEvent: onEvent, button: start.Button}
	logrus.WithField("seat", seat.name).Debugln("Starting server side drag")
	seat.dndEnter(start.Focus, start.Location)
}

func (s *Seat) DndActive() bool { return s.dnd != nil }

func (s *Seat) dndEnter(surf *Surface, pos geom.Point[float64]) {
	g := s.dnd
	if surf == nil || !surf.Alive() {
		return
	}
	g.focus = surf
	serial := s.server.NextSerial()
	s.forClient(surf.client, func(r *seatResource) {
		for _, dev := range r.devices {
			o := dev.newOffer(g.meta.MimeTypes)
			o.grab = g
			if o.version >= 3 {
				o.send(o.event(1).Uint(g.meta.Actions))
			}
			if g.offer == nil {
				g.offer = o
			}
			dev.send(dev.event(1).Uint(serial).Object(surf.id).Fixed(fixed(pos.X)).Fixed(fixed(pos.Y)).Object(o.id))
		}
	})
}

func (s *Seat) dndLeaveFocus() {
	g := s.dnd
	if g.focus == nil {
		return
	}
	if g.focus.Alive() {
		s.forClient(g.focus.client, func(r *seatResource) {
			for _, dev := range r.devices {
				dev.send(dev.event(2))
			}
		})
	}
	g.focus = nil
	g.offer = nil
}

// DndMotion moves the drag, crossing into surf if focus changed
func (s *Seat) DndMotion(surf *Surface, time uint32, pos geom.Point[float64]) {
	if s.dnd == nil {
		return
	}
	if surf != s.dnd.focus {
		s.dndLeaveFocus()
		s.dndEnter(surf, pos)
		return
	}
	s.dndMotion(time, pos)
}

func (s *Seat) dndMotion(time uint32, pos geom.Point[float64]) {
	g := s.dnd
	if g.focus == nil || !g.focus.Alive() {
		return
	}
	s.forClient(g.focus.client, func(r *seatResource) {
		for _, dev := range r.devices {
			dev.send(dev.event(3).Uint(time).Fixed(fixed(pos.X)).Fixed(fixed(pos.Y)))
		}
	})
}

// DndDrop drops on the current focus and ends the grab. The offer stays
// usable for receive and finish
func (s *Seat) DndDrop() {
	g := s.dnd
	if g == nil {
		return
	}
	if g.focus != nil && g.focus.Alive() {
		s.forClient(g.focus.client, func(r *seatResource) {
			for _, dev := range r.devices {
				dev.send(dev.event(4))
			}
		})
	}
	s.dnd = nil
}

// DndLeave cancels the drag for the applets
func (s *Seat) DndLeave() {
	if s.dnd == nil {
		return
	}
	s.dndLeaveFocus()
	s.dnd = nil
}
