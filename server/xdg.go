package server

import (
	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/wire"
)

// xdg_wm_base error codes
const (
	wmRole               = 0
	wmDefunctSurfaces    = 1
	wmNotTopmostPopup    = 2
	wmInvalidPopupParent = 3
	wmInvalidSurface     = 4
	wmInvalidPositioner  = 5
)

// xdg_surface error codes
const (
	xdgNotConstructed     = 1
	xdgAlreadyConstructed = 2
	xdgUnconfiguredBuffer = 3
	xdgInvalidSerial      = 4
)

func bindWmBase(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "xdg_wm_base", version)
	if err != nil {
		return err
	}
	c.add(&wmBase{res})
	return nil
}

type wmBase struct{ Resource }

func (w *wmBase) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		w.client.destroy(w.id)
	case 1: // create_positioner
		id := d.NewID()
		if d.Err() != nil {
			return d.Err()
		}
		res, err := w.child(id, "xdg_positioner")
		if err != nil {
			return err
		}
		w.client.add(&positioner{Resource: res})
	case 2: // get_xdg_surface
		id := d.NewID()
		surfID := d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		surf, err := mustLookup[*Surface](&w.Resource, surfID)
		if err != nil {
			return err
		}
		if surf.xdg != nil || (surf.role != RoleNone && surf.role != RoleToplevel && surf.role != RolePopup) {
			return protoErr(&w.Resource, wmRole, "surface already has a role")
		}
		if surf.image != nil || surf.pending.buffer != nil {
			return protoErr(&w.Resource, wmInvalidSurface, "surface already has a buffer")
		}
		res, err := w.child(id, "xdg_surface")
		if err != nil {
			return err
		}
		xs := &XdgSurface{Resource: res, surface: surf}
		surf.xdg = xs
		w.client.add(xs)
	case 3: // pong
		d.Uint()
	default:
		return protoErr(&w.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

// Positioner is the placement request of a popup, in parent window geometry coordinates
type Positioner struct {
	Size                 geom.Point[int]
	AnchorRect           geom.Rect[int]
	Anchor               uint32
	Gravity              uint32
	ConstraintAdjustment uint32
	Offset               geom.Point[int]
	Reactive             bool
	ParentSize           geom.Point[int]
	ParentConfigure      uint32
}

func (p Positioner) valid() bool {
	return p.Size.X > 0 && p.Size.Y > 0 && p.AnchorRect.Dx() > 0 && p.AnchorRect.Dy() > 0
}

type positioner struct {
	Resource
	p Positioner
}

func (p *positioner) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		p.client.destroy(p.id)
	case 1: // set_size
		w, h := d.Int(), d.Int()
		if d.Err() == nil && (w <= 0 || h <= 0) {
			return protoErr(&p.Resource, 0, "invalid size %dx%d", w, h)
		}
		p.p.Size = geom.Pt(int(w), int(h))
	case 2: // set_anchor_rect
		x, y, w, h := d.Int(), d.Int(), d.Int(), d.Int()
		if d.Err() == nil && (w < 0 || h < 0) {
			return protoErr(&p.Resource, 0, "invalid anchor rect %dx%d", w, h)
		}
		// a zero sized anchor rect still anchors at a point
		p.p.AnchorRect = geom.Rt(int(x), int(y), int(x)+max(int(w), 1), int(y)+max(int(h), 1))
	case 3:
		p.p.Anchor = d.Uint()
	case 4:
		p.p.Gravity = d.Uint()
	case 5:
		p.p.ConstraintAdjustment = d.Uint()
	case 6:
		x, y := d.Int(), d.Int()
		p.p.Offset = geom.Pt(int(x), int(y))
	case 7:
		p.p.Reactive = true
	case 8:
		w, h := d.Int(), d.Int()
		p.p.ParentSize = geom.Pt(int(w), int(h))
	case 9:
		p.p.ParentConfigure = d.Uint()
	default:
		return protoErr(&p.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

// XdgSurface tracks the configure handshake shared by toplevels and popups
type XdgSurface struct {
	Resource
	surface  *Surface
	toplevel *Toplevel
	popup    *Popup

	geometry        geom.Rect[int]
	pendingGeometry *geom.Rect[int]

	sent        []uint32
	acked       uint32
	configured  bool
	initial     bool
	constructed bool
}

func (x *XdgSurface) Surface() *Surface { return x.surface }

// Configured reports whether the client acked at least one configure
func (x *XdgSurface) Configured() bool { return x.configured }

// Geometry is the window geometry, or the surface bounds when none was set
func (x *XdgSurface) Geometry() geom.Rect[int] {
	if !x.geometry.Empty() {
		return x.geometry
	}
	return geom.Rect[int]{Max: x.surface.Size()}
}

func (x *XdgSurface) configure() uint32 {
	serial := x.client.server.NextSerial()
	x.sent = append(x.sent, serial)
	x.send(x.event(0).Uint(serial))
	return serial
}

func (x *XdgSurface) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		x.client.destroy(x.id)
	case 1: // get_toplevel
		id := d.NewID()
		if d.Err() != nil {
			return d.Err()
		}
		if x.toplevel != nil || x.popup != nil {
			return protoErr(&x.Resource, xdgAlreadyConstructed, "role object already created")
		}
		if err := x.surface.setRole(RoleToplevel, &x.Resource, wmRole); err != nil {
			return err
		}
		res, err := x.child(id, "xdg_toplevel")
		if err != nil {
			return err
		}
		t := &Toplevel{Resource: res, xdg: x}
		x.constructed = true
		x.toplevel = t
		x.surface.toplevel = t
		x.client.add(t)
	case 2: // get_popup
		id := d.NewID()
		parentID, posID := d.Object(), d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		if x.toplevel != nil || x.popup != nil {
			return protoErr(&x.Resource, xdgAlreadyConstructed, "role object already created")
		}
		pos, err := mustLookup[*positioner](&x.Resource, posID)
		if err != nil {
			return err
		}
		if !pos.p.valid() {
			return protoErr(&x.Resource, wmInvalidPositioner, "incomplete positioner")
		}
		var parent *Surface
		if parentID != 0 {
			px, err := mustLookup[*XdgSurface](&x.Resource, parentID)
			if err != nil {
				return err
			}
			parent = px.surface
		}
		if err := x.surface.setRole(RolePopup, &x.Resource, wmRole); err != nil {
			return err
		}
		res, err := x.child(id, "xdg_popup")
		if err != nil {
			return err
		}
		p := &Popup{Resource: res, xdg: x, parent: parent, positioner: pos.p}
		x.constructed = true
		x.popup = p
		x.surface.popup = p
		x.client.add(p)
	case 3: // set_window_geometry
		gx, gy, gw, gh := d.Int(), d.Int(), d.Int(), d.Int()
		if d.Err() != nil {
			return d.Err()
		}
		if gw <= 0 || gh <= 0 {
			return protoErr(&x.Resource, 5, "invalid window geometry %dx%d", gw, gh)
		}
		r := geom.Rt(int(gx), int(gy), int(gx)+int(gw), int(gy)+int(gh))
		x.pendingGeometry = &r
	case 4: // ack_configure
		serial := d.Uint()
		if d.Err() != nil {
			return d.Err()
		}
		return x.ack(serial)
	default:
		return protoErr(&x.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (x *XdgSurface) ack(serial uint32) error {
	for i, s := range x.sent {
		if s == serial {
			x.sent = x.sent[i+1:]
			x.acked = serial
			x.configured = true
			return nil
		}
	}
	return protoErr(&x.Resource, xdgInvalidSerial, "unknown configure serial %d", serial)
}

func (x *XdgSurface) checkCommit(p surfaceState) error {
	if !x.constructed {
		return protoErr(&x.Resource, xdgNotConstructed, "commit before role object")
	}
	if p.attached && p.buffer != nil && !x.configured {
		return protoErr(&x.Resource, xdgUnconfiguredBuffer, "buffer attached before first configure")
	}
	return nil
}

func (x *XdgSurface) committed() {
	if x.pendingGeometry != nil {
		x.geometry = *x.pendingGeometry
		x.pendingGeometry = nil
	}
	if x.initial {
		return
	}
	x.initial = true
	h := x.client.server.handler
	switch {
	case x.toplevel != nil:
		h.ToplevelCreated(x.toplevel)
	case x.popup != nil:
		p := x.popup
		h.PopupCreated(p)
		if p.grabSeat != nil && !p.dead {
			h.PopupGrab(p, p.grabSeat, p.grabSerial)
		}
	}
}

func (x *XdgSurface) destroyed() {
	if x.surface.xdg == x {
		x.surface.xdg = nil
	}
}

type Toplevel struct {
	Resource
	xdg *XdgSurface

	title   string
	appID   string
	minSize geom.Point[int]
	maxSize geom.Point[int]

	size   geom.Point[int]
	bounds geom.Point[int]

	dead bool

	// Data belongs to whoever manages the toplevel on the panel side
	Data any
}

func (t *Toplevel) Surface() *Surface         { return t.xdg.surface }
func (t *Toplevel) XdgSurface() *XdgSurface   { return t.xdg }
func (t *Toplevel) Title() string             { return t.title }
func (t *Toplevel) AppID() string             { return t.appID }
func (t *Toplevel) MinSize() geom.Point[int]  { return t.minSize }
func (t *Toplevel) MaxSize() geom.Point[int]  { return t.maxSize }
func (t *Toplevel) Alive() bool               { return !t.dead && t.client.Alive() }

// ConfiguredSize is the last size sent, zero when the client picks
func (t *Toplevel) ConfiguredSize() geom.Point[int] { return t.size }

// Configure sends a new size and bounds. A zero size lets the client choose
func (t *Toplevel) Configure(size, bounds geom.Point[int]) uint32 {
	if t.dead {
		return 0
	}
	t.size = size
	t.bounds = bounds
	if t.version >= 4 && (bounds.X > 0 || bounds.Y > 0) {
		t.send(t.event(2).Int(int32(bounds.X)).Int(int32(bounds.Y)))
	}
	t.send(t.event(0).Int(int32(size.X)).Int(int32(size.Y)).Array(nil))
	return t.xdg.configure()
}

// SendClose asks the client to close the window
func (t *Toplevel) SendClose() {
	if !t.dead {
		t.send(t.event(1))
	}
}

func (t *Toplevel) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		t.client.destroy(t.id)
	case 2:
		t.title = d.String()
	case 3:
		t.appID = d.String()
	case 7:
		w, h := d.Int(), d.Int()
		t.maxSize = geom.Pt(int(w), int(h))
	case 8:
		w, h := d.Int(), d.Int()
		t.minSize = geom.Pt(int(w), int(h))
	case 1, 4, 5, 6, 9, 10, 11, 12, 13:
		// parent, menus, interactive move and resize and window states have no meaning on a panel
	default:
		return protoErr(&t.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (t *Toplevel) destroyed() {
	if t.dead {
		return
	}
	t.dead = true
	if t.xdg.surface.toplevel == t {
		t.xdg.surface.toplevel = nil
	}
	if t.xdg.toplevel == t {
		t.xdg.toplevel = nil
	}
	if t.xdg.initial {
		t.client.server.handler.ToplevelDestroyed(t)
	}
}

type Popup struct {
	Resource
	xdg        *XdgSurface
	parent     *Surface
	positioner Positioner
	geometry   geom.Rect[int]
	dead       bool

	grabSeat   *Seat
	grabSerial uint32

	// Data belongs to whoever manages the popup on the panel side
	Data any
}

func (p *Popup) Surface() *Surface       { return p.xdg.surface }
func (p *Popup) XdgSurface() *XdgSurface { return p.xdg }
func (p *Popup) Positioner() Positioner  { return p.positioner }
func (p *Popup) Alive() bool             { return !p.dead && p.client.Alive() }

// Parent is the parent xdg or layer surface. Nil only for a popup that never got one
func (p *Popup) Parent() *Surface { return p.parent }

// Geometry is the last configured position relative to the parent
func (p *Popup) Geometry() geom.Rect[int] { return p.geometry }

// Configure places the popup relative to its parent
func (p *Popup) Configure(r geom.Rect[int]) uint32 {
	if p.dead {
		return 0
	}
	p.geometry = r
	p.send(p.event(0).Int(int32(r.Min.X)).Int(int32(r.Min.Y)).Int(int32(r.Dx())).Int(int32(r.Dy())))
	return p.xdg.configure()
}

// Done dismisses the popup
func (p *Popup) Done() {
	if !p.dead {
		p.send(p.event(1))
	}
}

func (p *Popup) Repositioned(token uint32) {
	if !p.dead && p.version >= 3 {
		p.send(p.event(2).Uint(token))
	}
}

func (p *Popup) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		p.client.destroy(p.id)
	case 1: // grab
		seatID, serial := d.Object(), d.Uint()
		if d.Err() != nil {
			return d.Err()
		}
		sr, err := mustLookup[*seatResource](&p.Resource, seatID)
		if err != nil {
			return err
		}
		if p.xdg.surface.Mapped() {
			return protoErr(&p.Resource, 0, "grab after the popup was mapped")
		}
		if !p.xdg.initial {
			// reported together with the popup on its initial commit
			p.grabSeat, p.grabSerial = sr.seat, serial
			return nil
		}
		p.client.server.handler.PopupGrab(p, sr.seat, serial)
	case 2: // reposition
		posID, token := d.Object(), d.Uint()
		if d.Err() != nil {
			return d.Err()
		}
		pos, err := mustLookup[*positioner](&p.Resource, posID)
		if err != nil {
			return err
		}
		if !pos.p.valid() {
			return protoErr(&p.Resource, wmInvalidPositioner, "incomplete positioner")
		}
		p.positioner = pos.p
		p.client.server.handler.PopupRepositioned(p, token)
	default:
		return protoErr(&p.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (p *Popup) destroyed() {
	if p.dead {
		return
	}
	p.dead = true
	if p.xdg.surface.popup == p {
		p.xdg.surface.popup = nil
	}
	if p.xdg.popup == p {
		p.xdg.popup = nil
	}
	if p.xdg.initial {
		p.client.server.handler.PopupDestroyed(p)
	}
}
