package server

import (
	"image"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/wire"
)

// SurfaceRole is assigned once. Commits are dispatched on it
type SurfaceRole int

const (
	RoleNone SurfaceRole = iota
	RoleToplevel
	RolePopup
	RoleLayer
	RoleSubsurface
	RoleCursor
	RoleDndIcon
)

func (r SurfaceRole) String() string {
	switch r {
	case RoleToplevel:
		return "xdg_toplevel"
	case RolePopup:
		return "xdg_popup"
	case RoleLayer:
		return "zwlr_layer_surface_v1"
	case RoleSubsurface:
		return "wl_subsurface"
	case RoleCursor:
		return "cursor_image"
	case RoleDndIcon:
		return "dnd_icon"
	default:
		return "none"
	}
}

func bindCompositor(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "wl_compositor", version)
	if err != nil {
		return err
	}
	c.add(&compositor{res})
	return nil
}

type compositor struct{ Resource }

func (co *compositor) request(op uint16, d *wire.Decoder) error {
	id := d.NewID()
	if d.Err() != nil {
		return d.Err()
	}
	switch op {
	case 0: // create_surface
		res, err := co.child(id, "wl_surface")
		if err != nil {
			return err
		}
		s := &Surface{Resource: res, bufferScale: 1}
		s.stack = []*Surface{s}
		co.client.add(s)
	case 1: // create_region
		res, err := co.child(id, "wl_region")
		if err != nil {
			return err
		}
		co.client.add(&region{Resource: res})
	default:
		return protoErr(&co.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

type regionOp struct {
	r   geom.Rect[int]
	add bool
}

// region keeps the add and subtract operations in order instead of
// building a real region
type region struct {
	Resource
	ops []regionOp
}

func (r *region) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		r.client.destroy(r.id)
		return nil
	case 1, 2:
		x, y, w, h := d.Int(), d.Int(), d.Int(), d.Int()
		if d.Err() != nil {
			return d.Err()
		}
		rect := geom.Rt(int(x), int(y), int(x)+int(w), int(y)+int(h))
		r.ops = append(r.ops, regionOp{r: rect, add: op == 1})
		return nil
	}
	return protoErr(&r.Resource, errInvalidMethod, "bad opcode %d", op)
}

// Region is an immutable snapshot of a wl_region
type Region struct {
	ops []regionOp
}

func (r *Region) Contains(p geom.Point[int]) bool {
	in := false
	for _, op := range r.ops {
		if p.In(op.r) {
			in = op.add
		}
	}
	return in
}

// Bounds is the bounding box of everything ever added
func (r *Region) Bounds() geom.Rect[int] {
	var b geom.Rect[int]
	for _, op := range r.ops {
		if op.add {
			b = b.Union(op.r)
		}
	}
	return b
}

type surfaceState struct {
	attached bool
	buffer   *Buffer
	offset   geom.Point[int]

	damage       []geom.Rect[int]
	bufferDamage []geom.Rect[int]

	scale    int32
	scaleSet bool

	input    *Region
	inputSet bool

	frames []*callback
}

type Surface struct {
	Resource

	role     SurfaceRole
	toplevel *Toplevel
	popup    *Popup
	layer    *LayerSurface
	sub      *Subsurface
	xdg      *XdgSurface
	hotspot  geom.Point[int32]

	pending surfaceState

	image       *image.RGBA
	bufferScale int32
	input       *Region
	frames      []*callback
	damage      []geom.Rect[int]
	commits     uint64

	// children and the surface itself, bottom to top
	stack []*Surface

	viewport       *viewport
	fractional     *fractionalScale
	preferredScale float64
	outputs        map[*Output]bool

	dead bool

	// Data belongs to whoever manages the surface on the panel side
	Data any
}

func (s *Surface) Role() SurfaceRole          { return s.role }
func (s *Surface) Toplevel() *Toplevel        { return s.toplevel }
func (s *Surface) Popup() *Popup              { return s.popup }
func (s *Surface) LayerSurface() *LayerSurface { return s.layer }
func (s *Surface) Subsurface() *Subsurface    { return s.sub }
func (s *Surface) Hotspot() geom.Point[int32] { return s.hotspot }
func (s *Surface) BufferScale() int32        { return s.bufferScale }
func (s *Surface) Alive() bool                { return !s.dead && s.client.Alive() }

// Image is the last committed buffer, nil when nothing is attached
func (s *Surface) Image() *image.RGBA { return s.image }

func (s *Surface) Mapped() bool { return s.image != nil }

// Commits counts commits, so callers can tell an initial commit apart
func (s *Surface) Commits() uint64 { return s.commits }

func (s *Surface) setRole(role SurfaceRole, errObj *Resource, code uint32) error {
	if s.role != RoleNone && s.role != role {
		return protoErr(errObj, code, "surface already has role %s", s.role)
	}
	s.role = role
	return nil
}

// Size is the surface size in logical pixels
func (s *Surface) Size() geom.Point[int] {
	if s.viewport != nil {
		if s.viewport.dst.X > 0 && s.viewport.dst.Y > 0 {
			return s.viewport.dst
		}
		if !s.viewport.src.Empty() {
			return geom.Pt(int(s.viewport.src.Dx()), int(s.viewport.src.Dy()))
		}
	}
	if s.image == nil {
		return geom.Point[int]{}
	}
	b := s.image.Bounds()
	return geom.Pt(b.Dx()/int(s.bufferScale), b.Dy()/int(s.bufferScale))
}

// SourceRect is the part of Image that is shown at Size
func (s *Surface) SourceRect() image.Rectangle {
	if s.image == nil {
		return image.Rectangle{}
	}
	if s.viewport != nil && !s.viewport.src.Empty() {
		k := float64(s.bufferScale)
		src := s.viewport.src
		return image.Rect(int(src.Min.X*k), int(src.Min.Y*k), int(src.Max.X*k), int(src.Max.Y*k)).Intersect(s.image.Bounds())
	}
	return s.image.Bounds()
}

// Stack is the surface and its subsurfaces, bottom to top
func (s *Surface) Stack() []*Surface { return s.stack }

// Parent is the parent of a subsurface, nil otherwise
func (s *Surface) Parent() *Surface {
	if s.sub == nil {
		return nil
	}
	return s.sub.parent
}

// Root walks up the subsurface tree
func (s *Surface) Root() *Surface {
	for s.sub != nil && s.sub.parent != nil {
		s = s.sub.parent
	}
	return s
}

// InputContains tests a surface local point against the input region
func (s *Surface) InputContains(p geom.Point[int]) bool {
	if !p.In(geom.Rect[int]{Max: s.Size()}) {
		return false
	}
	return s.input == nil || s.input.Contains(p)
}

// InputArea is the area accepting input, in logical pixels squared
func (s *Surface) InputArea() int {
	full := geom.Rect[int]{Max: s.Size()}
	if s.input == nil {
		return full.Dx() * full.Dy()
	}
	b := s.input.Bounds().Intersect(full)
	return b.Dx() * b.Dy()
}

// TakeDamage returns the damage since the last call, in surface coordinates
func (s *Surface) TakeDamage() []geom.Rect[int] {
	d := s.damage
	s.damage = nil
	return d
}

// FrameDone fires the frame callbacks of the whole tree
func (s *Surface) FrameDone(ms uint32) {
	for _, c := range s.stack {
		if c != s {
			c.FrameDone(ms)
			continue
		}
		frames := s.frames
		s.frames = nil
		for _, cb := range frames {
			cb.done(ms)
		}
	}
}

func (s *Surface) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // destroy
		s.client.destroy(s.id)
	case 1: // attach
		bufID := d.Object()
		x, y := d.Int(), d.Int()
		if d.Err() != nil {
			return d.Err()
		}
		s.pending.attached = true
		s.pending.buffer = nil
		if bufID != 0 {
			b, err := mustLookup[*Buffer](&s.Resource, bufID)
			if err != nil {
				return err
			}
			s.pending.buffer = b
		}
		if s.version < 5 {
			s.pending.offset = geom.Pt(int(x), int(y))
		}
	case 2, 9: // damage, damage_buffer
		x, y, w, h := d.Int(), d.Int(), d.Int(), d.Int()
		if d.Err() != nil {
			return d.Err()
		}
		r := geom.Rt(int(x), int(y), int(x)+int(w), int(y)+int(h))
		if op == 2 {
			s.pending.damage = append(s.pending.damage, r)
		} else {
			s.pending.bufferDamage = append(s.pending.bufferDamage, r)
		}
	case 3: // frame
		id := d.NewID()
		if d.Err() != nil {
			return d.Err()
		}
		res, err := s.client.newResource(id, "wl_callback", 1)
		if err != nil {
			return err
		}
		cb := &callback{res}
		s.client.add(cb)
		s.pending.frames = append(s.pending.frames, cb)
	case 4: // set_opaque_region
		d.Object()
	case 5: // set_input_region
		id := d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		s.pending.inputSet = true
		s.pending.input = nil
		if id != 0 {
			r, err := mustLookup[*region](&s.Resource, id)
			if err != nil {
				return err
			}
			s.pending.input = &Region{ops: append([]regionOp(nil), r.ops...)}
		}
	case 6: // commit
		return s.commit()
	case 7: // set_buffer_transform
		if t := d.Int(); t != 0 && d.Err() == nil {
			// only the normal transform is implemented
			return protoErr(&s.Resource, 1, "buffer transform %d not supported", t)
		}
	case 8: // set_buffer_scale
		scale := d.Int()
		if d.Err() != nil {
			return d.Err()
		}
		if scale < 1 {
			return protoErr(&s.Resource, 0, "invalid scale %d", scale)
		}
		s.pending.scale = scale
		s.pending.scaleSet = true
	case 10: // offset
		x, y := d.Int(), d.Int()
		s.pending.offset = geom.Pt(int(x), int(y))
	default:
		return protoErr(&s.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (s *Surface) commit() error {
	p := s.pending
	s.pending = surfaceState{}

	switch {
	case s.xdg != nil:
		if err := s.xdg.checkCommit(p); err != nil {
			return err
		}
	case s.layer != nil:
		if err := s.layer.checkCommit(p); err != nil {
			return err
		}
	}

	resized := false
	if p.attached {
		if p.buffer == nil {
			s.image = nil
			resized = true
		} else {
			var old image.Rectangle
			if s.image != nil {
				old = s.image.Bounds()
			}
			img, err := p.buffer.snapshot(s.image)
			if err != nil {
				return err
			}
			s.image = img
			resized = old != img.Bounds()
			p.buffer.release()
		}
	}
	if p.scaleSet {
		resized = resized || s.bufferScale != p.scale
		s.bufferScale = p.scale
	}
	if p.inputSet {
		s.input = p.input
	}
	if s.viewport != nil && s.viewport.commit() {
		resized = true
	}

	if resized {
		s.damage = append(s.damage, geom.Rect[int]{Max: s.Size()})
	} else {
		s.damage = append(s.damage, p.damage...)
		for _, r := range p.bufferDamage {
			s.damage = append(s.damage, s.bufferToSurface(r))
		}
	}
	s.frames = append(s.frames, p.frames...)
	s.commits++

	for _, c := range s.stack {
		if c.sub != nil && c.sub.parent == s {
			c.sub.applyPosition()
		}
	}

	switch {
	case s.xdg != nil:
		s.xdg.committed()
	case s.layer != nil:
		s.layer.committed()
	}
	s.client.server.handler.SurfaceCommitted(s)
	return nil
}

func (s *Surface) bufferToSurface(r geom.Rect[int]) geom.Rect[int] {
	k := int(s.bufferScale)
	if s.image == nil || k == 0 {
		return r
	}
	size := s.Size()
	b := s.image.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return r
	}
	// scale by surface/buffer ratio, rounding outwards
	return geom.Rt(
		r.Min.X*size.X/b.Dx(),
		r.Min.Y*size.Y/b.Dy(),
		(r.Max.X*size.X+b.Dx()-1)/b.Dx(),
		(r.Max.Y*size.Y+b.Dy()-1)/b.Dy(),
	)
}

func (s *Surface) destroyed() {
	s.dead = true
	for _, cb := range s.pending.frames {
		s.client.destroy(cb.id)
	}
	if s.sub != nil {
		s.sub.unlink()
	}
	for _, c := range s.stack {
		if c != s && c.sub != nil {
			c.sub.parent = nil
		}
	}
	s.stack = nil
	switch {
	case s.toplevel != nil:
		s.toplevel.destroyed()
	case s.popup != nil:
		s.popup.destroyed()
	case s.layer != nil:
		s.layer.destroyed()
	}
	for _, seat := range s.client.server.seats {
		seat.surfaceGone(s)
	}
}

// EnterOutput sends wl_surface.enter for every wl_output the client bound for o
func (s *Surface) EnterOutput(o *Output) {
	if s.outputs == nil {
		s.outputs = map[*Output]bool{}
	}
	if s.outputs[o] {
		return
	}
	s.outputs[o] = true
	for _, r := range o.resources[s.client] {
		s.send(s.event(0).Object(r.id))
	}
}

// SetPreferredScale tells a fractional scale aware client what scale to render at
func (s *Surface) SetPreferredScale(scale float64) {
	if s.preferredScale == scale {
		return
	}
	s.preferredScale = scale
	if s.fractional != nil {
		s.fractional.preferred(scale)
	}
	for _, c := range s.stack {
		if c != s {
			c.SetPreferredScale(scale)
		}
	}
}

func bindSubcompositor(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "wl_subcompositor", version)
	if err != nil {
		return err
	}
	c.add(&subcompositor{res})
	return nil
}

type subcompositor struct{ Resource }

func (sc *subcompositor) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		sc.client.destroy(sc.id)
		return nil
	case 1:
		id := d.NewID()
		surfID, parentID := d.Object(), d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		surf, err := mustLookup[*Surface](&sc.Resource, surfID)
		if err != nil {
			return err
		}
		parent, err := mustLookup[*Surface](&sc.Resource, parentID)
		if err != nil {
			return err
		}
		if surf == parent || parent.Root() == surf {
			return protoErr(&sc.Resource, 0, "surface cannot be its own ancestor")
		}
		if err := surf.setRole(RoleSubsurface, &sc.Resource, 0); err != nil {
			return err
		}
		res, err := sc.child(id, "wl_subsurface")
		if err != nil {
			return err
		}
		sub := &Subsurface{Resource: res, surface: surf, parent: parent}
		surf.sub = sub
		parent.stack = append(parent.stack, surf)
		sc.client.add(sub)
		return nil
	}
	return protoErr(&sc.Resource, errInvalidMethod, "bad opcode %d", op)
}

// Subsurface applies position changes on the parent's commit. Sync mode is
// not distinguished from desync: state applies on the subsurface's own commit
type Subsurface struct {
	Resource
	surface *Surface
	parent  *Surface

	position   geom.Point[int]
	pendingPos *geom.Point[int]
}

func (sub *Subsurface) Surface() *Surface        { return sub.surface }
func (sub *Subsurface) Position() geom.Point[int] { return sub.position }

func (sub *Subsurface) applyPosition() {
	if sub.pendingPos != nil {
		sub.position = *sub.pendingPos
		sub.pendingPos = nil
	}
}

func (sub *Subsurface) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		sub.client.destroy(sub.id)
	case 1: // set_position
		x, y := d.Int(), d.Int()
		p := geom.Pt(int(x), int(y))
		sub.pendingPos = &p
	case 2, 3: // place_above, place_below
		sibID := d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		sib, err := mustLookup[*Surface](&sub.Resource, sibID)
		if err != nil {
			return err
		}
		if sub.parent == nil {
			return nil
		}
		if sib != sub.parent && sib.Parent() != sub.parent {
			return protoErr(&sub.Resource, 0, "sibling is not a sibling")
		}
		sub.restack(sib, op == 2)
	case 4, 5: // set_sync, set_desync
	default:
		return protoErr(&sub.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (sub *Subsurface) restack(sib *Surface, above bool) {
	stack := sub.parent.stack
	out := make([]*Surface, 0, len(stack))
	for _, s := range stack {
		if s != sub.surface {
			out = append(out, s)
		}
	}
	final := make([]*Surface, 0, len(stack))
	for _, s := range out {
		if s == sib && !above {
			final = append(final, sub.surface)
		}
		final = append(final, s)
		if s == sib && above {
			final = append(final, sub.surface)
		}
	}
	sub.parent.stack = final
}

func (sub *Subsurface) unlink() {
	if sub.parent == nil {
		return
	}
	stack := sub.parent.stack[:0]
	for _, s := range sub.parent.stack {
		if s != sub.surface {
			stack = append(stack, s)
		}
	}
	sub.parent.stack = stack
	sub.parent = nil
}

func (sub *Subsurface) destroyed() {
	parent := sub.parent
	sub.unlink()
	if sub.surface.sub == sub {
		sub.surface.sub = nil
	}
	// the tree lost a member, so the owner needs a redraw
	if parent != nil && parent.Alive() {
		sub.client.server.handler.SurfaceCommitted(parent)
	}
}
