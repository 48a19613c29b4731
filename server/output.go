package server

import (
	"math"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/wire"
)

// OutputInfo is what applets learn about the output their panel is on
type OutputInfo struct {
	Name        string
	Description string
	Make        string
	Model       string
	Size        geom.Point[int] // mode size in physical pixels
	Refresh     int32           // mHz
	Scale       int32
}

// Output mirrors one host output as a wl_output global
type Output struct {
	server    *Server
	global    *global
	info      OutputInfo
	resources map[*Client][]*outputResource
}

func (s *Server) AddOutput(info OutputInfo) *Output {
	o := &Output{server: s, info: info, resources: map[*Client][]*outputResource{}}
	o.global = s.addGlobal("wl_output", 4, o.bind)
	s.outputs = append(s.outputs, o)
	return o
}

func (s *Server) RemoveOutput(o *Output) {
	s.removeGlobal(o.global)
	s.outputs = remove(s.outputs, o)
}

func (s *Server) Outputs() []*Output { return s.outputs }

func (o *Output) Info() OutputInfo { return o.info }

// Update resends everything to bound clients
func (o *Output) Update(info OutputInfo) {
	o.info = info
	for _, rs := range o.resources {
		for _, r := range rs {
			r.sendAll()
		}
	}
}

func (o *Output) bind(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "wl_output", version)
	if err != nil {
		return err
	}
	r := &outputResource{Resource: res, output: o}
	c.add(r)
	o.resources[c] = append(o.resources[c], r)
	r.sendAll()
	return nil
}

type outputResource struct {
	Resource
	output *Output
}

func (r *outputResource) sendAll() {
	info := r.output.info
	r.send(r.event(0).Int(0).Int(0).Int(0).Int(0).Int(0).String(info.Make).String(info.Model).Int(0))
	r.send(r.event(1).Uint(3).Int(int32(info.Size.X)).Int(int32(info.Size.Y)).Int(info.Refresh))
	if r.version >= 2 {
		r.send(r.event(3).Int(max(info.Scale, 1)))
	}
	if r.version >= 4 {
		r.send(r.event(4).String(info.Name))
		r.send(r.event(5).String(info.Description))
	}
	if r.version >= 2 {
		r.send(r.event(2))
	}
}

func (r *outputResource) request(op uint16, d *wire.Decoder) error {
	if op != 0 {
		return protoErr(&r.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	r.client.destroy(r.id)
	return nil
}

func (r *outputResource) destroyed() {
	o := r.output
	o.resources[r.client] = remove(o.resources[r.client], r)
	if len(o.resources[r.client]) == 0 {
		delete(o.resources, r.client)
	}
}

func bindFractionalScaleManager(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "wp_fractional_scale_manager_v1", version)
	if err != nil {
		return err
	}
	c.add(&fractionalScaleManager{res})
	return nil
}

type fractionalScaleManager struct{ Resource }

func (m *fractionalScaleManager) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		m.client.destroy(m.id)
	case 1:
		id := d.NewID()
		surfID := d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		surf, err := mustLookup[*Surface](&m.Resource, surfID)
		if err != nil {
			return err
		}
		if surf.fractional != nil {
			return protoErr(&m.Resource, 0, "surface already has a fractional scale object")
		}
		res, err := m.child(id, "wp_fractional_scale_v1")
		if err != nil {
			return err
		}
		f := &fractionalScale{Resource: res, surface: surf}
		surf.fractional = f
		m.client.add(f)
		if surf.preferredScale > 0 {
			f.preferred(surf.preferredScale)
		}
	default:
		return protoErr(&m.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

type fractionalScale struct {
	Resource
	surface *Surface
}

// preferred sends the scale in 120ths, rounded half to even
func (f *fractionalScale) preferred(scale float64) {
	f.surface.preferredScale = scale
	f.send(f.event(0).Uint(uint32(math.RoundToEven(scale * 120))))
}

func (f *fractionalScale) request(op uint16, d *wire.Decoder) error {
	if op != 0 {
		return protoErr(&f.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	f.client.destroy(f.id)
	return nil
}

func (f *fractionalScale) destroyed() {
	if f.surface.fractional == f {
		f.surface.fractional = nil
	}
}

func bindViewporter(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "wp_viewporter", version)
	if err != nil {
		return err
	}
	c.add(&viewporter{res})
	return nil
}

type viewporter struct{ Resource }

func (v *viewporter) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		v.client.destroy(v.id)
	case 1:
		id := d.NewID()
		surfID := d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		surf, err := mustLookup[*Surface](&v.Resource, surfID)
		if err != nil {
			return err
		}
		if surf.viewport != nil {
			return protoErr(&v.Resource, 0, "surface already has a viewport")
		}
		res, err := v.child(id, "wp_viewport")
		if err != nil {
			return err
		}
		vp := &viewport{Resource: res, surface: surf}
		surf.viewport = vp
		v.client.add(vp)
	default:
		return protoErr(&v.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

type viewport struct {
	Resource
	surface *Surface

	src geom.Rect[float64]
	dst geom.Point[int]

	pendingSrc *geom.Rect[float64]
	pendingDst *geom.Point[int]
}

// commit applies pending state and reports whether the size may have changed
func (v *viewport) commit() bool {
	changed := false
	if v.pendingSrc != nil {
		changed = changed || *v.pendingSrc != v.src
		v.src = *v.pendingSrc
		v.pendingSrc = nil
	}
	if v.pendingDst != nil {
		changed = changed || *v.pendingDst != v.dst
		v.dst = *v.pendingDst
		v.pendingDst = nil
	}
	return changed
}

func (v *viewport) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0:
		v.client.destroy(v.id)
	case 1: // set_source
		x, y, w, h := d.Fixed(), d.Fixed(), d.Fixed(), d.Fixed()
		if d.Err() != nil {
			return d.Err()
		}
		var r geom.Rect[float64]
		// -1 everywhere unsets the source
		if !(x == -256 && y == -256 && w == -256 && h == -256) {
			if x < 0 || y < 0 || w <= 0 || h <= 0 {
				return protoErr(&v.Resource, 0, "invalid source rectangle")
			}
			r = geom.Rt(x.Float(), y.Float(), x.Float()+w.Float(), y.Float()+h.Float())
		}
		v.pendingSrc = &r
	case 2: // set_destination
		w, h := d.Int(), d.Int()
		if d.Err() != nil {
			return d.Err()
		}
		var p geom.Point[int]
		if !(w == -1 && h == -1) {
			if w <= 0 || h <= 0 {
				return protoErr(&v.Resource, 1, "invalid destination size")
			}
			p = geom.Pt(int(w), int(h))
		}
		v.pendingDst = &p
	default:
		return protoErr(&v.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (v *viewport) destroyed() {
	if v.surface.viewport == v {
		v.surface.viewport = nil
	}
}
