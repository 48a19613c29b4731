package server

import (
	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/wire"
)

// Anchor bits of zwlr_layer_surface_v1
const (
	AnchorTop    = 1
	AnchorBottom = 2
	AnchorLeft   = 4
	AnchorRight  = 8
)

func bindLayerShell(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "zwlr_layer_shell_v1", version)
	if err != nil {
		return err
	}
	c.add(&layerShell{res})
	return nil
}

type layerShell struct{ Resource }

func (ls *layerShell) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // get_layer_surface
		id := d.NewID()
		surfID, outID := d.Object(), d.Object()
		layer := d.Uint()
		namespace := d.String()
		if d.Err() != nil {
			return d.Err()
		}
		surf, err := mustLookup[*Surface](&ls.Resource, surfID)
		if err != nil {
			return err
		}
		if layer > 3 {
			return protoErr(&ls.Resource, 1, "invalid layer %d", layer)
		}
		if surf.layer != nil {
			return protoErr(&ls.Resource, 2, "surface already has a layer surface")
		}
		if surf.image != nil {
			return protoErr(&ls.Resource, 2, "surface already has a buffer")
		}
		if err := surf.setRole(RoleLayer, &ls.Resource, 0); err != nil {
			return err
		}
		var out *Output
		if outID != 0 {
			or, err := mustLookup[*outputResource](&ls.Resource, outID)
			if err != nil {
				return err
			}
			out = or.output
		}
		res, err := ls.child(id, "zwlr_layer_surface_v1")
		if err != nil {
			return err
		}
		l := &LayerSurface{Resource: res, surface: surf, output: out, namespace: namespace}
		l.pending.Layer = layer
		surf.layer = l
		ls.client.add(l)
		return nil
	case 1:
		ls.client.destroy(ls.id)
		return nil
	}
	return protoErr(&ls.Resource, errInvalidMethod, "bad opcode %d", op)
}

// LayerState is the double buffered state of a layer surface
type LayerState struct {
	Size                  geom.Point[int]
	Anchor                uint32
	ExclusiveZone         int32
	Margin                [4]int32 // top, right, bottom, left
	KeyboardInteractivity uint32
	Layer                 uint32
}

type LayerSurface struct {
	Resource
	surface   *Surface
	output    *Output
	namespace string

	pending LayerState
	current LayerState

	sent       []uint32
	acked      uint32
	configured bool
	initial    bool
	dead       bool

	// Data belongs to whoever proxies the layer surface
	Data any
}

func (l *LayerSurface) Surface() *Surface   { return l.surface }
func (l *LayerSurface) Namespace() string   { return l.namespace }
func (l *LayerSurface) State() LayerState   { return l.current }
func (l *LayerSurface) Configured() bool    { return l.configured }

// Acked is the serial of the last configure the client acknowledged, zero before the first
func (l *LayerSurface) Acked() uint32 { return l.acked }
func (l *LayerSurface) Alive() bool         { return !l.dead && l.client.Alive() }

// Output is the output the client asked for, nil for the compositor's choice
func (l *LayerSurface) Output() *Output { return l.output }

// Configure sends the size the host granted
func (l *LayerSurface) Configure(size geom.Point[int]) uint32 {
	if l.dead {
		return 0
	}
	serial := l.client.server.NextSerial()
	l.sent = append(l.sent, serial)
	l.send(l.event(0).Uint(serial).Uint(uint32(size.X)).Uint(uint32(size.Y)))
	return serial
}

// Close tells the client the surface is gone for good
func (l *LayerSurface) Close() {
	if !l.dead {
		l.send(l.event(1))
	}
}

func (l *LayerSurface) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // set_size
		w, h := d.Uint(), d.Uint()
		l.pending.Size = geom.Pt(int(w), int(h))
	case 1: // set_anchor
		a := d.Uint()
		if d.Err() == nil && a > 15 {
			return protoErr(&l.Resource, 2, "invalid anchor %d", a)
		}
		l.pending.Anchor = a
	case 2:
		l.pending.ExclusiveZone = d.Int()
	case 3:
		l.pending.Margin = [4]int32{d.Int(), d.Int(), d.Int(), d.Int()}
	case 4:
		k := d.Uint()
		if d.Err() == nil && k > 2 {
			return protoErr(&l.Resource, 3, "invalid keyboard interactivity %d", k)
		}
		l.pending.KeyboardInteractivity = k
	case 5: // get_popup
		popID := d.Object()
		if d.Err() != nil {
			return d.Err()
		}
		p, err := mustLookup[*Popup](&l.Resource, popID)
		if err != nil {
			return err
		}
		if p.parent != nil {
			return protoErr(&l.Resource, 0, "popup already has a parent")
		}
		p.parent = l.surface
	case 6: // ack_configure
		serial := d.Uint()
		if d.Err() != nil {
			return d.Err()
		}
		for i, s := range l.sent {
			if s == serial {
				l.sent = l.sent[i+1:]
				l.acked = serial
				l.configured = true
				return nil
			}
		}
		return protoErr(&l.Resource, 0, "unknown configure serial %d", serial)
	case 7:
		l.client.destroy(l.id)
	case 8: // set_layer
		layer := d.Uint()
		if d.Err() == nil && layer > 3 {
			return protoErr(&l.Resource, 0, "invalid layer %d", layer)
		}
		l.pending.Layer = layer
	default:
		return protoErr(&l.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	return nil
}

func (l *LayerSurface) checkCommit(p surfaceState) error {
	if p.attached && p.buffer != nil && !l.configured {
		return protoErr(&l.Resource, 0, "buffer attached before first configure")
	}
	st := l.pending
	horiz := st.Anchor&(AnchorLeft|AnchorRight) == AnchorLeft|AnchorRight
	vert := st.Anchor&(AnchorTop|AnchorBottom) == AnchorTop|AnchorBottom
	if (st.Size.X == 0 && !horiz) || (st.Size.Y == 0 && !vert) {
		return protoErr(&l.Resource, 1, "zero size requires anchoring to both opposite edges")
	}
	return nil
}

func (l *LayerSurface) committed() {
	l.current = l.pending
	if l.initial {
		return
	}
	l.initial = true
	l.client.server.handler.LayerSurfaceCreated(l)
}

func (l *LayerSurface) destroyed() {
	if l.dead {
		return
	}
	l.dead = true
	if l.surface.layer == l {
		l.surface.layer = nil
	}
	if l.initial {
		l.client.server.handler.LayerSurfaceDestroyed(l)
	}
}
