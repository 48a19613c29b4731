// Package viewporter binds wp_viewporter on the host
package viewporter

import (
	"github.com/mstarongithub/way2panel/proto"
	"github.com/mstarongithub/way2panel/wire"
	"github.com/rajveermalviya/go-wayland/wayland/client"
)

const InterfaceName = "wp_viewporter"

type Viewporter struct {
	client.BaseProxy
}

func NewViewporter(ctx *client.Context) *Viewporter {
	v := &Viewporter{}
	ctx.Register(v)
	return v
}

func (v *Viewporter) Destroy() error {
	return proto.Destroy(v, 0)
}

func (v *Viewporter) GetViewport(surface *client.Surface) (*Viewport, error) {
	vp := &Viewport{}
	v.Context().Register(vp)
	return vp, proto.Send(v, proto.Request(v, 1).Uint(vp.ID()).Object(surface.ID()))
}

func (v *Viewporter) Dispatch(opcode uint32, fd int, data []byte) {}

type Viewport struct {
	client.BaseProxy
}

func (vp *Viewport) Destroy() error {
	return proto.Destroy(vp, 0)
}

// SetSource crops the buffer. All -1 unsets it
func (vp *Viewport) SetSource(x, y, w, h float64) error {
	b := proto.Request(vp, 1).
		Fixed(wire.FixedFrom(x)).Fixed(wire.FixedFrom(y)).
		Fixed(wire.FixedFrom(w)).Fixed(wire.FixedFrom(h))
	return proto.Send(vp, b)
}

// SetDestination scales the surface to w by h logical pixels. -1, -1 unsets it
func (vp *Viewport) SetDestination(w, h int32) error {
	return proto.Send(vp, proto.Request(vp, 2).Int(w).Int(h))
}

func (vp *Viewport) Dispatch(opcode uint32, fd int, data []byte) {}
