// Package overlapnotify binds zcosmic_overlap_notify_v1, which reports the
// toplevels and layer surfaces covering one of our layer surfaces
package overlapnotify

import (
	"github.com/mstarongithub/way2panel/proto"
	"github.com/mstarongithub/way2panel/proto/layershell"
	"github.com/rajveermalviya/go-wayland/wayland/client"
)

const InterfaceName = "zcosmic_overlap_notify_v1"

type Notify struct {
	client.BaseProxy
}

func NewNotify(ctx *client.Context) *Notify {
	n := &Notify{}
	ctx.Register(n)
	return n
}

func (n *Notify) NotifyOnOverlap(layer *layershell.Surface) (*Notification, error) {
	o := &Notification{}
	n.Context().Register(o)
	return o, proto.Send(n, proto.Request(n, 0).Uint(o.ID()).Object(layer.ID()))
}

func (n *Notify) Dispatch(opcode uint32, fd int, data []byte) {}

// ToplevelEnterEvent names the toplevel by its protocol object id. The
// panel only counts overlaps, it never talks to the toplevel handle
type ToplevelEnterEvent struct {
	Toplevel            uint32
	X, Y, Width, Height int32
}

type Notification struct {
	client.BaseProxy
	enter func(ToplevelEnterEvent)
	leave func(toplevel uint32)
}

func (o *Notification) SetToplevelEnterHandler(f func(ToplevelEnterEvent)) { o.enter = f }
func (o *Notification) SetToplevelLeaveHandler(f func(toplevel uint32))   { o.leave = f }

func (o *Notification) Destroy() error {
	return proto.Destroy(o, 0)
}

func (o *Notification) Dispatch(opcode uint32, fd int, data []byte) {
	d := proto.Decoder(data, fd)
	switch opcode {
	case 0:
		e := ToplevelEnterEvent{Toplevel: d.NewID(), X: d.Int(), Y: d.Int(), Width: d.Int(), Height: d.Int()}
		if d.Err() == nil && o.enter != nil {
			o.enter(e)
		}
	case 1:
		id := d.Object()
		if d.Err() == nil && o.leave != nil {
			o.leave(id)
		}
	}
}
