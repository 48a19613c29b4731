// Package layershell binds zwlr_layer_shell_v1 on the host
package layershell

import (
	"github.com/mstarongithub/way2panel/proto"
	"github.com/rajveermalviya/go-wayland/wayland/client"
)

const ShellInterfaceName = "zwlr_layer_shell_v1"

const (
	LayerBackground = 0
	LayerBottom     = 1
	LayerTop        = 2
	LayerOverlay    = 3
)

const (
	AnchorTop    = 1
	AnchorBottom = 2
	AnchorLeft   = 4
	AnchorRight  = 8
	AnchorAll    = AnchorTop | AnchorBottom | AnchorLeft | AnchorRight
)

const (
	KeyboardInteractivityNone      = 0
	KeyboardInteractivityExclusive = 1
	KeyboardInteractivityOnDemand  = 2
)

type Shell struct {
	client.BaseProxy
}

func NewShell(ctx *client.Context) *Shell {
	s := &Shell{}
	ctx.Register(s)
	return s
}

// GetLayerSurface assigns the layer role to surface. output may be nil
func (s *Shell) GetLayerSurface(surface *client.Surface, output *client.Output, layer uint32, namespace string) (*Surface, error) {
	ls := NewSurface(s.Context())
	var out uint32
	if output != nil {
		out = output.ID()
	}
	b := proto.Request(s, 0).Uint(ls.ID()).Object(surface.ID()).Object(out).Uint(layer).String(namespace)
	return ls, proto.Send(s, b)
}

func (s *Shell) Destroy() error {
	return proto.Destroy(s, 1)
}

func (s *Shell) Dispatch(opcode uint32, fd int, data []byte) {}

type ConfigureEvent struct {
	Serial uint32
	Width  uint32
	Height uint32
}

type Surface struct {
	client.BaseProxy
	configureHandler func(ConfigureEvent)
	closedHandler    func()
}

func NewSurface(ctx *client.Context) *Surface {
	s := &Surface{}
	ctx.Register(s)
	return s
}

func (s *Surface) SetConfigureHandler(f func(ConfigureEvent)) { s.configureHandler = f }
func (s *Surface) SetClosedHandler(f func())                  { s.closedHandler = f }

func (s *Surface) SetSize(width, height uint32) error {
	return proto.Send(s, proto.Request(s, 0).Uint(width).Uint(height))
}

func (s *Surface) SetAnchor(anchor uint32) error {
	return proto.Send(s, proto.Request(s, 1).Uint(anchor))
}

func (s *Surface) SetExclusiveZone(zone int32) error {
	return proto.Send(s, proto.Request(s, 2).Int(zone))
}

func (s *Surface) SetMargin(top, right, bottom, left int32) error {
	return proto.Send(s, proto.Request(s, 3).Int(top).Int(right).Int(bottom).Int(left))
}

func (s *Surface) SetKeyboardInteractivity(k uint32) error {
	return proto.Send(s, proto.Request(s, 4).Uint(k))
}

// GetPopup makes popup, created with a nil parent, a child of this surface
func (s *Surface) GetPopup(popup client.Proxy) error {
	return proto.Send(s, proto.Request(s, 5).Object(popup.ID()))
}

func (s *Surface) AckConfigure(serial uint32) error {
	return proto.Send(s, proto.Request(s, 6).Uint(serial))
}

func (s *Surface) Destroy() error {
	return proto.Destroy(s, 7)
}

func (s *Surface) SetLayer(layer uint32) error {
	return proto.Send(s, proto.Request(s, 8).Uint(layer))
}

func (s *Surface) Dispatch(opcode uint32, fd int, data []byte) {
	d := proto.Decoder(data, fd)
	switch opcode {
	case 0:
		e := ConfigureEvent{Serial: d.Uint(), Width: d.Uint(), Height: d.Uint()}
		if d.Err() == nil && s.configureHandler != nil {
			s.configureHandler(e)
		}
	case 1:
		if s.closedHandler != nil {
			s.closedHandler()
		}
	}
}
