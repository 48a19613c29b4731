// Package fractionalscale binds wp_fractional_scale_manager_v1 on the host
package fractionalscale

import (
	"github.com/mstarongithub/way2panel/proto"
	"github.com/rajveermalviya/go-wayland/wayland/client"
)

const InterfaceName = "wp_fractional_scale_manager_v1"

// Denominator of preferred scale events
const Denominator = 120

type Manager struct {
	client.BaseProxy
}

func NewManager(ctx *client.Context) *Manager {
	m := &Manager{}
	ctx.Register(m)
	return m
}

func (m *Manager) Destroy() error {
	return proto.Destroy(m, 0)
}

func (m *Manager) GetFractionalScale(surface *client.Surface) (*Scale, error) {
	s := &Scale{}
	m.Context().Register(s)
	return s, proto.Send(m, proto.Request(m, 1).Uint(s.ID()).Object(surface.ID()))
}

func (m *Manager) Dispatch(opcode uint32, fd int, data []byte) {}

type Scale struct {
	client.BaseProxy
	preferred func(scale float64)
}

// SetPreferredHandler receives the scale already divided by Denominator
func (s *Scale) SetPreferredHandler(f func(scale float64)) { s.preferred = f }

func (s *Scale) Destroy() error {
	return proto.Destroy(s, 0)
}

func (s *Scale) Dispatch(opcode uint32, fd int, data []byte) {
	if opcode != 0 || s.preferred == nil {
		return
	}
	d := proto.Decoder(data, fd)
	v := d.Uint()
	if d.Err() == nil && v > 0 {
		s.preferred(float64(v) / Denominator)
	}
}
