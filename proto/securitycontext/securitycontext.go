// Package securitycontext binds wp_security_context_manager_v1 on the host.
// The panel uses it to hand privileged applets their own listening socket
package securitycontext

import (
	"github.com/mstarongithub/way2panel/proto"
	"github.com/rajveermalviya/go-wayland/wayland/client"
)

const InterfaceName = "wp_security_context_manager_v1"

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

// CreateListener hands listenFD to the compositor. It stops accepting
// connections once the write end matching closeFD is closed
func (m *Manager) CreateListener(listenFD, closeFD int) (*Context, error) {
	c := &Context{}
	m.Context().Register(c)
	b := proto.Request(m, 1).Uint(c.ID()).FD(listenFD).FD(closeFD)
	return c, proto.Send(m, b)
}

func (m *Manager) Dispatch(opcode uint32, fd int, data []byte) {}

type Context struct {
	client.BaseProxy
}

func (c *Context) Destroy() error {
	return proto.Destroy(c, 0)
}

func (c *Context) SetSandboxEngine(name string) error {
	return proto.Send(c, proto.Request(c, 1).String(name))
}

func (c *Context) SetAppID(id string) error {
	return proto.Send(c, proto.Request(c, 2).String(id))
}

func (c *Context) SetInstanceID(id string) error {
	return proto.Send(c, proto.Request(c, 3).String(id))
}

func (c *Context) Commit() error {
	return proto.Send(c, proto.Request(c, 4))
}

func (c *Context) Dispatch(opcode uint32, fd int, data []byte) {}
