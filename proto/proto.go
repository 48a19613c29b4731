// Package proto holds client bindings for the protocol extensions the panel
// needs from the host that the core go-wayland client does not ship.
// Requests are encoded with the wire package and written through the
// go-wayland context, so the objects share one id space and one socket
// with the core client objects
package proto

import (
	"github.com/mstarongithub/way2panel/wire"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"golang.org/x/sys/unix"
)

// Request starts a request on p
func Request(p client.Proxy, opcode uint16) *wire.Builder {
	return wire.NewMessage(p.ID(), opcode)
}

// Send writes a finished request on the connection of p
func Send(p client.Proxy, b *wire.Builder) error {
	msg, fds := b.Finish()
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	return p.Context().WriteMsg(msg, oob)
}

// Decoder reads the arguments of an event. fd is the descriptor go-wayland
// received with the message, or -1
func Decoder(data []byte, fd int) *wire.Decoder {
	used := false
	return wire.NewDecoder(data, func() (int, bool) {
		if used || fd < 0 {
			return -1, false
		}
		used = true
		return fd, true
	})
}

// Destroy sends a destructor request and forgets the object
func Destroy(p client.Proxy, opcode uint16) error {
	err := Send(p, Request(p, opcode))
	p.Context().Unregister(p)
	return err
}
