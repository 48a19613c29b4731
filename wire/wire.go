// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package wire implements the Wayland wire format for the applet side of the panel.
// Messages are a 32 bit object id, a 16 bit opcode and a 16 bit total size
// followed by 32 bit aligned arguments. File descriptors travel out of band
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

const HeaderSize = 8

// Largest message libwayland accepts
const MaxMessageSize = 4096

var (
	ErrShortMessage = errors.New("message shorter than its arguments")
	ErrNoFD         = errors.New("message expects a file descriptor that was not sent")
	ErrBadString    = errors.New("string argument is not nul terminated")
)

var order = binary.LittleEndian

// Fixed is the signed 24.8 fixed point number used for coordinates
type Fixed int32

func FixedFrom(f float64) Fixed {
	return Fixed(math.Round(f * 256))
}

func (f Fixed) Float() float64 {
	return float64(f) / 256
}

type Header struct {
	Object uint32
	Opcode uint16
	Size   uint16
}

func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortMessage
	}
	word := order.Uint32(b[4:8])
	h := Header{
		Object: order.Uint32(b[0:4]),
		Opcode: uint16(word & 0xffff),
		Size:   uint16(word >> 16),
	}
	if h.Size < HeaderSize || h.Size%4 != 0 {
		return h, fmt.Errorf("bad message size %d", h.Size)
	}
	return h, nil
}

func padded(n int) int {
	return (n + 3) &^ 3
}

// Builder assembles one outgoing message
type Builder struct {
	buf   []byte
	fds   []int
	owned []int
}

func NewMessage(object uint32, opcode uint16) *Builder {
	b := &Builder{buf: make([]byte, HeaderSize, 32)}
	order.PutUint32(b.buf[0:4], object)
	order.PutUint32(b.buf[4:8], uint32(opcode))
	return b
}

func (b *Builder) Uint(v uint32) *Builder {
	b.buf = order.AppendUint32(b.buf, v)
	return b
}

func (b *Builder) Int(v int32) *Builder {
	return b.Uint(uint32(v))
}

func (b *Builder) Fixed(v Fixed) *Builder {
	return b.Uint(uint32(v))
}

// Object writes an object id, 0 meaning null
func (b *Builder) Object(id uint32) *Builder {
	return b.Uint(id)
}

func (b *Builder) String(s string) *Builder {
	n := len(s) + 1
	b.buf = order.AppendUint32(b.buf, uint32(n))
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, make([]byte, padded(n)-len(s))...)
	return b
}

// NullString writes the null string, distinct from ""
func (b *Builder) NullString() *Builder {
	return b.Uint(0)
}

func (b *Builder) Array(a []byte) *Builder {
	b.buf = order.AppendUint32(b.buf, uint32(len(a)))
	b.buf = append(b.buf, a...)
	b.buf = append(b.buf, make([]byte, padded(len(a))-len(a))...)
	return b
}

func (b *Builder) FD(fd int) *Builder {
	b.fds = append(b.fds, fd)
	return b
}

// OwnedFD is FD, but the connection closes fd once it has been sent
func (b *Builder) OwnedFD(fd int) *Builder {
	b.owned = append(b.owned, fd)
	return b.FD(fd)
}

// Discard closes the owned fds of a message that will not be sent
func (b *Builder) Discard() {
	for _, fd := range b.owned {
		unix.Close(fd)
	}
	b.owned = nil
}

// Finish fills in the size field. The builder must not be used afterwards
func (b *Builder) Finish() ([]byte, []int) {
	word := order.Uint32(b.buf[4:8])
	order.PutUint32(b.buf[4:8], uint32(len(b.buf))<<16|word&0xffff)
	return b.buf, b.fds
}

// Decoder reads the arguments of one incoming message.
// The first error sticks; later reads return zero values
type Decoder struct {
	buf []byte
	off int
	fds func() (int, bool)
	err error
}

func NewDecoder(body []byte, fds func() (int, bool)) *Decoder {
	return &Decoder{buf: body, fds: fds}
}

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) Uint() uint32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > len(d.buf) {
		d.fail(ErrShortMessage)
		return 0
	}
	v := order.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *Decoder) Int() int32 { return int32(d.Uint()) }

func (d *Decoder) Fixed() Fixed { return Fixed(d.Uint()) }

func (d *Decoder) Object() uint32 { return d.Uint() }

func (d *Decoder) NewID() uint32 { return d.Uint() }

func (d *Decoder) String() string {
	n := int(d.Uint())
	if d.err != nil || n == 0 {
		return ""
	}
	if d.off+padded(n) > len(d.buf) {
		d.fail(ErrShortMessage)
		return ""
	}
	raw := d.buf[d.off : d.off+n]
	d.off += padded(n)
	if raw[n-1] != 0 {
		d.fail(ErrBadString)
		return ""
	}
	return string(raw[:n-1])
}

func (d *Decoder) Array() []byte {
	n := int(d.Uint())
	if d.err != nil {
		return nil
	}
	if d.off+padded(n) > len(d.buf) {
		d.fail(ErrShortMessage)
		return nil
	}
	a := make([]byte, n)
	copy(a, d.buf[d.off:d.off+n])
	d.off += padded(n)
	return a
}

func (d *Decoder) FD() int {
	if d.err != nil {
		return -1
	}
	if d.fds == nil {
		d.fail(ErrNoFD)
		return -1
	}
	fd, ok := d.fds()
	if !ok {
		d.fail(ErrNoFD)
		return -1
	}
	return fd
}
