package server

import (
	"image"

	"github.com/mstarongithub/way2panel/wire"
	"golang.org/x/sys/unix"
)

const (
	FormatArgb8888 = 0
	FormatXrgb8888 = 1
)

// wl_shm error codes
const (
	shmInvalidFormat = 0
	shmInvalidStride = 1
	shmInvalidFD     = 2
)

func bindShm(c *Client, id, version uint32) error {
	res, err := c.newResource(id, "wl_shm", version)
	if err != nil {
		return err
	}
	shm := &shm{res}
	c.add(shm)
	shm.send(shm.event(0).Uint(FormatArgb8888))
	shm.send(shm.event(0).Uint(FormatXrgb8888))
	return nil
}

type shm struct{ Resource }

func (s *shm) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // create_pool
		id := d.NewID()
		fd := d.FD()
		size := d.Int()
		if d.Err() != nil {
			closeFD(fd)
			return d.Err()
		}
		defer closeFD(fd)
		if size <= 0 {
			return protoErr(&s.Resource, shmInvalidStride, "invalid pool size %d", size)
		}
		data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return protoErr(&s.Resource, shmInvalidFD, "mmap failed: %v", err)
		}
		res, err := s.child(id, "wl_shm_pool")
		if err != nil {
			unix.Munmap(data)
			return err
		}
		// keep a duplicate so the pool can be remapped on resize
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			unix.Munmap(data)
			return protoErr(&s.Resource, shmInvalidFD, "dup failed: %v", err)
		}
		s.client.add(&shmPool{Resource: res, fd: dup, data: data, refs: 1})
		return nil
	case 1:
		s.client.destroy(s.id)
		return nil
	}
	return protoErr(&s.Resource, errInvalidMethod, "bad opcode %d", op)
}

// shmPool stays mapped while any of its buffers lives
type shmPool struct {
	Resource
	fd   int
	data []byte
	refs int
}

func (p *shmPool) request(op uint16, d *wire.Decoder) error {
	switch op {
	case 0: // create_buffer
		id := d.NewID()
		offset, w, h, stride := d.Int(), d.Int(), d.Int(), d.Int()
		format := d.Uint()
		if d.Err() != nil {
			return d.Err()
		}
		if format != FormatArgb8888 && format != FormatXrgb8888 {
			return protoErr(&p.Resource, shmInvalidFormat, "unsupported format %#x", format)
		}
		if offset < 0 || w <= 0 || h <= 0 || stride < w*4 ||
			int64(offset)+int64(stride)*int64(h) > int64(len(p.data)) {
			return protoErr(&p.Resource, shmInvalidStride, "invalid buffer %dx%d stride %d offset %d in pool of %d", w, h, stride, offset, len(p.data))
		}
		res, err := p.client.newResource(id, "wl_buffer", 1)
		if err != nil {
			return err
		}
		p.refs++
		p.client.add(&Buffer{
			Resource: res,
			pool:     p,
			offset:   int(offset),
			width:    int(w),
			height:   int(h),
			stride:   int(stride),
			format:   format,
		})
		return nil
	case 1:
		p.client.destroy(p.id)
		return nil
	case 2: // resize
		size := d.Int()
		if d.Err() != nil {
			return d.Err()
		}
		if int(size) < len(p.data) {
			return protoErr(&p.Resource, shmInvalidStride, "pools can only grow")
		}
		data, err := unix.Mmap(p.fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return protoErr(&p.Resource, shmInvalidFD, "remap failed: %v", err)
		}
		unix.Munmap(p.data)
		p.data = data
		return nil
	}
	return protoErr(&p.Resource, errInvalidMethod, "bad opcode %d", op)
}

func (p *shmPool) destroyed() { p.unref() }

func (p *shmPool) unref() {
	p.refs--
	if p.refs > 0 {
		return
	}
	unix.Munmap(p.data)
	p.data = nil
	unix.Close(p.fd)
}

type Buffer struct {
	Resource
	pool   *shmPool
	offset int
	width  int
	height int
	stride int
	format uint32
}

func (b *Buffer) request(op uint16, d *wire.Decoder) error {
	if op != 0 {
		return protoErr(&b.Resource, errInvalidMethod, "bad opcode %d", op)
	}
	b.client.destroy(b.id)
	return nil
}

func (b *Buffer) destroyed() {
	if b.pool != nil {
		b.pool.unref()
		b.pool = nil
	}
}

func (b *Buffer) release() {
	b.send(b.event(0))
}

// snapshot copies the buffer into reuse when the size matches, so the
// client may reuse its buffer immediately
func (b *Buffer) snapshot(reuse *image.RGBA) (*image.RGBA, error) {
	if b.pool == nil || b.pool.data == nil {
		return nil, protoErr(&b.Resource, errInvalidObject, "buffer has no backing storage")
	}
	img := reuse
	if img == nil || img.Rect.Dx() != b.width || img.Rect.Dy() != b.height {
		img = image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	}
	ConvertBGRA(img, b.pool.data[b.offset:], b.stride, b.format == FormatXrgb8888)
	return img, nil
}

// ConvertBGRA copies little endian (A|X)RGB8888 rows into img.
// Both layouts are premultiplied, so only the byte order changes
func ConvertBGRA(img *image.RGBA, src []byte, stride int, opaque bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := src[y*stride : y*stride+w*4]
		out := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			out[x+0] = row[x+2]
			out[x+1] = row[x+1]
			out[x+2] = row[x+0]
			if opaque {
				out[x+3] = 0xff
			} else {
				out[x+3] = row[x+3]
			}
		}
	}
}
