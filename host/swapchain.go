package host

import (
	"errors"
	"fmt"
	"image"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/render"
	"github.com/mstarongithub/way2panel/space"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrNoBuffer means the compositor still holds every slot of a swapchain
var ErrNoBuffer = errors.New("no free shm buffer")

// slots per swapchain, triple buffering
const maxSlots = 3

type slot struct {
	space.Buffer
	fd     int
	data   []byte
	pool   *client.ShmPool
	buf    *client.Buffer
	size   geom.Point[int]
	stride int
	busy   bool
}

// swapchain is a set of shm buffers of one size. Every slot keeps an RGBA
// copy of its content, so only damage needs converting on present
type swapchain struct {
	host  *Host
	size  geom.Point[int]
	slots []*slot
}

func newSwapchain(h *Host) *swapchain {
	return &swapchain{host: h}
}

func (c *swapchain) newSlot(size geom.Point[int]) (*slot, error) {
	stride := size.X * 4
	length := stride * size.Y
	fd, err := unix.MemfdCreate("way2panel-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(length)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("truncate shm: %w", err)
	}
	// the pool never changes size
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL)
	data, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap shm: %w", err)
	}
	s := &slot{fd: fd, data: data, size: size, stride: stride}
	s.pool, err = c.host.shm.CreatePool(fd, int32(length))
	if err != nil {
		s.free()
		return nil, fmt.Errorf("create shm pool: %w", err)
	}
	s.buf, err = s.pool.CreateBuffer(0, int32(size.X), int32(size.Y), int32(stride), uint32(client.ShmFormatArgb8888))
	if err != nil {
		s.free()
		return nil, fmt.Errorf("create shm buffer: %w", err)
	}
	s.buf.SetReleaseHandler(func(client.BufferReleaseEvent) {
		c.host.post(func() { s.busy = false })
	})
	s.Image = image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	return s, nil
}

func (s *slot) free() {
	if s.buf != nil {
		if err := s.buf.Destroy(); err != nil {
			logrus.WithError(err).Debugln("Failed to destroy shm buffer")
		}
	}
	if s.pool != nil {
		if err := s.pool.Destroy(); err != nil {
			logrus.WithError(err).Debugln("Failed to destroy shm pool")
		}
	}
	if s.data != nil {
		unix.Munmap(s.data)
	}
	unix.Close(s.fd)
}

// acquire returns a slot the compositor does not hold, creating one if
// there is room. A new size drops every slot
func (c *swapchain) acquire(size geom.Point[int]) (*space.Buffer, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("swapchain size %v", size)
	}
	if size != c.size {
		c.destroy()
		c.size = size
	}
	var best *slot
	for _, s := range c.slots {
		if s.busy {
			continue
		}
		// the most recently shown free slot needs the least repainting
		if best == nil || (s.Age > 0 && (best.Age == 0 || s.Age < best.Age)) {
			best = s
		}
	}
	if best != nil {
		return &best.Buffer, nil
	}
	if len(c.slots) >= maxSlots {
		return nil, ErrNoBuffer
	}
	s, err := c.newSlot(size)
	if err != nil {
		return nil, err
	}
	c.slots = append(c.slots, s)
	return &s.Buffer, nil
}

func (c *swapchain) slotFor(buf *space.Buffer) *slot {
	for _, s := range c.slots {
		if &s.Buffer == buf {
			return s
		}
	}
	return nil
}

// commit copies the damage of buf into its shm memory and ages the chain.
// It returns the wl_buffer to attach
func (c *swapchain) commit(buf *space.Buffer, damage []geom.Rect[int]) (*client.Buffer, error) {
	s := c.slotFor(buf)
	if s == nil {
		return nil, errors.New("buffer is not from this swapchain")
	}
	if s.Age == 0 {
		damage = []geom.Rect[int]{{Max: s.size}}
	}
	render.ToBGRA(s.data, s.stride, s.Image, damage)
	for _, o := range c.slots {
		if o.Age > 0 {
			o.Age++
		}
	}
	s.Age = 1
	s.busy = true
	return s.buf, nil
}

func (c *swapchain) destroy() {
	for _, s := range c.slots {
		s.free()
	}
	c.slots = nil
}
