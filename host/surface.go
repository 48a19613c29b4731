package host

import (
	"fmt"
	"math"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/proto/fractionalscale"
	"github.com/mstarongithub/way2panel/proto/viewporter"
	"github.com/mstarongithub/way2panel/space"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/sirupsen/logrus"
)

// surface is the part layer surfaces and popups share: a wl_surface with
// its swapchain and scaling
type surface struct {
	host *Host
	// self is the object events about this surface are reported for
	self     space.Surface
	wl       *client.Surface
	chain    *swapchain
	viewport *viewporter.Viewport
	scaler   *fractionalscale.Scale
	dead     bool
}

func (h *Host) newSurface(self space.Surface) (*surface, error) {
	wl, err := h.compositor.CreateSurface()
	if err != nil {
		return nil, fmt.Errorf("create host surface: %w", err)
	}
	s := &surface{host: h, self: self, wl: wl, chain: newSwapchain(h)}
	h.targets[wl] = self

	if h.fractional != nil {
		s.scaler, err = h.fractional.GetFractionalScale(wl)
		if err != nil {
			logrus.WithError(err).Warnln("Failed to get fractional scale for host surface")
		} else {
			s.scaler.SetPreferredHandler(func(scale float64) {
				h.post(func() {
					if !s.dead {
						h.events.PreferredScale(self, scale)
					}
				})
			})
		}
	}
	if h.viewporter != nil {
		s.viewport, err = h.viewporter.GetViewport(wl)
		if err != nil {
			logrus.WithError(err).Warnln("Failed to get viewport for host surface")
			s.viewport = nil
		}
	}
	return s, nil
}

func (s *surface) Acquire(size geom.Point[int]) (*space.Buffer, error) {
	if s.dead {
		return nil, fmt.Errorf("host surface destroyed")
	}
	return s.chain.acquire(size)
}

func (s *surface) Present(buf *space.Buffer, damage []geom.Rect[int]) error {
	wlBuf, err := s.chain.commit(buf, damage)
	if err != nil {
		return err
	}
	if err := s.wl.Attach(wlBuf, 0, 0); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	for _, d := range damage {
		if err := s.wl.DamageBuffer(int32(d.Min.X), int32(d.Min.Y), int32(d.Dx()), int32(d.Dy())); err != nil {
			return fmt.Errorf("damage: %w", err)
		}
	}
	cb, err := s.wl.Frame()
	if err != nil {
		return fmt.Errorf("frame callback: %w", err)
	}
	cb.SetDoneHandler(func(client.CallbackDoneEvent) {
		s.host.post(func() {
			if !s.dead {
				s.host.events.FrameDone(s.self)
			}
		})
	})
	return s.wl.Commit()
}

// SetScale uses the viewport when the host has one. Without it only whole
// scales can be expressed and the buffer is rounded up
func (s *surface) SetScale(scale float64, logical geom.Point[int]) {
	var err error
	if s.viewport != nil {
		err = s.viewport.SetDestination(int32(logical.X), int32(logical.Y))
	} else {
		err = s.wl.SetBufferScale(int32(math.Ceil(scale)))
	}
	if err != nil {
		logrus.WithError(err).Warnln("Failed to set host surface scale")
	}
}

func (s *surface) SetInputRegion(r geom.Rect[int]) {
	region, err := s.host.compositor.CreateRegion()
	if err != nil {
		logrus.WithError(err).Warnln("Failed to create input region")
		return
	}
	if !r.Empty() {
		region.Add(int32(r.Min.X), int32(r.Min.Y), int32(r.Dx()), int32(r.Dy()))
	}
	if err := s.wl.SetInputRegion(region); err != nil {
		logrus.WithError(err).Warnln("Failed to set input region")
	}
	region.Destroy()
}

func (s *surface) destroy() {
	if s.dead {
		return
	}
	s.dead = true
	delete(s.host.targets, s.wl)
	s.chain.destroy()
	if s.viewport != nil {
		s.viewport.Destroy()
	}
	if s.scaler != nil {
		s.scaler.Destroy()
	}
	if err := s.wl.Destroy(); err != nil {
		logrus.WithError(err).Debugln("Failed to destroy host surface")
	}
}
