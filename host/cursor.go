package host

import (
	"image"
	"image/color"
	"image/draw"

	"deedles.dev/ximage/geom"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/vector"
)

// cursor is the host surface a seat's pointer image is shown on
type cursor struct {
	seat    *Seat
	surface *client.Surface
	chain   *swapchain
}

func newCursor(s *Seat) *cursor {
	wl, err := s.host.compositor.CreateSurface()
	if err != nil {
		logrus.WithError(err).Warnln("Failed to create host cursor surface")
		return nil
	}
	return &cursor{seat: s, surface: wl, chain: newSwapchain(s.host)}
}

func (c *cursor) destroy() {
	if c == nil {
		return
	}
	c.chain.destroy()
	c.surface.Destroy()
}

// SetCursor shows src of img as the pointer image. hotspot is in buffer
// pixels divided by scale. A nil img hides the pointer
func (s *Seat) SetCursor(img *image.RGBA, src image.Rectangle, hotspot geom.Point[int], scale int32) {
	if s.pointer == nil {
		return
	}
	c := s.cursor
	if img == nil || src.Empty() || c == nil {
		if err := s.pointer.SetCursor(s.EnterSerial, nil, 0, 0); err != nil {
			logrus.WithError(err).Debugln("Failed to hide host cursor")
		}
		return
	}
	size := geom.Pt(src.Dx(), src.Dy())
	buf, err := c.chain.acquire(size)
	if err != nil {
		logrus.WithError(err).Debugln("No buffer for the host cursor")
		return
	}
	draw.Draw(buf.Image, buf.Image.Bounds(), img, src.Min, draw.Src)
	full := []geom.Rect[int]{{Max: size}}
	wlBuf, err := c.chain.commit(buf, full)
	if err != nil {
		logrus.WithError(err).Debugln("Failed to fill host cursor")
		return
	}
	c.surface.SetBufferScale(max(scale, 1))
	c.surface.Attach(wlBuf, 0, 0)
	c.surface.DamageBuffer(0, 0, int32(size.X), int32(size.Y))
	if err := c.surface.Commit(); err != nil {
		logrus.WithError(err).Debugln("Failed to commit host cursor")
		return
	}
	if err := s.pointer.SetCursor(s.EnterSerial, c.surface, int32(hotspot.X), int32(hotspot.Y)); err != nil {
		logrus.WithError(err).Debugln("Failed to set host cursor")
	}
}

// DefaultCursor shows the built in arrow, for named cursors and for
// panel area no applet draws a cursor over
func (s *Seat) DefaultCursor(scale int32) {
	scale = max(scale, 1)
	img := arrow(int(scale))
	s.SetCursor(img, img.Bounds(), geom.Pt(1, 1), scale)
}

// arrow outline, 16 logical pixels tall with the hotspot at the tip
var arrowPoints = [][2]float32{{1, 1}, {1, 16}, {5, 12}, {8, 19}, {10, 18}, {7, 11}, {12, 11}}

func arrow(scale int) *image.RGBA {
	size := 24 * scale
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fill := func(c color.Color, inset float32) {
		var r vector.Rasterizer
		r.Reset(size, size)
		k := float32(scale)
		cx, cy := float32(6), float32(11)
		for i, p := range arrowPoints {
			// shrink towards the middle of the arrow for the inner fill
			x := (p[0] + (cx-p[0])*inset) * k
			y := (p[1] + (cy-p[1])*inset) * k
			if i == 0 {
				r.MoveTo(x, y)
				continue
			}
			r.LineTo(x, y)
		}
		r.ClosePath()
		r.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{})
	}
	fill(color.White, 0)
	fill(color.Black, 0.2)
	return img
}
