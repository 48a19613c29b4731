package container

import (
	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/host"
	"github.com/mstarongithub/way2panel/space"
	"github.com/sirupsen/logrus"
)

func (c *Container) OutputAdded(o *host.Output) {
	c.outputs = append(c.outputs, &output{host: o, inner: c.server.AddOutput(o.Info())})
	logrus.WithFields(logrus.Fields{
		"output": o.Name,
		"size":   o.LogicalSize(),
		"scale":  o.Scale,
	}).Infoln("Output added")
	for i := range c.conf.Panels {
		conf := &c.conf.Panels[i]
		if !c.wants(conf, o) {
			continue
		}
		if err := c.addPanel(conf, o); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"panel":  conf.Name,
				"output": o.Name,
			}).Errorln("Failed to create panel space")
		}
	}
}

func (c *Container) OutputChanged(o *host.Output) {
	if out := c.output(o); out != nil {
		out.inner.Update(o.Info())
	}
	for _, p := range c.panels {
		if p.output == o {
			p.space.SetOutputSize(o.LogicalSize())
		}
	}
}

func (c *Container) OutputRemoved(o *host.Output) {
	for _, p := range append([]*panel(nil), c.panels...) {
		if p.output == o {
			c.removePanel(p, "output removed")
		}
	}
	if out := c.output(o); out != nil {
		c.server.RemoveOutput(out.inner)
		c.outputs = removeOutput(c.outputs, out)
	}
	logrus.WithField("output", o.Name).Infoln("Output removed")

	// panels following the active output move on to one that is left
	for i := range c.conf.Panels {
		conf := &c.conf.Panels[i]
		if conf.Output.Kind != config.OutputActive || len(c.outputs) == 0 || !c.wants(conf, nil) {
			continue
		}
		if err := c.addPanel(conf, c.outputs[0].host); err != nil {
			logrus.WithError(err).WithField("panel", conf.Name).Errorln("Failed to move panel space")
		}
	}
}

func (c *Container) output(o *host.Output) *output {
	for _, out := range c.outputs {
		if out.host == o {
			return out
		}
	}
	return nil
}

func removeOutput(outs []*output, o *output) []*output {
	for i, other := range outs {
		if other == o {
			return append(outs[:i], outs[i+1:]...)
		}
	}
	return outs
}

func (c *Container) SeatAdded(s *host.Seat) {
	c.bridge.AddSeat(s.Name, s, s.HasTouch())
	c.keymaps[s.Name] = -1
	c.seatChanged(s)
}

func (c *Container) SeatChanged(s *host.Seat) { c.seatChanged(s) }

func (c *Container) seatChanged(s *host.Seat) {
	bs := c.bridge.Seat(s.Name)
	if bs == nil {
		return
	}
	bs.SetTouch(s.HasTouch())
	if s.Keymap.FD >= 0 && c.keymaps[s.Name] != s.Keymap.FD {
		if fd := s.DupKeymap(); fd >= 0 {
			c.keymaps[s.Name] = s.Keymap.FD
			bs.SetKeymap(s.Keymap.Format, fd, s.Keymap.Size)
		}
	}
	if s.Rate != 0 || s.Delay != 0 {
		bs.SetRepeatInfo(s.Rate, s.Delay)
	}
}

func (c *Container) SeatRemoved(s *host.Seat) {
	c.bridge.RemoveSeat(s.Name)
	delete(c.keymaps, s.Name)
	for _, p := range c.panels {
		p.space.SeatRemoved(s.Name)
	}
}

func (c *Container) Pointer(s *host.Seat, e host.PointerEvent) {
	if bs := c.bridge.Seat(s.Name); bs != nil {
		bs.Pointer(e)
	}
}

func (c *Container) Keyboard(s *host.Seat, e host.KeyboardEvent) {
	if bs := c.bridge.Seat(s.Name); bs != nil {
		bs.Keyboard(e)
	}
}

func (c *Container) Touch(s *host.Seat, e host.TouchEvent) {
	if bs := c.bridge.Seat(s.Name); bs != nil {
		bs.Touch(e)
	}
}

func (c *Container) Selection(s *host.Seat, o *host.Offer) {
	if bs := c.bridge.Seat(s.Name); bs != nil {
		bs.HostSelection(o)
	}
}

func (c *Container) Drag(s *host.Seat, e host.DragEvent) {
	if bs := c.bridge.Seat(s.Name); bs != nil {
		bs.HostDrag(e)
	}
}

func (c *Container) LayerConfigured(l *host.Layer, serial uint32, size geom.Point[int]) {
	c.layerConfigured(l, serial, size)
}

// layerConfigured finds the space whose own layer this is, otherwise a
// space proxying an applet layer surface through it
func (c *Container) layerConfigured(l space.Layer, serial uint32, size geom.Point[int]) {
	if p := c.panelForLayer(l); p != nil {
		c.run(p, p.space.Configured(serial, size))
		return
	}
	for _, p := range c.panels {
		if p.space.ProxyConfigured(l, serial, size) {
			return
		}
	}
}

func (c *Container) LayerClosed(l *host.Layer) { c.layerClosed(l) }

func (c *Container) layerClosed(l space.Layer) {
	if p := c.panelForLayer(l); p != nil {
		c.run(p, p.space.Closed())
		return
	}
	for _, p := range c.panels {
		if p.space.ProxyClosed(l) {
			return
		}
	}
}

func (c *Container) PopupConfigured(hp *host.Popup, serial uint32, r geom.Rect[int]) {
	c.popupConfigured(hp, serial, r)
}

func (c *Container) popupConfigured(hp space.Popup, serial uint32, r geom.Rect[int]) {
	for _, p := range c.panels {
		if p.space.PopupConfigured(hp, serial, r) {
			return
		}
	}
}

func (c *Container) PopupRepositioned(hp *host.Popup, token uint32) {
	for _, p := range c.panels {
		if p.space.PopupRepositioned(hp, token) {
			return
		}
	}
}

func (c *Container) PopupDone(hp *host.Popup) { c.popupDone(hp) }

func (c *Container) popupDone(hp space.Popup) {
	for _, p := range c.panels {
		if p.space.PopupDone(hp) {
			return
		}
	}
}

func (c *Container) FrameDone(target space.Surface) {
	for _, p := range c.panels {
		if p.space.SurfaceFrame(target) {
			return
		}
	}
}

func (c *Container) PreferredScale(target space.Surface, scale float64) {
	for _, p := range c.panels {
		if p.space.Layer() == target {
			p.space.SetScale(scale)
			return
		}
	}
}

func (c *Container) Overlap(l *host.Layer, toplevel uint32, entered bool) {
	c.overlap(l, toplevel, entered)
}

func (c *Container) overlap(l space.Layer, toplevel uint32, entered bool) {
	if p := c.panelForLayer(l); p != nil {
		p.space.SetOverlapped(toplevel, entered)
	}
}

func (c *Container) Lost(err error) {
	logrus.WithError(err).Errorln("Lost the host compositor")
	c.loop.Fail(err)
}
