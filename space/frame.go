// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package space

import (
	"errors"
	"fmt"
	"image/color"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/autohide"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/render"
	"github.com/sirupsen/logrus"
)

func (s *Space) applets() []layout.Applet {
	var out []layout.Applet
	for _, w := range s.windows {
		if !w.mapped() {
			continue
		}
		out = append(out, layout.Applet{
			ID:          w.id(),
			Band:        w.client.Band,
			Size:        w.toplevel.XdgSurface().Geometry().Size(),
			MinUnits:    w.client.MinUnits,
			Priority:    w.client.Priority,
			HasPriority: w.client.HasPriority,
		})
	}
	return out
}

func (s *Space) sendConfigures(res *layout.Result) {
	for _, c := range res.Configures {
		for _, w := range s.windows {
			if w.id() == c.ID && w.toplevel.Alive() {
				w.toplevel.Configure(c.Size, s.output.Size)
			}
		}
	}
}

func (s *Space) background() color.RGBA {
	return render.Premultiply(s.conf.Background.RGBA(s.theme, s.conf.Opacity))
}

// contentRect is the panel area without the gap, logical
func (s *Space) contentRect() geom.Rect[int] {
	base := 0
	if s.conf.Anchor == config.AnchorTop || s.conf.Anchor == config.AnchorLeft {
		base = s.conf.Gap()
	}
	if s.conf.IsHorizontal() {
		return geom.Rt(0, base, s.actual.X, base+s.actual.Y)
	}
	return geom.Rt(base, 0, base+s.actual.X, s.actual.Y)
}

func (s *Space) elements() []render.Element {
	radius := layout.Physical(int(s.conf.BorderRadius), s.scale)
	corners := render.CornersFor(s.conf.Anchor, s.conf.Gap() > 0)
	s.bg.Set(layout.PhysicalRect(s.contentRect(), s.scale), radius, corners, s.background())
	elems := []render.Element{s.bg}

	for _, w := range s.windows {
		r, ok := s.result.Placed[w.id()]
		if !ok || !w.mapped() {
			continue
		}
		geo := w.toplevel.XdgSurface().Geometry()
		elems = append(elems, render.NewTree(w, render.Flatten(w.toplevel.Surface()), r.Min.Sub(geo.Min), s.scale, r))
	}

	for band, r := range s.result.Buttons {
		b, ok := s.buttons[band]
		if !ok {
			b = render.NewButton(band)
			s.buttons[band] = b
		}
		b.Set(layout.PhysicalRect(r, s.scale), color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff})
		elems = append(elems, b)
	}
	for band := range s.buttons {
		if _, ok := s.result.Buttons[band]; !ok {
			delete(s.buttons, band)
		}
	}
	return elems
}

func (s *Space) configureLayer() {
	s.lastZone, s.lastMargin = s.exclusiveZone(), s.hostMargin()
	s.layer.Configure(s.layerState())
}

// applyHide pushes the autohide position to the host
func (s *Space) applyHide() {
	zone, margin := s.exclusiveZone(), s.hostMargin()
	if zone == s.lastZone && margin == s.lastMargin {
		return
	}
	if s.state == StateQuit || s.layer == nil {
		return
	}
	s.configureLayer()
	s.layer.SetInputRegion(s.inputRect())
	if s.hide.State() != autohide.Hidden {
		s.hiddenDrawn = false
		s.dirty = true
	}
}

// Frame advances the space to now: autohide, layout, and drawing of
// everything that changed. The returned commands are for the caller to run
func (s *Space) Frame(now time.Time) []Command {
	if s.state == StateQuit {
		return nil
	}
	var cmds []Command
	s.hide.Tick(now)
	s.applyHide()
	if d, ok := s.hide.NextTick(now); ok {
		cmds = append(cmds, ScheduleFrame{After: d})
	}
	if s.state == StateWaitConfigure {
		return cmds
	}
	if s.cooldown {
		s.cooldown = false
		return append(cmds, ScheduleFrame{After: FrameInterval})
	}

	ms := uint32(now.UnixMilli())
	if err := s.drawSurfaces(ms); err != nil {
		return s.renderFailed(err, cmds)
	}

	if s.hide.State() == autohide.Hidden {
		if !s.hiddenDrawn && s.hasFrame {
			if err := s.drawHidden(); err != nil {
				return s.renderFailed(err, cmds)
			}
			s.hiddenDrawn = true
		}
		return cmds
	}
	if !s.dirty || !s.hasFrame {
		return cmds
	}

	res, err := s.engine.Layout(s.params(), s.applets())
	s.sendConfigures(&res)
	var resize *layout.ErrResizing
	if errors.As(err, &resize) {
		s.pending = resize.Size
		s.state = StateWaitConfigure
		s.configureLayer()
		logrus.WithFields(logrus.Fields{
			"panel": s.conf.Name,
			"from":  s.dimensions,
			"to":    resize.Size,
		}).Debugln("Panel resizing")
		return cmds
	}
	if err != nil {
		logrus.WithError(err).WithField("panel", s.conf.Name).Errorln("Layout failed")
		return cmds
	}
	s.result = res
	s.actual = res.Actual
	ids := make([]string, 0, len(s.windows))
	for _, a := range s.applets() {
		ids = append(ids, a.ID)
	}
	if err := layout.Check(&s.result, ids); err != nil {
		logrus.WithError(err).WithField("panel", s.conf.Name).Warnln("Inconsistent layout")
	}
	s.syncOverflow()

	if err := s.draw(ms); err != nil {
		return s.renderFailed(err, cmds)
	}
	s.failures = 0
	s.dirty = false
	s.updateMinimize()
	return cmds
}

func (s *Space) renderFailed(err error, cmds []Command) []Command {
	s.failures++
	logrus.WithError(err).WithFields(logrus.Fields{
		"panel":    s.conf.Name,
		"failures": s.failures,
	}).Warnln("Render failed")
	if s.failures >= MaxRenderFailures {
		return append(cmds, Destroy{Reason: fmt.Sprintf("rendering failed %d times: %v", s.failures, err)})
	}
	s.cooldown = true
	return append(cmds, ScheduleFrame{After: FrameInterval})
}

// drawSurfaces draws popups, the overflow space and proxied layer surfaces
func (s *Space) drawSurfaces(ms uint32) error {
	for _, p := range s.popups {
		if err := s.drawPopup(p, ms); err != nil {
			return err
		}
	}
	if err := s.drawOverflow(ms); err != nil {
		return err
	}
	for _, p := range s.proxies {
		if err := s.drawProxy(p, ms); err != nil {
			return err
		}
	}
	return nil
}

func (s *Space) draw(ms uint32) error {
	buf, err := s.layer.Acquire(s.physical(s.dimensions))
	if err != nil {
		return fmt.Errorf("acquiring panel buffer: %w", err)
	}
	damage := render.Frame(buf.Image, s.tracker, buf.Age, s.elements())
	if err := s.layer.Present(buf, damage); err != nil {
		return fmt.Errorf("presenting panel: %w", err)
	}
	s.hasFrame = false
	for _, w := range s.windows {
		if _, ok := s.result.Placed[w.id()]; ok && w.toplevel.Alive() {
			w.toplevel.Surface().FrameDone(ms)
		}
	}
	return nil
}

// drawHidden shows nothing while the panel is out of sight
func (s *Space) drawHidden() error {
	buf, err := s.layer.Acquire(s.physical(s.dimensions))
	if err != nil {
		return fmt.Errorf("acquiring panel buffer: %w", err)
	}
	damage := render.Clear(buf.Image, s.tracker)
	if err := s.layer.Present(buf, damage); err != nil {
		return fmt.Errorf("presenting panel: %w", err)
	}
	s.hasFrame = false
	return nil
}

// origin is where the layer surface sits on its output, logical
func (s *Space) origin() geom.Point[int] {
	out, dim := s.output.Size, s.dimensions
	switch s.conf.Anchor {
	case config.AnchorTop:
		return geom.Pt((out.X-dim.X)/2, 0)
	case config.AnchorBottom:
		return geom.Pt((out.X-dim.X)/2, out.Y-dim.Y)
	case config.AnchorLeft:
		return geom.Pt(0, (out.Y-dim.Y)/2)
	default:
		return geom.Pt(out.X-dim.X, (out.Y-dim.Y)/2)
	}
}

// updateMinimize tracks the minimize applet with the highest priority
func (s *Space) updateMinimize() {
	var best *PanelClient
	var rect geom.Rect[int]
	for _, w := range s.windows {
		r, ok := s.result.Placed[w.id()]
		if !ok || !w.client.Minimize {
			continue
		}
		if best == nil || w.client.Priority > best.Priority {
			best, rect = w.client, r
		}
	}
	if best == nil {
		s.minimize = geom.Rect[int]{}
		return
	}
	s.minimize = rect.Add(s.origin())
}

// SurfaceFrame routes a host frame callback to whatever drew into target
func (s *Space) SurfaceFrame(target Surface) bool {
	switch {
	case target == s.layer && s.layer != nil:
		s.hasFrame = true
	case s.overflow != nil && s.overflow.host == target:
		s.overflow.hasFrame = true
	default:
		if p := s.popupForHost(target); p != nil {
			p.hasFrame = true
			return true
		}
		if p := s.proxyForHost(target); p != nil {
			p.hasFrame = true
			return true
		}
		return false
	}
	return true
}

// Hosts reports whether target is one of the host surfaces of this space
func (s *Space) Hosts(target Surface) bool {
	if target == nil {
		return false
	}
	if s.layer != nil && target == s.layer {
		return true
	}
	if s.overflow != nil && s.overflow.host == target {
		return true
	}
	return s.popupForHost(target) != nil || s.proxyForHost(target) != nil
}
