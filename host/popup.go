package host

import (
	"fmt"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/space"
	xdg_shell "github.com/rajveermalviya/go-wayland/wayland/stable/xdg-shell"
	"github.com/sirupsen/logrus"
)

// Popup is a host xdg popup, parented to a layer surface or another popup
type Popup struct {
	*surface
	layer   *Layer
	xdg     *xdg_shell.Surface
	popup   *xdg_shell.Popup
	pending geom.Rect[int]
}

func (h *Host) positioner(p space.Placement) (*xdg_shell.Positioner, error) {
	pos, err := h.wmBase.CreatePositioner()
	if err != nil {
		return nil, fmt.Errorf("create positioner: %w", err)
	}
	a := p.AnchorRect
	errs := []error{
		pos.SetSize(int32(max(p.Size.X, 1)), int32(max(p.Size.Y, 1))),
		pos.SetAnchorRect(int32(a.Min.X), int32(a.Min.Y), int32(max(a.Dx(), 1)), int32(max(a.Dy(), 1))),
		pos.SetAnchor(p.Anchor),
		pos.SetGravity(p.Gravity),
		pos.SetConstraintAdjustment(p.ConstraintAdjustment),
		pos.SetOffset(int32(p.Offset.X), int32(p.Offset.Y)),
	}
	if p.Reactive {
		errs = append(errs, pos.SetReactive())
	}
	for _, err := range errs {
		if err != nil {
			pos.Destroy()
			return nil, fmt.Errorf("set up positioner: %w", err)
		}
	}
	return pos, nil
}

func (h *Host) newPopup(layer *Layer, parent *Popup, p space.Placement) (*Popup, error) {
	pos, err := h.positioner(p)
	if err != nil {
		return nil, err
	}
	defer pos.Destroy()

	pp := &Popup{layer: layer}
	pp.surface, err = h.newSurface(pp)
	if err != nil {
		return nil, err
	}
	pp.xdg, err = h.wmBase.GetXdgSurface(pp.wl)
	if err != nil {
		pp.surface.destroy()
		return nil, fmt.Errorf("get xdg surface: %w", err)
	}

	var parentXdg *xdg_shell.Surface
	if parent != nil {
		parentXdg = parent.xdg
	}
	pp.popup, err = pp.xdg.GetPopup(parentXdg, pos)
	if err != nil {
		pp.Destroy()
		return nil, fmt.Errorf("get popup: %w", err)
	}
	if parent == nil {
		if err := layer.ls.GetPopup(pp.popup); err != nil {
			pp.Destroy()
			return nil, fmt.Errorf("parent popup to layer surface: %w", err)
		}
	}

	pp.popup.SetConfigureHandler(func(e xdg_shell.PopupConfigureEvent) {
		h.post(func() {
			pp.pending = geom.Rt(int(e.X), int(e.Y), int(e.X+e.Width), int(e.Y+e.Height))
		})
	})
	pp.xdg.SetConfigureHandler(func(e xdg_shell.SurfaceConfigureEvent) {
		h.post(func() {
			if !pp.dead {
				h.events.PopupConfigured(pp, e.Serial, pp.pending)
			}
		})
	})
	pp.popup.SetPopupDoneHandler(func(xdg_shell.PopupPopupDoneEvent) {
		h.post(func() {
			if !pp.dead {
				h.events.PopupDone(pp)
			}
		})
	})
	pp.popup.SetRepositionedHandler(func(e xdg_shell.PopupRepositionedEvent) {
		h.post(func() {
			if !pp.dead {
				h.events.PopupRepositioned(pp, e.Token)
			}
		})
	})

	if err := pp.wl.Commit(); err != nil {
		pp.Destroy()
		return nil, fmt.Errorf("initial popup commit: %w", err)
	}
	return pp, nil
}

func (p *Popup) Ack(serial uint32) {
	if p.dead {
		return
	}
	if err := p.xdg.AckConfigure(serial); err != nil {
		logrus.WithError(err).Warnln("Failed to ack host popup configure")
	}
}

func (p *Popup) Reposition(pl space.Placement, token uint32) {
	if p.dead {
		return
	}
	pos, err := p.host.positioner(pl)
	if err != nil {
		logrus.WithError(err).Warnln("Failed to reposition host popup")
		return
	}
	defer pos.Destroy()
	if err := p.popup.Reposition(pos, token); err != nil {
		logrus.WithError(err).Warnln("Failed to reposition host popup")
	}
}

// Grab takes an explicit grab for the named seat. serial is a host serial
func (p *Popup) Grab(seat string, serial uint32) {
	if p.dead {
		return
	}
	s := p.host.seatByName(seat)
	if s == nil {
		logrus.WithField("seat", seat).Warnln("Popup grab for an unknown host seat")
		return
	}
	if err := p.popup.Grab(s.proxy, serial); err != nil {
		logrus.WithError(err).Warnln("Failed to grab host popup")
	}
}

// Destroy tears down the popup role before the surface
func (p *Popup) Destroy() {
	if p.dead {
		return
	}
	if p.popup != nil {
		if err := p.popup.Destroy(); err != nil {
			logrus.WithError(err).Debugln("Failed to destroy host popup")
		}
	}
	if p.xdg != nil {
		p.xdg.Destroy()
	}
	p.surface.destroy()
}
