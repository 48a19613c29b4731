package host

import (
	"fmt"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/proto/layershell"
	"github.com/mstarongithub/way2panel/proto/overlapnotify"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/sirupsen/logrus"
)

// Layer is a host layer surface
type Layer struct {
	*surface
	ls        *layershell.Surface
	namespace string
	output    *Output
	state     server.LayerState
	overlap   *overlapnotify.Notification
}

// NewLayer creates a layer surface on the named output and commits its
// initial state. An empty name leaves the output to the compositor
func (h *Host) NewLayer(output, namespace string, st server.LayerState) (space.Layer, error) {
	var out *Output
	if output != "" {
		if out = h.Output(output); out == nil {
			return nil, fmt.Errorf("no host output %q", output)
		}
	}

	l := &Layer{namespace: namespace, output: out}
	var err error
	l.surface, err = h.newSurface(l)
	if err != nil {
		return nil, err
	}
	l.ls, err = h.layerShell.GetLayerSurface(l.wl, out.proxyOrNil(), st.Layer, namespace)
	if err != nil {
		l.surface.destroy()
		return nil, fmt.Errorf("get layer surface: %w", err)
	}
	l.ls.SetConfigureHandler(func(e layershell.ConfigureEvent) {
		h.post(func() {
			if !l.dead {
				h.events.LayerConfigured(l, e.Serial, geom.Pt(int(e.Width), int(e.Height)))
			}
		})
	})
	l.ls.SetClosedHandler(func() {
		h.post(func() {
			if !l.dead {
				h.events.LayerClosed(l)
			}
		})
	})

	if h.overlap != nil {
		l.watchOverlap()
	}

	l.apply(st, true)
	if err := l.wl.Commit(); err != nil {
		l.Destroy()
		return nil, fmt.Errorf("initial layer commit: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"namespace": namespace,
		"output":    output,
	}).Debugln("Created host layer surface")
	return l, nil
}

func (o *Output) proxyOrNil() *client.Output {
	if o == nil {
		return nil
	}
	return o.proxy
}

func (l *Layer) watchOverlap() {
	n, err := l.host.overlap.NotifyOnOverlap(l.ls)
	if err != nil {
		logrus.WithError(err).Warnln("Failed to watch for overlapping windows")
		return
	}
	n.SetToplevelEnterHandler(func(e overlapnotify.ToplevelEnterEvent) {
		l.host.post(func() {
			if !l.dead {
				l.host.events.Overlap(l, e.Toplevel, true)
			}
		})
	})
	n.SetToplevelLeaveHandler(func(toplevel uint32) {
		l.host.post(func() {
			if !l.dead {
				l.host.events.Overlap(l, toplevel, false)
			}
		})
	})
	l.overlap = n
}

func (l *Layer) Namespace() string { return l.namespace }
func (l *Layer) State() server.LayerState { return l.state }

// apply sends what changed between the current state and st
func (l *Layer) apply(st server.LayerState, all bool) {
	cur := l.state
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if all || st.Size != cur.Size {
		check(l.ls.SetSize(uint32(max(st.Size.X, 0)), uint32(max(st.Size.Y, 0))))
	}
	if all || st.Anchor != cur.Anchor {
		check(l.ls.SetAnchor(st.Anchor))
	}
	if all || st.ExclusiveZone != cur.ExclusiveZone {
		check(l.ls.SetExclusiveZone(st.ExclusiveZone))
	}
	if all || st.Margin != cur.Margin {
		m := st.Margin
		check(l.ls.SetMargin(m[0], m[1], m[2], m[3]))
	}
	if all || st.KeyboardInteractivity != cur.KeyboardInteractivity {
		check(l.ls.SetKeyboardInteractivity(st.KeyboardInteractivity))
	}
	if !all && st.Layer != cur.Layer {
		check(l.ls.SetLayer(st.Layer))
	}
	l.state = st
	for _, err := range errs {
		logrus.WithError(err).WithField("namespace", l.namespace).Warnln("Failed to update host layer surface")
	}
}

// Configure sends st and commits without a new buffer
func (l *Layer) Configure(st server.LayerState) {
	if l.dead {
		return
	}
	l.apply(st, false)
	if err := l.wl.Commit(); err != nil {
		logrus.WithError(err).Warnln("Failed to commit host layer surface")
	}
}

func (l *Layer) Ack(serial uint32) {
	if l.dead {
		return
	}
	if err := l.ls.AckConfigure(serial); err != nil {
		logrus.WithError(err).Warnln("Failed to ack host layer configure")
	}
}

func (l *Layer) NewPopup(parent space.Popup, p space.Placement) (space.Popup, error) {
	var pp *Popup
	if parent != nil {
		var ok bool
		if pp, ok = parent.(*Popup); !ok {
			return nil, fmt.Errorf("popup parent %T is not a host popup", parent)
		}
	}
	popup, err := l.host.newPopup(l, pp, p)
	if err != nil {
		return nil, err
	}
	return popup, nil
}

// Destroy tears down the layer surface and then its wl_surface
func (l *Layer) Destroy() {
	if l.dead {
		return
	}
	if l.overlap != nil {
		l.overlap.Destroy()
	}
	if err := l.ls.Destroy(); err != nil {
		logrus.WithError(err).Debugln("Failed to destroy host layer surface")
	}
	l.surface.destroy()
}
