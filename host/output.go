package host

import (
	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/server"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/sirupsen/logrus"
)

// OutputState is what a host output last described in full
type OutputState struct {
	Name        string
	Description string
	Make        string
	Model       string
	// Mode is the current mode in physical pixels
	Mode      geom.Point[int]
	Refresh   int32
	Scale     int32
	Transform int32
}

// Output is one host wl_output. Its state changes only on done events
type Output struct {
	OutputState
	host  *Host
	name  uint32
	proxy *client.Output

	pending   OutputState
	ready     bool
	announced bool
}

func newOutput(h *Host, name uint32) *Output {
	o := &Output{host: h, name: name, proxy: client.NewOutput(h.ctx)}
	o.Scale, o.pending.Scale = 1, 1
	o.proxy.SetGeometryHandler(func(e client.OutputGeometryEvent) {
		h.post(func() {
			o.pending.Make, o.pending.Model = e.Make, e.Model
			o.pending.Transform = e.Transform
		})
	})
	o.proxy.SetModeHandler(func(e client.OutputModeEvent) {
		if e.Flags&uint32(client.OutputModeCurrent) == 0 {
			return
		}
		h.post(func() {
			o.pending.Mode = geom.Pt(int(e.Width), int(e.Height))
			o.pending.Refresh = e.Refresh
		})
	})
	o.proxy.SetScaleHandler(func(e client.OutputScaleEvent) {
		h.post(func() { o.pending.Scale = max(e.Factor, 1) })
	})
	o.proxy.SetNameHandler(func(e client.OutputNameEvent) {
		h.post(func() { o.pending.Name = e.Name })
	})
	o.proxy.SetDescriptionHandler(func(e client.OutputDescriptionEvent) {
		h.post(func() { o.pending.Description = e.Description })
	})
	o.proxy.SetDoneHandler(func(client.OutputDoneEvent) {
		h.post(o.done)
	})
	return o
}

func (o *Output) done() {
	o.OutputState = o.pending
	if o.Name == "" {
		// wl_output before v4 has no name
		o.Name = o.Make + " " + o.Model
	}
	o.ready = true

	logrus.WithFields(logrus.Fields{
		"output": o.Name,
		"mode":   o.Mode,
		"scale":  o.Scale,
	}).Debugln("Host output described")
	if !o.host.started {
		return
	}
	if o.announced {
		o.host.events.OutputChanged(o)
		return
	}
	o.announce()
}

func (o *Output) announce() {
	if !o.ready || o.announced {
		return
	}
	o.announced = true
	logrus.WithField("output", o.Name).Infoln("Host output added")
	o.host.events.OutputAdded(o)
}

// LogicalSize is the mode in logical pixels, accounting for rotation
func (o *Output) LogicalSize() geom.Point[int] {
	size := o.Mode
	if o.Transform%2 == 1 {
		size = geom.Pt(size.Y, size.X)
	}
	scale := int(max(o.Scale, 1))
	return geom.Pt(size.X/scale, size.Y/scale)
}

// Info is what applets are told about this output
func (o *Output) Info() server.OutputInfo {
	return server.OutputInfo{
		Name:        o.Name,
		Description: o.Description,
		Make:        o.Make,
		Model:       o.Model,
		Size:        o.Mode,
		Refresh:     o.Refresh,
		Scale:       o.Scale,
	}
}
