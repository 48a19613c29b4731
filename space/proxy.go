package space

import (
	"fmt"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/render"
	"github.com/mstarongithub/way2panel/server"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

type SurfaceStateKind int

const (
	// host surface created, its first configure has not arrived
	SurfaceWaitingFirst = SurfaceStateKind(iota)
	// new state sent to the host, waiting for its configure
	SurfaceWaiting
	SurfaceDirty
	SurfaceIdle
)

// SurfaceState tracks a proxied layer surface. Gen counts the sizes the
// host configured; content committed for an older one is never drawn
type SurfaceState struct {
	Kind SurfaceStateKind
	Gen  uint32
	Size geom.Point[int]
}

type sentConfigure struct {
	serial uint32
	gen    uint32
}

// proxy mirrors a layer surface an applet created onto a host layer surface
type proxy struct {
	ls   *server.LayerSurface
	host Layer
	last server.LayerState

	state    SurfaceState
	tracker  *render.Tracker
	hasFrame bool
	// content arrived while waiting for the host
	stale bool

	// configures forwarded to the applet and not acked yet
	sent []sentConfigure
	// generation of the last configure the applet acked
	acked uint32
	// stale commits thrown away
	discarded int
}

// ackedGen is the generation the applet drew its latest commit for
func (p *proxy) ackedGen() uint32 {
	serial := p.ls.Acked()
	for i, c := range p.sent {
		if c.serial == serial {
			p.acked = c.gen
			p.sent = p.sent[i+1:]
			break
		}
	}
	return p.acked
}

func (p *proxy) committed() {
	gen := p.ackedGen()
	if st := p.ls.State(); st != p.last {
		p.last = st
		if p.state.Kind != SurfaceWaitingFirst {
			p.host.Configure(st)
			p.state.Kind = SurfaceWaiting
		}
		p.stale = gen == p.state.Gen
		return
	}
	if gen != p.state.Gen {
		p.discarded++
		logrus.WithFields(logrus.Fields{
			"namespace": p.ls.Namespace(),
			"gen":       gen,
			"current":   p.state.Gen,
		}).Debugln("Dropped layer surface commit for an old size")
		return
	}
	switch p.state.Kind {
	case SurfaceWaitingFirst, SurfaceWaiting:
		p.stale = true
	default:
		p.state.Kind = SurfaceDirty
	}
}

func (s *Space) proxyFor(ls *server.LayerSurface) *proxy {
	for _, p := range s.proxies {
		if p.ls == ls {
			return p
		}
	}
	return nil
}

func (s *Space) proxyForHost(h Surface) *proxy {
	for _, p := range s.proxies {
		if p.host == h {
			return p
		}
	}
	return nil
}

// AddLayerSurface proxies a layer surface of one of the panel's applets
// onto the host, on this space's output
func (s *Space) AddLayerSurface(ls *server.LayerSurface) bool {
	if s.Client(ls.Surface().Client().ID()) == nil {
		return false
	}
	if out := ls.Output(); out != nil && out.Info().Name != s.output.Name {
		return false
	}
	st := ls.State()
	host, err := s.host.NewLayer(s.output.Name, ls.Namespace(), st)
	if err != nil {
		logrus.WithError(err).WithField("namespace", ls.Namespace()).Warnln("Failed to proxy applet layer surface")
		ls.Close()
		return true
	}
	p := &proxy{ls: ls, host: host, last: st, tracker: render.NewTracker(geom.Point[int]{})}
	ls.Data = p
	s.proxies = append(s.proxies, p)
	return true
}

// RemoveLayerSurface drops the host side of a destroyed applet layer surface
func (s *Space) RemoveLayerSurface(ls *server.LayerSurface) bool {
	p := s.proxyFor(ls)
	if p == nil {
		return false
	}
	s.dropProxy(p)
	return true
}

func (s *Space) dropProxy(p *proxy) {
	for _, pp := range append([]*popup(nil), s.popups...) {
		if pp.popup.Parent() == p.ls.Surface() {
			pp.popup.Done()
			s.dropPopup(pp)
		}
	}
	s.proxies = sliceutils.Filter(s.proxies, func(o *proxy) bool { return o != p })
	if p.ls.Data == p {
		p.ls.Data = nil
	}
	p.host.Destroy()
}

// ProxyConfigured forwards a host configure to the applet's layer surface
func (s *Space) ProxyConfigured(host Layer, serial uint32, size geom.Point[int]) bool {
	p := s.proxyForHost(host)
	if p == nil {
		return false
	}
	host.Ack(serial)
	if size.X == 0 {
		size.X = p.last.Size.X
	}
	if size.Y == 0 {
		size.Y = p.last.Size.Y
	}
	if p.state.Kind == SurfaceWaitingFirst {
		p.hasFrame = true
	}
	if size != p.state.Size {
		p.state.Size = size
		p.state.Gen++
		// whatever came in meanwhile was drawn for the old size
		p.stale = false
		host.SetScale(s.scale, size)
		p.tracker.Resize(s.physical(size))
	}
	if serial := p.ls.Configure(size); serial != 0 {
		p.sent = append(p.sent, sentConfigure{serial: serial, gen: p.state.Gen})
	}
	p.state.Kind = SurfaceIdle
	if p.stale {
		p.stale = false
		p.state.Kind = SurfaceDirty
	}
	return true
}

// ProxyClosed handles the host closing a proxied layer surface
func (s *Space) ProxyClosed(host Layer) bool {
	p := s.proxyForHost(host)
	if p == nil {
		return false
	}
	p.ls.Close()
	s.dropProxy(p)
	return true
}

// ProxyState reports the state of the proxy for an applet layer surface
// and how many of its commits were dropped as stale
func (s *Space) ProxyState(ls *server.LayerSurface) (SurfaceState, int, bool) {
	p := s.proxyFor(ls)
	if p == nil {
		return SurfaceState{}, 0, false
	}
	return p.state, p.discarded, true
}

func (s *Space) drawProxy(p *proxy, ms uint32) error {
	surf := p.ls.Surface()
	if p.state.Kind != SurfaceDirty || !p.hasFrame || !surf.Mapped() || p.state.Size.IsZero() {
		return nil
	}
	if p.acked != p.state.Gen {
		p.state.Kind = SurfaceIdle
		return nil
	}
	buf, err := p.host.Acquire(s.physical(p.state.Size))
	if err != nil {
		return fmt.Errorf("acquiring layer buffer: %w", err)
	}
	tree := render.NewTree(p, render.Flatten(surf), geom.Point[int]{}, s.scale, geom.Rect[int]{Max: p.state.Size})
	damage := render.Frame(buf.Image, p.tracker, buf.Age, []render.Element{tree})
	if err := p.host.Present(buf, damage); err != nil {
		return fmt.Errorf("presenting layer surface: %w", err)
	}
	p.hasFrame = false
	p.state.Kind = SurfaceIdle
	surf.FrameDone(ms)
	return nil
}
