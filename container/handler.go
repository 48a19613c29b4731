package container

import (
	"github.com/mstarongithub/way2panel/server"
	"github.com/sirupsen/logrus"
)

// serverEvents is the container as the inner server sees it. The host
// and the server both report popup repositions, so they get separate method sets
type serverEvents Container

func (c *serverEvents) SurfaceCommitted(s *server.Surface) {
	c.bridge.Committed(s)
	for _, p := range c.panels {
		if p.space.Owns(s) {
			p.space.Committed(s)
			return
		}
	}
}

func (c *serverEvents) ToplevelCreated(t *server.Toplevel) {
	for _, p := range c.panels {
		if p.space.AddToplevel(t) {
			return
		}
	}
	logrus.WithField("client", t.Surface().Client().ID()).Warnln("Toplevel of a client no panel knows")
}

func (c *serverEvents) ToplevelDestroyed(t *server.Toplevel) {
	for _, p := range c.panels {
		p.space.RemoveToplevel(t)
	}
}

func (c *serverEvents) PopupCreated(pp *server.Popup) {
	for _, p := range c.panels {
		if p.space.AddPopup(pp) {
			return
		}
	}
}

func (c *serverEvents) PopupGrab(pp *server.Popup, seat *server.Seat, serial uint32) {
	name, hostSerial := c.bridge.HostSerial(seat, serial)
	if name == "" {
		return
	}
	for _, p := range c.panels {
		if p.space.GrabPopup(pp, name, hostSerial) {
			return
		}
	}
}

func (c *serverEvents) PopupRepositioned(pp *server.Popup, token uint32) {
	for _, p := range c.panels {
		if p.space.RepositionPopup(pp, token) {
			return
		}
	}
}

func (c *serverEvents) PopupDestroyed(pp *server.Popup) {
	for _, p := range c.panels {
		p.space.RemovePopup(pp)
	}
}

func (c *serverEvents) LayerSurfaceCreated(ls *server.LayerSurface) {
	for _, p := range c.panels {
		if p.space.AddLayerSurface(ls) {
			return
		}
	}
}

func (c *serverEvents) LayerSurfaceDestroyed(ls *server.LayerSurface) {
	for _, p := range c.panels {
		p.space.RemoveLayerSurface(ls)
	}
}

func (c *serverEvents) SelectionSet(seat *server.Seat, src *server.DataSource) {
	c.bridge.InnerSelection(seat, src)
}

func (c *serverEvents) DragStarted(seat *server.Seat, src *server.DataSource, origin, icon *server.Surface, serial uint32) {
	c.bridge.DragStarted(seat, src, icon)
}

func (c *serverEvents) CursorSet(seat *server.Seat, surf *server.Surface, hx, hy int32) {
	c.bridge.CursorSet(seat, surf)
}

func (c *serverEvents) ClientDisconnected(cl *server.Client) {
	c.bridge.ClientGone(cl)
	for _, p := range c.panels {
		p.space.ClientGone(cl.ID())
	}
}
