// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package container owns every panel space. It is the meeting point of the
// host connection, the inner server, the bridge and the applet supervisors:
// events from either side come in here and are handed to the space they
// belong to
package container

import (
	"fmt"
	"os"
	"slices"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/bridge"
	"github.com/mstarongithub/way2panel/clock"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/desktop"
	"github.com/mstarongithub/way2panel/host"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/mstarongithub/way2panel/supervisor"
	"github.com/sirupsen/logrus"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

// CleanupInterval is how often records of dead applet connections are swept
const CleanupInterval = 5 * time.Minute

// Host is the part of the host connection the container drives
type Host interface {
	space.Host
	Features() host.Features
	PrivilegedSocket(appID, instanceID string) (*os.File, func(), error)
}

type Options struct {
	// Lookup resolves applet desktop entries, desktop.Load when nil
	Lookup func(name string) (*desktop.Entry, error)
}

// output pairs a host output with its inner global
type output struct {
	host  *host.Output
	inner *server.Output
}

// panel is one space of one panel config on one output
type panel struct {
	conf   *config.PanelConfig
	output *host.Output
	space  *space.Space
	sup    *supervisor.Supervisor
	timer  *clock.Timer
}

type Container struct {
	loop  *loop.Loop
	conf  *config.Config
	opts  Options
	clock clock.Clock

	host   Host
	server *server.Server
	bridge *bridge.Bridge

	panels  []*panel
	outputs []*output
	// the keymap fd each host seat last handed to its inner seat
	keymaps map[string]int

	stopCleanup func()
	closed      bool
}

func New(l *loop.Loop, conf *config.Config, opts Options) *Container {
	if opts.Lookup == nil {
		opts.Lookup = desktop.Load
	}
	return &Container{
		loop:    l,
		conf:    conf,
		opts:    opts,
		clock:   l.Clock(),
		keymaps: map[string]int{},
	}
}

// Start brings up the inner server for h. Call it after host.Connect and
// before the host starts delivering events
func (c *Container) Start(h Host) {
	c.host = h
	f := h.Features()
	c.server = server.New(c.loop, (*serverEvents)(c), server.Features{
		FractionalScale: f.FractionalScale,
		Viewporter:      f.Viewporter,
	})
	c.bridge = bridge.New(c.loop, c.server, c)
	c.loop.OnIdle(c.frames)
	c.stopCleanup = c.loop.Every(CleanupInterval, c.cleanup)
	logrus.WithFields(logrus.Fields{
		"panels":           len(c.conf.Panels),
		"fractional-scale": f.FractionalScale,
		"security-context": f.SecurityContext,
		"overlap-notify":   f.OverlapNotify,
	}).Infoln("Panel container started")
}

func (c *Container) Server() *server.Server { return c.server }
func (c *Container) Bridge() *bridge.Bridge { return c.bridge }

// PanelFor finds the space drawing into target
func (c *Container) PanelFor(target space.Surface) bridge.Panel {
	if p := c.panelFor(target); p != nil {
		return p.space
	}
	// a typed nil would look like a panel to the bridge
	return nil
}

func (c *Container) panelFor(target space.Surface) *panel {
	for _, p := range c.panels {
		if p.space.Hosts(target) {
			return p
		}
	}
	return nil
}

func (c *Container) panelForLayer(l space.Layer) *panel {
	for _, p := range c.panels {
		if p.space.Layer() == l {
			return p
		}
	}
	return nil
}

// wants reports whether conf should get a space on o
func (c *Container) wants(conf *config.PanelConfig, o *host.Output) bool {
	switch conf.Output.Kind {
	case config.OutputActive:
		// the first output seen stands in for the active one
		return !slices.ContainsFunc(c.panels, func(p *panel) bool { return p.conf == conf })
	default:
		return conf.Output.Matches(o.Name)
	}
}

// addPanel spawns the applets of conf for o and creates their space
func (c *Container) addPanel(conf *config.PanelConfig, o *host.Output) error {
	sup := supervisor.New(c.loop, supervisor.Options{
		Output: o.Name,
		Lookup: c.opts.Lookup,
		Connected: func(pc *space.PanelClient, id server.ClientID) {
			if p := c.panelForSupervisor(pc); p != nil {
				p.space.ReplaceClient(pc.Name, id)
				return
			}
			pc.Client = id
		},
		Privileged: c.privileged(),
	})
	clients, err := sup.SpawnApplets(conf, c.server)
	if err != nil {
		return fmt.Errorf("spawning applets of %s: %w", conf.Name, err)
	}
	sp, err := space.New(conf, space.Output{
		Name:  o.Name,
		Size:  o.LogicalSize(),
		Scale: float64(o.Scale),
	}, c.host, c.clock, clients)
	if err != nil {
		go sup.TerminateAll()
		return err
	}
	c.panels = append(c.panels, &panel{conf: conf, output: o, space: sp, sup: sup})
	return nil
}

func (c *Container) panelForSupervisor(pc *space.PanelClient) *panel {
	for _, p := range c.panels {
		for _, other := range p.space.Clients() {
			if other == pc {
				return p
			}
		}
	}
	return nil
}

func (c *Container) privileged() func(appID, instanceID string) (*os.File, func(), error) {
	if !c.host.Features().SecurityContext {
		return nil
	}
	return c.host.PrivilegedSocket
}

// removePanel tears a space down: surfaces first, the applets last
func (c *Container) removePanel(p *panel, reason string) {
	if !slices.Contains(c.panels, p) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"panel":  p.conf.Name,
		"output": p.output.Name,
		"reason": reason,
	}).Infoln("Removing panel space")
	c.panels = sliceutils.Filter(c.panels, func(o *panel) bool { return o != p })
	if p.timer != nil {
		p.timer.Stop()
	}
	p.space.Destroy()
	// reaping waits for the processes, not for the loop
	go p.sup.TerminateAll()
}

// run executes what a space asked for
func (c *Container) run(p *panel, cmds []space.Command) {
	for _, cmd := range cmds {
		switch cmd := cmd.(type) {
		case space.ScheduleFrame:
			c.schedule(p, cmd.After)
		case space.Destroy:
			c.removePanel(p, cmd.Reason)
			return
		}
	}
}

func (c *Container) schedule(p *panel, after time.Duration) {
	if p.timer != nil {
		return
	}
	p.timer = c.loop.After(after, func() {
		// the idle hook runs the frame
		p.timer = nil
	})
}

// frames gives every space its frame once the queue is drained
func (c *Container) frames() {
	if c.closed {
		return
	}
	now := c.clock.Now()
	for _, p := range append([]*panel(nil), c.panels...) {
		c.run(p, p.space.Frame(now))
	}
}

// cleanup forgets connections the server no longer knows
func (c *Container) cleanup() {
	for _, p := range c.panels {
		for _, pc := range p.space.Clients() {
			if pc.Client != 0 && c.server.Client(pc.Client) == nil {
				logrus.WithFields(logrus.Fields{
					"panel":  p.conf.Name,
					"applet": pc.Name,
					"client": pc.Client,
				}).Debugln("Dropping dead applet connection")
				p.space.ClientGone(pc.Client)
				pc.Client = 0
			}
		}
	}
}

// RestartApplet restarts an applet in every space it runs in
func (c *Container) RestartApplet(name string) error {
	found := false
	for _, p := range c.panels {
		if p.space.ClientByName(name) == nil {
			continue
		}
		found = true
		if err := p.sup.Restart(name); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("no applet %s", name)
	}
	return nil
}

// Close destroys every space and stops their applets. The loop must not be
// running anymore
func (c *Container) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.stopCleanup != nil {
		c.stopCleanup()
	}
	for _, p := range c.panels {
		p.space.Destroy()
	}
	for _, p := range c.panels {
		p.sup.TerminateAll()
	}
	c.panels = nil
	if c.server != nil {
		c.server.Close()
	}
}

// PanelStatus describes one space for the debug console and the status socket
type PanelStatus struct {
	Name       string              `yaml:"name" cbor:"name"`
	Output     string              `yaml:"output" cbor:"output"`
	State      string              `yaml:"state" cbor:"state"`
	Size       [2]int              `yaml:"size" cbor:"size"`
	Actual     [2]int              `yaml:"actual" cbor:"actual"`
	Visibility string              `yaml:"visibility" cbor:"visibility"`
	Windows    []string            `yaml:"windows" cbor:"windows"`
	Overflow   []string            `yaml:"overflow,omitempty" cbor:"overflow,omitempty"`
	Applets    []supervisor.Status `yaml:"applets" cbor:"applets"`
}

func pair(p geom.Point[int]) [2]int { return [2]int{p.X, p.Y} }

// Status snapshots every space. Call it on the loop
func (c *Container) Status() []PanelStatus {
	out := make([]PanelStatus, 0, len(c.panels))
	for _, p := range c.panels {
		res := p.space.Result()
		var overflow []string
		for _, band := range []layout.Band{layout.BandLeft, layout.BandCenter, layout.BandRight} {
			for _, slot := range res.Overflow[band] {
				overflow = append(overflow, slot.ID)
			}
		}
		out = append(out, PanelStatus{
			Name:       p.conf.Name,
			Output:     p.output.Name,
			State:      p.space.State().String(),
			Size:       pair(p.space.Dimensions()),
			Actual:     pair(p.space.Actual()),
			Visibility: p.space.Visibility().String(),
			Windows:    p.space.Windows(),
			Overflow:   overflow,
			Applets:    p.sup.Statuses(),
		})
	}
	return out
}

// Outputs lists the host outputs the container knows, in the order they appeared
func (c *Container) Outputs() []server.OutputInfo {
	out := make([]server.OutputInfo, len(c.outputs))
	for i, o := range c.outputs {
		out[i] = o.host.Info()
	}
	return out
}
