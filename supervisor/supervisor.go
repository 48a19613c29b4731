// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package supervisor runs the applet processes of one panel space.
// Every applet is a suture service. One run of the service is one process
// with a fresh socket pair; a crash makes suture start the next run
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/desktop"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/mstarongithub/way2panel/wire"
	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
	"golang.org/x/sys/unix"
)

var ErrAlreadySpawned = errors.New("applets already spawned")

const (
	// An applet exiting MaxCrashes times within CrashWindow is not started again
	MaxCrashes  = 5
	CrashWindow = 5 * time.Second

	// How long a terminated applet gets before it is killed
	TerminateGrace = 2 * time.Second
)

// Registrar takes the server end of an applet's socket pair.
// *server.Server is one. Called on the loop only
type Registrar interface {
	AddClient(conn *wire.Conn) *server.Client
}

type Options struct {
	// Output is the host output name handed to applets
	Output string
	// Lookup resolves a plugin name to its desktop entry. Defaults to desktop.Load
	Lookup func(name string) (*desktop.Entry, error)
	// Privileged makes a host socket for X-HostWaylandDisplay applets, release
	// runs when the process is gone. nil means the host has no security context
	Privileged func(appID, instanceID string) (conn *os.File, release func(), err error)
	// Notifications fetches the fd of the notification daemon. Defaults to NotificationsFD
	Notifications func() (*os.File, error)
	// Connected runs on the loop whenever an applet got a new inner connection.
	// Without it the PanelClient record is updated directly
	Connected func(pc *space.PanelClient, id server.ClientID)
}

// State of an applet process record
type State int

const (
	StateStarting = State(iota)
	StateRunning
	// Exited cleanly or terminated, not restarted
	StateStopped
	// Crashed too often
	StateBlacklisted
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateBlacklisted:
		return "blacklisted"
	}
	return "unknown"
}

// Status is a snapshot of one applet process
type Status struct {
	Name     string `yaml:"name" cbor:"name"`
	Panel    string `yaml:"panel" cbor:"panel"`
	Output   string `yaml:"output" cbor:"output"`
	Pid      int    `yaml:"pid" cbor:"pid"`
	Runs     int    `yaml:"runs" cbor:"runs"`
	State    string `yaml:"state" cbor:"state"`
	ClientID uint64 `yaml:"client" cbor:"client"`
}

type Supervisor struct {
	loop *loop.Loop
	opts Options

	conf *config.PanelConfig
	srv  Registrar
	tree *suture.Supervisor

	cancel context.CancelFunc
	done   <-chan error

	// guards everything below, services read it from their own goroutines
	mu       sync.Mutex
	spawned  bool
	stopping bool
	applets  []*applet
}

func New(l *loop.Loop, opts Options) *Supervisor {
	if opts.Lookup == nil {
		opts.Lookup = desktop.Load
	}
	if opts.Notifications == nil {
		opts.Notifications = NotificationsFD
	}
	return &Supervisor{loop: l, opts: opts}
}

// SpawnApplets starts one process per plugin of conf, left then center then
// right. Applets without a usable desktop entry are logged and skipped.
// It returns the records of the started applets in band order.
// Must be called on the loop
func (s *Supervisor) SpawnApplets(conf *config.PanelConfig, srv Registrar) ([]*space.PanelClient, error) {
	s.mu.Lock()
	if s.spawned {
		s.mu.Unlock()
		return nil, ErrAlreadySpawned
	}
	s.spawned = true
	s.mu.Unlock()

	s.conf = conf
	s.srv = srv

	var applets []*applet
	for _, band := range []struct {
		band  layout.Band
		names []string
	}{
		{layout.BandLeft, conf.PluginsLeft},
		{layout.BandCenter, conf.PluginsCenter},
		{layout.BandRight, conf.PluginsRight},
	} {
		for _, name := range band.names {
			entry, err := s.opts.Lookup(name)
			if err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"panel":  conf.Name,
					"applet": name,
				}).Errorln("Skipping applet without usable desktop entry")
				continue
			}
			applets = append(applets, &applet{
				sup:    s,
				entry:  entry,
				client: entry.Client(band.band),
				pid:    -1,
			})
		}
	}
	markMinimize(applets)

	s.tree = suture.New("panel-"+conf.Name, suture.Spec{
		EventHook: func(e suture.Event) {
			logrus.WithFields(logrus.Fields(e.Map())).Debugln(e.String())
		},
		// the crash blacklist decides about giving up, suture only restarts
		FailureThreshold: 2 * MaxCrashes,
		FailureDecay:     CrashWindow.Seconds(),
		FailureBackoff:   time.Second,
		Timeout:          TerminateGrace + time.Second,
	})
	s.mu.Lock()
	s.applets = applets
	for _, a := range applets {
		a.token = s.tree.Add(a)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = s.tree.ServeBackground(ctx)

	clients := make([]*space.PanelClient, len(applets))
	for i, a := range applets {
		clients[i] = a.client
	}
	logrus.WithFields(logrus.Fields{
		"panel":   conf.Name,
		"output":  s.opts.Output,
		"applets": len(applets),
	}).Infoln("Spawning applets")
	return clients, nil
}

// markMinimize picks the applet windows minimize into: the one with the
// highest X-MinimizeApplet priority, earlier applets win ties
func markMinimize(applets []*applet) {
	var best *applet
	for _, a := range applets {
		if !a.entry.HasMinimize {
			continue
		}
		if best == nil || a.entry.MinimizePriority > best.entry.MinimizePriority {
			best = a
		}
	}
	if best != nil {
		best.client.Minimize = true
	}
}

func (s *Supervisor) find(name string) *applet {
	for _, a := range s.applets {
		if a.entry.Name == name {
			return a
		}
	}
	return nil
}

// Terminate stops one applet for good. Its connection is closed once the
// process is gone
func (s *Supervisor) Terminate(name string) error {
	s.mu.Lock()
	a := s.find(name)
	if a == nil {
		s.mu.Unlock()
		return fmt.Errorf("no applet %s", name)
	}
	a.terminated = true
	token := a.token
	s.mu.Unlock()
	if err := s.tree.Remove(token); err != nil {
		return fmt.Errorf("removing applet %s: %w", name, err)
	}
	return nil
}

// Restart ends the current process of an applet, it comes back like after a crash
func (s *Supervisor) Restart(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.find(name)
	if a == nil {
		return fmt.Errorf("no applet %s", name)
	}
	if a.proc == nil {
		return fmt.Errorf("applet %s is not running", name)
	}
	return a.proc.Signal(unix.SIGTERM)
}

// TerminateAll stops every applet and waits until the processes are reaped.
// It does not need the loop, the inner connections die with the processes
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	if s.stopping || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	s.cancel()
	select {
	case err := <-s.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).WithField("panel", s.conf.Name).Warnln("Applet supervisor ended with error")
		}
	case <-time.After(2 * TerminateGrace):
		logrus.WithField("panel", s.conf.Name).Warnln("Gave up waiting for applets to exit")
	}
}

// Statuses lists every applet record
func (s *Supervisor) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.applets))
	for _, a := range s.applets {
		out = append(out, Status{
			Name:     a.entry.Name,
			Panel:    s.conf.Name,
			Output:   s.opts.Output,
			Pid:      a.pid,
			Runs:     a.runs,
			State:    a.state.String(),
			ClientID: uint64(a.clientID),
		})
	}
	return out
}
