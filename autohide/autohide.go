// Package autohide slides a panel off its edge while nothing on it has focus
package autohide

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	Visible = State(iota)
	Hidden
	TransitionToHidden
	TransitionToVisible
)

func (s State) String() string {
	switch s {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case TransitionToHidden:
		return "transition-to-hidden"
	case TransitionToVisible:
		return "transition-to-visible"
	}
	return "unknown"
}

// FrameInterval is how often a running transition wants to be ticked
const FrameInterval = 16 * time.Millisecond

type Config struct {
	Wait       time.Duration
	Transition time.Duration
	Handle     int
	// OnlyWhenOverlapped keeps the panel visible while no window overlaps it
	OnlyWhenOverlapped bool
}

// Smootherstep is 6t^5 - 15t^4 + 10t^3 with t clamped to [0,1]
func Smootherstep(t float64) float64 {
	t = math.Max(0, math.Min(1, t))
	return t * t * t * (t*(t*6-15) + 10)
}

// Machine is the visibility state of one panel. It never reads a clock,
// callers pass the current time in
type Machine struct {
	name    string
	conf    *Config
	size    int
	state   State
	started time.Time
	// when the last focus went away
	lost       time.Time
	focused    bool
	overlapped bool
	margin     int
}

// New makes a machine for a panel whose cross axis is size pixels.
// A nil config never hides
func New(name string, conf *Config, size int, now time.Time) *Machine {
	return &Machine{name: name, conf: conf, size: size, lost: now}
}

func (m *Machine) Enabled() bool { return m.conf != nil }
func (m *Machine) State() State  { return m.state }

// Margin is the offset to apply on the anchored edge, zero or negative
func (m *Machine) Margin() int { return m.margin }

func (m *Machine) ExclusiveZone() int {
	if m.conf == nil {
		return m.size
	}
	switch m.state {
	case Hidden, TransitionToVisible:
		return m.conf.Handle
	default:
		return m.size
	}
}

// InputExtent is the part of the hidden panel that still takes pointer input.
// It never drops below one pixel, so a zero handle stays reachable
func (m *Machine) InputExtent() int {
	if m.conf == nil || m.state == Visible {
		return m.size
	}
	return max(m.conf.Handle, 1)
}

// SetSize updates the panel thickness. A hidden panel stays fully hidden
func (m *Machine) SetSize(size int, now time.Time) {
	if size == m.size {
		return
	}
	m.size = size
	m.Tick(now)
}

func (m *Machine) wantVisible() bool {
	if m.focused {
		return true
	}
	return m.conf != nil && m.conf.OnlyWhenOverlapped && !m.overlapped
}

// SetFocused records whether any surface of the panel is hovered or focused
func (m *Machine) SetFocused(focused bool, now time.Time) {
	was := m.wantVisible()
	m.focused = focused
	m.update(was, now)
}

// SetOverlapped records whether a toplevel overlaps the panel
func (m *Machine) SetOverlapped(overlapped bool, now time.Time) {
	was := m.wantVisible()
	m.overlapped = overlapped
	m.update(was, now)
}

func (m *Machine) update(was bool, now time.Time) {
	if m.conf == nil {
		return
	}
	want := m.wantVisible()
	if was && !want {
		m.lost = now
	}
	switch {
	case want && (m.state == Hidden || m.state == TransitionToHidden):
		m.reverse(TransitionToVisible, now)
	case !want && m.state == TransitionToVisible:
		m.reverse(TransitionToHidden, now)
	}
	m.Tick(now)
}

// reverse starts a transition, keeping what is left of a running one
func (m *Machine) reverse(to State, now time.Time) {
	progress := time.Duration(0)
	if m.state == TransitionToHidden || m.state == TransitionToVisible {
		progress = m.conf.Transition - min(now.Sub(m.started), m.conf.Transition)
	}
	m.started = now.Add(-progress)
	m.setState(to)
}

func (m *Machine) setState(s State) {
	if s == m.state {
		return
	}
	logrus.WithFields(logrus.Fields{
		"panel": m.name,
		"from":  m.state,
		"to":    s,
	}).Debugln("Autohide state change")
	m.state = s
}

// Tick advances the machine to now and reports whether margin or
// exclusive zone changed
func (m *Machine) Tick(now time.Time) bool {
	if m.conf == nil {
		return false
	}
	margin, zone := m.margin, m.ExclusiveZone()
	target := -m.size + m.conf.Handle

	if m.state == Visible && !m.wantVisible() && now.Sub(m.lost) >= m.conf.Wait {
		m.started = m.lost.Add(m.conf.Wait)
		m.setState(TransitionToHidden)
	}

	switch m.state {
	case Visible:
		m.margin = 0
	case Hidden:
		m.margin = target
	case TransitionToHidden, TransitionToVisible:
		progress := now.Sub(m.started)
		if progress >= m.conf.Transition {
			if m.state == TransitionToHidden {
				m.setState(Hidden)
				m.margin = target
			} else {
				m.setState(Visible)
				m.margin = 0
			}
			break
		}
		t := float64(progress) / float64(m.conf.Transition)
		if m.state == TransitionToVisible {
			t = 1 - t
		}
		m.margin = int(math.Round(Smootherstep(t) * float64(target)))
	}
	return margin != m.margin || zone != m.ExclusiveZone()
}

// NextTick is how long until the machine wants another Tick, false when idle
func (m *Machine) NextTick(now time.Time) (time.Duration, bool) {
	if m.conf == nil {
		return 0, false
	}
	switch m.state {
	case TransitionToHidden, TransitionToVisible:
		left := m.conf.Transition - now.Sub(m.started)
		return max(0, min(FrameInterval, left)), true
	case Visible:
		if m.wantVisible() {
			return 0, false
		}
		return max(0, m.conf.Wait-now.Sub(m.lost)), true
	}
	return 0, false
}
