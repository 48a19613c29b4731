// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package loop is the single owner of all panel state.
// Every other goroutine (wayland readers, timers, process waiters) only posts
// closures into it. The closures run one after another on the goroutine that
// called Run, so nothing they touch needs locking
package loop

import (
	"errors"
	"sync"
	"time"

	"github.com/mstarongithub/way2panel/clock"
	"github.com/sirupsen/logrus"
)

var ErrStopped = errors.New("loop stopped")

type Loop struct {
	clock clock.Clock

	mu      sync.Mutex
	queue   []func()
	stopped bool
	err     error
	wake    chan struct{}
	done    chan struct{}

	idle []func()
}

func New(c clock.Clock) *Loop {
	if c == nil {
		c = clock.Real()
	}
	return &Loop{
		clock: c,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (l *Loop) Clock() clock.Clock { return l.clock }

// Post queues f to run on the loop goroutine. Safe from any goroutine,
// never blocks. Posting after Stop silently drops f
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After runs f on the loop after d. Stopping the returned timer cancels it
// unless the callback is already queued
func (l *Loop) After(d time.Duration, f func()) *clock.Timer {
	return l.clock.AfterFunc(d, func() { l.Post(f) })
}

// Every runs f on the loop every d until the returned func is called
func (l *Loop) Every(d time.Duration, f func()) (stop func()) {
	var (
		mu      sync.Mutex
		timer   *clock.Timer
		stopped bool
	)
	var arm func()
	arm = func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		timer = l.After(d, func() {
			f()
			arm()
		})
	}
	arm()
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}

// Done is closed once the loop is stopped. Tasks posted from then on never run
func (l *Loop) Done() <-chan struct{} { return l.done }

// OnIdle registers f to run every time the queue has been drained.
// Rendering and connection flushes hang off this
func (l *Loop) OnIdle(f func()) {
	l.idle = append(l.idle, f)
}

// Stop makes Run return nil after the current task
func (l *Loop) Stop() {
	l.Fail(nil)
}

// Fail makes Run return err after the current task
func (l *Loop) Fail(err error) {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		l.err = err
		close(l.done)
	}
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes posted tasks until Stop or Fail. It must be called from
// exactly one goroutine
func (l *Loop) Run() error {
	for {
		<-l.wake
		for {
			tasks, stopped, err := l.take()
			if stopped {
				return err
			}
			if len(tasks) == 0 {
				break
			}
			for _, task := range tasks {
				l.run(task)
			}
		}
		for _, f := range l.idle {
			l.run(f)
		}
	}
}

// RunPending executes what is queued right now plus the idle hooks once.
// Tests use it instead of Run
func (l *Loop) RunPending() {
	for {
		tasks, stopped, _ := l.take()
		if stopped || len(tasks) == 0 {
			break
		}
		for _, task := range tasks {
			l.run(task)
		}
	}
	for _, f := range l.idle {
		l.run(f)
	}
}

func (l *Loop) take() ([]func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil, true, l.err
	}
	tasks := l.queue
	l.queue = nil
	return tasks, false, nil
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Errorln("Loop task panicked")
			panic(r)
		}
	}()
	task()
}
