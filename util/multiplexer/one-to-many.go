// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package multiplexer

import (
	"errors"
	"sync"
)

var (
	ErrClosed         = errors.New("multiplexer has been closed")
	ErrReceiverExists = errors.New("receiver with that name already exists")
)

// OneToMany hands every message sent into it to all named receivers.
// A receiver that is not keeping up misses messages instead of blocking the sender
type OneToMany[T any] struct {
	lock     sync.Mutex
	outbound map[string]chan T
	buffer   int
	closed   bool
}

// NewOneToMany creates a multiplexer whose receivers buffer up to buffer messages
func NewOneToMany[T any](buffer int) *OneToMany[T] {
	return &OneToMany[T]{
		outbound: map[string]chan T{},
		buffer:   buffer,
	}
}

// MakeReceiver creates a new receiver for the multiplexer to send messages to.
// Please do not close it manually, use CloseReceiver instead
func (o *OneToMany[T]) MakeReceiver(name string) (<-chan T, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if _, ok := o.outbound[name]; ok {
		return nil, ErrReceiverExists
	}
	rec := make(chan T, o.buffer)
	o.outbound[name] = rec
	return rec, nil
}

// CloseReceiver closes the receiver with the given name and removes it
func (o *OneToMany[T]) CloseReceiver(name string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if rec, ok := o.outbound[name]; ok {
		close(rec)
		delete(o.outbound, name)
	}
}

// Send distributes msg and reports how many receivers got it
func (o *OneToMany[T]) Send(msg T) (int, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.closed {
		return 0, ErrClosed
	}
	sent := 0
	for _, rec := range o.outbound {
		select {
		case rec <- msg:
			sent++
		default:
		}
	}
	return sent, nil
}

// Receivers is the number of open receivers
func (o *OneToMany[T]) Receivers() int {
	o.lock.Lock()
	defer o.lock.Unlock()
	return len(o.outbound)
}

// Close closes every receiver and marks the multiplexer as closed
func (o *OneToMany[T]) Close() {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for name, rec := range o.outbound {
		close(rec)
		delete(o.outbound, name)
	}
}
