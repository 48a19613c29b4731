// Package wrappers gives the debug console closable views of stdin and
// stdout. Closing a wrapper only cuts it off, the wrapped stream stays open
package wrappers

import (
	"errors"
	"io"
	"sync/atomic"
)

var ErrClosed = errors.New("closed")

type ReaderWrapper struct {
	closed  atomic.Bool
	wrapped io.Reader
}

func NewReaderWrapper(wraps io.Reader) *ReaderWrapper {
	return &ReaderWrapper{wrapped: wraps}
}

func (r *ReaderWrapper) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	return r.wrapped.Read(p)
}

func (r *ReaderWrapper) Close() error {
	r.closed.Store(true)
	return nil
}

type WriterWrapper struct {
	closed  atomic.Bool
	wrapped io.Writer
}

func NewWriterWrapper(wraps io.Writer) *WriterWrapper {
	return &WriterWrapper{wrapped: wraps}
}

func (w *WriterWrapper) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	return w.wrapped.Write(p)
}

func (w *WriterWrapper) Close() error {
	w.closed.Store(true)
	return nil
}
