package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mstarongithub/way2panel/util/multiplexer"
	"github.com/sirupsen/logrus"
)

// RequestTimeout is how long a new connection may take to send its request
const RequestTimeout = 5 * time.Second

// Handler answers one request. It is called from connection goroutines
type Handler func(Request) Response

type Server struct {
	listener net.Listener
	path     string
	handler  Handler
	watchers *multiplexer.OneToMany[Response]

	conns  sync.WaitGroup
	nextID atomic.Uint64
}

// Listen creates the socket at path. A stale socket file is replaced
func Listen(path string, handler Handler) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return &Server{
		listener: ln,
		path:     path,
		handler:  handler,
		watchers: multiplexer.NewOneToMany[Response](4),
	}, nil
}

func (s *Server) Path() string { return s.path }

// Serve accepts connections until Close
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting ipc connection: %w", err)
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	log := logrus.WithField("ipc-conn", s.nextID.Add(1))
	var req Request
	conn.SetReadDeadline(time.Now().Add(RequestTimeout))
	if err := decMode.NewDecoder(conn).Decode(&req); err != nil {
		log.WithError(err).Debugln("Dropping ipc connection without a request")
		return
	}
	conn.SetReadDeadline(time.Time{})
	log = log.WithField("request", req.Kind)
	log.Debugln("Handling ipc request")
	enc := encMode.NewEncoder(conn)

	if req.Kind != RequestWatch {
		if err := enc.Encode(s.handler(req)); err != nil {
			log.WithError(err).Debugln("Failed to send ipc response")
		}
		return
	}

	name := strconv.FormatUint(s.nextID.Add(1), 10)
	updates, err := s.watchers.MakeReceiver(name)
	if err != nil {
		enc.Encode(Response{Error: err.Error()})
		return
	}
	defer s.watchers.CloseReceiver(name)
	if err := enc.Encode(s.handler(Request{Kind: RequestStatus})); err != nil {
		return
	}
	// the watcher says nothing more, a read returning means it hung up
	gone := make(chan struct{})
	go func() {
		conn.Read(make([]byte, 1))
		close(gone)
	}()
	for {
		select {
		case resp, ok := <-updates:
			if !ok {
				return
			}
			if err := enc.Encode(resp); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// Publish sends resp to every watcher
func (s *Server) Publish(resp Response) {
	s.watchers.Send(resp)
}

// Watching reports whether any client waits for updates
func (s *Server) Watching() bool {
	return s.watchers.Receivers() > 0
}

// Close stops accepting, ends all watchers and removes the socket file
func (s *Server) Close() error {
	err := s.listener.Close()
	s.watchers.Close()
	s.conns.Wait()
	os.Remove(s.path)
	return err
}
