package wire

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Most fds libwayland puts into a single sendmsg
const maxFDsPerMsg = 28

var ErrMessageTooLarge = errors.New("message exceeds maximum wayland message size")

// Conn is one end of a Wayland socket.
// Reading is for a single goroutine; writes are buffered and may come from any goroutine
type Conn struct {
	c *net.UnixConn

	in   []byte
	rbuf []byte
	oob  []byte

	fdmu  sync.Mutex
	inFDs []int

	wmu      sync.Mutex
	out      []byte
	outFDs   []int
	closeFDs []int
}

func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		c:    c,
		rbuf: make([]byte, MaxMessageSize),
		oob:  make([]byte, unix.CmsgSpace(maxFDsPerMsg*4)),
	}
}

// FromFD wraps an already connected socket. fd is owned by the Conn afterwards
func FromFD(fd int, name string) (*Conn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	return FromFile(f)
}

// FromFile wraps a duplicate of f; the caller still closes f
func FromFile(f *os.File) (*Conn, error) {
	fc, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("wrapping socket %s: %w", f.Name(), err)
	}
	uc, ok := fc.(*net.UnixConn)
	if !ok {
		fc.Close()
		return nil, fmt.Errorf("%s is not a unix socket", f.Name())
	}
	return NewConn(uc), nil
}

// Pair creates a connected socket pair. The second end is returned as an
// *os.File for handing to a child process
func Pair(name string) (*Conn, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	conn, err := FromFD(fds[0], name)
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	return conn, os.NewFile(uintptr(fds[1]), name+"-peer"), nil
}

// ReadMessage blocks until one full message is available.
// Fds that arrived with it are handed to the decoder in order
func (c *Conn) ReadMessage() (Header, *Decoder, error) {
	for {
		if len(c.in) >= HeaderSize {
			h, err := ParseHeader(c.in)
			if err != nil {
				return h, nil, err
			}
			if len(c.in) >= int(h.Size) {
				body := make([]byte, int(h.Size)-HeaderSize)
				copy(body, c.in[HeaderSize:h.Size])
				c.in = c.in[h.Size:]
				return h, NewDecoder(body, c.nextFD), nil
			}
		}
		if err := c.fill(); err != nil {
			return Header{}, nil, err
		}
	}
}

func (c *Conn) fill() error {
	n, oobn, _, _, err := c.c.ReadMsgUnix(c.rbuf, c.oob)
	if oobn > 0 && oobn <= len(c.oob) {
		msgs, perr := unix.ParseSocketControlMessage(c.oob[:oobn])
		if perr == nil {
			for i := range msgs {
				fds, rerr := unix.ParseUnixRights(&msgs[i])
				if rerr == nil {
					c.fdmu.Lock()
					c.inFDs = append(c.inFDs, fds...)
					c.fdmu.Unlock()
				}
			}
		}
	}
	if n > 0 {
		c.in = append(c.in, c.rbuf[:n]...)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return net.ErrClosed
	}
	return nil
}

func (c *Conn) nextFD() (int, bool) {
	c.fdmu.Lock()
	defer c.fdmu.Unlock()
	if len(c.inFDs) == 0 {
		return -1, false
	}
	fd := c.inFDs[0]
	c.inFDs = c.inFDs[1:]
	return fd, true
}

// Send queues a finished message. Nothing hits the socket until Flush
func (c *Conn) Send(b *Builder) error {
	data, fds := b.Finish()
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	c.wmu.Lock()
	c.out = append(c.out, data...)
	c.outFDs = append(c.outFDs, fds...)
	c.closeFDs = append(c.closeFDs, b.owned...)
	c.wmu.Unlock()
	return nil
}

func (c *Conn) Flush() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for len(c.out) > 0 || len(c.outFDs) > 0 {
		fds := c.outFDs
		if len(fds) > maxFDsPerMsg {
			fds = fds[:maxFDsPerMsg]
		}
		var oob []byte
		if len(fds) > 0 {
			oob = unix.UnixRights(fds...)
		}
		n, _, err := c.c.WriteMsgUnix(c.out, oob, nil)
		if err != nil {
			return err
		}
		c.out = c.out[n:]
		c.outFDs = c.outFDs[len(fds):]
	}
	c.out = c.out[:0]
	for _, fd := range c.closeFDs {
		unix.Close(fd)
	}
	c.closeFDs = c.closeFDs[:0]
	return nil
}

// Close shuts the socket and closes any received fds nobody claimed
func (c *Conn) Close() error {
	c.fdmu.Lock()
	for _, fd := range c.inFDs {
		unix.Close(fd)
	}
	c.inFDs = nil
	c.fdmu.Unlock()
	c.wmu.Lock()
	for _, fd := range c.closeFDs {
		unix.Close(fd)
	}
	c.closeFDs = nil
	c.wmu.Unlock()
	return c.c.Close()
}

// Credentials of the peer process
func (c *Conn) PeerCred() (*unix.Ucred, error) {
	raw, err := c.c.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	return cred, credErr
}
