package host

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// SandboxEngine is how the panel names itself to the host security context
const SandboxEngine = "com.system76.CosmicPanel"

// ErrNoSecurityContext means the host does not offer wp_security_context_v1
var ErrNoSecurityContext = errors.New("host has no security context manager")

// PrivilegedSocket makes a host connection an applet can use directly.
// The host sees it tagged with appID and instanceID. The returned file is
// the connected end, meant to be inherited by the applet. The host keeps
// listening until release is called
func (h *Host) PrivilegedSocket(appID, instanceID string) (conn *os.File, release func(), err error) {
	if h.security == nil {
		return nil, nil, ErrNoSecurityContext
	}

	var nonce [25]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nil, fmt.Errorf("socket name: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: "@way2panel-" + hex.EncodeToString(nonce[:])}

	listener, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("listener socket: %w", err)
	}
	defer unix.Close(listener)
	if err := unix.Bind(listener, addr); err != nil {
		return nil, nil, fmt.Errorf("bind listener: %w", err)
	}
	if err := unix.Listen(listener, 1); err != nil {
		return nil, nil, fmt.Errorf("listen: %w", err)
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("close pipe: %w", err)
	}
	closeRead, closeWrite := pipe[0], pipe[1]
	defer unix.Close(closeRead)
	// closing the write end makes the host stop listening
	release = func() { unix.Close(closeWrite) }
	defer func() {
		if err != nil {
			release()
		}
	}()

	sc, err := h.security.CreateListener(listener, closeRead)
	if err != nil {
		return nil, nil, fmt.Errorf("create security context: %w", err)
	}
	for _, err := range []error{
		sc.SetSandboxEngine(SandboxEngine),
		sc.SetAppID(appID),
		sc.SetInstanceID(instanceID),
		sc.Commit(),
	} {
		if err != nil {
			sc.Destroy()
			return nil, nil, fmt.Errorf("set up security context: %w", err)
		}
	}
	sc.Destroy()

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("client socket: %w", err)
	}
	if err = unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, nil, fmt.Errorf("connect to security context: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"app":      appID,
		"instance": instanceID,
	}).Debugln("Created privileged host socket")
	return os.NewFile(uintptr(fd), "privileged-wayland-socket"), release, nil
}
