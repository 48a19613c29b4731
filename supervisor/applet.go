package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mstarongithub/way2panel/desktop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
	"github.com/mstarongithub/way2panel/wire"
	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
	"golang.org/x/sys/unix"
)

// applet is the process record of one plugin and its suture service
type applet struct {
	sup   *Supervisor
	entry *desktop.Entry
	token suture.ServiceToken

	// loop only
	client *space.PanelClient
	conn   *server.Client

	// under sup.mu
	proc       *os.Process
	pid        int
	runs       int
	state      State
	terminated bool
	clientID   server.ClientID
	crashes    crashes
}

func (a *applet) String() string { return "applet-" + a.entry.Name }

func (a *applet) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"panel":  a.sup.conf.Name,
		"applet": a.entry.Name,
	})
}

func (a *applet) setState(st State) {
	a.sup.mu.Lock()
	a.state = st
	a.sup.mu.Unlock()
}

// Serve is one process run
func (a *applet) Serve(ctx context.Context) error {
	a.setState(StateStarting)
	conn, peer, err := wire.Pair(a.entry.Name)
	if err != nil {
		a.log().WithError(err).Errorln("Failed to create applet socket pair")
		return err
	}
	defer peer.Close()

	// the server end is registered before the process can write to the other
	client, err := a.register(ctx, conn)
	if err != nil {
		return err
	}

	cmd, closeFiles, release := a.command(peer)
	defer closeFiles()
	defer release()
	out := a.log().WriterLevel(logrus.InfoLevel)
	defer out.Close()
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		a.log().WithError(err).Errorln("Failed to start applet")
		a.disconnect(client, true)
		a.setState(StateStopped)
		return suture.ErrDoNotRestart
	}
	// only the child keeps its ends
	peer.Close()
	closeFiles()

	a.sup.mu.Lock()
	a.proc = cmd.Process
	a.pid = cmd.Process.Pid
	a.runs++
	a.state = StateRunning
	a.sup.mu.Unlock()
	a.log().WithField("pid", cmd.Process.Pid).Debugln("Applet started")

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err = <-exited:
	case <-ctx.Done():
		cmd.Process.Signal(unix.SIGTERM)
		select {
		case err = <-exited:
		case <-time.After(TerminateGrace):
			cmd.Process.Kill()
			err = <-exited
		}
	}
	a.sup.mu.Lock()
	a.proc = nil
	a.pid = -1
	stopping := a.sup.stopping || a.terminated || ctx.Err() != nil
	a.sup.mu.Unlock()

	code := cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		a.log().WithError(err).Warnln("Waiting for applet failed")
	}

	if stopping || code == 0 {
		a.disconnect(client, true)
		a.setState(StateStopped)
		a.log().WithField("exit-code", code).Debugln("Applet stopped")
		return suture.ErrDoNotRestart
	}

	a.disconnect(client, false)
	a.sup.mu.Lock()
	blacklisted := a.crashes.add(time.Now())
	a.sup.mu.Unlock()
	if blacklisted {
		a.setState(StateBlacklisted)
		a.log().WithField("exit-code", code).Errorf("Applet crashed %d times within %s, not restarting it\n", MaxCrashes, CrashWindow)
		return suture.ErrDoNotRestart
	}
	a.log().WithField("exit-code", code).Warnln("Applet crashed, restarting")
	return fmt.Errorf("applet %s exited with code %d", a.entry.Name, code)
}

// register hands the server end to the inner server on the loop and waits for it
func (a *applet) register(ctx context.Context, conn *wire.Conn) (*server.Client, error) {
	done := make(chan *server.Client, 1)
	a.sup.loop.Post(func() {
		if ctx.Err() != nil {
			conn.Close()
			done <- nil
			return
		}
		old := a.conn
		c := a.sup.srv.AddClient(conn)
		a.conn = c
		if old != nil && old.Alive() {
			old.Close()
		}
		a.sup.mu.Lock()
		a.clientID = c.ID()
		a.sup.mu.Unlock()
		if a.sup.opts.Connected != nil {
			a.sup.opts.Connected(a.client, c.ID())
		} else {
			a.client.Client = c.ID()
		}
		done <- c
	})
	select {
	case c := <-done:
		if c == nil {
			return nil, ctx.Err()
		}
		return c, nil
	case <-ctx.Done():
		// the posted task sees the cancelled context and closes conn itself
		return nil, ctx.Err()
	}
}

// disconnect kills the inner connection of a finished run. A dropped record
// also forgets its client id
func (a *applet) disconnect(c *server.Client, drop bool) {
	a.sup.loop.Post(func() {
		if c.Alive() {
			c.Close()
		}
		if drop && a.client.Client == c.ID() {
			a.client.Client = 0
		}
	})
}

// command builds the process for one run. closeFiles releases the parent's
// copies of the extra fds and may be called more than once, release ends
// what the run holds on the host
func (a *applet) command(peer *os.File) (cmd *exec.Cmd, closeFiles func(), release func()) {
	files := []*os.File{peer}
	vars := a.sup.panelEnv(a)
	release = func() {}

	if a.entry.HostWaylandDisplay && a.sup.opts.Privileged != nil {
		f, done, err := a.sup.opts.Privileged(a.entry.Name, a.sup.conf.Name)
		if err != nil {
			a.log().WithError(err).Warnln("No privileged host socket for applet")
		} else {
			vars = append(vars, envVar(EnvPrivilegedSocket, fdNumber(len(files))))
			files = append(files, f)
			release = done
		}
	}
	if a.entry.NotificationsApplet {
		f, err := a.sup.opts.Notifications()
		if err != nil {
			a.log().WithError(err).Warnln("No notifications fd for applet")
		} else {
			vars = append(vars, envVar(EnvNotifications, fdNumber(len(files))))
			files = append(files, f)
		}
	}

	args := a.entry.Exec
	if filepath.Base(args[0]) == "flatpak" {
		args = flatpakArgs(args, vars)
	}
	cmd = exec.Command(args[0], args[1:]...)
	cmd.Env = append(inheritedEnv(os.Environ()), vars...)
	cmd.ExtraFiles = files
	// stray children holding stdout must not keep the run alive
	cmd.WaitDelay = TerminateGrace

	closed := false
	closeFiles = func() {
		if closed {
			return
		}
		closed = true
		// the socket pair end is closed by Serve
		for _, f := range files[1:] {
			f.Close()
		}
	}
	return cmd, closeFiles, release
}
