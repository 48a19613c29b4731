package main

import (
	"fmt"

	"github.com/mstarongithub/way2panel/common/ipc"
	"github.com/mstarongithub/way2panel/container"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/sirupsen/logrus"
)

// onLoop runs f on the loop and waits for it. It reports false when the
// loop stopped before f ran
func onLoop(l *loop.Loop, f func()) bool {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		f()
	})
	select {
	case <-done:
		return true
	case <-l.Done():
		return false
	}
}

func ipcOutputs(infos []server.OutputInfo, target string) []ipc.Output {
	var out []ipc.Output
	for _, info := range infos {
		if target != "" && info.Name != target {
			continue
		}
		out = append(out, ipc.Output{
			Name:        info.Name,
			Description: info.Description,
			Width:       info.Size.X,
			Height:      info.Size.Y,
			RefreshRate: info.Refresh,
			Scale:       info.Scale,
		})
	}
	return out
}

// startIPC serves the status socket. A panel without one still runs
func startIPC(l *loop.Loop, c *container.Container) *ipc.Server {
	srv, err := ipc.Listen(ipc.Path(), func(req ipc.Request) ipc.Response {
		var resp ipc.Response
		stopped := ipc.Response{Error: "panel is stopping"}
		switch req.Kind {
		case ipc.RequestStatus:
			if !onLoop(l, func() { resp.Panels = c.Status() }) {
				return stopped
			}
		case ipc.RequestOutputs:
			if !onLoop(l, func() { resp.Outputs = ipcOutputs(c.Outputs(), req.TargetOutput) }) {
				return stopped
			}
			if req.TargetOutput != "" && len(resp.Outputs) == 0 {
				resp.Error = fmt.Sprintf("output %s not found", req.TargetOutput)
			}
		case ipc.RequestRestart:
			var err error
			if !onLoop(l, func() { err = c.RestartApplet(req.Applet) }) {
				return stopped
			}
			if err != nil {
				resp.Error = err.Error()
			}
		default:
			resp.Error = fmt.Sprintf("%s: %s", ipc.ErrUnknownRequest, req.Kind)
		}
		return resp
	})
	if err != nil {
		logrus.WithError(err).Warnln("No status socket")
		return nil
	}
	logrus.WithField("path", srv.Path()).Debugln("Serving status socket")
	go func() {
		if err := srv.Serve(); err != nil {
			logrus.WithError(err).Warnln("Status socket failed")
		}
	}()
	l.Every(statusInterval, func() {
		if srv.Watching() {
			srv.Publish(ipc.Response{Panels: c.Status()})
		}
	})
	return srv
}
