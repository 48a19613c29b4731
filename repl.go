package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mstarongithub/way2panel/container"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/repl"
	"github.com/mstarongithub/way2panel/util"
	"github.com/mstarongithub/way2panel/util/wrappers"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var errStopped = errors.New("panel is stopping")

func replRunner(l *loop.Loop, c *container.Container) {
	// Give repl some wrappers around stdin and stdout so that it closes those instead of stdin & stdout themselves
	console := repl.NewRepl(wrappers.NewReaderWrapper(os.Stdin), wrappers.NewWriterWrapper(os.Stdout))

	status := func() ([]container.PanelStatus, error) {
		var st []container.PanelStatus
		if !onLoop(l, func() { st = c.Status() }) {
			return nil, errStopped
		}
		return st, nil
	}

	console.Handle("spaces", "spaces: list panel spaces", func(_ []string, _ *repl.Repl) (string, error) {
		st, err := status()
		if err != nil {
			return "", err
		}
		lines := make([]string, 0, len(st))
		for _, p := range st {
			lines = append(lines, fmt.Sprintf("%s on %s: %s %dx%d, %s, %d windows",
				p.Name, p.Output, p.State, p.Size[0], p.Size[1], p.Visibility, len(p.Windows)))
		}
		if len(lines) == 0 {
			return "No panel spaces", nil
		}
		return strings.Join(lines, "\n"), nil
	})
	console.Handle("applets", "applets [panel]: list applet processes", func(args []string, _ *repl.Repl) (string, error) {
		var panel string
		util.Unpack(args, &panel)
		st, err := status()
		if err != nil {
			return "", err
		}
		var lines []string
		for _, p := range st {
			if panel != "" && p.Name != panel {
				continue
			}
			for _, a := range p.Applets {
				lines = append(lines, fmt.Sprintf("%s/%s on %s: %s, pid %d, %d runs, client %d",
					a.Panel, a.Name, a.Output, a.State, a.Pid, a.Runs, a.ClientID))
			}
		}
		if len(lines) == 0 {
			return "No applets", nil
		}
		return strings.Join(lines, "\n"), nil
	})
	console.Handle("dump", "dump: print the state of every space as yaml", func(_ []string, _ *repl.Repl) (string, error) {
		st, err := status()
		if err != nil {
			return "", err
		}
		out, err := yaml.Marshal(st)
		if err != nil {
			return "", fmt.Errorf("encoding status: %w", err)
		}
		return strings.TrimRight(string(out), "\n"), nil
	})
	console.Handle("restart", "restart <applet>: restart an applet in every space", func(args []string, _ *repl.Repl) (string, error) {
		var name string
		util.Unpack(args, &name)
		if name == "" {
			return "Usage: restart <applet>", nil
		}
		var err error
		if !onLoop(l, func() { err = c.RestartApplet(name) }) {
			return "", errStopped
		}
		if err != nil {
			return err.Error(), nil
		}
		return "Restarting " + name, nil
	})
	console.Handle("quit", "quit: stop the panel", func(_ []string, _ *repl.Repl) (string, error) {
		l.Stop()
		return "Quitting", repl.ErrQuit
	})

	logrus.Debugln("Starting repl")
	if err := console.Run(); err != nil {
		logrus.WithError(err).Warnln("Debug console stopped")
	}
}
