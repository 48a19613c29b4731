// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mstarongithub/way2panel/config"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	configPath *string = flag.String("config", "", "Path to the config file. Default is way2panel/config.toml in the xdg config dirs")
	toolMode   *bool   = flag.Bool("tool", false, "Start as a tool instead of a panel")
	help       *bool   = flag.BoolP("help", "h", false, "Show this help message")
	withRepl   *bool   = flag.Bool("repl", false, "Serve a debug console on stdin, same as start_type = \"repl\"")
	logLevel   *string = flag.String("log-level", "info", "One of debug, info, warn, error")
)

func main() {
	flag.Parse()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fatal("parsing log level", err)
	}
	logrus.SetLevel(level)

	if *toolMode {
		utilMain()
		return
	}
	if *help {
		helpMessage()
		return
	}

	path, err := config.Path(*configPath)
	if err != nil {
		fatal("finding config", err)
	}
	conf, err := config.Load(path)
	if errors.Is(err, config.ErrNoPanels) {
		logrus.WithField("path", path).Warnln("No usable panel in config, using default panel")
		conf.Panels = []config.PanelConfig{config.DefaultPanel()}
	} else if err != nil {
		fatal("loading config", err)
	}
	if *withRepl {
		conf.StartType = config.START_REPL
	}
	panelMain(conf)
}

func helpMessage() {
	fmt.Println("---- Help message for way2panel ----")
	fmt.Println("\nway2panel draws panels and docks on the outputs of a wayland compositor")
	fmt.Println("and runs their applets as its own wayland clients.")
	fmt.Println("\nFlags:")
	flag.PrintDefaults()
	fmt.Println("\nRun with --tool --help for the tool mode flags")
}

func fatal(msg string, err error) {
	logrus.WithError(err).Errorln("Fatal error " + msg)
	fmt.Fprintf(os.Stderr, "error %s: %s\n", msg, err)
	os.Exit(1)
}
