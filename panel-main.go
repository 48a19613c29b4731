package main

import (
	"os"
	"os/signal"
	"time"

	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/container"
	"github.com/mstarongithub/way2panel/host"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// How often watchers of the status socket get a fresh snapshot
const statusInterval = time.Second

func panelMain(conf *config.Config) {
	l := loop.New(nil)
	c := container.New(l, conf, container.Options{})
	h, err := host.Connect(l, c)
	if err != nil {
		fatal("connecting to host compositor", err)
	}
	c.Start(h)

	ipcServer := startIPC(l, c)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGINT, unix.SIGTERM)
	go func() {
		sig := <-signals
		logrus.WithField("signal", sig).Infoln("Stopping panel")
		l.Stop()
	}()

	if conf.StartType == config.START_REPL {
		go replRunner(l, c)
	}

	h.Start()
	logrus.Infoln("Panel running")
	runErr := l.Run()

	signal.Stop(signals)
	if ipcServer != nil {
		ipcServer.Close()
	}
	c.Close()
	h.Close()
	if runErr != nil {
		fatal("running panel", runErr)
	}
	logrus.Infoln("Panel stopped")
}
