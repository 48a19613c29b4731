package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mstarongithub/way2panel/common/ipc"
	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/container"
	"github.com/mstarongithub/way2panel/desktop"
	"github.com/mstarongithub/way2panel/host"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
	"gopkg.in/yaml.v3"
)

var (
	utilAction *string = flag.String(
		"action",
		"outputs",
		"The action to perform in tool mode. Can be one of:"+
			"\n\t- outputs: List the outputs of the compositor"+
			"\n\t- applets: List installed applets"+
			"\n\t- status: Show the state of the running panel"+
			"\n\t- watch: Follow the state of the running panel"+
			"\n\t- restart: Restart an applet of the running panel",
	)
	outputSelection *string = flag.String(
		"output",
		"",
		"Output to perform the action on. Limits outputs to the named one, names the applet for restart",
	)
)

func utilMain() {
	if *help {
		utilHelpMessage()
		return
	}

	switch *utilAction {
	case "outputs":
		utilListOutputs(*outputSelection)
	case "applets":
		utilListApplets()
	case "status":
		resp, err := ipc.Send(ipc.Path(), ipc.Request{Kind: ipc.RequestStatus})
		if err != nil {
			fatal("querying panel", err)
		}
		printYAML(resp.Panels)
	case "watch":
		err := ipc.Watch(ipc.Path(), func(resp *ipc.Response) bool {
			printYAML(resp.Panels)
			fmt.Println("---")
			return true
		})
		if err != nil {
			fatal("watching panel", err)
		}
	case "restart":
		if *outputSelection == "" {
			fmt.Println("Applet has to be given with --output")
			return
		}
		if _, err := ipc.Send(ipc.Path(), ipc.Request{Kind: ipc.RequestRestart, Applet: *outputSelection}); err != nil {
			fatal("restarting applet", err)
		}
	default:
		fmt.Printf("Unknown action %s\n", *utilAction)
		utilHelpMessage()
	}
}

func utilHelpMessage() {
	fmt.Println("---- Help message for way2panel in tool mode ----")
	fmt.Println("\nIn tool mode, way2panel offers various tools for figuring out configurations and inspecting a running panel")
	fmt.Println("\nGeneral flags:")
	fmt.Println("\t--config: Path to the config file")
	fmt.Println("\t--tool: Start as a tool instead of a panel")
	fmt.Println("\t--help: Show this help message (or the one for panel mode if --tool is not set)")
	fmt.Println("\t--log-level: One of debug, info, warn, error")
	fmt.Println("\nTool flags:")
	fmt.Println("\t--action: The action to perform. Can be one of:")
	fmt.Println("\t\t- (default) outputs: List the outputs of the compositor. Use with --output to show only one")
	fmt.Println("\t\t- applets: List installed applets and their panel hints")
	fmt.Println("\t\t- status: Show the state of the running panel")
	fmt.Println("\t\t- watch: Follow the state of the running panel")
	fmt.Println("\t\t- restart: Restart the applet named by --output in the running panel")
	fmt.Println("\t--output: Output (or applet) to perform the action on")
}

func printYAML(v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		fatal("encoding output", err)
	}
	os.Stdout.Write(out)
}

// utilListOutputs asks the compositor directly, so it works without a running panel
func utilListOutputs(name string) {
	l := loop.New(nil)
	// nothing is announced before Start, an empty container never hears a thing
	h, err := host.Connect(l, container.New(l, &config.Config{}, container.Options{}))
	if err != nil {
		fatal("connecting to host compositor", err)
	}
	defer h.Close()

	outputs := h.Outputs()
	if name != "" {
		outputs = sliceutils.Filter(outputs, func(o *host.Output) bool { return o.Name == name })
		if len(outputs) == 0 {
			fmt.Printf("Output %s not found\n", name)
			return
		}
	}
	for i, o := range outputs {
		size := o.LogicalSize()
		fmt.Printf("Output %v: %s (%s)\n", i, o.Name, o.Description)
		fmt.Printf("\t- %dx%d@%d, scale %d, logical %dx%d\n", o.Mode.X, o.Mode.Y, o.Refresh, o.Scale, size.X, size.Y)
	}
	logrus.WithField("features", fmt.Sprintf("%+v", h.Features())).Debugln("Host features")
}

func utilListApplets() {
	for _, e := range desktop.List() {
		if !e.Applet {
			continue
		}
		var hints []string
		if e.HasMinimize {
			hints = append(hints, fmt.Sprintf("minimize %d", e.MinimizePriority))
		}
		if e.HasOverflowPriority {
			hints = append(hints, fmt.Sprintf("overflow priority %d", e.OverflowPriority))
		}
		if e.HostWaylandDisplay {
			hints = append(hints, "host display")
		}
		if e.NotificationsApplet {
			hints = append(hints, "notifications")
		}
		fmt.Printf("%s: %s", e.Name, strings.Join(e.Exec, " "))
		if len(hints) > 0 {
			fmt.Printf(" [%s]", strings.Join(hints, ", "))
		}
		fmt.Println()
	}
}
