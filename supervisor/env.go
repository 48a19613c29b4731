package supervisor

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mstarongithub/way2panel/config"
)

const (
	EnvWaylandSocket     = "WAYLAND_SOCKET"
	EnvPanelName         = "COSMIC_PANEL_NAME"
	EnvPanelOutput       = "COSMIC_PANEL_OUTPUT"
	EnvPanelSpacing      = "COSMIC_PANEL_SPACING"
	EnvPanelAnchor       = "COSMIC_PANEL_ANCHOR"
	EnvPanelBackground   = "COSMIC_PANEL_BACKGROUND"
	EnvPanelSize         = "COSMIC_PANEL_SIZE"
	EnvMinimizeApplet    = "X_MINIMIZE_APPLET"
	EnvPrivilegedSocket  = "X_PRIVILEGED_WAYLAND_SOCKET"
	EnvNotifications     = "COSMIC_NOTIFICATIONS"
	flatpakWaylandSocket = "--socket=inherit-wayland-socket"
)

// Variables the panel sets itself and never passes on from its own environment
var panelVars = []string{
	EnvWaylandSocket,
	EnvPanelName,
	EnvPanelOutput,
	EnvPanelSpacing,
	EnvPanelAnchor,
	EnvPanelBackground,
	EnvPanelSize,
	EnvMinimizeApplet,
	EnvPrivilegedSocket,
	EnvNotifications,
	"WAYLAND_DEBUG",
}

func envVar(k, v string) string { return k + "=" + v }

// fdNumber is the fd a file in exec.Cmd.ExtraFiles ends up as in the child
func fdNumber(i int) string { return strconv.Itoa(3 + i) }

// PanelEnv is what every applet of conf on output learns about its panel
func PanelEnv(conf *config.PanelConfig, output string, minimize bool) []string {
	return []string{
		envVar(EnvPanelName, conf.Name),
		envVar(EnvPanelOutput, output),
		envVar(EnvPanelSpacing, config.SpacingRON(conf.Spacing)),
		envVar(EnvPanelAnchor, conf.Anchor.RON()),
		envVar(EnvPanelBackground, conf.Background.RON()),
		envVar(EnvPanelSize, conf.Size.RON()),
		envVar(EnvMinimizeApplet, strconv.FormatBool(minimize)),
	}
}

func (s *Supervisor) panelEnv(a *applet) []string {
	return append([]string{envVar(EnvWaylandSocket, fdNumber(0))}, PanelEnv(s.conf, s.opts.Output, a.client.Minimize)...)
}

// inheritedEnv drops the panel's own copies of the applet variables
func inheritedEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if slices.Contains(panelVars, k) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// flatpakArgs passes vars into the sandbox of a `flatpak run` command line.
// The socket itself goes through flatpak's own wayland socket inheritance
func flatpakArgs(args []string, vars []string) []string {
	run := slices.Index(args, "run")
	if run < 0 {
		return args
	}
	out := make([]string, 0, len(args)+len(vars)+1)
	out = append(out, args[:run+1]...)
	for _, kv := range vars {
		if strings.HasPrefix(kv, EnvWaylandSocket+"=") {
			continue
		}
		out = append(out, "--env="+kv)
	}
	out = append(out, flatpakWaylandSocket)
	return append(out, args[run+1:]...)
}

// crashes remembers recent non-zero exits of one applet
type crashes struct {
	times []time.Time
}

// add records an exit at now and reports whether the applet is done for
func (c *crashes) add(now time.Time) bool {
	c.times = append(c.times, now)
	cutoff := now.Add(-CrashWindow)
	c.times = slices.DeleteFunc(c.times, func(t time.Time) bool { return !t.After(cutoff) })
	return len(c.times) >= MaxCrashes
}
