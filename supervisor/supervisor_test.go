package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mstarongithub/way2panel/config"
	"github.com/mstarongithub/way2panel/desktop"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/space"
)

// onLoop runs f on a running loop and waits for it
func onLoop(l *loop.Loop, f func()) {
	done := make(chan struct{})
	l.Post(func() {
		f()
		close(done)
	})
	<-done
}

// waitFor polls cond on the loop until it holds
func waitFor(t *testing.T, l *loop.Loop, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		onLoop(l, func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func shellApplets(script string, extra ...string) func(string) (*desktop.Entry, error) {
	return func(name string) (*desktop.Entry, error) {
		if name == "missing" {
			return nil, desktop.ErrNoExec
		}
		return &desktop.Entry{
			Name: name,
			Exec: append([]string{"sh", "-c", script, "sh"}, extra...),
		}, nil
	}
}

func running(t *testing.T) (*loop.Loop, *server.Server) {
	l := loop.New(nil)
	srv := server.New(l, server.NopHandler{}, server.Features{})
	go l.Run()
	t.Cleanup(l.Stop)
	return l, srv
}

func TestCrashRestartsWithNewClient(t *testing.T) {
	l, srv := running(t)
	mark := filepath.Join(t.TempDir(), "ran")
	// the first run crashes, the second one stays up
	script := `if [ -e "$1" ]; then exec sleep 30; fi; touch "$1"; exit 1`

	var (
		ids     []server.ClientID
		clients []*server.Client
	)
	sup := New(l, Options{
		Output: "DP-1",
		Lookup: shellApplets(script, mark),
		Connected: func(pc *space.PanelClient, id server.ClientID) {
			ids = append(ids, id)
			clients = append(clients, srv.Client(id))
			pc.Client = id
		},
	})
	t.Cleanup(sup.TerminateAll)

	conf := config.DefaultPanel()
	conf.PluginsLeft = []string{"a"}
	var pcs []*space.PanelClient
	onLoop(l, func() {
		var err error
		pcs, err = sup.SpawnApplets(&conf, srv)
		if err != nil {
			t.Errorf("SpawnApplets failed: %s", err)
		}
	})
	if len(pcs) != 1 {
		t.Fatalf("Got %d panel clients, want 1", len(pcs))
	}

	waitFor(t, l, "the second connection", func() bool { return len(ids) == 2 })
	onLoop(l, func() {
		if clients[0].Alive() {
			t.Errorf("Client %d of the crashed run is still alive", ids[0])
		}
		if srv.Client(ids[0]) != nil {
			t.Errorf("Server still lists client %d", ids[0])
		}
		if ids[1] == ids[0] {
			t.Errorf("Restart reused client id %d", ids[0])
		}
		if pcs[0].Client != ids[1] {
			t.Errorf("Panel client points at %d, want %d", pcs[0].Client, ids[1])
		}
		if !clients[1].Alive() {
			t.Errorf("New client %d is dead", ids[1])
		}
	})
	waitFor(t, l, "the second run", func() bool {
		st := sup.Statuses()
		return st[0].Runs == 2 && st[0].State == StateRunning.String()
	})
}

func TestCleanExitIsNotRestarted(t *testing.T) {
	l, srv := running(t)
	out := filepath.Join(t.TempDir(), "env")
	script := `printf '%s\n' "$WAYLAND_SOCKET" "$COSMIC_PANEL_NAME" "$COSMIC_PANEL_OUTPUT" "$COSMIC_PANEL_SIZE" "$X_MINIMIZE_APPLET" > "$1"`
	sup := New(l, Options{Output: "HDMI-A-1", Lookup: shellApplets(script, out)})
	t.Cleanup(sup.TerminateAll)

	conf := config.DefaultPanel()
	conf.Name = "dock"
	conf.PluginsRight = []string{"missing", "b"}
	var pcs []*space.PanelClient
	onLoop(l, func() { pcs, _ = sup.SpawnApplets(&conf, srv) })
	if len(pcs) != 1 || pcs[0].Name != "b" {
		t.Fatalf("Applet without entry was not skipped: %v", pcs)
	}

	waitFor(t, l, "the applet to stop", func() bool {
		return sup.Statuses()[0].State == StateStopped.String()
	})
	waitFor(t, l, "the record to drop its client", func() bool { return pcs[0].Client == 0 })
	if st := sup.Statuses()[0]; st.Runs != 1 {
		t.Errorf("Clean exit ran %d times", st.Runs)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Fields(string(data))
	want := []string{"3", "dock", "HDMI-A-1", "M", "false"}
	if !slices.Equal(got, want) {
		t.Errorf("Applet saw %q, want %q", got, want)
	}
}

func TestSpawnTwiceFails(t *testing.T) {
	l, srv := running(t)
	sup := New(l, Options{Lookup: shellApplets("exit 0")})
	t.Cleanup(sup.TerminateAll)
	conf := config.DefaultPanel()
	onLoop(l, func() {
		if _, err := sup.SpawnApplets(&conf, srv); err != nil {
			t.Errorf("First spawn failed: %s", err)
		}
		if _, err := sup.SpawnApplets(&conf, srv); !errors.Is(err, ErrAlreadySpawned) {
			t.Errorf("Second spawn gave %v", err)
		}
	})
}

func TestCrashBlacklist(t *testing.T) {
	var c crashes
	start := time.Unix(100, 0)
	for i := 0; i < MaxCrashes-1; i++ {
		if c.add(start.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("Blacklisted after %d crashes", i+1)
		}
	}
	if !c.add(start.Add(4500 * time.Millisecond)) {
		t.Errorf("%d crashes within %s did not blacklist", MaxCrashes, CrashWindow)
	}

	var slow crashes
	for i := 0; i < 2*MaxCrashes; i++ {
		if slow.add(start.Add(time.Duration(i) * 2 * time.Second)) {
			t.Fatalf("Crashes spread out over time blacklisted at %d", i+1)
		}
	}
}

func TestFlatpakArgs(t *testing.T) {
	vars := []string{"WAYLAND_SOCKET=3", "COSMIC_PANEL_NAME=Panel"}
	got := flatpakArgs([]string{"/usr/bin/flatpak", "run", "--branch=stable", "com.example.Applet"}, vars)
	want := []string{"/usr/bin/flatpak", "run", "--env=COSMIC_PANEL_NAME=Panel", "--socket=inherit-wayland-socket", "--branch=stable", "com.example.Applet"}
	if !slices.Equal(got, want) {
		t.Errorf("Got %q\nwant %q", got, want)
	}
	noRun := []string{"flatpak", "list"}
	if got := flatpakArgs(noRun, vars); !slices.Equal(got, noRun) {
		t.Errorf("Command without run became %q", got)
	}
}

func TestPanelEnv(t *testing.T) {
	conf := config.DefaultPanel()
	conf.Anchor = config.AnchorLeft
	conf.Background = config.Background{Kind: config.BackgroundColor, Color: [3]float32{1, 0.5, 0}}
	env := PanelEnv(&conf, "eDP-1", true)
	for _, kv := range []string{
		"COSMIC_PANEL_SPACING=4",
		"COSMIC_PANEL_ANCHOR=Left",
		"COSMIC_PANEL_BACKGROUND=Color((1.0,0.5,0.0))",
		"X_MINIMIZE_APPLET=true",
	} {
		if !slices.Contains(env, kv) {
			t.Errorf("%s missing from %q", kv, env)
		}
	}

	inherited := inheritedEnv([]string{"HOME=/root", "WAYLAND_SOCKET=9", "WAYLAND_DEBUG=1", "WAYLAND_DISPLAY=wayland-1"})
	if !slices.Equal(inherited, []string{"HOME=/root", "WAYLAND_DISPLAY=wayland-1"}) {
		t.Errorf("Inherited %q", inherited)
	}
}

func TestMinimizeGoesToHighestPriority(t *testing.T) {
	mk := func(name string, prio uint32, has bool) *applet {
		e := &desktop.Entry{Name: name, MinimizePriority: prio, HasMinimize: has}
		return &applet{entry: e, client: &space.PanelClient{Name: name}}
	}
	applets := []*applet{mk("a", 9, false), mk("b", 2, true), mk("c", 5, true), mk("d", 5, true)}
	markMinimize(applets)
	for _, a := range applets {
		if want := a.entry.Name == "c"; a.client.Minimize != want {
			t.Errorf("%s minimize is %v", a.entry.Name, a.client.Minimize)
		}
	}
}
