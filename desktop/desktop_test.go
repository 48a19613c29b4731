package desktop

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/space"
)

const appletEntry = `# comment
[Desktop Entry]
Type=Application
Name=Battery
Name[de]=Akku
Exec=cosmic-applet-battery --flag "two words" %U
X-CosmicApplet=true
X-HostWaylandDisplay=true
X-OverflowMinSize=2
X-OverflowPriority=10
X-MinimizeApplet=5
X-CosmicHoverPopup=End
X-NotificationsApplet=false

[Desktop Action other]
Exec=ignored
`

func TestParseExtensionKeys(t *testing.T) {
	e, err := Parse("battery", strings.NewReader(appletEntry))
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	if !slices.Equal(e.Exec, []string{"cosmic-applet-battery", "--flag", "two words"}) {
		t.Errorf("Exec is %q", e.Exec)
	}
	if !e.Applet || !e.HostWaylandDisplay || e.NotificationsApplet {
		t.Errorf("Booleans wrong: %+v", e)
	}
	if !e.HasOverflowMinSize || e.OverflowMinSize != 2 {
		t.Errorf("Overflow min size %d (set %v)", e.OverflowMinSize, e.HasOverflowMinSize)
	}
	if !e.HasOverflowPriority || e.OverflowPriority != 10 {
		t.Errorf("Overflow priority %d", e.OverflowPriority)
	}
	if !e.HasMinimize || e.MinimizePriority != 5 {
		t.Errorf("Minimize priority %d", e.MinimizePriority)
	}
	if e.HoverPopup != space.HoverEnd {
		t.Errorf("Hover anchor %v", e.HoverPopup)
	}
}

func TestParseWithoutExtensions(t *testing.T) {
	e, err := Parse("plain", strings.NewReader("[Desktop Entry]\nExec=plain\n"))
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	if e.HasOverflowMinSize || e.HasOverflowPriority || e.HasMinimize || e.HoverPopup != space.HoverNone {
		t.Errorf("Unset keys came out set: %+v", e)
	}
	pc := e.Client(layout.BandLeft)
	if pc.MinUnits != 0 || pc.HasPriority || pc.Band != layout.BandLeft {
		t.Errorf("Client is %+v", pc)
	}
}

func TestParseFailures(t *testing.T) {
	cases := map[string]string{
		"no exec":             "[Desktop Entry]\nName=x\n",
		"bad uint":            "[Desktop Entry]\nExec=x\nX-OverflowPriority=-1\n",
		"bad bool":            "[Desktop Entry]\nExec=x\nX-HostWaylandDisplay=yes\n",
		"bad anchor":          "[Desktop Entry]\nExec=x\nX-CosmicHoverPopup=Middle\n",
		"open quote":          "[Desktop Entry]\nExec=x \"y\n",
		"not a pair":          "[Desktop Entry]\nExec=x\ngarbage\n",
		"exec in other group": "[Desktop Action a]\nExec=x\n",
	}
	for name, doc := range cases {
		if _, err := Parse("x", strings.NewReader(doc)); err == nil {
			t.Errorf("%s: parsed without error", name)
		}
	}
	if _, err := Parse("x", strings.NewReader(cases["no exec"])); !errors.Is(err, ErrNoExec) {
		t.Errorf("Missing Exec gives %v", err)
	}
}

func TestSplitExec(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a b  c", []string{"a", "b", "c"}},
		{`a "b \"c\"" d`, []string{"a", `b "c"`, "d"}},
		{"a %f %% %U", []string{"a", "%"}},
		{`a ""`, []string{"a"}},
	}
	for _, c := range cases {
		got, err := SplitExec(c.in)
		if err != nil {
			t.Errorf("%q: %s", c.in, err)
			continue
		}
		if !slices.Equal(got, c.want) {
			t.Errorf("%q split into %q, want %q", c.in, got, c.want)
		}
	}
}

func TestClientFromEntry(t *testing.T) {
	e := &Entry{Name: "a", HasOverflowMinSize: true, HasOverflowPriority: true, OverflowPriority: 3, HoverPopup: space.HoverCenter}
	pc := e.Client(layout.BandCenter)
	if pc.MinUnits != 1 {
		t.Errorf("A zero min size became %d units", pc.MinUnits)
	}
	if !pc.HasPriority || pc.Priority != 3 || pc.Hover != space.HoverCenter {
		t.Errorf("Client is %+v", pc)
	}
}

func TestLoadFileNamesByStem(t *testing.T) {
	p := filepath.Join(t.TempDir(), "com.example.Applet.desktop")
	if err := os.WriteFile(p, []byte(appletEntry), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile failed: %s", err)
	}
	if e.Name != "com.example.Applet" || e.Path != p {
		t.Errorf("Entry named %q at %q", e.Name, e.Path)
	}
}
