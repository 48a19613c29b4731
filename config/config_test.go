package config

import (
	"errors"
	"testing"
)

const sampleConfig = `
start_type = "repl"

[[panel]]
name = "Panel"
anchor = "bottom"
size = "S"
output = "DP-1"
background = "#ff8000"
plugins_center = ["a", "b", "c"]
padding = 0
spacing = 0
exclusive_zone = false

[panel.autohide]
wait_time = 500
transition_time = 200

[[panel]]
name = "Dock"
anchor = "sideways"

[[panel]]
name = "Panel"
`

func TestParseSkipsInvalidEntries(t *testing.T) {
	conf, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	if conf.StartType != START_REPL {
		t.Errorf("Start type is %v, not START_REPL", conf.StartType)
	}
	if len(conf.Panels) != 1 {
		t.Fatalf("Expected 1 panel after skipping bad and duplicate entries, got %d", len(conf.Panels))
	}
	p := conf.Panels[0]
	if p.Anchor != AnchorBottom || p.Size != SizeS {
		t.Errorf("Anchor/size are %s/%s", p.Anchor, p.Size)
	}
	if p.Output.Kind != OutputName || p.Output.Name != "DP-1" {
		t.Errorf("Output selector is %+v", p.Output)
	}
	if p.Padding != 0 || p.Spacing != 0 {
		t.Errorf("Explicit zero padding/spacing lost: %d/%d", p.Padding, p.Spacing)
	}
	if p.ExclusiveZone {
		t.Errorf("exclusive_zone = false was ignored")
	}
	if p.AutoHide == nil || p.AutoHide.WaitTime != 500 || p.AutoHide.HandleSize != 4 {
		t.Errorf("Autohide not merged with defaults: %+v", p.AutoHide)
	}
	if len(p.Plugins()) != 3 {
		t.Errorf("Plugins() returned %v", p.Plugins())
	}
}

func TestParseNoPanels(t *testing.T) {
	_, err := Parse([]byte(`[[panel]]
name = ""`))
	if !errors.Is(err, ErrNoPanels) {
		t.Errorf("Expected ErrNoPanels, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	p := DefaultPanel()
	if p.Padding != 4 || p.Spacing != 4 {
		t.Errorf("Default padding/spacing are %d/%d", p.Padding, p.Spacing)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Default panel does not validate: %s", err)
	}
	ah := DefaultAutoHide()
	if ah.WaitTime != 1000 || ah.TransitionTime != 200 || ah.HandleSize != 4 {
		t.Errorf("Default autohide is %+v", ah)
	}
}

func TestUnitSizes(t *testing.T) {
	cases := map[Size]int{SizeXS: 26, SizeS: 40, SizeM: 52, SizeL: 64, SizeXL: 80}
	for size, want := range cases {
		if got := size.UnitSize(); got != want {
			t.Errorf("UnitSize(%s) = %d, want %d", size, got, want)
		}
	}
}

func TestRON(t *testing.T) {
	if got := AnchorLeft.RON(); got != "Left" {
		t.Errorf("Anchor RON is %q", got)
	}
	if got := SpacingRON(4); got != "4" {
		t.Errorf("Spacing RON is %q", got)
	}
	bg := Background{Kind: BackgroundColor, Color: [3]float32{1, 0, 0.5}}
	if got := bg.RON(); got != "Color((1.0,0.0,0.5))" {
		t.Errorf("Background RON is %q", got)
	}
	if got := (Background{}).RON(); got != "ThemeDefault" {
		t.Errorf("Default background RON is %q", got)
	}
}

func TestOutputSelector(t *testing.T) {
	if !ParseOutputSelector("all").Matches("HDMI-A-1") {
		t.Errorf("All should match every output")
	}
	named := ParseOutputSelector("eDP-1")
	if named.Matches("HDMI-A-1") || !named.Matches("eDP-1") {
		t.Errorf("Named selector matched wrongly")
	}
}
