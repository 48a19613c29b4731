// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
)

type StartType int

const (
	// Run panels only
	START_NONE = StartType(iota)
	// Run panels and a debug console on stdin
	START_REPL
)

// Relative path of the config file inside the xdg config dirs
const DefaultConfigPath = "way2panel/config.toml"

var ErrNoPanels = errors.New("no usable panel entries")

// Config is everything read from the config file.
// Panels that failed validation are not in it, see Load
type Config struct {
	StartType StartType
	Panels    []PanelConfig
}

type fileConfig struct {
	StartType string      `envconfig:"START_TYPE,omitempty" toml:"start_type,omitempty"`
	Panels    []filePanel `toml:"panel"`
}

type filePanel struct {
	Name                  string        `toml:"name"`
	Anchor                string        `toml:"anchor,omitempty"`
	AnchorGap             bool          `toml:"anchor_gap,omitempty"`
	Layer                 string        `toml:"layer,omitempty"`
	KeyboardInteractivity string        `toml:"keyboard_interactivity,omitempty"`
	Size                  string        `toml:"size,omitempty"`
	Output                string        `toml:"output,omitempty"`
	Background            string        `toml:"background,omitempty"`
	PluginsLeft           []string      `toml:"plugins_left,omitempty"`
	PluginsCenter         []string      `toml:"plugins_center,omitempty"`
	PluginsRight          []string      `toml:"plugins_right,omitempty"`
	ExpandToEdges         bool          `toml:"expand_to_edges,omitempty"`
	Padding               *uint32       `toml:"padding,omitempty"`
	Spacing               *uint32       `toml:"spacing,omitempty"`
	Margin                uint32        `toml:"margin,omitempty"`
	BorderRadius          uint32        `toml:"border_radius,omitempty"`
	ExclusiveZone         *bool         `toml:"exclusive_zone,omitempty"`
	Opacity               *float64      `toml:"opacity,omitempty"`
	AutohoverDelayMs      uint32        `toml:"autohover_delay_ms,omitempty"`
	AutoHide              *fileAutoHide `toml:"autohide,omitempty"`
}

type fileAutoHide struct {
	WaitTime           *uint32 `toml:"wait_time,omitempty"`
	TransitionTime     *uint32 `toml:"transition_time,omitempty"`
	HandleSize         *uint32 `toml:"handle_size,omitempty"`
	OnlyWhenOverlapped bool    `toml:"only_when_overlapped,omitempty"`
}

// Path returns the config file to use.
// An explicit path wins, otherwise the first existing file in the xdg config dirs
func Path(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	p, err := xdg.SearchConfigFile(DefaultConfigPath)
	if err != nil {
		return "", fmt.Errorf("no config file found: %w", err)
	}
	return p, nil
}

// Load reads and parses the config file at path.
// A missing file yields a single default panel
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithField("path", path).Warnln("Config file missing, using default panel")
		return &Config{Panels: []PanelConfig{DefaultPanel()}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a config document.
// Entries that don't validate are logged and skipped
func Parse(data []byte) (*Config, error) {
	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	conf := &Config{}
	switch strings.ToLower(raw.StartType) {
	case "", "none":
		conf.StartType = START_NONE
	case "repl":
		conf.StartType = START_REPL
	default:
		return nil, fmt.Errorf("unknown start_type %q", raw.StartType)
	}

	seen := map[string]bool{}
	for i, fp := range raw.Panels {
		panel, err := fp.toPanel()
		if err == nil && seen[panel.Name] {
			err = fmt.Errorf("duplicate panel name %q", panel.Name)
		}
		if err != nil {
			logrus.WithError(err).WithField("entry", i).Errorln("Skipping invalid panel entry")
			continue
		}
		seen[panel.Name] = true
		conf.Panels = append(conf.Panels, panel)
	}
	if len(conf.Panels) == 0 {
		return conf, ErrNoPanels
	}
	return conf, nil
}

func (fp filePanel) toPanel() (PanelConfig, error) {
	p := DefaultPanel()
	if fp.Name == "" {
		return p, errors.New("panel without name")
	}
	p.Name = fp.Name

	var err error
	if fp.Anchor != "" {
		if p.Anchor, err = ParseAnchor(fp.Anchor); err != nil {
			return p, err
		}
	}
	if fp.Layer != "" {
		if p.Layer, err = ParseLayer(fp.Layer); err != nil {
			return p, err
		}
	}
	if fp.KeyboardInteractivity != "" {
		if p.KeyboardInteractivity, err = ParseKeyboardInteractivity(fp.KeyboardInteractivity); err != nil {
			return p, err
		}
	}
	if fp.Size != "" {
		if p.Size, err = ParseSize(fp.Size); err != nil {
			return p, err
		}
	}
	if fp.Output != "" {
		p.Output = ParseOutputSelector(fp.Output)
	}
	if fp.Background != "" {
		if p.Background, err = ParseBackground(fp.Background); err != nil {
			return p, err
		}
	}

	p.AnchorGap = fp.AnchorGap
	p.PluginsLeft = fp.PluginsLeft
	p.PluginsCenter = fp.PluginsCenter
	p.PluginsRight = fp.PluginsRight
	p.ExpandToEdges = fp.ExpandToEdges
	p.Margin = fp.Margin
	p.BorderRadius = fp.BorderRadius
	p.AutohoverDelayMs = fp.AutohoverDelayMs
	if fp.Padding != nil {
		p.Padding = *fp.Padding
	}
	if fp.Spacing != nil {
		p.Spacing = *fp.Spacing
	}
	if fp.ExclusiveZone != nil {
		p.ExclusiveZone = *fp.ExclusiveZone
	}
	if fp.Opacity != nil {
		if *fp.Opacity < 0 || *fp.Opacity > 1 {
			return p, fmt.Errorf("opacity %v out of range [0,1]", *fp.Opacity)
		}
		p.Opacity = float32(*fp.Opacity)
	}
	if fp.AutoHide != nil {
		ah := DefaultAutoHide()
		if fp.AutoHide.WaitTime != nil {
			ah.WaitTime = *fp.AutoHide.WaitTime
		}
		if fp.AutoHide.TransitionTime != nil {
			ah.TransitionTime = *fp.AutoHide.TransitionTime
		}
		if fp.AutoHide.HandleSize != nil {
			ah.HandleSize = *fp.AutoHide.HandleSize
		}
		ah.OnlyWhenOverlapped = fp.AutoHide.OnlyWhenOverlapped
		p.AutoHide = &ah
	}
	return p, p.Validate()
}
