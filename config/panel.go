// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Anchor int

const (
	AnchorTop = Anchor(iota)
	AnchorBottom
	AnchorLeft
	AnchorRight
)

type Layer int

const (
	LayerBackground = Layer(iota)
	LayerBottom
	LayerTop
	LayerOverlay
)

type KeyboardInteractivity int

const (
	KeyboardNone = KeyboardInteractivity(iota)
	KeyboardExclusive
	KeyboardOnDemand
)

type Size int

const (
	SizeXS = Size(iota)
	SizeS
	SizeM
	SizeL
	SizeXL
)

type OutputKind int

const (
	// Every output gets its own panel
	OutputAll = OutputKind(iota)
	// Only the output active when the panel starts
	OutputActive
	// The output with the given name
	OutputName
)

type OutputSelector struct {
	Kind OutputKind
	Name string
}

type BackgroundKind int

const (
	BackgroundThemeDefault = BackgroundKind(iota)
	BackgroundDark
	BackgroundLight
	BackgroundColor
)

type Background struct {
	Kind BackgroundKind
	// Only used for BackgroundColor, components in [0,1]
	Color [3]float32
}

type AutoHide struct {
	WaitTime       uint32
	TransitionTime uint32
	HandleSize     uint32
	// Stay visible while no toplevel overlaps the panel. Needs overlap notify on the host
	OnlyWhenOverlapped bool
}

// PanelConfig describes one panel. It is immutable for the lifetime of its spaces
type PanelConfig struct {
	Name                  string
	Anchor                Anchor
	AnchorGap             bool
	Layer                 Layer
	KeyboardInteractivity KeyboardInteractivity
	Size                  Size
	Output                OutputSelector
	Background            Background
	PluginsLeft           []string
	PluginsCenter         []string
	PluginsRight          []string
	ExpandToEdges         bool
	Padding               uint32
	Spacing               uint32
	Margin                uint32
	BorderRadius          uint32
	ExclusiveZone         bool
	AutoHide              *AutoHide
	Opacity               float32
	AutohoverDelayMs      uint32
}

func DefaultAutoHide() AutoHide {
	return AutoHide{
		WaitTime:       1000,
		TransitionTime: 200,
		HandleSize:     4,
	}
}

func DefaultPanel() PanelConfig {
	return PanelConfig{
		Name:                  "Panel",
		Anchor:                AnchorTop,
		Layer:                 LayerTop,
		KeyboardInteractivity: KeyboardOnDemand,
		Size:                  SizeM,
		Output:                OutputSelector{Kind: OutputAll},
		Background:            Background{Kind: BackgroundThemeDefault},
		Padding:               4,
		Spacing:               4,
		ExclusiveZone:         true,
		Opacity:               1,
	}
}

func (p *PanelConfig) Validate() error {
	_, hi := p.Size.ThicknessRange()
	if 2*int(p.Padding) >= hi {
		return fmt.Errorf("padding %d too large for size %s", p.Padding, p.Size)
	}
	if p.AutoHide != nil && p.AutoHide.TransitionTime == 0 {
		return errors.New("autohide transition_time must be positive")
	}
	for _, list := range [][]string{p.PluginsLeft, p.PluginsCenter, p.PluginsRight} {
		for _, name := range list {
			if name == "" || strings.ContainsRune(name, '/') {
				return fmt.Errorf("invalid plugin name %q", name)
			}
		}
	}
	return nil
}

// Plugins returns all configured applet names, left then center then right
func (p *PanelConfig) Plugins() []string {
	all := make([]string, 0, len(p.PluginsLeft)+len(p.PluginsCenter)+len(p.PluginsRight))
	all = append(all, p.PluginsLeft...)
	all = append(all, p.PluginsCenter...)
	return append(all, p.PluginsRight...)
}

func (p *PanelConfig) IsHorizontal() bool {
	return p.Anchor == AnchorTop || p.Anchor == AnchorBottom
}

// Gap is the distance kept between the panel content and its screen edge
func (p *PanelConfig) Gap() int {
	if p.AnchorGap {
		return int(p.Margin)
	}
	return 0
}

func (p *PanelConfig) HideWait() time.Duration {
	if p.AutoHide == nil {
		return 0
	}
	return time.Duration(p.AutoHide.WaitTime) * time.Millisecond
}

func (p *PanelConfig) HideTransition() time.Duration {
	if p.AutoHide == nil {
		return 0
	}
	return time.Duration(p.AutoHide.TransitionTime) * time.Millisecond
}

func (p *PanelConfig) HideHandle() int {
	if p.AutoHide == nil {
		return 0
	}
	return int(p.AutoHide.HandleSize)
}

func (a Anchor) String() string {
	switch a {
	case AnchorTop:
		return "Top"
	case AnchorBottom:
		return "Bottom"
	case AnchorLeft:
		return "Left"
	case AnchorRight:
		return "Right"
	default:
		return "Anchor(" + strconv.Itoa(int(a)) + ")"
	}
}

func (a Anchor) Opposite() Anchor {
	switch a {
	case AnchorTop:
		return AnchorBottom
	case AnchorBottom:
		return AnchorTop
	case AnchorLeft:
		return AnchorRight
	default:
		return AnchorLeft
	}
}

func ParseAnchor(s string) (Anchor, error) {
	switch strings.ToLower(s) {
	case "top":
		return AnchorTop, nil
	case "bottom":
		return AnchorBottom, nil
	case "left":
		return AnchorLeft, nil
	case "right":
		return AnchorRight, nil
	}
	return AnchorTop, fmt.Errorf("unknown anchor %q", s)
}

func ParseLayer(s string) (Layer, error) {
	switch strings.ToLower(s) {
	case "background":
		return LayerBackground, nil
	case "bottom":
		return LayerBottom, nil
	case "top":
		return LayerTop, nil
	case "overlay":
		return LayerOverlay, nil
	}
	return LayerTop, fmt.Errorf("unknown layer %q", s)
}

func ParseKeyboardInteractivity(s string) (KeyboardInteractivity, error) {
	switch strings.ToLower(s) {
	case "none":
		return KeyboardNone, nil
	case "exclusive":
		return KeyboardExclusive, nil
	case "on_demand", "ondemand":
		return KeyboardOnDemand, nil
	}
	return KeyboardNone, fmt.Errorf("unknown keyboard interactivity %q", s)
}

func (s Size) String() string {
	switch s {
	case SizeXS:
		return "XS"
	case SizeS:
		return "S"
	case SizeM:
		return "M"
	case SizeL:
		return "L"
	case SizeXL:
		return "XL"
	default:
		return "Size(" + strconv.Itoa(int(s)) + ")"
	}
}

func ParseSize(s string) (Size, error) {
	switch strings.ToUpper(s) {
	case "XS":
		return SizeXS, nil
	case "S":
		return SizeS, nil
	case "M":
		return SizeM, nil
	case "L":
		return SizeL, nil
	case "XL":
		return SizeXL, nil
	}
	return SizeM, fmt.Errorf("unknown size %q", s)
}

// ThicknessRange is the allowed cross axis extent of the panel, upper bound exclusive
func (s Size) ThicknessRange() (int, int) {
	switch s {
	case SizeXS:
		return 8, 61
	case SizeS:
		return 8, 81
	case SizeL:
		return 8, 121
	case SizeXL:
		return 8, 141
	default:
		return 8, 101
	}
}

func (s Size) IconSize() int {
	switch s {
	case SizeXS:
		return 18
	case SizeS:
		return 24
	case SizeL:
		return 48
	case SizeXL:
		return 64
	default:
		return 36
	}
}

func (s Size) AppletPadding() int {
	if s == SizeXS {
		return 4
	}
	return 8
}

// UnitSize is the edge of one applet icon cell including its padding
func (s Size) UnitSize() int {
	return s.IconSize() + 2*s.AppletPadding()
}

func ParseOutputSelector(s string) OutputSelector {
	switch strings.ToLower(s) {
	case "all", "":
		return OutputSelector{Kind: OutputAll}
	case "active":
		return OutputSelector{Kind: OutputActive}
	}
	return OutputSelector{Kind: OutputName, Name: s}
}

// Matches reports whether an output with the given name gets a panel.
// Active matches whichever output is offered first
func (o OutputSelector) Matches(name string) bool {
	switch o.Kind {
	case OutputName:
		return o.Name == name
	default:
		return true
	}
}

func (o OutputSelector) String() string {
	switch o.Kind {
	case OutputAll:
		return "All"
	case OutputActive:
		return "Active"
	default:
		return o.Name
	}
}

// ParseBackground accepts theme, dark, light or a #rrggbb color
func ParseBackground(s string) (Background, error) {
	switch strings.ToLower(s) {
	case "theme", "themedefault", "theme_default":
		return Background{Kind: BackgroundThemeDefault}, nil
	case "dark":
		return Background{Kind: BackgroundDark}, nil
	case "light":
		return Background{Kind: BackgroundLight}, nil
	}
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || len(hex) != 6 {
		return Background{}, fmt.Errorf("unknown background %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Background{}, fmt.Errorf("bad background color %q: %w", s, err)
	}
	return Background{
		Kind: BackgroundColor,
		Color: [3]float32{
			float32((v>>16)&0xff) / 255,
			float32((v>>8)&0xff) / 255,
			float32(v&0xff) / 255,
		},
	}, nil
}

// RGBA resolves the background against the theme color.
// The result is not premultiplied
func (b Background) RGBA(theme [4]float32, opacity float32) [4]float32 {
	var c [4]float32
	switch b.Kind {
	case BackgroundDark:
		c = [4]float32{0.1, 0.1, 0.1, 1}
	case BackgroundLight:
		c = [4]float32{0.9, 0.9, 0.9, 1}
	case BackgroundColor:
		c = [4]float32{b.Color[0], b.Color[1], b.Color[2], 1}
	default:
		c = theme
	}
	c[3] *= opacity
	return c
}
