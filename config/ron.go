package config

import (
	"strconv"
)

// Applets read their panel settings from the environment in RON notation.
// Only the handful of shapes they parse are produced here

func (a Anchor) RON() string { return a.String() }

func (s Size) RON() string { return s.String() }

func SpacingRON(spacing uint32) string {
	return strconv.FormatUint(uint64(spacing), 10)
}

func (b Background) RON() string {
	switch b.Kind {
	case BackgroundDark:
		return "Dark"
	case BackgroundLight:
		return "Light"
	case BackgroundColor:
		return "Color((" + ronFloat(b.Color[0]) + "," + ronFloat(b.Color[1]) + "," + ronFloat(b.Color[2]) + "))"
	default:
		return "ThemeDefault"
	}
}

// RON floats always carry a fractional part
func ronFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'f', -1, 32)
	for _, c := range s {
		if c == '.' || c == 'e' {
			return s
		}
	}
	return s + ".0"
}
