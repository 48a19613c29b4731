// Package desktop reads the freedesktop entries applets are described by.
// Only the [Desktop Entry] group matters, localized keys are ignored
package desktop

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/mstarongithub/way2panel/layout"
	"github.com/mstarongithub/way2panel/space"
	"github.com/sirupsen/logrus"
)

var ErrNoExec = errors.New("desktop entry has no Exec key")

// Entry is what the panel needs from an applet's desktop entry
type Entry struct {
	// Name is the file stem, which is also the plugin name in the config
	Name string
	Path string
	// Exec is the command line with field codes removed
	Exec []string

	// Applet is X-CosmicApplet, used to list what can go into a panel
	Applet bool

	HostWaylandDisplay  bool
	NotificationsApplet bool

	OverflowMinSize     uint32
	HasOverflowMinSize  bool
	OverflowPriority    uint32
	HasOverflowPriority bool
	MinimizePriority    uint32
	HasMinimize         bool

	HoverPopup space.HoverAnchor
}

// Find locates <name>.desktop in the applications dir of the xdg data dirs
func Find(name string) (string, error) {
	p, err := xdg.SearchDataFile(filepath.Join("applications", name+".desktop"))
	if err != nil {
		return "", fmt.Errorf("no desktop entry for %s: %w", name, err)
	}
	return p, nil
}

// Load finds and parses the entry of a plugin
func Load(name string) (*Entry, error) {
	p, err := Find(name)
	if err != nil {
		return nil, err
	}
	return LoadFile(p)
}

func LoadFile(path string) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening desktop entry: %w", err)
	}
	defer f.Close()
	e, err := Parse(strings.TrimSuffix(filepath.Base(path), ".desktop"), f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	e.Path = path
	return e, nil
}

// Parse reads one desktop entry named name
func Parse(name string, r io.Reader) (*Entry, error) {
	e := &Entry{Name: name}
	var exec string
	inMain := false

	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if strings.HasPrefix(text, "[") {
			inMain = text == "[Desktop Entry]"
			continue
		}
		if !inMain {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: not a key value pair", line)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if strings.Contains(key, "[") {
			continue
		}
		if err := e.set(key, value, &exec); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading desktop entry: %w", err)
	}
	if exec == "" {
		return nil, ErrNoExec
	}
	args, err := SplitExec(exec)
	if err != nil {
		return nil, fmt.Errorf("Exec: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrNoExec
	}
	e.Exec = args
	return e, nil
}

func (e *Entry) set(key, value string, exec *string) error {
	var err error
	switch key {
	case "Exec":
		*exec = value
	case "X-CosmicApplet":
		e.Applet, err = parseBool(value)
	case "X-HostWaylandDisplay":
		e.HostWaylandDisplay, err = parseBool(value)
	case "X-NotificationsApplet":
		e.NotificationsApplet, err = parseBool(value)
	case "X-OverflowMinSize":
		e.OverflowMinSize, err = parseUint(value)
		e.HasOverflowMinSize = err == nil
	case "X-OverflowPriority":
		e.OverflowPriority, err = parseUint(value)
		e.HasOverflowPriority = err == nil
	case "X-MinimizeApplet":
		e.MinimizePriority, err = parseUint(value)
		e.HasMinimize = err == nil
	case "X-CosmicHoverPopup":
		a, ok := space.ParseHoverAnchor(value)
		if !ok {
			return fmt.Errorf("unknown anchor %q", value)
		}
		e.HoverPopup = a
	}
	return err
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// SplitExec splits an Exec value into arguments. Quoting follows the desktop
// entry rules and field codes like %f are dropped
func SplitExec(s string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
			inArg = true
		case !quoted && (c == ' ' || c == '\t'):
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		case c == '%' && i+1 < len(s):
			i++
			if s[i] == '%' {
				cur.WriteByte('%')
				inArg = true
			}
		default:
			cur.WriteByte(c)
			inArg = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if inArg && cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args, nil
}

// Client turns the entry into the panel's record for an applet in band
func (e *Entry) Client(band layout.Band) *space.PanelClient {
	pc := &space.PanelClient{
		Name:  e.Name,
		Band:  band,
		Hover: e.HoverPopup,
	}
	if e.HasOverflowMinSize {
		pc.MinUnits = max(e.OverflowMinSize, 1)
	}
	if e.HasOverflowPriority {
		pc.Priority, pc.HasPriority = e.OverflowPriority, true
	}
	return pc
}

// List returns the applet entries of every applications dir, the first
// entry of a name wins
func List() []*Entry {
	var out []*Entry
	seen := map[string]bool{}
	for _, dir := range append([]string{xdg.DataHome}, xdg.DataDirs...) {
		paths, err := filepath.Glob(filepath.Join(dir, "applications", "*.desktop"))
		if err != nil {
			continue
		}
		slices.Sort(paths)
		for _, p := range paths {
			name := strings.TrimSuffix(filepath.Base(p), ".desktop")
			if seen[name] {
				continue
			}
			seen[name] = true
			e, err := LoadFile(p)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					logrus.WithError(err).Debugln("Skipping desktop entry")
				}
				continue
			}
			if e.Applet {
				out = append(out, e)
			}
		}
	}
	return out
}
