// Package ipc is the status socket of a running panel. Messages are CBOR
// values streamed over a unix socket in the xdg runtime dir, one request
// and one or more responses per connection
package ipc

import (
	"errors"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/fxamacker/cbor/v2"
	"github.com/mstarongithub/way2panel/container"
)

// SocketName is the socket file inside $XDG_RUNTIME_DIR
const SocketName = "way2panel.sock"

// TODO: Look into adding support for sway and hyprland ipc so that the tool mode can interact with those too

var ErrUnknownRequest = errors.New("unknown request")

type RequestKind string

const (
	// Snapshot of every panel space and its applets
	RequestStatus = RequestKind("status")
	// The outputs the panel knows
	RequestOutputs = RequestKind("outputs")
	// Restart one applet, by name
	RequestRestart = RequestKind("restart")
	// A status response now and after every change until the client hangs up
	RequestWatch = RequestKind("watch")
)

type (
	Request struct {
		Kind RequestKind `cbor:"kind"`
		// Applet to restart. Only matters for RequestRestart
		Applet string `cbor:"applet,omitempty"`
		// Only report this output. Only matters for RequestOutputs
		TargetOutput string `cbor:"target_output,omitempty"`
	}

	// An output as the panel sees it
	Output struct {
		Name        string `cbor:"name"`
		Description string `cbor:"description,omitempty"`
		// Mode width and height in pixel
		Width  int `cbor:"width"`
		Height int `cbor:"height"`
		// Refresh rate of the mode in millihertz
		RefreshRate int32 `cbor:"refresh"`
		Scale       int32 `cbor:"scale"`
	}

	Response struct {
		// Set when the request failed, the rest is empty then
		Error   string                  `cbor:"error,omitempty"`
		Panels  []container.PanelStatus `cbor:"panels,omitempty"`
		Outputs []Output                `cbor:"outputs,omitempty"`
	}
)

// Path is where the socket of the current session lives
func Path() string {
	return filepath.Join(xdg.RuntimeDir, SocketName)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ipc: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ipc: CBOR decoder initialization failed: " + err.Error())
	}
}
