package space

import (
	"image"
	"time"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/server"
)

// Buffer is one swapchain slot handed out for drawing
type Buffer struct {
	Image *image.RGBA
	// Age counts presents since this slot was last shown, 0 when its content is undefined
	Age int
}

// Surface is a host surface a space draws into
type Surface interface {
	// Acquire returns a free slot of size physical pixels
	Acquire(size geom.Point[int]) (*Buffer, error)
	// Present attaches buf, damages the given physical rects, asks for a
	// frame callback and commits
	Present(buf *Buffer, damage []geom.Rect[int]) error
	// SetScale maps a buffer at scale onto logical pixels
	SetScale(scale float64, logical geom.Point[int])
	// SetInputRegion limits pointer input to r, logical. An empty r accepts none
	SetInputRegion(r geom.Rect[int])
	Destroy()
}

// Layer is a host layer surface
type Layer interface {
	Surface
	// Configure sends st and commits without a new buffer
	Configure(st server.LayerState)
	Ack(serial uint32)
	// NewPopup creates a host popup under parent, or under the layer surface when parent is nil
	NewPopup(parent Popup, p Placement) (Popup, error)
}

// Popup is a host xdg popup
type Popup interface {
	Surface
	Ack(serial uint32)
	Reposition(p Placement, token uint32)
	Grab(seat string, serial uint32)
}

// Placement positions a host popup relative to its parent surface, logical
type Placement struct {
	Size                 geom.Point[int]
	AnchorRect           geom.Rect[int]
	Anchor               uint32
	Gravity              uint32
	ConstraintAdjustment uint32
	Offset               geom.Point[int]
	Reactive             bool
}

// Host creates host surfaces for a space
type Host interface {
	// NewLayer creates a layer surface on output with the initial state st
	NewLayer(output, namespace string, st server.LayerState) (Layer, error)
}

// Command is work a space hands back to whoever drives it
type Command interface{ isCommand() }

// ScheduleFrame asks for another Frame call after a delay
type ScheduleFrame struct{ After time.Duration }

// Destroy asks for the space to be torn down
type Destroy struct{ Reason string }

func (ScheduleFrame) isCommand() {}
func (Destroy) isCommand()       {}
