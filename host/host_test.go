package host

import (
	"net"
	"path/filepath"
	"slices"
	"testing"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/loop"
	"github.com/mstarongithub/way2panel/server"
	"github.com/mstarongithub/way2panel/wire"
)

func TestLogicalSizeFollowsScaleAndRotation(t *testing.T) {
	o := &Output{OutputState: OutputState{Mode: geom.Pt(3840, 2160), Scale: 2}}
	if got := o.LogicalSize(); got != geom.Pt(1920, 1080) {
		t.Errorf("Scaled output is %v", got)
	}
	o.Transform = 1
	if got := o.LogicalSize(); got != geom.Pt(1080, 1920) {
		t.Errorf("Rotated output is %v", got)
	}
	o.Scale = 0
	o.Transform = 0
	if got := o.LogicalSize(); got != geom.Pt(3840, 2160) {
		t.Errorf("Output without a scale is %v", got)
	}
}

func TestOutputInfo(t *testing.T) {
	o := &Output{OutputState: OutputState{Name: "DP-1", Make: "Acme", Mode: geom.Pt(1920, 1080), Refresh: 60000, Scale: 1}}
	info := o.Info()
	if info.Name != "DP-1" || info.Size != geom.Pt(1920, 1080) || info.Refresh != 60000 {
		t.Errorf("Info is %+v", info)
	}
}

func TestHeldKeysDecode(t *testing.T) {
	got := keys([]byte{30, 0, 0, 0, 1, 1, 0, 0, 7})
	if !slices.Equal(got, []uint32{30, 257}) {
		t.Errorf("Decoded keys %v", got)
	}
}

func TestArrowCursor(t *testing.T) {
	img := arrow(2)
	if img.Bounds().Dx() != 48 {
		t.Fatalf("Arrow at scale 2 is %v", img.Bounds())
	}
	if a := img.RGBAAt(0, 40).A; a != 0 {
		t.Errorf("Arrow covers its bottom left corner")
	}
	// well inside the arrow head
	if c := img.RGBAAt(6, 16); c.A == 0 || c.R > 0x80 {
		t.Errorf("Arrow body is %v", c)
	}
	// on the outline
	if c := img.RGBAAt(3, 4); c.A == 0 || c.R < 0x80 {
		t.Errorf("Arrow outline is %v", c)
	}
}

// The inner server advertises the same core globals a compositor does,
// so the host client can bind against it
func TestConnectBindsCoreGlobals(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	t.Setenv("WAYLAND_DISPLAY", "wayland-test")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: filepath.Join(dir, "wayland-test"), Net: "unix"})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	inner := loop.New(nil)
	srv := server.New(inner, server.NopHandler{}, server.Features{})
	go func() {
		uc, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		inner.Post(func() { srv.AddClient(wire.NewConn(uc)) })
	}()
	go inner.Run()
	defer inner.Stop()

	h, err := Connect(loop.New(nil), nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()
	if h.compositor == nil || h.shm == nil || h.wmBase == nil || h.dataManager == nil {
		t.Errorf("Core globals missing: compositor %v shm %v wm_base %v data %v", h.compositor != nil, h.shm != nil, h.wmBase != nil, h.dataManager != nil)
	}
	if h.layerShell == nil || h.layerVersion != 4 {
		t.Errorf("Layer shell %v at version %d", h.layerShell != nil, h.layerVersion)
	}
	if f := h.Features(); f.SecurityContext || f.OverlapNotify {
		t.Errorf("Features the server never offered: %+v", f)
	}
}
