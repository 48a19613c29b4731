// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package layout places applet windows along a panel.
// Applets are split into three bands. A band that does not fit first
// shrinks applets that allow it and then moves the rest into the band's
// overflow space behind a single button.
// All sizes are logical pixels.
package layout

import (
	"fmt"
	"math"
	"sort"

	"deedles.dev/ximage/geom"
	"github.com/mstarongithub/way2panel/config"
)

type Band int

const (
	BandLeft = Band(iota)
	BandCenter
	BandRight
)

func (b Band) String() string {
	switch b {
	case BandLeft:
		return "left"
	case BandCenter:
		return "center"
	case BandRight:
		return "right"
	}
	return fmt.Sprintf("Band(%d)", int(b))
}

// Columns of an overflow space grid
const OverflowColumns = 8

// ErrResizing means the panel needs a different size before the layout can be applied
type ErrResizing struct {
	Size geom.Point[int]
}

func (e *ErrResizing) Error() string {
	return fmt.Sprintf("resizing list to %dx%d", e.Size.X, e.Size.Y)
}

// Applet is one mapped applet window as the layout sees it
type Applet struct {
	ID   string
	Band Band
	// Size is what the applet currently shows
	Size geom.Point[int]
	// MinUnits enables shrinking down to that many unit sizes. Zero means the applet can only move
	MinUnits    uint32
	Priority    uint32
	HasPriority bool
}

func (a Applet) priority() int64 {
	if !a.HasPriority {
		return -1
	}
	return int64(a.Priority)
}

type Params struct {
	Horizontal bool
	// MaxLength is the major extent the output allows
	MaxLength int
	// Current are the dimensions the host last configured
	Current geom.Point[int]
	Padding int
	Spacing int
	Gap     int
	// NearGap is set when the gap lies at the origin, for top and left anchors
	NearGap bool
	Size    config.Size
	Expand  bool
}

// ParamsFor derives layout parameters from a panel config
func ParamsFor(cfg *config.PanelConfig, maxLength int, current geom.Point[int]) Params {
	return Params{
		Horizontal: cfg.IsHorizontal(),
		MaxLength:  maxLength,
		Current:    current,
		Padding:    int(cfg.Padding),
		Spacing:    int(cfg.Spacing),
		Gap:        cfg.Gap(),
		NearGap:    cfg.Anchor == config.AnchorTop || cfg.Anchor == config.AnchorLeft,
		Size:       cfg.Size,
		Expand:     cfg.ExpandToEdges,
	}
}

// Configure asks an applet for a new size. A zero size lets the applet choose
type Configure struct {
	ID   string
	Size geom.Point[int]
}

type Slot struct {
	ID   string
	Rect geom.Rect[int]
}

type Result struct {
	// Placed holds panel local rectangles of applets shown on the panel
	Placed map[string]geom.Rect[int]
	// Overflow holds applets moved into each band's overflow space, in grid order
	Overflow map[Band][]Slot
	// Buttons are the overflow buttons of bands that have overflow
	Buttons map[Band]geom.Rect[int]
	// Unmapped applets fit nowhere this pass
	Unmapped   []string
	Configures []Configure
	// Actual is the extent covered by content, Dimensions adds the gap
	Actual     geom.Point[int]
	Dimensions geom.Point[int]
}

// Contains reports where an applet ended up
func (r *Result) Contains(id string) (onPanel, inOverflow, unmapped bool) {
	_, onPanel = r.Placed[id]
	for _, slots := range r.Overflow {
		for _, s := range slots {
			inOverflow = inOverflow || s.ID == id
		}
	}
	for _, u := range r.Unmapped {
		unmapped = unmapped || u == id
	}
	return
}

// Engine remembers the natural size of every applet so that shrinks and
// moves can be undone once there is room again
type Engine struct {
	natural map[string]geom.Point[int]
	// size last sent to the applet, zero when unconstrained
	sent map[string]geom.Point[int]
	// constrained size of applets released this round, until they commit something else
	stale map[string]geom.Point[int]
}

func NewEngine() *Engine {
	return &Engine{
		natural: map[string]geom.Point[int]{},
		sent:    map[string]geom.Point[int]{},
		stale:   map[string]geom.Point[int]{},
	}
}

// Forget drops everything known about an applet
func (e *Engine) Forget(id string) {
	delete(e.natural, id)
	delete(e.sent, id)
	delete(e.stale, id)
}

// Natural is the size an applet shows when unconstrained
func (e *Engine) Natural(id string) (geom.Point[int], bool) {
	n, ok := e.natural[id]
	return n, ok
}

func (e *Engine) learn(a Applet) {
	if !e.sent[a.ID].IsZero() {
		return
	}
	if s, ok := e.stale[a.ID]; ok {
		if s == a.Size {
			return
		}
		delete(e.stale, a.ID)
	}
	if a.Size.X > 0 && a.Size.Y > 0 {
		e.natural[a.ID] = a.Size
	} else if _, ok := e.natural[a.ID]; !ok {
		e.natural[a.ID] = a.Size
	}
}

type item struct {
	Applet
	major, cross int
	natural      int
	overflow     bool
}

type band struct {
	items  []*item
	target int
}

func (b *band) shown() []*item {
	var out []*item
	for _, it := range b.items {
		if !it.overflow {
			out = append(out, it)
		}
	}
	return out
}

func (b *band) hasOverflow() bool {
	for _, it := range b.items {
		if it.overflow {
			return true
		}
	}
	return false
}

// length is the band content without padding
func (b *band) length(spacing, unit int) int {
	n := 0
	sum := 0
	for _, it := range b.items {
		if it.overflow {
			continue
		}
		sum += it.major
		n++
	}
	if b.hasOverflow() {
		sum += unit
		n++
	}
	if n > 1 {
		sum += spacing * (n - 1)
	}
	return sum
}

func (e *Engine) axes(p Params, s geom.Point[int]) (major, cross int) {
	if p.Horizontal {
		return s.X, s.Y
	}
	return s.Y, s.X
}

func (e *Engine) point(p Params, major, cross int) geom.Point[int] {
	if p.Horizontal {
		return geom.Pt(major, cross)
	}
	return geom.Pt(cross, major)
}

// Layout computes a full placement. When the panel needs new dimensions
// the returned error is *ErrResizing; the Result is still complete and its
// Configures should be sent, but nothing should be placed until the host
// has configured the new size.
func (e *Engine) Layout(p Params, applets []Applet) (Result, error) {
	unit := p.Size.UnitSize()
	lo, hi := p.Size.ThicknessRange()
	maxCross := hi - 1 - 2*p.Padding
	res := Result{
		Placed:   map[string]geom.Rect[int]{},
		Overflow: map[Band][]Slot{},
		Buttons:  map[Band]geom.Rect[int]{},
	}

	seen := map[string]bool{}
	var bands [3]band
	for _, a := range applets {
		seen[a.ID] = true
		e.learn(a)
		major, cross := e.axes(p, e.natural[a.ID])
		if cross > maxCross {
			res.Unmapped = append(res.Unmapped, a.ID)
			continue
		}
		if a.Band < BandLeft || a.Band > BandRight {
			a.Band = BandCenter
		}
		bands[a.Band].items = append(bands[a.Band].items, &item{Applet: a, major: major, cross: cross, natural: major})
	}
	for id := range e.natural {
		if !seen[id] {
			e.Forget(id)
		}
	}

	e.targets(p, &bands, unit)
	for b := range bands {
		res.Unmapped = append(res.Unmapped, e.fit(p, &bands[b], unit)...)
	}
	if !p.Expand {
		res.Unmapped = append(res.Unmapped, e.squeeze(p, &bands, unit)...)
	}
	e.place(p, &bands, unit, lo, hi, &res)

	for b := range bands {
		for _, it := range bands[b].items {
			var want geom.Point[int]
			switch {
			case it.overflow:
				want = geom.Pt(unit, unit)
			case it.major != it.natural:
				want = e.point(p, it.major, it.cross)
			}
			e.send(it.ID, want, &res)
		}
	}
	// unmapped applets get their own size back so they can be retried
	for _, id := range res.Unmapped {
		e.send(id, geom.Point[int]{}, &res)
	}

	if res.Dimensions != p.Current {
		return res, &ErrResizing{Size: res.Dimensions}
	}
	return res, nil
}

func (e *Engine) send(id string, want geom.Point[int], res *Result) {
	prev := e.sent[id]
	if prev == want {
		return
	}
	if want.IsZero() {
		delete(e.sent, id)
		e.stale[id] = prev
	} else {
		e.sent[id] = want
		delete(e.stale, id)
	}
	res.Configures = append(res.Configures, Configure{ID: id, Size: want})
}

func need(b *band, p Params, unit int) int {
	return b.length(p.Spacing, unit) + 2*p.Padding
}

func (e *Engine) targets(p Params, bands *[3]band, unit int) {
	l := p.MaxLength
	left, center, right := &bands[BandLeft], &bands[BandCenter], &bands[BandRight]
	wings := len(left.items) > 0 || len(right.items) > 0
	switch {
	case len(center.items) == 0:
		// each wing owns half the panel even when the other one is empty
		left.target, right.target = l/2, l/2
	case !wings:
		center.target = l
	default:
		third := l / 3
		wing := max(need(left, p, unit), need(right, p, unit))
		center.target = clamp(l-2*p.Spacing-2*wing, third, l)
		side := max(l/2-min(center.target, need(center, p, unit))/2, third)
		left.target, right.target = side, side
	}
}

// fit shrinks and then moves applets until the band fits its target.
// Shrinkable applets that still do not fit at their minimum are unmapped
// and returned
func (e *Engine) fit(p Params, b *band, unit int) []string {
	if need(b, p, unit) <= b.target {
		return nil
	}

	var unmapped []string
	var shrinkable, movable []*item
	for _, it := range b.items {
		switch {
		case it.overflow:
		case it.MinUnits > 0:
			shrinkable = append(shrinkable, it)
		default:
			movable = append(movable, it)
		}
	}
	byPriority := func(items []*item) {
		sort.SliceStable(items, func(i, j int) bool { return items[i].priority() > items[j].priority() })
	}
	byPriority(shrinkable)
	byPriority(movable)

	drop := func(it *item) {
		unmapped = append(unmapped, it.ID)
		b.items = removeItem(b.items, it)
	}
	for _, it := range shrinkable {
		if int(it.MinUnits)*unit+2*p.Padding > b.target {
			drop(it)
		}
	}
	for _, it := range shrinkable {
		over := need(b, p, unit) - b.target
		if over <= 0 {
			break
		}
		if !containsItem(b.items, it) {
			continue
		}
		if shed := min(over, it.major-int(it.MinUnits)*unit); shed > 0 {
			it.major -= shed
		}
	}

	// lowest priority leaves first, later entries before earlier ones on ties
	for i := len(movable) - 1; i >= 0 && need(b, p, unit) > b.target; i-- {
		movable[i].overflow = true
	}
	for i := len(shrinkable) - 1; i >= 0 && need(b, p, unit) > b.target; i-- {
		if containsItem(b.items, shrinkable[i]) {
			drop(shrinkable[i])
		}
	}
	return unmapped
}

// squeeze lowers band targets until a docked panel fits the output
func (e *Engine) squeeze(p Params, bands *[3]band, unit int) []string {
	var unmapped []string
	for {
		excess := dockLength(p, bands, unit) - p.MaxLength
		if excess <= 0 {
			return unmapped
		}
		widest := &bands[0]
		for i := range bands {
			if bands[i].length(p.Spacing, unit) > widest.length(p.Spacing, unit) {
				widest = &bands[i]
			}
		}
		before := need(widest, p, unit)
		widest.target = before - excess
		unmapped = append(unmapped, e.fit(p, widest, unit)...)
		if need(widest, p, unit) >= before {
			return unmapped
		}
	}
}

func dockLength(p Params, bands *[3]band, unit int) int {
	length := 2 * p.Padding
	nonEmpty := 0
	for i := range bands {
		if l := bands[i].length(p.Spacing, unit); l > 0 {
			length += l
			nonEmpty++
		}
	}
	if nonEmpty > 1 {
		length += p.Spacing * (nonEmpty - 1)
	}
	return length
}

func (e *Engine) place(p Params, bands *[3]band, unit, lo, hi int, res *Result) {
	var lengths [3]int
	maxCross := 0
	for i := range bands {
		b := &bands[i]
		lengths[i] = b.length(p.Spacing, unit)
		for _, it := range b.shown() {
			maxCross = max(maxCross, it.cross)
		}
		if b.hasOverflow() {
			maxCross = max(maxCross, min(unit, hi-1-2*p.Padding))
		}
	}
	thickness := clamp(maxCross+2*p.Padding, lo, hi-1)

	length := p.MaxLength
	if !p.Expand {
		length = min(dockLength(p, bands, unit), p.MaxLength)
	}
	res.Actual = e.point(p, length, thickness)
	res.Dimensions = e.point(p, length, thickness+p.Gap)

	crossBase := 0
	if p.NearGap {
		crossBase = p.Gap
	}
	rect := func(pos, major, cross int) geom.Rect[int] {
		c := crossBase + (thickness-cross)/2
		if p.Horizontal {
			return geom.Rt(pos, c, pos+major, c+cross)
		}
		return geom.Rt(c, pos, c+cross, pos+major)
	}

	var starts [3]int
	starts[BandLeft] = p.Padding
	if p.Expand {
		starts[BandCenter] = length/2 - lengths[BandCenter]/2
	} else {
		starts[BandCenter] = p.Padding + lengths[BandLeft]
		if lengths[BandLeft] > 0 {
			starts[BandCenter] += p.Spacing
		}
	}
	starts[BandRight] = length - p.Padding - lengths[BandRight]

	for i := range bands {
		b := &bands[i]
		pos := starts[i]
		for _, it := range b.shown() {
			res.Placed[it.ID] = rect(pos, it.major, it.cross)
			pos += it.major + p.Spacing
		}
		if !b.hasOverflow() {
			continue
		}
		bc := min(unit, thickness)
		res.Buttons[Band(i)] = rect(pos, unit, bc)
		slot := 0
		for _, it := range b.items {
			if !it.overflow {
				continue
			}
			x, y := (slot%OverflowColumns)*unit, (slot/OverflowColumns)*unit
			res.Overflow[Band(i)] = append(res.Overflow[Band(i)], Slot{ID: it.ID, Rect: geom.Rt(x, y, x+unit, y+unit)})
			slot++
		}
	}
}

// OverflowSize is the extent of an overflow space holding n applets
func OverflowSize(n, unit int) geom.Point[int] {
	if n == 0 {
		return geom.Point[int]{}
	}
	cols := min(n, OverflowColumns)
	rows := (n + OverflowColumns - 1) / OverflowColumns
	return geom.Pt(cols*unit, rows*unit)
}

// Physical converts a logical length, rounding half to even
func Physical(v int, scale float64) int {
	return int(math.RoundToEven(float64(v) * scale))
}

// PhysicalRect scales a logical rectangle to buffer pixels
func PhysicalRect(r geom.Rect[int], scale float64) geom.Rect[int] {
	return geom.Rt(Physical(r.Min.X, scale), Physical(r.Min.Y, scale), Physical(r.Max.X, scale), Physical(r.Max.Y, scale))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func removeItem(items []*item, it *item) []*item {
	for i, v := range items {
		if v == it {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}

func containsItem(items []*item, it *item) bool {
	for _, v := range items {
		if v == it {
			return true
		}
	}
	return false
}
