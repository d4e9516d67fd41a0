// Package viewport maps logical frame coordinates to controller column and
// row address ranges. Panels are frequently rotated, mirrored or wired with
// their visible area offset inside the controller's addressable memory;
// every window address the bus sends goes through this transform.
package viewport

import (
	"errors"
	"fmt"
	"image"
)

var (
	ErrBounds = errors.New("viewport: rectangle outside visible bounds")
	ErrEmpty  = errors.New("viewport: empty rectangle")
)

// Span is an inclusive address range on one controller axis, as consumed by
// the column and row address commands.
type Span struct {
	Start, End int
}

func (s Span) Count() int {
	return s.End - s.Start + 1
}

// Config describes a panel's geometry. Width and Height are the visible
// area in logical orientation. SwapXY exchanges the axes before mirroring.
// MirrorX and MirrorY flip the controller column and row axes. GapX and
// GapY shift the window into the controller's memory; both are in
// controller space, applied after swap and mirror. MemWidth and MemHeight
// bound the controller's addressable memory.
//
// Mirror flags and color order vary between panel revisions that are
// otherwise identical; treat them as per-unit calibration values.
type Config struct {
	Width, Height       int
	SwapXY              bool
	MirrorX, MirrorY    bool
	GapX, GapY          int
	MemWidth, MemHeight int
}

// Mapper is an immutable, validated transform from logical rectangles to
// controller address windows.
type Mapper struct {
	cfg Config
}

func New(cfg Config) (*Mapper, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("viewport: invalid visible area %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.GapX < 0 || cfg.GapY < 0 {
		return nil, fmt.Errorf("viewport: negative gap (%d, %d)", cfg.GapX, cfg.GapY)
	}
	if cfg.Width*cfg.Height > cfg.MemWidth*cfg.MemHeight {
		return nil, fmt.Errorf("viewport: visible area %dx%d exceeds addressable memory %dx%d",
			cfg.Width, cfg.Height, cfg.MemWidth, cfg.MemHeight)
	}
	cw, rh := cfg.Width, cfg.Height
	if cfg.SwapXY {
		cw, rh = rh, cw
	}
	if cw+cfg.GapX > cfg.MemWidth || rh+cfg.GapY > cfg.MemHeight {
		return nil, fmt.Errorf("viewport: window %dx%d at gap (%d, %d) exceeds addressable memory %dx%d",
			cw, rh, cfg.GapX, cfg.GapY, cfg.MemWidth, cfg.MemHeight)
	}
	return &Mapper{cfg: cfg}, nil
}

func (m *Mapper) Config() Config {
	return m.cfg
}

// Bounds is the visible area in logical coordinates.
func (m *Mapper) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.cfg.Width, m.cfg.Height)
}

// Map transforms a logical rectangle into the controller column and row
// spans addressing it. The transform applies axis swap, then mirroring,
// then the gap offsets. Rectangles outside the visible bounds are rejected
// before any window command can be generated from them.
func (m *Mapper) Map(r image.Rectangle) (cols, rows Span, err error) {
	if r.Empty() {
		return Span{}, Span{}, ErrEmpty
	}
	if !r.In(m.Bounds()) {
		return Span{}, Span{}, fmt.Errorf("%w: %v", ErrBounds, r)
	}
	cw, rh := m.cfg.Width, m.cfg.Height
	if m.cfg.SwapXY {
		r = image.Rect(r.Min.Y, r.Min.X, r.Max.Y, r.Max.X)
		cw, rh = rh, cw
	}
	if m.cfg.MirrorX {
		r.Min.X, r.Max.X = cw-r.Max.X, cw-r.Min.X
	}
	if m.cfg.MirrorY {
		r.Min.Y, r.Max.Y = rh-r.Max.Y, rh-r.Min.Y
	}
	cols = Span{Start: r.Min.X + m.cfg.GapX, End: r.Max.X - 1 + m.cfg.GapX}
	rows = Span{Start: r.Min.Y + m.cfg.GapY, End: r.Max.Y - 1 + m.cfg.GapY}
	return cols, rows, nil
}

// Unmap inverts Map: the logical rectangle whose window is (cols, rows).
func (m *Mapper) Unmap(cols, rows Span) image.Rectangle {
	r := image.Rect(cols.Start-m.cfg.GapX, rows.Start-m.cfg.GapY,
		cols.End+1-m.cfg.GapX, rows.End+1-m.cfg.GapY)
	cw, rh := m.cfg.Width, m.cfg.Height
	if m.cfg.SwapXY {
		cw, rh = rh, cw
	}
	if m.cfg.MirrorX {
		r.Min.X, r.Max.X = cw-r.Max.X, cw-r.Min.X
	}
	if m.cfg.MirrorY {
		r.Min.Y, r.Max.Y = rh-r.Max.Y, rh-r.Min.Y
	}
	if m.cfg.SwapXY {
		r = image.Rect(r.Min.Y, r.Min.X, r.Max.Y, r.Max.X)
	}
	return r
}
