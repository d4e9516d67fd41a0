package viewport

import (
	"errors"
	"image"
	"testing"
)

func TestMapUnmapRoundtrip(t *testing.T) {
	for flags := 0; flags < 8; flags++ {
		cfg := Config{
			Width: 12, Height: 7,
			SwapXY:  flags&1 != 0,
			MirrorX: flags&2 != 0,
			MirrorY: flags&4 != 0,
			GapX:    3, GapY: 5,
			MemWidth: 20, MemHeight: 20,
		}
		m, err := New(cfg)
		if err != nil {
			t.Fatalf("flags %03b: %v", flags, err)
		}
		for y0 := 0; y0 < cfg.Height; y0++ {
			for x0 := 0; x0 < cfg.Width; x0++ {
				for y1 := y0 + 1; y1 <= cfg.Height; y1++ {
					for x1 := x0 + 1; x1 <= cfg.Width; x1++ {
						r := image.Rect(x0, y0, x1, y1)
						cols, rows, err := m.Map(r)
						if err != nil {
							t.Fatalf("flags %03b: Map(%v): %v", flags, r, err)
						}
						if got := m.Unmap(cols, rows); got != r {
							t.Fatalf("flags %03b: Unmap(Map(%v)) = %v", flags, r, got)
						}
					}
				}
			}
		}
	}
}

func TestFullWindowContained(t *testing.T) {
	for flags := 0; flags < 8; flags++ {
		cfg := Config{
			Width: 320, Height: 170,
			SwapXY:  flags&1 != 0,
			MirrorX: flags&2 != 0,
			MirrorY: flags&4 != 0,
			GapY:    35,
			MemWidth: 355, MemHeight: 355,
		}
		m, err := New(cfg)
		if err != nil {
			t.Fatalf("flags %03b: %v", flags, err)
		}
		cols, rows, err := m.Map(m.Bounds())
		if err != nil {
			t.Fatalf("flags %03b: %v", flags, err)
		}
		if cols.Start < 0 || cols.End >= cfg.MemWidth || rows.Start < 0 || rows.End >= cfg.MemHeight {
			t.Errorf("flags %03b: window cols %v rows %v outside %dx%d",
				flags, cols, rows, cfg.MemWidth, cfg.MemHeight)
		}
		if cols.Start > cols.End || rows.Start > rows.End {
			t.Errorf("flags %03b: inverted window cols %v rows %v", flags, cols, rows)
		}
	}
}

func TestLandscapePanel(t *testing.T) {
	// 320x170 landscape panel with the visible rows offset by 35 inside
	// the controller memory.
	cfg := Config{
		Width: 320, Height: 170,
		SwapXY: true, MirrorY: true,
		GapY:     35,
		MemWidth: 240, MemHeight: 360,
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	cols, rows, err := m.Map(m.Bounds())
	if err != nil {
		t.Fatal(err)
	}
	if cols != (Span{0, 169}) {
		t.Errorf("columns: got %v, want 0-169", cols)
	}
	if rows != (Span{35, 354}) {
		t.Errorf("rows: got %v, want 35-354", rows)
	}

	// A single pixel: swap exchanges the axes, the row mirror counts the
	// long axis from the far end, then the gap shifts the rows.
	cols, rows, err = m.Map(image.Rect(10, 20, 11, 21))
	if err != nil {
		t.Fatal(err)
	}
	if cols != (Span{20, 20}) {
		t.Errorf("pixel columns: got %v, want 20", cols)
	}
	if want := 320 - 1 - 10 + 35; rows != (Span{want, want}) {
		t.Errorf("pixel rows: got %v, want %d", rows, want)
	}
}

func TestMapRejects(t *testing.T) {
	m, err := New(Config{Width: 10, Height: 10, MemWidth: 16, MemHeight: 16})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Map(image.Rect(0, 0, 0, 0)); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty rect: got %v", err)
	}
	if _, _, err := m.Map(image.Rect(4, 4, 11, 8)); !errors.Is(err, ErrBounds) {
		t.Errorf("out of bounds rect: got %v", err)
	}
	if _, _, err := m.Map(image.Rect(-1, 0, 4, 4)); !errors.Is(err, ErrBounds) {
		t.Errorf("negative rect: got %v", err)
	}
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero size", Config{Width: 0, Height: 10, MemWidth: 16, MemHeight: 16}},
		{"negative gap", Config{Width: 4, Height: 4, GapX: -1, MemWidth: 16, MemHeight: 16}},
		{"area exceeds memory", Config{Width: 100, Height: 100, MemWidth: 32, MemHeight: 32}},
		{"gap pushes window out", Config{Width: 10, Height: 10, GapX: 8, MemWidth: 16, MemHeight: 16}},
		{"swap exceeds memory", Config{Width: 20, Height: 10, SwapXY: true, MemWidth: 16, MemHeight: 16}},
	}
	for _, test := range tests {
		if _, err := New(test.cfg); err == nil {
			t.Errorf("%s: config accepted", test.name)
		}
	}
}
