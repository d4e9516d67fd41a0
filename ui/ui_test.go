package ui

import (
	"image"
	"testing"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/telemetry"
)

func testSample() telemetry.Sample {
	return telemetry.Sample{
		TS: 1000, Uptime: 3723, State: "idle",
		FPS: 30, FrameMS: 16.5, Frames: 9000, Dropped: 3,
		HeapFree: 180 << 10, CPUPct: 42, TempC: 48.5,
		BatteryMV: 3900, BatteryPct: 80, RSSIDBm: -56,
	}
}

func testDashboard() *Dashboard {
	hist := make([]telemetry.Sample, 0, 30)
	for i := 0; i < 30; i++ {
		s := testSample()
		s.TempC = 40 + float64(i%10)
		s.RSSIDBm = -50 - i%20
		hist = append(hist, s)
	}
	return New(Config{
		Version: "1.2.0",
		Sample:  func() (telemetry.Sample, bool) { return testSample(), true },
		History: func() []telemetry.Sample { return hist },
		Net: func() NetInfo {
			return NetInfo{
				Connected: true,
				SSID:      "shopnet",
				IP:        "192.168.1.70",
				Gateway:   "192.168.1.1",
				MAC:       "a0:b1:c2:d3:e4:f5",
			}
		},
		Staged: func() string { return "1.3.0" },
	})
}

func newFrame() *rgb565.Image {
	return rgb565.New(image.Rect(0, 0, 320, 170))
}

func pixel(img *rgb565.Image, x, y int) rgb565.Color {
	return img.Pix[img.PixOffset(x, y)]
}

func countColor(img *rgb565.Image, c rgb565.Color) int {
	n := 0
	for _, p := range img.Pix {
		if p == c {
			n++
		}
	}
	return n
}

func TestRenderScreens(t *testing.T) {
	d := testDashboard()
	img := newFrame()
	for i := range d.screens {
		if err := d.RenderInto(img); err != nil {
			t.Fatalf("render screen %d: %v", i, err)
		}
		th := d.Theme()
		if got := pixel(img, 2, 2); got != th.Primary {
			t.Errorf("screen %d: header pixel = %04x, want %04x", i, got.Uint16(), th.Primary.Uint16())
		}
		if got := pixel(img, 2, 165); got != th.Background {
			t.Errorf("screen %d: margin pixel = %04x, want background", i, got.Uint16())
		}
		d.Next()
	}
	if d.Screen() != 0 {
		t.Fatalf("after full cycle: screen = %d, want 0", d.Screen())
	}
}

func TestRenderZeroConfig(t *testing.T) {
	d := New(Config{})
	img := newFrame()
	for range d.screens {
		if err := d.RenderInto(img); err != nil {
			t.Fatal(err)
		}
		d.Next()
	}
}

func TestPrevWraps(t *testing.T) {
	d := testDashboard()
	d.Prev()
	if got := d.Screen(); got != 4 {
		t.Fatalf("Prev from 0: screen = %d, want 4", got)
	}
	d.Next()
	if got := d.Screen(); got != 0 {
		t.Fatalf("Next after Prev: screen = %d, want 0", got)
	}
}

func TestPagerMarksCurrent(t *testing.T) {
	d := testDashboard()
	img := newFrame()
	th := d.Theme()
	// Dot 0 spans x 137..142 at y 7..12; its center is filled only
	// while screen 0 is shown.
	if err := d.RenderInto(img); err != nil {
		t.Fatal(err)
	}
	if got := pixel(img, 140, 10); got != th.HeaderFG {
		t.Fatalf("dot 0 center = %04x, want filled", got.Uint16())
	}
	d.Next()
	if err := d.RenderInto(img); err != nil {
		t.Fatal(err)
	}
	if got := pixel(img, 140, 10); got != th.Primary {
		t.Fatalf("dot 0 center after Next = %04x, want hollow", got.Uint16())
	}
	if got := pixel(img, 150, 10); got != th.HeaderFG {
		t.Fatalf("dot 1 center = %04x, want filled", got.Uint16())
	}
}

func TestThemeCycle(t *testing.T) {
	d := testDashboard()
	img := newFrame()
	if err := d.RenderInto(img); err != nil {
		t.Fatal(err)
	}
	if got := pixel(img, 2, 10); got != themes[0].Primary {
		t.Fatalf("initial header = %04x, want Dark primary", got.Uint16())
	}
	d.CycleTheme()
	if err := d.RenderInto(img); err != nil {
		t.Fatal(err)
	}
	if got := pixel(img, 2, 10); got != themes[1].Primary {
		t.Fatalf("after cycle: header = %04x, want High Contrast primary", got.Uint16())
	}
	d.CycleTheme()
	if got := d.Theme().Name; got != "Dark" {
		t.Fatalf("after full cycle: theme = %q, want Dark", got)
	}
}

func TestDrawDigit(t *testing.T) {
	c := rgb565.FromUint16(0xffff)
	img := rgb565.New(image.Rect(0, 0, 10, 12))
	// Digit 8 lights every segment of the 6x10 cell.
	drawDigit(img, 0, 0, 2, segDigits[8], c)
	for _, p := range []image.Point{{3, 0}, {5, 1}, {0, 5}, {3, 5}, {0, 9}, {5, 9}} {
		if got := pixel(img, p.X, p.Y); got != c {
			t.Fatalf("digit 8: pixel %v = %04x, want lit", p, got.Uint16())
		}
	}

	// Digit 1 is only the right bar.
	img = rgb565.New(image.Rect(0, 0, 10, 12))
	drawDigit(img, 0, 0, 2, segDigits[1], c)
	if got := pixel(img, 5, 5); got != c {
		t.Fatalf("digit 1: right bar = %04x, want lit", got.Uint16())
	}
	for _, p := range []image.Point{{1, 1}, {1, 5}, {1, 9}, {3, 5}} {
		if got := pixel(img, p.X, p.Y); got != (rgb565.Color{}) {
			t.Fatalf("digit 1: pixel %v = %04x, want dark", p, got.Uint16())
		}
	}
}

func TestDrawNumber(t *testing.T) {
	c := rgb565.FromUint16(0x07e0)
	img := rgb565.New(image.Rect(0, 0, 100, 20))
	w := drawNumber(img, 2, 2, 2, "-12.5", c)
	if want := numberWidth(2, "-12.5"); w != want {
		t.Fatalf("drawNumber width = %d, numberWidth = %d", w, want)
	}
	// The minus sign sits on the middle row.
	if got := pixel(img, 3, 6); got != c {
		t.Fatalf("minus = %04x, want lit", got.Uint16())
	}
	if countColor(img, c) == 0 {
		t.Fatal("nothing drawn")
	}
	// Unknown runes advance without drawing.
	img = rgb565.New(image.Rect(0, 0, 100, 20))
	if got := drawNumber(img, 0, 0, 2, "x", c); got != 8 {
		t.Fatalf("blank advance = %d, want 8", got)
	}
	if countColor(img, c) != 0 {
		t.Fatal("blank cell drew pixels")
	}
}

func TestStrokeRect(t *testing.T) {
	c := rgb565.FromUint16(0xffff)
	img := rgb565.New(image.Rect(0, 0, 20, 20))
	strokeRect(img, image.Rect(2, 3, 12, 13), c)
	for _, p := range []image.Point{{2, 3}, {11, 3}, {2, 12}, {11, 12}, {6, 3}, {2, 8}} {
		if got := pixel(img, p.X, p.Y); got != c {
			t.Fatalf("edge %v = %04x, want stroke color", p, got.Uint16())
		}
	}
	if got := pixel(img, 6, 8); got != (rgb565.Color{}) {
		t.Fatalf("interior painted: %04x", got.Uint16())
	}
}

func TestDrawBar(t *testing.T) {
	th := themes[0]
	img := rgb565.New(image.Rect(0, 0, 120, 20))
	r := image.Rect(10, 5, 112, 15)
	drawBar(img, th, r, 50, th.Info)
	if got := pixel(img, 10, 5); got != th.Border {
		t.Fatalf("border = %04x, want %04x", got.Uint16(), th.Border.Uint16())
	}
	if got := pixel(img, 12, 10); got != th.Info {
		t.Fatalf("filled half = %04x, want fill", got.Uint16())
	}
	if got := pixel(img, 100, 10); got != (rgb565.Color{}) {
		t.Fatalf("empty half = %04x, want untouched", got.Uint16())
	}
	drawBar(img, th, r, 150, th.Info)
	if got := pixel(img, 110, 10); got != th.Info {
		t.Fatalf("clamped fill = %04x, want fill", got.Uint16())
	}
}

func TestBatteryIcon(t *testing.T) {
	outline := rgb565.FromUint16(0xffff)
	fill := rgb565.FromUint16(0x07e0)
	img := rgb565.New(image.Rect(0, 0, 50, 20))
	r := image.Rect(0, 0, 40, 14)
	drawBatteryIcon(img, r, 50, outline, fill)
	if got := pixel(img, 0, 7); got != outline {
		t.Fatalf("outline = %04x", got.Uint16())
	}
	if got := pixel(img, 41, 7); got != outline {
		t.Fatalf("nub = %04x, want outline", got.Uint16())
	}
	if got := pixel(img, 10, 7); got != fill {
		t.Fatalf("filled half = %04x, want fill", got.Uint16())
	}
	if got := pixel(img, 30, 7); got != (rgb565.Color{}) {
		t.Fatalf("empty half = %04x, want dark", got.Uint16())
	}
	drawBatteryIcon(img, r, 150, outline, fill)
	if got := pixel(img, 35, 7); got != fill {
		t.Fatalf("clamped fill = %04x, want fill", got.Uint16())
	}
}

func TestLineGraph(t *testing.T) {
	line := rgb565.FromUint16(0x07e0)
	grid := rgb565.FromUint16(0x4208)
	img := rgb565.New(image.Rect(0, 0, 100, 40))
	g := LineGraph{Rect: image.Rect(5, 5, 95, 35), AutoScale: true, Line: line, Grid: grid}

	// No data draws the grid and nothing else.
	g.Draw(img, nil)
	if countColor(img, grid) == 0 {
		t.Fatal("no grid lines drawn")
	}
	for i, p := range img.Pix {
		if p != (rgb565.Color{}) && p != grid {
			t.Fatalf("stray pixel %04x at %d with no data", p.Uint16(), i)
		}
	}

	vals := make([]float64, 30)
	for i := range vals {
		vals[i] = float64(i % 7)
	}
	g.Draw(img, vals)
	changed := 0
	for _, p := range img.Pix {
		if p != (rgb565.Color{}) && p != grid {
			changed++
		}
	}
	if changed == 0 {
		t.Fatal("no line pixels drawn")
	}

	// A flat series must not divide by zero.
	g.Draw(img, []float64{5, 5, 5})
}
