// Package ui renders the dashboard screens into RGB565 frames. A
// Dashboard is the display pipeline's frame producer; button handlers
// mutate navigation state from their own goroutine. All drawing is
// filled rectangles, block digits and stroked graphs; there is no
// glyph rendering.
package ui

import (
	"image"
	"sync"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/telemetry"
)

// NetInfo describes the network link shown on the network screen.
type NetInfo struct {
	Connected bool
	SSID      string
	IP        string
	Gateway   string
	MAC       string
}

// Config wires the dashboard to its data sources. All funcs are
// optional; missing ones leave their readouts zero.
type Config struct {
	Version string
	// Sample returns the most recent telemetry sample, if any.
	Sample func() (telemetry.Sample, bool)
	// History returns retained samples, oldest first.
	History func() []telemetry.Sample
	Net     func() NetInfo
	// Staged returns the version of a staged firmware image, or "".
	Staged func() string
}

type Dashboard struct {
	cfg     Config
	screens []screen

	mu       sync.Mutex
	themeIdx int
	current  int
}

func New(cfg Config) *Dashboard {
	return &Dashboard{
		cfg: cfg,
		screens: []screen{
			systemScreen{},
			networkScreen{},
			sensorsScreen{},
			powerScreen{},
			aboutScreen{},
		},
	}
}

// RenderInto draws the current screen into img. It implements the
// display pipeline's frame producer.
func (d *Dashboard) RenderInto(img *rgb565.Image) error {
	d.mu.Lock()
	th := themes[d.themeIdx]
	cur := d.current
	d.mu.Unlock()

	data := drawData{version: d.cfg.Version}
	if d.cfg.Sample != nil {
		data.sample, _ = d.cfg.Sample()
	}
	if d.cfg.History != nil {
		data.history = d.cfg.History()
	}
	if d.cfg.Net != nil {
		data.net = d.cfg.Net()
	}
	if d.cfg.Staged != nil {
		data.staged = d.cfg.Staged()
	}

	img.Fill(img.Bounds(), th.Background)
	drawHeader(img, th, cur, len(d.screens), &data)
	d.screens[cur].draw(img, th, &data)
	return nil
}

// drawHeader paints the top band: page chevrons, one dot per screen
// with the current one filled, and the supply indicator on the right.
func drawHeader(img *rgb565.Image, th *Theme, cur, total int, d *drawData) {
	w := img.Bounds().Dx()
	img.Fill(image.Rect(0, 0, w, 20), th.Primary)
	drawChevron(img, 6, 5, true, th.HeaderFG)
	drawChevron(img, w-14, 5, false, th.HeaderFG)
	drawPager(img, (w-(total*10-4))/2, 7, total, cur, th.HeaderFG)
	if d.sample.BatteryMV > 0 {
		drawBatteryIcon(img, image.Rect(w-42, 5, w-22, 15), d.sample.BatteryPct, th.HeaderFG, th.HeaderFG)
	} else {
		drawPlug(img, w-42, 5, 2, th.HeaderFG)
	}
}

// Next advances to the next screen.
func (d *Dashboard) Next() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = (d.current + 1) % len(d.screens)
}

// Prev moves to the previous screen.
func (d *Dashboard) Prev() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = (d.current + len(d.screens) - 1) % len(d.screens)
}

// CycleTheme switches to the next color scheme.
func (d *Dashboard) CycleTheme() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.themeIdx = (d.themeIdx + 1) % len(themes)
}

// Screen returns the index of the screen currently shown.
func (d *Dashboard) Screen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Theme returns the active color scheme.
func (d *Dashboard) Theme() *Theme {
	d.mu.Lock()
	defer d.mu.Unlock()
	return themes[d.themeIdx]
}
