package ui

import (
	"fmt"
	"image"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/telemetry"
)

type drawData struct {
	sample  telemetry.Sample
	history []telemetry.Sample
	net     NetInfo
	version string
	staged  string
}

type screen interface {
	draw(img *rgb565.Image, th *Theme, d *drawData)
}

// systemScreen shows load, free heap and render health in four cards.
type systemScreen struct{}

func (systemScreen) draw(img *rgb565.Image, th *Theme, d *drawData) {
	s := d.sample

	// CPU load with gauge.
	drawCard(img, th, image.Rect(10, 25, 155, 90), th.Info)
	drawNumber(img, 20, 36, 4, fmt.Sprintf("%.0f", s.CPUPct), th.Accent)
	drawBar(img, th, image.Rect(18, 70, 147, 82), int(s.CPUPct), th.Info)

	// Free heap, KiB.
	drawCard(img, th, image.Rect(165, 25, 310, 90), th.Secondary)
	drawNumber(img, 175, 36, 4, fmt.Sprintf("%d", s.HeapFree/1024), th.Accent)

	// Frame rate against the 60 Hz target.
	drawCard(img, th, image.Rect(10, 95, 155, 160), th.Success)
	drawNumber(img, 20, 106, 4, fmt.Sprintf("%.0f", s.FPS), th.Accent)
	drawBar(img, th, image.Rect(18, 140, 147, 152), int(min(s.FPS, 60)*100/60), th.Success)

	// Frame time and dropped frames.
	drawCard(img, th, image.Rect(165, 95, 310, 160), th.Warning)
	drawNumber(img, 175, 106, 3, fmt.Sprintf("%.1f", s.FrameMS), th.Text)
	drawNumber(img, 175, 132, 2, fmt.Sprintf("%d", s.Dropped), th.TextDim)
}

// networkScreen shows link state, signal strength and its history.
type networkScreen struct{}

func (networkScreen) draw(img *rgb565.Image, th *Theme, d *drawData) {
	s := d.sample
	linkColor := th.Error
	if d.net.Connected {
		linkColor = th.Success
	}
	drawCard(img, th, image.Rect(10, 25, 310, 80), linkColor)
	drawSignalBars(img, image.Rect(25, 38, 73, 72), rssiBars(s.RSSIDBm), linkColor, th.Border)
	drawNumber(img, 95, 38, 4, fmt.Sprintf("%d", s.RSSIDBm), th.Text)

	drawCard(img, th, image.Rect(10, 85, 310, 160), th.Info)
	g := LineGraph{
		Rect:      image.Rect(18, 95, 302, 152),
		AutoScale: true,
		Line:      linkColor,
		Grid:      th.Border,
	}
	g.Draw(img, rssiSeries(d.history))
}

func rssiBars(dbm int) int {
	switch {
	case dbm >= -50:
		return 4
	case dbm >= -60:
		return 3
	case dbm >= -70:
		return 2
	}
	return 1
}

func drawSignalBars(img *rgb565.Image, r image.Rectangle, bars int, on, off rgb565.Color) {
	w := r.Dx() / 4
	for i := 0; i < 4; i++ {
		h := (i + 1) * r.Dy() / 4
		c := off
		if i < bars {
			c = on
		}
		img.Fill(image.Rect(r.Min.X+i*w, r.Max.Y-h, r.Min.X+i*w+w-2, r.Max.Y), c)
	}
}

func rssiSeries(hist []telemetry.Sample) []float64 {
	out := make([]float64, 0, len(hist))
	for _, s := range hist {
		out = append(out, float64(s.RSSIDBm))
	}
	return out
}

// sensorsScreen shows the chip temperature and its history.
type sensorsScreen struct{}

func (sensorsScreen) draw(img *rgb565.Image, th *Theme, d *drawData) {
	s := d.sample
	tempColor := th.Success
	switch {
	case s.TempC >= 80:
		tempColor = th.Error
	case s.TempC >= 60:
		tempColor = th.Warning
	}
	drawCard(img, th, image.Rect(10, 25, 310, 80), tempColor)
	drawNumber(img, 25, 38, 4, fmt.Sprintf("%.1f", s.TempC), tempColor)

	drawCard(img, th, image.Rect(10, 85, 310, 160), th.Info)
	g := LineGraph{
		Rect:      image.Rect(18, 95, 302, 152),
		AutoScale: true,
		Line:      tempColor,
		Grid:      th.Border,
	}
	g.Draw(img, tempSeries(d.history))
}

func tempSeries(hist []telemetry.Sample) []float64 {
	out := make([]float64, 0, len(hist))
	for _, s := range hist {
		out = append(out, s.TempC)
	}
	return out
}

// powerScreen shows the supply source and battery level.
type powerScreen struct{}

func (powerScreen) draw(img *rgb565.Image, th *Theme, d *drawData) {
	s := d.sample
	if s.BatteryMV == 0 {
		drawCard(img, th, image.Rect(10, 25, 310, 160), th.Info)
		drawPlug(img, 132, 65, 8, th.Info)
		return
	}
	drawCard(img, th, image.Rect(10, 25, 310, 90), th.Success)
	drawBatteryIcon(img, image.Rect(25, 40, 85, 66), s.BatteryPct, th.Border, th.Success)
	drawNumber(img, 110, 36, 4, fmt.Sprintf("%d", s.BatteryPct), th.Accent)

	drawCard(img, th, image.Rect(10, 95, 310, 160), th.Secondary)
	drawNumber(img, 25, 106, 3, fmt.Sprintf("%d", s.BatteryMV), th.Text)
	drawBar(img, th, image.Rect(23, 132, 297, 146), s.BatteryPct, th.Success)
}

// aboutScreen shows the firmware version and uptime. A green square in
// the version card marks a staged update awaiting restart.
type aboutScreen struct{}

func (aboutScreen) draw(img *rgb565.Image, th *Theme, d *drawData) {
	drawCard(img, th, image.Rect(10, 25, 310, 80), th.Accent)
	drawNumber(img, 25, 38, 4, d.version, th.Accent)
	if d.staged != "" {
		img.Fill(image.Rect(288, 35, 300, 47), th.Success)
	}

	drawCard(img, th, image.Rect(10, 85, 310, 160), th.Info)
	s := d.sample
	drawNumber(img, 25, 100, 4, fmtUptime(s.Uptime), th.Text)
	drawNumber(img, 25, 134, 2, fmt.Sprintf("%d", s.Frames), th.TextDim)
}

func fmtUptime(s int64) string {
	return fmt.Sprintf("%d.%02d.%02d", s/3600, s/60%60, s%60)
}
