package ui

import (
	"image"

	"github.com/srwiley/rasterx"
	"golang.org/x/image/math/fixed"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
)

// LineGraph plots a series as a stroked polyline. With AutoScale set
// the vertical range follows the data; otherwise Min and Max fix it.
type LineGraph struct {
	Rect      image.Rectangle
	Min, Max  float64
	AutoScale bool
	Line      rgb565.Color
	Grid      rgb565.Color
}

func (g *LineGraph) Draw(img *rgb565.Image, values []float64) {
	r := g.Rect
	if r.Dx() < 4 || r.Dy() < 4 {
		return
	}
	for i := 1; i < 4; i++ {
		y := r.Min.Y + i*r.Dy()/4
		img.Fill(image.Rect(r.Min.X, y, r.Max.X, y+1), g.Grid)
	}
	if len(values) < 2 {
		return
	}
	lo, hi := g.Min, g.Max
	if g.AutoScale {
		lo, hi = values[0], values[0]
		for _, v := range values[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	dasher.SetStroke(fixed.I(1), 0, rasterx.RoundCap, rasterx.RoundCap, rasterx.RoundGap, rasterx.ArcClip, nil, 0)
	dasher.SetColor(g.Line)
	step := float64(r.Dx()-2) / float64(len(values)-1)
	for i, v := range values {
		t := (v - lo) / (hi - lo)
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		x := float64(r.Min.X+1) + float64(i)*step
		y := float64(r.Max.Y-1) - t*float64(r.Dy()-2)
		p := rasterx.ToFixedP(x, y)
		if i == 0 {
			dasher.Start(p)
		} else {
			dasher.Line(p)
		}
	}
	dasher.Stop(false)
	dasher.Draw()
}
