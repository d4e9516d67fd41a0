package ui

import (
	"image"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
)

// Seven segment bit masks, lettered clockwise from the top edge with
// G as the middle bar.
const (
	segA = 1 << iota
	segB
	segC
	segD
	segE
	segF
	segG
)

var segDigits = [10]uint8{
	segA | segB | segC | segD | segE | segF,
	segB | segC,
	segA | segB | segG | segE | segD,
	segA | segB | segG | segC | segD,
	segF | segG | segB | segC,
	segA | segF | segG | segC | segD,
	segA | segF | segG | segE | segD | segC,
	segA | segB | segC,
	segA | segB | segC | segD | segE | segF | segG,
	segA | segB | segC | segD | segF | segG,
}

// drawDigit paints one block digit in a cell 3t wide and 5t tall with
// segment thickness t.
func drawDigit(img *rgb565.Image, x, y, t int, mask uint8, c rgb565.Color) {
	w, h := 3*t, 5*t
	mid := y + (h-t)/2
	if mask&segA != 0 {
		img.Fill(image.Rect(x, y, x+w, y+t), c)
	}
	if mask&segB != 0 {
		img.Fill(image.Rect(x+w-t, y, x+w, mid+t), c)
	}
	if mask&segC != 0 {
		img.Fill(image.Rect(x+w-t, mid, x+w, y+h), c)
	}
	if mask&segD != 0 {
		img.Fill(image.Rect(x, y+h-t, x+w, y+h), c)
	}
	if mask&segE != 0 {
		img.Fill(image.Rect(x, mid, x+t, y+h), c)
	}
	if mask&segF != 0 {
		img.Fill(image.Rect(x, y, x+t, mid+t), c)
	}
	if mask&segG != 0 {
		img.Fill(image.Rect(x, mid, x+w, mid+t), c)
	}
}

// drawNumber paints s as block digits with thickness t and returns the
// width covered. s may contain digits, '.' and '-'; anything else
// advances one blank cell.
func drawNumber(img *rgb565.Image, x, y, t int, s string, c rgb565.Color) int {
	x0 := x
	h := 5 * t
	for _, r := range s {
		switch {
		case '0' <= r && r <= '9':
			drawDigit(img, x, y, t, segDigits[r-'0'], c)
			x += 4 * t
		case r == '.':
			img.Fill(image.Rect(x, y+h-t, x+t, y+h), c)
			x += 2 * t
		case r == '-':
			mid := y + (h-t)/2
			img.Fill(image.Rect(x, mid, x+3*t, mid+t), c)
			x += 4 * t
		default:
			x += 4 * t
		}
	}
	return x - x0
}

// numberWidth reports the width drawNumber will cover for s.
func numberWidth(t int, s string) int {
	w := 0
	for _, r := range s {
		if r == '.' {
			w += 2 * t
		} else {
			w += 4 * t
		}
	}
	return w
}

func strokeRect(img *rgb565.Image, r image.Rectangle, c rgb565.Color) {
	img.Fill(image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), c)
	img.Fill(image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), c)
	img.Fill(image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), c)
	img.Fill(image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// drawCard paints a surface panel with a border and a colored tab
// strip marking its category.
func drawCard(img *rgb565.Image, th *Theme, r image.Rectangle, mark rgb565.Color) {
	img.Fill(r, th.Surface)
	strokeRect(img, r, th.Border)
	img.Fill(image.Rect(r.Min.X+1, r.Min.Y+1, r.Min.X+25, r.Min.Y+4), mark)
}

// drawBar paints a bordered gauge filled to pct of its width.
func drawBar(img *rgb565.Image, th *Theme, r image.Rectangle, pct int, fill rgb565.Color) {
	strokeRect(img, r, th.Border)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	w := (r.Dx() - 2) * pct / 100
	if w > 0 {
		img.Fill(image.Rect(r.Min.X+1, r.Min.Y+1, r.Min.X+1+w, r.Max.Y-1), fill)
	}
}

// drawBatteryIcon paints a battery outline with a terminal nub, filled
// to pct percent.
func drawBatteryIcon(img *rgb565.Image, r image.Rectangle, pct int, outline, fill rgb565.Color) {
	strokeRect(img, r, outline)
	img.Fill(image.Rect(r.Max.X, r.Min.Y+r.Dy()/3, r.Max.X+2, r.Max.Y-r.Dy()/3), outline)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	inner := r.Inset(2)
	if w := inner.Dx() * pct / 100; w > 0 {
		img.Fill(image.Rect(inner.Min.X, inner.Min.Y, inner.Min.X+w, inner.Max.Y), fill)
	}
}

// drawChevron paints a five row arrow head, 8x10 pixels, pointing left
// or right.
func drawChevron(img *rgb565.Image, x, y int, left bool, c rgb565.Color) {
	for i := 0; i < 5; i++ {
		dx := i
		if i > 2 {
			dx = 4 - i
		}
		if left {
			dx = 2 - dx
		}
		img.Fill(image.Rect(x+dx*2, y+i*2, x+dx*2+4, y+i*2+2), c)
	}
}

// drawPlug paints a power plug marker, s pixels per grid unit, 7s wide
// and 5s tall.
func drawPlug(img *rgb565.Image, x, y, s int, c rgb565.Color) {
	img.Fill(image.Rect(x, y+2*s, x+s, y+3*s), c)
	img.Fill(image.Rect(x+s, y, x+5*s, y+5*s), c)
	img.Fill(image.Rect(x+5*s, y+s, x+7*s, y+2*s), c)
	img.Fill(image.Rect(x+5*s, y+3*s, x+7*s, y+4*s), c)
}

// drawPager paints n page dots with dot sel filled.
func drawPager(img *rgb565.Image, x, y, n, sel int, c rgb565.Color) {
	for i := 0; i < n; i++ {
		r := image.Rect(x+i*10, y, x+i*10+6, y+6)
		if i == sel {
			img.Fill(r, c)
		} else {
			strokeRect(img, r, c)
		}
	}
}
