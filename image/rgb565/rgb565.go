// Package rgb565 implements a 16-bit packed RGB565 image, the native pixel
// format of the panel. Samples are stored low byte first; byte order on the
// wire is the bus layer's concern.
package rgb565

import (
	"image"
	"image/color"
	"image/draw"
	"unsafe"
)

// Color is one packed RGB565 sample, low byte first.
type Color [2]byte

// Model converts colors to their closest RGB565 representation.
var Model = color.ModelFunc(func(c color.Color) color.Color {
	return From(c)
})

func From(c color.Color) Color {
	if c, ok := c.(Color); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB888ToRGB565(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

func (c Color) Uint16() uint16 {
	return uint16(c[1])<<8 | uint16(c[0])
}

// FromUint16 packs a raw RGB565 value, as found in panel datasheets and
// palette tables.
func FromUint16(v uint16) Color {
	return Color{byte(v), byte(v >> 8)}
}

func (c Color) RGBA() (r, g, b, a uint32) {
	r8, g8, b8 := RGB565ToRGB888(c)
	r = uint32(r8)
	r |= r << 8
	g = uint32(g8)
	g |= g << 8
	b = uint32(b8)
	b |= b << 8
	return r, g, b, 0xffff
}

func RGB888ToRGB565(r, g, b uint8) Color {
	u16 := uint16(b)>>3 | uint16(g&0xFC)<<3 | uint16(r&0xF8)<<8
	return Color{byte(u16), byte(u16 >> 8)}
}

func RGB565ToRGB888(c Color) (r, g, b uint8) {
	u16 := c.Uint16()
	r = uint8(u16>>8) & 0xf8
	r |= r >> 5
	g = uint8(u16>>3) & 0xfc
	g |= g >> 6
	b = uint8(u16 << 3)
	b |= b >> 5
	return
}

// Image is an in-memory RGB565 image backed by a flat pixel slice.
type Image struct {
	Pix    []Color
	Stride int
	Rect   image.Rectangle
}

func New(r image.Rectangle) *Image {
	return &Image{
		Pix:    make([]Color, r.Dx()*r.Dy()),
		Stride: r.Dx(),
		Rect:   r,
	}
}

func (p *Image) Bounds() image.Rectangle {
	return p.Rect
}

func (p *Image) ColorModel() color.Model {
	return Model
}

func (p *Image) PixOffset(x, y int) int {
	off := image.Pt(x, y).Sub(p.Rect.Min)
	return off.Y*p.Stride + off.X
}

func (p *Image) At(x, y int) color.Color {
	if !(image.Point{x, y}).In(p.Rect) {
		return Color{}
	}
	return p.Pix[p.PixOffset(x, y)]
}

func (p *Image) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}).In(p.Rect) {
		return
	}
	p.Pix[p.PixOffset(x, y)] = From(c)
}

func (p *Image) RGBA64At(x, y int) color.RGBA64 {
	if !(image.Point{x, y}).In(p.Rect) {
		return color.RGBA64{}
	}
	r, g, b, a := p.Pix[p.PixOffset(x, y)].RGBA()
	return color.RGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: uint16(a)}
}

func (p *Image) SetRGBA64(x, y int, c color.RGBA64) {
	if !(image.Point{x, y}).In(p.Rect) {
		return
	}
	p.Pix[p.PixOffset(x, y)] = RGB888ToRGB565(uint8(c.R>>8), uint8(c.G>>8), uint8(c.B>>8))
}

func (p *Image) SubImage(r image.Rectangle) image.Image {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return new(Image)
	}
	start := p.PixOffset(r.Min.X, r.Min.Y)
	end := p.PixOffset(r.Max.X-1, r.Max.Y-1) + 1
	return &Image{
		Pix:    p.Pix[start:end],
		Stride: p.Stride,
		Rect:   r,
	}
}

// Bytes returns the backing pixel storage as raw bytes in scanline order.
// Only valid for contiguous images such as those returned by New.
func (p *Image) Bytes() []byte {
	if p.Stride != p.Rect.Dx() {
		panic("rgb565: Bytes on non-contiguous image")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(p.Pix))), len(p.Pix)*2)
}

// Fill sets every pixel of r to c.
func (p *Image) Fill(r image.Rectangle, c Color) {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return
	}
	row := p.Pix[p.PixOffset(r.Min.X, r.Min.Y) : p.PixOffset(r.Max.X-1, r.Min.Y)+1]
	for i := range row {
		row[i] = c
	}
	for y := r.Min.Y + 1; y < r.Max.Y; y++ {
		copy(p.Pix[p.PixOffset(r.Min.X, y):p.PixOffset(r.Max.X-1, y)+1], row)
	}
}

func (p *Image) Draw(dr image.Rectangle, src image.Image, sp image.Point, op draw.Op) {
	dr = dr.Intersect(p.Rect)
	// Optimize special cases.
	switch src := src.(type) {
	case *image.Uniform:
		if src.Opaque() || op == draw.Src {
			p.Fill(dr, From(src.C))
			return
		}
	case *Image:
		for y := 0; y < dr.Dy(); y++ {
			so := src.PixOffset(sp.X, sp.Y+y)
			do := p.PixOffset(dr.Min.X, dr.Min.Y+y)
			copy(p.Pix[do:do+dr.Dx()], src.Pix[so:so+dr.Dx()])
		}
		return
	case *image.Gray:
		for y := 0; y < dr.Dy(); y++ {
			for x := 0; x < dr.Dx(); x++ {
				col := src.GrayAt(sp.X+x, sp.Y+y)
				p.Pix[p.PixOffset(dr.Min.X+x, dr.Min.Y+y)] = RGB888ToRGB565(col.Y, col.Y, col.Y)
			}
		}
		return
	}

	// General case.
	draw.Draw(p, dr, src, sp, op)
}
