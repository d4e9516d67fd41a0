package rgb565

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"
)

func TestRoundtrip(t *testing.T) {
	for c := 0; c <= math.MaxUint16; c++ {
		rgb16 := Color{byte(c), byte(c >> 8)}
		r, g, b := RGB565ToRGB888(rgb16)
		got := RGB888ToRGB565(r, g, b)
		if rgb16 != got {
			t.Errorf("%.4x => %.2x, %.2x, %.2x => %.4x", c, r, g, b, got)
		}
	}
}

func TestFromUint16(t *testing.T) {
	for _, v := range []uint16{0x0000, 0x1082, 0xc260, 0xffff} {
		if got := FromUint16(v).Uint16(); got != v {
			t.Errorf("%.4x => %.4x", v, got)
		}
	}
}

func TestRGBA64Roundtrip(t *testing.T) {
	for c := 0; c <= math.MaxUint16; c++ {
		rgb16 := Color{byte(c), byte(c >> 8)}
		img := New(image.Rect(0, 0, 1, 1))
		img.Pix[0] = rgb16
		img.SetRGBA64(0, 0, img.RGBA64At(0, 0))
		if got := img.Pix[0]; got != rgb16 {
			t.Errorf("%.4x => %.4x", rgb16.Uint16(), got.Uint16())
		}
	}
}

func TestFill(t *testing.T) {
	img := New(image.Rect(0, 0, 8, 8))
	white := RGB888ToRGB565(0xff, 0xff, 0xff)
	red := RGB888ToRGB565(0xff, 0, 0)
	img.Fill(img.Bounds(), white)
	img.Fill(image.Rect(2, 3, 6, 7), red)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			want := white
			if x >= 2 && x < 6 && y >= 3 && y < 7 {
				want = red
			}
			if got := img.Pix[img.PixOffset(x, y)]; got != want {
				t.Errorf("(%d, %d): got %.4x, want %.4x", x, y, got.Uint16(), want.Uint16())
			}
		}
	}
}

func TestDrawUniform(t *testing.T) {
	img := New(image.Rect(0, 0, 4, 4))
	img.Draw(img.Bounds(), image.NewUniform(color.RGBA{G: 0xff, A: 0xff}), image.Point{}, draw.Src)
	want := RGB888ToRGB565(0, 0xff, 0)
	for i, px := range img.Pix {
		if px != want {
			t.Fatalf("pixel %d: got %.4x, want %.4x", i, px.Uint16(), want.Uint16())
		}
	}
}

func TestDrawImage(t *testing.T) {
	src := New(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = Color{byte(i), byte(i >> 8)}
	}
	dst := New(image.Rect(0, 0, 8, 8))
	dst.Draw(image.Rect(2, 2, 6, 6), src, image.Point{}, draw.Src)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			got := dst.Pix[dst.PixOffset(x+2, y+2)]
			want := src.Pix[src.PixOffset(x, y)]
			if got != want {
				t.Errorf("(%d, %d): got %.4x, want %.4x", x, y, got.Uint16(), want.Uint16())
			}
		}
	}
}

func TestBytes(t *testing.T) {
	img := New(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = Color{byte(2 * i), byte(2*i + 1)}
	}
	raw := img.Bytes()
	if len(raw) != len(img.Pix)*2 {
		t.Fatalf("got %d bytes, want %d", len(raw), len(img.Pix)*2)
	}
	for i, b := range raw {
		if b != byte(i) {
			t.Errorf("byte %d: got %d", i, b)
		}
	}
	// The raw view aliases the pixel storage.
	raw[0] = 0xaa
	if img.Pix[0][0] != 0xaa {
		t.Error("Bytes does not alias Pix")
	}
}

func TestSubImage(t *testing.T) {
	img := New(image.Rect(0, 0, 8, 8))
	red := RGB888ToRGB565(0xff, 0, 0)
	img.Fill(image.Rect(2, 2, 4, 4), red)
	sub := img.SubImage(image.Rect(2, 2, 4, 4)).(*Image)
	if got := sub.Bounds(); got != image.Rect(2, 2, 4, 4) {
		t.Fatalf("bounds: got %v", got)
	}
	for y := 2; y < 4; y++ {
		for x := 2; x < 4; x++ {
			if got := sub.At(x, y).(Color); got != red {
				t.Errorf("(%d, %d): got %.4x", x, y, got.Uint16())
			}
		}
	}
}
