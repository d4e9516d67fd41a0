//go:build !linux || sim

package main

import (
	"context"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/config"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/buttons"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/st7789"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/telemetry"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/ui"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/viewport"
)

// Init builds the simulated board: a software panel shown in a host
// window, synthetic vitals and the keyboard standing in for the panel
// keys. Arrow keys click, T cycles the theme, S toggles panel sleep.
func Init(cfg config.Config) (*Platform, error) {
	sim := st7789.NewSimulator(cfg.Panel.MemWidth, cfg.Panel.MemHeight)
	events := make(chan buttons.Event, 8)
	p := &Platform{
		bus:    sim,
		events: events,
		probes: simProbes(time.Now()),
		net: func() ui.NetInfo {
			return ui.NetInfo{Connected: true, SSID: "sim", IP: "192.0.2.7"}
		},
		close: func() {},
	}
	p.drive = func(ctx context.Context, loop func(context.Context) error) error {
		return runWindow(ctx, sim, cfg.Panel.Viewport(), events, loop)
	}
	return p, nil
}

// simProbes returns synthetic vitals that drift, so the host build has
// something to draw.
func simProbes(start time.Time) telemetry.Probes {
	elapsed := func() float64 { return time.Since(start).Seconds() }
	return telemetry.Probes{
		CPU: func() (float64, error) {
			return 35 + 30*math.Sin(elapsed()/7), nil
		},
		Temperature: func() (float64, error) {
			return 46 + 9*math.Sin(elapsed()/23), nil
		},
		RSSI: func() (int, error) {
			return -55 + int(8*math.Sin(elapsed()/11)), nil
		},
		Battery: func() (mv, percent int, err error) {
			pct := 100 - int(elapsed()/18)%101
			return 3300 + 9*pct, pct, nil
		},
	}
}

// runWindow shows the simulated panel while loop runs in the
// background. It returns when the loop stops or the window closes.
func runWindow(ctx context.Context, sim *st7789.Simulator, vp viewport.Config, events chan<- buttons.Event, loop func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- loop(ctx)
		cancel()
	}()
	ebiten.SetWindowTitle("dashboard")
	ebiten.SetWindowSize(vp.Width*2, vp.Height*2)
	ebiten.SetTPS(60)
	v := &viewer{ctx: ctx, sim: sim, vp: vp, events: events}
	if err := ebiten.RunGame(v); err != nil {
		cancel()
		<-errc
		return err
	}
	cancel()
	return <-errc
}

// viewer renders the simulated panel's memory through the viewport
// transform, so the window shows what the glass would.
type viewer struct {
	ctx    context.Context
	sim    *st7789.Simulator
	vp     viewport.Config
	events chan<- buttons.Event
	img    *image.RGBA
	tex    *ebiten.Image
}

func (v *viewer) Update() error {
	if v.ctx.Err() != nil {
		return ebiten.Termination
	}
	send := func(e buttons.Event) {
		select {
		case v.events <- e:
		default:
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowRight) {
		send(buttons.Event{Key: buttons.Next})
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft) {
		send(buttons.Event{Key: buttons.Prev})
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyT) {
		send(buttons.Event{Key: buttons.Next, Long: true})
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyS) {
		send(buttons.Event{Key: buttons.Prev, Long: true})
	}
	return nil
}

func (v *viewer) Draw(screen *ebiten.Image) {
	ps := v.sim.Panel()
	if !ps.DisplayOn || !ps.Backlight {
		screen.Fill(color.Black)
		return
	}
	if v.tex == nil {
		v.img = image.NewRGBA(image.Rect(0, 0, v.vp.Width, v.vp.Height))
		v.tex = ebiten.NewImage(v.vp.Width, v.vp.Height)
	}
	ram := v.sim.RAM()
	for y := 0; y < v.vp.Height; y++ {
		for x := 0; x < v.vp.Width; x++ {
			col, row := memPoint(v.vp, x, y)
			r, g, b := rgb565.RGB565ToRGB888(ram.Pix[row*ram.Stride+col])
			i := v.img.PixOffset(x, y)
			v.img.Pix[i+0] = r
			v.img.Pix[i+1] = g
			v.img.Pix[i+2] = b
			v.img.Pix[i+3] = 0xff
		}
	}
	v.tex.WritePixels(v.img.Pix)
	screen.DrawImage(v.tex, nil)
}

func (v *viewer) Layout(outW, outH int) (int, int) {
	return v.vp.Width, v.vp.Height
}

// memPoint maps a logical pixel to its cell in panel memory, the same
// transform the window addresses go through.
func memPoint(vp viewport.Config, x, y int) (col, row int) {
	cw, rh := vp.Width, vp.Height
	if vp.SwapXY {
		x, y = y, x
		cw, rh = rh, cw
	}
	if vp.MirrorX {
		x = cw - 1 - x
	}
	if vp.MirrorY {
		y = rh - 1 - y
	}
	return x + vp.GapX, y + vp.GapY
}
