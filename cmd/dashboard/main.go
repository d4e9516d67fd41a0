// command dashboard renders device vitals on a T-Display-S3 panel and
// serves its status, telemetry and firmware update endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/config"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/crashlog"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/display"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/buttons"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/dma"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/i80"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/st7789"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/espimg"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/ota"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/telemetry"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/ui"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/web"
)

// Version is set by the Go linker with -ldflags='-X main.Version=...'.
var Version string

// Platform is what the host machine supplies: the panel bus, the
// board's vitals probes, the key event stream and the goroutine
// discipline the frame loop runs under.
type Platform struct {
	bus    i80.Bus
	probes telemetry.Probes
	events chan buttons.Event
	net    func() ui.NetInfo
	pet    func()
	close  func()
	// drive runs the frame loop, wrapping it in the host window when
	// the panel is simulated.
	drive func(ctx context.Context, loop func(context.Context) error) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/dashboard.json", "configuration file")
	debug := flag.Bool("debug", false, "log per-frame timings")
	flag.Parse()

	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	ver := Version
	if ver == "" {
		ver = "dev"
	}
	start := time.Now()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}

	// Keep the log tail in memory so a crash record carries the final
	// lines.
	tail := crashlog.NewTail(8 << 10)
	log.SetOutput(io.MultiWriter(os.Stderr, tail))
	crashPath := filepath.Join(cfg.StateDir, "crash.cbor")
	defer crashlog.Capture(crashPath, ver, start, tail)()

	var lastCrash *crashlog.Record
	if r, ok, err := crashlog.Load(crashPath); err != nil {
		log.Printf("dashboard: crash record: %v", err)
	} else if ok {
		lastCrash = &r
		log.Printf("dashboard: previous run crashed: %s", r.Reason)
		// One report per crash; a clean run must not re-announce it.
		if err := crashlog.Clear(crashPath); err != nil {
			log.Printf("dashboard: %v", err)
		}
	}

	p, err := Init(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	eng, err := dma.New(p.bus, dma.Config{
		QueueDepth: cfg.Bus.QueueDepth,
		SwapBytes:  cfg.Bus.SwapBytes,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	dev, err := st7789.New(p.bus, eng, st7789.Config{
		Viewport:  cfg.Panel.Viewport(),
		Invert:    cfg.Panel.Invert,
		BGR:       cfg.Panel.BGR,
		ChunkRows: cfg.Bus.ChunkRows,
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dev.Configure(ctx); err != nil {
		return err
	}

	updater, err := ota.New(filepath.Join(cfg.StateDir, "ota"), espimg.ChipESP32S3)
	if err != nil {
		return err
	}
	if st := updater.Status(); st.State == ota.Ready {
		log.Printf("dashboard: firmware %s staged, running %s", st.Version, ver)
	}

	var onSample func(telemetry.Sample)
	if cfg.Telemetry.SerialPort != "" {
		port, err := telemetry.Open(cfg.Telemetry.SerialPort, cfg.Telemetry.SerialBaud)
		if err != nil {
			log.Printf("dashboard: %v", err)
		} else {
			defer port.Close()
			rep := telemetry.NewReporter(port)
			var dead bool
			onSample = func(s telemetry.Sample) {
				// A dead wire logs once, not once a second.
				if err := rep.Report(s); err != nil && !dead {
					dead = true
					log.Printf("dashboard: %v", err)
				}
			}
		}
	}

	var pipe *display.Pipeline
	probes := p.probes
	probes.Display = func() display.Status {
		return pipe.Status()
	}
	collector := telemetry.New(telemetry.Config{
		Interval: cfg.Interval(),
		Start:    start,
		Probes:   probes,
		OnSample: onSample,
	})

	dash := ui.New(ui.Config{
		Version: ver,
		Sample:  collector.Latest,
		History: collector.History,
		Net:     p.net,
		Staged: func() string {
			if st := updater.Status(); st.State == ota.Ready {
				return st.Version
			}
			return ""
		},
	})

	pipe, err = display.NewPipeline(dev, dash, display.NewScheduler())
	if err != nil {
		return err
	}
	pipe.Debug = *debug
	pipe.Pet = p.pet

	srv := web.New(web.Config{
		Version:   ver,
		Status:    pipe.Status,
		Collector: collector,
		Updater:   updater,
		Crash:     lastCrash,
		Password:  cfg.Net.Password,
		Restart: func(reason string) {
			log.Printf("dashboard: restarting: %s", reason)
			cancel()
		},
	})
	go func() {
		if err := srv.ListenAndServe(cfg.Net.Listen); err != nil {
			log.Printf("dashboard: http: %v", err)
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	}()

	go collector.Run(ctx)

	sleepc := make(chan struct{}, 1)
	toggleSleep := func() {
		select {
		case sleepc <- struct{}{}:
		default:
		}
	}
	bl, _ := p.bus.(i80.Backlighter)
	go inputLoop(ctx, inputs{
		events: p.events,
		dash:   dash,
		dev:    dev,
		bl:     bl,
		dim:    time.Duration(cfg.Power.DimTimeoutS) * time.Second,
		cycle:  time.Duration(cfg.UI.AutoCycleS) * time.Second,
		sleep:  toggleSleep,
	})

	err = p.drive(ctx, func(ctx context.Context) error {
		return displayLoop(ctx, dev, pipe, sleepc, p.pet)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// displayLoop owns the device for the life of the process: it runs the
// render pipeline, parks the panel across sleep toggles and recovers
// faults with a reset. Backoff keeps a dead bus from turning recovery
// into a busy loop.
func displayLoop(ctx context.Context, dev *st7789.Device, pipe *display.Pipeline, sleepc <-chan struct{}, pet func()) error {
	const maxBackoff = 10 * time.Second
	backoff := time.Second
	for {
		runCtx, stop := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() { errc <- pipe.Run(runCtx) }()
		started := time.Now()

		var err error
		select {
		case <-sleepc:
			stop()
			<-errc
			err = parkPanel(ctx, dev, pipe, sleepc, pet)
		case err = <-errc:
			stop()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}

		log.Printf("dashboard: display: %v", err)
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		if err := petWait(ctx, backoff, pet); err != nil {
			return err
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
		// Drain the in-flight transfer before touching the controller.
		pipe.Sync(ctx)
		if err := dev.Reset(ctx); err != nil {
			log.Printf("dashboard: reset: %v", err)
		}
	}
}

// parkPanel puts the panel to sleep until the next toggle, then wakes
// it. Errors other than cancellation feed the caller's fault recovery.
func parkPanel(ctx context.Context, dev *st7789.Device, pipe *display.Pipeline, sleepc <-chan struct{}, pet func()) error {
	pipe.Sync(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := dev.Sleep(); err != nil {
		return err
	}
	if err := awaitWake(ctx, sleepc, pet); err != nil {
		return err
	}
	return dev.Wake(ctx)
}

// awaitWake blocks until the next sleep toggle, feeding the watchdog
// so a sleeping panel is not mistaken for a hang.
func awaitWake(ctx context.Context, sleepc <-chan struct{}, pet func()) error {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sleepc:
			return nil
		case <-tick.C:
			if pet != nil {
				pet()
			}
		}
	}
}

// petWait sleeps for d, feeding the watchdog throughout.
func petWait(ctx context.Context, d time.Duration, pet func()) error {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		case <-tick.C:
			if pet != nil {
				pet()
			}
		}
	}
}

type inputs struct {
	events <-chan buttons.Event
	dash   *ui.Dashboard
	dev    *st7789.Device
	bl     i80.Backlighter
	dim    time.Duration
	cycle  time.Duration
	sleep  func()
}

// inputLoop turns key events into navigation, dims the backlight after
// idle and advances the screen on the auto cycle interval. A press
// against a dimmed panel only restores the backlight; a press against
// a sleeping panel only wakes it.
func inputLoop(ctx context.Context, in inputs) {
	var dimT *time.Timer
	var dimc <-chan time.Time
	if in.dim > 0 {
		dimT = time.NewTimer(in.dim)
		defer dimT.Stop()
		dimc = dimT.C
	}
	var cyclec <-chan time.Time
	if in.cycle > 0 {
		t := time.NewTicker(in.cycle)
		defer t.Stop()
		cyclec = t.C
	}
	dimmed := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-dimc:
			if !in.dev.Status().Asleep {
				in.backlight(false)
				dimmed = true
			}
		case <-cyclec:
			if !dimmed && !in.dev.Status().Asleep {
				in.dash.Next()
			}
		case e := <-in.events:
			if dimT != nil {
				if !dimT.Stop() {
					select {
					case <-dimT.C:
					default:
					}
				}
				dimT.Reset(in.dim)
			}
			if dimmed {
				dimmed = false
				in.backlight(true)
				continue
			}
			if in.dev.Status().Asleep {
				in.sleep()
				continue
			}
			switch {
			case e.Long && e.Key == buttons.Prev:
				in.sleep()
			case e.Long && e.Key == buttons.Next:
				in.dash.CycleTheme()
			case e.Key == buttons.Next:
				in.dash.Next()
			default:
				in.dash.Prev()
			}
		}
	}
}

func (in inputs) backlight(on bool) {
	if in.bl == nil {
		return
	}
	if err := in.bl.SetBacklight(on); err != nil {
		log.Printf("dashboard: backlight: %v", err)
	}
}
