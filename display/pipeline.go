package display

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/st7789"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
)

// FrameProducer renders dashboard content into the back buffer. It is
// called at most once per scheduled tick and must not block on hardware.
type FrameProducer interface {
	RenderInto(img *rgb565.Image) error
}

// Status is the pipeline snapshot served to telemetry readers.
type Status struct {
	State     st7789.State
	Asleep    bool
	FPS       float64
	Frames    uint64
	Dropped   uint64
	LastFrame time.Duration
	MaxFrame  time.Duration
	LastError error
}

// Pipeline drives producer, scheduler and device: render into the back
// buffer, wait out the front transfer, submit, swap. Frame and Run belong
// to a single goroutine; Status may be called from anywhere.
type Pipeline struct {
	dev   *st7789.Device
	prod  FrameProducer
	sched *Scheduler
	buf   *DoubleBuffer
	stats Stats

	// Debug logs per-frame phase timings.
	Debug bool
	// Pet, when set, is called once per loop tick to feed a liveness
	// watchdog.
	Pet func()

	mu      sync.Mutex
	lastErr error
}

func NewPipeline(dev *st7789.Device, prod FrameProducer, sched *Scheduler) (*Pipeline, error) {
	if sched == nil {
		sched = NewScheduler()
	}
	buf, err := NewDoubleBuffer(dev.Bounds())
	if err != nil {
		return nil, err
	}
	return &Pipeline{dev: dev, prod: prod, sched: sched, buf: buf}, nil
}

// Frame renders and submits one frame, regardless of pacing. While the
// previous transfer is still running the scheduler policy decides between
// dropping the tick and waiting it out; the submit itself only ever
// happens against an idle front buffer.
func (p *Pipeline) Frame(ctx context.Context) error {
	start := time.Now()
	back := p.buf.Back()
	if err := p.prod.RenderInto(back); err != nil {
		return p.fail(fmt.Errorf("display: render: %w", err))
	}
	rendered := time.Now()

	if !p.buf.FrontIdle() {
		if p.sched.Policy == Drop {
			p.stats.RecordDrop()
			return nil
		}
		t := time.NewTimer(p.sched.WaitTimeout)
		select {
		case <-p.buf.FrontDone():
			t.Stop()
		case <-t.C:
			p.stats.RecordDrop()
			return nil
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	f, err := p.dev.Draw(back, back.Bounds())
	if err != nil {
		return p.fail(err)
	}
	if err := p.buf.Swap(f); err != nil {
		return p.fail(err)
	}
	done := time.Now()
	p.stats.RecordFrame(done.Sub(start))
	if p.Debug {
		log.Printf("display: frame %v render %v submit %v",
			done.Sub(start), rendered.Sub(start), done.Sub(rendered))
	}
	return nil
}

func (p *Pipeline) fail(err error) error {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	return err
}

// Sync waits for the in-flight transfer, if any, and returns its outcome.
func (p *Pipeline) Sync(ctx context.Context) error {
	select {
	case <-p.buf.FrontDone():
		return p.buf.FrontErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run renders frames at the scheduler's cadence until ctx is cancelled or
// a frame fails. The owner decides whether a failure warrants a device
// Reset and a new Run; the pipeline never restarts the device itself.
func (p *Pipeline) Run(ctx context.Context) error {
	tick := time.NewTicker(p.sched.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			if p.Pet != nil {
				p.Pet()
			}
			if !p.sched.ShouldRender(now) {
				continue
			}
			if err := p.Frame(ctx); err != nil {
				return err
			}
		}
	}
}

// Stats exposes the pipeline's frame statistics.
func (p *Pipeline) Stats() *Stats {
	return &p.stats
}

// Status is a non-blocking snapshot for telemetry readers.
func (p *Pipeline) Status() Status {
	snap := p.stats.Snapshot()
	dst := p.dev.Status()
	p.mu.Lock()
	lastErr := p.lastErr
	p.mu.Unlock()
	if lastErr == nil {
		lastErr = dst.LastError
	}
	return Status{
		State:     dst.State,
		Asleep:    dst.Asleep,
		FPS:       snap.FPS,
		Frames:    snap.Frames,
		Dropped:   snap.Dropped,
		LastFrame: snap.Last,
		MaxFrame:  snap.Max,
		LastError: lastErr,
	}
}
