// Package display owns frame pacing and buffer handoff between a frame
// producer and the panel device: a double buffer whose ownership flips on
// transfer completion, a scheduler that caps the frame rate, and the
// pipeline gluing producer, scheduler and device together.
package display

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/dma"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
)

// Completion is the done signal of an in-flight transfer, as returned by
// the device's Draw.
type Completion interface {
	Done() <-chan struct{}
	Err() error
}

var ErrBusy = errors.New("display: front buffer still in flight")

// DoubleBuffer hands frames between the producer and the transfer engine.
// The back buffer is exclusively the producer's; the front buffer belongs
// to the engine until its transfer completes. Ownership moves only
// through Swap, the pixel path is never locked.
type DoubleBuffer struct {
	imgs     [2]*rgb565.Image
	back     int
	inflight Completion
}

// NewDoubleBuffer allocates both buffers and checks the alignment the
// transfer engine requires, once, here.
func NewDoubleBuffer(r image.Rectangle) (*DoubleBuffer, error) {
	b := &DoubleBuffer{}
	for i := range b.imgs {
		img := rgb565.New(r)
		if err := dma.ValidateBuffer(img.Bytes()); err != nil {
			return nil, err
		}
		b.imgs[i] = img
	}
	return b, nil
}

// Back is the buffer the producer may write.
func (b *DoubleBuffer) Back() *rgb565.Image {
	return b.imgs[b.back]
}

// Front is the buffer last handed to the engine. It is read-only while
// its transfer is in flight.
func (b *DoubleBuffer) Front() *rgb565.Image {
	return b.imgs[1-b.back]
}

// Swap records c as the in-flight transfer of the current back buffer and
// flips ownership. It fails while the previous front transfer is still
// running.
func (b *DoubleBuffer) Swap(c Completion) error {
	if !b.FrontIdle() {
		return ErrBusy
	}
	b.inflight = c
	b.back = 1 - b.back
	return nil
}

// FrontIdle reports whether the front buffer's transfer has completed.
func (b *DoubleBuffer) FrontIdle() bool {
	if b.inflight == nil {
		return true
	}
	select {
	case <-b.inflight.Done():
		return true
	default:
		return false
	}
}

var idle = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// FrontDone returns a channel closed once the front transfer completes.
func (b *DoubleBuffer) FrontDone() <-chan struct{} {
	if b.inflight == nil {
		return idle
	}
	return b.inflight.Done()
}

// FrontErr returns the front transfer's outcome, nil while in flight.
func (b *DoubleBuffer) FrontErr() error {
	if b.inflight == nil {
		return nil
	}
	return b.inflight.Err()
}

// Rendering faster than the panel transfer sustains has no value; the
// default cap matches the panel's practical refresh ceiling.
const (
	DefaultInterval    = time.Second / 60
	DefaultWaitTimeout = 2 * DefaultInterval
)

// Policy selects what a scheduled tick does while the previous frame is
// still in flight. Ticks are never queued either way.
type Policy uint8

const (
	// Drop skips the tick. The rendered back buffer survives for the
	// next one.
	Drop Policy = iota
	// Block waits for the in-flight frame up to WaitTimeout, then drops.
	Block
)

func (p Policy) String() string {
	switch p {
	case Drop:
		return "drop"
	case Block:
		return "block"
	default:
		return "policy(?)"
	}
}

// Scheduler paces frame submission against a target interval.
type Scheduler struct {
	Interval    time.Duration
	WaitTimeout time.Duration
	Policy      Policy

	last time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		Interval:    DefaultInterval,
		WaitTimeout: DefaultWaitTimeout,
	}
}

// ShouldRender reports whether a frame is due at now, and marks the tick
// taken when it is.
func (s *Scheduler) ShouldRender(now time.Time) bool {
	if !s.last.IsZero() && now.Before(s.last.Add(s.Interval)) {
		return false
	}
	s.last = now
	return true
}

// statsWindow is the rolling window of per-frame samples.
const statsWindow = 60

// Snapshot is a point-in-time copy of the frame statistics.
type Snapshot struct {
	Frames  uint64
	Dropped uint64
	Last    time.Duration
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	FPS     float64
}

// Stats keeps rolling frame timing counters. The zero value is ready to
// use.
type Stats struct {
	mu      sync.Mutex
	now     func() time.Time
	frames  uint64
	dropped uint64
	durs    [statsWindow]time.Duration
	times   [statsWindow]time.Time
	n, idx  int

	cache atomic.Pointer[Snapshot]
}

func (s *Stats) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// RecordFrame adds one presented frame that took d to render and submit.
func (s *Stats) RecordFrame(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.durs[s.idx] = d
	s.times[s.idx] = s.clock()
	s.idx = (s.idx + 1) % statsWindow
	if s.n < statsWindow {
		s.n++
	}
}

// RecordDrop counts a tick skipped under backpressure.
func (s *Stats) RecordDrop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Snapshot returns the current statistics. It never blocks the recording
// side: under contention the last computed snapshot is served instead.
func (s *Stats) Snapshot() Snapshot {
	if !s.mu.TryLock() {
		if c := s.cache.Load(); c != nil {
			return *c
		}
		return Snapshot{}
	}
	defer s.mu.Unlock()
	snap := Snapshot{Frames: s.frames, Dropped: s.dropped}
	if s.n > 0 {
		newest := (s.idx - 1 + statsWindow) % statsWindow
		oldest := (s.idx - s.n + statsWindow) % statsWindow
		snap.Last = s.durs[newest]
		var sum time.Duration
		for i := 0; i < s.n; i++ {
			d := s.durs[(oldest+i)%statsWindow]
			sum += d
			if i == 0 || d < snap.Min {
				snap.Min = d
			}
			if d > snap.Max {
				snap.Max = d
			}
		}
		snap.Avg = sum / time.Duration(s.n)
		if s.n > 1 {
			span := s.times[newest].Sub(s.times[oldest])
			if span > 0 {
				snap.FPS = float64(s.n-1) / span.Seconds()
			}
		}
	}
	s.cache.Store(&snap)
	return snap
}
