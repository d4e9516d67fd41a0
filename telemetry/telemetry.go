// Package telemetry samples device vitals on a fixed cadence and keeps
// a short history for the status endpoints and the serial reporter.
package telemetry

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/display"
)

// RingSize is the number of samples retained, one minute at the default
// one second interval.
const RingSize = 60

// Sample is one reading of every vital. Fields a probe could not supply
// stay zero.
type Sample struct {
	TS         int64   `json:"ts_ms"`
	Uptime     int64   `json:"uptime_s"`
	State      string  `json:"state"`
	FPS        float64 `json:"fps"`
	FrameMS    float64 `json:"frame_ms"`
	Frames     uint64  `json:"frames"`
	Dropped    uint64  `json:"dropped"`
	HeapFree   uint64  `json:"heap_free"`
	CPUPct     float64 `json:"cpu_pct"`
	TempC      float64 `json:"temp_c"`
	BatteryMV  int     `json:"battery_mv"`
	BatteryPct int     `json:"battery_pct"`
	RSSIDBm    int     `json:"rssi_dbm"`
	LastError  string  `json:"last_error,omitempty"`
}

// Probes supplies the readings. Any probe may be nil; a probe error
// leaves its fields zero rather than failing the sample.
type Probes struct {
	Display     func() display.Status
	Battery     func() (mv, percent int, err error)
	Temperature func() (float64, error)
	RSSI        func() (int, error)
	CPU         func() (float64, error)
}

type Config struct {
	Interval time.Duration
	// Start anchors the uptime field, normally the process start.
	Start  time.Time
	Probes Probes
	// OnSample, when set, observes every sample taken, after it is
	// recorded.
	OnSample func(Sample)
}

type Collector struct {
	interval time.Duration
	start    time.Time
	probes   Probes
	onSample func(Sample)

	mu   sync.Mutex
	ring [RingSize]Sample
	head int
	n    int

	cache atomic.Pointer[Sample]
}

func New(cfg Config) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	return &Collector{
		interval: cfg.Interval,
		start:    cfg.Start,
		probes:   cfg.Probes,
		onSample: cfg.OnSample,
	}
}

// Poll takes one sample, appends it to the history and returns it.
func (c *Collector) Poll(now time.Time) Sample {
	s := Sample{
		TS:     now.UnixMilli(),
		Uptime: int64(now.Sub(c.start) / time.Second),
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.HeapFree = m.HeapSys - m.HeapInuse
	if p := c.probes.Display; p != nil {
		ds := p()
		s.State = ds.State.String()
		if ds.Asleep {
			s.State = "asleep"
		}
		s.FPS = ds.FPS
		s.FrameMS = float64(ds.LastFrame) / float64(time.Millisecond)
		s.Frames = ds.Frames
		s.Dropped = ds.Dropped
		if ds.LastError != nil {
			s.LastError = ds.LastError.Error()
		}
	}
	if p := c.probes.CPU; p != nil {
		if v, err := p(); err == nil {
			s.CPUPct = v
		}
	}
	if p := c.probes.Temperature; p != nil {
		if v, err := p(); err == nil {
			s.TempC = v
		}
	}
	if p := c.probes.Battery; p != nil {
		if mv, pct, err := p(); err == nil {
			s.BatteryMV = mv
			s.BatteryPct = pct
		}
	}
	if p := c.probes.RSSI; p != nil {
		if v, err := p(); err == nil {
			s.RSSIDBm = v
		}
	}
	c.mu.Lock()
	c.ring[c.head] = s
	c.head = (c.head + 1) % RingSize
	if c.n < RingSize {
		c.n++
	}
	c.mu.Unlock()
	c.cache.Store(&s)
	if c.onSample != nil {
		c.onSample(s)
	}
	return s
}

// Run samples at the configured interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	tick := time.NewTicker(c.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			c.Poll(now)
		}
	}
}

// Latest returns the most recent sample, if any has been taken.
func (c *Collector) Latest() (Sample, bool) {
	if s := c.cache.Load(); s != nil {
		return *s, true
	}
	return Sample{}, false
}

// History returns the retained samples, oldest first.
func (c *Collector) History() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, 0, c.n)
	for i := 0; i < c.n; i++ {
		out = append(out, c.ring[(c.head-c.n+i+RingSize)%RingSize])
	}
	return out
}
