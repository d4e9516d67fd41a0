package display

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/dma"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/st7789"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/viewport"
)

type fakeCompletion struct {
	done chan struct{}
	err  error
}

func (c *fakeCompletion) Done() <-chan struct{} { return c.done }

func (c *fakeCompletion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

type fakeProducer struct {
	color rgb565.Color
	calls int
	err   error
}

func (f *fakeProducer) RenderInto(img *rgb565.Image) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	img.Fill(img.Rect, f.color)
	return nil
}

func newTestPipeline(t *testing.T, prod FrameProducer, sched *Scheduler, timeout time.Duration) (*Pipeline, *st7789.Simulator) {
	t.Helper()
	sim := st7789.NewSimulator(240, 360)
	eng, err := dma.New(sim, dma.Config{QueueDepth: 1, SwapBytes: true, Timeout: timeout})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	dev, err := st7789.New(sim, eng, st7789.Config{
		Viewport: viewport.Config{
			Width:     320,
			Height:    170,
			SwapXY:    true,
			MirrorY:   true,
			GapY:      35,
			MemWidth:  240,
			MemHeight: 360,
		},
		Invert:    true,
		ChunkRows: 12,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Configure(context.Background()); err != nil {
		t.Fatal(err)
	}
	p, err := NewPipeline(dev, prod, sched)
	if err != nil {
		t.Fatal(err)
	}
	return p, sim
}

func TestDoubleBufferOwnership(t *testing.T) {
	b, err := NewDoubleBuffer(image.Rect(0, 0, 8, 4))
	if err != nil {
		t.Fatal(err)
	}
	back := b.Back()
	if b.Front() == back {
		t.Fatal("front and back are the same buffer")
	}
	if !b.FrontIdle() {
		t.Fatal("fresh buffer not idle")
	}

	c1 := &fakeCompletion{done: make(chan struct{})}
	if err := b.Swap(c1); err != nil {
		t.Fatal(err)
	}
	if b.Front() != back {
		t.Error("swap did not move the back buffer to the front")
	}
	if b.FrontIdle() {
		t.Error("front idle while its transfer runs")
	}
	if err := b.Swap(&fakeCompletion{done: make(chan struct{})}); !errors.Is(err, ErrBusy) {
		t.Fatalf("swap over a running transfer = %v, want %v", err, ErrBusy)
	}

	close(c1.done)
	if !b.FrontIdle() {
		t.Error("front busy after completion")
	}
	if err := b.Swap(&fakeCompletion{done: make(chan struct{})}); err != nil {
		t.Fatal(err)
	}
	if b.Back() != back {
		t.Error("second swap did not hand the first buffer back")
	}
}

func TestSchedulerDefaults(t *testing.T) {
	s := NewScheduler()
	if s.Interval != time.Second/60 {
		t.Errorf("interval = %v, want %v", s.Interval, time.Second/60)
	}
	if s.WaitTimeout != 2*s.Interval {
		t.Errorf("wait timeout = %v", s.WaitTimeout)
	}
	if s.Policy != Drop {
		t.Errorf("policy = %v, want %v", s.Policy, Drop)
	}
}

func TestSchedulerCapsRate(t *testing.T) {
	s := NewScheduler()
	base := time.Now()
	renders := 0
	// One simulated second of millisecond ticks from an arbitrarily
	// fast producer.
	for i := 0; i < 1000; i++ {
		if s.ShouldRender(base.Add(time.Duration(i) * time.Millisecond)) {
			renders++
		}
	}
	if renders > 61 {
		t.Errorf("%d renders in one second exceeds the 60 fps cap", renders)
	}
	if renders < 55 {
		t.Errorf("%d renders in one second, want about 60", renders)
	}
}

func TestStatsWindow(t *testing.T) {
	var s Stats
	step := 0
	base := time.Now()
	s.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * 10 * time.Millisecond)
	}
	for i := 1; i <= 70; i++ {
		s.RecordFrame(time.Duration(i) * time.Millisecond)
	}
	s.RecordDrop()

	snap := s.Snapshot()
	if snap.Frames != 70 {
		t.Errorf("frames = %d, want 70", snap.Frames)
	}
	if snap.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", snap.Dropped)
	}
	if snap.Last != 70*time.Millisecond {
		t.Errorf("last = %v, want 70ms", snap.Last)
	}
	// The window holds the most recent 60 samples only.
	if snap.Min != 11*time.Millisecond {
		t.Errorf("min = %v, want 11ms", snap.Min)
	}
	if snap.Max != 70*time.Millisecond {
		t.Errorf("max = %v, want 70ms", snap.Max)
	}
	if want := 40*time.Millisecond + 500*time.Microsecond; snap.Avg != want {
		t.Errorf("avg = %v, want %v", snap.Avg, want)
	}
	// 59 intervals of 10ms between the 60 retained samples.
	if math.Abs(snap.FPS-100) > 1e-6 {
		t.Errorf("fps = %v, want 100", snap.FPS)
	}
}

func TestPipelineFrame(t *testing.T) {
	cyan := rgb565.RGB888ToRGB565(0, 0xFF, 0xFF)
	prod := &fakeProducer{color: cyan}
	p, sim := newTestPipeline(t, prod, nil, dma.DefaultTimeout)

	ctx := context.Background()
	if err := p.Frame(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if prod.calls != 1 {
		t.Errorf("producer called %d times, want 1", prod.calls)
	}
	if got := sim.RAM().Pix[200*240+85]; got != cyan {
		t.Errorf("panel pixel = %v, want %v", got, cyan)
	}

	st := p.Status()
	if st.State != st7789.StateIdle {
		t.Errorf("state = %v, want %v", st.State, st7789.StateIdle)
	}
	if st.Frames != 1 || st.Dropped != 0 {
		t.Errorf("frames = %d dropped = %d, want 1 and 0", st.Frames, st.Dropped)
	}
	if st.LastFrame <= 0 {
		t.Errorf("last frame duration = %v", st.LastFrame)
	}
	if st.LastError != nil {
		t.Errorf("last error = %v", st.LastError)
	}
}

func TestPipelineDropPolicy(t *testing.T) {
	prod := &fakeProducer{color: rgb565.RGB888ToRGB565(0xFF, 0, 0)}
	p, sim := newTestPipeline(t, prod, nil, 5*time.Second)
	ctx := context.Background()

	release := sim.StallPixels()
	if err := p.Frame(ctx); err != nil {
		t.Fatal(err)
	}
	// The first frame is still in flight; this tick must drop, not
	// queue and not touch the in-flight buffer.
	if err := p.Frame(ctx); err != nil {
		t.Fatal(err)
	}
	snap := p.Stats().Snapshot()
	if snap.Frames != 1 || snap.Dropped != 1 {
		t.Fatalf("frames = %d dropped = %d, want 1 and 1", snap.Frames, snap.Dropped)
	}
	if prod.calls != 2 {
		t.Errorf("producer called %d times, want 2", prod.calls)
	}

	release()
	if err := p.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Frame(ctx); err != nil {
		t.Fatal(err)
	}
	if snap := p.Stats().Snapshot(); snap.Frames != 2 {
		t.Errorf("frames = %d, want 2", snap.Frames)
	}
}

func TestPipelineBlockPolicy(t *testing.T) {
	sched := NewScheduler()
	sched.Policy = Block
	sched.WaitTimeout = 30 * time.Millisecond
	prod := &fakeProducer{}
	p, sim := newTestPipeline(t, prod, sched, 5*time.Second)
	ctx := context.Background()

	release := sim.StallPixels()
	if err := p.Frame(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := p.Frame(ctx); err != nil {
		t.Fatal(err)
	}
	if waited := time.Since(start); waited < sched.WaitTimeout {
		t.Errorf("blocked for %v, want at least %v", waited, sched.WaitTimeout)
	}
	if snap := p.Stats().Snapshot(); snap.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", snap.Dropped)
	}

	// With the transfer completing inside the wait window the tick
	// submits instead of dropping.
	sched.WaitTimeout = 5 * time.Second
	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()
	if err := p.Frame(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if snap := p.Stats().Snapshot(); snap.Frames != 2 || snap.Dropped != 1 {
		t.Errorf("frames = %d dropped = %d, want 2 and 1", snap.Frames, snap.Dropped)
	}
}

func TestPipelineProducerError(t *testing.T) {
	boom := errors.New("render boom")
	prod := &fakeProducer{err: boom}
	p, _ := newTestPipeline(t, prod, nil, dma.DefaultTimeout)

	if err := p.Frame(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("frame error = %v, want %v", err, boom)
	}
	st := p.Status()
	if st.LastError == nil {
		t.Error("last error not recorded")
	}
	if st.State != st7789.StateIdle {
		t.Errorf("state = %v, a render failure must not touch the device", st.State)
	}
	if st.Frames != 0 {
		t.Errorf("frames = %d, want 0", st.Frames)
	}
}

func TestPipelineRun(t *testing.T) {
	sched := NewScheduler()
	sched.Interval = 2 * time.Millisecond
	prod := &fakeProducer{}
	p, _ := newTestPipeline(t, prod, sched, dma.DefaultTimeout)

	pets := 0
	p.Pet = func() { pets++ }

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run = %v, want deadline exceeded", err)
	}
	if prod.calls < 5 {
		t.Errorf("producer called %d times, want a steady cadence", prod.calls)
	}
	if pets < 5 {
		t.Errorf("watchdog petted %d times", pets)
	}
	if snap := p.Stats().Snapshot(); snap.Frames < 5 {
		t.Errorf("frames = %d", snap.Frames)
	}
}
