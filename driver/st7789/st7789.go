// Package st7789 drives an ST7789 TFT controller over an 8-bit parallel
// bus. It owns the controller bring-up state machine, the per-frame window
// addressing, and the handoff of pixel data to the transfer engine.
package st7789

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/dma"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/i80"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/viewport"
)

// Command set, from the ST7789VW datasheet.
const (
	NOP     = 0x00
	SWRESET = 0x01 // Software Reset
	SLPIN   = 0x10 // Sleep In
	SLPOUT  = 0x11 // Sleep Out
	NORON   = 0x13 // Normal Display Mode On
	INVOFF  = 0x20 // Display Inversion Off
	INVON   = 0x21 // Display Inversion On
	DISPOFF = 0x28 // Display Off
	DISPON  = 0x29 // Display On
	CASET   = 0x2A // Column Address Set
	RASET   = 0x2B // Row Address Set
	RAMWR   = 0x2C // Memory Write
	TEOFF   = 0x34 // Tearing Effect Line Off
	TEON    = 0x35 // Tearing Effect Line On
	MADCTL  = 0x36 // Memory Data Access Control
	COLMOD  = 0x3A // Interface Pixel Format
)

const (
	MADCTL_MY  = 1 << 7 // row address order
	MADCTL_MX  = 1 << 6 // column address order
	MADCTL_MV  = 1 << 5 // row/column exchange
	MADCTL_ML  = 1 << 4 // vertical refresh order
	MADCTL_BGR = 1 << 3 // BGR subpixel order
	MADCTL_MH  = 1 << 2 // horizontal refresh order
)

// COLMOD value for 16-bit RGB565 over a 16-bit interface.
const colmod16bpp = 0x55

// Datasheet section 7.4.1, reset timing, with margin. Controllers given
// less than the settle delay after reset drop configuration commands and
// come up blank.
const (
	resetHold   = 10 * time.Millisecond
	resetSettle = 120 * time.Millisecond
	cmdSettle   = 150 * time.Millisecond
)

// State is the controller protocol state.
type State uint8

const (
	StateUninitialized State = iota
	StateResetting
	StateConfiguring
	StateIdle
	StateTransferring
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateResetting:
		return "resetting"
	case StateConfiguring:
		return "configuring"
	case StateIdle:
		return "idle"
	case StateTransferring:
		return "transferring"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	ErrState   = errors.New("st7789: operation not valid in this state")
	ErrFaulted = errors.New("st7789: controller faulted")
)

// Config fixes the panel parameters. Changing any of them requires a full
// Reset; there is no mid-stream reconfiguration.
type Config struct {
	Viewport viewport.Config
	// Invert enables display inversion; the panel's native polarity
	// requires it.
	Invert bool
	// BGR selects BGR subpixel order. Like the mirror flags, a per-unit
	// calibration value.
	BGR bool
	// ChunkRows is the number of pixel rows handed to the transfer
	// engine per submission.
	ChunkRows int
}

// Device is an ST7789 on a parallel bus.
type Device struct {
	bus i80.Bus
	eng *dma.Engine
	vp  *viewport.Mapper
	cfg Config

	// staging holds gathered rows for windows narrower than the frame.
	staging []byte

	mu     sync.Mutex
	state  State
	asleep bool
	err    error
	cache  atomic.Pointer[Status]

	lit bool
}

// Status is a snapshot of the controller for external collaborators.
type Status struct {
	State     State
	Asleep    bool
	LastError error
}

func New(bus i80.Bus, eng *dma.Engine, cfg Config) (*Device, error) {
	vp, err := viewport.New(cfg.Viewport)
	if err != nil {
		return nil, err
	}
	if cfg.ChunkRows < 1 {
		return nil, fmt.Errorf("st7789: chunk rows %d", cfg.ChunkRows)
	}
	rowBytes := cfg.Viewport.Width * 2
	if cfg.ChunkRows*rowBytes > eng.Capacity() {
		return nil, fmt.Errorf("st7789: %d rows of %d bytes exceed transfer capacity %d",
			cfg.ChunkRows, rowBytes, eng.Capacity())
	}
	return &Device{
		bus:     bus,
		eng:     eng,
		vp:      vp,
		cfg:     cfg,
		staging: make([]byte, cfg.ChunkRows*rowBytes),
		state:   StateUninitialized,
	}, nil
}

// Mapper returns the device's validated viewport transform.
func (d *Device) Mapper() *viewport.Mapper {
	return d.vp
}

// Bounds is the visible panel area in logical coordinates.
func (d *Device) Bounds() image.Rectangle {
	return d.vp.Bounds()
}

// State returns the current protocol state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Status returns a best-effort snapshot. It never blocks: under
// contention it serves the last published snapshot instead.
func (d *Device) Status() Status {
	if !d.mu.TryLock() {
		if s := d.cache.Load(); s != nil {
			return *s
		}
		return Status{}
	}
	defer d.mu.Unlock()
	d.publish()
	return *d.cache.Load()
}

// publish refreshes the snapshot cache. Callers hold mu.
func (d *Device) publish() {
	d.cache.Store(&Status{State: d.state, Asleep: d.asleep, LastError: d.err})
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.publish()
	d.mu.Unlock()
}

func (d *Device) fault(err error) error {
	d.mu.Lock()
	d.state = StateFaulted
	d.err = err
	d.publish()
	d.mu.Unlock()
	return err
}

// Configure brings the controller from power-on to Idle: hardware reset,
// settle, then the configuration sequence in its mandatory order ending
// with display-on. The panel memory is cleared before display-on so the
// first visible frame is never power-on garbage.
func (d *Device) Configure(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateUninitialized {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: configure from %v", ErrState, state)
	}
	d.state = StateResetting
	d.publish()
	d.mu.Unlock()

	if err := d.bus.Reset(resetHold, resetSettle); err != nil {
		return d.fault(fmt.Errorf("st7789: reset: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return d.fault(err)
	}
	d.setState(StateConfiguring)

	madctl := byte(0)
	if d.cfg.Viewport.SwapXY {
		madctl |= MADCTL_MV
	}
	if d.cfg.Viewport.MirrorX {
		madctl |= MADCTL_MX
	}
	if d.cfg.Viewport.MirrorY {
		madctl |= MADCTL_MY
	}
	if d.cfg.BGR {
		madctl |= MADCTL_BGR
	}
	invert := byte(INVOFF)
	if d.cfg.Invert {
		invert = INVON
	}

	initCmd := []byte{
		SWRESET, 0x80,
		SLPOUT, 0x80,
		COLMOD, 1, colmod16bpp,
		MADCTL, 1, madctl,
		invert, 0,
		NOP,
	}
	for i, c := 0, len(initCmd); i < c; {
		cmd := initCmd[i]
		if cmd == NOP {
			break
		}
		x := initCmd[i+1]
		numArgs := int(x & 0x7F)
		if err := d.bus.WriteCommand(cmd, initCmd[i+2:i+2+numArgs]...); err != nil {
			return d.fault(fmt.Errorf("st7789: configure %#.2x: %w", cmd, err))
		}
		if x&0x80 > 0 {
			if err := sleep(ctx, cmdSettle); err != nil {
				return d.fault(err)
			}
		}
		i += numArgs + 2
	}

	// Clear controller memory while the display is still off.
	blank := rgb565.New(d.Bounds())
	if err := d.writeFrame(blank, d.Bounds()); err != nil {
		return d.fault(fmt.Errorf("st7789: clear: %w", err))
	}

	if err := d.bus.WriteCommand(DISPON); err != nil {
		return d.fault(fmt.Errorf("st7789: configure %#.2x: %w", byte(DISPON), err))
	}

	d.mu.Lock()
	d.state = StateIdle
	d.asleep = false
	d.err = nil
	d.publish()
	d.mu.Unlock()
	return nil
}

// Reset recovers a faulted controller by re-running the full bring-up.
// It is the only exit from the faulted state and is never taken
// automatically. A healthy transfer in flight blocks the reset, but a
// controller stuck in Transferring behind a faulted engine does not:
// that frame is already lost and completes with the engine's fault.
func (d *Device) Reset(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateTransferring && d.eng.Fault() == nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: reset while transferring", ErrState)
	}
	d.state = StateUninitialized
	d.publish()
	d.mu.Unlock()
	if err := d.eng.Reset(); err != nil {
		return d.fault(fmt.Errorf("st7789: reset engine: %w", err))
	}
	return d.Configure(ctx)
}

// Frame is the completion handle of one submitted frame.
type Frame struct {
	done chan struct{}
	err  error
}

func (f *Frame) Done() <-chan struct{} {
	return f.done
}

func (f *Frame) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the frame outcome. It is nil until completion.
func (f *Frame) Err() error {
	if !f.Completed() {
		return nil
	}
	return f.err
}

// Draw submits the pixels of img covered by r. It is valid only from
// Idle; the controller is Transferring until the returned frame
// completes, at which point the buffer is handed back to the renderer.
func (d *Device) Draw(img *rgb565.Image, r image.Rectangle) (*Frame, error) {
	r = r.Intersect(img.Bounds())
	cols, rows, err := d.vp.Map(r)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.state != StateIdle || d.asleep {
		state, asleep := d.state, d.asleep
		d.mu.Unlock()
		if state == StateFaulted {
			return nil, fmt.Errorf("%w: %w", ErrFaulted, d.LastError())
		}
		if asleep {
			return nil, fmt.Errorf("%w: draw while asleep", ErrState)
		}
		return nil, fmt.Errorf("%w: draw from %v", ErrState, state)
	}
	d.state = StateTransferring
	d.publish()
	d.mu.Unlock()

	f := &Frame{done: make(chan struct{})}
	go func() {
		err := d.writeWindow(img, r, cols, rows)
		d.finishFrame(err)
		f.err = err
		close(f.done)
	}()
	return f, nil
}

// finishFrame moves the controller out of Transferring when the frame
// goroutine ends. A reset may already have torn the state down; a late
// completion must not clobber the new bring-up.
func (d *Device) finishFrame(err error) {
	d.mu.Lock()
	if d.state != StateTransferring {
		d.mu.Unlock()
		return
	}
	if err != nil {
		d.state = StateFaulted
		d.err = err
		d.publish()
		d.mu.Unlock()
		return
	}
	d.state = StateIdle
	d.publish()
	d.mu.Unlock()
	d.light()
}

// light turns the backlight on after the first successful frame, so power
// on never shows the panel mid-clear.
func (d *Device) light() {
	d.mu.Lock()
	lit := d.lit
	d.lit = true
	d.mu.Unlock()
	if lit {
		return
	}
	if bl, ok := d.bus.(i80.Backlighter); ok {
		bl.SetBacklight(true)
	}
}

// writeFrame addresses and writes r of img synchronously.
func (d *Device) writeFrame(img *rgb565.Image, r image.Rectangle) error {
	cols, rows, err := d.vp.Map(r)
	if err != nil {
		return err
	}
	return d.writeWindow(img, r, cols, rows)
}

// writeWindow issues the window address commands and streams the pixel
// rows through the transfer engine. The window is re-addressed on every
// frame; controllers that reset their write pointer on address commands
// drift if stale windows are reused.
func (d *Device) writeWindow(img *rgb565.Image, r image.Rectangle, cols, rows viewport.Span) error {
	var cmdErr error
	sendCommand := func(cmd byte, data ...byte) {
		if cmdErr != nil {
			return
		}
		cmdErr = d.bus.WriteCommand(cmd, data...)
	}
	sendCommand(CASET, byte(cols.Start>>8), byte(cols.Start), byte(cols.End>>8), byte(cols.End))
	sendCommand(RASET, byte(rows.Start>>8), byte(rows.Start), byte(rows.End>>8), byte(rows.End))
	sendCommand(RAMWR)
	if cmdErr != nil {
		return fmt.Errorf("st7789: window: %w", cmdErr)
	}

	if r.Min.X == img.Rect.Min.X && r.Dx() == img.Stride {
		return d.writeContiguous(img, r)
	}
	return d.writeGathered(img, r)
}

// writeContiguous streams full-width rows straight out of the frame
// buffer, pipelining as deep as the engine allows.
func (d *Device) writeContiguous(img *rgb565.Image, r image.Rectangle) error {
	rowBytes := img.Stride * 2
	raw := img.Bytes()
	start := img.PixOffset(r.Min.X, r.Min.Y) * 2
	var handles []*dma.Transfer
	for y := 0; y < r.Dy(); y += d.cfg.ChunkRows {
		n := min(d.cfg.ChunkRows, r.Dy()-y)
		off := start + y*rowBytes
		t, err := d.eng.Submit(raw[off : off+n*rowBytes])
		if err != nil {
			return err
		}
		handles = append(handles, t)
	}
	for _, t := range handles {
		<-t.Done()
		if err := t.Err(); err != nil {
			return err
		}
	}
	return nil
}

// writeGathered copies partial rows into the staging buffer one batch at
// a time. Each batch must complete before the staging is reused.
func (d *Device) writeGathered(img *rgb565.Image, r image.Rectangle) error {
	rowBytes := r.Dx() * 2
	for y := 0; y < r.Dy(); y += d.cfg.ChunkRows {
		n := min(d.cfg.ChunkRows, r.Dy()-y)
		for row := 0; row < n; row++ {
			off := img.PixOffset(r.Min.X, r.Min.Y+y+row)
			src := img.Pix[off : off+r.Dx()]
			for i, px := range src {
				d.staging[row*rowBytes+2*i] = px[0]
				d.staging[row*rowBytes+2*i+1] = px[1]
			}
		}
		t, err := d.eng.Submit(d.staging[:n*rowBytes])
		if err != nil {
			return err
		}
		<-t.Done()
		if err := t.Err(); err != nil {
			return err
		}
	}
	return nil
}

// LastError returns the error that faulted the controller, if any.
func (d *Device) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Sleep blanks the panel and enters the controller's low power mode.
// Configuration is retained; Wake resumes without a full bring-up.
func (d *Device) Sleep() error {
	d.mu.Lock()
	if d.state != StateIdle || d.asleep {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: sleep from %v", ErrState, state)
	}
	d.mu.Unlock()
	var cmdErr error
	for _, cmd := range []byte{DISPOFF, SLPIN} {
		if cmdErr == nil {
			cmdErr = d.bus.WriteCommand(cmd)
		}
	}
	if cmdErr != nil {
		return d.fault(fmt.Errorf("st7789: sleep: %w", cmdErr))
	}
	if bl, ok := d.bus.(i80.Backlighter); ok {
		bl.SetBacklight(false)
	}
	d.mu.Lock()
	d.asleep = true
	d.lit = false
	d.publish()
	d.mu.Unlock()
	return nil
}

// Wake leaves low power mode and turns the display back on.
func (d *Device) Wake(ctx context.Context) error {
	d.mu.Lock()
	if !d.asleep {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	if err := d.bus.WriteCommand(SLPOUT); err != nil {
		return d.fault(fmt.Errorf("st7789: wake: %w", err))
	}
	if err := sleep(ctx, resetSettle); err != nil {
		return d.fault(err)
	}
	if err := d.bus.WriteCommand(DISPON); err != nil {
		return d.fault(fmt.Errorf("st7789: wake: %w", err))
	}
	d.mu.Lock()
	d.asleep = false
	d.publish()
	d.mu.Unlock()
	return nil
}

// Close releases the bus. The device is unusable afterwards.
func (d *Device) Close() error {
	d.setState(StateUninitialized)
	return d.bus.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
