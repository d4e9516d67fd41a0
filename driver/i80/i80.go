// Package i80 drives an 8-bit Intel 8080 style parallel display bus. A
// byte is presented on the data lines and latched by a rising edge on the
// write strobe; the DC line selects between command and parameter/pixel
// bytes. Commands and pixel data are distinct operations so that
// controller configuration can never be misread as pixels.
package i80

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// ErrDeviceUnavailable reports that the bus peripheral could not be
// claimed.
var ErrDeviceUnavailable = errors.New("i80: device unavailable")

// DefaultFreq is the panel family's pixel clock ceiling.
const DefaultFreq = 20 * physic.MegaHertz

// Bus is the controller-facing surface of the parallel bus.
// WriteCommand blocks until the command and its parameters are on the
// wire. WritePixels writes one chunk of the data phase; chunking and
// completion are the transfer engine's concern.
type Bus interface {
	WriteCommand(cmd byte, params ...byte) error
	WritePixels(p []byte) error
	Reset(hold, settle time.Duration) error
	Close() error
}

// Backlighter is implemented by buses that control panel backlight.
type Backlighter interface {
	SetBacklight(on bool) error
}

// Pins names the GPIO lines of the bus in gpioreg terms.
type Pins struct {
	Data      [8]string
	WR        string
	DC        string
	CS        string
	RST       string
	Backlight string
	Power     string
}

// Config fixes the bus parameters at open time. There is no runtime
// reconfiguration; changing any of these requires reopening the bus and
// re-initializing the controller.
type Config struct {
	// Freq caps the pixel clock. The GPIO implementation strobes far
	// below any plausible ceiling; DMA-capable hardware uses it as the
	// peripheral clock.
	Freq physic.Frequency
	// ChunkRows is the number of rows handed to the transfer engine per
	// submission.
	ChunkRows int
	// QueueDepth bounds in-flight transfers. Depth 1 is synchronous and
	// cannot tear; deeper queues pipeline at tearing risk.
	QueueDepth int
	// SwapBytes emits pixel samples high byte first for panels that
	// consume big-endian data.
	SwapBytes bool
	Pins      Pins
}

func (c *Config) validate() error {
	if c.Freq == 0 {
		c.Freq = DefaultFreq
	}
	if c.Freq < 0 || c.Freq > DefaultFreq {
		return fmt.Errorf("i80: clock %v outside (0, %v]", c.Freq, DefaultFreq)
	}
	if c.ChunkRows < 1 {
		return fmt.Errorf("i80: chunk rows %d", c.ChunkRows)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("i80: queue depth %d", c.QueueDepth)
	}
	return nil
}

// GPIO is a bit-banged Bus on periph.io pins.
type GPIO struct {
	cfg  Config
	data [8]gpio.PinOut
	wr   gpio.PinOut
	dc   gpio.PinOut
	cs   gpio.PinOut
	rst  gpio.PinOut
	bl   gpio.PinOut
	pwr  gpio.PinOut
}

// Open claims the bus pins and drives them to their idle levels.
func Open(cfg Config) (*GPIO, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	b := &GPIO{cfg: cfg}
	claim := func(name string) (gpio.PinOut, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: no pin %q", ErrDeviceUnavailable, name)
		}
		return p, nil
	}
	var err error
	for i, name := range cfg.Pins.Data {
		if b.data[i], err = claim(name); err != nil {
			return nil, err
		}
	}
	if b.wr, err = claim(cfg.Pins.WR); err != nil {
		return nil, err
	}
	if b.dc, err = claim(cfg.Pins.DC); err != nil {
		return nil, err
	}
	if b.cs, err = claim(cfg.Pins.CS); err != nil {
		return nil, err
	}
	if b.rst, err = claim(cfg.Pins.RST); err != nil {
		return nil, err
	}
	if cfg.Pins.Backlight != "" {
		if b.bl, err = claim(cfg.Pins.Backlight); err != nil {
			return nil, err
		}
	}
	if cfg.Pins.Power != "" {
		if b.pwr, err = claim(cfg.Pins.Power); err != nil {
			return nil, err
		}
	}
	if err := b.idle(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *GPIO) Config() Config {
	return b.cfg
}

// idle parks every line: data low, strobe and selects high, panel power on.
func (b *GPIO) idle() error {
	var werr error
	out := func(p gpio.PinOut, l gpio.Level) {
		if p != nil && werr == nil {
			werr = p.Out(l)
		}
	}
	for _, p := range b.data {
		out(p, gpio.Low)
	}
	out(b.cs, gpio.High)
	out(b.wr, gpio.High)
	out(b.dc, gpio.High)
	out(b.rst, gpio.High)
	out(b.pwr, gpio.High)
	if werr != nil {
		return fmt.Errorf("i80: %w", werr)
	}
	return nil
}

// writeByte presents v on the data lines and latches it with one strobe.
func (b *GPIO) writeByte(v byte) error {
	var werr error
	out := func(p gpio.PinOut, l gpio.Level) {
		if werr == nil {
			werr = p.Out(l)
		}
	}
	for i, p := range b.data {
		out(p, gpio.Level(v&(1<<i) != 0))
	}
	// Data latches on the rising edge. Pin writes are slow enough to
	// satisfy the controller's strobe hold times on their own.
	out(b.wr, gpio.Low)
	out(b.wr, gpio.High)
	return werr
}

func (b *GPIO) WriteCommand(cmd byte, params ...byte) error {
	var werr error
	out := func(p gpio.PinOut, l gpio.Level) {
		if werr == nil {
			werr = p.Out(l)
		}
	}
	wr := func(v byte) {
		if werr == nil {
			werr = b.writeByte(v)
		}
	}
	out(b.cs, gpio.Low)
	out(b.dc, gpio.Low)
	wr(cmd)
	out(b.dc, gpio.High)
	for _, p := range params {
		wr(p)
	}
	out(b.cs, gpio.High)
	if werr != nil {
		return fmt.Errorf("i80: command %#.2x: %w", cmd, werr)
	}
	return nil
}

func (b *GPIO) WritePixels(p []byte) error {
	var werr error
	out := func(pin gpio.PinOut, l gpio.Level) {
		if werr == nil {
			werr = pin.Out(l)
		}
	}
	out(b.cs, gpio.Low)
	out(b.dc, gpio.High)
	for _, v := range p {
		if werr != nil {
			break
		}
		werr = b.writeByte(v)
	}
	out(b.cs, gpio.High)
	if werr != nil {
		return fmt.Errorf("i80: pixel write: %w", werr)
	}
	return nil
}

// Reset pulses the reset line low for hold, then waits settle before the
// controller may be addressed again.
func (b *GPIO) Reset(hold, settle time.Duration) error {
	var werr error
	out := func(p gpio.PinOut, l gpio.Level) {
		if werr == nil {
			werr = p.Out(l)
		}
	}
	out(b.rst, gpio.High)
	time.Sleep(hold)
	out(b.rst, gpio.Low)
	time.Sleep(hold)
	out(b.rst, gpio.High)
	time.Sleep(settle)
	if werr != nil {
		return fmt.Errorf("i80: reset: %w", werr)
	}
	return nil
}

func (b *GPIO) SetBacklight(on bool) error {
	if b.bl == nil {
		return nil
	}
	if err := b.bl.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("i80: backlight: %w", err)
	}
	return nil
}

// Close releases the panel: backlight off, power down, lines idle.
func (b *GPIO) Close() error {
	var werr error
	out := func(p gpio.PinOut, l gpio.Level) {
		if p != nil && werr == nil {
			werr = p.Out(l)
		}
	}
	out(b.bl, gpio.Low)
	out(b.pwr, gpio.Low)
	out(b.cs, gpio.High)
	if werr != nil {
		return fmt.Errorf("i80: close: %w", werr)
	}
	return nil
}
