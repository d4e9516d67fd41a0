package st7789

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/dma"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/i80"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/viewport"
)

var (
	_ i80.Bus         = (*Simulator)(nil)
	_ i80.Backlighter = (*Simulator)(nil)
	_ dma.Sink        = (*Simulator)(nil)
)

// Simulator is a software ST7789 panel on a software bus. It enforces the
// controller's command sequencing rules, keeps panel memory, and records
// the command stream, standing in for real hardware in tests and in the
// host build's display window.
//
// The panel consumes pixel samples high byte first, like the glass. A bus
// configured without byte swapping shows up here the same way it would on
// hardware: as swapped colors in memory, not as an error.
type Simulator struct {
	mu sync.Mutex

	memW, memH int
	ram        *rgb565.Image

	awake     bool
	colmod    byte
	madctl    byte
	madctlSet bool
	inverted  bool
	displayOn bool
	backlight bool
	resets    int

	cols, rows     viewport.Span
	casetFresh     bool
	rasetFresh     bool
	inRAMWR        bool
	writeIdx       int
	pendingByte    byte
	hasPendingByte bool

	cmds  []byte
	stall chan struct{}

	closed bool
}

// PanelState is a snapshot of the simulated panel's configuration.
type PanelState struct {
	Awake     bool
	DisplayOn bool
	Inverted  bool
	Backlight bool
	MADCTL    byte
	COLMOD    byte
	Resets    int
}

// Simulator-enforced panel timing. Shorter reset pulses or settles are
// exactly the class of bug that leaves real panels blank or corrupted, so
// the simulator treats them as hard errors.
const (
	MinResetHold   = 10 * time.Millisecond
	MinResetSettle = 100 * time.Millisecond
)

func NewSimulator(memW, memH int) *Simulator {
	return &Simulator{
		memW: memW,
		memH: memH,
		ram:  rgb565.New(image.Rect(0, 0, memW, memH)),
	}
}

func (s *Simulator) Reset(hold, settle time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("st7789: simulator closed")
	}
	if hold < MinResetHold {
		return fmt.Errorf("st7789: reset pulse %v below minimum %v", hold, MinResetHold)
	}
	if settle < MinResetSettle {
		return fmt.Errorf("st7789: reset settle %v below minimum %v", settle, MinResetSettle)
	}
	s.resets++
	// A hardware reset also releases a wedged bus; writes that were
	// parked behind the stall fail against the post-reset state.
	s.releaseStallLocked()
	s.powerOnDefaults()
	return nil
}

// powerOnDefaults is the post-reset register state. Callers hold mu.
func (s *Simulator) powerOnDefaults() {
	s.awake = false
	s.colmod = 0
	s.madctl = 0
	s.madctlSet = false
	s.inverted = false
	s.displayOn = false
	s.casetFresh = false
	s.rasetFresh = false
	s.inRAMWR = false
	s.hasPendingByte = false
}

func (s *Simulator) WriteCommand(cmd byte, params ...byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("st7789: simulator closed")
	}
	s.cmds = append(s.cmds, cmd)
	// Any command terminates a running memory write.
	s.inRAMWR = false
	s.hasPendingByte = false

	argc := func(n int) error {
		if len(params) != n {
			return fmt.Errorf("st7789: command %#.2x takes %d parameters, got %d", cmd, n, len(params))
		}
		return nil
	}
	requireAwake := func() error {
		if !s.awake {
			return fmt.Errorf("st7789: command %#.2x while asleep", cmd)
		}
		return nil
	}

	switch cmd {
	case NOP:
		return nil
	case SWRESET:
		if err := argc(0); err != nil {
			return err
		}
		s.powerOnDefaults()
		return nil
	case SLPOUT:
		if err := argc(0); err != nil {
			return err
		}
		s.awake = true
		return nil
	case SLPIN:
		if err := argc(0); err != nil {
			return err
		}
		s.awake = false
		return nil
	case COLMOD:
		if err := argc(1); err != nil {
			return err
		}
		if err := requireAwake(); err != nil {
			return err
		}
		if params[0] != colmod16bpp {
			return fmt.Errorf("st7789: unsupported pixel format %#.2x", params[0])
		}
		s.colmod = params[0]
		return nil
	case MADCTL:
		if err := argc(1); err != nil {
			return err
		}
		if err := requireAwake(); err != nil {
			return err
		}
		s.madctl = params[0]
		s.madctlSet = true
		return nil
	case INVON, INVOFF:
		if err := argc(0); err != nil {
			return err
		}
		if err := requireAwake(); err != nil {
			return err
		}
		s.inverted = cmd == INVON
		return nil
	case CASET, RASET:
		if err := argc(4); err != nil {
			return err
		}
		if err := requireAwake(); err != nil {
			return err
		}
		// Orientation must be fixed before any addressing; windows set
		// against a default orientation land shifted once it changes.
		if s.colmod == 0 || !s.madctlSet {
			return fmt.Errorf("st7789: command %#.2x before pixel format and orientation", cmd)
		}
		span := viewport.Span{
			Start: int(params[0])<<8 | int(params[1]),
			End:   int(params[2])<<8 | int(params[3]),
		}
		limit := s.memW
		if cmd == RASET {
			limit = s.memH
		}
		if span.Start > span.End || span.End >= limit {
			return fmt.Errorf("st7789: command %#.2x window %d-%d outside memory", cmd, span.Start, span.End)
		}
		if cmd == CASET {
			s.cols = span
			s.casetFresh = true
		} else {
			s.rows = span
			s.rasetFresh = true
		}
		return nil
	case RAMWR:
		if err := argc(0); err != nil {
			return err
		}
		if err := requireAwake(); err != nil {
			return err
		}
		// The write pointer drifts unless the window is re-addressed
		// before every memory write.
		if !s.casetFresh || !s.rasetFresh {
			return errors.New("st7789: memory write without fresh window")
		}
		s.casetFresh = false
		s.rasetFresh = false
		s.inRAMWR = true
		s.writeIdx = 0
		return nil
	case DISPON:
		if err := argc(0); err != nil {
			return err
		}
		if err := requireAwake(); err != nil {
			return err
		}
		if s.colmod == 0 || !s.madctlSet {
			return errors.New("st7789: display on before pixel format and orientation")
		}
		s.displayOn = true
		return nil
	case DISPOFF:
		if err := argc(0); err != nil {
			return err
		}
		s.displayOn = false
		return nil
	case TEON, TEOFF, NORON:
		return nil
	default:
		return fmt.Errorf("st7789: invalid command %#.2x", cmd)
	}
}

func (s *Simulator) WritePixels(p []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("st7789: simulator closed")
	}
	stall := s.stall
	s.mu.Unlock()
	if stall != nil {
		// Wedged panel: the write never completes until released.
		<-stall
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRAMWR {
		return errors.New("st7789: pixel data outside memory write")
	}
	w := s.cols.Count()
	h := s.rows.Count()
	for i := 0; i < len(p); i++ {
		if !s.hasPendingByte {
			s.pendingByte = p[i]
			s.hasPendingByte = true
			continue
		}
		// Samples arrive high byte first.
		px := rgb565.Color{p[i], s.pendingByte}
		s.hasPendingByte = false
		if s.writeIdx >= w*h {
			return errors.New("st7789: memory write overruns window")
		}
		// The address counters walk the window along the axes MADCTL
		// selects: MV advances rows first, MX and MY reverse direction.
		var col, row int
		if s.madctl&MADCTL_MV != 0 {
			row, col = s.writeIdx%h, s.writeIdx/h
		} else {
			col, row = s.writeIdx%w, s.writeIdx/w
		}
		if s.madctl&MADCTL_MX != 0 {
			col = w - 1 - col
		}
		if s.madctl&MADCTL_MY != 0 {
			row = h - 1 - row
		}
		s.ram.Pix[(s.rows.Start+row)*s.memW+s.cols.Start+col] = px
		s.writeIdx++
	}
	return nil
}

func (s *Simulator) SetBacklight(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backlight = on
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// StallPixels wedges the pixel path: WritePixels blocks until the
// returned release function is called or the panel is hardware reset.
// It models a stuck bus transfer.
func (s *Simulator) StallPixels() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stall := make(chan struct{})
	s.stall = stall
	return func() {
		s.mu.Lock()
		if s.stall == stall {
			s.releaseStallLocked()
		}
		s.mu.Unlock()
	}
}

// releaseStallLocked unblocks stalled writes. Callers hold mu.
func (s *Simulator) releaseStallLocked() {
	if s.stall != nil {
		close(s.stall)
		s.stall = nil
	}
}

// Panel returns a snapshot of the panel configuration.
func (s *Simulator) Panel() PanelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PanelState{
		Awake:     s.awake,
		DisplayOn: s.displayOn,
		Inverted:  s.inverted,
		Backlight: s.backlight,
		MADCTL:    s.madctl,
		COLMOD:    s.colmod,
		Resets:    s.resets,
	}
}

// Commands returns the opcode log since the last Clear.
func (s *Simulator) Commands() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmds := make([]byte, len(s.cmds))
	copy(cmds, s.cmds)
	return cmds
}

// Clear drops the recorded command log.
func (s *Simulator) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = nil
}

// RAM returns a copy of the panel memory.
func (s *Simulator) RAM() *rgb565.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := rgb565.New(s.ram.Rect)
	copy(img.Pix, s.ram.Pix)
	return img
}

// Window returns the last addressed window.
func (s *Simulator) Window() (cols, rows viewport.Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}
