// Package buttons decodes the two panel keys of the board. The keys
// are active low behind internal pull-ups.
package buttons

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Key identifies a panel key.
type Key int

const (
	Prev Key = iota // boot key, left of the USB port
	Next            // user key, right of the USB port
)

func (k Key) String() string {
	switch k {
	case Prev:
		return "prev"
	case Next:
		return "next"
	}
	return fmt.Sprintf("Key(%d)", int(k))
}

// Event is one decoded key action. A click fires on release; a long
// press fires while the key is still held and suppresses the click.
type Event struct {
	Key  Key
	Long bool
}

var (
	debounceTime  = 50 * time.Millisecond
	longPressTime = 800 * time.Millisecond
)

// Open resolves the named pins and decodes their edges into ch. The
// decode goroutines run for the life of the process.
func Open(prev, next string, ch chan<- Event) error {
	if _, err := host.Init(); err != nil {
		return err
	}
	keys := []struct {
		key  Key
		name string
	}{
		{Prev, prev},
		{Next, next},
	}
	for _, k := range keys {
		pin := gpioreg.ByName(k.name)
		if pin == nil {
			return fmt.Errorf("buttons: no pin %q", k.name)
		}
		if err := watch(k.key, pin, ch); err != nil {
			return err
		}
	}
	return nil
}

func watch(key Key, pin gpio.PinIn, ch chan<- Event) error {
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return fmt.Errorf("buttons: %s: %w", key, err)
	}
	go decode(key, pin, ch)
	return nil
}

func decode(key Key, pin gpio.PinIn, ch chan<- Event) {
	var (
		pressed    bool
		newPressed bool
		pressedAt  time.Time
		longSent   bool
	)
	for {
		// Stable released: sleep until an edge. Stable held: sleep
		// until the long press threshold. In between transitions,
		// wait out the debounce window.
		timeout := debounceTime
		if newPressed == pressed {
			timeout = -1
			if pressed && !longSent {
				timeout = longPressTime - time.Since(pressedAt)
				if timeout < 0 {
					timeout = 0
				}
			}
		}
		if pin.WaitForEdge(timeout) {
			newPressed = pin.Read() == gpio.Low
			continue
		}
		if newPressed != pressed {
			pressed = newPressed
			if pressed {
				pressedAt = time.Now()
				longSent = false
			} else if !longSent {
				ch <- Event{Key: key}
			}
			continue
		}
		if pressed && !longSent {
			longSent = true
			ch <- Event{Key: key, Long: true}
		}
	}
}
