//go:build !linux

package watchdog

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("watchdog: not supported on this platform")

type Watchdog struct{}

func Open(path string, timeout time.Duration) (*Watchdog, error) {
	return nil, errUnsupported
}

func (w *Watchdog) Pet() error             { return errUnsupported }
func (w *Watchdog) Disarm() error          { return errUnsupported }
func (w *Watchdog) Timeout() time.Duration { return 0 }
