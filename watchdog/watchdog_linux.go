//go:build linux

// Package watchdog arms the kernel watchdog device and feeds it from
// the display loop. If the loop wedges the feeds stop and the hardware
// reboots the box.
package watchdog

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

type Watchdog struct {
	f       *os.File
	timeout int
}

// Open arms the watchdog at path, /dev/watchdog if empty. The device
// starts ticking immediately; call Pet before timeout expires or
// Disarm to stop it.
func Open(path string, timeout time.Duration) (*Watchdog, error) {
	if path == "" {
		path = "/dev/watchdog"
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("watchdog: %w", err)
	}
	w := &Watchdog{f: f}
	if secs := int(timeout / time.Second); secs > 0 {
		if err := unix.IoctlSetPointerInt(int(f.Fd()), unix.WDIOC_SETTIMEOUT, secs); err != nil {
			w.Disarm()
			return nil, fmt.Errorf("watchdog: set timeout: %w", err)
		}
	}
	if got, err := unix.IoctlGetInt(int(f.Fd()), unix.WDIOC_GETTIMEOUT); err == nil {
		w.timeout = got
	}
	return w, nil
}

func (w *Watchdog) Pet() error {
	if err := unix.IoctlWatchdogKeepalive(int(w.f.Fd())); err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	return nil
}

// Timeout reports the interval the kernel enforces, which may differ
// from the one requested.
func (w *Watchdog) Timeout() time.Duration {
	return time.Duration(w.timeout) * time.Second
}

// Disarm writes the magic close byte so the kernel stops the timer
// when the device closes.
func (w *Watchdog) Disarm() error {
	if _, err := w.f.Write([]byte{'V'}); err != nil {
		w.f.Close()
		return fmt.Errorf("watchdog: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	return nil
}
