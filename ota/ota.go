// Package ota receives, verifies and stages firmware images uploaded
// over the network. A staged image takes effect on the next restart;
// the updater itself never restarts anything.
package ota

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/espimg"
)

// MaxImageSize bounds uploads well above any plausible app image so a
// bad Content-Length cannot fill the state partition.
const MaxImageSize = 8 << 20

var ErrBusy = errors.New("ota: update in progress")

type State int

const (
	Idle State = iota
	Receiving
	Verifying
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Verifying:
		return "verifying"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Status struct {
	State    State
	Received int64
	Total    int64
	// Version is the staged image's app descriptor version, once Ready.
	Version string
	// Err describes the last failed upload, once Failed.
	Err string
}

// Updater stages one image at a time. Begin, Write and Finish serialize
// a single upload; Status never blocks on an upload in progress.
type Updater struct {
	dir  string
	chip espimg.ChipID

	mu       sync.Mutex
	state    State
	f        *os.File
	hash     hash.Hash
	want     []byte
	hdr      []byte
	received int64
	total    int64
	version  string
	err      error

	cache atomic.Pointer[Status]
}

// New prepares the staging directory. A valid image staged by an
// earlier run is recognized and reported Ready again; anything else
// left behind is discarded.
func New(dir string, chip espimg.ChipID) (*Updater, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ota: %w", err)
	}
	u := &Updater{dir: dir, chip: chip}
	os.Remove(u.tmpPath())
	if data, err := os.ReadFile(u.Path()); err == nil {
		img, err := espimg.Read(data)
		if err == nil && img.Chip == chip {
			u.state = Ready
			if desc, ok := img.AppDesc(); ok {
				u.version = desc.Version
			}
		} else {
			os.Remove(u.Path())
		}
	}
	u.publish()
	return u, nil
}

// Path returns the staged image location.
func (u *Updater) Path() string {
	return filepath.Join(u.dir, "next.bin")
}

func (u *Updater) tmpPath() string {
	return u.Path() + ".tmp"
}

// Begin starts an upload of total bytes. shaHex, when not empty, is the
// hex SHA-256 digest the completed upload must match. A staged or
// failed update is replaced; an upload in progress is not.
func (u *Updater) Begin(total int64, shaHex string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.state {
	case Receiving, Verifying:
		return ErrBusy
	}
	if total <= 0 {
		return fmt.Errorf("ota: image size %d", total)
	}
	if total > MaxImageSize {
		return fmt.Errorf("ota: image size %d exceeds %d", total, MaxImageSize)
	}
	var want []byte
	if shaHex != "" {
		w, err := hex.DecodeString(shaHex)
		if err != nil || len(w) != sha256.Size {
			return fmt.Errorf("ota: malformed digest %q", shaHex)
		}
		want = w
	}
	f, err := os.Create(u.tmpPath())
	if err != nil {
		return fmt.Errorf("ota: %w", err)
	}
	u.f = f
	u.hash = sha256.New()
	u.want = want
	u.hdr = u.hdr[:0]
	u.received = 0
	u.total = total
	u.version = ""
	u.err = nil
	u.state = Receiving
	u.publish()
	return nil
}

// Write appends upload data. The fixed image header is checked as soon
// as it is complete so a bogus upload dies on its first chunk.
func (u *Updater) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Receiving {
		if u.err != nil {
			return 0, u.err
		}
		return 0, errors.New("ota: no upload in progress")
	}
	if u.received+int64(len(p)) > u.total {
		return 0, u.fail(fmt.Errorf("ota: upload exceeds declared %d bytes", u.total))
	}
	if len(u.hdr) < espimg.HeaderSize {
		n := min(espimg.HeaderSize-len(u.hdr), len(p))
		u.hdr = append(u.hdr, p[:n]...)
		if len(u.hdr) == espimg.HeaderSize {
			if err := espimg.ValidateHeader(u.hdr); err != nil {
				return 0, u.fail(err)
			}
		}
	}
	n, err := u.f.Write(p)
	u.hash.Write(p[:n])
	u.received += int64(n)
	if err != nil {
		return n, u.fail(fmt.Errorf("ota: %w", err))
	}
	u.publish()
	return n, nil
}

// Finish verifies the completed upload and stages it.
func (u *Updater) Finish() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Receiving {
		if u.err != nil {
			return u.err
		}
		return errors.New("ota: no upload in progress")
	}
	if u.received != u.total {
		return u.fail(fmt.Errorf("ota: received %d of %d bytes", u.received, u.total))
	}
	tmp := u.f.Name()
	if err := u.f.Sync(); err != nil {
		return u.fail(fmt.Errorf("ota: %w", err))
	}
	if err := u.f.Close(); err != nil {
		u.f = nil
		os.Remove(tmp)
		return u.fail(fmt.Errorf("ota: %w", err))
	}
	u.f = nil
	u.state = Verifying
	u.publish()
	if u.want != nil {
		if sum := u.hash.Sum(nil); !bytes.Equal(sum, u.want) {
			os.Remove(tmp)
			return u.fail(fmt.Errorf("ota: upload digest %x, want %x", sum, u.want))
		}
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		os.Remove(tmp)
		return u.fail(fmt.Errorf("ota: %w", err))
	}
	img, err := espimg.Read(data)
	if err != nil {
		os.Remove(tmp)
		return u.fail(err)
	}
	if img.Chip != u.chip {
		os.Remove(tmp)
		return u.fail(fmt.Errorf("ota: image for %v, want %v", img.Chip, u.chip))
	}
	if err := os.Rename(tmp, u.Path()); err != nil {
		os.Remove(tmp)
		return u.fail(fmt.Errorf("ota: %w", err))
	}
	if desc, ok := img.AppDesc(); ok {
		u.version = desc.Version
	}
	u.state = Ready
	u.publish()
	return nil
}

// Abort cancels an upload in progress, for instance when the client
// disconnects mid-stream.
func (u *Updater) Abort(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Receiving {
		return
	}
	if err == nil {
		err = errors.New("ota: upload aborted")
	}
	u.fail(err)
}

// Clear discards a staged image.
func (u *Updater) Clear() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.state {
	case Receiving, Verifying:
		return ErrBusy
	}
	if err := os.Remove(u.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ota: %w", err)
	}
	u.state = Idle
	u.version = ""
	u.err = nil
	u.publish()
	return nil
}

func (u *Updater) Status() Status {
	return *u.cache.Load()
}

func (u *Updater) fail(err error) error {
	if u.f != nil {
		name := u.f.Name()
		u.f.Close()
		os.Remove(name)
		u.f = nil
	}
	u.state = Failed
	u.err = err
	u.publish()
	return err
}

func (u *Updater) publish() {
	s := Status{
		State:    u.state,
		Received: u.received,
		Total:    u.total,
		Version:  u.version,
	}
	if u.err != nil {
		s.Err = u.err.Error()
	}
	u.cache.Store(&s)
}
