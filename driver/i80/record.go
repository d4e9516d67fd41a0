package i80

import (
	"sync"
	"time"
)

// OpKind classifies a recorded bus operation.
type OpKind uint8

const (
	OpCommand OpKind = iota
	OpPixels
	OpReset
)

// Op is one operation observed on a Recorder.
type Op struct {
	Kind OpKind
	Cmd  byte
	// Data holds command parameters or pixel bytes.
	Data   []byte
	Hold   time.Duration
	Settle time.Duration
}

// Recorder is an in-memory Bus capturing the operation stream in order.
// It backs protocol tests and the host display simulator. The Fail hooks
// inject bus errors.
type Recorder struct {
	mu  sync.Mutex
	ops []Op

	FailCommand func(cmd byte, params []byte) error
	FailPixels  func(p []byte) error
}

var _ Bus = (*Recorder)(nil)

func (r *Recorder) WriteCommand(cmd byte, params ...byte) error {
	if r.FailCommand != nil {
		if err := r.FailCommand(cmd, params); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data := make([]byte, len(params))
	copy(data, params)
	r.ops = append(r.ops, Op{Kind: OpCommand, Cmd: cmd, Data: data})
	return nil
}

func (r *Recorder) WritePixels(p []byte) error {
	if r.FailPixels != nil {
		if err := r.FailPixels(p); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	data := make([]byte, len(p))
	copy(data, p)
	r.ops = append(r.ops, Op{Kind: OpPixels, Data: data})
	return nil
}

func (r *Recorder) Reset(hold, settle time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Kind: OpReset, Hold: hold, Settle: settle})
	return nil
}

func (r *Recorder) Close() error {
	return nil
}

// Ops returns a snapshot of the recorded operations.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]Op, len(r.ops))
	copy(ops, r.ops)
	return ops
}

// Commands returns only the recorded command opcodes, in order.
func (r *Recorder) Commands() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cmds []byte
	for _, op := range r.ops {
		if op.Kind == OpCommand {
			cmds = append(cmds, op.Cmd)
		}
	}
	return cmds
}

// PixelBytes concatenates all recorded pixel writes.
func (r *Recorder) PixelBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var p []byte
	for _, op := range r.ops {
		if op.Kind == OpPixels {
			p = append(p, op.Data...)
		}
	}
	return p
}

// Clear drops the recorded operations.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}
