// Package dma implements the descriptor-chain transfer engine feeding the
// display bus. A transfer is split into hardware-bounded chunks described
// by a fixed descriptor pool, drained asynchronously into a Sink, and
// completed through a single done signal per transfer.
package dma

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	// MaxDescriptorSize is the hardware limit of a single descriptor's
	// length field.
	MaxDescriptorSize = 4095
	// MaxChunk is the largest chunk the engine will describe, leaving a
	// margin below MaxDescriptorSize to keep chunks word aligned.
	MaxChunk = 4092

	// DefaultDescriptors is the descriptor pool size.
	DefaultDescriptors = 8
	// DefaultTimeout bounds how long a submitted transfer may run before
	// the engine declares it lost.
	DefaultTimeout = 250 * time.Millisecond
)

// Descriptor flags, consumer view.
const (
	FlagOwner = 1 << 31 // set while the consumer owns the buffer
	FlagEOF   = 1 << 30 // last descriptor of a transfer
	FlagSOF   = 1 << 29 // first descriptor of a transfer
	FlagBurst = 1 << 24
)

var (
	ErrChunkTooLarge = errors.New("dma: transfer exceeds descriptor chain capacity")
	ErrAlignment     = errors.New("dma: buffer not word aligned")
	ErrTimeout       = errors.New("dma: transfer timed out")
	ErrFaulted       = errors.New("dma: engine faulted")
	ErrClosed        = errors.New("dma: engine closed")
)

// Descriptor is one link of a transfer chain. The pool is owned by the
// drain and reused across transfers, never allocated per frame.
type Descriptor struct {
	Buf   []byte
	Flags uint32
	Next  *Descriptor
}

// Sink consumes chunk payloads in chain order. WritePixels must not be
// called concurrently; the engine serializes all chunk writes.
type Sink interface {
	WritePixels(p []byte) error
}

// Config tunes the engine. The zero value selects the defaults.
type Config struct {
	// Descriptors is the pool size; a transfer needing more chunks than
	// this is rejected before submission.
	Descriptors int
	// QueueDepth bounds submitted-but-incomplete transfers. Depth 1
	// serializes submissions.
	QueueDepth int
	// SwapBytes swaps each 16-bit pixel's bytes on the way out, for
	// panels that consume big-endian samples.
	SwapBytes bool
	// Timeout is the per-transfer watchdog window.
	Timeout time.Duration
}

// Engine drives chunked transfers into a Sink. The drain runs in
// generations: a fault latches on the current generation, and Reset
// abandons it wholesale instead of waiting on a bus that may never
// come back.
type Engine struct {
	sink Sink
	cfg  Config

	mu     sync.Mutex
	w      *worker
	closed bool

	completed atomic.Uint32
}

// worker is one drain generation: its own queue, semaphore, descriptor
// pool and fault latch. An abandoned worker that finally returns from a
// wedged write sees its own fault and stops without touching the
// replacement's state.
type worker struct {
	eng     *Engine
	sem     chan struct{}
	work    chan *Transfer
	descs   []Descriptor
	scratch []byte

	mu     sync.Mutex
	fault  error
	faultc chan struct{}
}

// Transfer is the handle of one submitted buffer. Completion is signalled
// exactly once by closing Done; Err is valid afterwards.
type Transfer struct {
	buf  []byte
	once sync.Once
	done chan struct{}
	err  error
}

func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Completed reports whether the transfer has finished, without blocking.
func (t *Transfer) Completed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns the transfer outcome. It is nil until completion.
func (t *Transfer) Err() error {
	if !t.Completed() {
		return nil
	}
	return t.err
}

func (t *Transfer) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func New(sink Sink, cfg Config) (*Engine, error) {
	if sink == nil {
		return nil, errors.New("dma: nil sink")
	}
	if cfg.Descriptors == 0 {
		cfg.Descriptors = DefaultDescriptors
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Descriptors < 1 || cfg.QueueDepth < 1 {
		return nil, fmt.Errorf("dma: invalid config %+v", cfg)
	}
	e := &Engine{sink: sink, cfg: cfg}
	e.w = e.newWorker()
	go e.w.run()
	return e, nil
}

func (e *Engine) newWorker() *worker {
	w := &worker{
		eng:    e,
		sem:    make(chan struct{}, e.cfg.QueueDepth),
		work:   make(chan *Transfer, e.cfg.QueueDepth),
		descs:  make([]Descriptor, e.cfg.Descriptors),
		faultc: make(chan struct{}),
	}
	if e.cfg.SwapBytes {
		w.scratch = make([]byte, MaxChunk)
	}
	return w
}

func (e *Engine) worker() *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w
}

// Capacity is the largest buffer a single transfer can carry.
func (e *Engine) Capacity() int {
	return e.cfg.Descriptors * MaxChunk
}

// TransfersCompleted counts successfully drained transfers.
func (e *Engine) TransfersCompleted() uint32 {
	return e.completed.Load()
}

// ValidateBuffer checks the alignment the hardware requires of transfer
// buffers. Call it when allocating a buffer, not per frame.
func ValidateBuffer(buf []byte) error {
	if len(buf)%4 != 0 {
		return fmt.Errorf("%w: length %d", ErrAlignment, len(buf))
	}
	if uintptr(unsafe.Pointer(unsafe.SliceData(buf)))%4 != 0 {
		return fmt.Errorf("%w: base address", ErrAlignment)
	}
	return nil
}

// Submit validates buf, builds its descriptor chain and queues it for the
// drain. It blocks while QueueDepth transfers are already outstanding,
// but never behind a fault: a wedged drain holds its queue slot forever,
// and submitters must see the fault instead of inheriting the wedge.
// Oversized buffers are rejected before anything is submitted.
func (e *Engine) Submit(buf []byte) (*Transfer, error) {
	if len(buf) == 0 {
		return nil, errors.New("dma: empty buffer")
	}
	if n := chunks(len(buf)); n > e.cfg.Descriptors {
		return nil, fmt.Errorf("%w: %d bytes need %d descriptors, pool has %d",
			ErrChunkTooLarge, len(buf), n, e.cfg.Descriptors)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	w := e.w
	e.mu.Unlock()

	select {
	case w.sem <- struct{}{}:
	case <-w.faultc:
		return nil, fmt.Errorf("%w: %w", ErrFaulted, w.Fault())
	}
	// A fault may have landed between the queue slot freeing up and us
	// taking it.
	if err := w.Fault(); err != nil {
		<-w.sem
		return nil, fmt.Errorf("%w: %w", ErrFaulted, err)
	}

	t := &Transfer{buf: buf, done: make(chan struct{})}
	e.mu.Lock()
	if e.closed || e.w != w {
		closed := e.closed
		e.mu.Unlock()
		<-w.sem
		if closed {
			return nil, ErrClosed
		}
		if err := w.Fault(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFaulted, err)
		}
		return nil, ErrFaulted
	}
	// The queue has a slot for every semaphore holder, so this send
	// cannot block while the mutex is held. Close also closes the
	// queue under the same mutex, so the send never races it.
	w.work <- t
	e.mu.Unlock()
	go w.watchdog(t)
	return t, nil
}

// Reset recovers a faulted engine after the owner has re-established bus
// state. The faulted generation is abandoned: its queue is closed, any
// queued transfers complete with the fault, and a fresh worker takes
// over immediately. A drain still parked inside the sink exits on its
// own once the blocked write returns.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.w.Fault() == nil {
		return nil
	}
	close(e.w.work)
	e.w = e.newWorker()
	go e.w.run()
	return nil
}

// Close stops the drain. Outstanding transfers complete first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.w.work)
	return nil
}

func (w *worker) run() {
	for t := range w.work {
		if t.Completed() {
			// Timed out while queued.
			<-w.sem
			continue
		}
		if err := w.Fault(); err != nil {
			t.complete(fmt.Errorf("%w: %w", ErrFaulted, err))
			<-w.sem
			continue
		}
		err := w.drain(t.buf)
		if err == nil {
			w.eng.completed.Add(1)
		} else {
			w.setFault(err)
		}
		t.complete(err)
		<-w.sem
	}
}

func (w *worker) watchdog(t *Transfer) {
	timer := time.NewTimer(w.eng.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
		w.setFault(ErrTimeout)
		t.complete(ErrTimeout)
	}
}

func (w *worker) setFault(err error) {
	w.mu.Lock()
	if w.fault == nil {
		w.fault = err
		close(w.faultc)
	}
	w.mu.Unlock()
}

// Fault returns the error that faulted the worker, if any.
func (w *worker) Fault() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fault
}

// Fault returns the error that faulted the engine, if any.
func (e *Engine) Fault() error {
	return e.worker().Fault()
}

// chain describes buf with the descriptor pool, flipping ownership to the
// consumer. The head is w.descs[0].
func (w *worker) chain(buf []byte) (*Descriptor, error) {
	n := chunks(len(buf))
	if n > len(w.descs) {
		return nil, ErrChunkTooLarge
	}
	if n == 0 {
		return nil, nil
	}
	for i := 0; i < n; i++ {
		chunk := buf[i*MaxChunk:]
		if len(chunk) > MaxChunk {
			chunk = chunk[:MaxChunk]
		}
		d := &w.descs[i]
		d.Buf = chunk
		d.Flags = FlagOwner | FlagBurst
		d.Next = nil
		if i == 0 {
			d.Flags |= FlagSOF
		}
		if i == n-1 {
			d.Flags |= FlagEOF
		} else {
			d.Next = &w.descs[i+1]
		}
	}
	return &w.descs[0], nil
}

func (w *worker) drain(buf []byte) error {
	head, err := w.chain(buf)
	if err != nil {
		return err
	}
	for d := head; d != nil; d = d.Next {
		// The watchdog aborts the chain between chunks. A write that was
		// parked when the generation was abandoned must not keep clocking
		// chunks onto the bus after it unblocks.
		if err := w.Fault(); err != nil {
			return err
		}
		p := d.Buf
		if w.eng.cfg.SwapBytes {
			p = w.scratch[:len(d.Buf)]
			for i := 0; i+1 < len(d.Buf); i += 2 {
				p[i], p[i+1] = d.Buf[i+1], d.Buf[i]
			}
			if len(d.Buf)%2 != 0 {
				p[len(d.Buf)-1] = d.Buf[len(d.Buf)-1]
			}
		}
		if err := w.eng.sink.WritePixels(p); err != nil {
			return fmt.Errorf("dma: %w", err)
		}
		// Hand the chunk back to the producer.
		d.Flags &^= FlagOwner
	}
	return nil
}

func chunks(n int) int {
	return (n + MaxChunk - 1) / MaxChunk
}
