package buttons

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func init() {
	// Compress the decode timings so tests run quickly. Wide enough
	// that goroutine scheduling does not reorder the edges.
	debounceTime = 20 * time.Millisecond
	longPressTime = 150 * time.Millisecond
}

func newTestKey(t *testing.T) (*gpiotest.Pin, chan Event) {
	t.Helper()
	pin := &gpiotest.Pin{N: "key", EdgesChan: make(chan gpio.Level)}
	ch := make(chan Event, 4)
	if err := watch(Next, pin, ch); err != nil {
		t.Fatal(err)
	}
	return pin, ch
}

func recv(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	panic("unreachable")
}

func expectNone(t *testing.T, ch chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(10 * longPressTime):
	}
}

func TestClick(t *testing.T) {
	pin, ch := newTestKey(t)
	pin.EdgesChan <- gpio.Low
	time.Sleep(3 * debounceTime)
	pin.EdgesChan <- gpio.High
	e := recv(t, ch)
	if e.Key != Next || e.Long {
		t.Fatalf("event = %+v, want short click", e)
	}
}

func TestLongPress(t *testing.T) {
	pin, ch := newTestKey(t)
	pin.EdgesChan <- gpio.Low
	e := recv(t, ch)
	if e.Key != Next || !e.Long {
		t.Fatalf("event = %+v, want long press", e)
	}
	// The release after a long press must not produce a click.
	pin.EdgesChan <- gpio.High
	expectNone(t, ch)
}

func TestBounceSuppressed(t *testing.T) {
	pin, ch := newTestKey(t)
	// A burst of edges that settles released is electrical noise,
	// not a click.
	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.High
	pin.EdgesChan <- gpio.Low
	pin.EdgesChan <- gpio.High
	expectNone(t, ch)
}

func TestOpenUnknownPin(t *testing.T) {
	ch := make(chan Event)
	if err := Open("NOSUCH-A", "NOSUCH-B", ch); err == nil {
		t.Fatal("Open succeeded with unknown pins")
	}
}

func TestKeyString(t *testing.T) {
	if got := Prev.String(); got != "prev" {
		t.Errorf("Prev = %q", got)
	}
	if got := Next.String(); got != "next" {
		t.Errorf("Next = %q", got)
	}
	if got := Key(9).String(); got != "Key(9)" {
		t.Errorf("Key(9) = %q", got)
	}
}
