//go:build linux

package watchdog

import (
	"os"
	"testing"
)

func TestDisarmWritesMagic(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	wd := &Watchdog{f: w}
	if err := wd.Disarm(); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || buf[0] != 'V' {
		t.Fatalf("disarm wrote %q, want magic close byte", buf[:n])
	}
}

func TestOpenMissingDevice(t *testing.T) {
	if _, err := Open(t.TempDir()+"/watchdog0", 0); err == nil {
		t.Fatal("Open succeeded on missing device")
	}
}
