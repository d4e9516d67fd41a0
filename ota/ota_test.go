package ota

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/espimg"
)

func testImage(t *testing.T, version string, chip espimg.ChipID) []byte {
	t.Helper()
	desc := make([]byte, 300)
	binary.LittleEndian.PutUint32(desc, 0xabcd5432)
	copy(desc[16:48], version)
	copy(desc[48:80], "dashboard")
	return espimg.Build(0x40378000, chip, []espimg.Segment{
		{Addr: 0x3c000020, Data: desc},
		{Addr: 0x40374000, Data: bytes.Repeat([]byte{0x5a}, 150)},
	}, true)
}

func digest(img []byte) string {
	sum := sha256.Sum256(img)
	return hex.EncodeToString(sum[:])
}

func newUpdater(t *testing.T) *Updater {
	t.Helper()
	u, err := New(t.TempDir(), espimg.ChipESP32S3)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func upload(t *testing.T, u *Updater, img []byte, shaHex string) error {
	t.Helper()
	if err := u.Begin(int64(len(img)), shaHex); err != nil {
		return err
	}
	for len(img) > 0 {
		n := min(100, len(img))
		if _, err := u.Write(img[:n]); err != nil {
			return err
		}
		img = img[n:]
	}
	return u.Finish()
}

func TestUpload(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32S3)
	if err := upload(t, u, img, digest(img)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	s := u.Status()
	if s.State != Ready {
		t.Errorf("state %v, want ready", s.State)
	}
	if s.Version != "2.0.0" {
		t.Errorf("staged version %q", s.Version)
	}
	if s.Received != int64(len(img)) {
		t.Errorf("received %d of %d", s.Received, len(img))
	}
	staged, err := os.ReadFile(u.Path())
	if err != nil {
		t.Fatalf("staged image: %v", err)
	}
	if !bytes.Equal(staged, img) {
		t.Error("staged image differs from upload")
	}
	if _, err := os.Stat(u.tmpPath()); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestUploadNoDigest(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32S3)
	if err := upload(t, u, img, ""); err != nil {
		t.Fatalf("upload without declared digest: %v", err)
	}
}

func TestUploadBadMagic(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32S3)
	img[0] = 0x00
	err := upload(t, u, img, "")
	if err == nil {
		t.Fatal("upload accepted bad magic")
	}
	if !strings.Contains(err.Error(), "magic") {
		t.Errorf("error %v, want magic rejection", err)
	}
	if s := u.Status(); s.State != Failed || s.Err == "" {
		t.Errorf("status %+v after bad magic", s)
	}
	if _, err := os.Stat(u.tmpPath()); !os.IsNotExist(err) {
		t.Error("temp file left behind after failure")
	}
}

func TestUploadDigestMismatch(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32S3)
	err := upload(t, u, img, strings.Repeat("00", 32))
	if err == nil {
		t.Fatal("upload accepted wrong digest")
	}
	if u.Status().State != Failed {
		t.Errorf("state %v", u.Status().State)
	}
	if _, err := os.Stat(u.Path()); !os.IsNotExist(err) {
		t.Error("mismatched image was staged")
	}
}

func TestUploadWrongChip(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32C3)
	err := upload(t, u, img, digest(img))
	if err == nil {
		t.Fatal("upload accepted wrong chip")
	}
	if !strings.Contains(err.Error(), "ESP32-C3") {
		t.Errorf("error %v", err)
	}
}

func TestUploadShort(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32S3)
	if err := u.Begin(int64(len(img)), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Write(img[:200]); err != nil {
		t.Fatal(err)
	}
	if err := u.Finish(); err == nil {
		t.Fatal("Finish accepted short upload")
	}
}

func TestUploadOverflow(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32S3)
	if err := u.Begin(100, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Write(img); err == nil {
		t.Fatal("Write accepted more than declared size")
	}
}

func TestBeginValidation(t *testing.T) {
	u := newUpdater(t)
	if err := u.Begin(0, ""); err == nil {
		t.Error("Begin accepted zero size")
	}
	if err := u.Begin(MaxImageSize+1, ""); err == nil {
		t.Error("Begin accepted oversized image")
	}
	if err := u.Begin(1000, "zz"); err == nil {
		t.Error("Begin accepted malformed digest")
	}
	if err := u.Begin(1000, "abcd"); err == nil {
		t.Error("Begin accepted short digest")
	}
}

func TestBeginBusy(t *testing.T) {
	u := newUpdater(t)
	if err := u.Begin(1000, ""); err != nil {
		t.Fatal(err)
	}
	if err := u.Begin(1000, ""); err != ErrBusy {
		t.Errorf("second Begin: %v, want ErrBusy", err)
	}
	u.Abort(nil)
	if err := u.Begin(1000, ""); err != nil {
		t.Errorf("Begin after abort: %v", err)
	}
}

func TestAbort(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32S3)
	if err := u.Begin(int64(len(img)), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Write(img[:300]); err != nil {
		t.Fatal(err)
	}
	u.Abort(nil)
	s := u.Status()
	if s.State != Failed {
		t.Errorf("state %v after abort", s.State)
	}
	if _, err := u.Write(img[300:]); err == nil {
		t.Error("Write accepted data after abort")
	}
	if _, err := os.Stat(u.tmpPath()); !os.IsNotExist(err) {
		t.Error("temp file left behind after abort")
	}
}

func TestResumeStaged(t *testing.T) {
	dir := t.TempDir()
	u, err := New(dir, espimg.ChipESP32S3)
	if err != nil {
		t.Fatal(err)
	}
	img := testImage(t, "3.1.0", espimg.ChipESP32S3)
	if err := upload(t, u, img, digest(img)); err != nil {
		t.Fatal(err)
	}

	u2, err := New(dir, espimg.ChipESP32S3)
	if err != nil {
		t.Fatal(err)
	}
	s := u2.Status()
	if s.State != Ready {
		t.Errorf("state %v after restart, want ready", s.State)
	}
	if s.Version != "3.1.0" {
		t.Errorf("version %q after restart", s.Version)
	}
}

func TestResumeCorruptStaged(t *testing.T) {
	dir := t.TempDir()
	u, err := New(dir, espimg.ChipESP32S3)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(u.Path(), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	u2, err := New(dir, espimg.ChipESP32S3)
	if err != nil {
		t.Fatal(err)
	}
	if s := u2.Status(); s.State != Idle {
		t.Errorf("state %v with corrupt staged image", s.State)
	}
	if _, err := os.Stat(u.Path()); !os.IsNotExist(err) {
		t.Error("corrupt staged image not removed")
	}
}

func TestClear(t *testing.T) {
	u := newUpdater(t)
	img := testImage(t, "2.0.0", espimg.ChipESP32S3)
	if err := upload(t, u, img, ""); err != nil {
		t.Fatal(err)
	}
	if err := u.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	s := u.Status()
	if s.State != Idle || s.Version != "" {
		t.Errorf("status %+v after clear", s)
	}
	if _, err := os.Stat(u.Path()); !os.IsNotExist(err) {
		t.Error("staged image present after clear")
	}
}
