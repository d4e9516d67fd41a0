// Package espimg implements the application image format booted by the
// ESP32 family ROM loaders and produced by esptool. The format is
// described in the esptool [firmware image documentation].
//
// [firmware image documentation]: https://docs.espressif.com/projects/esptool/en/latest/esp32s3/advanced-topics/firmware-image-format.html
package espimg

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

type Image struct {
	Entry    uint32
	Chip     ChipID
	Segments []Segment
	// Hash is the appended SHA-256 digest, if the image carries one.
	Hash []byte
}

// Segment is one loadable region. Data aliases the image buffer.
type Segment struct {
	Addr uint32
	Data []byte
}

type ChipID uint16

const (
	ChipESP32   ChipID = 0x0000
	ChipESP32S2 ChipID = 0x0002
	ChipESP32C3 ChipID = 0x0005
	ChipESP32S3 ChipID = 0x0009
	ChipESP32C2 ChipID = 0x000c
	ChipESP32C6 ChipID = 0x000d
	ChipESP32H2 ChipID = 0x0010
)

func (c ChipID) String() string {
	switch c {
	case ChipESP32:
		return "ESP32"
	case ChipESP32S2:
		return "ESP32-S2"
	case ChipESP32C3:
		return "ESP32-C3"
	case ChipESP32S3:
		return "ESP32-S3"
	case ChipESP32C2:
		return "ESP32-C2"
	case ChipESP32C6:
		return "ESP32-C6"
	case ChipESP32H2:
		return "ESP32-H2"
	default:
		return fmt.Sprintf("unknown (0x%04x)", uint16(c))
	}
}

const (
	Magic      = 0xe9
	HeaderSize = 24

	segmentSize = 8
	maxSegments = 16

	checksumSeed = 0xef

	appDescMagic = 0xabcd5432
	appDescSize  = 256
)

// ValidateHeader checks the fixed image header. It needs only the first
// HeaderSize bytes, so a streaming receiver can reject a bad upload
// before the image is complete.
func ValidateHeader(h []byte) error {
	if len(h) < HeaderSize {
		return errors.New("espimg: truncated header")
	}
	if h[0] != Magic {
		return fmt.Errorf("espimg: bad magic 0x%02x", h[0])
	}
	if n := int(h[1]); n == 0 || n > maxSegments {
		return fmt.Errorf("espimg: segment count %d", n)
	}
	return nil
}

// Read parses and verifies a complete image: header, segment bounds,
// the XOR checksum and, when appended, the SHA-256 digest the ROM
// loader checks before booting.
func Read(image []byte) (Image, error) {
	img, err := read(image)
	if err != nil {
		return Image{}, fmt.Errorf("espimg: %v", err)
	}
	return img, nil
}

func read(data []byte) (Image, error) {
	if len(data) < HeaderSize {
		return Image{}, errors.New("truncated header")
	}
	if data[0] != Magic {
		return Image{}, fmt.Errorf("bad magic 0x%02x", data[0])
	}
	nseg := int(data[1])
	if nseg == 0 || nseg > maxSegments {
		return Image{}, fmt.Errorf("segment count %d", nseg)
	}
	bo := binary.LittleEndian
	img := Image{
		Entry: bo.Uint32(data[4:]),
		Chip:  ChipID(bo.Uint16(data[12:])),
	}
	hashAppended := data[23] == 1
	idx := HeaderSize
	csum := byte(checksumSeed)
	for range nseg {
		if len(data) < idx+segmentSize {
			return Image{}, errors.New("truncated segment header")
		}
		addr := bo.Uint32(data[idx:])
		size := int(bo.Uint32(data[idx+4:]))
		idx += segmentSize
		if size < 0 || len(data)-idx < size {
			return Image{}, errors.New("truncated segment data")
		}
		seg := Segment{Addr: addr, Data: data[idx : idx+size]}
		for _, b := range seg.Data {
			csum ^= b
		}
		img.Segments = append(img.Segments, seg)
		idx += size
	}
	// The checksum is the last byte of the image padded to a multiple
	// of 16 bytes.
	total := (idx + 16) &^ 15
	if len(data) < total {
		return Image{}, errors.New("truncated checksum")
	}
	if got := data[total-1]; got != csum {
		return Image{}, fmt.Errorf("checksum 0x%02x, computed 0x%02x", got, csum)
	}
	rest := data[total:]
	if hashAppended {
		if len(rest) < sha256.Size {
			return Image{}, errors.New("truncated image digest")
		}
		sum := sha256.Sum256(data[:total])
		if !bytes.Equal(sum[:], rest[:sha256.Size]) {
			return Image{}, errors.New("image digest mismatch")
		}
		img.Hash = rest[:sha256.Size]
		rest = rest[sha256.Size:]
	}
	if len(rest) > 0 {
		return Image{}, fmt.Errorf("%d trailing bytes", len(rest))
	}
	return img, nil
}

// AppDesc is the application descriptor esp-idf embeds at the start of
// the first segment of an app image.
type AppDesc struct {
	SecureVersion uint32
	Version       string
	ProjectName   string
	Time          string
	Date          string
	IDFVersion    string
}

// AppDesc returns the embedded application descriptor, if present.
func (img *Image) AppDesc() (AppDesc, bool) {
	if len(img.Segments) == 0 {
		return AppDesc{}, false
	}
	d := img.Segments[0].Data
	if len(d) < appDescSize || binary.LittleEndian.Uint32(d) != appDescMagic {
		return AppDesc{}, false
	}
	return AppDesc{
		SecureVersion: binary.LittleEndian.Uint32(d[4:]),
		Version:       cstr(d[16:48]),
		ProjectName:   cstr(d[48:80]),
		Time:          cstr(d[80:96]),
		Date:          cstr(d[96:112]),
		IDFVersion:    cstr(d[112:144]),
	}, true
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i != -1 {
		b = b[:i]
	}
	return string(b)
}

// Build assembles an image from segments, appending the checksum and,
// when appendHash is set, the SHA-256 digest.
func Build(entry uint32, chip ChipID, segs []Segment, appendHash bool) []byte {
	bo := binary.LittleEndian
	img := make([]byte, HeaderSize)
	img[0] = Magic
	img[1] = byte(len(segs))
	bo.PutUint32(img[4:], entry)
	bo.PutUint16(img[12:], uint16(chip))
	if appendHash {
		img[23] = 1
	}
	csum := byte(checksumSeed)
	for _, s := range segs {
		img = bo.AppendUint32(img, s.Addr)
		img = bo.AppendUint32(img, uint32(len(s.Data)))
		img = append(img, s.Data...)
		for _, b := range s.Data {
			csum ^= b
		}
	}
	total := (len(img) + 16) &^ 15
	img = append(img, make([]byte, total-len(img))...)
	img[total-1] = csum
	if appendHash {
		sum := sha256.Sum256(img)
		img = append(img, sum[:]...)
	}
	return img
}
