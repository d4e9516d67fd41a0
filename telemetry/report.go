package telemetry

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tarm/serial"
)

// Open opens a serial port in 8N1 framing for telemetry reporting.
func Open(name string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", name, err)
	}
	return port, nil
}

// Reporter writes samples as JSON lines, one per sample, for the
// monitor tool on the other end of the wire.
type Reporter struct {
	enc *json.Encoder
}

func NewReporter(w io.Writer) *Reporter {
	return &Reporter{enc: json.NewEncoder(w)}
}

func (r *Reporter) Report(s Sample) error {
	if err := r.enc.Encode(s); err != nil {
		return fmt.Errorf("telemetry: report: %w", err)
	}
	return nil
}
