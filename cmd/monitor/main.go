// command monitor tails the telemetry stream a dashboard writes to its
// serial console and prints one formatted line per sample.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/telemetry"
)

var (
	device = flag.String("device", "/dev/ttyACM0", "serial device, or - for stdin")
	baud   = flag.Int("baud", 115200, "baud rate")
	raw    = flag.Bool("raw", false, "print the JSON lines unformatted")
)

func main() {
	flag.Parse()
	var in io.ReadCloser
	if *device == "-" {
		in = os.Stdin
	} else {
		port, err := telemetry.Open(*device, *baud)
		if err != nil {
			fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
			os.Exit(1)
		}
		in = port
	}
	defer in.Close()
	if err := monitor(in, os.Stdout, *raw); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

const header = "UPTIME    STATE         FPS  FRAME(ms)  DROP  HEAP(kB)  CPU%%  TEMP(C)  BATT(mV)  RSSI\n"

func monitor(in io.Reader, out io.Writer, raw bool) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64<<10), 64<<10)
	n := 0
	for sc.Scan() {
		line := sc.Bytes()
		var s telemetry.Sample
		if err := json.Unmarshal(line, &s); err != nil {
			// The boot log shares the wire with the telemetry stream.
			fmt.Fprintf(out, "# %s\n", line)
			continue
		}
		if raw {
			fmt.Fprintf(out, "%s\n", line)
			continue
		}
		if n%20 == 0 {
			fmt.Fprintf(out, header)
		}
		n++
		fmt.Fprintf(out, "%-9s %-11s %5.1f %10.1f %5d %9d %5.1f %8.1f %9d %5d\n",
			uptime(s.Uptime), s.State, s.FPS, s.FrameMS, s.Dropped,
			s.HeapFree>>10, s.CPUPct, s.TempC, s.BatteryMV, s.RSSIDBm)
		if s.LastError != "" {
			fmt.Fprintf(out, "! %s\n", s.LastError)
		}
	}
	return sc.Err()
}

func uptime(sec int64) string {
	d := time.Duration(sec) * time.Second
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
