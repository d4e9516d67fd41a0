//go:build linux

package telemetry

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CPUProbe reports whole-machine CPU utilization in percent, computed
// from the /proc/stat delta since the previous call. The first call has
// no baseline and reports zero.
func CPUProbe() func() (float64, error) {
	var prev cpuTimes
	return func() (float64, error) {
		data, err := os.ReadFile("/proc/stat")
		if err != nil {
			return 0, fmt.Errorf("telemetry: %w", err)
		}
		cur, err := parseCPUTimes(data)
		if err != nil {
			return 0, err
		}
		pct := cur.since(prev)
		prev = cur
		return pct, nil
	}
}

type cpuTimes struct {
	idle, total uint64
}

func parseCPUTimes(data []byte) (cpuTimes, error) {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTimes{}, errors.New("telemetry: malformed /proc/stat")
	}
	var t cpuTimes
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return cpuTimes{}, fmt.Errorf("telemetry: /proc/stat: %w", err)
		}
		t.total += v
		// idle and iowait both count as idle time.
		if i == 3 || i == 4 {
			t.idle += v
		}
	}
	return t, nil
}

func (t cpuTimes) since(prev cpuTimes) float64 {
	dt := t.total - prev.total
	if prev.total == 0 || dt == 0 {
		return 0
	}
	di := t.idle - prev.idle
	return 100 * float64(dt-di) / float64(dt)
}

// TempProbe reads a sysfs thermal zone, reporting degrees Celsius.
func TempProbe(zone string) func() (float64, error) {
	path := filepath.Join("/sys/class/thermal", zone, "temp")
	return func() (float64, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("telemetry: %w", err)
		}
		v, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return 0, fmt.Errorf("telemetry: %s: %w", path, err)
		}
		return float64(v) / 1000, nil
	}
}

// RSSIProbe reports the WiFi signal level in dBm from
// /proc/net/wireless. An empty iface matches the first wireless
// interface.
func RSSIProbe(iface string) func() (int, error) {
	return func() (int, error) {
		data, err := os.ReadFile("/proc/net/wireless")
		if err != nil {
			return 0, fmt.Errorf("telemetry: %w", err)
		}
		return parseWireless(data, iface)
	}
}

func parseWireless(data []byte, iface string) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		// Two header lines precede the interface rows.
		if line <= 2 {
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		if iface != "" && name != iface {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			return 0, fmt.Errorf("telemetry: wireless level %q: %w", fields[3], err)
		}
		return int(level), nil
	}
	if iface == "" {
		return 0, errors.New("telemetry: no wireless interface")
	}
	return 0, fmt.Errorf("telemetry: no wireless interface %s", iface)
}
