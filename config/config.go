// Package config loads and persists the dashboard configuration: panel
// geometry, bus parameters, network, telemetry and power settings. Panel
// and bus values are fixed for the life of a pipeline; edited values take
// effect on the next full initialization, never mid-stream.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/viewport"
)

// Panel describes the glass and its controller. The mirror flags and
// color order are per-unit calibration values; boards that look identical
// on paper have shipped with either polarity.
type Panel struct {
	Width     int  `json:"width"`
	Height    int  `json:"height"`
	SwapXY    bool `json:"swap_xy"`
	MirrorX   bool `json:"mirror_x"`
	MirrorY   bool `json:"mirror_y"`
	GapX      int  `json:"gap_x"`
	GapY      int  `json:"gap_y"`
	MemWidth  int  `json:"mem_width"`
	MemHeight int  `json:"mem_height"`
	Invert    bool `json:"invert"`
	BGR       bool `json:"bgr"`
}

// Viewport returns the panel geometry as a viewport configuration.
func (p Panel) Viewport() viewport.Config {
	return viewport.Config{
		Width:     p.Width,
		Height:    p.Height,
		SwapXY:    p.SwapXY,
		MirrorX:   p.MirrorX,
		MirrorY:   p.MirrorY,
		GapX:      p.GapX,
		GapY:      p.GapY,
		MemWidth:  p.MemWidth,
		MemHeight: p.MemHeight,
	}
}

// Pins names the bus GPIO lines in gpioreg terms.
type Pins struct {
	Data      [8]string `json:"data"`
	WR        string    `json:"wr"`
	DC        string    `json:"dc"`
	CS        string    `json:"cs"`
	RST       string    `json:"rst"`
	Backlight string    `json:"backlight"`
	Power     string    `json:"power"`
}

// Bus fixes the transfer parameters. Queue depth 1 is synchronous and
// cannot tear; deeper queues pipeline transfers at tearing risk.
type Bus struct {
	FreqHz     int64 `json:"freq_hz"`
	ChunkRows  int   `json:"chunk_rows"`
	QueueDepth int   `json:"queue_depth"`
	SwapBytes  bool  `json:"swap_bytes"`
	Pins       Pins  `json:"pins"`
}

// Net configures the status and update server.
type Net struct {
	Listen string `json:"listen"`
	// Password gates the OTA upload and remote restart endpoints.
	Password string `json:"password"`
}

// Telemetry configures the metrics collector and the serial reporter.
// An empty SerialPort disables serial reporting.
type Telemetry struct {
	IntervalMS int    `json:"interval_ms"`
	SerialPort string `json:"serial_port"`
	SerialBaud int    `json:"serial_baud"`
}

// Power configures backlight dimming. A zero DimTimeoutS never dims.
type Power struct {
	DimTimeoutS int `json:"dim_timeout_s"`
}

// UI configures the dashboard renderer. A zero AutoCycleS pins the
// current screen until a button event.
type UI struct {
	AutoCycleS int `json:"auto_cycle_s"`
	Buttons    struct {
		Next string `json:"next"`
		Prev string `json:"prev"`
	} `json:"buttons"`
}

type Config struct {
	Panel     Panel     `json:"panel"`
	Bus       Bus       `json:"bus"`
	Net       Net       `json:"net"`
	Telemetry Telemetry `json:"telemetry"`
	Power     Power     `json:"power"`
	UI        UI        `json:"ui"`
	// StateDir holds the crash log and staged firmware images.
	StateDir string `json:"state_dir"`
}

// Default returns the calibrated T-Display-S3 configuration: ST7789
// 320x170 landscape on an 8-bit i80 bus, 20 MHz, swapped axes, mirrored
// rows, 35 pixel gap, inverted colors.
func Default() Config {
	c := Config{
		Panel: Panel{
			Width:     320,
			Height:    170,
			SwapXY:    true,
			MirrorY:   true,
			GapY:      35,
			MemWidth:  240,
			MemHeight: 360,
			Invert:    true,
		},
		Bus: Bus{
			FreqHz:     20_000_000,
			ChunkRows:  12,
			QueueDepth: 1,
			SwapBytes:  true,
			Pins: Pins{
				Data:      [8]string{"GPIO39", "GPIO40", "GPIO41", "GPIO42", "GPIO45", "GPIO46", "GPIO47", "GPIO48"},
				WR:        "GPIO8",
				DC:        "GPIO7",
				CS:        "GPIO6",
				RST:       "GPIO5",
				Backlight: "GPIO38",
				Power:     "GPIO15",
			},
		},
		Net: Net{
			Listen:   ":8080",
			Password: "esp32",
		},
		Telemetry: Telemetry{
			IntervalMS: 1000,
			SerialBaud: 115200,
		},
		Power: Power{
			DimTimeoutS: 300,
		},
		StateDir: "/var/lib/dashboard",
	}
	c.UI.Buttons.Next = "GPIO14"
	c.UI.Buttons.Prev = "GPIO0"
	return c
}

func (c *Config) Validate() error {
	if _, err := viewport.New(c.Panel.Viewport()); err != nil {
		return err
	}
	if c.Bus.FreqHz <= 0 {
		return fmt.Errorf("config: bus frequency %d Hz", c.Bus.FreqHz)
	}
	if c.Bus.ChunkRows < 1 {
		return fmt.Errorf("config: chunk rows %d", c.Bus.ChunkRows)
	}
	if c.Bus.QueueDepth < 1 {
		return fmt.Errorf("config: queue depth %d", c.Bus.QueueDepth)
	}
	if c.Telemetry.IntervalMS < 100 {
		return fmt.Errorf("config: telemetry interval %d ms below 100 ms", c.Telemetry.IntervalMS)
	}
	if c.Net.Listen == "" {
		return errors.New("config: empty listen address")
	}
	return nil
}

// Interval returns the telemetry sampling interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Telemetry.IntervalMS) * time.Millisecond
}

// Load reads the configuration at path. A missing file is not an error;
// it yields the defaults, matching first boot on a fresh device.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w (%s)", err, path)
	}
	return c, nil
}

// Save atomically rewrites the configuration at path. A crash mid-save
// leaves the previous file intact.
func Save(path string, c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
