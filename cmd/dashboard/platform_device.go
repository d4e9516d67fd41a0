//go:build linux && !sim

package main

import (
	"context"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"

	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/config"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/buttons"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/i80"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/driver/max17048"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/telemetry"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/ui"
	"github.com/jtn0123/ESP32-S3-display-dashboard-sub001/watchdog"
)

// watchdogTimeout is requested from the kernel device; the frame loop
// pets many times per second.
const watchdogTimeout = 30 * time.Second

// Init claims the board: the panel bus, the fuel gauge, the panel keys
// and the kernel watchdog. The gauge and the watchdog are optional
// equipment; the bus and the keys are not.
func Init(cfg config.Config) (*Platform, error) {
	bus, err := i80.Open(i80.Config{
		Freq:       physic.Frequency(cfg.Bus.FreqHz) * physic.Hertz,
		ChunkRows:  cfg.Bus.ChunkRows,
		QueueDepth: cfg.Bus.QueueDepth,
		SwapBytes:  cfg.Bus.SwapBytes,
		Pins:       i80.Pins(cfg.Bus.Pins),
	})
	if err != nil {
		return nil, err
	}
	p := &Platform{
		bus:    bus,
		events: make(chan buttons.Event, 8),
		net:    netInfo,
		probes: telemetry.Probes{
			CPU:         telemetry.CPUProbe(),
			Temperature: telemetry.TempProbe("thermal_zone0"),
			RSSI:        telemetry.RSSIProbe(""),
		},
		drive: func(ctx context.Context, loop func(context.Context) error) error {
			return loop(ctx)
		},
	}
	var closers []func()
	p.close = func() {
		for _, f := range closers {
			f()
		}
	}

	if wd, err := watchdog.Open("", watchdogTimeout); err != nil {
		log.Printf("dashboard: %v", err)
	} else {
		p.pet = func() {
			if err := wd.Pet(); err != nil {
				log.Printf("dashboard: %v", err)
			}
		}
		closers = append(closers, func() {
			if err := wd.Disarm(); err != nil {
				log.Printf("dashboard: %v", err)
			}
		})
	}

	if i2cBus, err := i2creg.Open(""); err != nil {
		log.Printf("dashboard: i2c: %v", err)
	} else if gauge, err := max17048.New(i2cBus); err != nil {
		// No gauge answering means no battery circuit is fitted; the
		// readouts show mains power instead.
		log.Printf("dashboard: %v", err)
		i2cBus.Close()
	} else {
		p.probes.Battery = func() (mv, percent int, err error) {
			if mv, err = gauge.Voltage(); err != nil {
				return 0, 0, err
			}
			percent, err = gauge.SOC()
			return mv, percent, err
		}
		closers = append(closers, func() { i2cBus.Close() })
	}

	if err := buttons.Open(cfg.UI.Buttons.Prev, cfg.UI.Buttons.Next, p.events); err != nil {
		p.close()
		bus.Close()
		return nil, err
	}
	return p, nil
}

// netInfo reports the first usable interface. The SSID is not
// resolvable from procfs; the link readouts do not need it.
func netInfo() ui.NetInfo {
	var ni ui.NetInfo
	ifs, err := net.Interfaces()
	if err != nil {
		return ni
	}
	for _, ifc := range ifs {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			ni.Connected = true
			ni.IP = ipnet.IP.String()
			ni.MAC = ifc.HardwareAddr.String()
			ni.Gateway = defaultGateway()
			return ni
		}
	}
	return ni
}

func defaultGateway() string {
	data, err := os.ReadFile("/proc/net/route")
	if err != nil {
		return ""
	}
	return parseRoutes(string(data))
}

// parseRoutes extracts the default route's gateway. Addresses in the
// route table are hex, host byte order, little endian on this target.
func parseRoutes(table string) string {
	lines := strings.Split(table, "\n")
	if len(lines) < 2 {
		return ""
	}
	for _, line := range lines[1:] {
		f := strings.Fields(line)
		if len(f) < 3 || f[1] != "00000000" {
			continue
		}
		gw, err := strconv.ParseUint(f[2], 16, 32)
		if err != nil || gw == 0 {
			continue
		}
		return net.IPv4(byte(gw), byte(gw>>8), byte(gw>>16), byte(gw>>24)).String()
	}
	return ""
}
