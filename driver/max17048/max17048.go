// Package max17048 implements a driver for the Maxim MAX17048 lithium
// cell fuel gauge.
//
// Datasheet: https://www.analog.com/media/en/technical-documentation/data-sheets/MAX17048-MAX17049.pdf
package max17048

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// Addr is the gauge's fixed bus address.
const Addr = 0x36

// Registers are 16 bit, sent MSB first.
const (
	regVCELL   = 0x02
	regSOC     = 0x04
	regMODE    = 0x06
	regVERSION = 0x08
	regCONFIG  = 0x0c
	regCRATE   = 0x16
	regSTATUS  = 0x1a
)

type Dev struct {
	c i2c.Dev
}

// New returns a driver for the gauge on bus. It fails when the gauge
// does not answer, which on this board means no battery circuit is
// fitted.
func New(bus i2c.Bus) (*Dev, error) {
	d := &Dev{c: i2c.Dev{Bus: bus, Addr: Addr}}
	if _, err := d.Version(); err != nil {
		return nil, err
	}
	return d, nil
}

// Version reads the production version register.
func (d *Dev) Version() (uint16, error) {
	return d.readReg(regVERSION)
}

// Voltage reads the cell voltage in millivolts.
func (d *Dev) Voltage() (int, error) {
	v, err := d.readReg(regVCELL)
	if err != nil {
		return 0, err
	}
	// 78.125 uV per LSB, exactly 5/64 mV.
	return int(v) * 5 / 64, nil
}

// SOC reads the state of charge in percent. The gauge reports above
// 100 while topping off; the excess is clamped.
func (d *Dev) SOC() (int, error) {
	v, err := d.readReg(regSOC)
	if err != nil {
		return 0, err
	}
	pct := (int(v) + 128) / 256
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// Rate reads the charge rate in percent per hour, negative while
// discharging.
func (d *Dev) Rate() (float64, error) {
	v, err := d.readReg(regCRATE)
	if err != nil {
		return 0, err
	}
	// 0.208% per hour per LSB, two's complement.
	return float64(int16(v)) * 0.208, nil
}

// QuickStart restarts the gauge's cell model from the current state.
// Use after a supply glitch makes the estimate untrustworthy.
func (d *Dev) QuickStart() error {
	return d.writeReg(regMODE, 0x4000)
}

func (d *Dev) readReg(reg uint8) (uint16, error) {
	var buf [2]byte
	if err := d.c.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, fmt.Errorf("max17048: %w", err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (d *Dev) writeReg(reg uint8, v uint16) error {
	var buf [3]byte
	buf[0] = reg
	binary.BigEndian.PutUint16(buf[1:], v)
	if err := d.c.Tx(buf[:], nil); err != nil {
		return fmt.Errorf("max17048: %w", err)
	}
	return nil
}
