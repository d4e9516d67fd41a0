package ui

import "github.com/jtn0123/ESP32-S3-display-dashboard-sub001/image/rgb565"

// Theme is one color scheme. Values are raw RGB565, matching the panel.
type Theme struct {
	Name string

	Background rgb565.Color
	Surface    rgb565.Color
	Primary    rgb565.Color
	Secondary  rgb565.Color
	Accent     rgb565.Color
	Text       rgb565.Color
	TextDim    rgb565.Color
	// HeaderFG contrasts with Primary, the header band fill.
	HeaderFG   rgb565.Color
	Border     rgb565.Color
	Success    rgb565.Color
	Warning    rgb565.Color
	Error      rgb565.Color
	Info       rgb565.Color
}

var themes = []*Theme{
	{
		Name:       "Dark",
		Background: rgb565.FromUint16(0x0000),
		Surface:    rgb565.FromUint16(0x1082),
		Primary:    rgb565.FromUint16(0x2589),
		Secondary:  rgb565.FromUint16(0x3186),
		Accent:     rgb565.FromUint16(0xc260),
		Text:       rgb565.FromUint16(0xffff),
		TextDim:    rgb565.FromUint16(0xbdf7),
		HeaderFG:   rgb565.FromUint16(0xffff),
		Border:     rgb565.FromUint16(0x4208),
		Success:    rgb565.FromUint16(0x07e5),
		Warning:    rgb565.FromUint16(0xfd20),
		Error:      rgb565.FromUint16(0xf800),
		Info:       rgb565.FromUint16(0x7817),
	},
	{
		Name:       "High Contrast",
		Background: rgb565.FromUint16(0x0000),
		Surface:    rgb565.FromUint16(0x0000),
		Primary:    rgb565.FromUint16(0xffff),
		Secondary:  rgb565.FromUint16(0xffff),
		Accent:     rgb565.FromUint16(0xffe0),
		Text:       rgb565.FromUint16(0xffff),
		TextDim:    rgb565.FromUint16(0xffff),
		HeaderFG:   rgb565.FromUint16(0x0000),
		Border:     rgb565.FromUint16(0xffff),
		Success:    rgb565.FromUint16(0x07e0),
		Warning:    rgb565.FromUint16(0xffe0),
		Error:      rgb565.FromUint16(0xf800),
		Info:       rgb565.FromUint16(0x07ff),
	},
}
