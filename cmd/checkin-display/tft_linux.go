//go:build linux

package main

import (
	"fmt"
	"image"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// TFT holds the ILI9341 display state.
type TFT struct {
	spiDev    spi.Conn
	dc        gpio.PinOut
	backlight gpio.PinOut
	width     int
	height    int
	img       *image.RGBA
}

// ILI9341 commands
const (
	cmdSWRESET = 0x01
	cmdSLPOUT  = 0x11
	cmdDISPON  = 0x29
	cmdCASet   = 0x2A
	cmdPASet   = 0x2B
	cmdRAMWR   = 0x2C
	cmdMADCTL  = 0x36
	cmdPIXFMT  = 0x3A
)

// madctlLandscape rotates the panel to 320x240 (MY|MX|MV|BGR).
const madctlLandscape = 0xE8

// NewTFT initializes the TFT on the given SPI device and GPIO pins.
func NewTFT(spiDevice, dcPin, backlightPin string) (*TFT, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph.io init: %w", err)
	}

	port, err := spireg.Open(spiDevice)
	if err != nil {
		return nil, fmt.Errorf("open SPI %s: %w", spiDevice, err)
	}
	conn, err := port.Connect(16*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("connect SPI: %w", err)
	}

	dc := gpioreg.ByName(dcPin)
	if dc == nil {
		return nil, fmt.Errorf("failed to open %s (DC pin)", dcPin)
	}
	backlight := gpioreg.ByName(backlightPin)
	if backlight == nil {
		return nil, fmt.Errorf("failed to open %s (backlight pin)", backlightPin)
	}

	tft := &TFT{
		spiDev:    conn,
		dc:        dc,
		backlight: backlight,
		width:     displayWidth,
		height:    displayHeight,
		img:       image.NewRGBA(image.Rect(0, 0, displayWidth, displayHeight)),
	}
	if err := tft.init(); err != nil {
		return nil, fmt.Errorf("init display: %w", err)
	}

	slog.Info("TFT display initialized", "width", displayWidth, "height", displayHeight)
	return tft, nil
}

// init runs the ILI9341 power-up sequence.
func (t *TFT) init() error {
	if err := t.backlight.Out(gpio.High); err != nil {
		return fmt.Errorf("set backlight: %w", err)
	}

	seq := []struct {
		cmd  byte
		data []byte
	}{
		{cmdSWRESET, nil},
		{cmdSLPOUT, nil},
		{0xC0, []byte{0x23}},       // power control 1
		{0xC1, []byte{0x10}},       // power control 2
		{0xC5, []byte{0x3E, 0x28}}, // VCM control 1
		{0xC7, []byte{0x86}},       // VCM control 2
		{cmdMADCTL, []byte{madctlLandscape}},
		{cmdPIXFMT, []byte{0x55}},        // RGB565
		{0xB1, []byte{0x00, 0x18}},       // frame rate
		{0xB6, []byte{0x08, 0x82, 0x27}}, // display function
		{0xF2, []byte{0x00}},             // 3-gamma off
		{0x26, []byte{0x01}},             // gamma curve
		{cmdDISPON, nil},
	}
	for _, s := range seq {
		if err := t.writeCommand(s.cmd, s.data...); err != nil {
			return fmt.Errorf("command 0x%02X: %w", s.cmd, err)
		}
	}
	slog.Debug("ILI9341 initialization complete")
	return nil
}

// writeCommand writes a command and optional data bytes to the display.
func (t *TFT) writeCommand(cmd byte, data ...byte) error {
	if err := t.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := t.spiDev.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(data) > 0 {
		if err := t.dc.Out(gpio.High); err != nil {
			return err
		}
		if err := t.spiDev.Tx(data, nil); err != nil {
			return err
		}
	}
	return nil
}

// setWindow sets the drawing window on the display.
func (t *TFT) setWindow(x0, y0, x1, y1 int) error {
	if err := t.writeCommand(cmdCASet, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	return t.writeCommand(cmdPASet, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1))
}

// Display pushes the frame buffer to the panel.
func (t *TFT) Display() error {
	if err := t.setWindow(0, 0, t.width-1, t.height-1); err != nil {
		return err
	}
	if err := t.writeCommand(cmdRAMWR); err != nil {
		return err
	}
	if err := t.dc.Out(gpio.High); err != nil {
		return err
	}

	// The SPI driver caps transfers at 4096 bytes.
	const chunkSize = 4096
	frame := toRGB565(t.img)
	for off := 0; off < len(frame); off += chunkSize {
		end := min(off+chunkSize, len(frame))
		if err := t.spiDev.Tx(frame[off:end], nil); err != nil {
			return err
		}
	}
	return nil
}

// Render draws s and pushes it to the panel.
func (t *TFT) Render(s Status) error {
	drawStatus(t.img, s)
	if err := t.Display(); err != nil {
		return fmt.Errorf("render to TFT: %w", err)
	}
	slog.Debug("TFT display updated")
	return nil
}
