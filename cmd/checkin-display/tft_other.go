//go:build !linux

package main

import "errors"

// TFT is only available on Linux.
type TFT struct{}

// NewTFT always fails off Linux.
func NewTFT(spiDevice, dcPin, backlightPin string) (*TFT, error) {
	return nil, errors.New("TFT display requires linux")
}

// Render is never reached.
func (t *TFT) Render(s Status) error { return errors.New("TFT display requires linux") }
