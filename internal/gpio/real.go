//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealValve drives a relay on an output line of the Linux GPIO character device.
type RealValve struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealValve requests pin on chip as an output, initially closed. With
// activeLow the relay energises when the line is driven low.
func NewRealValve(chipName string, pin int, activeLow bool) (*RealValve, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request valve pin %d: %w", pin, err)
	}

	return &RealValve{chip: chip, line: line}, nil
}

// Set drives the logical line value: 1 = open.
func (v *RealValve) Set(open bool) error {
	val := 0
	if open {
		val = 1
	}
	if err := v.line.SetValue(val); err != nil {
		return fmt.Errorf("set valve pin: %w", err)
	}
	return nil
}

// Close drives the valve shut, then returns the pin to an input with
// pull-down (the Pi boot default) so the relay stays released across reboot.
func (v *RealValve) Close() error {
	var errs []error

	if v.line != nil {
		if err := v.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("close valve: %w", err))
		}
		if err := v.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure valve pin: %w", err))
		}
		if err := v.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close valve pin: %w", err))
		}
	}
	if v.chip != nil {
		if err := v.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
