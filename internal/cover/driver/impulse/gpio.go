//go:build linux

package impulse

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
)

// GPIOPin drives an output line through the Linux GPIO character device.
type GPIOPin struct {
	line *gpiocdev.Line
}

// NewGPIOPin requests the line as an output set to initial, which should be
// the released level of the relay it drives.
func NewGPIOPin(chip string, offset int, initial int) (*GPIOPin, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, errors.Wrapf(err, "request %s line %d", chip, offset)
	}
	return &GPIOPin{line: line}, nil
}

func (p *GPIOPin) High() error {
	return p.line.SetValue(1)
}

func (p *GPIOPin) Low() error {
	return p.line.SetValue(0)
}

func (p *GPIOPin) Close() error {
	return p.line.Close()
}

// WatchSense subscribes to rising edges on the input line that reports the
// motor controller input turning active. Both wall button presses and the
// relay's own presses are delivered through the registered activation
// handler until ctx ends.
func (w *Wired) WatchSense(ctx context.Context, chip string, offset int, debounce time.Duration) error {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.WithPullUp,
		gpiocdev.WithDebounce(debounce),
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if evt.Type != gpiocdev.LineEventRisingEdge {
				return
			}
			logrus.Debugf("%s: sense line edge", w.name)
			w.activate(ctx)
		}))
	if err != nil {
		return errors.Wrapf(err, "%s: request sense %s line %d", w.name, chip, offset)
	}

	go func() {
		<-ctx.Done()
		if err := line.Close(); err != nil {
			logrus.Errorf("%s: sense line close: %s", w.name, err)
		}
	}()
	return nil
}
