//go:build !linux

package impulse

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var errNoGPIO = errors.New("gpio requires the linux character device")

// GPIOPin is only functional on Linux where the GPIO character device
// exists.
type GPIOPin struct{}

func NewGPIOPin(chip string, offset int, initial int) (*GPIOPin, error) {
	return nil, errNoGPIO
}

func (p *GPIOPin) High() error {
	return errNoGPIO
}

func (p *GPIOPin) Low() error {
	return errNoGPIO
}

func (p *GPIOPin) Close() error {
	return nil
}

func (w *Wired) WatchSense(ctx context.Context, chip string, offset int, debounce time.Duration) error {
	return errNoGPIO
}
