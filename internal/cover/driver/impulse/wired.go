package impulse

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
)

const DefaultPressDuration = 200 * time.Millisecond

type SetPin interface {
	High() error
	Low() error
}

type Mcp23017Pin struct {
	device *mcp23017.Device
	pin    uint8
}

func NewMcp23017Pin(device *mcp23017.Device, pin uint8) (*Mcp23017Pin, error) {
	p := &Mcp23017Pin{device: device, pin: pin}
	if err := p.device.PinMode(pin, mcp23017.OUTPUT); err != nil {
		return nil, errors.Wrapf(err, "mcp23017 pin %d mode", pin)
	}
	return p, nil
}

func (m *Mcp23017Pin) High() error {
	return m.device.DigitalWrite(m.pin, mcp23017.HIGH)
}

func (m *Mcp23017Pin) Low() error {
	return m.device.DigitalWrite(m.pin, mcp23017.LOW)
}

// Wired presses a momentary relay attached to an output pin. On its own it
// cannot observe activations; WatchSense attaches the input line where wall
// buttons wired in parallel with the relay show up.
type Wired struct {
	Pin           SetPin
	NormalClosed  bool
	PressDuration time.Duration

	name string

	mu         sync.Mutex
	onActivate ActivationHandler
}

func NewWired(name string, pin SetPin) *Wired {
	return &Wired{name: name, Pin: pin, PressDuration: DefaultPressDuration}
}

func (w *Wired) Pulse(ctx context.Context) error {
	duration := w.PressDuration
	if duration <= 0 {
		duration = DefaultPressDuration
	}

	after := time.After(duration)
	if err := w.press(); err != nil {
		return errors.Wrapf(err, "%s: wired switch press", w.name)
	}
	defer func() {
		if err := w.release(); err != nil {
			logrus.Errorf("%s: wired switch release: %s", w.name, err)
		}
	}()

	select {
	case <-after:
	case <-ctx.Done():
		logrus.Debugf("%s: wired switch press interrupted", w.name)
	}
	return nil
}

func (w *Wired) OnActivate(h ActivationHandler) {
	w.mu.Lock()
	w.onActivate = h
	w.mu.Unlock()
}

func (w *Wired) activate(ctx context.Context) {
	w.mu.Lock()
	h := w.onActivate
	w.mu.Unlock()

	if h != nil {
		h(ctx)
	}
}

func (w *Wired) press() error {
	if !w.NormalClosed {
		return w.Pin.Low()
	}

	return w.Pin.High()
}

func (w *Wired) release() error {
	if !w.NormalClosed {
		return w.Pin.High()
	}

	return w.Pin.Low()
}
