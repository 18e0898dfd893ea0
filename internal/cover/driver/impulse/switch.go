package impulse

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// ActivationHandler is invoked whenever the switch reports turning active,
// including activations caused by Pulse itself.
type ActivationHandler func(ctx context.Context)

// Switch is the single impulse input of a cover motor controller. Pulse
// triggers exactly one momentary activation; the motor's internal toggle
// decides what that activation means.
type Switch interface {
	Pulse(ctx context.Context) error
	OnActivate(h ActivationHandler)
}

type PoolSwitch struct {
	s Switch
	c chan struct{}
}

// NewPoolSwitch limits how many switches are pressed at once, so relays
// sharing a power supply never hold too many coils together.
func NewPoolSwitch(s Switch, pool chan struct{}) *PoolSwitch {
	return &PoolSwitch{s: s, c: pool}
}

func (p *PoolSwitch) Pulse(ctx context.Context) error {
	p.c <- struct{}{}
	defer func() {
		<-p.c
	}()

	return p.s.Pulse(ctx)
}

func (p *PoolSwitch) OnActivate(h ActivationHandler) {
	p.s.OnActivate(h)
}

// Dumb is an in-memory switch for development and tests. With Echo set it
// reports its own pulses back the way real hardware does.
type Dumb struct {
	Name string
	Echo bool

	mu         sync.Mutex
	onActivate ActivationHandler
	pulses     int
}

func (d *Dumb) Pulse(ctx context.Context) error {
	d.mu.Lock()
	d.pulses++
	h := d.onActivate
	d.mu.Unlock()

	logrus.Warnf("%s: dumb switch pulse", d.Name)

	if d.Echo && h != nil {
		h(ctx)
	}
	return nil
}

func (d *Dumb) OnActivate(h ActivationHandler) {
	d.mu.Lock()
	d.onActivate = h
	d.mu.Unlock()
}

// Pulses reports how many pulses were sent so far.
func (d *Dumb) Pulses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pulses
}

// Activate simulates an activation observed on the switch, e.g. a wall
// button press.
func (d *Dumb) Activate(ctx context.Context) {
	d.mu.Lock()
	h := d.onActivate
	d.mu.Unlock()

	if h != nil {
		h(ctx)
	}
}
