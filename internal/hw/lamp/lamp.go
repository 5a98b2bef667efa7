package lamp

import (
	"sync"

	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/hw/gpio"
)

// Lamp is a "camera in use" indicator. It is lit while a device
// stream is held, so a glance at the hardware tells whether the
// session manager has leaked a device.
type Lamp interface {
	On() error
	Off() error
	IsOn() bool
}

// GPIOLamp drives an LED wired to a single GPIO pin.
//
// Wiring: pin -> resistor -> LED -> GND for an active-high lamp, or
// 3V3 -> LED -> resistor -> pin when activeLow is set.
type GPIOLamp struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool

	mu  sync.Mutex
	lit bool
}

// NewGPIOLamp configures pin as output and switches the lamp off.
func NewGPIOLamp(g gpio.Driver, pin int, activeLow bool) *GPIOLamp {
	l := &GPIOLamp{gpio: g, pin: pin, activeLow: activeLow}
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, l.level(false))
	return l
}

func (l *GPIOLamp) level(lit bool) gpio.Level {
	if l.activeLow {
		return gpio.Level(!lit)
	}
	return gpio.Level(lit)
}

func (l *GPIOLamp) set(lit bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lit == lit {
		return nil
	}
	debug.Verbose("Lamp: pin %d -> lit=%v", l.pin, lit)
	if err := l.gpio.WritePin(l.pin, l.level(lit)); err != nil {
		return err
	}
	l.lit = lit
	return nil
}

func (l *GPIOLamp) On() error  { return l.set(true) }
func (l *GPIOLamp) Off() error { return l.set(false) }

func (l *GPIOLamp) IsOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lit
}

// Nop is a lamp that only remembers its state.
type Nop struct {
	mu  sync.Mutex
	lit bool
}

func (n *Nop) On() error  { n.mu.Lock(); n.lit = true; n.mu.Unlock(); return nil }
func (n *Nop) Off() error { n.mu.Lock(); n.lit = false; n.mu.Unlock(); return nil }

func (n *Nop) IsOn() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lit
}
