package lamp

import (
	"testing"

	"github.com/cjeanneret/capscan/internal/hw/gpio"
)

func TestGPIOLamp_InitializedOff(t *testing.T) {
	drv := gpio.NewMockDriver()
	l := NewGPIOLamp(drv, 22, false)
	if l.IsOn() {
		t.Error("lamp should start off")
	}
	if drv.Level(22) != gpio.Low {
		t.Error("active-high lamp pin should start LOW")
	}
}

func TestGPIOLamp_ActiveLowInitializedHigh(t *testing.T) {
	drv := gpio.NewMockDriver()
	NewGPIOLamp(drv, 22, true)
	if drv.Level(22) != gpio.High {
		t.Error("active-low lamp pin should start HIGH")
	}
}

func TestGPIOLamp_OnOff(t *testing.T) {
	cases := []struct {
		name      string
		activeLow bool
		onLevel   gpio.Level
	}{
		{"active_high", false, gpio.High},
		{"active_low", true, gpio.Low},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drv := gpio.NewMockDriver()
			l := NewGPIOLamp(drv, 5, tc.activeLow)
			if err := l.On(); err != nil {
				t.Fatalf("On: %v", err)
			}
			if drv.Level(5) != tc.onLevel {
				t.Errorf("lit level = %v, want %v", drv.Level(5), tc.onLevel)
			}
			if err := l.Off(); err != nil {
				t.Fatalf("Off: %v", err)
			}
			if drv.Level(5) == tc.onLevel {
				t.Error("pin still at lit level after Off")
			}
		})
	}
}

func TestGPIOLamp_RedundantSwitchSkipsWrite(t *testing.T) {
	drv := gpio.NewMockDriver()
	l := NewGPIOLamp(drv, 5, false)
	before := drv.Writes()
	_ = l.Off()
	_ = l.On()
	_ = l.On()
	if got := drv.Writes() - before; got != 1 {
		t.Errorf("expected 1 write, got %d", got)
	}
}

func TestLampImplementations(t *testing.T) {
	var _ Lamp = &GPIOLamp{}
	var _ Lamp = &Nop{}
}
