//go:build rp2040 || rp2350

package hw

import (
	"machine"
	"time"

	"ethcode-go/types"

	"tinygo.org/x/drivers"
)

const rp2GPIOMax = 29

type rp2Pin struct {
	p machine.Pin
	n int
}

func (r *rp2Pin) Number() int { return r.n }

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) ConfigureInput() error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

func (r *rp2Pin) Set(b bool) { r.p.Set(b) }
func (r *rp2Pin) Get() bool  { return r.p.Get() }

// DefaultRegistry configures the SPI peripheral named in plan and exposes
// GPIO 0..29 by number.
func DefaultRegistry(plan types.PinPlan, timeout time.Duration) *Registry {
	pins := make(map[int]*rp2Pin)
	buses := make(map[string]drivers.SPI)

	var spi *machine.SPI
	switch plan.SPI {
	case "spi1":
		spi = machine.SPI1
	default:
		spi = machine.SPI0
	}
	_ = spi.Configure(machine.SPIConfig{
		Frequency: plan.Hz,
		SCK:       machine.Pin(plan.SCK),
		SDO:       machine.Pin(plan.SDO),
		SDI:       machine.Pin(plan.SDI),
		Mode:      0,
	})
	buses[plan.SPI] = spi

	return NewRegistry(func(n int) (Pin, bool) {
		if n < 0 || n > rp2GPIOMax {
			return nil, false
		}
		if p, ok := pins[n]; ok {
			return p, true
		}
		p := &rp2Pin{p: machine.Pin(n), n: n}
		pins[n] = p
		return p, true
	}, buses, timeout)
}
