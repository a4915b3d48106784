//go:build !rp2040 && !rp2350

package hw

import (
	"sync"
	"time"

	"ethcode-go/types"

	"tinygo.org/x/drivers"
)

// HostGPIOMax is the highest pin number the host registry exposes.
const HostGPIOMax = 29

// FakePin is an in-memory GPIO line for host builds and tests.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	edges   int
}

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureInput() error {
	p.mu.Lock()
	p.modeOut = false
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	if p.level != level {
		p.edges++
	}
	p.level = level
	p.mu.Unlock()
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

// IsOutput reports whether the line is currently driven.
func (p *FakePin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

// Edges counts level changes since construction.
func (p *FakePin) Edges() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.edges
}

// HostSPI implements drivers.SPI for host builds. Handler, when set, serves
// each transfer; otherwise reads return zeros.
type HostSPI struct {
	mu      sync.Mutex
	Handler func(w, r []byte) error
	Delay   time.Duration
	txCount int
}

var _ drivers.SPI = (*HostSPI)(nil)

func (h *HostSPI) Tx(w, r []byte) error {
	h.mu.Lock()
	fn, d := h.Handler, h.Delay
	h.txCount++
	h.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	if fn != nil {
		return fn(w, r)
	}
	for i := range r {
		r[i] = 0
	}
	return nil
}

func (h *HostSPI) Transfer(b byte) (byte, error) {
	var in [1]byte
	err := h.Tx([]byte{b}, in[:])
	return in[0], err
}

// Transfers counts Tx calls.
func (h *HostSPI) Transfers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txCount
}

// HostBoard is the in-memory hardware behind a host registry.
type HostBoard struct {
	Pins [HostGPIOMax + 1]*FakePin
	SPI  map[string]*HostSPI
}

// Pin returns fake pin n.
func (b *HostBoard) Pin(n int) *FakePin { return b.Pins[n] }

// NewHostRegistry builds a registry over fake pins 0..HostGPIOMax and the
// buses "spi0" and "spi1". The plan is accepted for parity with the
// firmware build.
func NewHostRegistry(_ types.PinPlan, timeout time.Duration) (*Registry, *HostBoard) {
	b := &HostBoard{SPI: map[string]*HostSPI{"spi0": {}, "spi1": {}}}
	for i := range b.Pins {
		b.Pins[i] = &FakePin{number: i}
	}
	buses := make(map[string]drivers.SPI, len(b.SPI))
	for id, s := range b.SPI {
		buses[id] = s
	}
	r := NewRegistry(func(n int) (Pin, bool) {
		if n < 0 || n > HostGPIOMax {
			return nil, false
		}
		return b.Pins[n], true
	}, buses, timeout)
	return r, b
}

// DefaultRegistry returns the platform registry for plan.
func DefaultRegistry(plan types.PinPlan, timeout time.Duration) *Registry {
	r, _ := NewHostRegistry(plan, timeout)
	return r
}
