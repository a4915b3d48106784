// Package hw owns the pins and SPI bus of the Ethernet controller for the
// lifetime of the worker. Acquisition order is power rail, reset line,
// chip-select, bus; release runs in reverse.
package hw

import (
	"context"
	"sync"
	"time"

	"ethcode-go/errcode"
	"ethcode-go/types"
	"ethcode-go/x/timex"

	"tinygo.org/x/drivers"
)

// NoPin marks an optional line as absent.
const NoPin = -1

// Shim drives chip-select, reset and power for one controller and performs
// blocking bus transfers. It implements w5500.Bus.
type Shim struct {
	reg   ResourceRegistry
	devID string
	plan  types.PinPlan

	mu       sync.Mutex
	power    Pin
	reset    Pin
	cs       Pin
	spi      drivers.SPI
	selected bool
}

// New returns an unacquired shim for plan.
func New(reg ResourceRegistry, devID string, plan types.PinPlan) *Shim {
	return &Shim{reg: reg, devID: devID, plan: plan}
}

// Acquire claims every resource in order. On failure whatever was already
// claimed is released again.
func (s *Shim) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spi != nil {
		return nil
	}
	// a rail kept on by Release(true) is still ours
	if s.plan.Power != NoPin && s.power == nil {
		p, err := s.claim(s.plan.Power, false)
		if err != nil {
			return err
		}
		s.power = p
	}
	p, err := s.claim(s.plan.Reset, true)
	if err != nil {
		s.releaseLocked(false)
		return err
	}
	s.reset = p
	if p, err = s.claim(s.plan.CS, true); err != nil {
		s.releaseLocked(false)
		return err
	}
	s.cs = p
	spi, err := s.reg.ClaimSPI(s.devID, s.plan.SPI)
	if err != nil {
		s.releaseLocked(false)
		return errcode.Wrap(errcode.Of(err), "claim "+s.plan.SPI, err)
	}
	s.spi = spi
	return nil
}

func (s *Shim) claim(n int, initial bool) (Pin, error) {
	p, err := s.reg.ClaimPin(s.devID, n)
	if err != nil {
		return nil, err
	}
	if err := p.ConfigureOutput(initial); err != nil {
		s.reg.ReleasePin(s.devID, n)
		return nil, err
	}
	return p, nil
}

// Release deselects the chip and gives back the bus, chip-select and reset
// line. With keepPower the rail stays claimed and driven.
func (s *Shim) Release(keepPower bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(keepPower)
}

func (s *Shim) releaseLocked(keepPower bool) {
	if s.cs != nil {
		s.cs.Set(true)
		s.selected = false
	}
	if s.spi != nil {
		s.reg.ReleaseSPI(s.devID, s.plan.SPI)
		s.spi = nil
	}
	if s.cs != nil {
		s.reg.ReleasePin(s.devID, s.cs.Number())
		s.cs = nil
	}
	if s.reset != nil {
		s.reg.ReleasePin(s.devID, s.reset.Number())
		s.reset = nil
	}
	if s.power != nil && !keepPower {
		s.power.Set(false)
		s.reg.ReleasePin(s.devID, s.power.Number())
		s.power = nil
	}
}

// PowerOn enables the rail. It is a no-op without a power pin.
func (s *Shim) PowerOn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.power != nil {
		s.power.Set(true)
	}
}

// PowerOff disables the rail.
func (s *Shim) PowerOff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.power != nil {
		s.power.Set(false)
	}
}

// PulseReset drives reset low for hold, releases it and waits settle.
// It returns errcode.Cancelled if ctx ends first; reset is always released.
func (s *Shim) PulseReset(ctx context.Context, hold, settle time.Duration) error {
	s.mu.Lock()
	rst := s.reset
	s.mu.Unlock()
	if rst == nil {
		return errcode.New(errcode.NotReady, "reset", "not acquired")
	}
	rst.Set(false)
	ok := timex.Sleep(ctx, hold)
	rst.Set(true)
	if !ok || !timex.Sleep(ctx, settle) {
		return errcode.Cancelled
	}
	return nil
}

// Selected reports whether chip-select is asserted.
func (s *Shim) Selected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Shim) Select() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cs != nil {
		s.cs.Set(false)
		s.selected = true
	}
}

func (s *Shim) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cs != nil {
		s.cs.Set(true)
		s.selected = false
	}
}

func (s *Shim) bus() (drivers.SPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spi == nil {
		return nil, errcode.New(errcode.NotReady, "spi", "not acquired")
	}
	return s.spi, nil
}

// ReadBytes fills p from the bus.
func (s *Shim) ReadBytes(p []byte) error {
	b, err := s.bus()
	if err != nil {
		return err
	}
	return b.Tx(nil, p)
}

// WriteBytes clocks p out on the bus.
func (s *Shim) WriteBytes(p []byte) error {
	b, err := s.bus()
	if err != nil {
		return err
	}
	return b.Tx(p, nil)
}
