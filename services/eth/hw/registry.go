package hw

import (
	"sync"
	"time"

	"ethcode-go/errcode"

	"tinygo.org/x/drivers"
)

// Pin is a claimed GPIO line.
type Pin interface {
	Number() int
	ConfigureOutput(initial bool) error
	ConfigureInput() error
	Set(bool)
	Get() bool
}

// ResourceRegistry hands out exclusive pin and bus claims.
type ResourceRegistry interface {
	ClaimPin(devID string, n int) (Pin, error)
	ReleasePin(devID string, n int)

	ClaimSPI(devID, id string) (drivers.SPI, error)
	ReleaseSPI(devID, id string)
}

var _ ResourceRegistry = (*Registry)(nil)

// DefaultBusTimeout bounds every SPI transfer.
const DefaultBusTimeout = 1000 * time.Millisecond

// Registry tracks ownership over a fixed set of pins and SPI buses. Every
// bus is driven by its own owner goroutine.
type Registry struct {
	mu sync.Mutex

	pin     func(n int) (Pin, bool)
	buses   map[string]*spiOwner
	timeout time.Duration

	pinOwners map[int]string
	busOwners map[string]string
}

// NewRegistry builds a registry. pin maps a GPIO number to a handle and
// reports false for numbers outside the board. timeout <= 0 selects
// DefaultBusTimeout.
func NewRegistry(pin func(n int) (Pin, bool), buses map[string]drivers.SPI, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultBusTimeout
	}
	r := &Registry{
		pin:       pin,
		buses:     make(map[string]*spiOwner, len(buses)),
		timeout:   timeout,
		pinOwners: make(map[int]string),
		busOwners: make(map[string]string),
	}
	for id, b := range buses {
		r.buses[id] = newSPIOwner(id, b)
	}
	return r
}

// ClaimPin grants pin n to devID. A device may claim a pin it already owns,
// such as a power rail left on across worker runs.
func (r *Registry) ClaimPin(devID string, n int) (Pin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pin(n)
	if !ok {
		return nil, errcode.UnknownPin
	}
	if owner, inUse := r.pinOwners[n]; inUse && owner != devID {
		return nil, errcode.PinInUse
	}
	r.pinOwners[n] = devID
	return p, nil
}

func (r *Registry) ReleasePin(devID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.pinOwners[n]; ok && owner == devID {
		if p, ok := r.pin(n); ok {
			_ = p.ConfigureInput()
		}
		delete(r.pinOwners, n)
	}
}

func (r *Registry) ClaimSPI(devID, id string) (drivers.SPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.buses[id]
	if o == nil {
		return nil, errcode.UnknownBus
	}
	if owner, taken := r.busOwners[id]; taken && owner != devID {
		return nil, errcode.BusInUse
	}
	r.busOwners[id] = devID
	return &timedSPI{o: o, timeout: r.timeout}, nil
}

func (r *Registry) ReleaseSPI(devID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.busOwners[id]; ok && owner == devID {
		delete(r.busOwners, id)
	}
}

// Close stops the per-bus goroutines.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.buses {
		o.stop()
	}
	r.buses = map[string]*spiOwner{}
}
