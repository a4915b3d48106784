package eth

import (
	"context"
	"errors"
	"sync"
	"time"

	"ethcode-go/errcode"
	"ethcode-go/types"
	"ethcode-go/x/timex"
)

// ---- hardware ----

type fakeHW struct {
	mu         sync.Mutex
	acquireErr error
	acquired   bool
	released   int
	keptPower  bool
	power      bool
	resets     int
}

func (h *fakeHW) Acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.acquireErr != nil {
		return h.acquireErr
	}
	h.acquired = true
	return nil
}

func (h *fakeHW) PowerOn()  { h.mu.Lock(); h.power = true; h.mu.Unlock() }
func (h *fakeHW) PowerOff() { h.mu.Lock(); h.power = false; h.mu.Unlock() }

func (h *fakeHW) PulseReset(ctx context.Context, hold, settle time.Duration) error {
	h.mu.Lock()
	h.resets++
	h.mu.Unlock()
	if !timex.Sleep(ctx, hold) || !timex.Sleep(ctx, settle) {
		return errcode.Cancelled
	}
	return nil
}

func (h *fakeHW) Release(keepPower bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released++
	h.acquired = false
	h.keptPower = keepPower
	if !keepPower {
		h.power = false
	}
}

func (h *fakeHW) snapshot() (acquired bool, released int, power bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acquired, h.released, h.power
}

// ---- controller ----

type fakeController struct {
	mu        sync.Mutex
	initFails int // -1: never acks
	inits     int
	linkAfter int // -1: never up
	linkPolls int
	linkErr   error
	netinfo   []types.NetworkIdentity
}

func (c *fakeController) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits++
	if c.initFails < 0 || c.inits <= c.initFails {
		return errors.New("no ack")
	}
	return nil
}

func (c *fakeController) SetNetInfo(id types.NetworkIdentity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.netinfo = append(c.netinfo, id)
	return nil
}

func (c *fakeController) LinkUp() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.linkPolls++
	if c.linkErr != nil {
		return false, c.linkErr
	}
	return c.linkAfter >= 0 && c.linkPolls > c.linkAfter, nil
}

func (c *fakeController) lastNetInfo() types.NetworkIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.netinfo) == 0 {
		return types.NetworkIdentity{}
	}
	return c.netinfo[len(c.netinfo)-1]
}

func (c *fakeController) initCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits
}

// ---- DHCP ----

// scriptDHCP replays a status script per round; after the script it keeps
// returning the last entry (or Running for an empty script).
type scriptDHCP struct {
	mu      sync.Mutex
	rounds  [][]types.DHCPStatus
	leases  []types.Lease
	round   int
	pos     int
	begins  int
	beginIP []types.IPv4
}

func (d *scriptDHCP) Begin(req types.IPv4) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.begins > 0 && d.round < len(d.rounds)-1 {
		d.round++
	}
	d.begins++
	d.beginIP = append(d.beginIP, req)
	d.pos = 0
	return nil
}

func (d *scriptDHCP) Step() (types.DHCPStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rounds) == 0 {
		return types.DHCPRunning, nil
	}
	script := d.rounds[d.round]
	if len(script) == 0 {
		return types.DHCPRunning, nil
	}
	if d.pos >= len(script) {
		return script[len(script)-1], nil
	}
	st := script[d.pos]
	d.pos++
	return st, nil
}

func (d *scriptDHCP) Lease() types.Lease {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.round < len(d.leases) {
		return d.leases[d.round]
	}
	return types.Lease{}
}

func (d *scriptDHCP) beginCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begins
}

// ---- prober ----

type fakeProber struct {
	mu    sync.Mutex
	fail  bool
	pings int
}

func (p *fakeProber) Ping(ctx context.Context, dst types.IPv4) (time.Duration, error) {
	p.mu.Lock()
	p.pings++
	fail := p.fail
	p.mu.Unlock()
	if fail {
		<-ctx.Done()
		return 0, errors.New("no reply")
	}
	return 3 * time.Millisecond, nil
}

// ---- helpers ----

func fastTiming() Timing {
	return Timing{
		ResetHold:    time.Millisecond,
		InitAttempts: 3,
		InitRetry:    time.Millisecond,
		LinkTimeout:  30 * time.Millisecond,
		LinkPoll:     time.Millisecond,
		DHCPTimeout:  200 * time.Millisecond,
		DHCPStep:     time.Millisecond,
		ProbeTimeout: 5 * time.Millisecond,
		ProbeCount:   2,
	}
}

// workerTiming keeps the fast retry and poll intervals but leaves wide
// deadlines, so worker tests do not race a busy scheduler into link_timeout.
func workerTiming() Timing {
	t := fastTiming()
	t.LinkTimeout = 2 * time.Second
	t.DHCPTimeout = 2 * time.Second
	return t
}

var testLease = types.Lease{
	IP:       types.IPv4{10, 0, 0, 5},
	Gateway:  types.IPv4{10, 0, 0, 1},
	Subnet:   types.IPv4{255, 255, 255, 0},
	DNS:      types.IPv4{8, 8, 8, 8},
	LeaseSec: 86400,
}

type rig struct {
	hw     *fakeHW
	ctrl   *fakeController
	dhcp   *scriptDHCP
	prober *fakeProber
	sink   *Sink

	mu     sync.Mutex
	events []types.Event
}

func newRig() *rig {
	return &rig{
		hw:     &fakeHW{},
		ctrl:   &fakeController{linkAfter: 2},
		dhcp:   &scriptDHCP{},
		prober: &fakeProber{},
		sink:   NewSink(SinkOptions{}),
	}
}

func (r *rig) build() (Stack, error) {
	return Stack{Controller: r.ctrl, DHCP: r.dhcp, Prober: r.prober}, nil
}

func (r *rig) onEvent(ev types.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *rig) eventList() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

func (r *rig) has(k types.EventKind) bool {
	for _, ev := range r.eventList() {
		if ev.Kind == k {
			return true
		}
	}
	return false
}

func (r *rig) machine(defaults types.NetworkIdentity) *Machine {
	return NewMachine(MachineConfig{
		Hardware: r.hw,
		Build:    r.build,
		Sink:     r.sink,
		Defaults: defaults,
		Timing:   fastTiming(),
		OnEvent:  r.onEvent,
	})
}

func (r *rig) worker(defaults types.NetworkIdentity) *Worker {
	w := New(Config{
		Hardware: r.hw,
		Build:    r.build,
		Defaults: defaults,
		Timing:   workerTiming(),
		Sink:     r.sink,
	})
	w.OnEvent(r.onEvent)
	return w
}
