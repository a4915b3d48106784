package eth

import (
	"context"
	"errors"
	"sync"
	"time"

	"ethcode-go/errcode"
	"ethcode-go/types"
	"ethcode-go/x/conv"
	"ethcode-go/x/timex"
)

// DefaultProbeTarget is pinged after negotiation.
var DefaultProbeTarget = types.IPv4{8, 8, 8, 8}

type MachineConfig struct {
	Hardware Hardware
	// Build constructs the chip collaborators over the acquired hardware.
	// It runs once, at the first ChipReset.
	Build       func() (Stack, error)
	Sink        *Sink
	Defaults    types.NetworkIdentity
	Timing      Timing
	ProbeTarget types.IPv4
	OnEvent     func(types.Event)
}

// Machine is the acquisition state machine. BringUp and Negotiate must be
// called from a single goroutine; the accessors are safe from any.
type Machine struct {
	cfg  MachineConfig
	sink *Sink

	stack Stack
	built bool
	// linked is set once LinkWait succeeds; Negotiate needs it.
	linked bool

	mu      sync.RWMutex
	id      types.NetworkIdentity
	phase   types.Phase
	lastErr error
	lease   types.Lease
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.ProbeTarget.IsZero() {
		cfg.ProbeTarget = DefaultProbeTarget
	}
	if cfg.Sink == nil {
		cfg.Sink = NewSink(SinkOptions{})
	}
	return &Machine{cfg: cfg, sink: cfg.Sink, id: cfg.Defaults}
}

// Identity returns a snapshot of the current identity.
func (m *Machine) Identity() types.NetworkIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// Phase returns the current phase.
func (m *Machine) Phase() types.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Err returns the error that put the machine into PhaseFailed, if any.
func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// CanNegotiate reports whether Negotiate may run without a full bring-up.
func (m *Machine) CanNegotiate() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linked && m.phase == types.PhaseReady
}

// BringUp runs PowerUp through Ready. It returns nil in Ready, the terminal
// error in Failed, or an errcode.Cancelled error when ctx ends.
func (m *Machine) BringUp(ctx context.Context) error {
	t := m.cfg.Timing
	m.mu.Lock()
	m.id = m.cfg.Defaults
	m.linked = false
	m.lastErr = nil
	m.mu.Unlock()

	// PowerUp
	if err := m.enter(ctx, types.PhasePowerUp, types.ChanInit); err != nil {
		return err
	}
	m.cfg.Hardware.PowerOn()
	m.sink.Emit(types.ChanInit, "power rail on")
	if !timex.Sleep(ctx, t.PowerSettle) {
		return m.cancelled(ctx)
	}

	// ChipReset
	if err := m.enter(ctx, types.PhaseChipReset, types.ChanInit); err != nil {
		return err
	}
	if err := m.cfg.Hardware.PulseReset(ctx, t.ResetHold, t.ResetSettle); err != nil {
		if ctx.Err() != nil {
			return m.cancelled(ctx)
		}
		return m.fail(types.ChanInit, errcode.HardwareInit, "reset", err)
	}
	if !m.built {
		st, err := m.cfg.Build()
		if err != nil {
			return m.fail(types.ChanInit, errcode.HardwareInit, "controller", err)
		}
		m.stack, m.built = st, true
	}
	var err error
	for i := 0; i < t.InitAttempts; i++ {
		if err = m.stack.Controller.Init(); err == nil {
			break
		}
		if ctx.Err() != nil {
			return m.cancelled(ctx)
		}
		if !timex.Sleep(ctx, t.InitRetry) {
			return m.cancelled(ctx)
		}
	}
	if err != nil {
		return m.fail(types.ChanInit, errcode.HardwareInit, "chip init timeout", err)
	}
	m.sink.Emit(types.ChanInit, "W5500 initialized")

	// BufferConfig
	if err := m.enter(ctx, types.PhaseBufferConfig, types.ChanInit); err != nil {
		return err
	}
	if err := m.stack.Controller.SetNetInfo(m.Identity()); err != nil {
		if ctx.Err() != nil {
			return m.cancelled(ctx)
		}
		return m.fail(types.ChanInit, errcode.HardwareInit, "set netinfo", err)
	}
	m.sink.Emit(types.ChanInit, "netinfo set, mac "+conv.MACString(m.Identity().MAC))

	// LinkWait
	if err := m.enter(ctx, types.PhaseLinkWait, types.ChanInit); err != nil {
		return err
	}
	if err := m.waitLink(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.linked = true
	m.mu.Unlock()
	m.sink.Emit(types.ChanInit, "link up")
	if !timex.Sleep(ctx, t.LinkSettle) {
		return m.cancelled(ctx)
	}
	return m.negotiate(ctx)
}

// Negotiate re-runs address acquisition and the probe on a chip that is
// already up. It returns errcode.NotReady unless the machine is Ready.
func (m *Machine) Negotiate(ctx context.Context) error {
	if !m.CanNegotiate() {
		return errcode.New(errcode.NotReady, "negotiate", m.Phase().String())
	}
	return m.negotiate(ctx)
}

func (m *Machine) waitLink(ctx context.Context) error {
	t := m.cfg.Timing
	deadline := time.Now().Add(t.LinkTimeout)
	var lastErr error
	for {
		up, err := m.stack.Controller.LinkUp()
		switch {
		case err != nil:
			if lastErr == nil {
				m.sink.Emit(types.ChanInit, "Unknown PHY link status: "+err.Error())
			}
			lastErr = err
		case up:
			return nil
		}
		if !time.Now().Before(deadline) {
			return m.fail(types.ChanInit, errcode.LinkTimeout, "no link", lastErr)
		}
		if !timex.Sleep(ctx, t.LinkPoll) {
			return m.cancelled(ctx)
		}
	}
}

func (m *Machine) negotiate(ctx context.Context) error {
	if m.cfg.Defaults.Mode == types.ModeDHCP {
		if err := m.runDHCP(ctx); err != nil {
			return err
		}
	} else if err := m.runStatic(ctx); err != nil {
		return err
	}
	if err := m.runProbe(ctx); err != nil {
		return err
	}
	if err := m.enter(ctx, types.PhaseReady, types.ChanPersistent); err != nil {
		return err
	}
	return nil
}

func (m *Machine) runDHCP(ctx context.Context) error {
	t := m.cfg.Timing
	if err := m.enter(ctx, types.PhaseDHCPNegotiate, types.ChanDHCP); err != nil {
		return err
	}
	m.mu.RLock()
	requested := m.lease.IP
	m.mu.RUnlock()

	dhcp := m.stack.DHCP
	if err := dhcp.Begin(requested); err != nil {
		m.sink.Emit(types.ChanDHCP, "DHCP init: "+err.Error())
		return m.dhcpFallback(ctx)
	}
	deadline := time.Now().Add(t.DHCPTimeout)
	var stepErr error
	for {
		if ctx.Err() != nil {
			return m.cancelled(ctx)
		}
		st, err := dhcp.Step()
		if err != nil {
			if stepErr == nil {
				m.sink.Emit(types.ChanDHCP, "DHCP step: "+err.Error())
			}
			stepErr = err
			st = types.DHCPRunning
		}
		switch st {
		case types.DHCPAssigned, types.DHCPChanged, types.DHCPLeased:
			l := dhcp.Lease()
			if !usableLease(l) {
				m.sink.Emit(types.ChanDHCP, "DHCP lease incomplete")
				return m.dhcpFallback(ctx)
			}
			return m.applyLease(ctx, st, l)
		case types.DHCPConflict:
			m.sink.Emit(types.ChanDHCP, "IP conflict")
			m.event(types.PhaseDHCPNegotiate, types.EvConflict, "")
		case types.DHCPFailed:
			return m.dhcpFallback(ctx)
		}
		if !time.Now().Before(deadline) {
			m.sink.Emit(types.ChanDHCP, "DHCP timeout")
			return m.dhcpFallback(ctx)
		}
		if !timex.Sleep(ctx, t.DHCPStep) {
			return m.cancelled(ctx)
		}
	}
}

func (m *Machine) applyLease(ctx context.Context, st types.DHCPStatus, l types.Lease) error {
	id := withLease(m.Identity(), l)
	m.mu.Lock()
	m.id = id
	m.lease = l
	m.mu.Unlock()

	kind, label := types.EvLeaseAssigned, "IP assigned"
	switch st {
	case types.DHCPChanged:
		kind, label = types.EvLeaseChanged, "IP changed"
	case types.DHCPLeased:
		kind, label = types.EvLeaseRenewed, "IP leased"
	}
	if err := m.stack.Controller.SetNetInfo(id); err != nil {
		m.sink.Emit(types.ChanDHCP, "set netinfo: "+err.Error())
	}
	m.sink.Emit(types.ChanDHCP, leaseLine(">> "+label, l))
	m.event(types.PhaseDHCPNegotiate, kind, "")
	m.summary(types.ChanDHCP, id)

	if !timex.Sleep(ctx, m.cfg.Timing.LeaseHold) {
		return m.cancelled(ctx)
	}
	return nil
}

func (m *Machine) dhcpFallback(ctx context.Context) error {
	id := staticFallback(m.cfg.Defaults)
	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
	m.sink.Emit(types.ChanDHCP, ">> DHCP Failed")
	if err := m.stack.Controller.SetNetInfo(id); err != nil {
		m.sink.Emit(types.ChanDHCP, "set netinfo: "+err.Error())
	}
	m.event(types.PhaseDHCPNegotiate, types.EvDHCPFailed, string(errcode.DHCPFailed))
	m.summary(types.ChanDHCP, id)
	if ctx.Err() != nil {
		return m.cancelled(ctx)
	}
	return nil
}

func (m *Machine) runStatic(ctx context.Context) error {
	if err := m.enter(ctx, types.PhaseStaticAssign, types.ChanStatic); err != nil {
		return err
	}
	id := staticFallback(m.cfg.Defaults)
	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
	if err := m.stack.Controller.SetNetInfo(id); err != nil {
		m.sink.Emit(types.ChanStatic, "set netinfo: "+err.Error())
	}
	m.summary(types.ChanStatic, id)
	return nil
}

func (m *Machine) runProbe(ctx context.Context) error {
	if err := m.enter(ctx, types.PhaseConnectivityProbe, types.ChanProbe); err != nil {
		return err
	}
	dst := conv.IPv4String(m.cfg.ProbeTarget)
	p := m.stack.Prober
	if p == nil {
		m.sink.Emit(types.ChanProbe, "ping "+dst+" skipped: no prober")
		return nil
	}
	var err error
	for i := 0; i < m.cfg.Timing.ProbeCount; i++ {
		pctx, cancel := context.WithTimeout(ctx, m.cfg.Timing.ProbeTimeout)
		var rtt time.Duration
		rtt, err = p.Ping(pctx, m.cfg.ProbeTarget)
		cancel()
		if ctx.Err() != nil {
			return m.cancelled(ctx)
		}
		if err == nil {
			ms := conv.UintString(uint64(rtt / time.Millisecond))
			m.sink.Emit(types.ChanProbe, "PING TEST OK "+dst+" time="+ms+"ms")
			m.event(types.PhaseConnectivityProbe, types.EvProbeOK, "")
			return nil
		}
	}
	perr := errcode.Wrap(errcode.ProbeFailed, "ping "+dst, err)
	m.sink.Emit(types.ChanProbe, "PING ERROR: "+perr.Error())
	m.event(types.PhaseConnectivityProbe, types.EvProbeFailed, string(errcode.ProbeFailed))
	return nil
}

// enter checks for cancellation, records the phase, logs it on ch and
// emits the transition event.
func (m *Machine) enter(ctx context.Context, p types.Phase, ch types.Channel) error {
	if ctx.Err() != nil {
		return m.cancelled(ctx)
	}
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	m.sink.Emit(ch, "state "+p.String())
	m.event(p, types.EvEnter, "")
	return nil
}

// fail logs the failure on ch (and so on the persistent channel) before
// moving to PhaseFailed.
func (m *Machine) fail(ch types.Channel, code errcode.Code, msg string, cause error) error {
	err := &errcode.E{C: code, Op: m.Phase().String(), Msg: msg, Err: cause}
	m.sink.Emit(ch, "FAILED "+err.Error())
	m.mu.Lock()
	m.phase = types.PhaseFailed
	m.lastErr = err
	m.mu.Unlock()
	m.event(types.PhaseFailed, types.EvFailed, string(code))
	return err
}

func (m *Machine) cancelled(ctx context.Context) error {
	cause := ctx.Err()
	if cause == nil {
		cause = errors.New("cancelled")
	}
	return errcode.Wrap(errcode.Cancelled, m.Phase().String(), cause)
}

func (m *Machine) event(p types.Phase, k types.EventKind, code string) {
	if m.cfg.OnEvent == nil {
		return
	}
	m.cfg.OnEvent(types.Event{
		Phase:    p,
		Kind:     k,
		Identity: m.Identity(),
		Error:    code,
		TS:       timex.NowMs(),
	})
}

func (m *Machine) summary(ch types.Channel, id types.NetworkIdentity) {
	for _, l := range IdentityLines(id) {
		m.sink.Emit(ch, l)
	}
}
