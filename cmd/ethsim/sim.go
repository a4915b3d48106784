package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"ethcode-go/services/eth"
	"ethcode-go/types"
)

// scenario selects how the simulated network behaves.
type scenario struct {
	dhcp     []types.DHCPStatus
	lease    types.Lease
	linkUp   bool
	initFail bool
	offline  bool
}

var errUnknownScenario = errors.New("unknown dhcp scenario")

// parseDHCP maps a scenario name to a step script.
func parseDHCP(name string) ([]types.DHCPStatus, error) {
	r := types.DHCPRunning
	switch strings.ToLower(name) {
	case "", "ok":
		return []types.DHCPStatus{r, r, r, types.DHCPAssigned}, nil
	case "renew":
		return []types.DHCPStatus{r, types.DHCPLeased}, nil
	case "changed":
		return []types.DHCPStatus{r, types.DHCPChanged}, nil
	case "conflict":
		return []types.DHCPStatus{r, types.DHCPConflict, r, types.DHCPAssigned}, nil
	case "fail":
		return []types.DHCPStatus{r, r, types.DHCPFailed}, nil
	case "timeout":
		return []types.DHCPStatus{r}, nil
	}
	return nil, errUnknownScenario
}

var simLease = types.Lease{
	IP:       types.IPv4{10, 0, 0, 5},
	Subnet:   types.IPv4{255, 255, 255, 0},
	Gateway:  types.IPv4{10, 0, 0, 1},
	DNS:      types.IPv4{8, 8, 8, 8},
	LeaseSec: 86400,
}

// stack builds the simulated chip collaborators.
func (sc scenario) stack() (eth.Stack, error) {
	return eth.Stack{
		Controller: &simController{sc: sc},
		DHCP:       &simDHCP{script: sc.dhcp, lease: sc.lease},
		Prober:     &simProber{offline: sc.offline},
	}, nil
}

type simController struct {
	sc    scenario
	polls int
}

func (c *simController) Init() error {
	if c.sc.initFail {
		return errors.New("no VERSIONR ack")
	}
	return nil
}

func (c *simController) SetNetInfo(types.NetworkIdentity) error { return nil }

func (c *simController) LinkUp() (bool, error) {
	c.polls++
	return c.sc.linkUp && c.polls > 50, nil
}

type simDHCP struct {
	mu     sync.Mutex
	script []types.DHCPStatus
	lease  types.Lease
	pos    int
	last   time.Time
}

func (d *simDHCP) Begin(types.IPv4) error {
	d.mu.Lock()
	d.pos, d.last = 0, time.Now()
	d.mu.Unlock()
	return nil
}

// Step advances the script at most every 100 ms, roughly the pace of a
// DORA exchange.
func (d *simDHCP) Step() (types.DHCPStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.script) == 0 {
		return types.DHCPRunning, nil
	}
	if time.Since(d.last) >= 100*time.Millisecond && d.pos < len(d.script)-1 {
		d.pos++
		d.last = time.Now()
	}
	return d.script[d.pos], nil
}

func (d *simDHCP) Lease() types.Lease {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lease
}

type simProber struct{ offline bool }

func (p *simProber) Ping(ctx context.Context, _ types.IPv4) (time.Duration, error) {
	if p.offline {
		<-ctx.Done()
		return 0, errors.New("request timed out")
	}
	select {
	case <-time.After(12 * time.Millisecond):
		return 12 * time.Millisecond, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
