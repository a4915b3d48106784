// Package netstack runs a userspace DHCP client over a raw Ethernet frame
// interface, such as the W5500 MACRAW socket.
package netstack

import (
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"ethcode-go/types"

	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

const (
	MTU       = 1500
	frameSize = MTU + 14

	// Frames drained from the NIC per Step.
	rxBurst = 4
	// Steps spent waiting for an ARP answer on the offered address.
	conflictSteps = 100
)

// ErrNoData is what a NIC returns from RecvFrame when nothing is pending.
// Any error satisfying errors.Is(err, ErrNoData) or the NIC's own sentinel
// passed via Config.NoData is treated the same way.
var ErrNoData = errors.New("netstack: no frame")

// NIC moves raw Ethernet frames.
type NIC interface {
	SendFrame(frame []byte) error
	RecvFrame(buf []byte) (int, error)
}

type Config struct {
	MAC      types.MAC
	Hostname string
	// NoData is the NIC's "nothing pending" sentinel.
	NoData error
	// CheckConflict probes the offered address with ARP before accepting it.
	CheckConflict bool
	Logger        *slog.Logger
}

// Client is a DHCP client bound to one NIC. Not safe for concurrent use;
// the acquisition goroutine is the only caller.
type Client struct {
	nic    NIC
	cfg    Config
	log    *slog.Logger
	stack  *stacks.PortStack
	dhcp   *stacks.DHCPClient
	rx, tx [frameSize]byte

	bound    bool
	checking int
	have     bool
	lease    types.Lease
	xid      uint32
}

// New builds the port stack and DHCP client over nic.
func New(nic NIC, cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             cfg.MAC,
		MaxOpenPortsUDP: 1,
		MaxOpenPortsTCP: 0,
		MTU:             MTU,
		Logger:          log,
	})
	return &Client{
		nic:   nic,
		cfg:   cfg,
		log:   log,
		stack: stack,
		dhcp:  stacks.NewDHCPClient(stack, dhcp.DefaultClientPort),
		xid:   uint32(time.Now().UnixNano()),
	}
}

// Begin starts a negotiation round. requested may be zero.
func (c *Client) Begin(requested types.IPv4) error {
	var req netip.Addr
	if !requested.IsZero() {
		req = netip.AddrFrom4(requested)
	}
	c.xid++
	c.bound = false
	c.checking = 0
	return c.dhcp.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: req,
		Xid:           c.xid,
		Hostname:      c.cfg.Hostname,
	})
}

// Step moves frames in both directions once and reports where the client
// stands. Terminal results are reported once per round.
func (c *Client) Step() (types.DHCPStatus, error) {
	if err := c.pump(); err != nil {
		return types.DHCPRunning, err
	}
	if c.bound {
		return types.DHCPRunning, nil
	}
	if c.dhcp.State() != dhcp.StateBound {
		return types.DHCPRunning, nil
	}
	l := c.current()
	if l.IP.IsZero() {
		return types.DHCPFailed, nil
	}

	if c.cfg.CheckConflict {
		switch c.conflict(l.IP) {
		case conflictPending:
			return types.DHCPRunning, nil
		case conflictFound:
			c.log.Warn("dhcp: offered address in use", slog.String("ip", netip.AddrFrom4(l.IP).String()))
			if err := c.Begin(types.IPv4{}); err != nil {
				return types.DHCPFailed, err
			}
			return types.DHCPConflict, nil
		}
	}

	c.bound = true
	c.stack.SetAddr(netip.AddrFrom4(l.IP))
	st := types.DHCPAssigned
	if c.have {
		if c.lease.IP == l.IP {
			st = types.DHCPLeased
		} else {
			st = types.DHCPChanged
		}
	}
	c.have = true
	c.lease = l
	return st, nil
}

// Lease returns the last accepted lease.
func (c *Client) Lease() types.Lease { return c.lease }

func (c *Client) current() types.Lease {
	var l types.Lease
	l.IP = as4(c.dhcp.Offer())
	l.Gateway = as4(c.dhcp.Router())
	if l.Gateway.IsZero() {
		l.Gateway = as4(c.dhcp.Gateway())
	}
	if dns := c.dhcp.DNSServers(); len(dns) > 0 {
		l.DNS = as4(dns[0])
	}
	l.Subnet = MaskFromBits(int(c.dhcp.CIDRBits()))
	l.LeaseSec = uint32(c.dhcp.IPLeaseTime() / time.Second)
	return l
}

type conflictState uint8

const (
	conflictNone conflictState = iota
	conflictPending
	conflictFound
)

func (c *Client) conflict(ip types.IPv4) conflictState {
	arpc := c.stack.ARP()
	if c.checking == 0 {
		arpc.Abort()
		if err := arpc.BeginResolve(netip.AddrFrom4(ip)); err != nil {
			return conflictNone
		}
	}
	c.checking++
	if !arpc.IsDone() {
		if c.checking > conflictSteps {
			arpc.Abort()
			return conflictNone
		}
		return conflictPending
	}
	_, hw, err := arpc.ResultAs6()
	if err != nil || hw == c.cfg.MAC {
		return conflictNone
	}
	return conflictFound
}

func (c *Client) noData(err error) bool {
	return errors.Is(err, ErrNoData) || (c.cfg.NoData != nil && errors.Is(err, c.cfg.NoData))
}

func (c *Client) pump() error {
	for i := 0; i < rxBurst; i++ {
		n, err := c.nic.RecvFrame(c.rx[:])
		if err != nil {
			if c.noData(err) {
				break
			}
			return err
		}
		if n == 0 {
			break
		}
		if err := c.stack.RecvEth(c.rx[:n]); err != nil {
			c.log.Debug("netstack: rx dropped", slog.String("err", err.Error()))
		}
	}
	n, err := c.stack.HandleEth(c.tx[:])
	if err != nil {
		c.log.Debug("netstack: tx", slog.String("err", err.Error()))
		return nil
	}
	if n > 0 {
		return c.nic.SendFrame(c.tx[:n])
	}
	return nil
}

func as4(a netip.Addr) types.IPv4 {
	if !a.IsValid() || !a.Is4() {
		return types.IPv4{}
	}
	return a.As4()
}

// MaskFromBits converts a prefix length to a dotted subnet mask.
func MaskFromBits(bits int) types.IPv4 {
	if bits <= 0 {
		return types.IPv4{}
	}
	if bits > 32 {
		bits = 32
	}
	m := ^uint32(0) << (32 - bits)
	return types.IPv4{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)}
}
