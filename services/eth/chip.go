package eth

import (
	"context"
	"log/slog"
	"time"

	"ethcode-go/drivers/w5500"
	"ethcode-go/services/eth/netstack"
	"ethcode-go/types"
)

// pingID tags echo requests from this device.
const pingID = 0x4554

// W5500Stack builds the collaborators for a W5500 on bus: the register
// driver, a DHCP client over the MACRAW socket and an ICMP prober on the
// IPRAW socket.
func W5500Stack(bus w5500.Bus, mac types.MAC, hostname string, log *slog.Logger) Stack {
	dev := w5500.New(bus, w5500.Config{})
	nic := &macraw{dev: dev}
	client := netstack.New(nic, netstack.Config{
		MAC:           mac,
		Hostname:      hostname,
		NoData:        w5500.ErrNoData,
		CheckConflict: true,
		Logger:        log,
	})
	return Stack{
		Controller: &w5500Controller{dev: dev},
		DHCP:       &macrawDHCP{Client: client, nic: nic},
		Prober:     &w5500Prober{p: w5500.NewPinger(dev, w5500.SockIPRAW, pingID)},
	}
}

type w5500Controller struct{ dev *w5500.Device }

func (c *w5500Controller) Init() error { return c.dev.Init() }

func (c *w5500Controller) SetNetInfo(id types.NetworkIdentity) error {
	return c.dev.SetNetInfo(w5500.NetInfo{
		MAC:     id.MAC,
		IP:      id.IP,
		Subnet:  id.Subnet,
		Gateway: id.Gateway,
	})
}

func (c *w5500Controller) LinkUp() (bool, error) {
	ls, err := c.dev.Link()
	return ls.Up, err
}

// macraw exposes socket 0 as a frame NIC. Begin reopens it each round.
type macraw struct{ dev *w5500.Device }

func (n *macraw) SendFrame(f []byte) error        { return n.dev.SendFrame(f) }
func (n *macraw) RecvFrame(b []byte) (int, error) { return n.dev.RecvFrame(b) }
func (n *macraw) open() error                     { return n.dev.OpenMACRAW() }

type macrawDHCP struct {
	*netstack.Client
	nic *macraw
}

func (d *macrawDHCP) Begin(requested types.IPv4) error {
	if err := d.nic.open(); err != nil {
		return err
	}
	return d.Client.Begin(requested)
}

type w5500Prober struct{ p *w5500.Pinger }

func (p *w5500Prober) Ping(ctx context.Context, dst types.IPv4) (time.Duration, error) {
	return p.p.Ping(ctx, dst)
}
