package eth

import (
	"context"
	"time"

	"ethcode-go/types"
)

// Hardware is the resource shim as the machine sees it.
type Hardware interface {
	Acquire() error
	PowerOn()
	PowerOff()
	PulseReset(ctx context.Context, hold, settle time.Duration) error
	Release(keepPower bool)
}

// Controller is the Ethernet chip after reset.
type Controller interface {
	// Init programs the buffer layout and checks the chip answers. One
	// attempt per call.
	Init() error
	SetNetInfo(id types.NetworkIdentity) error
	LinkUp() (bool, error)
}

// DHCPClient is stepped cooperatively by the machine.
type DHCPClient interface {
	Begin(requested types.IPv4) error
	Step() (types.DHCPStatus, error)
	Lease() types.Lease
}

// Prober sends one echo request and waits for the reply until ctx ends.
type Prober interface {
	Ping(ctx context.Context, dst types.IPv4) (time.Duration, error)
}

// Stack groups the collaborators that exist only once the chip is out of
// reset. Prober may be nil.
type Stack struct {
	Controller Controller
	DHCP       DHCPClient
	Prober     Prober
}
