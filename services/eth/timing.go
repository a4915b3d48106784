package eth

import (
	"time"

	"ethcode-go/types"
	"ethcode-go/x/mathx"
	"ethcode-go/x/timex"
)

// Timing holds every delay and bound the machine uses.
type Timing struct {
	PowerSettle  time.Duration
	ResetHold    time.Duration
	ResetSettle  time.Duration
	InitAttempts int
	InitRetry    time.Duration
	LinkTimeout  time.Duration
	LinkPoll     time.Duration
	LinkSettle   time.Duration
	DHCPTimeout  time.Duration
	DHCPStep     time.Duration
	LeaseHold    time.Duration
	ProbeTimeout time.Duration
	ProbeCount   int
}

// Compiled-in timing defaults in milliseconds.
const (
	defPowerSettle  = 1000
	defResetHold    = 10
	defResetSettle  = 200
	defInitAttempts = 10
	defLinkTimeout  = 5000
	defLinkSettle   = 1000
	defDHCPTimeout  = 15000
	defProbeTimeout = 1000
	defProbeCount   = 3
)

// TimingFrom applies defaults to zero fields of t and clamps the rest.
func TimingFrom(t types.TimingMs, p types.ProbeConfig) Timing {
	return Timing{
		PowerSettle:  timex.Ms(mathx.Clamp(mathx.Or(t.PowerSettle, defPowerSettle), 0, 10000)),
		ResetHold:    timex.Ms(mathx.Clamp(mathx.Or(t.ResetHold, defResetHold), 10, 1000)),
		ResetSettle:  timex.Ms(mathx.Clamp(mathx.Or(t.ResetSettle, defResetSettle), 0, 5000)),
		InitAttempts: int(mathx.Clamp(mathx.Or(t.InitAttempts, defInitAttempts), 1, 100)),
		InitRetry:    10 * time.Millisecond,
		LinkTimeout:  timex.Ms(mathx.Clamp(mathx.Or(t.LinkTimeout, defLinkTimeout), 1, 120000)),
		LinkPoll:     time.Millisecond,
		LinkSettle:   timex.Ms(mathx.Clamp(mathx.Or(t.LinkSettle, defLinkSettle), 0, 10000)),
		DHCPTimeout:  timex.Ms(mathx.Clamp(mathx.Or(t.DHCPTimeout, defDHCPTimeout), 1, 300000)),
		DHCPStep:     time.Millisecond,
		LeaseHold:    timex.Ms(mathx.Clamp(t.LeaseHold, 0, 60000)),
		ProbeTimeout: timex.Ms(mathx.Clamp(mathx.Or(t.ProbeTimeout, defProbeTimeout), 1, 10000)),
		ProbeCount:   mathx.Clamp(mathx.Or(p.Count, defProbeCount), 1, 10),
	}
}
