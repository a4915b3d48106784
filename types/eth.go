package types

// ------------------------
// Worker state (retained on eth/state)
// ------------------------

// WorkerState is the coarse lifecycle state of the Ethernet worker.
type WorkerState uint8

const (
	WorkerUninitialized WorkerState = iota
	WorkerRunning
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

// Phase is a state of the acquisition state machine.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhasePowerUp
	PhaseChipReset
	PhaseBufferConfig
	PhaseLinkWait
	PhaseDHCPNegotiate
	PhaseStaticAssign
	PhaseConnectivityProbe
	PhaseReady
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:              "idle",
	PhasePowerUp:           "power_up",
	PhaseChipReset:         "chip_reset",
	PhaseBufferConfig:      "buffer_config",
	PhaseLinkWait:          "link_wait",
	PhaseDHCPNegotiate:     "dhcp_negotiate",
	PhaseStaticAssign:      "static_assign",
	PhaseConnectivityProbe: "connectivity_probe",
	PhaseReady:             "ready",
	PhaseFailed:            "failed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// ------------------------
// Observation channels
// ------------------------

// Channel names a log destination; one per acquisition phase group.
type Channel uint8

const (
	ChanInit Channel = iota
	ChanDHCP
	ChanStatic
	ChanProbe
	ChanReset
	// ChanPersistent is the always-on channel every line is copied to.
	// It cannot be made active.
	ChanPersistent
)

// NumChannels counts the selectable channels (ChanPersistent excluded).
const NumChannels = int(ChanPersistent)

var channelNames = [...]string{
	ChanInit:       "init",
	ChanDHCP:       "dhcp",
	ChanStatic:     "static",
	ChanProbe:      "ping",
	ChanReset:      "reset",
	ChanPersistent: "persistent",
}

func (c Channel) String() string {
	if int(c) < len(channelNames) {
		return channelNames[c]
	}
	return "unknown"
}

// ParseChannel maps a channel name back to its value.
func ParseChannel(s string) (Channel, bool) {
	for i, n := range channelNames {
		if n == s {
			return Channel(i), true
		}
	}
	return 0, false
}

// ------------------------
// Network identity
// ------------------------

type AddrMode uint8

const (
	ModeDHCP AddrMode = iota
	ModeStatic
)

func (m AddrMode) String() string {
	if m == ModeStatic {
		return "static"
	}
	return "dhcp"
}

type IPv4 [4]byte

func (a IPv4) IsZero() bool { return a == IPv4{} }

type MAC [6]byte

func (m MAC) IsZero() bool { return m == MAC{} }

// NetworkIdentity is the configured or negotiated address set of the
// controller. It is always copied by value.
type NetworkIdentity struct {
	MAC     MAC      `json:"mac"`
	IP      IPv4     `json:"ip"`
	Subnet  IPv4     `json:"subnet"`
	Gateway IPv4     `json:"gateway"`
	DNS     IPv4     `json:"dns"`
	Mode    AddrMode `json:"mode"`
}

// Complete reports whether every address field is non-zero.
func (n NetworkIdentity) Complete() bool {
	return !n.IP.IsZero() && !n.Subnet.IsZero() && !n.Gateway.IsZero() && !n.DNS.IsZero()
}

// ------------------------
// Events and retained state payloads
// ------------------------

// EventKind tags an Event beyond its phase.
type EventKind uint8

const (
	EvEnter EventKind = iota
	EvLeaseAssigned
	EvLeaseChanged
	EvLeaseRenewed
	EvConflict
	EvDHCPFailed
	EvProbeOK
	EvProbeFailed
	EvFailed
)

var eventKindNames = [...]string{
	EvEnter:         "enter",
	EvLeaseAssigned: "lease_assigned",
	EvLeaseChanged:  "lease_changed",
	EvLeaseRenewed:  "lease_renewed",
	EvConflict:      "ip_conflict",
	EvDHCPFailed:    "dhcp_failed",
	EvProbeOK:       "probe_ok",
	EvProbeFailed:   "probe_failed",
	EvFailed:        "failed",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is emitted by the acquisition state machine on every transition
// and on every terminal DHCP/probe outcome.
type Event struct {
	Phase    Phase           `json:"phase"`
	Kind     EventKind       `json:"kind"`
	Identity NetworkIdentity `json:"identity"`
	Error    string          `json:"error,omitempty"` // errcode string
	TS       int64           `json:"ts_ms"`
}

// EthState is published retained on eth/state.
type EthState struct {
	Worker WorkerState `json:"worker"`
	Phase  Phase       `json:"phase"`
	Active Channel     `json:"active"`
	Error  string      `json:"error,omitempty"`
	TS     int64       `json:"ts_ms"`
}

// LogLine is published on eth/log/<channel>.
type LogLine struct {
	Channel Channel `json:"channel"`
	Seq     uint64  `json:"seq"`
	Text    string  `json:"text"`
}

// ------------------------
// Control payloads
// ------------------------

type SetActive struct {
	Channel string `json:"channel"`
}

// Generic replies
type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ------------------------
// DHCP client contract
// ------------------------

// DHCPStatus is the result of one DHCP client step.
type DHCPStatus uint8

const (
	DHCPRunning DHCPStatus = iota
	DHCPAssigned
	DHCPChanged
	DHCPLeased // renewed with unchanged address
	DHCPConflict
	DHCPFailed
)

var dhcpStatusNames = [...]string{
	DHCPRunning:  "running",
	DHCPAssigned: "assigned",
	DHCPChanged:  "changed",
	DHCPLeased:   "leased",
	DHCPConflict: "conflict",
	DHCPFailed:   "failed",
}

func (s DHCPStatus) String() string {
	if int(s) < len(dhcpStatusNames) {
		return dhcpStatusNames[s]
	}
	return "unknown"
}

// Lease is what a bound DHCP client hands back.
type Lease struct {
	IP       IPv4
	Subnet   IPv4
	Gateway  IPv4
	DNS      IPv4
	LeaseSec uint32
}
