package eth

import (
	"ethcode-go/errcode"
	"ethcode-go/types"
	"ethcode-go/x/conv"
)

// Compiled-in identity used when configuration leaves a field empty and as
// the static fallback after a failed DHCP round.
var DefaultIdentity = types.NetworkIdentity{
	MAC:     types.MAC{0x00, 0x08, 0xDC, 0x47, 0x47, 0x54},
	IP:      types.IPv4{192, 168, 1, 137},
	Subnet:  types.IPv4{255, 255, 255, 0},
	Gateway: types.IPv4{192, 168, 1, 1},
	DNS:     types.IPv4{192, 168, 1, 1},
	Mode:    types.ModeDHCP,
}

// IdentityFromConfig overlays cfg on DefaultIdentity. Malformed addresses
// are rejected with errcode.InvalidParams.
func IdentityFromConfig(cfg types.EthConfig) (types.NetworkIdentity, error) {
	id := DefaultIdentity
	switch cfg.Mode {
	case "", "dhcp":
		id.Mode = types.ModeDHCP
	case "static":
		id.Mode = types.ModeStatic
	default:
		return id, errcode.New(errcode.InvalidParams, "config", "mode "+cfg.Mode)
	}
	if cfg.MAC != "" {
		m, ok := conv.ParseMAC(cfg.MAC)
		if !ok {
			return id, errcode.New(errcode.InvalidParams, "config", "mac "+cfg.MAC)
		}
		id.MAC = m
	}
	fields := [...]struct {
		name string
		s    string
		dst  *types.IPv4
	}{
		{"ip", cfg.IP, &id.IP},
		{"subnet", cfg.Subnet, &id.Subnet},
		{"gateway", cfg.Gateway, &id.Gateway},
		{"dns", cfg.DNS, &id.DNS},
	}
	for _, f := range fields {
		if f.s == "" {
			continue
		}
		a, ok := conv.ParseIPv4(f.s)
		if !ok {
			return id, errcode.New(errcode.InvalidParams, "config", f.name+" "+f.s)
		}
		*f.dst = a
	}
	return id, nil
}

// withLease replaces the address fields of id with a lease. A lease without
// DNS uses the gateway.
func withLease(id types.NetworkIdentity, l types.Lease) types.NetworkIdentity {
	id.IP, id.Subnet, id.Gateway, id.DNS = l.IP, l.Subnet, l.Gateway, l.DNS
	if id.DNS.IsZero() {
		id.DNS = id.Gateway
	}
	id.Mode = types.ModeDHCP
	return id
}

// usableLease reports whether l can be applied without leaving a zero
// address in the identity.
func usableLease(l types.Lease) bool {
	return !l.IP.IsZero() && !l.Subnet.IsZero() && !l.Gateway.IsZero()
}

// staticFallback is the identity applied after a failed DHCP round.
func staticFallback(defaults types.NetworkIdentity) types.NetworkIdentity {
	defaults.Mode = types.ModeStatic
	return defaults
}

// IdentityLines renders the summary block written after negotiation.
func IdentityLines(id types.NetworkIdentity) []string {
	mode := "Static IP"
	if id.Mode == types.ModeDHCP {
		mode = "DHCP"
	}
	return []string{
		"Mac address: " + conv.MACString(id.MAC),
		mode,
		"IP address : " + conv.IPv4String(id.IP),
		"SM Mask    : " + conv.IPv4String(id.Subnet),
		"Gate way   : " + conv.IPv4String(id.Gateway),
		"DNS Server : " + conv.IPv4String(id.DNS),
	}
}

// leaseLine is the one-line lease summary.
func leaseLine(prefix string, l types.Lease) string {
	return prefix + " " + conv.IPv4String(l.IP) +
		" gw " + conv.IPv4String(l.Gateway) +
		" lease " + conv.UintString(uint64(l.LeaseSec)) + "s"
}
