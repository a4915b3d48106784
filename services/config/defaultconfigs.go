package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw YAML for that device
// -----------------------------------------------------------------------------

const cfgPico = `
eth:
  mode: dhcp
  mac: "00:08:DC:47:47:54"
  ip: 192.168.1.137
  subnet: 255.255.255.0
  gateway: 192.168.1.1
  dns: 192.168.1.1
  hostname: pico-eth
  probe:
    target: 8.8.8.8
    count: 3
  timing:
    lease_hold: 20000
  pins:
    spi: spi0
    sck: 18
    sdo: 19
    sdi: 16
    cs: 17
    reset: 20
    hz: 20000000
`

// cfgSim drives the host simulator: short delays, no post-lease hold.
const cfgSim = `
eth:
  mode: dhcp
  hostname: ethsim
  timing:
    power_settle: 5
    reset_settle: 5
    link_settle: 5
    link_timeout: 500
    dhcp_timeout: 2000
    probe_timeout: 200
  pins:
    power: 22
`

var embeddedConfigs = map[string][]byte{
	"pico": []byte(cfgPico),
	"sim":  []byte(cfgSim),
}
