package types

// Ethernet configuration supplied on topic "config/eth".
// Addresses are dotted-quad / colon-hex strings; empty means "use default".

type EthConfig struct {
	Mode     string      `yaml:"mode" json:"mode"` // "dhcp" | "static"
	MAC      string      `yaml:"mac" json:"mac"`
	IP       string      `yaml:"ip" json:"ip"`
	Subnet   string      `yaml:"subnet" json:"subnet"`
	Gateway  string      `yaml:"gateway" json:"gateway"`
	DNS      string      `yaml:"dns" json:"dns"`
	Hostname string      `yaml:"hostname" json:"hostname"`
	Probe    ProbeConfig `yaml:"probe" json:"probe"`
	Timing   TimingMs    `yaml:"timing" json:"timing"`
	Pins     PinPlan     `yaml:"pins" json:"pins"`

	// PowerOffOnStop disables the power rail when the worker stops.
	PowerOffOnStop bool `yaml:"power_off_on_stop" json:"power_off_on_stop"`
}

type ProbeConfig struct {
	Target string `yaml:"target" json:"target"` // default 8.8.8.8
	Count  int    `yaml:"count" json:"count"`
}

// TimingMs holds tunable delays and bounds in milliseconds. Zero selects the
// compiled-in default.
type TimingMs struct {
	PowerSettle  uint32 `yaml:"power_settle" json:"power_settle"`
	ResetHold    uint32 `yaml:"reset_hold" json:"reset_hold"`
	ResetSettle  uint32 `yaml:"reset_settle" json:"reset_settle"`
	InitAttempts uint32 `yaml:"init_attempts" json:"init_attempts"`
	LinkTimeout  uint32 `yaml:"link_timeout" json:"link_timeout"`
	LinkSettle   uint32 `yaml:"link_settle" json:"link_settle"`
	DHCPTimeout  uint32 `yaml:"dhcp_timeout" json:"dhcp_timeout"`
	LeaseHold    uint32 `yaml:"lease_hold" json:"lease_hold"`
	ProbeTimeout uint32 `yaml:"probe_timeout" json:"probe_timeout"`
	BusTimeout   uint32 `yaml:"bus_timeout" json:"bus_timeout"`
}

// PinPlan is the board wiring of the controller. Numbers are GPIO numbers.
type PinPlan struct {
	SPI   string `yaml:"spi" json:"spi"` // e.g. "spi0"
	SCK   int    `yaml:"sck" json:"sck"`
	SDO   int    `yaml:"sdo" json:"sdo"`
	SDI   int    `yaml:"sdi" json:"sdi"`
	CS    int    `yaml:"cs" json:"cs"`
	Reset int    `yaml:"reset" json:"reset"`
	Power int    `yaml:"power" json:"power"`
	Hz    uint32 `yaml:"hz" json:"hz"`
}
