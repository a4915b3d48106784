package config

import (
	"context"
	"errors"

	"ethcode-go/bus"
	"ethcode-go/services/eth/hw"
	"ethcode-go/types"

	"gopkg.in/yaml.v3"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	sectionEth   = "eth"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// DefaultPins is the Pico wiring of the W5500 module. Power is absent
// unless a board sets it.
var DefaultPins = types.PinPlan{
	SPI:   "spi0",
	SCK:   18,
	SDO:   19,
	SDI:   16,
	CS:    17,
	Reset: 20,
	Power: hw.NoPin,
	Hz:    20_000_000,
}

var (
	errNoDevice = errors.New("missing device ID in context")
	errNoConfig = errors.New("no embedded config for device")
)

// ParseEth decodes an eth section over the defaults; absent keys keep
// DefaultPins and the zero (compiled-in) values.
func ParseEth(raw []byte) (types.EthConfig, error) {
	cfg := types.EthConfig{Pins: DefaultPins}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return types.EthConfig{}, err
	}
	if cfg.Pins.SPI == "" {
		cfg.Pins.SPI = DefaultPins.SPI
	}
	return cfg, nil
}

// LoadEth returns the eth section of device's embedded config.
func LoadEth(device string) (types.EthConfig, error) {
	doc, err := load(device)
	if err != nil {
		return types.EthConfig{}, err
	}
	return ethFrom(doc)
}

func load(device string) (map[string]yaml.Node, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, errors.New(errNoConfig.Error() + ": " + device)
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("embedded config is not a mapping")
	}
	return doc, nil
}

func ethFrom(doc map[string]yaml.Node) (types.EthConfig, error) {
	cfg := types.EthConfig{Pins: DefaultPins}
	n, ok := doc[sectionEth]
	if !ok {
		return cfg, nil
	}
	if err := n.Decode(&cfg); err != nil {
		return types.EthConfig{}, err
	}
	if cfg.Pins.SPI == "" {
		cfg.Pins.SPI = DefaultPins.SPI
	}
	return cfg, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig reads the device config and publishes one retained message
// per top-level section. The eth section is published typed.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errNoDevice
	}
	doc, err := load(device)
	if err != nil {
		return err
	}
	for k, n := range doc {
		var payload any
		if k == sectionEth {
			cfg, err := ethFrom(doc)
			if err != nil {
				return err
			}
			payload = cfg
		} else {
			var v any
			if err := n.Decode(&v); err != nil {
				return err
			}
			payload = v
		}
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), payload, true))
	}
	return nil
}

// Start launches the config publisher in a goroutine. Errors go to errs
// when it is non-nil.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection, errs func(error)) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil && errs != nil {
			errs(err)
		}
	}()
}
