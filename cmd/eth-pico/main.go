//go:build rp2040 || rp2350

// Command eth-pico brings up a W5500 on SPI0 of a Pico and reports
// progress on UART0.
package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	"ethcode-go/bus"
	"ethcode-go/services/config"
	"ethcode-go/services/eth"
	"ethcode-go/services/eth/hw"
	"ethcode-go/types"
	"ethcode-go/x/timex"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

const (
	device = "pico"
	// persistent history kept in RAM; older lines are counted, not kept
	persistentLines = 1024
)

func main() {
	// Allow the console to settle before we print.
	time.Sleep(2 * time.Second)

	_ = uartx.UART0.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	log := slog.New(slog.NewTextHandler(uartx.UART0, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadEth(device)
	if err != nil {
		log.Error("config", slog.String("err", err.Error()))
		cfg = types.EthConfig{Pins: config.DefaultPins}
	}
	reg := hw.DefaultRegistry(cfg.Pins, timex.Ms(cfg.Timing.BusTimeout))

	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, device)
	b := bus.NewBus(8)

	svc := eth.NewService(b.NewConnection("eth"), eth.ServiceConfig{
		Factory: func(c types.EthConfig) (eth.Hardware, func() (eth.Stack, error), error) {
			id, err := eth.IdentityFromConfig(c)
			if err != nil {
				return nil, nil, err
			}
			shim := hw.New(reg, "eth0", c.Pins)
			build := func() (eth.Stack, error) {
				return eth.W5500Stack(shim, id.MAC, c.Hostname, log), nil
			}
			return shim, build, nil
		},
		AutoStart:      true,
		PersistentSize: persistentLines,
		Logger:         log,
	})
	go svc.Run(ctx)

	config.NewConfigService().Start(ctx, b.NewConnection("config"), func(err error) {
		log.Error("config publish", slog.String("err", err.Error()))
	})

	mon := b.NewConnection("ui").Subscribe(bus.T(eth.TokEth, eth.TokState))
	for m := range mon.Channel() {
		if st, ok := m.Payload.(types.EthState); ok {
			log.Info("eth state",
				slog.String("worker", st.Worker.String()),
				slog.String("phase", st.Phase.String()),
				slog.String("error", st.Error))
		}
	}
}
