// Command ethsim runs the Ethernet worker on the host against simulated
// hardware: a fake pin/SPI registry and a scripted network.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"ethcode-go/bus"
	"ethcode-go/services/config"
	"ethcode-go/services/eth"
	"ethcode-go/services/eth/hw"
	"ethcode-go/services/logfs"
	"ethcode-go/types"
	"ethcode-go/x/timex"

	"github.com/spf13/cobra"
)

type options struct {
	device   string
	file     string
	dhcp     string
	noLink   bool
	initFail bool
	offline  bool
	static   bool
	follow   string
	serve    string
	duration time.Duration
	debug    bool
}

func main() {
	var o options
	root := &cobra.Command{
		Use:           "ethsim",
		Short:         "Simulate W5500 Ethernet bring-up on the host",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}
	f := root.Flags()
	f.StringVar(&o.device, "device", "sim", "Embedded device config")
	f.StringVar(&o.file, "config", "", "YAML file with an eth section (overrides --device)")
	f.StringVar(&o.dhcp, "dhcp", "ok", "DHCP scenario: ok|renew|changed|conflict|fail|timeout")
	f.BoolVar(&o.noLink, "no-link", false, "Never report PHY link")
	f.BoolVar(&o.initFail, "init-fail", false, "Chip never acknowledges init")
	f.BoolVar(&o.offline, "offline", false, "Connectivity probe gets no reply")
	f.BoolVar(&o.static, "static", false, "Force static addressing")
	f.StringVar(&o.follow, "follow", "persistent", "Channel to print: init|dhcp|static|ping|reset|persistent")
	f.StringVar(&o.serve, "serve", "", "Serve the log tree over 9P on this address")
	f.DurationVar(&o.duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	f.BoolVar(&o.debug, "debug", false, "Enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(o options) (types.EthConfig, error) {
	if o.file == "" {
		return config.LoadEth(o.device)
	}
	raw, err := os.ReadFile(o.file)
	if err != nil {
		return types.EthConfig{}, fmt.Errorf("read config: %w", err)
	}
	return config.ParseEth(raw)
}

func run(ctx context.Context, o options) error {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	if o.static {
		cfg.Mode = "static"
	}
	script, err := parseDHCP(o.dhcp)
	if err != nil {
		return fmt.Errorf("%w: %q", err, o.dhcp)
	}
	follow, ok := types.ParseChannel(o.follow)
	if !ok {
		return errors.New("unknown channel " + o.follow)
	}
	sc := scenario{
		dhcp:     script,
		lease:    simLease,
		linkUp:   !o.noLink,
		initFail: o.initFail,
		offline:  o.offline,
	}

	reg, board := hw.NewHostRegistry(cfg.Pins, timex.Ms(cfg.Timing.BusTimeout))
	defer reg.Close()

	b := bus.NewBus(32)
	svc := eth.NewService(b.NewConnection("eth"), eth.ServiceConfig{
		Factory: func(c types.EthConfig) (eth.Hardware, func() (eth.Stack, error), error) {
			return hw.New(reg, "eth0", c.Pins), sc.stack, nil
		},
		AutoStart: true,
		Logger:    log,
	})

	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		svc.Run(runCtx)
		close(done)
	}()

	if o.serve != "" {
		ns, err := logfs.New(svc, "eth")
		if err != nil {
			cancelRun()
			return err
		}
		go func() {
			if err := ns.Serve(o.serve); err != nil {
				log.Error("9p serve", slog.String("err", err.Error()))
			}
		}()
	}

	ui := b.NewConnection("ui")
	logs := ui.Subscribe(bus.T(eth.TokEth, eth.TokLog, "+"))
	states := ui.Subscribe(bus.T(eth.TokEth, eth.TokState))
	ui.Publish(ui.NewMessage(bus.T(eth.TokConfig, eth.TokEth), cfg, true))

	for {
		select {
		case <-ctx.Done():
			cancelRun()
			<-done
			drain(logs, follow)
			if n := cfg.Pins.CS; n >= 0 && n <= hw.HostGPIOMax {
				fmt.Printf("stopped; cs high=%v\n", board.Pin(n).Get())
			}
			return nil
		case m := <-logs.Channel():
			printLine(m, follow)
		case m := <-states.Channel():
			if st, ok := m.Payload.(types.EthState); ok && st.Phase == types.PhaseFailed {
				log.Warn("bring-up failed", slog.String("code", st.Error))
			}
		}
	}
}

func printLine(m *bus.Message, follow types.Channel) {
	l, ok := m.Payload.(types.LogLine)
	if !ok {
		return
	}
	if follow != types.ChanPersistent && l.Channel != follow {
		return
	}
	fmt.Printf("[%-7s] %s\n", l.Channel, strings.TrimRight(l.Text, "\n"))
}

func drain(sub *bus.Subscription, follow types.Channel) {
	for {
		select {
		case m := <-sub.Channel():
			printLine(m, follow)
		default:
			return
		}
	}
}
