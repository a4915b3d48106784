package eth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"ethcode-go/errcode"
	"ethcode-go/types"
	"ethcode-go/x/conv"
	"ethcode-go/x/timex"
)

// Banner lines on the reset channel.
const (
	bannerStart = "Ethernet [START]"
	bannerStop  = "Ethernet [STOP]"
)

type Config struct {
	Hardware Hardware
	Build    func() (Stack, error)
	Defaults types.NetworkIdentity
	Timing   Timing
	// ProbeTarget defaults to DefaultProbeTarget.
	ProbeTarget types.IPv4
	// PowerOffOnStop disables the rail on stop; otherwise it stays on.
	PowerOffOnStop bool

	// Sink is created when nil. A worker closes only a sink it created, so
	// a shared sink outlives restarts.
	Sink   *Sink
	Logger *slog.Logger
}

type command uint8

const (
	cmdRenew command = iota
	cmdReinit
)

// Worker owns one acquisition run on its own goroutine.
type Worker struct {
	cfg     Config
	sink    *Sink
	ownSink bool
	m       *Machine
	log     *slog.Logger

	startMu  sync.Mutex
	state    atomic.Uint32
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
	cmds     chan command

	lmu       sync.Mutex
	listeners map[int]func(types.Event)
	nextL     int
}

// New allocates a worker at its configured defaults. Nothing runs until
// Start.
func New(cfg Config) *Worker {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NewSink(SinkOptions{Logger: log})
	}
	w := &Worker{
		cfg:       cfg,
		sink:      sink,
		ownSink:   cfg.Sink == nil,
		log:       log,
		done:      make(chan struct{}),
		cmds:      make(chan command, 1),
		listeners: make(map[int]func(types.Event)),
	}
	w.m = NewMachine(MachineConfig{
		Hardware:    cfg.Hardware,
		Build:       cfg.Build,
		Sink:        sink,
		Defaults:    cfg.Defaults,
		Timing:      cfg.Timing,
		ProbeTarget: cfg.ProbeTarget,
		OnEvent:     w.dispatch,
	})
	sink.Emit(types.ChanReset, bannerStart)
	return w
}

// Start claims the hardware and launches the acquisition goroutine.
func (w *Worker) Start() error {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	switch w.State() {
	case types.WorkerRunning:
		return errcode.AlreadyRunning
	case types.WorkerStopped:
		return errcode.Stopped
	}
	if err := w.cfg.Hardware.Acquire(); err != nil {
		w.sink.Emit(types.ChanInit, "hardware claim: "+err.Error())
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.state.Store(uint32(types.WorkerRunning))
	go w.run(ctx)
	return nil
}

// RequestStop cancels the run. Safe from any goroutine, any number of
// times; the worker reaches Stopped once resources are released.
func (w *Worker) RequestStop() {
	w.stopOnce.Do(func() {
		w.startMu.Lock()
		defer w.startMu.Unlock()
		if w.State() == types.WorkerUninitialized {
			w.finish()
			return
		}
		w.cancel()
	})
}

// Done closes once the worker is Stopped.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker is Stopped or ctx ends.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) State() types.WorkerState { return types.WorkerState(w.state.Load()) }

// Phase returns the machine phase.
func (w *Worker) Phase() types.Phase { return w.m.Phase() }

// Err returns the terminal acquisition error, if any.
func (w *Worker) Err() error { return w.m.Err() }

// Status is the retained state payload for this worker.
func (w *Worker) Status() types.EthState {
	st := types.EthState{
		Worker: w.State(),
		Phase:  w.Phase(),
		Active: w.sink.Active(),
		TS:     timex.NowMs(),
	}
	if err := w.Err(); err != nil {
		st.Error = string(errcode.Of(err))
	}
	return st
}

// CurrentIdentity returns a snapshot of the identity.
func (w *Worker) CurrentIdentity() types.NetworkIdentity { return w.m.Identity() }

// SetActiveChannel switches live followers. Unknown channels are ignored.
func (w *Worker) SetActiveChannel(ch types.Channel) { w.sink.SetActive(ch) }

// Sink exposes the log sink for readers.
func (w *Worker) Sink() *Sink { return w.sink }

// Renew re-runs negotiation on a Ready worker.
func (w *Worker) Renew() error {
	if w.State() != types.WorkerRunning {
		return errcode.New(errcode.NotReady, "renew", w.State().String())
	}
	if !w.m.CanNegotiate() {
		return errcode.New(errcode.NotReady, "renew", w.m.Phase().String())
	}
	return w.post(cmdRenew)
}

// Reinit repeats the full bring-up, including after a terminal failure.
func (w *Worker) Reinit() error {
	if w.State() != types.WorkerRunning {
		return errcode.New(errcode.NotReady, "reinit", w.State().String())
	}
	return w.post(cmdReinit)
}

func (w *Worker) post(c command) error {
	select {
	case w.cmds <- c:
		return nil
	default:
		return errcode.Busy
	}
}

// OnEvent registers fn for every machine event. fn runs on the worker
// goroutine and must not block. The returned func removes it.
func (w *Worker) OnEvent(fn func(types.Event)) func() {
	w.lmu.Lock()
	id := w.nextL
	w.nextL++
	w.listeners[id] = fn
	w.lmu.Unlock()
	return func() {
		w.lmu.Lock()
		delete(w.listeners, id)
		w.lmu.Unlock()
	}
}

func (w *Worker) dispatch(ev types.Event) {
	w.lmu.Lock()
	fns := make([]func(types.Event), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.lmu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.finish()
	defer w.cfg.Hardware.Release(!w.cfg.PowerOffOnStop)

	w.report(w.m.BringUp(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-w.cmds:
			switch c {
			case cmdRenew:
				w.report(w.m.Negotiate(ctx))
			case cmdReinit:
				w.report(w.m.BringUp(ctx))
			}
		}
	}
}

func (w *Worker) report(err error) {
	switch {
	case err == nil:
		w.log.Info("eth ready", slog.String("ip", conv.IPv4String(w.m.Identity().IP)))
	case errcode.Is(err, errcode.Cancelled):
	default:
		w.log.Warn("eth acquisition failed", slog.String("err", err.Error()))
	}
}

// finish marks the worker Stopped. Caller holds startMu or runs on the
// worker goroutine after cancellation.
func (w *Worker) finish() {
	w.sink.Emit(types.ChanReset, bannerStop)
	w.state.Store(uint32(types.WorkerStopped))
	if w.ownSink {
		w.sink.Close()
	}
	close(w.done)
}
