package eth

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"ethcode-go/bus"
	"ethcode-go/errcode"
	"ethcode-go/types"
	"ethcode-go/x/conv"
	"ethcode-go/x/timex"
)

// Topic tokens.
const (
	TokConfig  = "config"
	TokEth     = "eth"
	TokControl = "control"
	TokState   = "state"
	TokIdent   = "identity"
	TokEvent   = "event"
	TokLog     = "log"

	CtrlStart  = "start"
	CtrlStop   = "stop"
	CtrlRenew  = "renew"
	CtrlReinit = "reinit"
	CtrlActive = "active"
)

var (
	topicConfigEth = bus.Topic{TokConfig, TokEth}
	topicCtrl      = bus.Topic{TokEth, TokControl, "+"}
	topicState     = bus.Topic{TokEth, TokState}
	topicIdentity  = bus.Topic{TokEth, TokIdent}
)

// Factory builds the hardware and chip collaborators for one worker run.
type Factory func(cfg types.EthConfig) (Hardware, func() (Stack, error), error)

type ServiceConfig struct {
	Factory Factory
	// AutoStart starts a worker when the first configuration arrives.
	AutoStart bool
	RingSize  int
	// PersistentSize caps the persistent history; 0 is unbounded.
	PersistentSize int
	Logger         *slog.Logger
}

// Service bridges a worker to the bus. Each start builds a fresh worker;
// the sink is shared so history survives restarts.
type Service struct {
	conn *bus.Connection
	cfg  ServiceConfig
	log  *slog.Logger
	sink *Sink

	mu      sync.Mutex
	ethCfg  types.EthConfig
	haveCfg bool
	w       *Worker
}

func NewService(conn *bus.Connection, cfg ServiceConfig) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{conn: conn, cfg: cfg, log: log}
	s.sink = NewSink(SinkOptions{
		RingSize:       cfg.RingSize,
		PersistentSize: cfg.PersistentSize,
		Logger:         log,
		OnLine:         s.publishLine,
	})
	return s
}

// Start launches Run in a goroutine.
func (s *Service) Start(ctx context.Context) {
	go s.Run(ctx)
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigEth)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState(nil)

	for {
		var done <-chan struct{}
		if w := s.worker(); w != nil {
			done = w.Done()
		}

		select {
		case <-ctx.Done():
			if w := s.worker(); w != nil {
				w.RequestStop()
				<-w.Done()
			}
			s.publishState(nil)
			return

		case msg := <-cfgSub.Channel():
			cfg, ok := asEthConfig(msg.Payload)
			if !ok {
				s.publishState(errcode.InvalidPayload)
				continue
			}
			s.mu.Lock()
			s.ethCfg, s.haveCfg = cfg, true
			running := s.w != nil
			s.mu.Unlock()
			s.log.Info("eth config", slog.String("mode", cfg.Mode))
			if s.cfg.AutoStart && !running {
				if err := s.start(); err != nil {
					s.publishState(err)
				}
			}

		case msg := <-ctrlSub.Channel():
			s.control(msg)

		case <-done:
			s.publishState(nil)
			s.mu.Lock()
			s.w = nil
			s.mu.Unlock()
		}
	}
}

func (s *Service) control(msg *bus.Message) {
	if len(msg.Topic) < 3 {
		return
	}
	method, _ := msg.Topic[2].(string)
	var err error
	switch method {
	case CtrlStart:
		err = s.start()
	case CtrlStop:
		if w := s.worker(); w != nil {
			w.RequestStop()
		}
	case CtrlRenew:
		err = errcode.NotReady
		if w := s.worker(); w != nil {
			err = w.Renew()
		}
	case CtrlReinit:
		err = errcode.NotReady
		if w := s.worker(); w != nil {
			err = w.Reinit()
		}
	case CtrlActive:
		err = s.setActive(msg.Payload)
	default:
		err = errcode.InvalidTopic
	}
	if err != nil {
		s.replyErr(msg, err)
		return
	}
	s.conn.Reply(msg, types.OKReply{OK: true}, false)
	if method == CtrlActive {
		s.publishState(nil)
	}
}

func (s *Service) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil && s.w.State() != types.WorkerStopped {
		return errcode.AlreadyRunning
	}
	if !s.haveCfg {
		return errcode.New(errcode.NotReady, CtrlStart, "no config")
	}
	cfg := s.ethCfg
	id, err := IdentityFromConfig(cfg)
	if err != nil {
		return err
	}
	target := DefaultProbeTarget
	if cfg.Probe.Target != "" {
		a, ok := conv.ParseIPv4(cfg.Probe.Target)
		if !ok {
			return errcode.New(errcode.InvalidParams, "config", "probe "+cfg.Probe.Target)
		}
		target = a
	}
	hw, build, err := s.cfg.Factory(cfg)
	if err != nil {
		return err
	}
	w := New(Config{
		Hardware:       hw,
		Build:          build,
		Defaults:       id,
		Timing:         TimingFrom(cfg.Timing, cfg.Probe),
		ProbeTarget:    target,
		PowerOffOnStop: cfg.PowerOffOnStop,
		Sink:           s.sink,
		Logger:         s.log,
	})
	w.OnEvent(s.onEvent)
	prev := s.w
	s.w = w
	if err := w.Start(); err != nil {
		s.w = prev
		return err
	}
	return nil
}

func (s *Service) setActive(p any) error {
	var name string
	switch v := p.(type) {
	case types.SetActive:
		name = v.Channel
	case *types.SetActive:
		if v != nil {
			name = v.Channel
		}
	case string:
		name = v
	}
	ch, ok := types.ParseChannel(name)
	if !ok || !s.sink.SetActive(ch) {
		return errcode.New(errcode.InvalidParams, CtrlActive, name)
	}
	return nil
}

func (s *Service) worker() *Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w
}

// Sink returns the shared log sink.
func (s *Service) Sink() *Sink { return s.sink }

// SetActiveChannel switches live followers. Unknown channels are ignored.
func (s *Service) SetActiveChannel(ch types.Channel) { s.sink.SetActive(ch) }

// CurrentIdentity returns the running worker's identity, or the configured
// defaults when none is running.
func (s *Service) CurrentIdentity() types.NetworkIdentity {
	if w := s.worker(); w != nil {
		return w.CurrentIdentity()
	}
	s.mu.Lock()
	cfg := s.ethCfg
	s.mu.Unlock()
	id, err := IdentityFromConfig(cfg)
	if err != nil {
		return DefaultIdentity
	}
	return id
}

// Status is the payload published on eth/state.
func (s *Service) Status() types.EthState {
	if w := s.worker(); w != nil {
		return w.Status()
	}
	return types.EthState{
		Worker: types.WorkerUninitialized,
		Active: s.sink.Active(),
		TS:     timex.NowMs(),
	}
}

func (s *Service) onEvent(ev types.Event) {
	s.conn.Publish(s.conn.NewMessage(bus.Topic{TokEth, TokEvent, ev.Phase.String()}, ev, false))
	s.conn.Publish(s.conn.NewMessage(topicIdentity, ev.Identity, true))
	s.publishState(nil)
}

func (s *Service) publishLine(l types.LogLine) {
	s.conn.Publish(s.conn.NewMessage(bus.Topic{TokEth, TokLog, l.Channel.String()}, l, false))
}

func (s *Service) publishState(err error) {
	st := s.Status()
	if err != nil {
		st.Error = string(errcode.Of(err))
	}
	s.conn.Publish(s.conn.NewMessage(topicState, st, true))
}

func (s *Service) replyErr(req *bus.Message, err error) {
	if len(req.ReplyTo) == 0 {
		return
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: string(errcode.Of(err))}, false)
}

func asEthConfig(p any) (types.EthConfig, bool) {
	switch v := p.(type) {
	case types.EthConfig:
		return v, true
	case *types.EthConfig:
		if v != nil {
			return *v, true
		}
	}
	return types.EthConfig{}, false
}
