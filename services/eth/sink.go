package eth

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"ethcode-go/types"
	"ethcode-go/x/logring"
)

// DefaultRingSize is the per-channel history depth.
const DefaultRingSize = 64

// Sink is the observer log: one bounded ring per channel plus a persistent
// ring that receives every line. Live followers see lines of the active
// channel only.
type Sink struct {
	// emitMu orders appends so the persistent ring matches emission order
	// across channels.
	emitMu     sync.Mutex
	rings      [types.NumChannels]*logring.Ring
	persistent *logring.Ring
	active     atomic.Uint32

	mu        sync.Mutex
	followers map[int]chan types.LogLine
	nextID    int
	closed    bool

	log    *slog.Logger
	onLine func(types.LogLine)
}

type SinkOptions struct {
	// RingSize must be a power of two; 0 selects DefaultRingSize.
	RingSize int
	// PersistentSize bounds the persistent ring (power of two). 0 keeps
	// every line. A bounded ring counts what it dropped in Evicted.
	PersistentSize int
	// Logger receives a mirror of every line.
	Logger *slog.Logger
	// OnLine, if set, is called for every line after it is stored. It must
	// not block.
	OnLine func(types.LogLine)
}

func NewSink(opts SinkOptions) *Sink {
	size := opts.RingSize
	if size == 0 {
		size = DefaultRingSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	persistent := logring.NewUnbounded()
	if opts.PersistentSize > 0 {
		persistent = logring.New(opts.PersistentSize)
	}
	s := &Sink{
		persistent: persistent,
		followers:  make(map[int]chan types.LogLine),
		log:        log,
		onLine:     opts.OnLine,
	}
	for i := range s.rings {
		s.rings[i] = logring.New(size)
	}
	return s
}

// Emit appends msg to ch and to the persistent channel, then notifies
// followers when ch is active. It never blocks on slow followers.
func (s *Sink) Emit(ch types.Channel, msg string) {
	s.emitMu.Lock()
	var seq uint64
	if int(ch) < types.NumChannels {
		seq = s.rings[ch].Append(msg)
	}
	s.persistent.Append(msg)
	s.emitMu.Unlock()

	s.log.Info(msg, slog.String("channel", ch.String()))

	line := types.LogLine{Channel: ch, Seq: seq, Text: msg}
	if s.onLine != nil {
		s.onLine(line)
	}
	if int(ch) >= types.NumChannels || types.Channel(s.active.Load()) != ch {
		return
	}
	s.notify(line)
}

func (s *Sink) notify(line types.LogLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, c := range s.followers {
		select {
		case c <- line:
		default:
			// drop oldest; history stays in the ring
			select {
			case <-c:
			default:
			}
			select {
			case c <- line:
			default:
			}
		}
	}
}

// SetActive switches followers to ch. The persistent channel and unknown
// channels are rejected.
func (s *Sink) SetActive(ch types.Channel) bool {
	if int(ch) >= types.NumChannels {
		return false
	}
	s.active.Store(uint32(ch))
	return true
}

// Active returns the channel followers currently see.
func (s *Sink) Active() types.Channel { return types.Channel(s.active.Load()) }

// Ring returns the ring backing ch, including ChanPersistent.
func (s *Sink) Ring(ch types.Channel) *logring.Ring {
	if ch == types.ChanPersistent {
		return s.persistent
	}
	if int(ch) < types.NumChannels {
		return s.rings[ch]
	}
	return nil
}

// Snapshot copies the retained history of ch, oldest first.
func (s *Sink) Snapshot(ch types.Channel) []string {
	r := s.Ring(ch)
	if r == nil {
		return nil
	}
	entries := r.Snapshot()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

// Text renders the retained history of ch, one line per entry.
func (s *Sink) Text(ch types.Channel) string {
	r := s.Ring(ch)
	if r == nil {
		return ""
	}
	return r.Text()
}

// Follow registers a live reader of the active channel. The returned
// cancel function is idempotent.
func (s *Sink) Follow(buf int) (<-chan types.LogLine, func()) {
	if buf <= 0 {
		buf = 16
	}
	c := make(chan types.LogLine, buf)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(c)
		return c, func() {}
	}
	id := s.nextID
	s.nextID++
	s.followers[id] = c
	s.mu.Unlock()

	var once sync.Once
	return c, func() {
		once.Do(func() {
			s.mu.Lock()
			if fc, ok := s.followers[id]; ok {
				delete(s.followers, id)
				close(fc)
			}
			s.mu.Unlock()
		})
	}
}

// Close detaches all followers. History stays readable and Emit keeps
// appending.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, c := range s.followers {
		close(c)
		delete(s.followers, id)
	}
}
