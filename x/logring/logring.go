// Package logring holds bounded, append-only text rings used as per-channel
// log buffers. Writers append whole lines; readers take copies, so a reader
// never observes a partially written line.
package logring

import "sync"

// Entry is one retained line with its monotonic sequence number.
type Entry struct {
	Seq  uint64
	Text string
}

// Ring keeps the most recent lines. Once full, the oldest line is evicted
// on each append. A Ring built with NewUnbounded never evicts.
type Ring struct {
	mu   sync.RWMutex
	buf  []Entry
	mask uint64 // 0 => unbounded
	wr   uint64 // total appended; next sequence number

	readable chan struct{} // coalesced "something was appended" edge
}

// New allocates a ring holding up to size lines.
func New(size int) *Ring {
	if size < 2 || (size&(size-1)) != 0 {
		panic("logring: size must be power of two >= 2")
	}
	return &Ring{
		buf:      make([]Entry, size),
		mask:     uint64(size - 1),
		readable: make(chan struct{}, 1),
	}
}

// NewUnbounded allocates an append-only log that keeps every line.
func NewUnbounded() *Ring {
	return &Ring{readable: make(chan struct{}, 1)}
}

// Append stores s and returns its sequence number.
func (r *Ring) Append(s string) uint64 {
	r.mu.Lock()
	seq := r.wr
	e := Entry{Seq: seq, Text: s}
	if r.mask == 0 {
		r.buf = append(r.buf, e)
	} else {
		r.buf[seq&r.mask] = e
	}
	r.wr = seq + 1
	r.mu.Unlock()

	select {
	case r.readable <- struct{}{}:
	default:
	}
	return seq
}

// Cap returns the line capacity, 0 for unbounded rings.
func (r *Ring) Cap() int {
	if r.mask == 0 {
		return 0
	}
	return int(r.mask + 1)
}

// Total returns the number of lines ever appended.
func (r *Ring) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wr
}

// Len returns the number of retained lines.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.wr - r.first())
}

// Evicted returns how many lines have been pushed out by newer ones.
func (r *Ring) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.first()
}

// first is the sequence number of the oldest retained line. Caller holds mu.
func (r *Ring) first() uint64 {
	if r.mask == 0 {
		return 0
	}
	size := r.mask + 1
	if r.wr <= size {
		return 0
	}
	return r.wr - size
}

// Snapshot copies the retained lines, oldest first.
func (r *Ring) Snapshot() []Entry { return r.Since(0) }

// Since copies retained lines with Seq >= seq, oldest first.
func (r *Ring) Since(seq uint64) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lo := r.first()
	if seq > lo {
		lo = seq
	}
	if lo >= r.wr {
		return nil
	}
	out := make([]Entry, 0, r.wr-lo)
	for s := lo; s < r.wr; s++ {
		if r.mask == 0 {
			out = append(out, r.buf[s])
		} else {
			out = append(out, r.buf[s&r.mask])
		}
	}
	return out
}

// Text joins the retained lines with '\n', each line terminated.
func (r *Ring) Text() string {
	entries := r.Snapshot()
	n := 0
	for _, e := range entries {
		n += len(e.Text) + 1
	}
	b := make([]byte, 0, n)
	for _, e := range entries {
		b = append(b, e.Text...)
		b = append(b, '\n')
	}
	return string(b)
}

// Readable fires (coalesced) after appends.
func (r *Ring) Readable() <-chan struct{} { return r.readable }
