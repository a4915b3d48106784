package w5500

import (
	"context"
	"errors"
	"time"
)

// ErrNoReply is returned by Ping when no matching echo reply arrived.
var ErrNoReply = errors.New("w5500: no echo reply")

const (
	icmpEchoReply   = 0
	icmpEchoRequest = 8
	pingPayload     = 32
)

// Checksum computes the Internet checksum of b.
func Checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xFFFF + sum>>16
	}
	return ^uint16(sum)
}

// Pinger sends ICMP echo requests over an IPRAW socket.
type Pinger struct {
	dev  *Device
	sock uint8
	id   uint16
	seq  uint16
	pkt  [8 + pingPayload]byte
	rx   [64]byte
}

// NewPinger binds a pinger to socket sock. id tags outgoing requests.
func NewPinger(dev *Device, sock uint8, id uint16) *Pinger {
	return &Pinger{dev: dev, sock: sock, id: id}
}

// Ping sends one echo request to dst and waits until ctx is done for the
// matching reply. It returns the round-trip time.
func (p *Pinger) Ping(ctx context.Context, dst [4]byte) (time.Duration, error) {
	if err := p.dev.OpenIPRAW(p.sock, ProtoICMP); err != nil {
		return 0, err
	}
	defer p.dev.Close(p.sock)

	p.seq++
	pkt := p.pkt[:]
	pkt[0] = icmpEchoRequest
	pkt[1] = 0
	pkt[2], pkt[3] = 0, 0
	pkt[4], pkt[5] = byte(p.id>>8), byte(p.id)
	pkt[6], pkt[7] = byte(p.seq>>8), byte(p.seq)
	for i := 8; i < len(pkt); i++ {
		pkt[i] = byte('a' + (i-8)%26)
	}
	cs := Checksum(pkt)
	pkt[2], pkt[3] = byte(cs>>8), byte(cs)

	start := time.Now()
	if err := p.dev.SendIP(p.sock, dst, pkt); err != nil {
		return 0, err
	}
	for {
		from, n, err := p.dev.RecvIP(p.sock, p.rx[:])
		switch {
		case err == nil || errors.Is(err, ErrFrameSize):
			if from == dst && p.matches(p.rx[:n]) {
				return time.Since(start), nil
			}
		case !errors.Is(err, ErrNoData):
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, ErrNoReply
		case <-time.After(p.dev.every):
		}
	}
}

func (p *Pinger) matches(b []byte) bool {
	if len(b) < 8 || b[0] != icmpEchoReply {
		return false
	}
	id := uint16(b[4])<<8 | uint16(b[5])
	seq := uint16(b[6])<<8 | uint16(b[7])
	return id == p.id && seq == p.seq
}
