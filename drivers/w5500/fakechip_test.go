package w5500

import (
	"errors"
	"sync"
)

// fakeChip models enough of the W5500 register file to exercise the driver:
// framed SPI access, MR.RST, socket commands and wrapping buffer pointers.
type fakeChip struct {
	mu sync.Mutex

	mem map[byte]*[0x10000]byte

	selected bool
	hdr      []byte
	addr     uint16
	block    byte
	write    bool

	sent   map[uint8][][]byte
	rxWr   map[uint8]uint16
	failIO error

	noVersion bool
	stuckRST  bool
}

const fakeBufMask = 0x7FF // 2KB per socket

func newFakeChip() *fakeChip {
	c := &fakeChip{
		mem:  map[byte]*[0x10000]byte{},
		sent: map[uint8][][]byte{},
		rxWr: map[uint8]uint16{},
	}
	c.bank(blockCommon)[regVERSIONR] = ChipVersion
	for n := uint8(0); n < NumSockets; n++ {
		c.putU16(blockSocket(n), snTX_FSR, 2048)
	}
	return c
}

func (c *fakeChip) bank(b byte) *[0x10000]byte {
	m, ok := c.mem[b]
	if !ok {
		m = new([0x10000]byte)
		c.mem[b] = m
	}
	return m
}

func (c *fakeChip) putU16(b byte, a uint16, v uint16) {
	m := c.bank(b)
	m[a] = byte(v >> 8)
	m[a+1] = byte(v)
}

func (c *fakeChip) getU16(b byte, a uint16) uint16 {
	m := c.bank(b)
	return uint16(m[a])<<8 | uint16(m[a+1])
}

func isBuffer(b byte) bool { return b != blockCommon && (b-1)%4 != 0 }

func sockOf(b byte) uint8 { return (b - 1) / 4 }

func (c *fakeChip) at(a uint16) uint16 {
	if isBuffer(c.block) {
		return a & fakeBufMask
	}
	return a
}

func (c *fakeChip) setLink(v byte) {
	c.mu.Lock()
	c.bank(blockCommon)[regPHYCFGR] = v
	c.mu.Unlock()
}

// queueRX appends raw bytes (header included) to socket n's receive buffer.
func (c *fakeChip) queueRX(n uint8, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.bank(blockRX(n))
	wr := c.rxWr[n]
	for _, v := range b {
		m[wr&fakeBufMask] = v
		wr++
	}
	c.rxWr[n] = wr
}

func (c *fakeChip) sentFrames(n uint8) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent[n]...)
}

// ---- Bus ----

func (c *fakeChip) Select() {
	c.mu.Lock()
	c.selected = true
	c.hdr = c.hdr[:0]
	c.mu.Unlock()
}

func (c *fakeChip) Deselect() {
	c.mu.Lock()
	c.selected = false
	c.mu.Unlock()
}

func (c *fakeChip) WriteBytes(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failIO != nil {
		return c.failIO
	}
	if !c.selected {
		return errors.New("fake: not selected")
	}
	for len(p) > 0 && len(c.hdr) < 3 {
		c.hdr = append(c.hdr, p[0])
		p = p[1:]
		if len(c.hdr) == 3 {
			c.addr = uint16(c.hdr[0])<<8 | uint16(c.hdr[1])
			c.block = c.hdr[2] >> 3
			c.write = c.hdr[2]&ctlWrite != 0
		}
	}
	if len(p) > 0 && !c.write {
		return errors.New("fake: data written in read frame")
	}
	for _, v := range p {
		c.store(v)
		c.addr++
	}
	return nil
}

func (c *fakeChip) ReadBytes(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failIO != nil {
		return c.failIO
	}
	if !c.selected || len(c.hdr) < 3 || c.write {
		return errors.New("fake: bad read frame")
	}
	for i := range p {
		p[i] = c.load()
		c.addr++
	}
	return nil
}

func (c *fakeChip) load() byte {
	if c.block != blockCommon && !isBuffer(c.block) {
		n := sockOf(c.block)
		switch c.addr {
		case snRX_RSR, snRX_RSR + 1:
			rsr := c.rxWr[n] - c.getU16(c.block, snRX_RD)
			if c.addr == snRX_RSR {
				return byte(rsr >> 8)
			}
			return byte(rsr)
		}
	}
	if c.block == blockCommon && c.addr == regVERSIONR && c.noVersion {
		return 0xFF
	}
	return c.bank(c.block)[c.at(c.addr)]
}

func (c *fakeChip) store(v byte) {
	m := c.bank(c.block)
	if c.block == blockCommon {
		if c.addr == regMR && v&mrRST != 0 && !c.stuckRST {
			v &^= mrRST
		}
		m[c.addr] = v
		return
	}
	if isBuffer(c.block) {
		m[c.at(c.addr)] = v
		return
	}
	n := sockOf(c.block)
	switch c.addr {
	case snIR:
		m[snIR] &^= v
	case snCR:
		c.command(n, v)
		m[snCR] = 0
	default:
		m[c.addr] = v
	}
}

func (c *fakeChip) command(n uint8, cmd byte) {
	sb := blockSocket(n)
	m := c.bank(sb)
	switch cmd {
	case cmdOpen:
		switch m[snMR] & 0x0F {
		case modeMACRAW:
			m[snSR] = sockMACRAW
		case modeIPRAW:
			m[snSR] = sockIPRAW
		case modeUDP:
			m[snSR] = sockUDP
		}
	case cmdClose:
		m[snSR] = sockClosed
	case cmdSend:
		rd := c.getU16(sb, snTX_RD)
		wr := c.getU16(sb, snTX_WR)
		tx := c.bank(blockTX(n))
		var frame []byte
		for p := rd; p != wr; p++ {
			frame = append(frame, tx[p&fakeBufMask])
		}
		c.sent[n] = append(c.sent[n], frame)
		c.putU16(sb, snTX_RD, wr)
		m[snIR] |= irSendOK
	}
}
