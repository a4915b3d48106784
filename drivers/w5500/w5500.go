package w5500

import (
	"errors"
	"time"
)

// Bus is the transport the chip is driven over. Transfers block and are
// expected to enforce their own timeout.
type Bus interface {
	Select()
	Deselect()
	ReadBytes(p []byte) error
	WriteBytes(p []byte) error
}

// Errors returned by the driver.
var (
	ErrBufferSizes  = errors.New("w5500: socket buffer sizes exceed 16KB")
	ErrNotDetected  = errors.New("w5500: unexpected VERSIONR")
	ErrResetTimeout = errors.New("w5500: MR.RST did not clear")
	ErrCmdTimeout   = errors.New("w5500: Sn_CR did not clear")
	ErrSendTimeout  = errors.New("w5500: send timeout")
	ErrSocketMode   = errors.New("w5500: socket not in expected mode")
	ErrFrameSize    = errors.New("w5500: frame larger than buffer")
	ErrNoData       = errors.New("w5500: no data")
)

// BufferSizes assigns per-socket TX and RX memory in KB (0,1,2,4,8,16).
// The sum for each direction must not exceed 16.
type BufferSizes struct {
	TX [NumSockets]uint8
	RX [NumSockets]uint8
}

// DefaultBufferSizes gives every socket 2KB in each direction.
func DefaultBufferSizes() BufferSizes {
	var b BufferSizes
	for i := range b.TX {
		b.TX[i] = 2
		b.RX[i] = 2
	}
	return b
}

// Validate checks per-direction totals and allowed sizes.
func (b BufferSizes) Validate() error {
	var tx, rx int
	for i := 0; i < NumSockets; i++ {
		if !validSize(b.TX[i]) || !validSize(b.RX[i]) {
			return ErrBufferSizes
		}
		tx += int(b.TX[i])
		rx += int(b.RX[i])
	}
	if tx > 16 || rx > 16 {
		return ErrBufferSizes
	}
	return nil
}

func validSize(kb uint8) bool {
	switch kb {
	case 0, 1, 2, 4, 8, 16:
		return true
	}
	return false
}

// NetInfo is the chip's own address configuration.
type NetInfo struct {
	MAC     [6]byte
	IP      [4]byte
	Subnet  [4]byte
	Gateway [4]byte
}

// LinkStatus decodes PHYCFGR.
type LinkStatus struct {
	Up         bool
	Speed100   bool
	FullDuplex bool
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Sizes defaults to DefaultBufferSizes.
	Sizes *BufferSizes
	// CmdPolls bounds Sn_CR and MR.RST polling. Default 100.
	CmdPolls int
	// PollInterval between register polls. Default 1 ms.
	PollInterval time.Duration
}

// Device is a W5500 reached through a Bus.
type Device struct {
	bus   Bus
	sizes BufferSizes
	polls int
	every time.Duration

	// Fixed buffers to avoid per-call heap allocations.
	hdr [3]byte
	w   [8]byte
}

// New constructs a Device; it does not touch the hardware.
func New(bus Bus, cfg Config) *Device {
	d := &Device{bus: bus, sizes: DefaultBufferSizes(), polls: 100, every: time.Millisecond}
	if cfg.Sizes != nil {
		d.sizes = *cfg.Sizes
	}
	if cfg.CmdPolls > 0 {
		d.polls = cfg.CmdPolls
	}
	if cfg.PollInterval > 0 {
		d.every = cfg.PollInterval
	}
	return d
}

// ---- frame level ----

func (d *Device) frame(block byte, addr uint16, write bool) []byte {
	d.hdr[0] = byte(addr >> 8)
	d.hdr[1] = byte(addr)
	d.hdr[2] = block<<3 | ctlOMVDM
	if write {
		d.hdr[2] |= ctlWrite
	}
	return d.hdr[:]
}

func (d *Device) read(block byte, addr uint16, p []byte) error {
	d.bus.Select()
	defer d.bus.Deselect()
	if err := d.bus.WriteBytes(d.frame(block, addr, false)); err != nil {
		return err
	}
	return d.bus.ReadBytes(p)
}

func (d *Device) write(block byte, addr uint16, p []byte) error {
	d.bus.Select()
	defer d.bus.Deselect()
	if err := d.bus.WriteBytes(d.frame(block, addr, true)); err != nil {
		return err
	}
	return d.bus.WriteBytes(p)
}

func (d *Device) readByte(block byte, addr uint16) (byte, error) {
	err := d.read(block, addr, d.w[:1])
	return d.w[0], err
}

func (d *Device) writeByte(block byte, addr uint16, v byte) error {
	d.w[0] = v
	return d.write(block, addr, d.w[:1])
}

func (d *Device) readU16(block byte, addr uint16) (uint16, error) {
	if err := d.read(block, addr, d.w[:2]); err != nil {
		return 0, err
	}
	return uint16(d.w[0])<<8 | uint16(d.w[1]), nil
}

func (d *Device) writeU16(block byte, addr uint16, v uint16) error {
	d.w[0] = byte(v >> 8)
	d.w[1] = byte(v)
	return d.write(block, addr, d.w[:2])
}

// ---- chip level ----

// Version reads VERSIONR.
func (d *Device) Version() (byte, error) {
	return d.readByte(blockCommon, regVERSIONR)
}

// SoftReset sets MR.RST and waits for the chip to clear it.
func (d *Device) SoftReset() error {
	if err := d.writeByte(blockCommon, regMR, mrRST); err != nil {
		return err
	}
	for i := 0; i < d.polls; i++ {
		mr, err := d.readByte(blockCommon, regMR)
		if err != nil {
			return err
		}
		if mr&mrRST == 0 {
			return nil
		}
		time.Sleep(d.every)
	}
	return ErrResetTimeout
}

// Init resets the chip, checks its identity and programs the socket buffer
// layout. It returns ErrNotDetected when the chip does not answer.
func (d *Device) Init() error {
	if err := d.sizes.Validate(); err != nil {
		return err
	}
	if err := d.SoftReset(); err != nil {
		return err
	}
	v, err := d.Version()
	if err != nil {
		return err
	}
	if v != ChipVersion {
		return ErrNotDetected
	}
	for n := uint8(0); n < NumSockets; n++ {
		if err := d.writeByte(blockSocket(n), snTXBUF_SIZE, d.sizes.TX[n]); err != nil {
			return err
		}
		if err := d.writeByte(blockSocket(n), snRXBUF_SIZE, d.sizes.RX[n]); err != nil {
			return err
		}
	}
	return nil
}

// SetMAC writes the source hardware address register.
func (d *Device) SetMAC(mac [6]byte) error {
	return d.write(blockCommon, regSHAR, mac[:])
}

// SetNetInfo writes SHAR, GAR, SUBR and SIPR.
func (d *Device) SetNetInfo(ni NetInfo) error {
	if err := d.SetMAC(ni.MAC); err != nil {
		return err
	}
	if err := d.write(blockCommon, regGAR, ni.Gateway[:]); err != nil {
		return err
	}
	if err := d.write(blockCommon, regSUBR, ni.Subnet[:]); err != nil {
		return err
	}
	return d.write(blockCommon, regSIPR, ni.IP[:])
}

// NetInfo reads back the address registers.
func (d *Device) NetInfo() (NetInfo, error) {
	var ni NetInfo
	if err := d.read(blockCommon, regSHAR, ni.MAC[:]); err != nil {
		return ni, err
	}
	if err := d.read(blockCommon, regGAR, ni.Gateway[:]); err != nil {
		return ni, err
	}
	if err := d.read(blockCommon, regSUBR, ni.Subnet[:]); err != nil {
		return ni, err
	}
	err := d.read(blockCommon, regSIPR, ni.IP[:])
	return ni, err
}

// Link reads PHYCFGR.
func (d *Device) Link() (LinkStatus, error) {
	v, err := d.readByte(blockCommon, regPHYCFGR)
	if err != nil {
		return LinkStatus{}, err
	}
	return LinkStatus{
		Up:         v&phyLNK != 0,
		Speed100:   v&phySPD != 0,
		FullDuplex: v&phyDPX != 0,
	}, nil
}

// SetRetry programs the retransmission timeout (100us units) and count.
func (d *Device) SetRetry(rtr uint16, rcr uint8) error {
	if err := d.writeU16(blockCommon, regRTR, rtr); err != nil {
		return err
	}
	return d.writeByte(blockCommon, regRCR, rcr)
}
