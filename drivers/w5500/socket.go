package w5500

import "time"

// Socket numbers used by this package.
const (
	SockMACRAW = 0
	SockIPRAW  = 1
)

func (d *Device) sockCmd(n uint8, cmd byte) error {
	if err := d.writeByte(blockSocket(n), snCR, cmd); err != nil {
		return err
	}
	for i := 0; i < d.polls; i++ {
		v, err := d.readByte(blockSocket(n), snCR)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		time.Sleep(d.every)
	}
	return ErrCmdTimeout
}

// Status reads Sn_SR.
func (d *Device) Status(n uint8) (byte, error) {
	return d.readByte(blockSocket(n), snSR)
}

func (d *Device) open(n uint8, mode, want byte) error {
	if err := d.Close(n); err != nil {
		return err
	}
	if err := d.writeByte(blockSocket(n), snMR, mode); err != nil {
		return err
	}
	if err := d.sockCmd(n, cmdOpen); err != nil {
		return err
	}
	sr, err := d.Status(n)
	if err != nil {
		return err
	}
	if sr != want {
		return ErrSocketMode
	}
	return nil
}

// OpenMACRAW opens socket 0 in MACRAW mode.
func (d *Device) OpenMACRAW() error {
	return d.open(SockMACRAW, modeMACRAW, sockMACRAW)
}

// OpenIPRAW opens socket n in IPRAW mode for the given IP protocol.
func (d *Device) OpenIPRAW(n uint8, proto byte) error {
	if err := d.writeByte(blockSocket(n), snPROTO, proto); err != nil {
		return err
	}
	return d.open(n, modeIPRAW, sockIPRAW)
}

// Close closes socket n and clears its interrupt flags.
func (d *Device) Close(n uint8) error {
	if err := d.sockCmd(n, cmdClose); err != nil {
		return err
	}
	return d.writeByte(blockSocket(n), snIR, 0xFF)
}

// SetDest sets the destination IP for IPRAW/UDP sends.
func (d *Device) SetDest(n uint8, ip [4]byte) error {
	return d.write(blockSocket(n), snDIPR, ip[:])
}

// send copies p into the TX buffer of socket n and issues SEND, waiting for
// SEND_OK or a chip timeout.
func (d *Device) send(n uint8, p []byte) error {
	if len(p) > int(d.sizes.TX[n])*1024 {
		return ErrFrameSize
	}
	for i := 0; ; i++ {
		free, err := d.readU16(blockSocket(n), snTX_FSR)
		if err != nil {
			return err
		}
		if int(free) >= len(p) {
			break
		}
		if i >= d.polls {
			return ErrSendTimeout
		}
		time.Sleep(d.every)
	}
	ptr, err := d.readU16(blockSocket(n), snTX_WR)
	if err != nil {
		return err
	}
	if err := d.write(blockTX(n), ptr, p); err != nil {
		return err
	}
	if err := d.writeU16(blockSocket(n), snTX_WR, ptr+uint16(len(p))); err != nil {
		return err
	}
	if err := d.sockCmd(n, cmdSend); err != nil {
		return err
	}
	for i := 0; i < d.polls; i++ {
		ir, err := d.readByte(blockSocket(n), snIR)
		if err != nil {
			return err
		}
		if ir&irSendOK != 0 {
			return d.writeByte(blockSocket(n), snIR, irSendOK)
		}
		if ir&irTimeout != 0 {
			_ = d.writeByte(blockSocket(n), snIR, irTimeout)
			return ErrSendTimeout
		}
		time.Sleep(d.every)
	}
	return ErrSendTimeout
}

// recv reads one record from socket n: a hdrLen-byte header, then a payload
// whose length lenOf derives from the header. The payload is copied into p;
// anything that does not fit is discarded.
func (d *Device) recv(n uint8, hdr []byte, lenOf func([]byte) int, p []byte) (int, error) {
	avail, err := d.readU16(blockSocket(n), snRX_RSR)
	if err != nil {
		return 0, err
	}
	if int(avail) < len(hdr) {
		return 0, ErrNoData
	}
	ptr, err := d.readU16(blockSocket(n), snRX_RD)
	if err != nil {
		return 0, err
	}
	if err := d.read(blockRX(n), ptr, hdr); err != nil {
		return 0, err
	}
	size := lenOf(hdr)
	if size < 0 || size > int(avail)-len(hdr) {
		// Corrupt header; drop everything pending.
		_ = d.writeU16(blockSocket(n), snRX_RD, ptr+avail)
		_ = d.sockCmd(n, cmdRecv)
		return 0, ErrFrameSize
	}
	ptr += uint16(len(hdr))
	copied := size
	if copied > len(p) {
		copied = len(p)
	}
	if copied > 0 {
		if err := d.read(blockRX(n), ptr, p[:copied]); err != nil {
			return 0, err
		}
	}
	ptr += uint16(size)
	if err := d.writeU16(blockSocket(n), snRX_RD, ptr); err != nil {
		return 0, err
	}
	if err := d.sockCmd(n, cmdRecv); err != nil {
		return 0, err
	}
	if copied < size {
		return copied, ErrFrameSize
	}
	return copied, nil
}

// SendFrame transmits a raw Ethernet frame on the MACRAW socket.
func (d *Device) SendFrame(frame []byte) error {
	return d.send(SockMACRAW, frame)
}

// RecvFrame reads one Ethernet frame from the MACRAW socket into buf.
// It returns ErrNoData when nothing is pending.
func (d *Device) RecvFrame(buf []byte) (int, error) {
	var hdr [2]byte
	return d.recv(SockMACRAW, hdr[:], func(h []byte) int {
		// The MACRAW length includes the 2-byte header itself.
		return (int(h[0])<<8 | int(h[1])) - 2
	}, buf)
}

// SendIP transmits an IP payload on an IPRAW socket to dst.
func (d *Device) SendIP(n uint8, dst [4]byte, payload []byte) error {
	if err := d.SetDest(n, dst); err != nil {
		return err
	}
	return d.send(n, payload)
}

// RecvIP reads one IP payload from an IPRAW socket. from is the source.
func (d *Device) RecvIP(n uint8, buf []byte) (from [4]byte, nb int, err error) {
	var hdr [6]byte
	nb, err = d.recv(n, hdr[:], func(h []byte) int {
		return int(h[4])<<8 | int(h[5])
	}, buf)
	copy(from[:], hdr[:4])
	return from, nb, err
}
