// Package w5500 drives a WIZnet W5500 Ethernet controller over SPI using
// variable-length data mode frames: 16-bit address, control byte, data.
package w5500

// Expected value of VERSIONR.
const ChipVersion = 0x04

// Number of hardware sockets; socket 0 is the only one that supports MACRAW.
const NumSockets = 8

// Control byte fields.
const (
	ctlWrite = 1 << 2 // RWB
	ctlOMVDM = 0x00   // variable data length mode

	blockCommon = 0x00
)

// Block select bits for socket n (shifted into the control byte by frame()).
func blockSocket(n uint8) byte { return n*4 + 1 }
func blockTX(n uint8) byte     { return n*4 + 2 }
func blockRX(n uint8) byte     { return n*4 + 3 }

// Common registers.
const (
	regMR       = 0x0000
	regGAR      = 0x0001 // 4
	regSUBR     = 0x0005 // 4
	regSHAR     = 0x0009 // 6
	regSIPR     = 0x000F // 4
	regIR       = 0x0015
	regSIR      = 0x0017
	regRTR      = 0x0019 // 2, 100us units
	regRCR      = 0x001B
	regPHYCFGR  = 0x002E
	regVERSIONR = 0x0039

	mrRST = 0x80

	phyLNK = 0x01
	phySPD = 0x02 // 1 => 100 Mbps
	phyDPX = 0x04 // 1 => full duplex
)

// Socket registers (relative to the socket block).
const (
	snMR         = 0x0000
	snCR         = 0x0001
	snIR         = 0x0002
	snSR         = 0x0003
	snPORT       = 0x0004 // 2
	snDIPR       = 0x000C // 4
	snPROTO      = 0x0014
	snRXBUF_SIZE = 0x001E
	snTXBUF_SIZE = 0x001F
	snTX_FSR     = 0x0020 // 2
	snTX_RD      = 0x0022 // 2
	snTX_WR      = 0x0024 // 2
	snRX_RSR     = 0x0026 // 2
	snRX_RD      = 0x0028 // 2
)

// Sn_MR protocol values.
const (
	modeClosed = 0x00
	modeTCP    = 0x01
	modeUDP    = 0x02
	modeIPRAW  = 0x03
	modeMACRAW = 0x04
)

// Sn_CR commands.
const (
	cmdOpen  = 0x01
	cmdClose = 0x10
	cmdSend  = 0x20
	cmdRecv  = 0x40
)

// Sn_IR bits.
const (
	irRecv    = 0x04
	irTimeout = 0x08
	irSendOK  = 0x10
)

// Sn_SR values.
const (
	sockClosed = 0x00
	sockUDP    = 0x22
	sockIPRAW  = 0x32
	sockMACRAW = 0x42
)

// IP protocol numbers used with IPRAW sockets.
const ProtoICMP = 1
