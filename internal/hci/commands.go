package hci

import (
	"bytes"
	"encoding/binary"
)

// opcode builds a two-byte HCI opcode from an OGF/OCF pair, matching the
// teacher's hci/cmd.Opcode encoding.
func opcode(ogf, ocf uint16) uint16 {
	return ogf<<10 | ocf
}

// OGF values used by this host (§6).
const (
	ogfLinkControl      = 0x01
	ogfControllerBB      = 0x03
	ogfLEController      = 0x08
)

// SetEventMask is the HCI_Set_Event_Mask command.
type SetEventMask struct {
	Mask uint64
}

func (SetEventMask) Opcode() uint16 { return opcode(ogfControllerBB, 0x0001) }
func (c SetEventMask) Marshal() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, c.Mask)
	return b
}

// EventMask bit positions relevant to this host (§4.E startup mask): LE
// meta, connection complete, disconnection complete, hardware error,
// connection request.
const (
	EventMaskConnectionComplete     = 1 << 2
	EventMaskConnectionRequest      = 1 << 3
	EventMaskDisconnectionComplete  = 1 << 4
	EventMaskHardwareError          = 1 << 15
	EventMaskLEMeta                 = 1 << 61
)

// Disconnect is the HCI_Disconnect command.
type Disconnect struct {
	Handle uint16
	Reason uint8
}

func (Disconnect) Opcode() uint16 { return opcode(ogfLinkControl, 0x0006) }
func (c Disconnect) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, c.Handle)
	binary.Write(buf, binary.LittleEndian, c.Reason)
	return buf.Bytes()
}

// Common LE disconnect reasons.
const (
	ReasonRemoteUserTerminated      uint8 = 0x13
	ReasonRemoteLowResources        uint8 = 0x14
	ReasonLocalHostTerminated       uint8 = 0x16
)

// LeSetAdvParams is the HCI_LE_Set_Advertising_Parameters command.
type LeSetAdvParams struct {
	IntervalMin    uint16
	IntervalMax    uint16
	AdvType        uint8
	OwnAddrType    uint8
	DirectAddrType uint8
	DirectAddr     [6]byte
	ChannelMap     uint8
	FilterPolicy   uint8
}

func (LeSetAdvParams) Opcode() uint16 { return opcode(ogfLEController, 0x0006) }
func (c LeSetAdvParams) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, c.IntervalMin)
	binary.Write(buf, binary.LittleEndian, c.IntervalMax)
	buf.WriteByte(c.AdvType)
	buf.WriteByte(c.OwnAddrType)
	buf.WriteByte(c.DirectAddrType)
	buf.Write(c.DirectAddr[:])
	buf.WriteByte(c.ChannelMap)
	buf.WriteByte(c.FilterPolicy)
	return buf.Bytes()
}

// LeSetAdvData is the HCI_LE_Set_Advertising_Data command.
type LeSetAdvData struct {
	Length uint8
	Data   [31]byte
}

func (LeSetAdvData) Opcode() uint16 { return opcode(ogfLEController, 0x0008) }
func (c LeSetAdvData) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(c.Length)
	buf.Write(c.Data[:])
	return buf.Bytes()
}

// LeSetScanRespData is the HCI_LE_Set_Scan_Response_Data command.
type LeSetScanRespData struct {
	Length uint8
	Data   [31]byte
}

func (LeSetScanRespData) Opcode() uint16 { return opcode(ogfLEController, 0x0009) }
func (c LeSetScanRespData) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(c.Length)
	buf.Write(c.Data[:])
	return buf.Bytes()
}

// LeSetAdvEnable is the HCI_LE_Set_Advertising_Enable command.
type LeSetAdvEnable struct {
	Enable bool
}

func (LeSetAdvEnable) Opcode() uint16 { return opcode(ogfLEController, 0x000a) }
func (c LeSetAdvEnable) Marshal() []byte {
	if c.Enable {
		return []byte{1}
	}
	return []byte{0}
}

// LeSetScanParams is the HCI_LE_Set_Scan_Parameters command.
type LeSetScanParams struct {
	ScanType       uint8
	Interval       uint16
	Window         uint16
	OwnAddrType    uint8
	FilterPolicy   uint8
}

func (LeSetScanParams) Opcode() uint16 { return opcode(ogfLEController, 0x000b) }
func (c LeSetScanParams) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(c.ScanType)
	binary.Write(buf, binary.LittleEndian, c.Interval)
	binary.Write(buf, binary.LittleEndian, c.Window)
	buf.WriteByte(c.OwnAddrType)
	buf.WriteByte(c.FilterPolicy)
	return buf.Bytes()
}

// LeSetScanEnable is the HCI_LE_Set_Scan_Enable command.
type LeSetScanEnable struct {
	Enable           bool
	FilterDuplicates bool
}

func (LeSetScanEnable) Opcode() uint16 { return opcode(ogfLEController, 0x000c) }
func (c LeSetScanEnable) Marshal() []byte {
	return []byte{boolByte(c.Enable), boolByte(c.FilterDuplicates)}
}

// LeCreateConn is the HCI_LE_Create_Connection command.
type LeCreateConn struct {
	ScanInterval     uint16
	ScanWindow       uint16
	FilterPolicy     uint8
	PeerAddrType     uint8
	PeerAddr         [6]byte
	OwnAddrType      uint8
	ConnIntervalMin  uint16
	ConnIntervalMax  uint16
	ConnLatency      uint16
	SupervisionTimeout uint16
	MinCELength      uint16
	MaxCELength      uint16
}

func (LeCreateConn) Opcode() uint16 { return opcode(ogfLEController, 0x000d) }
func (c LeCreateConn) Marshal() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, c.ScanInterval)
	binary.Write(buf, binary.LittleEndian, c.ScanWindow)
	buf.WriteByte(c.FilterPolicy)
	buf.WriteByte(c.PeerAddrType)
	buf.Write(c.PeerAddr[:])
	buf.WriteByte(c.OwnAddrType)
	binary.Write(buf, binary.LittleEndian, c.ConnIntervalMin)
	binary.Write(buf, binary.LittleEndian, c.ConnIntervalMax)
	binary.Write(buf, binary.LittleEndian, c.ConnLatency)
	binary.Write(buf, binary.LittleEndian, c.SupervisionTimeout)
	binary.Write(buf, binary.LittleEndian, c.MinCELength)
	binary.Write(buf, binary.LittleEndian, c.MaxCELength)
	return buf.Bytes()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
