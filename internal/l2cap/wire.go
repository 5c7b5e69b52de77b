// Package l2cap implements the LE L2CAP layer: ACL/L2CAP frame codec,
// credit-based channel signalling, and the channel manager (§4.C).
//
// The frame codec follows the teacher's little-endian, bytes.Buffer style
// (linux/internal/l2cap/l2cap.go's aclData.Unmarshal, hci/cmd/cmd.go's
// marshal), generalized from BlueZ raw ACL sockets to a driver-agnostic
// ACL frame type.
package l2cap

import (
	"encoding/binary"
	"errors"

	"github.com/go-ble/host/internal/pool"
)

// Fixed and dynamic L2CAP channel ids (§6).
const (
	CIDATT      = 0x0004
	CIDLESignal = 0x0005
	CIDDynStart = 0x0040
)

// ErrMalformed is returned by decoders on truncated or inconsistent input.
var ErrMalformed = errors.New("l2cap: malformed packet")

// ACLHeader is the 4-octet HCI ACL data header: a 12-bit connection handle,
// a 2-bit boundary flag, a 2-bit broadcast flag (always point-to-point
// here) and a 16-bit total data length.
type ACLHeader struct {
	Handle   uint16
	Boundary pool.Boundary
	Length   uint16
}

// EncodeACLHeader writes the 4-byte HCI ACL header for a payload of n
// bytes.
func EncodeACLHeader(handle uint16, boundary pool.Boundary, n int) []byte {
	b := make([]byte, 4)
	hb := handle&0x0fff | uint16(boundary)<<12
	binary.LittleEndian.PutUint16(b[0:2], hb)
	binary.LittleEndian.PutUint16(b[2:4], uint16(n))
	return b
}

// DecodeACLHeader parses the 4-byte HCI ACL header from b.
func DecodeACLHeader(b []byte) (ACLHeader, error) {
	if len(b) < 4 {
		return ACLHeader{}, ErrMalformed
	}
	hb := binary.LittleEndian.Uint16(b[0:2])
	length := binary.LittleEndian.Uint16(b[2:4])
	return ACLHeader{
		Handle:   hb & 0x0fff,
		Boundary: pool.Boundary((hb >> 12) & 0x3),
		Length:   length,
	}, nil
}

// Packet is a decoded L2CAP frame: channel id plus payload, already
// stripped of the 4-byte length+CID header (§6, L2capPacket).
type Packet struct {
	CID     uint16
	Payload []byte
}

// DecodeL2CAP parses the 4-octet L2CAP header (2-byte length, 2-byte CID)
// followed by payload.
func DecodeL2CAP(b []byte) (Packet, error) {
	if len(b) < 4 {
		return Packet{}, ErrMalformed
	}
	length := binary.LittleEndian.Uint16(b[0:2])
	cid := binary.LittleEndian.Uint16(b[2:4])
	if len(b)-4 < int(length) {
		return Packet{}, ErrMalformed
	}
	return Packet{CID: cid, Payload: b[4 : 4+int(length)]}, nil
}

// EncodeL2CAP frames payload behind the 4-octet L2CAP header for cid.
func EncodeL2CAP(cid uint16, payload []byte) []byte {
	b := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(b[2:4], cid)
	copy(b[4:], payload)
	return b
}

// Signalling op codes used by LE credit-based flow control (§4.C).
const (
	SigCommandReject          = 0x01
	SigDisconnectRequest      = 0x06
	SigDisconnectResponse     = 0x07
	SigLECreditConnRequest    = 0x14
	SigLECreditConnResponse   = 0x15
	SigLEFlowControlCreditInd = 0x16
)

// Connection response status codes (§4.C).
const (
	StatusSuccess     = 0x0000
	StatusBadPSM      = 0x0002
	StatusNoResources = 0x0004
)

// Signal is a tagged LE signalling PDU (§3, L2capLeSignal). Exactly one of
// the typed fields is populated, selected by Code.
type Signal struct {
	Code       uint8
	Identifier uint8

	ConnReq  *CreditConnReq
	ConnResp *CreditConnResp
	CreditInd *FlowControlCreditInd
	DiscReq  *DisconnectReq
	DiscResp *DisconnectResp
	Reject   *CommandReject
}

// CreditConnReq is the LE Credit Based Connection Request payload.
type CreditConnReq struct {
	SPSM    uint16
	SCID    uint16
	MTU     uint16
	MPS     uint16
	Credits uint16
}

// CreditConnResp is the LE Credit Based Connection Response payload.
type CreditConnResp struct {
	DCID    uint16
	MTU     uint16
	MPS     uint16
	Credits uint16
	Status  uint16
}

// FlowControlCreditInd restores local-peer credits on a channel.
type FlowControlCreditInd struct {
	CID     uint16
	Credits uint16
}

// DisconnectReq requests teardown of a connection-oriented channel.
type DisconnectReq struct {
	DCID uint16
	SCID uint16
}

// DisconnectResp acknowledges a DisconnectReq.
type DisconnectResp struct {
	DCID uint16
	SCID uint16
}

// CommandReject is sent back for protocol violations (unknown signalling
// code, credit overflow).
type CommandReject struct {
	Reason uint16
}

// DecodeSignal parses a single LE signalling command from an LE U
// signalling channel payload.
func DecodeSignal(b []byte) (Signal, error) {
	if len(b) < 4 {
		return Signal{}, ErrMalformed
	}
	code := b[0]
	ident := b[1]
	length := binary.LittleEndian.Uint16(b[2:4])
	body := b[4:]
	if len(body) < int(length) {
		return Signal{}, ErrMalformed
	}
	body = body[:length]

	s := Signal{Code: code, Identifier: ident}
	switch code {
	case SigLECreditConnRequest:
		if len(body) < 10 {
			return Signal{}, ErrMalformed
		}
		s.ConnReq = &CreditConnReq{
			SPSM:    binary.LittleEndian.Uint16(body[0:2]),
			SCID:    binary.LittleEndian.Uint16(body[2:4]),
			MTU:     binary.LittleEndian.Uint16(body[4:6]),
			MPS:     binary.LittleEndian.Uint16(body[6:8]),
			Credits: binary.LittleEndian.Uint16(body[8:10]),
		}
	case SigLECreditConnResponse:
		if len(body) < 10 {
			return Signal{}, ErrMalformed
		}
		s.ConnResp = &CreditConnResp{
			DCID:    binary.LittleEndian.Uint16(body[0:2]),
			MTU:     binary.LittleEndian.Uint16(body[2:4]),
			MPS:     binary.LittleEndian.Uint16(body[4:6]),
			Credits: binary.LittleEndian.Uint16(body[6:8]),
			Status:  binary.LittleEndian.Uint16(body[8:10]),
		}
	case SigLEFlowControlCreditInd:
		if len(body) < 4 {
			return Signal{}, ErrMalformed
		}
		s.CreditInd = &FlowControlCreditInd{
			CID:     binary.LittleEndian.Uint16(body[0:2]),
			Credits: binary.LittleEndian.Uint16(body[2:4]),
		}
	case SigDisconnectRequest:
		if len(body) < 4 {
			return Signal{}, ErrMalformed
		}
		s.DiscReq = &DisconnectReq{
			DCID: binary.LittleEndian.Uint16(body[0:2]),
			SCID: binary.LittleEndian.Uint16(body[2:4]),
		}
	case SigDisconnectResponse:
		if len(body) < 4 {
			return Signal{}, ErrMalformed
		}
		s.DiscResp = &DisconnectResp{
			DCID: binary.LittleEndian.Uint16(body[0:2]),
			SCID: binary.LittleEndian.Uint16(body[2:4]),
		}
	case SigCommandReject:
		if len(body) < 2 {
			return Signal{}, ErrMalformed
		}
		s.Reject = &CommandReject{Reason: binary.LittleEndian.Uint16(body[0:2])}
	default:
		return Signal{}, ErrMalformed
	}
	return s, nil
}

// Encode serializes a Signal back into a signalling-channel payload.
func (s Signal) Encode() []byte {
	var body []byte
	switch s.Code {
	case SigLECreditConnRequest:
		r := s.ConnReq
		body = le16(r.SPSM, r.SCID, r.MTU, r.MPS, r.Credits)
	case SigLECreditConnResponse:
		r := s.ConnResp
		body = le16(r.DCID, r.MTU, r.MPS, r.Credits, r.Status)
	case SigLEFlowControlCreditInd:
		r := s.CreditInd
		body = le16(r.CID, r.Credits)
	case SigDisconnectRequest:
		r := s.DiscReq
		body = le16(r.DCID, r.SCID)
	case SigDisconnectResponse:
		r := s.DiscResp
		body = le16(r.DCID, r.SCID)
	case SigCommandReject:
		r := s.Reject
		body = le16(r.Reason)
	}
	out := make([]byte, 4+len(body))
	out[0] = s.Code
	out[1] = s.Identifier
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(body)))
	copy(out[4:], body)
	return out
}

func le16(vs ...uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[2*i:2*i+2], v)
	}
	return b
}
