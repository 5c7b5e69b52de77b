package att

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/go-ble/host/internal/connmgr"
)

// ErrNoCCCD is returned by Server.Notify when the characteristic has no
// Client Characteristic Configuration Descriptor (§4.D notify).
var ErrNoCCCD = errors.New("att: characteristic has no cccd")

// ErrUnknownHandle is returned when a characteristic handle was never
// registered with the table.
var ErrUnknownHandle = errors.New("att: unknown characteristic handle")

// CharacteristicHandle names a characteristic's value handle and, if it
// has one, its CCCD handle (§4.D).
type CharacteristicHandle struct {
	Handle     uint16
	CCCDHandle uint16
	HasCCCD    bool
}

// cccd subscription bits (Core spec Vol 3 Part G §3.3.3.3).
const (
	cccdNotify = 0x0001
)

type attr struct {
	handle CharacteristicHandle
	value  []byte
}

// Table is a minimal in-memory attribute database implementing the
// AttributeServer contract the GATT adapter delegates to (§1 names the
// real attribute database as an external collaborator out of scope; Table
// is the reference/test-double the teacher's own test suite would have
// used, adapted from characteristic.go/service.go/handle.go's value
// storage rather than their full handle-range discovery machinery, which
// belongs to the attribute database, not this host core).
type Table struct {
	mu    sync.Mutex
	attrs map[uint16]*attr

	// subscriptions[conn][cccdHandle] = subscription bits.
	subscriptions map[connmgr.ConnHandle]map[uint16]uint16
}

// NewTable constructs an empty attribute table.
func NewTable() *Table {
	return &Table{
		attrs:         make(map[uint16]*attr),
		subscriptions: make(map[connmgr.ConnHandle]map[uint16]uint16),
	}
}

// AddCharacteristic registers a characteristic value (and optional CCCD)
// handle with an initial value.
func (t *Table) AddCharacteristic(h CharacteristicHandle, initial []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attrs[h.Handle] = &attr{handle: h, value: append([]byte(nil), initial...)}
}

// WriteEvent describes an inbound ATT write the GATT adapter surfaces to
// the application as a GattEvent (§4.D).
type WriteEvent struct {
	Handle uint16
	Value  []byte
}

// Process handles one non-ExchangeMtu ATT request (§4.D): Read/Write of a
// characteristic value, or a CCCD write to (un)subscribe. It writes a
// response body (opcode included) into the returned slice, or returns nil
// when no response should be sent (write-without-response).
func (t *Table) Process(conn connmgr.ConnHandle, opcode uint8, body []byte) ([]byte, *WriteEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch opcode {
	case OpReadReq:
		if len(body) < 2 {
			return ErrorResp(opcode, 0, EcodeInvalidPDU), nil, nil
		}
		handle := binary.LittleEndian.Uint16(body[0:2])
		a, ok := t.attrs[handle]
		if !ok {
			return ErrorResp(opcode, handle, EcodeInvalidHandle), nil, nil
		}
		resp := append([]byte{OpReadResp}, a.value...)
		return resp, nil, nil

	case OpWriteReq, OpWriteCmd:
		if len(body) < 2 {
			if opcode == OpWriteCmd {
				return nil, nil, nil
			}
			return ErrorResp(opcode, 0, EcodeInvalidPDU), nil, nil
		}
		handle := binary.LittleEndian.Uint16(body[0:2])
		value := append([]byte(nil), body[2:]...)

		for _, a := range t.attrs {
			if a.handle.HasCCCD && a.handle.CCCDHandle == handle {
				if len(value) < 2 {
					if opcode == OpWriteCmd {
						return nil, nil, nil
					}
					return ErrorResp(opcode, handle, EcodeInvalAttrValueLen), nil, nil
				}
				bits := binary.LittleEndian.Uint16(value[0:2])
				t.setSubscriptionLocked(conn, handle, bits)
				if opcode == OpWriteCmd {
					return nil, nil, nil
				}
				return []byte{OpWriteResp}, nil, nil
			}
		}

		a, ok := t.attrs[handle]
		if !ok {
			if opcode == OpWriteCmd {
				return nil, nil, nil
			}
			return ErrorResp(opcode, handle, EcodeInvalidHandle), nil, nil
		}
		a.value = value
		evt := &WriteEvent{Handle: handle, Value: value}
		if opcode == OpWriteCmd {
			return nil, evt, nil
		}
		return []byte{OpWriteResp}, evt, nil

	default:
		return ErrorResp(opcode, 0, EcodeReqNotSupp), nil, nil
	}
}

func (t *Table) setSubscriptionLocked(conn connmgr.ConnHandle, cccdHandle uint16, bits uint16) {
	m, ok := t.subscriptions[conn]
	if !ok {
		m = make(map[uint16]uint16)
		t.subscriptions[conn] = m
	}
	m[cccdHandle] = bits
}

// ShouldNotify reports whether conn has subscribed to notifications via
// cccdHandle.
func (t *Table) ShouldNotify(conn connmgr.ConnHandle, cccdHandle uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.subscriptions[conn]
	if !ok {
		return false
	}
	return m[cccdHandle]&cccdNotify != 0
}

// SetValue writes value into the characteristic identified by h, without
// generating a WriteEvent (used by the application side of notify, §4.D).
func (t *Table) SetValue(h CharacteristicHandle, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.attrs[h.Handle]
	if !ok {
		return ErrUnknownHandle
	}
	a.value = append([]byte(nil), value...)
	return nil
}
