package att

import (
	"context"
	"errors"

	"github.com/go-ble/host/internal/connmgr"
	"github.com/go-ble/host/internal/l2cap"
	"github.com/go-ble/host/internal/pool"
)

// ErrNotImplemented is returned by the skeletal GATT client surface (§4.D,
// §9 Open questions: "the GATT client is a stub").
var ErrNotImplemented = errors.New("att: not implemented")

// AttributeServer is the external attribute database collaborator (§1)
// the GATT adapter delegates non-ExchangeMtu requests to. *Table
// implements it.
type AttributeServer interface {
	Process(conn connmgr.ConnHandle, opcode uint8, body []byte) ([]byte, *WriteEvent, error)
	ShouldNotify(conn connmgr.ConnHandle, cccdHandle uint16) bool
	SetValue(h CharacteristicHandle, value []byte) error
}

// GattEvent is a higher-level event the GATT server surfaces to the
// application (§4.D).
type GattEvent struct {
	Conn   connmgr.ConnHandle
	Handle uint16
	Value  []byte
}

// Server is the stateless ATT PDU framing layer between the attribute
// database and L2CAP CID 0x0004 (§4.D).
type Server struct {
	rx          <-chan l2cap.ConnPdu
	tx          chan<- l2cap.ConnPdu
	pool        *pool.Pool
	poolID      pool.AllocId
	connections *connmgr.Manager
	table       AttributeServer
}

// NewServer constructs the ATT/GATT adapter. rx is the ATT inbound queue
// the event loop feeds (§4.E item 1, CID 0x0004); tx is the shared
// outbound data queue (§4.E item 2).
func NewServer(rx <-chan l2cap.ConnPdu, tx chan<- l2cap.ConnPdu, p *pool.Pool, connections *connmgr.Manager, table AttributeServer) *Server {
	return &Server{rx: rx, tx: tx, pool: p, poolID: pool.AttID, connections: connections, table: table}
}

// Next receives the next inbound ATT PDU, handles it, and returns once a
// write worth surfacing to the application has occurred. MTU exchange and
// reads/notifications-only writes are handled internally and looped past
// (§4.D).
func (s *Server) Next(ctx context.Context) (GattEvent, error) {
	for {
		select {
		case cp, ok := <-s.rx:
			if !ok {
				return GattEvent{}, errors.New("att: inbound queue closed")
			}
			evt, handled, err := s.handle(cp)
			cp.Pdu.Release()
			if err != nil {
				continue // codec/resource error: drop this PDU and continue (§7)
			}
			if handled {
				return evt, nil
			}
		case <-ctx.Done():
			return GattEvent{}, ctx.Err()
		}
	}
}

func (s *Server) handle(cp l2cap.ConnPdu) (GattEvent, bool, error) {
	body := cp.Pdu.Bytes()
	if len(body) < 1 {
		return GattEvent{}, false, errors.New("att: empty pdu")
	}
	opcode := body[0]
	req := body[1:]

	if opcode == OpMtuReq {
		if len(req) < 2 {
			return GattEvent{}, false, errors.New("att: malformed exchange mtu")
		}
		peerMTU := uint16(req[0]) | uint16(req[1])<<8
		mtu := s.connections.ExchangeATTMTU(cp.Conn, peerMTU)
		resp := []byte{OpMtuResp, byte(mtu), byte(mtu >> 8)}
		return GattEvent{}, false, s.send(cp.Conn, resp)
	}

	resp, writeEvt, err := s.table.Process(cp.Conn, opcode, req)
	if err != nil {
		return GattEvent{}, false, err
	}
	if resp != nil {
		mtu := int(s.connections.GetATTMTU(cp.Conn))
		if len(resp) > mtu {
			resp = resp[:mtu]
		}
		if err := s.send(cp.Conn, resp); err != nil {
			return GattEvent{}, false, err
		}
	}
	if writeEvt != nil {
		return GattEvent{Conn: cp.Conn, Handle: writeEvt.Handle, Value: writeEvt.Value}, true, nil
	}
	return GattEvent{}, false, nil
}

func (s *Server) send(conn connmgr.ConnHandle, body []byte) error {
	p, ok := s.pool.Alloc(s.poolID)
	if !ok {
		return errors.New("att: packet pool exhausted")
	}
	frame := l2cap.EncodeL2CAP(l2cap.CIDATT, body)
	n := copy(p.Bytes(), frame)
	pdu := pool.Pdu{Packet: p, Len: n, Boundary: pool.FirstNonFlushable}
	s.tx <- l2cap.ConnPdu{Conn: conn, Pdu: pdu}
	return nil
}

// Notify writes value into the characteristic at h and, if the connection
// has subscribed via its CCCD, sends a Handle Value Notification (§4.D).
// An error is returned if the characteristic has no CCCD at all; an
// unsubscribed connection is silently a no-op.
func (s *Server) Notify(conn connmgr.ConnHandle, h CharacteristicHandle, value []byte) error {
	if err := s.table.SetValue(h, value); err != nil {
		return err
	}
	if !h.HasCCCD {
		return ErrNoCCCD
	}
	if !s.table.ShouldNotify(conn, h.CCCDHandle) {
		return nil
	}
	if max := int(s.connections.GetATTMTU(conn)) - 3; len(value) > max {
		value = value[:max]
	}
	body := make([]byte, 3+len(value))
	body[0] = OpHandleNotify
	body[1] = byte(h.Handle)
	body[2] = byte(h.Handle >> 8)
	copy(body[3:], value)
	return s.send(conn, body)
}
