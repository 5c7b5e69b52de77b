package l2cap

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/host/internal/connmgr"
	"github.com/go-ble/host/internal/pool"
)

// Errors surfaced by the channel manager (§7, Resource exhaustion /
// Protocol violation).
var (
	ErrNoChannelSlot = errors.New("l2cap: no free channel slot")
	ErrUnknownSPSM   = errors.New("l2cap: unregistered spsm")
	ErrNotConnected   = errors.New("l2cap: channel not connected")
	ErrCreditOverflow = errors.New("l2cap: credit overflow")
	ErrPoolExhausted  = errors.New("l2cap: packet pool exhausted")
)

type chanState int

const (
	chanDisconnected chanState = iota
	chanConnecting
	chanConnected
	chanDisconnecting
)

// Channel is one connection-oriented L2CAP channel (§3, L2capChannel).
type Channel struct {
	mgr *Manager

	mu           sync.Mutex
	slot         int
	state        chanState
	localCID     uint16
	remoteCID    uint16
	peerMTU      uint16
	peerMPS      uint16
	localCredits uint16 // credits we've granted our peer to send us K-frames
	peerCredits  uint16 // credits our peer has granted us to send it K-frames
	conn         connmgr.ConnHandle
	allocID      pool.AllocId
	spsm         uint16
	ident        uint8 // identifier of our outstanding outbound request, if any

	rx       chan pool.Pdu
	ready    chan error // sent to once an outbound Connecting channel resolves
}

// LocalCID returns the channel's local CID.
func (c *Channel) LocalCID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localCID
}

// ConnHandle returns the LE connection this channel is bound to.
func (c *Channel) ConnHandle() connmgr.ConnHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Receive blocks until a reassembled K-frame is available or ctx is done.
func (c *Channel) Receive(ctx context.Context) (pool.Pdu, error) {
	select {
	case pdu := <-c.rx:
		return pdu, nil
	case <-ctx.Done():
		return pool.Pdu{}, ctx.Err()
	}
}

// Send enqueues payload as an outbound K-frame addressed to this channel's
// peer CID. Fragmentation to the controller's ACL data length happens in
// the host event loop, not here; Send only frames the K-frame length
// prefix used by L2CAP itself (distinct from the ACL fragmentation
// boundary flag).
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	if c.state != chanConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	remoteCID := c.remoteCID
	allocID := c.allocID
	c.mu.Unlock()

	p, ok := c.mgr.pool.Alloc(allocID)
	if !ok {
		return ErrPoolExhausted
	}
	frame := EncodeL2CAP(remoteCID, payload)
	copy(p.Bytes(), frame)
	pdu := pool.Pdu{Packet: p, Len: len(frame), Boundary: pool.FirstNonFlushable}
	select {
	case c.mgr.outboundData <- ConnPdu{Conn: conn, Pdu: pdu}:
		return nil
	case <-ctx.Done():
		pdu.Release()
		return ctx.Err()
	}
}

// ConnPdu pairs a Pdu with the connection it belongs to; this is the
// payload of the shared outbound-data queue consumed by the event loop
// (§4.E item 2) and produced by both the ATT adapter and L2CAP channels.
type ConnPdu struct {
	Conn connmgr.ConnHandle
	Pdu  pool.Pdu
}

// OutboundSignal pairs an LE signalling PDU with its destination
// connection; produced by the channel manager, consumed by the event loop
// (§4.E item 4).
type OutboundSignal struct {
	Conn   connmgr.ConnHandle
	Signal Signal
}

// Manager is the fixed-capacity L2CAP channel table plus LE credit-based
// flow-control signalling state machine (§4.C).
type Manager struct {
	mu       sync.Mutex
	channels []*Channel

	pool         *pool.Pool
	connections  *connmgr.Manager
	outboundData chan<- ConnPdu
	outboundSig  chan OutboundSignal // small buffer; see NewManager

	initialCredits uint16
	lowWater       uint16
	localMTU       uint16
	localMPS       uint16

	spsmAccept map[uint16]chan *Channel
	nextIdent  uint8
}

// NewManager constructs a channel manager with capacity channels, backed by
// p for inbound reassembly buffers. outboundData is the shared (conn, Pdu)
// queue the event loop drains for both ATT and dynamic-channel traffic.
// localMTU/localMPS are this host's own receive capability for dynamic
// channels, bounded by the inbound reassembly buffer (p.MTU()); they are
// what a LE Credit Based Connection Response advertises, never the peer's
// requested numbers (§4.C).
func NewManager(channels int, p *pool.Pool, connections *connmgr.Manager, outboundData chan<- ConnPdu, initialCredits, lowWater uint16, localMTU, localMPS uint16) *Manager {
	if int(localMTU) > p.MTU() || localMTU == 0 {
		localMTU = uint16(p.MTU())
	}
	if localMPS == 0 || int(localMPS) > p.MTU() {
		localMPS = uint16(p.MTU())
	}
	return &Manager{
		channels:       make([]*Channel, channels),
		pool:           p,
		connections:    connections,
		outboundData:   outboundData,
		// §5 calls for "a single-slot outbound signal channel" fed by
		// the channel manager and drained by the same cooperative
		// task that calls into Control(); a literal 1-slot buffer
		// would deadlock the one occasional case where a single
		// Control() call needs to emit two signals back to back
		// (credit overflow: reject, then disconnect). 4 keeps the
		// bounded-queue backpressure semantics while giving that case
		// headroom.
		outboundSig:    make(chan OutboundSignal, 4),
		initialCredits: initialCredits,
		lowWater:       lowWater,
		localMTU:       localMTU,
		localMPS:       localMPS,
		spsmAccept:     make(map[uint16]chan *Channel),
	}
}

// OutboundSignals returns the channel the event loop selects on to pick up
// outgoing LE signalling PDUs (§4.E item 4).
func (m *Manager) OutboundSignals() <-chan OutboundSignal {
	return m.outboundSig
}

// Listen registers spsm as acceptable for inbound LE Credit Based
// Connection Requests. Accepted channels are delivered on the returned
// channel.
func (m *Manager) Listen(spsm uint16) <-chan *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan *Channel, 1)
	m.spsmAccept[spsm] = ch
	return ch
}

func (m *Manager) allocSlotLocked() (int, bool) {
	for i, c := range m.channels {
		if c == nil {
			return i, true
		}
	}
	return 0, false
}

// Control dispatches one inbound LE signalling PDU (§4.C). It never blocks
// on the network; it may block briefly sending onto the bounded (4-slot)
// outbound signal queue when that queue is full.
func (m *Manager) Control(conn connmgr.ConnHandle, sig Signal) error {
	switch sig.Code {
	case SigLECreditConnRequest:
		return m.handleConnReq(conn, sig)
	case SigLECreditConnResponse:
		return m.handleConnResp(conn, sig)
	case SigLEFlowControlCreditInd:
		return m.handleCreditInd(conn, sig)
	case SigDisconnectRequest:
		return m.handleDiscReq(conn, sig)
	case SigDisconnectResponse:
		return m.handleDiscResp(conn, sig)
	default:
		m.sendSignal(conn, Signal{Code: SigCommandReject, Identifier: sig.Identifier, Reject: &CommandReject{Reason: 0}})
		return nil
	}
}

func (m *Manager) sendSignal(conn connmgr.ConnHandle, sig Signal) {
	m.outboundSig <- OutboundSignal{Conn: conn, Signal: sig}
}

func (m *Manager) handleConnReq(conn connmgr.ConnHandle, sig Signal) error {
	req := sig.ConnReq
	m.mu.Lock()
	accept, known := m.spsmAccept[req.SPSM]
	if !known {
		m.mu.Unlock()
		m.sendSignal(conn, Signal{
			Code: SigLECreditConnResponse, Identifier: sig.Identifier,
			ConnResp: &CreditConnResp{Status: StatusBadPSM},
		})
		return nil
	}
	idx, ok := m.allocSlotLocked()
	if !ok {
		m.mu.Unlock()
		m.sendSignal(conn, Signal{
			Code: SigLECreditConnResponse, Identifier: sig.Identifier,
			ConnResp: &CreditConnResp{Status: StatusNoResources},
		})
		return nil
	}
	localCID := uint16(CIDDynStart + idx)
	c := &Channel{
		mgr: m, slot: idx, state: chanConnected,
		localCID: localCID, remoteCID: req.SCID,
		peerMTU: req.MTU, peerMPS: req.MPS,
		localCredits: m.initialCredits, peerCredits: req.Credits,
		conn: conn, allocID: pool.DynamicID(idx),
		spsm: req.SPSM,
		rx:   make(chan pool.Pdu, 8),
	}
	m.channels[idx] = c
	m.mu.Unlock()

	m.sendSignal(conn, Signal{
		Code: SigLECreditConnResponse, Identifier: sig.Identifier,
		ConnResp: &CreditConnResp{
			DCID: localCID, MTU: m.localMTU, MPS: m.localMPS,
			Credits: m.initialCredits, Status: StatusSuccess,
		},
	})

	select {
	case accept <- c:
	default:
	}
	return nil
}

func (m *Manager) findConnectingByIdent(conn connmgr.ConnHandle, ident uint8) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if c == nil {
			continue
		}
		c.mu.Lock()
		match := c.state == chanConnecting && c.conn == conn && c.ident == ident
		c.mu.Unlock()
		if match {
			return c
		}
	}
	return nil
}

func (m *Manager) handleConnResp(conn connmgr.ConnHandle, sig Signal) error {
	c := m.findConnectingByIdent(conn, sig.Identifier)
	if c == nil {
		return nil
	}
	resp := sig.ConnResp
	c.mu.Lock()
	defer c.mu.Unlock()
	if resp.Status != StatusSuccess {
		m.freeSlot(c.slot)
		c.state = chanDisconnected
		if c.ready != nil {
			c.ready <- errors.New("l2cap: connection request refused")
		}
		return nil
	}
	c.remoteCID = resp.DCID
	c.peerMTU = resp.MTU
	c.peerMPS = resp.MPS
	c.peerCredits = resp.Credits
	c.state = chanConnected
	if c.ready != nil {
		c.ready <- nil
	}
	return nil
}

func (m *Manager) handleCreditInd(conn connmgr.ConnHandle, sig Signal) error {
	ind := sig.CreditInd
	c := m.findByLocalCID(conn, ind.CID)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	newTotal := uint32(c.peerCredits) + uint32(ind.Credits)
	if newTotal > 65535 {
		c.mu.Unlock()
		m.sendSignal(conn, Signal{Code: SigCommandReject, Identifier: sig.Identifier, Reject: &CommandReject{Reason: 0}})
		m.disconnectChannel(c)
		return ErrCreditOverflow
	}
	c.peerCredits = uint16(newTotal)
	c.mu.Unlock()
	return nil
}

func (m *Manager) findByLocalCID(conn connmgr.ConnHandle, cid uint16) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.channels {
		if c == nil {
			continue
		}
		c.mu.Lock()
		match := c.conn == conn && c.localCID == cid
		c.mu.Unlock()
		if match {
			return c
		}
	}
	return nil
}

func (m *Manager) handleDiscReq(conn connmgr.ConnHandle, sig Signal) error {
	req := sig.DiscReq
	c := m.findByLocalCID(conn, req.DCID)
	if c != nil {
		m.freeSlot(c.slot)
	}
	m.sendSignal(conn, Signal{
		Code: SigDisconnectResponse, Identifier: sig.Identifier,
		DiscResp: &DisconnectResp{DCID: req.DCID, SCID: req.SCID},
	})
	return nil
}

func (m *Manager) handleDiscResp(conn connmgr.ConnHandle, sig Signal) error {
	resp := sig.DiscResp
	c := m.findByLocalCID(conn, resp.SCID)
	if c != nil {
		m.freeSlot(c.slot)
	}
	return nil
}

func (m *Manager) disconnectChannel(c *Channel) {
	c.mu.Lock()
	conn, localCID, remoteCID := c.conn, c.localCID, c.remoteCID
	c.mu.Unlock()
	m.freeSlot(c.slot)
	m.nextIdent++
	m.sendSignal(conn, Signal{
		Code: SigDisconnectRequest, Identifier: m.nextIdent,
		DiscReq: &DisconnectReq{DCID: remoteCID, SCID: localCID},
	})
}

func (m *Manager) freeSlot(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < 0 || idx >= len(m.channels) || m.channels[idx] == nil {
		return
	}
	m.channels[idx] = nil
}

// ReclaimConnection frees every channel slot bound to handle, e.g. on
// DisconnectionComplete (§4.E item 1).
func (m *Manager) ReclaimConnection(handle connmgr.ConnHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.channels {
		if c == nil {
			continue
		}
		c.mu.Lock()
		match := c.conn == handle
		c.mu.Unlock()
		if match {
			m.channels[i] = nil
		}
	}
}

// Dispatch handles one inbound ACL payload addressed to a dynamic CID
// (§4.C Data path): it copies the already reassembled payload into a pool
// buffer, enqueues the Pdu to the channel's receive queue, and accounts
// local credits, emitting a Flow Control Credit Ind that restores them to
// the initial count when they drop to or below the low-water mark.
func (m *Manager) Dispatch(conn connmgr.ConnHandle, pkt Packet) error {
	c := m.findByLocalCID(conn, pkt.CID)
	if c == nil {
		return nil // channel gone; drop silently
	}

	c.mu.Lock()
	if c.localCredits == 0 {
		c.mu.Unlock()
		// No credit was available for this frame: drop it. The peer
		// violated flow control; back-pressure, no credit restored.
		return nil
	}
	c.localCredits--
	allocID := c.allocID
	low := c.localCredits <= m.lowWater
	localCID := c.localCID
	c.mu.Unlock()

	p, ok := m.pool.Alloc(allocID)
	if !ok {
		// Resource exhaustion: drop the frame, no credit returned.
		return nil
	}
	n := copy(p.Bytes(), pkt.Payload)
	pdu := pool.Pdu{Packet: p, Len: n, Boundary: pool.FirstNonFlushable}

	select {
	case c.rx <- pdu:
	default:
		pdu.Release()
		return nil
	}

	if low {
		c.mu.Lock()
		restore := m.initialCredits - c.localCredits
		c.localCredits = m.initialCredits
		c.mu.Unlock()
		m.sendSignal(conn, Signal{
			Code: SigLEFlowControlCreditInd, Identifier: 0,
			CreditInd: &FlowControlCreditInd{CID: localCID, Credits: restore},
		})
	}
	return nil
}

// Connect initiates an outbound LE credit-based channel to spsm over conn,
// blocking until the peer responds or ctx is done.
func (m *Manager) Connect(ctx context.Context, conn connmgr.ConnHandle, spsm, mtu, mps uint16) (*Channel, error) {
	m.mu.Lock()
	idx, ok := m.allocSlotLocked()
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoChannelSlot
	}
	m.nextIdent++
	ident := m.nextIdent
	localCID := uint16(CIDDynStart + idx)
	c := &Channel{
		mgr: m, slot: idx, state: chanConnecting,
		localCID: localCID, peerMTU: mtu, peerMPS: mps,
		localCredits: m.initialCredits,
		conn:         conn, allocID: pool.DynamicID(idx), spsm: spsm,
		ident: ident,
		rx:    make(chan pool.Pdu, 8),
		ready: make(chan error, 1),
	}
	m.channels[idx] = c
	m.mu.Unlock()

	m.sendSignal(conn, Signal{
		Code: SigLECreditConnRequest, Identifier: ident,
		ConnReq: &CreditConnReq{SPSM: spsm, SCID: localCID, MTU: mtu, MPS: mps, Credits: m.initialCredits},
	})

	select {
	case err := <-c.ready:
		if err != nil {
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		m.freeSlot(idx)
		return nil, ctx.Err()
	}
}
