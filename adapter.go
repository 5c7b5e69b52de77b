package host

import (
	"context"
	"sync"

	"github.com/go-ble/host/internal/att"
	"github.com/go-ble/host/internal/connmgr"
	"github.com/go-ble/host/internal/hci"
	"github.com/go-ble/host/internal/l2cap"
	"github.com/go-ble/host/internal/pool"
)

// Adapter is the host side of the HCI link: one goroutine's worth of
// cooperatively scheduled state covering connection/channel bookkeeping,
// ACL reassembly/fragmentation and ATT framing (§4.E). It owns the Driver
// exclusively; Run must not be called from more than one goroutine, and no
// other method may touch the Driver directly.
//
// This is the Go translation of host/src/adapter.rs's Adapter::run select4
// loop: reads from the controller, the shared outbound data queue, the
// control command queue and the outbound L2CAP signalling queue are all
// select arms of one loop instead of four statically scheduled embassy
// tasks, because a goroutine can multiplex channels directly.
type Adapter struct {
	driver hci.Driver

	pool        *pool.Pool
	connections *connmgr.Manager
	channels    *l2cap.Manager
	gatt        *att.Server
	table       *att.Table
	reasm       *l2cap.Reassembler

	outboundData chan l2cap.ConnPdu
	attRx        chan l2cap.ConnPdu
	control      chan controlCommand
	scans        chan Advertisement

	aclMTU int

	mu          sync.Mutex
	scanning    bool
	advertising bool
}

// NewAdapter constructs a host bound to driver, using the buffers in
// cfg.Resources and the table sizes in cfg.
func NewAdapter(driver hci.Driver, cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	p := cfg.Resources.pool

	connections := connmgr.New(cfg.Connections, cfg.LocalATTMTU)
	outboundData := make(chan l2cap.ConnPdu, cfg.Channels+1)
	channels := l2cap.NewManager(cfg.Channels, p, connections, outboundData, cfg.L2CAPInitialCredits, cfg.L2CAPLowWater, cfg.L2CAPLocalMTU, cfg.L2CAPLocalMPS)

	attRx := make(chan l2cap.ConnPdu, 8)
	table := att.NewTable()
	gatt := att.NewServer(attRx, outboundData, p, connections, table)

	return &Adapter{
		driver:       driver,
		pool:         p,
		connections:  connections,
		channels:     channels,
		gatt:         gatt,
		table:        table,
		reasm:        l2cap.NewReassembler(),
		outboundData: outboundData,
		attRx:        attRx,
		control:      make(chan controlCommand),
		scans:        make(chan Advertisement, 1),
		aclMTU:       p.MTU(),
	}
}

// GATT returns the ATT/GATT server adapter bound to this host.
func (a *Adapter) GATT() *att.Server { return a.gatt }

// Table returns the attribute database backing the GATT server.
func (a *Adapter) Table() *att.Table { return a.table }

// Accept blocks for the next link to reach the Connected state, whether it
// was initiated locally (Connect) or by a peer (§4.B).
func (a *Adapter) Accept(ctx context.Context) (connmgr.ConnHandle, error) {
	return a.connections.Accept(ctx)
}

// Listen registers spsm as acceptable for inbound LE Credit Based
// Connection Requests (§4.C).
func (a *Adapter) Listen(spsm uint16) <-chan *l2cap.Channel {
	return a.channels.Listen(spsm)
}

// DialL2CAP opens an outbound connection-oriented channel to spsm over an
// already-Connected link (§4.C).
func (a *Adapter) DialL2CAP(ctx context.Context, conn connmgr.ConnHandle, spsm, mtu, mps uint16) (*l2cap.Channel, error) {
	return a.channels.Connect(ctx, conn, spsm, mtu, mps)
}

// Advertisements returns the single-slot scanner report queue (§4.E item 1,
// LE Advertising Report). A caller that doesn't drain it promptly only
// ever sees the most recent report, matching the "single-slot" scanner
// queue design rather than an unbounded backlog.
func (a *Adapter) Advertisements() <-chan Advertisement { return a.scans }

// controlCommand is the single shape every control-plane operation takes:
// a closure with exclusive access to the Driver, executed by Run's
// goroutine, and a reply carrying its result back to the caller. This
// generalizes the two named control commands the source this spec was
// distilled from has (Connect, Disconnect) to cover advertising and
// scanning too, without inventing a fourth select arm per operation.
type controlCommand struct {
	run   func(ctx context.Context, d hci.Driver) error
	reply chan error
}

func (a *Adapter) dispatchControl(ctx context.Context, run func(context.Context, hci.Driver) error) error {
	cmd := controlCommand{run: run, reply: make(chan error, 1)}
	select {
	case a.control <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect issues HCI_LE_Create_Connection for addr (§4.B, supplemented
// ControlCommand::Connect). Establishment completes asynchronously; the
// caller learns the resulting handle from Accept, the same as an inbound
// connection. If a scan is active it is disabled first, since the
// controller forbids LE_Create_Connection while scanning.
func (a *Adapter) Connect(ctx context.Context, addr [6]byte, addrType uint8) error {
	return a.dispatchControl(ctx, func(ctx context.Context, d hci.Driver) error {
		a.mu.Lock()
		scanning := a.scanning
		a.scanning = false
		a.mu.Unlock()
		if scanning {
			if err := d.ExecAsync(ctx, hci.LeSetScanEnable{Enable: false}); err != nil {
				return err
			}
		}
		return d.ExecAsync(ctx, hci.LeCreateConn{
			ScanInterval:       0x0010,
			ScanWindow:         0x0010,
			PeerAddrType:       addrType,
			PeerAddr:           addr,
			ConnIntervalMin:    0x0018,
			ConnIntervalMax:    0x0028,
			SupervisionTimeout: 0x002a,
		})
	})
}

// Disconnect tears down handle (§4.B).
func (a *Adapter) Disconnect(ctx context.Context, handle connmgr.ConnHandle) error {
	return a.dispatchControl(ctx, func(ctx context.Context, d hci.Driver) error {
		return d.ExecAsync(ctx, hci.Disconnect{Handle: uint16(handle), Reason: hci.ReasonRemoteUserTerminated})
	})
}

// Advertise starts legacy LE advertising under cfg (§5 supplemented
// feature).
func (a *Adapter) Advertise(ctx context.Context, cfg AdvertiseConfig) error {
	return a.dispatchControl(ctx, func(ctx context.Context, d hci.Driver) error {
		for _, cmd := range cfg.advertiseCommands() {
			if _, err := d.ExecSync(ctx, cmd); err != nil {
				return err
			}
		}
		a.mu.Lock()
		a.advertising = true
		a.mu.Unlock()
		return nil
	})
}

// StopAdvertise disables advertising.
func (a *Adapter) StopAdvertise(ctx context.Context) error {
	return a.dispatchControl(ctx, func(ctx context.Context, d hci.Driver) error {
		if _, err := d.ExecSync(ctx, stopAdvertiseCommand()); err != nil {
			return err
		}
		a.mu.Lock()
		a.advertising = false
		a.mu.Unlock()
		return nil
	})
}

// Scan starts LE scanning under cfg; results surface via Advertisements.
func (a *Adapter) Scan(ctx context.Context, cfg ScanConfig) error {
	return a.dispatchControl(ctx, func(ctx context.Context, d hci.Driver) error {
		for _, cmd := range cfg.scanCommands() {
			if _, err := d.ExecSync(ctx, cmd); err != nil {
				return err
			}
		}
		a.mu.Lock()
		a.scanning = true
		a.mu.Unlock()
		return nil
	})
}

// StopScan disables scanning.
func (a *Adapter) StopScan(ctx context.Context) error {
	return a.dispatchControl(ctx, func(ctx context.Context, d hci.Driver) error {
		if _, err := d.ExecSync(ctx, stopScanCommand()); err != nil {
			return err
		}
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		return nil
	})
}

// inboundPacket is one raw packet handed from the Driver-reading goroutine
// to Run's select loop.
type inboundPacket struct {
	kind hci.PacketKind
	data []byte
	err  error
}

// Run starts the host: issues the startup event mask, then services the
// controller link until ctx is done or the Driver fails (§4.E). It owns
// the Driver for its entire lifetime and must be run from exactly one
// goroutine.
func (a *Adapter) Run(ctx context.Context) error {
	if _, err := a.driver.ExecSync(ctx, startupEventMask()); err != nil {
		return err
	}

	packets := make(chan inboundPacket, 16)
	go a.readLoop(ctx, packets)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pkt := <-packets:
			if pkt.err != nil {
				return pkt.err
			}
			a.handleInbound(pkt.kind, pkt.data)

		case cp := <-a.outboundData:
			a.writeData(ctx, cp)

		case cmd := <-a.control:
			cmd.reply <- cmd.run(ctx, a.driver)

		case sig := <-a.channels.OutboundSignals():
			a.writeSignal(ctx, sig)
		}
	}
}

func (a *Adapter) readLoop(ctx context.Context, out chan<- inboundPacket) {
	for {
		kind, data, err := a.driver.Read(ctx)
		select {
		case out <- inboundPacket{kind: kind, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// writeData fragments one outbound Pdu across the controller's ACL MTU and
// writes each fragment, then releases the Pdu back to the pool (§4.C
// Fragmentation design, outbound direction).
func (a *Adapter) writeData(ctx context.Context, cp l2cap.ConnPdu) {
	defer cp.Pdu.Release()
	frags := l2cap.Fragment(cp.Pdu.Bytes(), a.aclMTU)
	for i, frag := range frags {
		boundary := pool.Continuing
		if i == 0 {
			boundary = pool.FirstNonFlushable
		}
		header := l2cap.EncodeACLHeader(uint16(cp.Conn), boundary, len(frag))
		if err := a.driver.Write(ctx, hci.PacketACLData, append(header, frag...)); err != nil {
			a.logDrop(KindTransport, "host: acl write failed", err)
			return
		}
	}
}

// writeSignal frames and writes one outbound LE signalling PDU on CID
// 0x0005.
func (a *Adapter) writeSignal(ctx context.Context, sig l2cap.OutboundSignal) {
	frame := l2cap.EncodeL2CAP(l2cap.CIDLESignal, sig.Signal.Encode())
	frags := l2cap.Fragment(frame, a.aclMTU)
	for i, frag := range frags {
		boundary := pool.Continuing
		if i == 0 {
			boundary = pool.FirstNonFlushable
		}
		header := l2cap.EncodeACLHeader(uint16(sig.Conn), boundary, len(frag))
		if err := a.driver.Write(ctx, hci.PacketACLData, append(header, frag...)); err != nil {
			a.logDrop(KindTransport, "host: signalling write failed", err)
			return
		}
	}
}

func (a *Adapter) handleInbound(kind hci.PacketKind, data []byte) {
	switch kind {
	case hci.PacketACLData:
		a.handleACL(data)
	case hci.PacketEvent:
		a.handleEvent(data)
	default:
		log.WithField("kind", kind).Debug("host: discarding unhandled packet kind")
	}
}

// logDrop logs a dropped PDU under its error Kind (§7: every failure mode
// is one of Codec, Resource exhaustion, Protocol violation, Transport or
// Application; logging it this way keeps that taxonomy visible instead of
// flattening every failure to an opaque string).
func (a *Adapter) logDrop(kind Kind, context string, err error) {
	log.WithError(newError(kind, err)).WithField("kind", kind).Debug(context)
}

func (a *Adapter) handleACL(data []byte) {
	hdr, err := l2cap.DecodeACLHeader(data)
	if err != nil {
		a.logDrop(KindCodec, "host: malformed acl header", err)
		return
	}
	frame, ok, err := a.reasm.Feed(hdr.Handle, hdr.Boundary, data[4:])
	if err != nil {
		a.logDrop(KindCodec, "host: acl reassembly error", err)
		return
	}
	if !ok {
		return
	}
	pkt, err := l2cap.DecodeL2CAP(frame)
	if err != nil {
		a.logDrop(KindCodec, "host: malformed l2cap frame", err)
		return
	}
	conn := connmgr.ConnHandle(hdr.Handle)

	switch {
	case pkt.CID == l2cap.CIDATT:
		a.deliverATT(conn, pkt.Payload)
	case pkt.CID == l2cap.CIDLESignal:
		sig, err := l2cap.DecodeSignal(pkt.Payload)
		if err != nil {
			a.logDrop(KindCodec, "host: malformed l2cap signal", err)
			return
		}
		if err := a.channels.Control(conn, sig); err != nil {
			a.logDrop(KindProtocolViolation, "host: l2cap control error", err)
		}
	case pkt.CID >= l2cap.CIDDynStart:
		if err := a.channels.Dispatch(conn, pkt); err != nil {
			a.logDrop(KindProtocolViolation, "host: l2cap dispatch error", err)
		}
	default:
		log.WithField("cid", pkt.CID).Debug("host: unrecognized cid")
	}
}

func (a *Adapter) deliverATT(conn connmgr.ConnHandle, payload []byte) {
	p, ok := a.pool.Alloc(pool.AttID)
	if !ok {
		a.logDrop(KindResourceExhaustion, "host: att inbound dropped", ErrPoolExhausted)
		return
	}
	n := copy(p.Bytes(), payload)
	pdu := pool.Pdu{Packet: p, Len: n, Boundary: pool.FirstNonFlushable}
	select {
	case a.attRx <- l2cap.ConnPdu{Conn: conn, Pdu: pdu}:
	default:
		pdu.Release()
		a.logDrop(KindResourceExhaustion, "host: att inbound queue full", ErrPoolExhausted)
	}
}

func (a *Adapter) handleEvent(data []byte) {
	if len(data) < 2 {
		return
	}
	code := hci.EventCode(data[0])
	body := data[2:]

	switch code {
	case hci.EventDisconnectionComplete:
		ev, err := hci.DecodeDisconnectionComplete(body)
		if err != nil {
			log.WithError(err).Debug("host: malformed disconnection complete")
			return
		}
		handle := connmgr.ConnHandle(ev.Handle)
		a.connections.Disconnect(handle)
		a.channels.ReclaimConnection(handle)

	case hci.EventLEMeta:
		if len(body) < 1 {
			return
		}
		a.handleLEMeta(hci.LEEventCode(body[0]), body[1:])

	case hci.EventNumberOfCompletedPkts:
		if _, err := hci.DecodeNumberOfCompletedPackets(body); err != nil {
			log.WithError(err).Debug("host: malformed number of completed packets")
		}
		// Controller buffer accounting only; this host fragments to the
		// ACL MTU and relies on the Driver's own write blocking for
		// backpressure, so there is nothing further to do here.

	case hci.EventCommandComplete, hci.EventCommandStatus:
		// ExecSync results are returned to the issuing call by the
		// Driver itself (§6); a Command Complete that also arrives here,
		// and the Command Status an ExecAsync command produces, are
		// ignored.

	default:
		log.WithField("event", code).Debug("host: discarding unhandled event")
	}
}

func (a *Adapter) handleLEMeta(sub hci.LEEventCode, body []byte) {
	switch sub {
	case hci.LEConnectionComplete:
		ev, err := hci.DecodeLEConnectionComplete(body)
		if err != nil {
			log.WithError(err).Debug("host: malformed le connection complete")
			return
		}
		if ev.Status != 0 {
			return
		}
		info := connmgr.Info{
			Handle:   connmgr.ConnHandle(ev.Handle),
			Role:     ev.Role,
			Peer:     ev.PeerAddr,
			PeerAddr: ev.PeerAddrType,
			Interval: ev.Interval,
			Latency:  ev.Latency,
			Timeout:  ev.SupervisionTMO,
		}
		if err := a.connections.Connect(connmgr.ConnHandle(ev.Handle), info); err != nil {
			a.logDrop(KindResourceExhaustion, "host: no free connection slot", err)
		}

	case hci.LEAdvertisingReport:
		ev, err := hci.DecodeLEAdvertisingReport(body)
		if err != nil {
			log.WithError(err).Debug("host: malformed le advertising report")
			return
		}
		report := parseAdvertisement(ev.Data)
		report.Address = ev.Addr
		report.AddressType = ev.AddrType
		report.RSSI = ev.RSSI
		select {
		case a.scans <- report:
		default:
			select {
			case <-a.scans:
			default:
			}
			a.scans <- report
		}

	default:
		log.WithField("subevent", sub).Debug("host: discarding unhandled le meta subevent")
	}
}
