package host

import (
	"context"
	"testing"
	"time"

	"github.com/go-ble/host/internal/att"
	"github.com/go-ble/host/internal/hci"
	"github.com/go-ble/host/internal/l2cap"
	"github.com/go-ble/host/internal/pool"
)

type fakeEvent struct {
	kind hci.PacketKind
	data []byte
}

type fakeDriver struct {
	events chan fakeEvent
	writes chan []byte
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		events: make(chan fakeEvent, 16),
		writes: make(chan []byte, 16),
	}
}

func (d *fakeDriver) Read(ctx context.Context) (hci.PacketKind, []byte, error) {
	select {
	case ev := <-d.events:
		return ev.kind, ev.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (d *fakeDriver) Write(ctx context.Context, kind hci.PacketKind, data []byte) error {
	select {
	case d.writes <- append([]byte(nil), data...):
	default:
	}
	return nil
}

func (d *fakeDriver) ExecSync(ctx context.Context, cmd hci.Command) ([]byte, error) {
	return nil, nil
}

func (d *fakeDriver) ExecAsync(ctx context.Context, cmd hci.Command) error {
	return nil
}

// pushConnectionComplete injects a successful LE_Connection_Complete for
// handle as if the controller had just finished establishing a link.
func (d *fakeDriver) pushConnectionComplete(handle uint16) {
	const paramLen = 1 + 18
	body := make([]byte, 2+paramLen)
	body[0] = byte(hci.EventLEMeta)
	body[1] = paramLen
	sub := body[2:]
	sub[0] = byte(hci.LEConnectionComplete)
	sub[1] = 0
	sub[2] = byte(handle)
	sub[3] = byte(handle >> 8)
	d.events <- fakeEvent{kind: hci.PacketEvent, data: body}
}

// pushATT injects an inbound ATT PDU addressed to handle over CID 0x0004,
// framed as a single unfragmented ACL packet.
func (d *fakeDriver) pushATT(handle uint16, body []byte) {
	frame := l2cap.EncodeL2CAP(l2cap.CIDATT, body)
	header := l2cap.EncodeACLHeader(handle, pool.FirstNonFlushable, len(frame))
	d.events <- fakeEvent{kind: hci.PacketACLData, data: append(header, frame...)}
}

func recvWrite(t *testing.T, d *fakeDriver) []byte {
	t.Helper()
	select {
	case b := <-d.writes:
		return b
	case <-time.After(time.Second):
		t.Fatal("expected an outbound write")
		return nil
	}
}

func TestAdapterConnectAcceptAndATTRoundTrip(t *testing.T) {
	res := NewHostResources(64, 16, 4, QosFair, 0)
	driver := newFakeDriver()
	adapter := NewAdapter(driver, Config{Resources: res})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- adapter.Run(ctx) }()

	count := att.CharacteristicHandle{Handle: 3, CCCDHandle: 4, HasCCCD: true}
	adapter.Table().AddCharacteristic(count, []byte("0"))

	driver.pushConnectionComplete(0x0040)

	acceptCtx, acceptCancel := context.WithTimeout(context.Background(), time.Second)
	defer acceptCancel()
	conn, err := AcceptConnection(acceptCtx, adapter)
	if err != nil {
		t.Fatalf("AcceptConnection: %v", err)
	}
	if conn.Handle() != 0x0040 {
		t.Fatalf("Handle = %#x, want 0x40", conn.Handle())
	}

	// ATT requests are answered from inside GATT().Next, so keep one call
	// running: it answers the read and the CCCD write internally and only
	// returns once the value write arrives.
	evtCtx, evtCancel := context.WithTimeout(context.Background(), time.Second)
	defer evtCancel()
	evtCh := make(chan att.GattEvent, 1)
	errCh := make(chan error, 1)
	go func() {
		evt, err := adapter.GATT().Next(evtCtx)
		evtCh <- evt
		errCh <- err
	}()

	readReq := append([]byte{att.OpReadReq}, byte(3), 0)
	driver.pushATT(0x0040, readReq)
	frame := recvWrite(t, driver)
	hdr, err := l2cap.DecodeACLHeader(frame)
	if err != nil {
		t.Fatalf("DecodeACLHeader: %v", err)
	}
	if hdr.Handle != 0x0040 {
		t.Fatalf("response ACL handle = %#x, want 0x40", hdr.Handle)
	}
	pkt, err := l2cap.DecodeL2CAP(frame[4:])
	if err != nil {
		t.Fatalf("DecodeL2CAP: %v", err)
	}
	if pkt.Payload[0] != att.OpReadResp || string(pkt.Payload[1:]) != "0" {
		t.Fatalf("read resp = %v, want OpReadResp+\"0\"", pkt.Payload)
	}

	subscribe := []byte{att.OpWriteReq, 4, 0, 1, 0}
	driver.pushATT(0x0040, subscribe)
	recvWrite(t, driver) // the WriteResp to the cccd write

	writeBody := append([]byte{att.OpWriteReq, 3, 0}, []byte("7")...)
	driver.pushATT(0x0040, writeBody)

	if err := <-errCh; err != nil {
		t.Fatalf("Next: %v", err)
	}
	evt := <-evtCh
	if evt.Handle != 3 || string(evt.Value) != "7" {
		t.Fatalf("evt = %+v, want Handle=3 Value=7", evt)
	}

	recvWrite(t, driver) // the WriteResp

	if err := adapter.GATT().Notify(conn.Handle(), count, []byte("9")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	frame = recvWrite(t, driver)
	pkt, err = l2cap.DecodeL2CAP(frame[4:])
	if err != nil {
		t.Fatalf("DecodeL2CAP: %v", err)
	}
	if pkt.Payload[0] != att.OpHandleNotify {
		t.Fatalf("opcode = %#x, want OpHandleNotify", pkt.Payload[0])
	}

	cancel()
	if err := <-runErr; err != context.Canceled {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
}

func TestAdapterDisconnectionReclaimsConnection(t *testing.T) {
	res := NewHostResources(64, 16, 4, QosFair, 0)
	driver := newFakeDriver()
	adapter := NewAdapter(driver, Config{Resources: res})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go adapter.Run(ctx)

	driver.pushConnectionComplete(0x0041)
	acceptCtx, acceptCancel := context.WithTimeout(context.Background(), time.Second)
	defer acceptCancel()
	conn, err := AcceptConnection(acceptCtx, adapter)
	if err != nil {
		t.Fatalf("AcceptConnection: %v", err)
	}

	body := make([]byte, 2+4)
	body[0] = byte(hci.EventDisconnectionComplete)
	body[1] = 4
	body[2] = 0 // status success
	body[3] = byte(conn.Handle())
	body[4] = byte(conn.Handle() >> 8)
	body[5] = 0x13 // reason: remote user terminated
	driver.events <- fakeEvent{kind: hci.PacketEvent, data: body}

	// Give the event loop a moment to process the disconnection, then
	// confirm a fresh connection on the same handle is accepted cleanly
	// rather than wedged on stale per-connection state.
	time.Sleep(50 * time.Millisecond)
	driver.pushConnectionComplete(0x0041)
	acceptCtx2, acceptCancel2 := context.WithTimeout(context.Background(), time.Second)
	defer acceptCancel2()
	if _, err := AcceptConnection(acceptCtx2, adapter); err != nil {
		t.Fatalf("AcceptConnection after reconnect: %v", err)
	}
}
