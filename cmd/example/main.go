// Command example wires an Adapter to a loopback Driver and serves a
// single read/write/notify characteristic. It stands in for the real HCI
// transport with a fake that logs what the host would have written and
// synthesizes the matching controller events, exercising the same path a
// BlueZ or USB driver would drive.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-ble/host"
	"github.com/go-ble/host/internal/att"
	"github.com/go-ble/host/internal/hci"
)

func main() {
	host.SetLogger(logrus.StandardLogger())

	res := host.NewHostResources(247, 16, 4, host.QosFair, 0)
	driver := newLoopbackDriver()
	adapter := host.NewAdapter(driver, host.Config{Resources: res})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("adapter stopped: %v", err)
		}
	}()

	count := att.CharacteristicHandle{Handle: 3, CCCDHandle: 4, HasCCCD: true}
	adapter.Table().AddCharacteristic(count, []byte{0})

	if err := adapter.Advertise(ctx, host.AdvertiseConfig{
		Connectable: true,
		LocalName:   "gopher",
		Services:    []host.UUID{host.UUID16(0x180f)},
	}); err != nil {
		log.Fatalf("advertise: %v", err)
	}

	driver.simulateInboundConnection(0x0040)

	conn, err := host.AcceptConnection(ctx, adapter)
	if err != nil {
		log.Fatalf("accept: %v", err)
	}
	fmt.Printf("central connected: handle=%d\n", conn.Handle())

	go func() {
		n := 0
		for {
			time.Sleep(time.Second)
			n++
			if err := adapter.GATT().Notify(conn.Handle(), count, []byte(fmt.Sprintf("%d", n))); err != nil {
				return
			}
		}
	}()

	for {
		evt, err := adapter.GATT().Next(ctx)
		if err != nil {
			return
		}
		fmt.Printf("write: handle=%d value=%x\n", evt.Handle, evt.Value)
	}
}

// loopbackDriver is a minimal hci.Driver: it never talks to real hardware,
// it logs outbound frames and lets the demo inject inbound events directly.
type loopbackDriver struct {
	events chan loopbackEvent
}

type loopbackEvent struct {
	kind hci.PacketKind
	data []byte
}

func newLoopbackDriver() *loopbackDriver {
	return &loopbackDriver{events: make(chan loopbackEvent, 16)}
}

func (d *loopbackDriver) Read(ctx context.Context) (hci.PacketKind, []byte, error) {
	select {
	case ev := <-d.events:
		return ev.kind, ev.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (d *loopbackDriver) Write(ctx context.Context, kind hci.PacketKind, data []byte) error {
	log.Printf("loopback write: kind=%d len=%d", kind, len(data))
	return nil
}

func (d *loopbackDriver) ExecSync(ctx context.Context, cmd hci.Command) ([]byte, error) {
	log.Printf("loopback exec: opcode=%#04x", cmd.Opcode())
	return nil, nil
}

func (d *loopbackDriver) ExecAsync(ctx context.Context, cmd hci.Command) error {
	log.Printf("loopback exec async: opcode=%#04x", cmd.Opcode())
	return nil
}

// simulateInboundConnection injects an LE Connection Complete event as if a
// central had just connected, the way a real controller would after
// advertising.
func (d *loopbackDriver) simulateInboundConnection(handle uint16) {
	const paramLen = 1 + 18 // subevent code + LE_Connection_Complete fields
	body := make([]byte, 2+paramLen)
	body[0] = byte(hci.EventLEMeta)
	body[1] = paramLen
	sub := body[2:]
	sub[0] = byte(hci.LEConnectionComplete)
	sub[1] = 0 // status: success
	sub[2] = byte(handle)
	sub[3] = byte(handle >> 8)
	// role, peer addr type, peer addr, interval/latency/timeout left zero.
	d.events <- loopbackEvent{kind: hci.PacketEvent, data: body}
}
