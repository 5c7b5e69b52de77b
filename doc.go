// Package host implements a Bluetooth Low Energy host stack on top of an
// externally supplied HCI driver: packet pooling, connection bookkeeping,
// L2CAP credit-based flow control and ATT/GATT framing.
//
// STATUS
//
// Peripheral support (advertise, accept, serve GATT requests, notify) is
// complete. The GATT client (DiscoverServices, ReadCharacteristic, ...) is
// a documented stub.
//
// SETUP
//
// This package owns no transport of its own. It is driven by anything
// implementing hci.Driver — a real BlueZ/H4 socket, a USB controller, or a
// fake for tests. Supply one, build an Adapter, and run it in its own
// goroutine:
//
//     res := host.NewHostResources(247, 16, 4, host.QosFair, 0)
//     a := host.NewAdapter(driver, host.Config{Resources: res})
//     go a.Run(ctx)
//
//     a.Table().AddCharacteristic(att.CharacteristicHandle{Handle: 3, CCCDHandle: 4, HasCCCD: true}, []byte{0})
//     a.Advertise(ctx, host.AdvertiseConfig{Connectable: true, LocalName: "example"})
//
//     conn, _ := host.AcceptConnection(ctx, a)
//     evt, _ := a.GATT().Next(ctx)
//
// USAGE
//
// A single Adapter serves every link; ConnHandle values returned from
// Accept distinguish them (a link opened with Connect is also picked up
// through Accept). Dynamic L2CAP channels are opened with
// Listen/DialL2CAP independently of the ATT/GATT traffic sharing the link.
package host
