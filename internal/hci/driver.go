// Package hci defines the contract the host holds with its HCI transport
// (§6, HCI driver contract — an external collaborator) plus the command
// and event wire codecs the host core needs to speak it.
//
// The codec style (bytes.Buffer + encoding/binary, little-endian) is
// grounded on the teacher's hci/cmd/cmd.go and linux/internal/event's
// struct-per-event unmarshal functions, generalized from BlueZ's raw
// HCI socket framing to a driver-agnostic PacketKind split.
package hci

import "context"

// PacketKind classifies a packet crossing the H4-equivalent HCI transport.
type PacketKind uint8

const (
	PacketCommand PacketKind = iota + 1
	PacketACLData
	PacketSyncData
	PacketEvent
)

// Driver is the contract the event loop holds with the controller
// transport. It is implemented externally (§1 Out of scope); the host core
// only consumes it.
//
// Read and Write are blocking calls from the event loop's perspective
// (it is the only goroutine using them), the Go-idiomatic counterpart of
// the original's non-blocking try_read/try_write plus waker registration:
// a goroutine blocked in Read is functionally identical to a future
// parked on a read waker, and ctx cancellation covers suspension-point
// cancellation (§5).
type Driver interface {
	// Read blocks for the next packet from the controller.
	Read(ctx context.Context) (PacketKind, []byte, error)
	// Write sends a fully framed packet (kind prefix included by the
	// caller's choice of helper) to the controller.
	Write(ctx context.Context, kind PacketKind, data []byte) error
	// ExecSync issues cmd and blocks for its Command Complete event,
	// returning the event parameters.
	ExecSync(ctx context.Context, cmd Command) ([]byte, error)
	// ExecAsync issues cmd without awaiting completion (a Command
	// Status event, if any, is delivered back through Read).
	ExecAsync(ctx context.Context, cmd Command) error
}

// Command is an HCI command parameter set (§6).
type Command interface {
	Opcode() uint16
	Marshal() []byte
}
