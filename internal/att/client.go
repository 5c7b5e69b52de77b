package att

import (
	"context"

	"github.com/go-ble/host/internal/l2cap"
	"github.com/go-ble/host/internal/pool"
)

// Client is the skeletal GATT client surface (§2, §9 Open questions: the
// GATT client has no working body in the source this spec was distilled
// from). It exists so the public API shape matches a complete host, but
// discovery/read/write/subscribe are not implemented — that is explicitly
// not part of the core (§1 Non-goals).
type Client struct {
	rx     <-chan l2cap.ConnPdu
	tx     chan<- l2cap.ConnPdu
	pool   *pool.Pool
	poolID pool.AllocId
}

// NewClient constructs a GATT client bound to the same ATT transport as
// Server.
func NewClient(rx <-chan l2cap.ConnPdu, tx chan<- l2cap.ConnPdu, p *pool.Pool) *Client {
	return &Client{rx: rx, tx: tx, pool: p, poolID: pool.AttID}
}

// ServiceHandle names a discovered remote service.
type ServiceHandle struct {
	StartHandle uint16
	EndHandle   uint16
}

// DiscoverServices is unimplemented (§9).
func (c *Client) DiscoverServices(ctx context.Context) ([]ServiceHandle, error) {
	return nil, ErrNotImplemented
}

// ReadCharacteristic is unimplemented (§9).
func (c *Client) ReadCharacteristic(ctx context.Context, handle uint16) ([]byte, error) {
	return nil, ErrNotImplemented
}

// WriteCharacteristic is unimplemented (§9).
func (c *Client) WriteCharacteristic(ctx context.Context, handle uint16, value []byte) error {
	return ErrNotImplemented
}

// Subscribe is unimplemented (§9).
func (c *Client) Subscribe(ctx context.Context, cccdHandle uint16) error {
	return ErrNotImplemented
}
