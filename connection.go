package host

import (
	"context"

	"github.com/go-ble/host/internal/connmgr"
)

// Connection is a convenience handle bundling a live link's ConnHandle with
// the Adapter it belongs to (§4.B), the counterpart to the teacher's conn
// type (conn.go) which paired a handle with its owning Server.
type Connection struct {
	adapter *Adapter
	handle  connmgr.ConnHandle
}

// Handle returns the underlying controller connection handle.
func (c *Connection) Handle() connmgr.ConnHandle { return c.handle }

// Info returns the parameters learned at connection establishment.
func (c *Connection) Info() (connmgr.Info, bool) {
	return c.adapter.connections.Info(c.handle)
}

// ATTMTU returns the negotiated ATT MTU for this link, or the default
// (23) if no exchange has happened yet.
func (c *Connection) ATTMTU() int {
	return int(c.adapter.connections.GetATTMTU(c.handle))
}

// Close disconnects the link.
func (c *Connection) Close(ctx context.Context) error {
	return c.adapter.Disconnect(ctx, c.handle)
}

// AcceptConnection blocks until a's next link reaches Connected, wrapping
// the resulting handle for ergonomic use.
func AcceptConnection(ctx context.Context, a *Adapter) (*Connection, error) {
	handle, err := a.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Connection{adapter: a, handle: handle}, nil
}
