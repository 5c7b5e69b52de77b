package host

import "github.com/go-ble/host/internal/pool"

// Qos re-exports the packet pool's allocation policy (§4.A).
type Qos = pool.Qos

const (
	QosNone       = pool.QosNone
	QosFair       = pool.QosFair
	QosGuaranteed = pool.QosGuaranteed
)

// HostResources bundles the packet pool sizing an Adapter borrows,
// mirroring host/src/adapter.rs's HostResources<M, CHANNELS, PACKETS,
// L2CAP_MTU>. Constructing it separately from the Adapter lets the
// embedding application own the (typically static) buffer storage.
type HostResources struct {
	pool *pool.Pool
}

// NewHostResources allocates packets buffers of mtu bytes shared among
// clients pool clients under qos. guaranteed is only meaningful for
// QosGuaranteed.
func NewHostResources(mtu, packets, clients int, qos Qos, guaranteed int) *HostResources {
	return &HostResources{pool: pool.New(mtu, packets, clients, qos, guaranteed)}
}
