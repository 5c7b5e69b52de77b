// Package pool implements the fixed-capacity packet buffer pool shared by
// ATT, L2CAP signalling and dynamic L2CAP channels.
//
// It is the Go-idiomatic counterpart of the teacher's BlueZ socket buffer
// accounting (linux/internal/l2cap.bufCnt), generalized to per-client QoS
// the way host/src/packet_pool.rs does it.
package pool

import (
	"sync"
)

// AllocId identifies a pool client. ATT and L2CAP signalling get fixed,
// well-known ids; every dynamic L2CAP channel gets its own id derived from
// its channel slot index.
type AllocId int

const (
	// AttID is the pool client id used by the ATT/GATT server adapter.
	AttID AllocId = 0
	// L2CAPSignalID is the pool client id used for outbound LE signalling.
	L2CAPSignalID AllocId = 1
	// DynamicBase is the first id available to dynamic L2CAP channels.
	DynamicBase AllocId = 2
)

// DynamicID returns the pool client id for the dynamic channel at slot idx.
func DynamicID(idx int) AllocId {
	return DynamicBase + AllocId(idx)
}

// Qos is the allocation policy applied across a pool's clients.
type Qos int

const (
	// QosNone gives every client access to the whole pool; first-come,
	// first-served.
	QosNone Qos = iota
	// QosFair splits the pool evenly: each client may hold at most
	// N/clients buffers at once.
	QosFair
	// QosGuaranteed reserves at least the guaranteed count (New's
	// guaranteed argument) of buffers per client while still letting any
	// client draw on the unreserved surplus.
	QosGuaranteed
)

// buf is one fixed-size buffer slot.
type buf struct {
	data []byte
	free bool
}

// Pool is a statically sized array of MTU-sized buffers shared by CLIENTS
// pool clients under a single QoS policy. The zero value is not usable;
// construct with New.
type Pool struct {
	mu   sync.Mutex
	bufs []buf
	used []int // usage[id]

	mtu        int
	clients    int
	qos        Qos
	guaranteed int // only meaningful when qos == QosGuaranteed
}

// New allocates a pool of n buffers of mtu bytes, shared among clients pool
// clients under the given QoS policy. guaranteed is the per-client floor
// used only by QosGuaranteed; it is ignored otherwise.
func New(mtu, n, clients int, qos Qos, guaranteed int) *Pool {
	p := &Pool{
		bufs:       make([]buf, n),
		used:       make([]int, clients),
		mtu:        mtu,
		clients:    clients,
		qos:        qos,
		guaranteed: guaranteed,
	}
	for i := range p.bufs {
		p.bufs[i] = buf{data: make([]byte, mtu), free: true}
	}
	return p
}

// Packet is a scoped handle to one buffer, owned exclusively by whichever
// code allocated it. Release must be called exactly once on every exit
// path; it is idempotent if called again.
type Packet struct {
	pool   *Pool
	client AllocId
	idx    int
	freed  bool
}

// Bytes returns the packet's backing buffer. The slice is only valid until
// Release is called.
func (p *Packet) Bytes() []byte {
	return p.pool.bufs[p.idx].data
}

// Release returns the buffer to the pool and decrements the owning
// client's usage counter. Safe to call more than once.
func (p *Packet) Release() {
	if p == nil || p.freed {
		return
	}
	p.freed = true
	p.pool.free(p.client, p.idx)
}

// Alloc draws one buffer for client id, subject to the pool's QoS policy.
// It returns nil, false when the policy denies allocation or no free
// buffer exists; it never blocks and never panics on exhaustion.
func (p *Pool) Alloc(id AllocId) (*Packet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.availableLocked(id) == 0 {
		return nil, false
	}
	for i := range p.bufs {
		if p.bufs[i].free {
			p.bufs[i].free = false
			p.used[id]++
			return &Packet{pool: p, client: id, idx: i}, true
		}
	}
	return nil, false
}

// Available reports a non-binding hint of how many more buffers client id
// may currently allocate under the pool's QoS policy.
func (p *Pool) Available(id AllocId) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked(id)
}

func (p *Pool) availableLocked(id AllocId) int {
	n := len(p.bufs)
	switch p.qos {
	case QosFair:
		share := n / p.clients
		return max0(share - p.used[id])
	case QosGuaranteed:
		k := p.guaranteed
		reserved := 0
		sum := 0
		for _, u := range p.used {
			sum += u
			if u < k {
				reserved += k - u
			}
		}
		// The asking client's own shortfall isn't reserved against it.
		if p.used[id] < k {
			reserved -= k - p.used[id]
		}
		return max0(n - reserved - sum)
	default: // QosNone
		sum := 0
		for _, u := range p.used {
			sum += u
		}
		return max0(n - sum)
	}
}

func (p *Pool) free(id AllocId, idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bufs[idx].free = true
	if p.used[id] > 0 {
		p.used[id]--
	}
}

// MTU returns the fixed size of every buffer in the pool.
func (p *Pool) MTU() int { return p.mtu }

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// Boundary is the ACL packet-boundary flag a Pdu carries across the
// outbound queue (§3, Pdu): whether it begins a new L2CAP PDU or continues
// one already in flight. Modeled here, alongside Packet, rather than in the
// l2cap package, because every producer of a Pdu (ATT, L2CAP signalling,
// dynamic channels) needs it without creating an import cycle back into
// l2cap.
type Boundary uint8

const (
	// FirstNonFlushable begins a new L2CAP PDU.
	FirstNonFlushable Boundary = 0
	// Continuing appends to the PDU started by the most recent
	// FirstNonFlushable fragment on the same connection handle.
	Continuing Boundary = 1
)

// Pdu is an owned Packet plus its valid payload length and packet-boundary
// flag (§3). Pdu is passed by move (Go: by value, with exactly one owner)
// across the bounded channels that connect subsystems.
type Pdu struct {
	Packet   *Packet
	Len      int
	Boundary Boundary
}

// Bytes returns the valid payload of the Pdu.
func (p Pdu) Bytes() []byte {
	return p.Packet.Bytes()[:p.Len]
}

// Release returns the Pdu's backing buffer to its pool.
func (p Pdu) Release() {
	p.Packet.Release()
}
