package l2cap

import (
	"sync"

	"github.com/go-ble/host/internal/pool"
)

// Reassembler concatenates inbound ACL fragments into complete L2CAP
// frames, per connection handle, based on the ACL boundary flag (§4.C
// Fragmentation/reassembly design): FirstNonFlushable begins a new frame,
// Continuing appends to the destination buffer up to its declared L2CAP
// length.
type Reassembler struct {
	mu      sync.Mutex
	pending map[uint16]*partial
}

type partial struct {
	buf    []byte
	length int // declared L2CAP payload length, once known
}

// NewReassembler constructs an empty per-connection fragment tracker.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[uint16]*partial)}
}

// Feed supplies one ACL fragment. It returns a complete L2CAP frame
// (length+CID header included) and ok=true once enough fragments have
// arrived; otherwise it returns ok=false while more fragments are awaited.
// A malformed fragment resets any partial state for that handle and
// returns an error (§7, Codec — fails the current PDU only).
func (r *Reassembler) Feed(handle uint16, boundary pool.Boundary, payload []byte) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if boundary == pool.FirstNonFlushable {
		if len(payload) < 4 {
			delete(r.pending, handle)
			return nil, false, ErrMalformed
		}
		declared := int(payload[0]) | int(payload[1])<<8
		p := &partial{buf: append([]byte(nil), payload...), length: declared}
		if len(p.buf)-4 >= declared {
			delete(r.pending, handle)
			return p.buf[:4+declared], true, nil
		}
		r.pending[handle] = p
		return nil, false, nil
	}

	p, ok := r.pending[handle]
	if !ok {
		return nil, false, ErrMalformed
	}
	p.buf = append(p.buf, payload...)
	if len(p.buf)-4 >= p.length {
		delete(r.pending, handle)
		return p.buf[:4+p.length], true, nil
	}
	return nil, false, nil
}

// Fragment splits an outbound L2CAP frame into ACL fragments no larger than
// aclMTU bytes, in order (§4.C Fragmentation/reassembly design, outbound
// direction). It does not set boundary flags; the caller marks the first
// fragment FirstNonFlushable and the rest Continuing.
func Fragment(frame []byte, aclMTU int) [][]byte {
	if aclMTU <= 0 || len(frame) <= aclMTU {
		return [][]byte{frame}
	}
	var out [][]byte
	for len(frame) > 0 {
		n := aclMTU
		if n > len(frame) {
			n = len(frame)
		}
		out = append(out, frame[:n])
		frame = frame[n:]
	}
	return out
}
