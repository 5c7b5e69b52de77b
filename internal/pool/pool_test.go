package pool

import "testing"

func TestQosNone(t *testing.T) {
	p := New(1, 8, 4, QosNone, 0)
	for i := 0; i < 8; i++ {
		if _, ok := p.Alloc(AttID); !ok {
			t.Fatalf("alloc %d: expected success", i)
		}
	}
	if _, ok := p.Alloc(AttID); ok {
		t.Fatal("expected pool exhausted after 8 allocations")
	}
}

func TestQosFair(t *testing.T) {
	p := New(1, 8, 4, QosFair, 0)
	// Each of 4 clients gets an even share of 8/4 = 2.
	for client := AllocId(0); client < 4; client++ {
		for i := 0; i < 2; i++ {
			if _, ok := p.Alloc(client); !ok {
				t.Fatalf("client %d alloc %d: expected success", client, i)
			}
		}
		if _, ok := p.Alloc(client); ok {
			t.Fatalf("client %d: expected denial past its fair share", client)
		}
	}
}

func TestQosGuaranteed(t *testing.T) {
	// Guaranteed(1), N=8, CLIENTS=4: one client may allocate 5 buffers
	// (8 minus the 3 reserved for the others); the 6th is denied; each of
	// the other three clients can still allocate exactly 1.
	p := New(1, 8, 4, QosGuaranteed, 1)

	for i := 0; i < 5; i++ {
		if _, ok := p.Alloc(0); !ok {
			t.Fatalf("client 0 alloc %d: expected success", i)
		}
	}
	if _, ok := p.Alloc(0); ok {
		t.Fatal("client 0: expected denial on the 6th allocation")
	}

	for client := AllocId(1); client < 4; client++ {
		if _, ok := p.Alloc(client); !ok {
			t.Fatalf("client %d: expected its guaranteed allocation to succeed", client)
		}
		if _, ok := p.Alloc(client); ok {
			t.Fatalf("client %d: expected denial past its guarantee once the pool is exhausted", client)
		}
	}
}

func TestReleaseReturnsBufferToPool(t *testing.T) {
	p := New(4, 2, 1, QosNone, 0)
	a, ok := p.Alloc(AttID)
	if !ok {
		t.Fatal("expected first allocation to succeed")
	}
	if _, ok := p.Alloc(AttID); !ok {
		t.Fatal("expected second allocation to succeed")
	}
	if _, ok := p.Alloc(AttID); ok {
		t.Fatal("expected pool exhausted")
	}

	a.Release()
	a.Release() // idempotent
	if _, ok := p.Alloc(AttID); !ok {
		t.Fatal("expected allocation to succeed after release")
	}
}

func TestAvailableReflectsPolicy(t *testing.T) {
	p := New(1, 8, 4, QosGuaranteed, 1)
	if got := p.Available(0); got != 5 {
		t.Fatalf("Available(0) = %d, want 5", got)
	}
	if got := p.Available(1); got != 5 {
		t.Fatalf("Available(1) = %d, want 5", got)
	}
}

func TestPacketBytesSizedToMTU(t *testing.T) {
	p := New(23, 1, 1, QosNone, 0)
	pkt, ok := p.Alloc(AttID)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if len(pkt.Bytes()) != 23 {
		t.Fatalf("Bytes() len = %d, want 23", len(pkt.Bytes()))
	}
}

func TestPduBytesTruncatesToLen(t *testing.T) {
	p := New(23, 1, 1, QosNone, 0)
	pkt, _ := p.Alloc(AttID)
	copy(pkt.Bytes(), []byte{1, 2, 3, 4, 5})
	pdu := Pdu{Packet: pkt, Len: 3, Boundary: FirstNonFlushable}
	if got := pdu.Bytes(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("Pdu.Bytes() = %v, want [1 2 3]", got)
	}
	pdu.Release()
}
