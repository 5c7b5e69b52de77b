package l2cap

import (
	"bytes"
	"testing"

	"github.com/go-ble/host/internal/pool"
)

func TestReassemblerSingleFragment(t *testing.T) {
	r := NewReassembler()
	frame := EncodeL2CAP(CIDATT, []byte{1, 2, 3})
	got, ok, err := r.Feed(1, pool.FirstNonFlushable, frame)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete frame in one fragment")
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("got %v, want %v", got, frame)
	}
}

func TestReassemblerMultiFragment(t *testing.T) {
	r := NewReassembler()
	frame := EncodeL2CAP(CIDATT, []byte{1, 2, 3, 4, 5, 6})
	first, rest := frame[:6], frame[6:]

	if _, ok, err := r.Feed(1, pool.FirstNonFlushable, first); err != nil || ok {
		t.Fatalf("Feed(first): ok=%v err=%v, want ok=false err=nil", ok, err)
	}
	got, ok, err := r.Feed(1, pool.Continuing, rest)
	if err != nil {
		t.Fatalf("Feed(rest): %v", err)
	}
	if !ok {
		t.Fatal("expected completion after the final fragment")
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("got %v, want %v", got, frame)
	}
}

func TestReassemblerIndependentPerHandle(t *testing.T) {
	r := NewReassembler()
	frameA := EncodeL2CAP(CIDATT, []byte{1, 2, 3, 4})
	frameB := EncodeL2CAP(CIDLESignal, []byte{9, 9})

	if _, ok, err := r.Feed(1, pool.FirstNonFlushable, frameA[:5]); err != nil || ok {
		t.Fatalf("Feed(A first): ok=%v err=%v", ok, err)
	}
	gotB, ok, err := r.Feed(2, pool.FirstNonFlushable, frameB)
	if err != nil || !ok {
		t.Fatalf("Feed(B): ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(gotB, frameB) {
		t.Fatalf("handle 2 frame = %v, want %v", gotB, frameB)
	}

	gotA, ok, err := r.Feed(1, pool.Continuing, frameA[5:])
	if err != nil || !ok {
		t.Fatalf("Feed(A rest): ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(gotA, frameA) {
		t.Fatalf("handle 1 frame = %v, want %v", gotA, frameA)
	}
}

func TestReassemblerContinuingWithoutPendingIsMalformed(t *testing.T) {
	r := NewReassembler()
	if _, _, err := r.Feed(1, pool.Continuing, []byte{1, 2}); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestFragmentSplitsToMTU(t *testing.T) {
	frame := make([]byte, 10)
	for i := range frame {
		frame[i] = byte(i)
	}
	frags := Fragment(frame, 4)
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	var rebuilt []byte
	for _, f := range frags {
		if len(f) > 4 {
			t.Fatalf("fragment too large: %d", len(f))
		}
		rebuilt = append(rebuilt, f...)
	}
	if !bytes.Equal(rebuilt, frame) {
		t.Fatalf("rebuilt = %v, want %v", rebuilt, frame)
	}
}

func TestFragmentFitsInOnePiece(t *testing.T) {
	frame := []byte{1, 2, 3}
	frags := Fragment(frame, 10)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
}
