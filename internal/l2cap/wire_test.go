package l2cap

import (
	"bytes"
	"testing"

	"github.com/go-ble/host/internal/pool"
)

func TestACLHeaderRoundTrip(t *testing.T) {
	b := EncodeACLHeader(0x0042, pool.Continuing, 23)
	hdr, err := DecodeACLHeader(b)
	if err != nil {
		t.Fatalf("DecodeACLHeader: %v", err)
	}
	if hdr.Handle != 0x0042 {
		t.Errorf("Handle = %#x, want 0x42", hdr.Handle)
	}
	if hdr.Boundary != pool.Continuing {
		t.Errorf("Boundary = %v, want Continuing", hdr.Boundary)
	}
	if hdr.Length != 23 {
		t.Errorf("Length = %d, want 23", hdr.Length)
	}
}

func TestL2CAPRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	frame := EncodeL2CAP(CIDATT, payload)
	pkt, err := DecodeL2CAP(frame)
	if err != nil {
		t.Fatalf("DecodeL2CAP: %v", err)
	}
	if pkt.CID != CIDATT {
		t.Errorf("CID = %#x, want CIDATT", pkt.CID)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Errorf("Payload = %v, want %v", pkt.Payload, payload)
	}
}

func TestDecodeL2CAPTruncated(t *testing.T) {
	if _, err := DecodeL2CAP([]byte{1, 2}); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed on truncated header")
	}
	b := EncodeL2CAP(CIDATT, []byte{1, 2, 3})
	if _, err := DecodeL2CAP(b[:len(b)-1]); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed on truncated payload")
	}
}

func TestSignalEncodeDecodeCreditConnReq(t *testing.T) {
	sig := Signal{
		Code: SigLECreditConnRequest, Identifier: 7,
		ConnReq: &CreditConnReq{SPSM: 0x25, SCID: 0x40, MTU: 247, MPS: 230, Credits: 8},
	}
	b := sig.Encode()
	got, err := DecodeSignal(b)
	if err != nil {
		t.Fatalf("DecodeSignal: %v", err)
	}
	if got.Code != sig.Code || got.Identifier != sig.Identifier {
		t.Fatalf("got code/ident %d/%d, want %d/%d", got.Code, got.Identifier, sig.Code, sig.Identifier)
	}
	if *got.ConnReq != *sig.ConnReq {
		t.Fatalf("got %+v, want %+v", *got.ConnReq, *sig.ConnReq)
	}
}

func TestSignalEncodeDecodeCreditInd(t *testing.T) {
	sig := Signal{Code: SigLEFlowControlCreditInd, Identifier: 1, CreditInd: &FlowControlCreditInd{CID: 0x40, Credits: 4}}
	got, err := DecodeSignal(sig.Encode())
	if err != nil {
		t.Fatalf("DecodeSignal: %v", err)
	}
	if *got.CreditInd != *sig.CreditInd {
		t.Fatalf("got %+v, want %+v", *got.CreditInd, *sig.CreditInd)
	}
}

func TestDecodeSignalUnknownCode(t *testing.T) {
	b := []byte{0xff, 1, 0, 0}
	if _, err := DecodeSignal(b); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed for unknown signalling code")
	}
}
