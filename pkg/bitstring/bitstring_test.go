package bitstring

import "testing"

func TestGzipB64RoundTrip(t *testing.T) {
	data := []byte{0x00, 0xff, 0x0f, 0xf0}
	enc, err := EncodeGzipB64(data)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := DecodeGzipB64(enc)
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != string(data) {
		t.Fatalf("round trip mismatch: got %x want %x", dec, data)
	}
}

func TestDecodeGzipB64InvalidBase64(t *testing.T) {
	if _, err := DecodeGzipB64("not-valid-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestBitAtLSBFirst(t *testing.T) {
	data := []byte{0b0000_0001} // bit 0 set
	if BitAt(data, 0) != 1 {
		t.Fatal("expected bit 0 set")
	}
	if BitAt(data, 1) != 0 {
		t.Fatal("expected bit 1 clear")
	}
}

func TestBitAtOutOfRangeIsZero(t *testing.T) {
	data := make([]byte, 2) // 16 bits
	if BitAt(data, 16) != 0 {
		t.Fatal("index exactly at size must read as not set")
	}
	if BitAt(data, 1000) != 0 {
		t.Fatal("far out-of-range index must read as not set")
	}
}

func TestSetClearFlip(t *testing.T) {
	data := NewBitstring(16)
	if err := SetBit(data, 10); err != nil {
		t.Fatal(err)
	}
	if BitAt(data, 10) != 1 {
		t.Fatal("expected bit 10 set")
	}
	if err := FlipBit(data, 10); err != nil {
		t.Fatal(err)
	}
	if BitAt(data, 10) != 0 {
		t.Fatal("expected bit 10 cleared after flip")
	}
	if err := ClearBit(data, 10); err != nil {
		t.Fatal(err)
	}
	if BitAt(data, 10) != 0 {
		t.Fatal("expected bit 10 still clear")
	}
}

func TestSetBitOutOfRange(t *testing.T) {
	data := NewBitstring(8)
	if err := SetBit(data, 100); err == nil {
		t.Fatal("expected BitstringError for out-of-range index")
	}
}

func TestApplyOpsInOrder(t *testing.T) {
	data := NewBitstring(16)
	out, err := ApplyOps(data, []Op{
		{Kind: OpSet, Index: 3},
		{Kind: OpSet, Index: 5},
		{Kind: OpClear, Index: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if BitAt(out, 3) != 0 || BitAt(out, 5) != 1 {
		t.Fatalf("unexpected bits after ops: %08b", out[0])
	}
	// original must be untouched
	if BitAt(data, 5) != 0 {
		t.Fatal("ApplyOps must not mutate its input")
	}
}

func TestApplyOpsFailsClosedOnBadOp(t *testing.T) {
	data := NewBitstring(8)
	if _, err := ApplyOps(data, []Op{{Kind: OpSet, Index: 1000}}); err == nil {
		t.Fatal("expected error for out-of-range op")
	}
}

func TestGetCredentialStatus(t *testing.T) {
	data := NewBitstring(16)
	if err := SetBit(data, 5); err != nil {
		t.Fatal(err)
	}
	enc, err := EncodeGzipB64(data)
	if err != nil {
		t.Fatal(err)
	}

	status, bit, err := GetCredentialStatus(enc, 5, PurposeRevocation)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusRevoked || bit != 1 {
		t.Fatalf("got status=%s bit=%d, want revoked/1", status, bit)
	}

	status, bit, err = GetCredentialStatus(enc, 5, PurposeSuspension)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusSuspended || bit != 1 {
		t.Fatalf("got status=%s bit=%d, want suspended/1", status, bit)
	}

	status, bit, err = GetCredentialStatus(enc, 6, PurposeRevocation)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusValid || bit != 0 {
		t.Fatalf("got status=%s bit=%d, want valid/0", status, bit)
	}
}
