package ssp

import (
	"math/big"
	"testing"
)

func TestEncryptDecryptPayloadRoundTrip(t *testing.T) {
	key := Key(0x0123456789ABCDEF)
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	wire := encryptPayload(key, 7, payload)
	if len(wire)%16 != 0 {
		t.Fatalf("ciphertext length %d not block-aligned", len(wire))
	}

	got := decryptPayload(key, 7, wire)
	if string(got) != string(payload) {
		t.Fatalf("decrypted = %v, want %v", got, payload)
	}
}

func TestDecryptPayloadWrongCounterFails(t *testing.T) {
	key := Key(0x0123456789ABCDEF)
	wire := encryptPayload(key, 1, []byte{0xAA, 0xBB})
	got := decryptPayload(key, 2, wire)
	if string(got) == string([]byte{0xAA, 0xBB}) {
		t.Fatal("decrypting with the wrong counter must not recover the original payload")
	}
}

// TestNegotiateDerivesSharedKey plays the unit side of the DH exchange
// with its own fixed exponent and checks the host ends up with the same
// shared secret, exercising the full 64-bit public-value exchange (not
// a truncated 32-bit one).
func TestNegotiateDerivesSharedKey(t *testing.T) {
	unitExp := big.NewInt(0x1234)
	var gotHostPublic uint64

	p := &scriptedPeripheral{
		respond: func(call int, addr, cmd byte, body []byte) (byte, []byte, bool) {
			c := cursor{b: body}
			gotHostPublic = c.u64()
			unitPublic := new(big.Int).Exp(sspGenerator, unitExp, sspPrime)
			resp := (&builder{}).u64(unitPublic.Uint64()).b
			return byte(StatusOK), resp, false
		},
	}
	tr := NewTransport(p)

	key, err := Negotiate(tr, NewCodec(), 0x10)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	wantShared := new(big.Int).Exp(new(big.Int).SetUint64(gotHostPublic), unitExp, sspPrime)
	if uint64(key) != wantShared.Uint64() {
		t.Fatalf("key = %#x, want %#x", uint64(key), wantShared.Uint64())
	}
}

func TestPadUnpadRoundTrip(t *testing.T) {
	for n := 0; n < 32; n++ {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i)
		}
		padded := pad(append([]byte{}, b...), 16)
		if len(padded)%16 != 0 {
			t.Fatalf("pad(%d bytes) not block-aligned: %d", n, len(padded))
		}
		unpadded := unpad(padded)
		if string(unpadded) != string(b) {
			t.Fatalf("unpad(pad(%v)) = %v, want %v", b, unpadded, b)
		}
	}
}
