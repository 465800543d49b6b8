package ssp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math/big"
)

// DefaultKey is the well-known default encryption key SSP6 devices start
// with before a session key has been negotiated (§3).
const DefaultKey Key = 0x0123456701234567

// Key is a 64-bit SSP6 encryption key.
type Key uint64

var (
	errNoKey         = errors.New("no session key set")
	errAddrMismatch  = errors.New("response address mismatch")
	errEmptyResponse = errors.New("empty response payload")
)

// sspPrime and sspGenerator are the fixed Diffie-Hellman parameters SSP6
// uses to agree a session key. Recovered from the fact that the original
// implementation delegates to the vendor's ssp6_setup_encryption() helper
// rather than inlining the math. Both sides use these fixed values: the
// host sends its public value, the unit answers with its own, and each
// derives the shared key. The exact prime is vendor-fixed and opaque
// from the host's point of view; a 64-bit prime is used here since the
// negotiated key itself is 64 bits.
var (
	sspPrime     *big.Int
	sspGenerator = big.NewInt(7)
)

func init() {
	sspPrime, _ = new(big.Int).SetString("FFFFFFFFFFFFFFC5", 16)
}

// Negotiate runs the SSP6 setup_encryption key-agreement sub-protocol
// against addr over t using codec, and installs the derived session key
// on t via Transport.SetKey.
func Negotiate(t *Transport, codec *Codec, addr byte) (Key, error) {
	hostRandom := make([]byte, 8)
	if _, err := rand.Read(hostRandom); err != nil {
		return 0, err
	}
	hostExp := new(big.Int).SetBytes(hostRandom)
	hostPublic := new(big.Int).Exp(sspGenerator, hostExp, sspPrime)

	req := (&builder{}).u64(hostPublic.Uint64()).b
	resp, err := codec.exchangeRaw(t, addr, false, cmdSetupEncryption, req)
	if err != nil {
		return 0, err
	}
	if resp.Status != StatusOK {
		return 0, &ProtocolFailError{Status: byte(resp.Status), Data: resp.Data}
	}

	c := cursor{b: resp.Data}
	unitPublic := c.u64()

	shared := new(big.Int).Exp(new(big.Int).SetUint64(unitPublic), hostExp, sspPrime)
	key := Key(shared.Uint64())
	t.SetKey(addr, key)
	return key, nil
}

// encryptPayload wraps payload in the encrypted envelope used once a
// session key is established: a 4-byte counter followed by payload,
// PKCS#7-padded and AES-128-CBC encrypted with an IV derived from the
// counter so encrypt/decrypt stay in lockstep without exchanging an IV.
func encryptPayload(key Key, counter uint32, payload []byte) []byte {
	block := newAESCipher(key)

	plain := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(plain[:4], counter)
	copy(plain[4:], payload)
	plain = pad(plain, aes.BlockSize)

	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, ivFromCounter(counter)).CryptBlocks(out, plain)
	return out
}

// decryptPayload reverses encryptPayload given the counter the sender
// used (the shared per-address counter the transport already tracks).
// It returns nil when the embedded counter does not match counter.
func decryptPayload(key Key, counter uint32, wire []byte) []byte {
	if len(wire) == 0 || len(wire)%aes.BlockSize != 0 {
		return nil
	}
	block := newAESCipher(key)

	out := make([]byte, len(wire))
	cipher.NewCBCDecrypter(block, ivFromCounter(counter)).CryptBlocks(out, wire)
	out = unpad(out)
	if len(out) < 4 || binary.LittleEndian.Uint32(out[:4]) != counter {
		return nil
	}
	return out[4:] // drop the leading counter
}

func newAESCipher(key Key) cipher.Block {
	block, err := aes.NewCipher(aesKey(key))
	if err != nil {
		// aesKey always returns 16 bytes, so this cannot fail.
		panic(err)
	}
	return block
}

func aesKey(key Key) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(key))
	return append(append([]byte{}, b[:]...), b[:]...) // 8 bytes repeated -> AES-128 key
}

// ivFromCounter places counter in the IV's last four bytes, away from the
// counter embedded at the start of the plaintext, so the two don't cancel.
func ivFromCounter(counter uint32) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint32(iv[aes.BlockSize-4:], counter)
	return iv
}

func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	for i := 0; i < n; i++ {
		b = append(b, byte(n))
	}
	return b
}

func unpad(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	n := int(b[len(b)-1])
	if n <= 0 || n > len(b) {
		return b
	}
	return b[:len(b)-n]
}
