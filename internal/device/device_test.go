package device

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/metacash/ssp6d/internal/ssp"
)

const stx = 0x7F

// crc16 duplicates the CRC-16/CCITT-FALSE check the wire format uses, so
// this test's fake peripheral can build frames the real Transport accepts
// without reaching into the ssp package's internals.
func crc16(b []byte) uint16 {
	const poly = 0x1021
	crc := uint16(0xFFFF)
	for _, c := range b {
		crc ^= uint16(c) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func buildReplyFrame(addr byte, payload []byte) []byte {
	body := append([]byte{addr & 0x7F, byte(len(payload))}, payload...)
	sum := crc16(body)
	body = append(body, byte(sum), byte(sum>>8))
	return append([]byte{stx}, body...)
}

// localDestuff mirrors the ssp package's unexported frame destuffing so
// this test's fake peripheral can read the command byte Transport sent
// without reaching into ssp's internals.
func localDestuff(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		out = append(out, raw[i])
		if raw[i] == stx && i+1 < len(raw) && raw[i+1] == stx {
			i++
		}
	}
	return out
}

// cmdSetupEncryption is the wire command byte for setup_encryption
// (ssp's cmdSetupEncryption); duplicated here rather than imported since
// it's unexported in the ssp package.
const cmdSetupEncryption = 0x4A

// okPeripheral answers every exchange with StatusOK. For most commands
// it sends no data, which is all the device-level tests below need; for
// setup_encryption it sends a fixed 8-byte public value, since Negotiate
// panics on a short response.
type okPeripheral struct {
	mu      sync.Mutex
	inbound bytes.Buffer
	addr    byte
}

func (p *okPeripheral) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	body := localDestuff(b[1:])
	var data []byte
	if len(body) >= 3 && body[2] == cmdSetupEncryption {
		data = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	}
	p.inbound.Write(buildReplyFrame(p.addr, append([]byte{0xF0}, data...)))
	return len(b), nil
}

func (p *okPeripheral) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inbound.Read(b)
}

// failingLink always errors on Write, modeling a peripheral that never
// responds at all.
type failingLink struct{}

func (failingLink) Write([]byte) (int, error) { return 0, errors.New("simulated io failure") }
func (failingLink) Read([]byte) (int, error)   { return 0, io.EOF }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readyDevice(transport *ssp.Transport) *Device {
	d := New(0x10, RoleHopper, "hopper", transport, testLogger())
	d.state = StateReady
	return d
}

func TestEnableChannelsOrsMaskAndPersists(t *testing.T) {
	d := readyDevice(ssp.NewTransport(&okPeripheral{addr: 0x10}))

	if err := d.EnableChannels(0x05); err != nil {
		t.Fatalf("EnableChannels: %v", err)
	}
	if got := d.Inhibits(); got != 0x05 {
		t.Fatalf("Inhibits() = 0x%02X, want 0x05", got)
	}

	if err := d.EnableChannels(0x02); err != nil {
		t.Fatalf("EnableChannels: %v", err)
	}
	if got := d.Inhibits(); got != 0x07 {
		t.Fatalf("Inhibits() = 0x%02X, want 0x07 (OR of 0x05 and 0x02)", got)
	}
}

func TestDisableChannelsClearsBitsOnly(t *testing.T) {
	d := readyDevice(ssp.NewTransport(&okPeripheral{addr: 0x10}))
	d.inhibits = 0x07

	if err := d.DisableChannels(0x02); err != nil {
		t.Fatalf("DisableChannels: %v", err)
	}
	if got := d.Inhibits(); got != 0x05 {
		t.Fatalf("Inhibits() = 0x%02X, want 0x05", got)
	}
}

func TestInhibitChannelsDoesNotPersist(t *testing.T) {
	d := readyDevice(ssp.NewTransport(&okPeripheral{addr: 0x10}))
	d.inhibits = 0x05

	if err := d.InhibitChannels(0x05); err != nil {
		t.Fatalf("InhibitChannels: %v", err)
	}
	if got := d.Inhibits(); got != 0x05 {
		t.Fatalf("Inhibits() = 0x%02X, want unchanged 0x05", got)
	}
}

func TestEnableChannelsIdempotent(t *testing.T) {
	d := readyDevice(ssp.NewTransport(&okPeripheral{addr: 0x10}))

	if err := d.EnableChannels(0x03); err != nil {
		t.Fatalf("EnableChannels: %v", err)
	}
	if err := d.EnableChannels(0x03); err != nil {
		t.Fatalf("EnableChannels (repeat): %v", err)
	}
	if got := d.Inhibits(); got != 0x03 {
		t.Fatalf("Inhibits() = 0x%02X, want 0x03", got)
	}
}

func TestRepeatedTransportErrorsDegradeDevice(t *testing.T) {
	d := readyDevice(ssp.NewTransport(failingLink{}))

	var lastErr error
	for i := 0; i < degradedThreshold; i++ {
		lastErr = d.Enable()
		if lastErr == nil {
			t.Fatalf("attempt %d: expected transport error", i)
		}
	}
	if d.State() != StateDegraded {
		t.Fatalf("state = %v, want Degraded after %d consecutive failures", d.State(), degradedThreshold)
	}
	_ = lastErr
}

func TestRecoverClearsDegradedState(t *testing.T) {
	d := readyDevice(ssp.NewTransport(&okPeripheral{addr: 0x10}))
	d.state = StateDegraded
	d.consecutiveFailures = degradedThreshold

	if err := d.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if d.State() != StateReady {
		t.Fatalf("state = %v, want Ready after Recover", d.State())
	}
}
