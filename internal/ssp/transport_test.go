package ssp

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

// scriptedPeripheral stands in for the serial link during tests: it
// parses the frame Transport writes and queues a scripted reply, acting
// as the "hardware" side of one Exchange.
type scriptedPeripheral struct {
	mu      sync.Mutex
	inbound bytes.Buffer
	calls   int
	seqSeen []bool

	// respond is invoked once per write; it returns the reply status and
	// data, and whether to corrupt the reply's CRC on the wire.
	respond func(call int, addr byte, cmd byte, body []byte) (status byte, data []byte, corruptCRC bool)
}

func (p *scriptedPeripheral) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	body := destuff(b[1:])
	addr, seq, payload, err := parseFrame(body)
	if err != nil {
		return 0, err
	}
	p.seqSeen = append(p.seqSeen, seq)

	status, data, corrupt := p.respond(p.calls, addr, payload[0], payload[1:])
	respPayload := append([]byte{status}, data...)
	frame, err := buildFrame(addr, seq, respPayload)
	if err != nil {
		return 0, err
	}
	if corrupt {
		frame[len(frame)-1] ^= 0xFF
	}
	p.inbound.Write(frame)
	return len(b), nil
}

func (p *scriptedPeripheral) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inbound.Read(b)
}

func alwaysOK(call int, addr, cmd byte, body []byte) (byte, []byte, bool) {
	return byte(StatusOK), nil, false
}

func TestExchangeSuccessReturnsStatus(t *testing.T) {
	p := &scriptedPeripheral{respond: alwaysOK}
	tr := NewTransport(p)

	resp, err := tr.Exchange(0x10, []byte{0x11}, false)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.Status != StatusOK {
		t.Fatalf("status = %v, want StatusOK", resp.Status)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1", p.calls)
	}
}

func TestExchangeAdvancesSequenceBitOnSuccess(t *testing.T) {
	p := &scriptedPeripheral{respond: alwaysOK}
	tr := NewTransport(p)

	if _, err := tr.Exchange(0x10, []byte{0x11}, false); err != nil {
		t.Fatalf("first Exchange: %v", err)
	}
	if _, err := tr.Exchange(0x10, []byte{0x11}, false); err != nil {
		t.Fatalf("second Exchange: %v", err)
	}
	if len(p.seqSeen) != 2 {
		t.Fatalf("seqSeen = %v, want 2 entries", p.seqSeen)
	}
	if p.seqSeen[0] == p.seqSeen[1] {
		t.Fatalf("seq bit did not advance between exchanges: %v", p.seqSeen)
	}
}

func TestExchangeRetriesOnCrcFail(t *testing.T) {
	p := &scriptedPeripheral{
		respond: func(call int, addr, cmd byte, body []byte) (byte, []byte, bool) {
			return byte(StatusOK), nil, call == 1 // corrupt the first reply only
		},
	}
	tr := NewTransport(p)

	resp, err := tr.Exchange(0x10, []byte{0x11}, false)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.Status != StatusOK {
		t.Fatalf("status = %v, want StatusOK", resp.Status)
	}
	if p.calls != 2 {
		t.Fatalf("calls = %d, want 2 (one retry)", p.calls)
	}
}

func TestExchangeGivesUpAfterRetryLevel(t *testing.T) {
	p := &scriptedPeripheral{
		respond: func(call int, addr, cmd byte, body []byte) (byte, []byte, bool) {
			return byte(StatusOK), nil, true // every reply corrupted
		},
	}
	tr := NewTransport(p)

	_, err := tr.Exchange(0x10, []byte{0x11}, false)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if p.calls != RetryLevel+1 {
		t.Fatalf("calls = %d, want %d", p.calls, RetryLevel+1)
	}
}

func TestExchangeEncryptedWithoutKeyFails(t *testing.T) {
	p := &scriptedPeripheral{respond: alwaysOK}
	tr := NewTransport(p)

	_, err := tr.Exchange(0x10, []byte{0x11}, true)
	if err == nil {
		t.Fatal("expected error when no key has been set")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v (%T), want *TransportError", err, err)
	}
	if p.calls != 0 {
		t.Fatalf("calls = %d, want 0 (should fail before any write)", p.calls)
	}
}

func TestExchangeRejectsAddressMismatch(t *testing.T) {
	// Always replies as address 0x00 regardless of who was addressed, so
	// a response to an Exchange with addr 0x10 never matches.
	mismatch := &scriptedPeripheral{respond: alwaysOK}
	tr := NewTransport(&addrSwappingLink{scriptedPeripheral: mismatch})

	_, err := tr.Exchange(0x10, []byte{0x11}, false)
	if err == nil {
		t.Fatal("expected address-mismatch error")
	}
}

// addrSwappingLink wraps a scriptedPeripheral but always builds its reply
// frame addressed to 0x00, to exercise Exchange's address-mismatch check.
type addrSwappingLink struct {
	*scriptedPeripheral
}

func (l *addrSwappingLink) Write(b []byte) (int, error) {
	body := destuff(b[1:])
	_, seq, payload, err := parseFrame(body)
	if err != nil {
		return 0, err
	}
	status, data, _ := l.respond(1, 0x00, payload[0], payload[1:])
	respPayload := append([]byte{status}, data...)
	frame, err := buildFrame(0x00, seq, respPayload)
	if err != nil {
		return 0, err
	}
	l.inbound.Write(frame)
	return len(b), nil
}
