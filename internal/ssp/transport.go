// Package ssp implements the SSP6 protocol engine: frame-level I/O,
// command/response encoding, encryption negotiation, and the poll-event
// decoder, against two addressed peripherals sharing one serial link.
package ssp

import (
	"bufio"
	"io"
	"sync"
	"time"
)

// RetryLevel is the number of retransmissions attempted on a framing
// failure before an exchange gives up (§4.1).
const RetryLevel = 3

// ExchangeTimeout is the per-exchange timeout of §4.1.
const ExchangeTimeout = 1000 * time.Millisecond

// HardwareWait is the inter-command recovery window the peripherals
// need (§4.4); it applies to every SSP exchange, not only polls, so it
// lives here rather than in the poll scheduler.
const HardwareWait = 300 * time.Millisecond

// deadlineSetter is implemented by connections that support read
// deadlines (e.g. *net.TCPConn; serialport.Port does not implement it).
// Transport degrades gracefully when the underlying link doesn't.
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// Transport is the SSP6 framing/retry/sequencing layer built on top of a
// raw byte link (a serialport.Port in production, an io.ReadWriter in
// tests). Exactly one Exchange runs at a time; callers serialize access
// via the returned mutex-backed API.
type Transport struct {
	link io.ReadWriter
	r    *bufio.Reader

	mu  sync.Mutex
	seq map[byte]bool
	enc map[byte]*encState

	waitMu       sync.Mutex
	lastExchange time.Time
}

type encState struct {
	key     Key
	counter uint32
}

// NewTransport wraps link (already open and configured) in the SSP6
// protocol engine.
func NewTransport(link io.ReadWriter) *Transport {
	return &Transport{
		link: link,
		r:    bufio.NewReader(link),
		seq:  make(map[byte]bool),
		enc:  make(map[byte]*encState),
	}
}

// SetKey installs the session key to use for encrypted exchanges with
// addr, resetting its encryption counter. Called after a successful
// setup_encryption negotiation.
func (t *Transport) SetKey(addr byte, key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enc[addr] = &encState{key: key}
}

// Exchange performs one SSP6 command/response round trip with addr,
// retrying on framing failure up to RetryLevel times. The sequence bit is
// only advanced on a response that was successfully framed; retries do
// not advance it (§4.1). If encrypted is true and no key has been set via
// SetKey, Exchange returns an error — callers should negotiate a key
// first.
func (t *Transport) Exchange(addr byte, payload []byte, encrypted bool) (Response, error) {
	t.waitHardware()

	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.seq[addr]

	wire := payload
	var exchangeCounter uint32
	if encrypted {
		st := t.enc[addr]
		if st == nil {
			return Response{}, &TransportError{Kind: KindIO, Err: errNoKey}
		}
		exchangeCounter = st.counter
		wire = encryptPayload(st.key, exchangeCounter, payload)
	}

	var lastErr error
	for attempt := 0; attempt <= RetryLevel; attempt++ {
		frame, err := buildFrame(addr, seq, wire)
		if err != nil {
			return Response{}, &TransportError{Kind: KindIO, Err: err}
		}
		if _, err := t.link.Write(frame); err != nil {
			lastErr = &TransportError{Kind: KindIO, Err: err}
			continue
		}

		body, err := t.readFrameBody()
		if err != nil {
			lastErr = err
			continue
		}

		rAddr, _, rPayload, err := parseFrame(body)
		if err != nil {
			lastErr = &TransportError{Kind: KindCrcFail, Err: err}
			continue
		}
		if rAddr != addr {
			lastErr = &TransportError{Kind: KindIO, Err: errAddrMismatch}
			continue
		}

		t.seq[addr] = !seq
		if encrypted {
			rPayload = decryptPayload(t.enc[addr].key, exchangeCounter, rPayload)
			t.enc[addr].counter++
		}
		if len(rPayload) == 0 {
			lastErr = &TransportError{Kind: KindIO, Err: errEmptyResponse}
			continue
		}
		return Response{Status: Status(rPayload[0]), Data: rPayload[1:]}, nil
	}

	if lastErr == nil {
		lastErr = &TransportError{Kind: KindTimeout}
	}
	return Response{}, lastErr
}

// waitHardware sleeps out whatever remains of HardwareWait since the
// previous exchange began, without holding the exchange mutex, so a
// queued command isn't blocked on another goroutine's wait.
func (t *Transport) waitHardware() {
	t.waitMu.Lock()
	elapsed := time.Since(t.lastExchange)
	var remaining time.Duration
	if elapsed < HardwareWait {
		remaining = HardwareWait - elapsed
	}
	t.lastExchange = time.Now().Add(remaining)
	t.waitMu.Unlock()

	if remaining > 0 {
		time.Sleep(remaining)
	}
}

// readFrameBody reads one STX-delimited, destuffed frame body (without
// the STX) within ExchangeTimeout.
func (t *Transport) readFrameBody() ([]byte, error) {
	if ds, ok := t.link.(deadlineSetter); ok {
		_ = ds.SetReadDeadline(time.Now().Add(ExchangeTimeout))
		defer ds.SetReadDeadline(time.Time{})
	}

	deadline := time.Now().Add(ExchangeTimeout)

	// Skip to the first STX.
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return nil, &TransportError{Kind: KindTimeout, Err: err}
		}
		if b == stx {
			break
		}
		if time.Now().After(deadline) {
			return nil, &TransportError{Kind: KindTimeout}
		}
	}

	raw := make([]byte, 0, 16)
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return nil, &TransportError{Kind: KindTimeout, Err: err}
		}
		if b == stx {
			// Either stuffing (STX STX) or a spurious STX restarting
			// the frame; peek the next byte to decide.
			nb, err := t.r.ReadByte()
			if err != nil {
				return nil, &TransportError{Kind: KindTimeout, Err: err}
			}
			if nb == stx {
				raw = append(raw, stx)
				continue
			}
			// Not stuffed: nb starts a fresh frame after a stray STX.
			raw = raw[:0]
			raw = append(raw, nb)
			continue
		}
		raw = append(raw, b)

		if len(raw) >= 2 {
			length := int(raw[1])
			if len(raw) == 2+length+2 {
				return raw, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, &TransportError{Kind: KindTimeout}
		}
	}
}
