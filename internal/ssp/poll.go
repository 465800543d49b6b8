package ssp

import "fmt"

// PollEventCode identifies one SSP6 poll event (§4.2's event table).
type PollEventCode byte

const (
	EventReset               PollEventCode = 0xF1
	EventRead                PollEventCode = 0xEF
	EventCredit              PollEventCode = 0xEE
	EventRejecting           PollEventCode = 0xED
	EventRejected            PollEventCode = 0xEC
	EventStacking            PollEventCode = 0xCC
	EventStored              PollEventCode = 0xEB
	EventStacked             PollEventCode = 0xEA
	EventSafeJam             PollEventCode = 0xE9
	EventUnsafeJam           PollEventCode = 0xE8
	EventDisabled            PollEventCode = 0xE6
	EventFraudAttempt        PollEventCode = 0xE4
	EventStackerFull         PollEventCode = 0xE7
	EventCashboxRemoved      PollEventCode = 0xE3
	EventCashboxReplaced     PollEventCode = 0xE2
	EventClearedFromFront    PollEventCode = 0xE1
	EventClearedIntoCashbox  PollEventCode = 0xE0
	EventCalibrationFail     PollEventCode = 0xE5
	EventDispensing          PollEventCode = 0xDA
	EventDispensed           PollEventCode = 0xD2
	EventFloating            PollEventCode = 0xDC
	EventFloated             PollEventCode = 0xD4
	EventCashboxPaid         PollEventCode = 0xD1
	EventJammed              PollEventCode = 0xD5
	EventCoinCredit          PollEventCode = 0xD6
	EventEmpty               PollEventCode = 0xD3
	EventEmptying            PollEventCode = 0xD7
	EventSmartEmptying       PollEventCode = 0xDE
	EventSmartEmptied        PollEventCode = 0xDF
	EventIncompletePayout    PollEventCode = 0xD8
	EventIncompleteFloat     PollEventCode = 0xD9
)

// PollEvent is one decoded entry from a poll response (§4.2). Which of
// Channel/Amount/Currency/SubCode are meaningful depends on Code; see
// decodePollEvents.
type PollEvent struct {
	Code      PollEventCode
	Channel   byte
	Amount    uint32
	Requested uint32
	Currency  string
	SubCode   byte
}

// pollEventLayout describes how many bytes of fixed-shape payload follow
// an event code and how to interpret them. It mirrors the table-driven
// TypeID dispatch this engine's codec already uses for commands.
type pollEventLayout struct {
	hasChannel bool
	hasAmount  bool
	hasAmount2 bool
	hasSubCode bool
}

var pollLayouts = map[PollEventCode]pollEventLayout{
	EventReset:              {},
	EventRead:                {hasChannel: true},
	EventCredit:              {hasChannel: true},
	EventRejecting:           {},
	EventRejected:            {},
	EventStacking:            {},
	EventStored:              {},
	EventStacked:             {},
	EventSafeJam:             {},
	EventUnsafeJam:           {},
	EventDisabled:            {},
	EventFraudAttempt:        {hasAmount: true},
	EventStackerFull:         {},
	EventCashboxRemoved:      {},
	EventCashboxReplaced:     {},
	EventClearedFromFront:    {},
	EventClearedIntoCashbox:  {},
	EventCalibrationFail:     {hasSubCode: true},
	EventDispensing:          {hasAmount: true},
	EventDispensed:           {hasAmount: true},
	EventFloating:            {hasAmount: true},
	EventFloated:             {hasAmount: true},
	EventCashboxPaid:         {hasAmount: true},
	EventJammed:              {},
	EventCoinCredit:          {hasAmount: true},
	EventEmpty:               {},
	EventEmptying:            {},
	EventSmartEmptying:       {hasAmount: true},
	EventSmartEmptied:        {hasAmount: true},
	EventIncompletePayout:    {hasAmount: true, hasAmount2: true},
	EventIncompleteFloat:     {hasAmount: true, hasAmount2: true},
}

// decodePollEvents walks a poll response body, which is a flat sequence
// of one-byte event codes each optionally followed by a fixed-shape
// payload (§4.2). An unrecognized code is treated as a zero-length
// event rather than aborting the whole batch, since a future firmware
// revision adding an event code should degrade gracefully instead of
// losing the rest of the poll.
func decodePollEvents(data []byte) ([]PollEvent, error) {
	var events []PollEvent
	c := cursor{b: data}
	for c.remaining() > 0 {
		code := PollEventCode(c.byte())
		layout, known := pollLayouts[code]
		ev := PollEvent{Code: code}
		if !known {
			events = append(events, ev)
			continue
		}
		if layout.hasChannel {
			if c.remaining() < 1 {
				return events, fmt.Errorf("ssp: poll event %02x: truncated channel", byte(code))
			}
			ev.Channel = c.byte()
		}
		if layout.hasAmount {
			if c.remaining() < 4 {
				return events, fmt.Errorf("ssp: poll event %02x: truncated amount", byte(code))
			}
			ev.Amount = c.u32()
		}
		if layout.hasAmount2 {
			if c.remaining() < 4 {
				return events, fmt.Errorf("ssp: poll event %02x: truncated second amount", byte(code))
			}
			ev.Requested = c.u32()
		}
		if layout.hasAmount || layout.hasAmount2 {
			if c.remaining() < 3 {
				return events, fmt.Errorf("ssp: poll event %02x: truncated currency", byte(code))
			}
			ev.Currency = c.ascii(3)
		}
		if layout.hasSubCode {
			if c.remaining() < 1 {
				return events, fmt.Errorf("ssp: poll event %02x: truncated subcode", byte(code))
			}
			ev.SubCode = c.byte()
		}
		events = append(events, ev)
	}
	return events, nil
}
