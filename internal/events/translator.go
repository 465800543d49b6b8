// Package events maps decoded SSP6 poll events onto the JSON-ready
// domain events the bus publishes (§4.5). Translation is a pure
// function of (role, raw event, cached setup report); the one
// specified side effect, re-running calibration, is reached through a
// narrow Recalibrator interface rather than the full device, so the
// mapping itself stays trivially testable.
package events

import (
	"fmt"

	"github.com/metacash/ssp6d/internal/device"
	"github.com/metacash/ssp6d/internal/ssp"
)

// DomainEvent is a JSON-ready event payload; always carries "event" and
// whatever fields the table below specifies.
type DomainEvent map[string]any

// Recalibrator is the single side effect a translation can trigger.
type Recalibrator interface {
	RunCalibration() error
}

// calibrationFailReasons maps the calibration-fail sub-code (§4.2) to
// the literal error string the original daemon published.
var calibrationFailReasons = []string{
	"no error",
	"sensor flap",
	"sensor exit",
	"sensor coil 1",
	"sensor coil 2",
	"not initialized",
	"checksum error",
}

const subCodeCommandRecal = 7

// Translate maps one decoded poll event to zero or more domain events,
// per role and the device's cached setup report (§4.5). recal may be
// nil; RunCalibration is only invoked when it's non-nil and the
// recalibrate sub-code is observed on a calibration-fail event.
func Translate(role device.Role, ev ssp.PollEvent, report *ssp.SetupReport, recal Recalibrator) []DomainEvent {
	switch ev.Code {
	case ssp.EventReset:
		return []DomainEvent{{"event": "unit reset"}}

	case ssp.EventRead:
		if ev.Channel == 0 {
			return []DomainEvent{{"event": "reading"}}
		}
		if role == device.RoleHopper {
			return []DomainEvent{{"event": "read", "channel": ev.Channel}}
		}
		return []DomainEvent{{"event": "read", "amount": channelAmount(report, ev.Channel), "channel": ev.Channel}}

	case ssp.EventCredit:
		if role == device.RoleHopper {
			return []DomainEvent{{"event": "credit", "channel": ev.Channel, "cc": ev.Currency}}
		}
		return []DomainEvent{{"event": "credit", "amount": channelAmount(report, ev.Channel), "channel": ev.Channel}}

	case ssp.EventDispensing:
		return []DomainEvent{{"event": "dispensing", "amount": ev.Amount, "cc": ev.Currency}}
	case ssp.EventDispensed:
		return []DomainEvent{{"event": "dispensed", "amount": ev.Amount, "cc": ev.Currency}}
	case ssp.EventCoinCredit:
		return []DomainEvent{{"event": "coin credit", "amount": ev.Amount, "cc": ev.Currency}}
	case ssp.EventCashboxPaid:
		return []DomainEvent{{"event": "cashbox paid", "amount": ev.Amount, "cc": ev.Currency}}
	case ssp.EventFloating:
		return []DomainEvent{{"event": "floating", "amount": ev.Amount, "cc": ev.Currency}}
	case ssp.EventFloated:
		return []DomainEvent{{"event": "floated", "amount": ev.Amount, "cc": ev.Currency}}
	case ssp.EventSmartEmptying:
		return []DomainEvent{{"event": "smart emptying", "amount": ev.Amount, "cc": ev.Currency}}
	case ssp.EventSmartEmptied:
		return []DomainEvent{{"event": "smart emptied", "amount": ev.Amount, "cc": ev.Currency}}

	case ssp.EventIncompletePayout:
		return []DomainEvent{{"event": "incomplete payout", "dispensed": ev.Amount, "requested": ev.Requested, "cc": ev.Currency}}
	case ssp.EventIncompleteFloat:
		return []DomainEvent{{"event": "incomplete float", "dispensed": ev.Amount, "requested": ev.Requested, "cc": ev.Currency}}

	case ssp.EventCalibrationFail:
		return translateCalibrationFail(ev, recal)

	case ssp.EventStacked:
		return literal("stacked")
	case ssp.EventStored:
		return literal("stored")
	case ssp.EventRejected:
		return literal("rejected")
	case ssp.EventStacking:
		return literal("stacking")
	case ssp.EventRejecting:
		return literal("rejecting")
	case ssp.EventSafeJam:
		return literal("safe jam")
	case ssp.EventUnsafeJam:
		return literal("unsafe jam")
	case ssp.EventStackerFull:
		return literal("stacker full")
	case ssp.EventCashboxRemoved:
		return literal("cash box removed")
	case ssp.EventCashboxReplaced:
		return literal("cash box replaced")
	case ssp.EventClearedFromFront:
		return literal("cleared from front")
	case ssp.EventClearedIntoCashbox:
		return literal("cleared into cashbox")

	case ssp.EventEmpty:
		return literal("empty")
	case ssp.EventEmptying:
		return literal("emptying")
	case ssp.EventDisabled:
		return literal("disabled")
	case ssp.EventJammed:
		return literal("jammed")

	case ssp.EventFraudAttempt:
		if role == device.RoleValidator {
			return []DomainEvent{{"event": "fraud attempt", "dispensed": ev.Amount}}
		}
		return literal("fraud attempt")

	default:
		return []DomainEvent{{"event": "unknown", "id": fmt.Sprintf("0x%02X", byte(ev.Code))}}
	}
}

func literal(name string) []DomainEvent {
	return []DomainEvent{{"event": name}}
}

func channelAmount(report *ssp.SetupReport, channel byte) uint32 {
	if report == nil || int(channel) == 0 || int(channel) > len(report.Channels) {
		return 0
	}
	return report.Channels[channel-1].Value * 100
}

func translateCalibrationFail(ev ssp.PollEvent, recal Recalibrator) []DomainEvent {
	sub := int(ev.SubCode)
	if sub == subCodeCommandRecal {
		if recal != nil {
			_ = recal.RunCalibration()
		}
		return []DomainEvent{{"event": "recalibrating"}}
	}
	reason := "unknown"
	if sub >= 0 && sub < len(calibrationFailReasons) {
		reason = calibrationFailReasons[sub]
	}
	return []DomainEvent{{"event": "calibration fail", "error": reason}}
}
