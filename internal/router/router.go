// Package router implements the JSON command dispatcher (§4.6): it
// parses inbound command envelopes, validates required fields, routes
// to the addressed Device's operations, and publishes correlated
// response and event envelopes.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/metacash/ssp6d/internal/bus"
	"github.com/metacash/ssp6d/internal/device"
	"github.com/metacash/ssp6d/internal/ssp"
)

// Publisher is the subset of *bus.Bus the router needs; narrowed to an
// interface so tests can substitute an in-memory recorder.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Router dispatches command envelopes to the hopper and validator
// devices. Either device may be nil, meaning the corresponding
// peripheral's hardware is unavailable (§7, HardwareUnavailable).
type Router struct {
	Hopper    *device.Device
	Validator *device.Device
	Bus       Publisher
	Log       *slog.Logger

	// Quit is invoked when a "quit" command is accepted, signaling the
	// supervisor to exit the event loop.
	Quit func()
}

var requestToResponseTopic = map[string]string{
	bus.TopicHopperRequest:    bus.TopicHopperResponse,
	bus.TopicValidatorRequest: bus.TopicValidatorResponse,
}

// Dispatch handles one inbound message on topic (§4.6's dispatch(topic,
// raw_json_bytes)).
func (r *Router) Dispatch(ctx context.Context, topic string, raw []byte) {
	if topic == bus.TopicMetacash {
		return
	}

	responseTopic, known := requestToResponseTopic[topic]
	if !known {
		r.Log.Warn("dispatch: unknown topic", "topic", topic)
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		r.reply(ctx, responseTopic, "", map[string]any{
			"error":  "could not parse json",
			"reason": err.Error(),
			"line":   lineOf(raw, err),
		})
		return
	}

	msgID, _ := fields["msgId"].(string)
	cmd, cmdOK := fields["cmd"].(string)
	if msgID == "" || !cmdOK || cmd == "" {
		r.reply(ctx, responseTopic, msgID, map[string]any{"error": "missing required field"})
		return
	}

	dev := r.deviceFor(topic)
	if dev == nil && cmd != "quit" {
		r.reply(ctx, responseTopic, msgID, map[string]any{"error": "hardware unavailable"})
		return
	}

	payload := r.handle(dev, cmd, fields)
	r.reply(ctx, responseTopic, msgID, payload)
}

func (r *Router) deviceFor(topic string) *device.Device {
	switch topic {
	case bus.TopicHopperRequest:
		return r.Hopper
	case bus.TopicValidatorRequest:
		return r.Validator
	default:
		return nil
	}
}

// handle dispatches on cmd and returns the response payload (§4.6
// step 6-7). Unknown commands reply with the literal command string.
func (r *Router) handle(dev *device.Device, cmd string, fields map[string]any) map[string]any {
	switch cmd {
	case "quit":
		if r.Quit != nil {
			r.Quit()
		}
		return ok()

	case "empty":
		return accepted(dev.Empty())
	case "smart-empty":
		return accepted(dev.SmartEmpty())
	case "enable":
		return accepted(dev.Enable())
	case "disable":
		return accepted(dev.Disable())

	case "enable-channels":
		return resultOf(dev.EnableChannels(channelMask(fields)))
	case "disable-channels":
		return resultOf(dev.DisableChannels(channelMask(fields)))
	case "inhibit-channels":
		return resultOf(dev.InhibitChannels(channelMask(fields)))

	case "test-payout":
		return payoutReply(dev.Payout(amountField(fields), "EUR", ssp.OptionTest))
	case "do-payout":
		return payoutReply(dev.Payout(amountField(fields), "EUR", ssp.OptionDo))
	case "test-float":
		return payoutReply(dev.Float(amountField(fields), "EUR", ssp.OptionTest))
	case "do-float":
		return payoutReply(dev.Float(amountField(fields), "EUR", ssp.OptionDo))

	case "get-firmware-version":
		v, err := dev.GetFirmwareVersion()
		if err != nil {
			return failed(err)
		}
		return map[string]any{"version": v}

	case "get-dataset-version":
		v, err := dev.GetDatasetVersion()
		if err != nil {
			return failed(err)
		}
		return map[string]any{"version": v}

	case "channel-security-data":
		data, err := dev.ChannelSecurityData()
		if err != nil {
			return failed(err)
		}
		out := make([]ChannelSecurityJSON, 0, len(data))
		for _, cs := range data {
			out = append(out, ChannelSecurityJSON{Channel: cs.Channel, Security: securityName(cs.Security)})
		}
		return toMap(ChannelSecurityReply{Channels: out})

	case "get-all-levels":
		levels, err := dev.GetAllLevels()
		if err != nil {
			return failed(err)
		}
		out := make([]LevelJSON, 0, len(levels))
		for _, l := range levels {
			out = append(out, LevelJSON{Level: l.Level, Amount: l.Value, Currency: l.Currency})
		}
		return toMap(LevelsReply{Levels: out})

	case "set-denomination-level":
		return setDenominationLevel(dev, fields)

	case "last-reject-note":
		reason, err := dev.LastRejectNote()
		if err != nil {
			return failed(err)
		}
		return map[string]any{"reason": fmt.Sprintf("0x%02X", reason), "code": int(reason)}

	default:
		return map[string]any{"error": "unknown command", "cmd": cmd}
	}
}

// setDenominationLevel implements §4.6's add-then-set compensating
// sequence: when level > 0, a zeroing call precedes the real one and
// only the second result determines the reply.
func setDenominationLevel(dev *device.Device, fields map[string]any) map[string]any {
	level := levelField(fields)
	amount := amountField(fields)
	if level > 0 {
		if err := dev.SetDenominationLevel(0, amount, "EUR"); err != nil {
			return failed(err)
		}
	}
	return resultOf(dev.SetDenominationLevel(level, amount, "EUR"))
}

func (r *Router) reply(ctx context.Context, topic string, correlID string, payload map[string]any) {
	env := map[string]any{"msgId": newUUID()}
	if correlID != "" {
		env["correlId"] = correlID
	}
	for k, v := range payload {
		env[k] = v
	}
	out, err := json.Marshal(env)
	if err != nil {
		r.Log.Error("reply: marshal failed", "error", err)
		return
	}
	if err := r.Bus.Publish(ctx, topic, out); err != nil {
		r.Log.Error("reply: publish failed", "topic", topic, "error", err)
	}
}

func newUUID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func ok() map[string]any     { return map[string]any{"result": "ok"} }
func failedResult() map[string]any { return map[string]any{"result": "failed"} }

func resultOf(err error) map[string]any {
	if err != nil {
		return failedResult()
	}
	return ok()
}

func accepted(err error) map[string]any {
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"accepted": "true"}
}

func failed(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// payoutReply maps a payout/float error's ProtocolFailError data[0]
// reason byte to the literal error strings §4.2 specifies.
func payoutReply(err error) map[string]any {
	if err == nil {
		return ok()
	}
	pf, isProtocolFail := err.(*ssp.ProtocolFailError)
	if !isProtocolFail || len(pf.Data) == 0 {
		return failedResult()
	}
	reason := ssp.PayoutFailReason(pf.Data[0])
	return map[string]any{"error": reason.String()}
}

func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": "internal encoding error"}
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

// channelMask parses the "channels" field: a string of ASCII digits
// '1'..'8', each present digit setting that bit (§4.6). Out-of-range
// digits are ignored; an empty or missing field yields a zero mask.
func channelMask(fields map[string]any) byte {
	s, _ := fields["channels"].(string)
	var mask byte
	for _, r := range s {
		if r < '1' || r > '8' {
			continue
		}
		mask |= 1 << (r - '1')
	}
	return mask
}

// amountField truncates a numeric "amount" field to integer cents
// (§8 boundary behavior).
func amountField(fields map[string]any) uint32 {
	switch v := fields["amount"].(type) {
	case float64:
		return uint32(math.Trunc(v))
	case json.Number:
		f, _ := v.Float64()
		return uint32(math.Trunc(f))
	default:
		return 0
	}
}

func levelField(fields map[string]any) uint16 {
	switch v := fields["level"].(type) {
	case float64:
		return uint16(math.Trunc(v))
	case json.Number:
		f, _ := v.Float64()
		return uint16(math.Trunc(f))
	default:
		return 0
	}
}

// lineOf estimates the 1-based line number a json.Unmarshal error
// occurred at, for the {"error":...,"line":N} reply shape (§4.6).
func lineOf(raw []byte, err error) int {
	var offset int64
	switch e := err.(type) {
	case *json.SyntaxError:
		offset = e.Offset
	case *json.UnmarshalTypeError:
		offset = e.Offset
	default:
		return 1
	}
	if offset <= 0 || offset > int64(len(raw)) {
		return 1
	}
	return bytes.Count(raw[:offset], []byte("\n")) + 1
}
