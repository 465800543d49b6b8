package router

import (
	"encoding/json"
	"testing"

	"github.com/metacash/ssp6d/internal/ssp"
)

func TestChannelMaskParsesDigits(t *testing.T) {
	got := channelMask(map[string]any{"channels": "135"})
	want := byte(1<<0 | 1<<2 | 1<<4) // 0x15
	if got != want {
		t.Fatalf("channelMask(\"135\") = 0x%02X, want 0x%02X", got, want)
	}
}

func TestChannelMaskIgnoresOutOfRangeDigits(t *testing.T) {
	got := channelMask(map[string]any{"channels": "09"})
	if got != 0 {
		t.Fatalf("channelMask(\"09\") = 0x%02X, want 0x00", got)
	}
}

func TestChannelMaskEmptyFieldIsZero(t *testing.T) {
	if got := channelMask(map[string]any{}); got != 0 {
		t.Fatalf("channelMask(missing) = 0x%02X, want 0", got)
	}
}

func TestAmountFieldTruncatesFloat(t *testing.T) {
	got := amountField(map[string]any{"amount": 1999.9})
	if got != 1999 {
		t.Fatalf("amountField(1999.9) = %d, want 1999", got)
	}
}

func TestAmountFieldMissingIsZero(t *testing.T) {
	if got := amountField(map[string]any{}); got != 0 {
		t.Fatalf("amountField(missing) = %d, want 0", got)
	}
}

func TestPayoutReplyOK(t *testing.T) {
	got := payoutReply(nil)
	if got["result"] != "ok" {
		t.Fatalf("payoutReply(nil) = %+v, want ok", got)
	}
}

func TestPayoutReplyMapsKnownReason(t *testing.T) {
	err := &ssp.ProtocolFailError{Status: 0xF5, Data: []byte{byte(ssp.ReasonSmartPayoutBusy)}}
	got := payoutReply(err)
	if got["error"] != "smart payout busy" {
		t.Fatalf("payoutReply(busy) = %+v, want error=smart payout busy", got)
	}
}

func TestPayoutReplyFallsBackOnNonProtocolFail(t *testing.T) {
	got := payoutReply(&ssp.TransportError{Kind: ssp.KindTimeout})
	if got["result"] != "failed" {
		t.Fatalf("payoutReply(transport error) = %+v, want result=failed", got)
	}
}

func TestAcceptedReportsErrorMessage(t *testing.T) {
	got := accepted(&ssp.TransportError{Kind: ssp.KindIO})
	if _, has := got["error"]; !has {
		t.Fatalf("accepted(err) = %+v, want an error field", got)
	}
}

func TestAcceptedOKCase(t *testing.T) {
	got := accepted(nil)
	if got["accepted"] != "true" {
		t.Fatalf("accepted(nil) = %+v, want accepted=true", got)
	}
}

func TestResultOfMapsErrorToFailed(t *testing.T) {
	if got := resultOf(nil); got["result"] != "ok" {
		t.Fatalf("resultOf(nil) = %+v", got)
	}
	if got := resultOf(&ssp.TransportError{Kind: ssp.KindIO}); got["result"] != "failed" {
		t.Fatalf("resultOf(err) = %+v", got)
	}
}

func TestSecurityNameMapping(t *testing.T) {
	cases := map[byte]string{
		ssp.SecuritySafe:           "safe",
		ssp.SecurityNotSafe:        "not-safe",
		ssp.SecurityNotImplemented: "not-implemented",
		0x7F:                       "not-implemented",
	}
	for code, want := range cases {
		if got := securityName(code); got != want {
			t.Errorf("securityName(0x%02X) = %q, want %q", code, got, want)
		}
	}
}

func TestLineOfEstimatesLineFromSyntaxError(t *testing.T) {
	raw := []byte("{\n  \"a\": ,\n}")
	var fields map[string]any
	err := json.Unmarshal(raw, &fields)
	if err == nil {
		t.Fatal("expected a parse error from malformed json")
	}
	if line := lineOf(raw, err); line < 1 {
		t.Fatalf("lineOf = %d, want >= 1", line)
	}
}
