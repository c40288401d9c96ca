package proto

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	payload := []byte("signed-tx-bytes")
	cases := []Message{
		PaymentRequestMsg{
			Recipient:     "GRECIPIENT",
			GrossAmount:   "100",
			SignedPayload: hex.EncodeToString(payload),
			Originator:    "node-a",
		},
		PaymentRequestMsg{
			Recipient:     "GRECIPIENT",
			GrossAmount:   "12.5",
			SignedPayload: hex.EncodeToString(payload),
			Originator:    "node-a",
			Broadcaster:   "node-b",
		},
		PaymentConfirmationMsg{
			Fingerprint: FingerprintOf(payload).Hex(),
			LedgerID:    "tx-123",
			Status:      StatusConfirmed,
		},
		PaymentConfirmationMsg{
			Fingerprint: FingerprintOf(payload).Hex(),
			Status:      StatusFailed,
		},
		PeerInfoMsg{HasInternet: true, BatteryLevel: 0.42},
		PeerInfoMsg{HasInternet: false, BatteryLevel: BatteryUnknown},
		PingMsg{Nonce: 7},
		BalanceRequestMsg{AccountID: "GACCOUNT"},
		BalanceUpdateMsg{AccountID: "GACCOUNT", Balance: "99.0000001", Sequence: 41},
	}
	for i, m := range cases {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("case %d: Encode failed: %v", i, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("case %d: Decode failed: %v", i, err)
		}
		want, err := Encode(got)
		if err != nil {
			t.Fatalf("case %d: re-Encode failed: %v", i, err)
		}
		if string(want) != string(data) {
			t.Fatalf("case %d: round trip mismatch:\n%s\n%s", i, data, want)
		}
	}
}

func TestDecodeUnknownVariant(t *testing.T) {
	for _, raw := range []string{
		`{"type":"futureThing","x":1}`,
		`{"x":1}`,
	} {
		_, err := Decode([]byte(raw))
		if !errors.Is(err, ErrUnknownVariant) {
			t.Fatalf("expected ErrUnknownVariant for %s, got %v", raw, err)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range [][]byte{
		nil,
		[]byte("not json"),
		[]byte(`{"type":`),
	} {
		if _, err := Decode(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestDecodePaymentRequestValidation(t *testing.T) {
	payload := hex.EncodeToString([]byte("tx"))
	cases := []string{
		`{"type":"paymentRequest","gross_amount":"1","signed_payload":"` + payload + `","originator":"a"}`,
		`{"type":"paymentRequest","recipient":"r","gross_amount":"1","signed_payload":"` + payload + `"}`,
		`{"type":"paymentRequest","recipient":"r","gross_amount":"nope","signed_payload":"` + payload + `","originator":"a"}`,
		`{"type":"paymentRequest","recipient":"r","gross_amount":"1","signed_payload":"zz","originator":"a"}`,
		`{"type":"paymentRequest","recipient":"r","gross_amount":"1","originator":"a"}`,
	}
	for i, raw := range cases {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestDecodeConfirmationValidation(t *testing.T) {
	fp := FingerprintOf([]byte("tx")).Hex()
	cases := []string{
		`{"type":"paymentConfirmation","fingerprint":"short","status":"confirmed"}`,
		`{"type":"paymentConfirmation","fingerprint":"` + fp + `","status":"maybe"}`,
		`{"type":"paymentConfirmation","status":"confirmed"}`,
	}
	for i, raw := range cases {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	payload := []byte("the-exact-signed-bytes")
	a := FingerprintOf(payload)
	b := FingerprintOf(payload)
	if a != b {
		t.Fatalf("fingerprint not stable")
	}
	if a == FingerprintOf([]byte("other")) {
		t.Fatalf("distinct payloads collided")
	}
	parsed, err := ParseFingerprint(a.Hex())
	if err != nil {
		t.Fatalf("ParseFingerprint failed: %v", err)
	}
	if parsed != a {
		t.Fatalf("hex round trip mismatch")
	}
}

func TestConfirmationKeyDistinctPerStatus(t *testing.T) {
	fp := FingerprintOf([]byte("tx"))
	if ConfirmationKey(fp, StatusConfirmed) == ConfirmationKey(fp, StatusFailed) {
		t.Fatalf("confirmed and failed keys collided")
	}
	if ConfirmationKey(fp, StatusConfirmed) == fp {
		t.Fatalf("confirmation key equals request fingerprint")
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"0", 0, true},
		{"100", 100 * AmountScale, true},
		{"12.5", 125_000_000, true},
		{"0.0000001", 1, true},
		{"99.0000001", 990_000_001, true},
		{"", 0, false},
		{"-1", 0, false},
		{"+1", 0, false},
		{"1.", 0, false},
		{"1.00000001", 0, false},
		{"1e3", 0, false},
		{"abc", 0, false},
		{"92233720368547758070", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("ParseAmount(%q) failed: %v", tc.in, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("ParseAmount(%q) expected error", tc.in)
			}
			continue
		}
		if got != tc.want {
			t.Fatalf("ParseAmount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatAmountRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, 10, AmountScale, 125_000_000, 990_000_001, 1_000_000_000} {
		s := FormatAmount(v)
		if strings.HasSuffix(s, "0") && strings.Contains(s, ".") {
			t.Fatalf("FormatAmount(%d) = %q has trailing zero", v, s)
		}
		got, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("ParseAmount(FormatAmount(%d)) failed: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d -> %q -> %d", v, s, got)
		}
	}
}
