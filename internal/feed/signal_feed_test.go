package feed

import (
	"testing"
	"time"
)

func TestDecodeSignal(t *testing.T) {
	payload := []byte(`{
		"id": "sig-1",
		"symbol": "btcusdt",
		"side": "long",
		"confidence": 0.8,
		"reference_price": 50000,
		"tradable": true,
		"real_data": true,
		"generated_at": "2026-09-01T12:00:00Z"
	}`)

	sig, err := decodeSignal(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sig.Symbol != "BTCUSDT" || string(sig.Side) != "LONG" {
		t.Fatalf("symbol/side not normalized: %s %s", sig.Symbol, sig.Side)
	}
	want := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if !sig.GeneratedAt.Equal(want) {
		t.Fatalf("generated_at = %v, want %v", sig.GeneratedAt, want)
	}
	if !sig.Complete() {
		t.Fatalf("well-formed payload must be complete: %+v", sig)
	}
}

func TestDecodeSignalMissingTimestampIsIncomplete(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "absent",
			payload: `{"id":"sig-1","symbol":"BTCUSDT","side":"LONG","confidence":0.8,"reference_price":50000,"tradable":true,"real_data":true}`,
		},
		{
			name:    "unparseable",
			payload: `{"id":"sig-1","symbol":"BTCUSDT","side":"LONG","confidence":0.8,"reference_price":50000,"tradable":true,"real_data":true,"generated_at":"yesterday-ish"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := decodeSignal([]byte(tt.payload))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			// A corrupt timestamp must not be replaced with ingest time;
			// that would present a stale replay as brand new.
			if !sig.GeneratedAt.IsZero() {
				t.Fatalf("generated_at = %v, want zero", sig.GeneratedAt)
			}
			if sig.Complete() {
				t.Fatal("signal without a producer timestamp must be incomplete")
			}
		})
	}
}

func TestDecodeSignalAssignsIDOnIngest(t *testing.T) {
	btc := `{"symbol":"BTCUSDT","side":"LONG","confidence":0.8,"reference_price":50000,"tradable":true,"real_data":true,"generated_at":"2026-09-01T12:00:00Z"}`
	eth := `{"symbol":"ETHUSDT","side":"SHORT","confidence":0.7,"reference_price":3000,"tradable":true,"real_data":true,"generated_at":"2026-09-01T12:00:01Z"}`

	first, err := decodeSignal([]byte(btc))
	if err != nil {
		t.Fatalf("decode btc: %v", err)
	}
	second, err := decodeSignal([]byte(eth))
	if err != nil {
		t.Fatalf("decode eth: %v", err)
	}

	if first.ID == "" || second.ID == "" {
		t.Fatal("ingest must assign an ID when the producer omits one")
	}
	// Distinct candidates must never share a dedup key.
	if first.ID == second.ID {
		t.Fatalf("both signals got ID %q", first.ID)
	}
}
