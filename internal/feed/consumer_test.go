package feed

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/learning"
)

type sinkSpy struct {
	outcomes []learning.Outcome
}

func (s *sinkSpy) RecordOutcome(o learning.Outcome) *learning.Report {
	s.outcomes = append(s.outcomes, o)
	return &learning.Report{
		DecisionID: o.DecisionID,
		Updated:    []string{"mathematical-intuition"},
	}
}

// newTestConsumer builds a consumer that never reads; processMessage is
// exercised directly. The reader dials lazily, so the fake broker is safe.
func newTestConsumer(t *testing.T, sink OutcomeSink) *OutcomeConsumer {
	t.Helper()
	cfg := DefaultConsumerConfig()
	cfg.Brokers = []string{"127.0.0.1:9092"}
	c := NewOutcomeConsumer(&cfg, sink)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOutcomeConsumerAppliesClosedTrade(t *testing.T) {
	sink := &sinkSpy{}
	c := newTestConsumer(t, sink)

	payload := `{
		"event_type": "TRADE_CLOSED",
		"data": {
			"decision_id": "d-1042",
			"symbol": "BTCUSD",
			"actual_direction": 1,
			"actual_magnitude": 0.021,
			"actual_pnl": "1.35",
			"closed_at": "2026-08-20T14:30:00Z"
		}
	}`

	if err := c.processMessage(kafka.Message{Value: []byte(payload)}); err != nil {
		t.Fatalf("processMessage: %v", err)
	}

	if len(sink.outcomes) != 1 {
		t.Fatalf("sink received %d outcomes, want 1", len(sink.outcomes))
	}
	o := sink.outcomes[0]
	if o.DecisionID != "d-1042" {
		t.Errorf("decision id = %q, want d-1042", o.DecisionID)
	}
	if o.Symbol != "BTCUSD" {
		t.Errorf("symbol = %q, want BTCUSD", o.Symbol)
	}
	if o.ActualDirection != 1 {
		t.Errorf("direction = %v, want 1", o.ActualDirection)
	}
	if !o.ActualPnL.Equal(decimal.RequireFromString("1.35")) {
		t.Errorf("pnl = %s, want 1.35", o.ActualPnL)
	}
	want := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)
	if !o.ClosedAt.Equal(want) {
		t.Errorf("closed at = %s, want %s", o.ClosedAt, want)
	}
}

func TestOutcomeConsumerIgnoresOtherEventTypes(t *testing.T) {
	sink := &sinkSpy{}
	c := newTestConsumer(t, sink)

	payload := `{"event_type":"ORDER_FILLED","data":{"decision_id":"d-1","actual_pnl":"0.10"}}`
	if err := c.processMessage(kafka.Message{Value: []byte(payload)}); err != nil {
		t.Fatalf("processMessage: %v", err)
	}
	if len(sink.outcomes) != 0 {
		t.Errorf("sink received %d outcomes for a non-close event, want 0", len(sink.outcomes))
	}
}

func TestOutcomeConsumerRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"bad json", `{"event_type": "TRADE_CLOSED", "data": {`},
		{"missing decision id", `{"event_type":"TRADE_CLOSED","data":{"symbol":"BTCUSD","actual_pnl":"1.0"}}`},
		{"bad pnl", `{"event_type":"TRADE_CLOSED","data":{"decision_id":"d-2","actual_pnl":"one dollar"}}`},
		{"empty pnl", `{"event_type":"TRADE_CLOSED","data":{"decision_id":"d-3"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &sinkSpy{}
			c := newTestConsumer(t, sink)

			if err := c.processMessage(kafka.Message{Value: []byte(tc.payload)}); err == nil {
				t.Fatal("expected an error")
			}
			if len(sink.outcomes) != 0 {
				t.Errorf("sink received %d outcomes from a malformed payload, want 0", len(sink.outcomes))
			}
		})
	}
}

func TestDecodeOutcomeDefaultsCloseTime(t *testing.T) {
	before := time.Now()
	o, err := decodeOutcome(outcomeData{
		DecisionID: "d-7",
		Symbol:     "ETHUSD",
		ActualPnL:  "-0.47",
	})
	if err != nil {
		t.Fatalf("decodeOutcome: %v", err)
	}

	if o.ClosedAt.Before(before) || o.ClosedAt.After(time.Now()) {
		t.Errorf("closed at %s not defaulted to now", o.ClosedAt)
	}
	if !o.ActualPnL.Equal(decimal.RequireFromString("-0.47")) {
		t.Errorf("pnl = %s, want -0.47", o.ActualPnL)
	}
}
