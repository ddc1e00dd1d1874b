package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/learning"
)

// OutcomeSink receives closed-trade outcomes decoded off the bus. The
// engine's RecordOutcome satisfies it.
type OutcomeSink interface {
	RecordOutcome(outcome learning.Outcome) *learning.Report
}

// ConsumerConfig holds the outcome bus tunables.
type ConsumerConfig struct {
	// Brokers list; empty disables the consumer, so construction is gated
	// on it being non-empty.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" default:"trade.outcomes"`
	GroupID string   `yaml:"group_id" default:"fusion-engine"`
}

// DefaultConsumerConfig returns the stock consumer tunables with no
// brokers configured.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Topic:   "trade.outcomes",
		GroupID: "fusion-engine",
	}
}

// eventTradeClosed is the only event type the consumer acts on. Producers
// share the topic with fills and cancels.
const eventTradeClosed = "TRADE_CLOSED"

// outcomeEvent is the wire envelope for one message on the outcome topic.
type outcomeEvent struct {
	EventType string      `json:"event_type"`
	Data      outcomeData `json:"data"`
}

// outcomeData carries the closed trade. PnL travels as a string so
// producers in any language keep exact decimals.
type outcomeData struct {
	DecisionID      string    `json:"decision_id"`
	Symbol          string    `json:"symbol"`
	ActualDirection float64   `json:"actual_direction"`
	ActualMagnitude float64   `json:"actual_magnitude"`
	ActualPnL       string    `json:"actual_pnl"`
	ClosedAt        time.Time `json:"closed_at"`
}

// OutcomeConsumer replays closed trades from the outcome topic into the
// sink so weights keep tracking realized performance.
type OutcomeConsumer struct {
	reader *kafka.Reader
	sink   OutcomeSink
	logger zerolog.Logger
}

// NewOutcomeConsumer creates a consumer bound to the outcome topic. Only
// new messages are read; historical outcomes were already learned.
func NewOutcomeConsumer(cfg *ConsumerConfig, sink OutcomeSink) *OutcomeConsumer {
	if cfg == nil {
		c := DefaultConsumerConfig()
		cfg = &c
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID + "-outcomes",
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})

	return &OutcomeConsumer{
		reader: reader,
		sink:   sink,
		logger: log.With().Str("component", "outcome_consumer").Logger(),
	}
}

// Start consumes until ctx is cancelled. Malformed messages are logged and
// skipped; the consumer never stops over a bad payload.
func (c *OutcomeConsumer) Start(ctx context.Context) error {
	c.logger.Info().Str("topic", c.reader.Config().Topic).Msg("outcome consumer starting")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("outcome consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.reader.Close()
				}
				c.logger.Error().Err(err).Msg("outcome read error")
				continue
			}

			if err := c.processMessage(msg); err != nil {
				c.logger.Error().Err(err).
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("outcome message dropped")
			}
		}
	}
}

func (c *OutcomeConsumer) processMessage(msg kafka.Message) error {
	var event outcomeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal outcome event: %w", err)
	}

	if event.EventType != eventTradeClosed {
		c.logger.Debug().Str("event_type", event.EventType).Msg("ignoring event type")
		return nil
	}

	outcome, err := decodeOutcome(event.Data)
	if err != nil {
		return err
	}

	rep := c.sink.RecordOutcome(outcome)

	c.logger.Info().
		Str("decision_id", outcome.DecisionID).
		Str("symbol", outcome.Symbol).
		Int("updated", len(rep.Updated)).
		Int("skipped", len(rep.Skipped)).
		Msg("outcome applied")
	return nil
}

// decodeOutcome converts the wire payload into a learner outcome. PnL must
// parse exactly; a missing close time defaults to now.
func decodeOutcome(d outcomeData) (learning.Outcome, error) {
	if d.DecisionID == "" {
		return learning.Outcome{}, fmt.Errorf("outcome event missing decision_id")
	}

	pnl, err := decimal.NewFromString(d.ActualPnL)
	if err != nil {
		return learning.Outcome{}, fmt.Errorf("invalid actual_pnl %q: %w", d.ActualPnL, err)
	}

	closedAt := d.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}

	return learning.Outcome{
		DecisionID:      d.DecisionID,
		Symbol:          d.Symbol,
		ActualDirection: d.ActualDirection,
		ActualMagnitude: d.ActualMagnitude,
		ActualPnL:       pnl,
		ClosedAt:        closedAt,
	}, nil
}

// Close closes the underlying reader.
func (c *OutcomeConsumer) Close() error {
	return c.reader.Close()
}
