package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// subjectPrefix roots every event subject:
// moodswing.events.<type>.<market_id>.
const subjectPrefix = "moodswing.events"

// NATSNotifier publishes events to a JetStream stream. Publishing is
// synchronous but failures are swallowed after logging: event delivery
// must never roll back a committed trade or payout.
type NATSNotifier struct {
	js     nats.JetStreamContext
	logger *slog.Logger
}

// NewNATSNotifier connects the JetStream context and ensures the event
// stream exists with the expected subject space.
func NewNATSNotifier(nc *nats.Conn, streamName string, logger *slog.Logger) (*NATSNotifier, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	_, err = js.StreamInfo(streamName)
	if err == nats.ErrStreamNotFound {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjectPrefix + ".>"},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	return &NATSNotifier{js: js, logger: logger}, nil
}

func (n *NATSNotifier) BetFilled(ctx context.Context, e BetFilled) {
	n.publish(ctx, EventBetFilled, e.MarketID, e)
}

func (n *NATSNotifier) MarketResolved(ctx context.Context, e MarketResolved) {
	n.publish(ctx, EventMarketResolved, e.MarketID, e)
}

func (n *NATSNotifier) PayoutApplied(ctx context.Context, e PayoutApplied) {
	n.publish(ctx, EventPayoutApplied, e.MarketID, e)
}

func (n *NATSNotifier) publish(ctx context.Context, eventType, marketID string, payload any) {
	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, eventType, marketID)
	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("event marshal failed", "subject", subject, "error", err)
		return
	}
	if _, err := n.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		n.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
