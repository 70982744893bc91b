package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/weftflow/weft/pkg/events"
	"github.com/weftflow/weft/pkg/sse"
)

// Forwarder reads execution events off the bus and rebroadcasts each to the
// recipient's open SSE subscribers. It is the only component that touches
// both sides; neither the engine nor the broker knows about the other.
type Forwarder struct {
	bus    EventSubscriber
	broker *sse.Broker
	logger *slog.Logger
}

func NewForwarder(bus EventSubscriber, broker *sse.Broker, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		bus:    bus,
		broker: broker,
		logger: logger.With("module", "event_forwarder"),
	}
}

// Start subscribes to the execution event topic. Delivery runs until ctx is
// cancelled or the bus closes.
func (f *Forwarder) Start(ctx context.Context) error {
	return f.bus.Subscribe(ctx, func(_ context.Context, recipientID string, event events.Event) error {
		payload, err := toMap(event)
		if err != nil {
			f.logger.Error("Failed to flatten event", "error", err)

			// A malformed event must not wedge the stream.
			return nil
		}

		f.broker.BroadcastTo(recipientID, payload)

		return nil
	})
}

// toMap flattens a typed event into the loose JSON object the SSE layer
// broadcasts.
func toMap(event events.Event) (map[string]any, error) {
	encoded, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return nil, err
	}

	return payload, nil
}
