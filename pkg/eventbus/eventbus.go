// Package eventbus decouples the execution engine from the delivery
// transport: the engine publishes execution events onto a message channel
// keyed by recipient, and a forwarder on the other side rebroadcasts them to
// open subscriber connections.
package eventbus

import (
	"context"

	"github.com/weftflow/weft/pkg/events"
)

type EventHandler func(ctx context.Context, recipientID string, event events.Event) error

type EventPublisher interface {
	Publish(ctx context.Context, recipientID string, event events.Event) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
