// Package cmd provides shared factories for the weft binaries.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/weftflow/weft/pkg/channels/gochannel"
	"github.com/weftflow/weft/pkg/channels/kafka"
	"github.com/weftflow/weft/pkg/eventbus"
)

// NewEventBus creates the execution event bus for the given provider. The
// in-process gochannel is the default; kafka is for deployments where
// execution events must also reach external consumers.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, "weft")
		if err != nil {
			panic(fmt.Errorf("failed to create kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("unsupported event bus provider: " + provider)
	}
}
