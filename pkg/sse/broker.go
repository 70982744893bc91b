// Package sse delivers execution events to remote subscribers over
// server-sent events, fanning out per recipient and tolerating transient
// disconnects.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// How often the broker pings subscribers and sweeps stale entries.
	maintenanceInterval = 30 * time.Second

	// Subscribers with no successful delivery for this long are dropped.
	stalenessThreshold = 60 * time.Second
)

// Handle is one open subscriber connection. Send writes a fully formatted SSE
// frame; an error marks the connection as suspect but is never propagated to
// the event producer.
type Handle interface {
	Send(frame []byte) error
}

type subscriber struct {
	recipientID string
	handle      Handle
	lastSeen    time.Time
	removed     bool
}

// Broker is the process-scoped subscriber registry. Entries are added and
// removed only through Register and the capability it returns.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	logger      *slog.Logger
	now         func() time.Time
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subscribers: make(map[string][]*subscriber),
		logger:      logger.With("module", "sse_broker"),
		now:         time.Now,
	}
}

// Register adds a subscriber under recipientID and returns a capability that
// removes exactly this entry. The returned function is idempotent.
func (b *Broker) Register(recipientID string, handle Handle) func() {
	sub := &subscriber{
		recipientID: recipientID,
		handle:      handle,
		lastSeen:    b.now(),
	}

	b.mu.Lock()
	b.subscribers[recipientID] = append(b.subscribers[recipientID], sub)
	count := len(b.subscribers[recipientID])
	b.mu.Unlock()

	b.logger.Info("Subscriber registered",
		"recipient_id", recipientID,
		"recipient_subscribers", count)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub.removed {
			return
		}

		sub.removed = true
		b.remove(sub)
	}
}

// BroadcastTo delivers data to every subscriber currently registered for
// recipientID, tagging it with a server-assigned timestamp. No subscribers is
// a no-op, not an error. A failed delivery to one subscriber never blocks the
// others and never reaches the caller.
func (b *Broker) BroadcastTo(recipientID string, data map[string]any) {
	frame, err := formatFrame(data, b.now())
	if err != nil {
		b.logger.Error("Failed to encode event", "recipient_id", recipientID, "error", err)

		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[recipientID]
	if len(subs) == 0 {
		b.logger.Debug("No subscribers for recipient", "recipient_id", recipientID)

		return
	}

	for _, sub := range subs {
		b.deliver(sub, frame)
	}
}

// BroadcastToAll delivers data to every subscriber of every recipient.
func (b *Broker) BroadcastToAll(data map[string]any) {
	frame, err := formatFrame(data, b.now())
	if err != nil {
		b.logger.Error("Failed to encode event", "error", err)

		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			b.deliver(sub, frame)
		}
	}
}

// SubscriberCount returns the number of open subscriber entries for one
// recipient, or across all recipients when recipientID is empty.
func (b *Broker) SubscriberCount(recipientID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if recipientID != "" {
		return len(b.subscribers[recipientID])
	}

	total := 0
	for _, subs := range b.subscribers {
		total += len(subs)
	}

	return total
}

// Run pings subscribers and sweeps stale entries until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.BroadcastToAll(map[string]any{"type": "ping"})
			b.sweep()
		}
	}
}

// deliver writes one frame to one subscriber. Caller holds b.mu.
func (b *Broker) deliver(sub *subscriber, frame []byte) {
	if err := sub.handle.Send(frame); err != nil {
		b.logger.Warn("Failed to deliver event",
			"recipient_id", sub.recipientID,
			"error", err)

		return
	}

	sub.lastSeen = b.now()
}

// sweep drops subscribers past the staleness threshold.
func (b *Broker) sweep() {
	cutoff := b.now().Add(-stalenessThreshold)

	b.mu.Lock()
	defer b.mu.Unlock()

	for recipientID, subs := range b.subscribers {
		active := subs[:0]

		for _, sub := range subs {
			if sub.lastSeen.After(cutoff) {
				active = append(active, sub)

				continue
			}

			sub.removed = true
			b.logger.Info("Dropping stale subscriber", "recipient_id", recipientID)
		}

		if len(active) == 0 {
			delete(b.subscribers, recipientID)
		} else {
			b.subscribers[recipientID] = active
		}
	}
}

// remove deletes sub from its recipient's entry list. Caller holds b.mu.
func (b *Broker) remove(sub *subscriber) {
	subs := b.subscribers[sub.recipientID]

	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)

			break
		}
	}

	if len(subs) == 0 {
		delete(b.subscribers, sub.recipientID)
	} else {
		b.subscribers[sub.recipientID] = subs
	}
}

// Frame renders one SSE data frame stamped with the current time, for
// transport-level events sent to a single connection outside the broadcast
// path (the initial connected event).
func Frame(data map[string]any) []byte {
	frame, err := formatFrame(data, time.Now())
	if err != nil {
		return nil
	}

	return frame
}

// formatFrame renders one SSE data frame, stamping the payload with the
// delivery time.
func formatFrame(data map[string]any, now time.Time) ([]byte, error) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}

	payload["timestamp"] = now.UTC().Format(time.RFC3339Nano)

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return fmt.Appendf(nil, "data: %s\n\n", encoded), nil
}
