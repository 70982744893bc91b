package web

import (
	"bufio"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v3"

	"github.com/weftflow/weft/pkg/events"
	"github.com/weftflow/weft/pkg/sse"
)

var errStreamClosed = errors.New("stream closed")

// streamHandle adapts one open SSE response to the broker's Handle contract.
// Send is called from broker goroutines; writes are serialized and the first
// failure closes the stream for good.
type streamHandle struct {
	mu     sync.Mutex
	writer *bufio.Writer
	closed chan struct{}
	once   sync.Once
}

func newStreamHandle(writer *bufio.Writer) *streamHandle {
	return &streamHandle{
		writer: writer,
		closed: make(chan struct{}),
	}
}

func (h *streamHandle) Send(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.closed:
		return errStreamClosed
	default:
	}

	if _, err := h.writer.Write(frame); err != nil {
		h.close()

		return err
	}

	if err := h.writer.Flush(); err != nil {
		h.close()

		return err
	}

	return nil
}

func (h *streamHandle) close() {
	h.once.Do(func() {
		close(h.closed)
	})
}

// StreamEvents opens the per-recipient SSE stream. The connection stays up
// until the client disconnects or delivery fails; stale entries are also
// swept by the broker's reaper.
func (h *APIHandlers) StreamEvents(c fiber.Ctx) error {
	recipientID := c.Query("recipientId", anonymousRecipient)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	h.logger.Info("SSE connection opened", "recipient_id", recipientID)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		handle := newStreamHandle(w)

		unregister := h.broker.Register(recipientID, handle)
		defer unregister()

		frame := sse.Frame(map[string]any{
			"type":        string(events.ConnectedEvent),
			"recipientId": recipientID,
		})
		if err := handle.Send(frame); err != nil {
			h.logger.Warn("Failed to send connected event",
				"recipient_id", recipientID, "error", err)

			return
		}

		<-handle.closed

		h.logger.Info("SSE connection closed", "recipient_id", recipientID)
	})
}
