// Package queue provides a Redis-backed run source: each list entry is a
// full run request popped and scheduled in order of arrival.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/weftflow/weft/pkg/runner"
)

// FireFunc is invoked for every well-formed run request popped off the queue.
type FireFunc func(ctx context.Context, req runner.RunRequest) error

type Source struct {
	Addr     string
	Password string
	DB       int
	Queue    string
	Enabled  bool

	client redis.UniversalClient
	fire   FireFunc
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSource(addr, password string, db int, queue string, logger *slog.Logger) (*Source, error) {
	if queue == "" {
		return nil, errors.New("queue source queue name is required")
	}

	if addr == "" {
		addr = "localhost:6379"
	}

	return &Source{
		Addr:     addr,
		Password: password,
		DB:       db,
		Queue:    queue,
		Enabled:  true,
		stopCh:   make(chan struct{}),
		logger: logger.With(
			"module", "queue_source",
			"queue", queue,
		),
	}, nil
}

func (s *Source) Start(ctx context.Context, fire FireFunc) error {
	if !s.Enabled {
		s.logger.InfoContext(ctx, "Queue source is disabled")

		return nil
	}

	s.logger.InfoContext(ctx, "Starting queue source")
	s.fire = fire

	if err := s.initializeClient(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	s.wg.Add(1)

	go s.consume(ctx)

	return nil
}

func (s *Source) initializeClient(ctx context.Context) error {
	s.client = redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s.logger.InfoContext(ctx, "Connected to Redis", "addr", s.Addr, "db", s.DB)

	return nil
}

func (s *Source) consume(ctx context.Context) {
	defer s.wg.Done()

	s.logger.InfoContext(ctx, "Starting queue consumer", "queue", s.Queue)

	for {
		select {
		case <-s.stopCh:
			s.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			if err := s.processMessage(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (s *Source) processMessage(ctx context.Context) error {
	result, err := s.client.BLPop(ctx, 1*time.Second, s.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	var req runner.RunRequest
	if err := json.Unmarshal([]byte(message), &req); err != nil {
		// A malformed payload cannot become a run; drop it rather than
		// wedging the consumer loop.
		s.logger.WarnContext(ctx, "Dropping malformed run request", "error", err)

		return nil
	}

	go func() {
		if err := s.fire(ctx, req); err != nil {
			s.logger.ErrorContext(ctx, "Error starting queued run", "error", err)
		}
	}()

	return nil
}

func (s *Source) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping queue source")

	close(s.stopCh)
	s.wg.Wait()

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
