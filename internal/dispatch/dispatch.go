// Package dispatch is the fire-and-forget boundary between webhook intake
// and asynchronous processing. Submit succeeds the moment a payload is
// queued; the submitter never observes the processing outcome.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quailyquaily/mynion/internal/slack"
)

// Payload is the ownership-transferring snapshot handed from intake to
// processing. It is not mutated after Submit.
type Payload struct {
	Event         slack.Event
	TeamID        string
	ChannelID     string
	UserID        string
	UserKey       string
	SessionID     string
	EventID       string
	CorrelationID string
	ReceivedAt    time.Time
}

// Submitter accepts payloads for asynchronous processing.
type Submitter interface {
	Submit(ctx context.Context, payload Payload) error
}

// Handler processes one payload. Errors are terminal and surface only in
// logs.
type Handler func(ctx context.Context, payload Payload) error

type Options struct {
	Logger    *slog.Logger
	Handler   Handler
	QueueSize int
	Workers   int
	// Timeout bounds each processing invocation. Zero means no bound.
	Timeout time.Duration
}

// Queue runs a bounded in-process queue with a fixed worker pool. Delivery is
// at most once: a full queue drops the payload with a log instead of blocking
// the intake path.
type Queue struct {
	logger  *slog.Logger
	handler Handler
	jobs    chan Payload
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(opts Options) (*Queue, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("dispatch handler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 3
	}
	q := &Queue{
		logger:  logger,
		handler: opts.Handler,
		jobs:    make(chan Payload, queueSize),
		timeout: opts.Timeout,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q, nil
}

// Submit enqueues the payload without waiting for processing. A canceled
// context or a full queue returns an error; callers on the webhook path log
// it and still ack.
func (q *Queue) Submit(ctx context.Context, payload Payload) error {
	if q == nil {
		return fmt.Errorf("dispatch queue is not initialized")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("dispatch queue is closed")
	}
	select {
	case q.jobs <- payload:
		return nil
	default:
	}
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("dispatch queue is full")
}

// Close stops accepting payloads and waits for in-flight work to finish.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for payload := range q.jobs {
		ctx := context.Background()
		cancel := func() {}
		if q.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, q.timeout)
		}
		if err := q.handler(ctx, payload); err != nil {
			q.logger.Warn("dispatch_handler_error",
				"correlation_id", payload.CorrelationID,
				"channel_id", payload.ChannelID,
				"error", err.Error(),
			)
		}
		cancel()
	}
}
