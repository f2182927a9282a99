// Package persist moves chat messages from request paths to durable storage
// through a single background consumer.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/domain"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/metrics"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/shared"
	"github.com/google/uuid"
)

var (
	// ErrQueueClosed is returned by Enqueue after Stop has been called.
	ErrQueueClosed = errors.New("persistence queue closed")
	// ErrPersistenceWrite wraps a failed storage write. The message is dropped.
	ErrPersistenceWrite = errors.New("persistence write failed")
)

// Default consumer settings.
const (
	DefaultPollInterval = time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// QueuedMessage is a message waiting to be written. It is transient and gets
// exactly one write attempt.
type QueuedMessage struct {
	ChatID          string
	UserID          string
	Content         string
	Sender          domain.Sender
	Type            domain.MessageType
	TokensUsed      int
	ResponseTimeMs  *int64
	ModelUsed       string
	TemperatureUsed *float64
	Metadata        map[string]any
}

// Writer persists one message and updates the owning chat.
type Writer interface {
	AppendMessage(ctx context.Context, userID string, msg *domain.ChatMessage) error
}

// Options tunes the consumer. Zero values fall back to the defaults.
type Options struct {
	PollInterval time.Duration
	WriteTimeout time.Duration
}

// Queue is an unbounded FIFO drained by one consumer goroutine.
type Queue struct {
	writer       Writer
	logger       *slog.Logger
	pollInterval time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	items  []QueuedMessage
	closed bool

	notify    chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	// number of live consumer goroutines, never above one
	consumers atomic.Int32
}

// New creates a stopped queue. Call Start to begin writing.
func New(writer Writer, opts Options, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Queue{
		writer:       writer,
		logger:       logger,
		pollInterval: opts.PollInterval,
		writeTimeout: opts.WriteTimeout,
		notify:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Enqueue appends msg to the tail of the queue. It never waits on storage.
func (q *Queue) Enqueue(msg QueuedMessage) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, msg)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.PersistQueueDepth.Set(float64(depth))

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len reports how many messages are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start launches the consumer. Calling it again has no effect.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.logger.Info("[QUEUE] Consumer started", "poll_interval", q.pollInterval)
		go q.run()
	})
}

// Stop rejects further enqueues and blocks until every message accepted
// before the call has been handed to the writer. ctx bounds only the wait;
// the consumer keeps draining in the background if ctx expires first.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		pending := len(q.items)
		q.mu.Unlock()

		q.logger.Info("[QUEUE] Stopping", "pending", pending)
		close(q.stopCh)
	})

	// A queue that never started still owes its pending writes.
	q.Start()

	select {
	case <-q.done:
		q.logger.Info("[QUEUE] Consumer stopped")
		return nil
	case <-ctx.Done():
		q.logger.Warn("[QUEUE] Stop wait expired before drain finished", "pending", q.Len())
		return fmt.Errorf("wait for queue drain: %w", ctx.Err())
	}
}

func (q *Queue) run() {
	q.consumers.Add(1)
	defer q.consumers.Add(-1)
	defer close(q.done)

	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()

	for {
		msg, ok, closed := q.pop()
		if ok {
			q.write(msg)
			continue
		}
		if closed {
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.pollInterval)

		select {
		case <-q.notify:
		case <-q.stopCh:
		case <-timer.C:
		}
	}
}

// pop removes the head item. closed is reported under the same lock so an
// empty closed queue can never receive another item.
func (q *Queue) pop() (msg QueuedMessage, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return QueuedMessage{}, false, q.closed
	}
	msg = q.items[0]
	q.items[0] = QueuedMessage{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	metrics.PersistQueueDepth.Set(float64(len(q.items)))
	return msg, true, q.closed
}

func (q *Queue) write(qm QueuedMessage) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PersistWrites.WithLabelValues(shared.StorageErrorOther).Inc()
			q.logger.Error("[QUEUE] Writer panicked, message dropped",
				"chat_id", qm.ChatID,
				"panic", r,
			)
		}
	}()

	msg := &domain.ChatMessage{
		ID:              uuid.NewString(),
		ChatID:          qm.ChatID,
		Content:         qm.Content,
		Sender:          qm.Sender,
		Type:            qm.Type,
		Metadata:        qm.Metadata,
		TokensUsed:      qm.TokensUsed,
		ResponseTimeMs:  qm.ResponseTimeMs,
		ModelUsed:       qm.ModelUsed,
		TemperatureUsed: qm.TemperatureUsed,
		CreatedAt:       time.Now().UTC(),
	}
	if msg.Type == "" {
		msg.Type = domain.MessageTypeText
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.writeTimeout)
	defer cancel()

	start := time.Now()
	if err := q.writer.AppendMessage(ctx, qm.UserID, msg); err != nil {
		class := shared.ClassifyStorageError(err)
		metrics.PersistWrites.WithLabelValues(class).Inc()
		q.logger.Error("[QUEUE] Message dropped",
			"error", fmt.Errorf("%w: %w", ErrPersistenceWrite, err),
			"chat_id", qm.ChatID,
			"user_id", qm.UserID,
			"sender", qm.Sender,
			"class", class,
			"sqlite_conflict", shared.IsSQLiteConflictError(err),
		)
		return
	}

	metrics.PersistWrites.WithLabelValues("ok").Inc()
	q.logger.Debug("[QUEUE] Message persisted",
		"chat_id", qm.ChatID,
		"message_id", msg.ID,
		"sender", qm.Sender,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
