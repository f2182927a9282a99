package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrUpstreamGeneration wraps any failure reported by a generation backend.
var ErrUpstreamGeneration = errors.New("upstream generation failed")

// DefaultTokenBuffer is the channel capacity used when none is given.
const DefaultTokenBuffer = 64

// Task runs one Generate call in its own goroutine and exposes its output as
// a bounded channel of Chunks. The channel carries tokens followed by at most
// one terminal Done or Error chunk, then closes. Failures that never reach
// the channel, such as a panic inside the backend, are reported by Wait.
type Task struct {
	chunks chan Chunk
	done   chan struct{}
	cancel context.CancelFunc
	logger *slog.Logger

	cancelOnce sync.Once
	err        error
}

// StartTask launches gen for req. Cancelling ctx, or calling Cancel, stops
// the backend and unblocks any pending send.
func StartTask(ctx context.Context, gen Generator, req GenerateRequest, buffer int, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultTokenBuffer
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		chunks: make(chan Chunk, buffer),
		done:   make(chan struct{}),
		cancel: cancel,
		logger: logger,
	}
	go t.run(ctx, gen, req)
	return t
}

// Chunks returns the receive side of the token channel.
func (t *Task) Chunks() <-chan Chunk {
	return t.chunks
}

// Cancel stops the generation. Safe to call more than once.
func (t *Task) Cancel() {
	t.cancelOnce.Do(t.cancel)
}

// Wait blocks until the generation goroutine has exited and returns its
// result. It also releases the task's context.
func (t *Task) Wait() error {
	<-t.done
	t.Cancel()
	return t.err
}

// Done is closed once the generation goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) run(ctx context.Context, gen Generator, req GenerateRequest) {
	defer close(t.done)
	defer close(t.chunks)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("%w: generator panicked: %v", ErrUpstreamGeneration, r)
			t.logger.Error("Generation task panicked",
				"panic", r,
				"user_id", req.UserID,
				"stack", string(debug.Stack()),
			)
		}
	}()

	err := gen.Generate(ctx, req, func(token string) error {
		return t.send(ctx, TokenChunk(token))
	})

	switch {
	case err == nil:
		_ = t.send(ctx, DoneChunk())
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancelled by the consumer; nobody is listening for a terminal chunk.
		t.err = err
	default:
		if !errors.Is(err, ErrUpstreamGeneration) {
			err = fmt.Errorf("%w: %w", ErrUpstreamGeneration, err)
		}
		t.err = err
		_ = t.send(ctx, ErrorChunk(err))
	}
}

func (t *Task) send(ctx context.Context, c Chunk) error {
	select {
	case t.chunks <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
