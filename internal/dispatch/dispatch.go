// Package dispatch decouples webhook ingestion from turn execution. Each
// classified event starts a turn in its own goroutine; a new event for a
// conversation that already has a turn in flight cancels that turn first,
// so per conversation at most one turn runs and the newest request wins.
// Turns for different conversations are independent.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/stagehandlabs/stagehand/internal/hub"
)

// Runner executes one conversation turn. Implemented by *agent.Executor.
type Runner interface {
	RunTurn(ctx context.Context, conversationKey, message string) error
}

// turn is one in-flight execution, identified so a finished turn only
// removes itself if it has not already been superseded.
type turn struct {
	id     string
	cancel context.CancelFunc
}

// Dispatcher tracks in-flight turns per conversation key.
type Dispatcher struct {
	runner   Runner
	activity *hub.Hub
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]*turn
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Dispatcher. activity may be nil.
func New(runner Runner, activity *hub.Hub, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runner:   runner,
		activity: activity,
		logger:   logger,
		inflight: make(map[string]*turn),
	}
}

// Dispatch starts a turn for the conversation, interrupting any turn
// already running for the same key. The turn outlives the webhook request
// that triggered it, so it runs on a fresh context rather than the
// caller's.
func (d *Dispatcher) Dispatch(_ context.Context, conversationKey, message string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is shut down")
	}

	if prev, ok := d.inflight[conversationKey]; ok {
		d.logger.Info("interrupting in-flight turn", "conversation_key", conversationKey, "turn_id", prev.id)
		prev.cancel()
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	t := &turn{id: uuid.NewString(), cancel: cancel}
	d.inflight[conversationKey] = t
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(turnCtx, t, conversationKey, message)
	return nil
}

func (d *Dispatcher) run(ctx context.Context, t *turn, conversationKey, message string) {
	defer d.wg.Done()
	defer func() {
		t.cancel()
		d.mu.Lock()
		if cur, ok := d.inflight[conversationKey]; ok && cur.id == t.id {
			delete(d.inflight, conversationKey)
		}
		d.mu.Unlock()
	}()

	d.activity.Publish(hub.TurnStarted, map[string]string{
		"conversationKey": conversationKey,
		"turnId":          t.id,
	})
	d.logger.Info("turn started", "conversation_key", conversationKey, "turn_id", t.id)

	err := d.runner.RunTurn(ctx, conversationKey, message)
	switch {
	case err == nil:
		d.activity.Publish(hub.TurnCompleted, map[string]string{
			"conversationKey": conversationKey,
			"turnId":          t.id,
		})
		d.logger.Info("turn completed", "conversation_key", conversationKey, "turn_id", t.id)
	case errors.Is(err, context.Canceled):
		d.logger.Info("turn interrupted", "conversation_key", conversationKey, "turn_id", t.id)
	default:
		d.activity.Publish(hub.TurnFailed, map[string]string{
			"conversationKey": conversationKey,
			"turnId":          t.id,
			"error":           err.Error(),
		})
		d.logger.Error("turn failed", "conversation_key", conversationKey, "turn_id", t.id, "error", err)
	}
}

// InFlight returns the number of conversations with a running turn.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Close cancels every in-flight turn, refuses new dispatches, and waits
// for the running goroutines to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for _, t := range d.inflight {
		t.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}
