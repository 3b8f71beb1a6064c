// ABOUTME: Background typing indicator a handler starts while doing slow work
// ABOUTME: Sends "typing" activities on an interval until stopped or a send fails

package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/turn"
)

// DefaultInterval is used when NewIndicator is given a non-positive interval.
const DefaultInterval = 2 * time.Second

// Indicator repeatedly sends typing activities for one turn.
// The zero value is not usable; create one with NewIndicator.
type Indicator struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	launched int
}

// NewIndicator creates a stopped indicator.
func NewIndicator(interval time.Duration, logger *slog.Logger) *Indicator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indicator{interval: interval, logger: logger}
}

// Start begins sending typing activities through tc. Calling Start while the
// loop is running does nothing. The loop also ends when ctx is cancelled.
func (i *Indicator) Start(ctx context.Context, tc *turn.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return
	}
	if i.cancel != nil {
		// previous loop ended on its own
		i.cancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	i.running = true
	i.cancel = cancel
	i.done = done
	i.launched++

	go i.loop(loopCtx, tc, done)
}

// Stop cancels the loop and waits for it to exit. It is safe to call
// repeatedly and before Start.
func (i *Indicator) Stop() {
	i.mu.Lock()
	cancel, done := i.cancel, i.done
	i.cancel, i.done = nil, nil
	i.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (i *Indicator) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

func (i *Indicator) loop(ctx context.Context, tc *turn.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		i.mu.Lock()
		if i.done == done || i.done == nil {
			i.running = false
		}
		i.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := tc.SendActivity(ctx, activity.NewTyping()); err != nil {
			if ctx.Err() == nil {
				i.logger.Warn("typing indicator stopped", "conversation_id", tc.Activity().ConversationID(), "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(i.interval):
		}
	}
}
