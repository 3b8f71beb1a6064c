// ABOUTME: Tests for the typing indicator lifecycle and failure handling

package typing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/turn"
)

type recorder struct {
	mu    sync.Mutex
	types []string
	fail  atomic.Bool
}

func (r *recorder) send(_ context.Context, acts []*activity.Activity) error {
	if r.fail.Load() {
		return errors.New("channel gone")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range acts {
		r.types = append(r.types, a.Type)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

func newTurn(r *recorder) *turn.Context {
	act := &activity.Activity{
		Type:         activity.TypeMessage,
		ID:           "in-1",
		From:         &activity.ChannelAccount{ID: "user"},
		Conversation: &activity.ConversationAccount{ID: "conv"},
	}
	return turn.New(act, nil, r.send)
}

func TestIndicator_StartIsIdempotent(t *testing.T) {
	r := &recorder{}
	ind := NewIndicator(time.Hour, nil)
	tc := newTurn(r)

	ind.Start(context.Background(), tc)
	ind.Start(context.Background(), tc)
	defer ind.Stop()

	assert.True(t, ind.Running())
	assert.Equal(t, 1, ind.launched, "second Start reuses the running loop")

	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{activity.TypeTyping}, r.types)
}

func TestIndicator_StopIsIdempotent(t *testing.T) {
	r := &recorder{}
	ind := NewIndicator(time.Millisecond, nil)

	ind.Stop()

	ind.Start(context.Background(), newTurn(r))
	require.Eventually(t, func() bool { return r.count() >= 2 }, time.Second, time.Millisecond)

	ind.Stop()
	assert.False(t, ind.Running())
	ind.Stop()

	sent := r.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sent, r.count(), "no sends after Stop returns")
}

func TestIndicator_SendFailureStopsLoop(t *testing.T) {
	r := &recorder{}
	r.fail.Store(true)
	ind := NewIndicator(time.Millisecond, nil)

	ind.Start(context.Background(), newTurn(r))
	require.Eventually(t, func() bool { return !ind.Running() }, time.Second, time.Millisecond)

	// a stopped loop can be started again
	r.fail.Store(false)
	ind.Start(context.Background(), newTurn(r))
	assert.Equal(t, 2, ind.launched)
	require.Eventually(t, func() bool { return r.count() > 0 }, time.Second, time.Millisecond)
	ind.Stop()
}

func TestIndicator_ContextCancellation(t *testing.T) {
	r := &recorder{}
	ind := NewIndicator(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ind.Start(ctx, newTurn(r))
	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !ind.Running() }, time.Second, time.Millisecond)
	ind.Stop()
}

func TestIndicator_TypingDoesNotMarkResponded(t *testing.T) {
	r := &recorder{}
	ind := NewIndicator(time.Hour, nil)
	tc := newTurn(r)

	ind.Start(context.Background(), tc)
	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, time.Millisecond)
	ind.Stop()

	assert.False(t, tc.Responded())
}

func TestNewIndicator_DefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, NewIndicator(0, nil).interval)
}
