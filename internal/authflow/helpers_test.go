// ABOUTME: Shared fixtures for authflow tests: turn builders, fake providers and storage wrappers

package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/storage"
	"github.com/2389/coven-agenthost/internal/turn"
)

// sentLog records activities sent during a test turn.
type sentLog struct {
	mu   sync.Mutex
	acts []*activity.Activity
}

func (s *sentLog) send(_ context.Context, acts []*activity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acts = append(s.acts, acts...)
	return nil
}

func (s *sentLog) all() []*activity.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*activity.Activity(nil), s.acts...)
}

func userTurn(text string, log *sentLog) *turn.Context {
	act := &activity.Activity{
		Type:         activity.TypeMessage,
		ID:           "act-" + text,
		ChannelID:    "test",
		Text:         text,
		From:         &activity.ChannelAccount{ID: "user-1"},
		Recipient:    &activity.ChannelAccount{ID: "bot"},
		Conversation: &activity.ConversationAccount{ID: "conv-1"},
	}
	var send turn.Sender
	if log != nil {
		send = log.send
	}
	return turn.New(act, nil, send)
}

func invokeTurn(name string, value any, log *sentLog) *turn.Context {
	raw, _ := json.Marshal(value)
	tc := userTurn("", log)
	act := tc.Activity()
	act.Type = activity.TypeInvoke
	act.Name = name
	act.Value = raw
	return tc
}

// scriptedProvider returns canned results and counts calls.
type scriptedProvider struct {
	beginToken    *TokenResponse
	beginErr      error
	continueToken func(tc *turn.Context) *TokenResponse
	continueErr   error

	begins    atomic.Int32
	continues atomic.Int32
	signOuts  atomic.Int32
}

func (p *scriptedProvider) Begin(ctx context.Context, tc *turn.Context, _ FlowState) (*TokenResponse, error) {
	p.begins.Add(1)
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.beginToken == nil {
		_ = tc.SendText(ctx, "please sign in")
	}
	return p.beginToken, nil
}

func (p *scriptedProvider) Continue(_ context.Context, tc *turn.Context, _ FlowState) (*TokenResponse, error) {
	p.continues.Add(1)
	if p.continueErr != nil {
		return nil, p.continueErr
	}
	if p.continueToken == nil {
		return nil, nil
	}
	return p.continueToken(tc), nil
}

func (p *scriptedProvider) SignOut(context.Context, *turn.Context, *FlowState) error {
	p.signOuts.Add(1)
	return errors.New("remote sign-out unavailable")
}

// acceptCode verifies turns whose text equals code.
func acceptCode(code string) func(tc *turn.Context) *TokenResponse {
	return func(tc *turn.Context) *TokenResponse {
		if tc.Activity().Text == code {
			return &TokenResponse{Token: "token-for-" + code}
		}
		return nil
	}
}

// countingStorage counts backend reads and can be made to fail.
type countingStorage struct {
	storage.Storage
	reads atomic.Int32
	fail  atomic.Bool
}

var errBackendDown = errors.New("backend down")

func newCountingStorage() *countingStorage {
	return &countingStorage{Storage: storage.NewMemoryStorage()}
}

func (c *countingStorage) Read(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	c.reads.Add(1)
	if c.fail.Load() {
		return nil, errBackendDown
	}
	return c.Storage.Read(ctx, keys)
}

func (c *countingStorage) Write(ctx context.Context, changes map[string]json.RawMessage) error {
	if c.fail.Load() {
		return errBackendDown
	}
	return c.Storage.Write(ctx, changes)
}

func (c *countingStorage) Delete(ctx context.Context, keys []string) error {
	if c.fail.Load() {
		return errBackendDown
	}
	return c.Storage.Delete(ctx, keys)
}
