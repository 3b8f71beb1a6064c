// ABOUTME: Flow drives one named sign-in handler across turns using persisted FlowState
// ABOUTME: Implements begin-or-continue, token lookup and sign-out over a Provider

package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-agenthost/internal/turn"
)

// Defaults for FlowOptions.
const (
	DefaultMaxAttempts = 3
	DefaultFlowTimeout = 10 * time.Minute
)

// FlowOptions tunes a Flow.
type FlowOptions struct {
	// MaxAttempts is the number of failed verifications allowed before failure.
	MaxAttempts int
	// Timeout bounds how long a started flow may take to complete.
	Timeout time.Duration
	// DiscardOnComplete deletes the record once a token is acquired instead of
	// keeping it for GetToken.
	DiscardOnComplete bool
	// Now overrides the clock.
	Now func() time.Time
}

// Flow is one named sign-in handler.
type Flow struct {
	name     string
	provider Provider
	store    *FlowStorageClient
	opts     FlowOptions
	logger   *slog.Logger
}

// NewFlow creates a flow named name backed by provider and store.
func NewFlow(name string, provider Provider, store *FlowStorageClient, opts FlowOptions, logger *slog.Logger) *Flow {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFlowTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		name:     name,
		provider: provider,
		store:    store,
		opts:     opts,
		logger:   logger.With("auth_handler", name),
	}
}

// Name returns the handler name.
func (f *Flow) Name() string { return f.name }

func (f *Flow) key(tc *turn.Context) (string, error) {
	return Key(tc.ChannelID(), tc.UserID(), f.name)
}

// State returns the stored state for the turn's user, or nil.
func (f *Flow) State(ctx context.Context, tc *turn.Context) (*FlowState, error) {
	key, err := f.key(tc)
	if err != nil {
		return nil, err
	}
	return f.store.Read(ctx, key)
}

// IsActive reports whether the turn's user has a flow awaiting interaction.
func (f *Flow) IsActive(ctx context.Context, tc *turn.Context) (bool, error) {
	state, err := f.State(ctx, tc)
	if err != nil {
		return false, err
	}
	return state != nil && IsActive(*state, f.opts.Now()), nil
}

// BeginOrContinue advances the flow by one turn.
func (f *Flow) BeginOrContinue(ctx context.Context, tc *turn.Context) (*SignInResponse, error) {
	key, err := f.key(tc)
	if err != nil {
		return nil, err
	}
	state, err := f.store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	now := f.opts.Now()

	if state != nil && state.Tag == TagComplete && !state.Token.Expired(now) {
		return &SignInResponse{Tag: TagComplete, Token: state.Token}, nil
	}

	if state == nil || !IsActive(*state, now) {
		return f.begin(ctx, tc, key, now)
	}
	return f.continueFlow(ctx, tc, key, *state)
}

// begin starts a fresh flow, replacing any stale or terminal record.
func (f *Flow) begin(ctx context.Context, tc *turn.Context, key string, now time.Time) (*SignInResponse, error) {
	state := newFlowState(tc.ChannelID(), tc.UserID(), f.name, uuid.New().String(), f.opts.MaxAttempts, now.Add(f.opts.Timeout))
	cont, err := tc.Activity().Clone()
	if err != nil {
		return nil, fmt.Errorf("capturing continuation activity: %w", err)
	}
	state.ContinuationActivity = cont

	if err := f.store.Write(ctx, key, state); err != nil {
		return nil, err
	}
	f.logger.Debug("sign-in flow started", "channel_id", state.ChannelID, "user_id", state.UserID)

	tok, err := f.provider.Begin(ctx, tc, state)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return &SignInResponse{Tag: TagBegin}, nil
	}

	// completed without user interaction; the current turn proceeds as is
	if err := f.finish(ctx, key, Complete(state, *tok)); err != nil {
		return nil, err
	}
	return &SignInResponse{Tag: TagComplete, Token: tok}, nil
}

func (f *Flow) continueFlow(ctx context.Context, tc *turn.Context, key string, state FlowState) (*SignInResponse, error) {
	tok, err := f.provider.Continue(ctx, tc, state)
	if err != nil {
		return nil, err
	}

	if tok != nil {
		if err := f.finish(ctx, key, Complete(state, *tok)); err != nil {
			return nil, err
		}
		f.logger.Info("sign-in flow completed", "channel_id", state.ChannelID, "user_id", state.UserID)
		return &SignInResponse{Tag: TagComplete, Token: tok, ContinuationActivity: state.ContinuationActivity}, nil
	}

	next := RecordFailedAttempt(state)
	if next.Tag != TagFailure {
		next.Tag = TagContinue
	}
	if err := f.store.Write(ctx, key, next); err != nil {
		return nil, err
	}

	if next.Tag == TagFailure {
		f.logger.Info("sign-in flow failed", "channel_id", state.ChannelID, "user_id", state.UserID)
		return &SignInResponse{Tag: TagFailure}, nil
	}

	f.logger.Debug("sign-in verification failed", "attempts_remaining", next.AttemptsRemaining)
	tok, err = f.provider.Begin(ctx, tc, next)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		if err := f.finish(ctx, key, Complete(next, *tok)); err != nil {
			return nil, err
		}
		return &SignInResponse{Tag: TagComplete, Token: tok, ContinuationActivity: next.ContinuationActivity}, nil
	}
	return &SignInResponse{Tag: TagContinue}, nil
}

// finish persists a completed state, or drops it when configured to.
func (f *Flow) finish(ctx context.Context, key string, done FlowState) error {
	if f.opts.DiscardOnComplete {
		return f.store.Delete(ctx, key)
	}
	done.ContinuationActivity = nil
	return f.store.Write(ctx, key, done)
}

// GetToken returns the token of a completed, unexpired flow, or nil.
// It never starts a flow.
func (f *Flow) GetToken(ctx context.Context, tc *turn.Context) (*TokenResponse, error) {
	state, err := f.State(ctx, tc)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Tag != TagComplete || state.Token.Expired(f.opts.Now()) {
		return nil, nil
	}
	return state.Token, nil
}

// SignOut deletes the stored flow. It is idempotent.
func (f *Flow) SignOut(ctx context.Context, tc *turn.Context) error {
	key, err := f.key(tc)
	if err != nil {
		return err
	}
	state, err := f.store.Read(ctx, key)
	if err != nil {
		f.logger.Warn("reading flow state before sign-out", "error", err)
		state = nil
	}
	if err := f.store.Delete(ctx, key); err != nil {
		return err
	}
	if err := f.provider.SignOut(ctx, tc, state); err != nil {
		f.logger.Warn("provider sign-out failed", "error", err)
	}
	return nil
}
