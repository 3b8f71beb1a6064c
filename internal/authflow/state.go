// ABOUTME: Persisted sign-in flow state and the pure transition functions over it
// ABOUTME: No hidden state: every function takes a FlowState value and returns a new one

package authflow

import (
	"errors"
	"net/url"
	"time"

	"github.com/2389/coven-agenthost/internal/activity"
)

// Tag is the position of a flow in the sign-in state machine.
type Tag string

// Flow tags. Complete, failure and not_started are terminal.
const (
	TagNotStarted Tag = "not_started"
	TagBegin      Tag = "begin"
	TagContinue   Tag = "continue"
	TagComplete   Tag = "complete"
	TagFailure    Tag = "failure"
)

// IsTerminal reports whether no further provider interaction is pending.
func (t Tag) IsTerminal() bool {
	return t == TagComplete || t == TagFailure || t == TagNotStarted
}

// ErrMissingIdentity is returned when a turn lacks the channel or user id a flow is keyed by.
var ErrMissingIdentity = errors.New("flow key requires channel id, user id and handler id")

// TokenResponse is a token acquired by a provider.
type TokenResponse struct {
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration,omitzero"`
}

// Expired reports whether the token has a known expiration at or before now.
func (t *TokenResponse) Expired(now time.Time) bool {
	return t == nil || (!t.Expiration.IsZero() && !now.Before(t.Expiration))
}

// FlowState is the durable record of one sign-in flow, scoped to a single
// (channel, user, handler) key.
type FlowState struct {
	Tag               Tag       `json:"tag"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	ExpiresAt         time.Time `json:"expires_at"`
	AuthHandlerID     string    `json:"auth_handler_id"`
	ChannelID         string    `json:"channel_id"`
	UserID            string    `json:"user_id"`
	// Nonce correlates provider callbacks (e.g. the OAuth state parameter) with this flow.
	Nonce string `json:"nonce,omitempty"`
	// Token is only set when Tag is complete.
	Token *TokenResponse `json:"token,omitempty"`
	// ContinuationActivity is the activity that started the flow, replayed once it completes.
	ContinuationActivity *activity.Activity `json:"continuation_activity,omitempty"`
}

// Key returns the storage key for a flow.
func Key(channelID, userID, handlerID string) (string, error) {
	if channelID == "" || userID == "" || handlerID == "" {
		return "", ErrMissingIdentity
	}
	return "auth/" + url.PathEscape(channelID) + "/" + url.PathEscape(userID) + "/" + url.PathEscape(handlerID), nil
}

// Key returns the storage key for this state.
func (s FlowState) Key() (string, error) {
	return Key(s.ChannelID, s.UserID, s.AuthHandlerID)
}

// IsExpired is true iff now is at or after ExpiresAt.
func IsExpired(s FlowState, now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ReachedMaxAttempts is true when no attempts remain, the flow already failed, or it expired.
func ReachedMaxAttempts(s FlowState, now time.Time) bool {
	return s.AttemptsRemaining <= 0 || s.Tag == TagFailure || IsExpired(s, now)
}

// IsActive is true while the flow awaits provider interaction and can still succeed.
func IsActive(s FlowState, now time.Time) bool {
	return (s.Tag == TagBegin || s.Tag == TagContinue) &&
		s.AttemptsRemaining > 0 &&
		!IsExpired(s, now)
}

// RecordFailedAttempt returns a copy with one fewer attempt, floored at zero.
// A copy that reaches zero is tagged failure.
func RecordFailedAttempt(s FlowState) FlowState {
	out := s
	out.Token = nil
	out.AttemptsRemaining = max(s.AttemptsRemaining-1, 0)
	if out.AttemptsRemaining == 0 {
		out.Tag = TagFailure
	}
	return out
}

// Complete returns a copy tagged complete with the token attached.
func Complete(s FlowState, token TokenResponse) FlowState {
	out := s
	out.Tag = TagComplete
	out.Token = &token
	return out
}

// newFlowState returns a fresh flow in the begin state.
func newFlowState(channelID, userID, handlerID, nonce string, attempts int, expiresAt time.Time) FlowState {
	return FlowState{
		Tag:               TagBegin,
		AttemptsRemaining: attempts,
		ExpiresAt:         expiresAt,
		AuthHandlerID:     handlerID,
		ChannelID:         channelID,
		UserID:            userID,
		Nonce:             nonce,
	}
}
