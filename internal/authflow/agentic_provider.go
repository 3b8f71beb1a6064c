// ABOUTME: Provider for agentic callers: tokens come straight from an AccessTokenProvider
// ABOUTME: Flows complete on the first turn and never prompt a human

package authflow

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/coven-agenthost/internal/turn"
)

// AgenticProvider completes sign-in by acquiring a service token.
type AgenticProvider struct {
	tokens   AccessTokenProvider
	scopes   []string
	lifetime time.Duration
	now      func() time.Time
}

// NewAgenticProvider creates an AgenticProvider. Tokens are treated as valid
// for lifetime after acquisition; zero means they never expire from the
// flow's point of view and the AccessTokenProvider handles refresh.
func NewAgenticProvider(tokens AccessTokenProvider, scopes []string, lifetime time.Duration) *AgenticProvider {
	return &AgenticProvider{tokens: tokens, scopes: scopes, lifetime: lifetime, now: time.Now}
}

func (p *AgenticProvider) Begin(ctx context.Context, _ *turn.Context, _ FlowState) (*TokenResponse, error) {
	return p.acquire(ctx)
}

func (p *AgenticProvider) Continue(ctx context.Context, _ *turn.Context, _ FlowState) (*TokenResponse, error) {
	return p.acquire(ctx)
}

func (p *AgenticProvider) SignOut(context.Context, *turn.Context, *FlowState) error {
	return nil
}

func (p *AgenticProvider) acquire(ctx context.Context) (*TokenResponse, error) {
	tok, err := p.tokens.AcquireToken(ctx, p.scopes)
	if err != nil {
		return nil, fmt.Errorf("agentic token: %w", err)
	}
	resp := &TokenResponse{Token: tok}
	if p.lifetime > 0 {
		resp.Expiration = p.now().Add(p.lifetime)
	}
	return resp, nil
}
