// ABOUTME: Provider abstraction wrapped by the sign-in state machine, plus access token acquisition
// ABOUTME: ClientCredentialsProvider acquires service tokens via golang.org/x/oauth2/clientcredentials

package authflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/2389/coven-agenthost/internal/turn"
)

// Provider is the identity-provider specific part of a sign-in flow.
//
// Begin issues the challenge for a new flow (for example by sending the user
// a sign-in link). It returns a token when one is available without user
// interaction, or nil when the flow must wait for later turns.
//
// Continue examines a turn of an active flow. It returns a token when
// verification succeeded and nil when this turn did not verify; a nil token
// is a failed attempt, not an error. Errors are reserved for provider faults.
type Provider interface {
	Begin(ctx context.Context, tc *turn.Context, state FlowState) (*TokenResponse, error)
	Continue(ctx context.Context, tc *turn.Context, state FlowState) (*TokenResponse, error)
	SignOut(ctx context.Context, tc *turn.Context, state *FlowState) error
}

// AccessTokenProvider acquires an access token for the given scopes.
type AccessTokenProvider interface {
	AcquireToken(ctx context.Context, scopes []string) (string, error)
}

// ErrNoTenant is returned when neither a token URL nor a tenant id is configured.
var ErrNoTenant = errors.New("client credentials need a token_url or tenant_id")

// ClientCredentialsConfig configures ClientCredentialsProvider.
type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	// TokenURL overrides the URL derived from TenantID.
	TokenURL string
	// AuthorityHost is used with TenantID when TokenURL is empty.
	AuthorityHost string
}

// ClientCredentialsProvider implements AccessTokenProvider with the OAuth2
// client credentials grant. Token sources are reused per scope set so tokens
// are cached until shortly before expiry.
type ClientCredentialsProvider struct {
	base clientcredentials.Config

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewClientCredentialsProvider validates cfg and returns a provider.
func NewClientCredentialsProvider(cfg ClientCredentialsConfig) (*ClientCredentialsProvider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client credentials need a client_id")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		if cfg.TenantID == "" {
			return nil, ErrNoTenant
		}
		host := cfg.AuthorityHost
		if host == "" {
			host = "https://login.microsoftonline.com"
		}
		tokenURL = strings.TrimSuffix(host, "/") + "/" + cfg.TenantID + "/oauth2/v2.0/token"
	}

	return &ClientCredentialsProvider{
		base: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
		},
		sources: make(map[string]oauth2.TokenSource),
	}, nil
}

// TokenURL returns the token endpoint in use.
func (p *ClientCredentialsProvider) TokenURL() string {
	return p.base.TokenURL
}

// AcquireToken returns a cached or freshly issued access token for scopes.
func (p *ClientCredentialsProvider) AcquireToken(ctx context.Context, scopes []string) (string, error) {
	sorted := slices.Clone(scopes)
	slices.Sort(sorted)
	key := strings.Join(sorted, " ")

	p.mu.Lock()
	src, ok := p.sources[key]
	if !ok {
		cfg := p.base
		cfg.Scopes = sorted
		// the source outlives ctx, so it must not capture a request context
		src = cfg.TokenSource(context.WithoutCancel(ctx))
		p.sources[key] = src
	}
	p.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("acquiring client credentials token: %w", err)
	}
	return tok.AccessToken, nil
}
