// ABOUTME: OAuth2 authorization-code provider: prompts with a sign-in link, then exchanges the code
// ABOUTME: Accepts codes pasted as messages or delivered via signin/verifyState and signin/tokenExchange invokes

package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/turn"
)

// Sign-in invoke names sent by channels.
const (
	InvokeVerifyState   = "signin/verifyState"
	InvokeTokenExchange = "signin/tokenExchange"
)

// RFC 8693 token exchange parameters used to verify tokens handed over by channels.
const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	TokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
)

// OAuthCardContentType is the attachment content type of the sign-in prompt.
const OAuthCardContentType = "application/vnd.microsoft.card.oauth"

// OAuthCodeProvider drives an OAuth2 authorization code flow.
type OAuthCodeProvider struct {
	config *oauth2.Config
	title  string
	logger *slog.Logger
}

// NewOAuthCodeProvider creates a provider for config. title is shown on the sign-in prompt.
func NewOAuthCodeProvider(config *oauth2.Config, title string, logger *slog.Logger) *OAuthCodeProvider {
	if title == "" {
		title = "Sign in"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthCodeProvider{config: config, title: title, logger: logger}
}

// Begin sends the sign-in prompt and waits for a later turn.
func (p *OAuthCodeProvider) Begin(ctx context.Context, tc *turn.Context, state FlowState) (*TokenResponse, error) {
	if err := tc.SendActivity(ctx, p.prompt(state)); err != nil {
		return nil, fmt.Errorf("sending sign-in prompt: %w", err)
	}
	return nil, nil
}

// Continue extracts a code or token from the turn and verifies it with the
// token endpoint. A turn that carries neither, or one the endpoint rejects,
// is a failed attempt and is re-prompted by the flow.
func (p *OAuthCodeProvider) Continue(ctx context.Context, tc *turn.Context, state FlowState) (*TokenResponse, error) {
	act := tc.Activity()

	if act.Type == activity.TypeInvoke && act.Name == InvokeTokenExchange {
		var v struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(act.Value, &v); err != nil || v.Token == "" {
			return nil, nil
		}
		// the channel's token is only a subject token; the IdP must accept it
		return p.exchange(ctx, state, "token exchange", "",
			oauth2.SetAuthURLParam("grant_type", GrantTypeTokenExchange),
			oauth2.SetAuthURLParam("subject_token", v.Token),
			oauth2.SetAuthURLParam("subject_token_type", TokenTypeAccessToken),
		)
	}

	code := extractCode(act)
	if code == "" {
		return nil, nil
	}
	return p.exchange(ctx, state, "authorization code", code)
}

// exchange calls the token endpoint. Rejections by the endpoint are failed
// attempts; transport failures are errors.
func (p *OAuthCodeProvider) exchange(ctx context.Context, state FlowState, what, code string, opts ...oauth2.AuthCodeOption) (*TokenResponse, error) {
	tok, err := p.config.Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			p.logger.Info(what+" rejected", "handler", state.AuthHandlerID, "error_code", re.ErrorCode)
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return &TokenResponse{Token: tok.AccessToken, Expiration: tok.Expiry}, nil
}

// SignOut has nothing to revoke remotely.
func (p *OAuthCodeProvider) SignOut(context.Context, *turn.Context, *FlowState) error {
	return nil
}

func (p *OAuthCodeProvider) prompt(state FlowState) *activity.Activity {
	url := p.config.AuthCodeURL(state.Nonce, oauth2.AccessTypeOffline)
	msg := activity.NewMessage(p.title + ": " + url)
	msg.Attachments = []activity.Attachment{{
		ContentType: OAuthCardContentType,
		Content: map[string]any{
			"text":           p.title,
			"connectionName": state.AuthHandlerID,
			"buttons": []map[string]string{{
				"type":  "signin",
				"title": p.title,
				"value": url,
			}},
		},
	}}
	return msg
}

// extractCode returns the authorization code carried by act, or "".
func extractCode(act *activity.Activity) string {
	switch act.Type {
	case activity.TypeMessage:
		code := strings.TrimSpace(act.Text)
		if code == "" || strings.ContainsAny(code, " \t\r\n") {
			return ""
		}
		return code
	case activity.TypeInvoke:
		if act.Name != InvokeVerifyState {
			return ""
		}
		var v struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(act.Value, &v); err != nil {
			return ""
		}
		return strings.TrimSpace(v.State)
	default:
		return ""
	}
}
