// ABOUTME: HTTP client that delivers outbound activities to a channel's service URL
// ABOUTME: Authenticates with a bearer token from a TokenProvider and reports structured channel errors

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/coven-agenthost/internal/activity"
)

// DefaultTimeout bounds a single delivery when Options.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Addressing errors
var (
	ErrNoServiceURL   = errors.New("activity has no service url")
	ErrNoConversation = errors.New("activity has no conversation")
)

// TokenProvider acquires bearer tokens for outbound calls.
type TokenProvider interface {
	AcquireToken(ctx context.Context, scopes []string) (string, error)
}

// Error is a non-2xx response from a channel.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("connector returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("connector returned %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// Scopes requested from the TokenProvider.
	Scopes []string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client posts activities to channel connectors.
type Client struct {
	tokens TokenProvider
	scopes []string
	client *http.Client
	logger *slog.Logger
}

// New creates a client. tokens may be nil for channels that accept
// unauthenticated replies, such as a local emulator.
func New(tokens TokenProvider, opts Options, logger *slog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		tokens: tokens,
		scopes: opts.Scopes,
		client: httpClient,
		logger: logger,
	}
}

// SendActivities delivers acts in order, stopping at the first failure.
func (c *Client) SendActivities(ctx context.Context, acts []*activity.Activity) error {
	for _, act := range acts {
		if _, err := c.SendActivity(ctx, act); err != nil {
			return err
		}
	}
	return nil
}

// SendActivity delivers act and returns the id the channel assigned to it, if any.
func (c *Client) SendActivity(ctx context.Context, act *activity.Activity) (string, error) {
	endpoint, err := activityURL(act)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(act)
	if err != nil {
		return "", fmt.Errorf("marshaling activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.AcquireToken(ctx, c.scopes)
		if err != nil {
			return "", fmt.Errorf("acquiring connector token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending activity: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", parseError(resp.StatusCode, respBody)
	}

	id := gjson.GetBytes(respBody, "id").String()
	c.logger.Debug("activity delivered",
		"type", act.Type,
		"conversation_id", act.ConversationID(),
		"status", resp.StatusCode,
		"resource_id", id,
	)
	return id, nil
}

// activityURL builds {serviceUrl}/v3/conversations/{id}/activities[/{replyToId}].
func activityURL(act *activity.Activity) (string, error) {
	if act.ServiceURL == "" {
		return "", ErrNoServiceURL
	}
	conv := act.ConversationID()
	if conv == "" {
		return "", ErrNoConversation
	}

	u := strings.TrimSuffix(act.ServiceURL, "/") + "/v3/conversations/" + url.PathEscape(conv) + "/activities"
	if act.ReplyToID != "" {
		u += "/" + url.PathEscape(act.ReplyToID)
	}
	return u, nil
}

// parseError extracts {"error":{"code","message"}} when the channel sends it.
func parseError(status int, body []byte) error {
	e := &Error{StatusCode: status}
	if gjson.ValidBytes(body) {
		e.Code = gjson.GetBytes(body, "error.code").String()
		e.Message = gjson.GetBytes(body, "error.message").String()
		if flat := gjson.GetBytes(body, "error"); e.Message == "" && flat.Type == gjson.String {
			e.Message = flat.String()
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}
