// ABOUTME: Per-turn context handed to selectors and route handlers
// ABOUTME: Carries the inbound activity, caller identity, and an interceptable send path

package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/claims"
)

// ErrNoSender is returned when a Context was built without a send function.
var ErrNoSender = errors.New("turn has no sender")

// Sender delivers outgoing activities for a turn. The adapter installs either
// a buffering sender (invoke, expectReplies) or one that forwards to the
// channel connector (normal). Implementations must be safe for concurrent use.
type Sender func(ctx context.Context, acts []*activity.Activity) error

// Context is the state of one inbound turn.
type Context struct {
	act      *activity.Activity
	identity *claims.Identity
	send     Sender

	shared *shared
}

// shared holds state common to a Context and every Context derived from it with WithActivity.
type shared struct {
	mu        sync.Mutex
	responded bool
	values    map[string]any
}

// New creates a turn context. A nil identity is treated as anonymous.
func New(act *activity.Activity, identity *claims.Identity, send Sender) *Context {
	if identity == nil {
		identity = claims.Anonymous()
	}
	return &Context{
		act:      act,
		identity: identity,
		send:     send,
		shared:   &shared{values: make(map[string]any)},
	}
}

// Activity returns the inbound activity.
func (c *Context) Activity() *activity.Activity { return c.act }

// Identity returns the verified caller identity.
func (c *Context) Identity() *claims.Identity { return c.identity }

// ChannelID returns the inbound activity's channel id.
func (c *Context) ChannelID() string { return c.act.ChannelID }

// UserID returns the inbound activity's sender id.
func (c *Context) UserID() string { return c.act.UserID() }

// IsAgentic reports whether this turn was sent on behalf of an agentic identity.
func (c *Context) IsAgentic() bool {
	return c.identity.IsAgentic() || c.act.IsAgentic()
}

// WithActivity returns a Context for a different activity that shares this
// turn's identity, sender and state. Used to replay the activity that
// started a sign-in once the sign-in completes.
func (c *Context) WithActivity(act *activity.Activity) *Context {
	return &Context{
		act:      act,
		identity: c.identity,
		send:     c.send,
		shared:   c.shared,
	}
}

// WithSender returns a Context that shares this turn's activity, identity
// and state but delivers through send.
func (c *Context) WithSender(send Sender) *Context {
	return &Context{
		act:      c.act,
		identity: c.identity,
		send:     send,
		shared:   c.shared,
	}
}

// SendActivity addresses act as a reply to the inbound activity and sends it.
func (c *Context) SendActivity(ctx context.Context, act *activity.Activity) error {
	return c.SendActivities(ctx, act)
}

// SendActivities sends several activities in order.
func (c *Context) SendActivities(ctx context.Context, acts ...*activity.Activity) error {
	if c.send == nil {
		return ErrNoSender
	}
	if len(acts) == 0 {
		return nil
	}

	ref := c.act.Reference()
	for _, a := range acts {
		a.ApplyReference(ref)
	}
	if err := c.send(ctx, acts); err != nil {
		return fmt.Errorf("sending activities: %w", err)
	}

	c.shared.mu.Lock()
	for _, a := range acts {
		if a.Type != activity.TypeTyping {
			c.shared.responded = true
		}
	}
	c.shared.mu.Unlock()
	return nil
}

// SendText sends a plain message.
func (c *Context) SendText(ctx context.Context, text string) error {
	return c.SendActivity(ctx, activity.NewMessage(text))
}

// Responded reports whether anything other than a typing indicator has been sent this turn.
func (c *Context) Responded() bool {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	return c.shared.responded
}

// Set stores a turn-scoped value.
func (c *Context) Set(key string, value any) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.values[key] = value
}

// Get returns a turn-scoped value.
func (c *Context) Get(key string) (any, bool) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	v, ok := c.shared.values[key]
	return v, ok
}
