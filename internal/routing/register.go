// ABOUTME: Convenience registration helpers for building a route table at startup
// ABOUTME: Functional options set rank, agentic wrapping and required auth handlers

package routing

import (
	"regexp"

	"github.com/2389/coven-agenthost/internal/activity"
)

// Option customizes a route being registered.
type Option func(*Route)

// WithRank sets the route's rank within its tier.
func WithRank(rank uint32) Option {
	return func(r *Route) { r.Rank = rank }
}

// WithAgentic restricts the route to agentic turns and moves it to the agentic tier.
func WithAgentic() Option {
	return func(r *Route) {
		r.IsAgentic = true
		r.Selector = Agentic(r.Selector)
	}
}

// WithAuthHandlers requires sign-in with the named auth handlers before the handler runs.
func WithAuthHandlers(names ...string) Option {
	return func(r *Route) { r.AuthHandlers = append(r.AuthHandlers, names...) }
}

// On registers a handler for an arbitrary selector.
func (t *Table) On(sel Selector, h Handler, opts ...Option) (*Route, error) {
	r := Route{Selector: sel, Handler: h, Rank: RankDefault}
	for _, opt := range opts {
		opt(&r)
	}
	return t.Add(r)
}

// OnActivity registers a handler for an activity type.
func (t *Table) OnActivity(typ string, h Handler, opts ...Option) (*Route, error) {
	return t.On(ActivityType(typ), h, opts...)
}

// OnMessage registers a handler for messages with exactly the given text.
func (t *Table) OnMessage(text string, h Handler, opts ...Option) (*Route, error) {
	return t.On(Message(text), h, opts...)
}

// OnMessagePattern registers a handler for messages matching re.
func (t *Table) OnMessagePattern(re *regexp.Regexp, h Handler, opts ...Option) (*Route, error) {
	return t.On(MessagePattern(re), h, opts...)
}

// OnConversationUpdate registers a handler for a conversationUpdate event.
func (t *Table) OnConversationUpdate(event string, h Handler, opts ...Option) (*Route, error) {
	return t.On(ConversationUpdate(event), h, opts...)
}

// OnInvoke registers an invoke handler. Invoke routes always rank ahead of non-invoke routes.
func (t *Table) OnInvoke(name string, h Handler, opts ...Option) (*Route, error) {
	opts = append([]Option{func(r *Route) { r.IsInvoke = true }}, opts...)
	return t.On(Invoke(name), h, opts...)
}

// OnAnyMessage registers a catch-all message handler at the lowest rank.
func (t *Table) OnAnyMessage(h Handler, opts ...Option) (*Route, error) {
	opts = append([]Option{WithRank(RankLast)}, opts...)
	return t.On(ActivityType(activity.TypeMessage), h, opts...)
}
