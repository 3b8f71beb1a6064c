// ABOUTME: Route selectors: inspectable predicates over an inbound turn
// ABOUTME: Includes activity-type, message, invoke, conversation-update and agentic wrappers

package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/turn"
)

// Conversation update events matched by ConversationUpdate.
const (
	EventMembersAdded   = "membersAdded"
	EventMembersRemoved = "membersRemoved"
)

// Selector decides whether a route applies to a turn.
// String describes the selector for logs and debugging.
type Selector interface {
	Matches(tc *turn.Context) bool
	String() string
}

type anySelector struct{}

// Any matches every turn.
func Any() Selector { return anySelector{} }

func (anySelector) Matches(*turn.Context) bool { return true }
func (anySelector) String() string             { return "any" }

type typeSelector struct{ typ string }

// ActivityType matches activities of the given type.
func ActivityType(typ string) Selector { return typeSelector{typ: typ} }

func (s typeSelector) Matches(tc *turn.Context) bool {
	return strings.EqualFold(tc.Activity().Type, s.typ)
}

func (s typeSelector) String() string { return "type(" + s.typ + ")" }

type messageSelector struct{ text string }

// Message matches message activities whose text equals text, ignoring case and surrounding space.
func Message(text string) Selector { return messageSelector{text: strings.TrimSpace(text)} }

func (s messageSelector) Matches(tc *turn.Context) bool {
	act := tc.Activity()
	return act.Type == activity.TypeMessage && strings.EqualFold(strings.TrimSpace(act.Text), s.text)
}

func (s messageSelector) String() string { return fmt.Sprintf("message(%q)", s.text) }

type patternSelector struct{ re *regexp.Regexp }

// MessagePattern matches message activities whose text matches re.
func MessagePattern(re *regexp.Regexp) Selector { return patternSelector{re: re} }

func (s patternSelector) Matches(tc *turn.Context) bool {
	act := tc.Activity()
	return act.Type == activity.TypeMessage && s.re.MatchString(act.Text)
}

func (s patternSelector) String() string { return "message(/" + s.re.String() + "/)" }

type invokeSelector struct{ name string }

// Invoke matches invoke activities with the given name. An empty name matches any invoke.
func Invoke(name string) Selector { return invokeSelector{name: name} }

func (s invokeSelector) Matches(tc *turn.Context) bool {
	act := tc.Activity()
	if act.Type != activity.TypeInvoke {
		return false
	}
	return s.name == "" || act.Name == s.name
}

func (s invokeSelector) String() string {
	if s.name == "" {
		return "invoke(*)"
	}
	return "invoke(" + s.name + ")"
}

type conversationUpdateSelector struct{ event string }

// ConversationUpdate matches conversationUpdate activities carrying the given event.
func ConversationUpdate(event string) Selector { return conversationUpdateSelector{event: event} }

func (s conversationUpdateSelector) Matches(tc *turn.Context) bool {
	act := tc.Activity()
	if act.Type != activity.TypeConversationUpdate {
		return false
	}
	switch s.event {
	case EventMembersAdded:
		return len(act.MembersAdded) > 0
	case EventMembersRemoved:
		return len(act.MembersRemoved) > 0
	default:
		return false
	}
}

func (s conversationUpdateSelector) String() string { return "conversationUpdate(" + s.event + ")" }

type funcSelector struct {
	name string
	fn   func(tc *turn.Context) bool
}

// Func adapts a predicate into a named Selector.
func Func(name string, fn func(tc *turn.Context) bool) Selector {
	return funcSelector{name: name, fn: fn}
}

func (s funcSelector) Matches(tc *turn.Context) bool { return s.fn(tc) }
func (s funcSelector) String() string                { return "func(" + s.name + ")" }

type agenticSelector struct{ base Selector }

// Agentic wraps base so it only matches agentic turns. For non-agentic
// turns it is always false; for agentic turns it returns base's result.
func Agentic(base Selector) Selector { return agenticSelector{base: base} }

func (s agenticSelector) Matches(tc *turn.Context) bool {
	if !tc.IsAgentic() {
		return false
	}
	return s.base.Matches(tc)
}

func (s agenticSelector) String() string { return "agentic(" + s.base.String() + ")" }
