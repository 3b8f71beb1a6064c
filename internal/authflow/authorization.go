// ABOUTME: Authorization facade exposing token lookup, sign-in and sign-out across named handlers
// ABOUTME: Lets the adapter find a flow in progress for the current user before routing

package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-agenthost/internal/turn"
)

// Authorization errors
var (
	ErrUnknownHandler   = errors.New("unknown auth handler")
	ErrDuplicateHandler = errors.New("duplicate auth handler")
	ErrNoHandlers       = errors.New("no auth handlers configured")
)

// Authorization holds the configured sign-in handlers. The first handler is the default.
type Authorization struct {
	flows map[string]*Flow
	order []string
}

// NewAuthorization creates a facade over flows. Names must be unique.
func NewAuthorization(flows ...*Flow) (*Authorization, error) {
	a := &Authorization{flows: make(map[string]*Flow, len(flows))}
	for _, f := range flows {
		if _, ok := a.flows[f.Name()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, f.Name())
		}
		a.flows[f.Name()] = f
		a.order = append(a.order, f.Name())
	}
	return a, nil
}

// Handlers returns handler names in registration order.
func (a *Authorization) Handlers() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Default returns the name of the default handler, or "" when none are configured.
func (a *Authorization) Default() string {
	if len(a.order) == 0 {
		return ""
	}
	return a.order[0]
}

// Handler returns the named flow; "" selects the default.
func (a *Authorization) Handler(name string) (*Flow, error) {
	if name == "" {
		if len(a.order) == 0 {
			return nil, ErrNoHandlers
		}
		name = a.order[0]
	}
	f, ok := a.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}
	return f, nil
}

// GetToken returns the token acquired for the handler, or nil if not signed in.
// A token acquired earlier in the same turn is returned even when the flow
// discards its record on completion.
func (a *Authorization) GetToken(ctx context.Context, tc *turn.Context, name string) (*TokenResponse, error) {
	f, err := a.Handler(name)
	if err != nil {
		return nil, err
	}
	if tok, ok := signedIn(tc, f.Name()); ok {
		return tok, nil
	}
	return f.GetToken(ctx, tc)
}

// BeginOrContinueSignIn advances the named handler's flow by one turn.
// Once a handler completes, later calls in the same turn report completion
// without touching the flow again.
func (a *Authorization) BeginOrContinueSignIn(ctx context.Context, tc *turn.Context, name string) (*SignInResponse, error) {
	f, err := a.Handler(name)
	if err != nil {
		return nil, err
	}
	if tok, ok := signedIn(tc, f.Name()); ok {
		return &SignInResponse{Tag: TagComplete, Token: tok}, nil
	}

	resp, err := f.BeginOrContinue(ctx, tc)
	if err != nil {
		return nil, err
	}
	if resp.SignInComplete() && resp.Token != nil {
		tc.Set(signedInKey(f.Name()), resp.Token)
	}
	return resp, nil
}

func signedInKey(name string) string { return "authflow.signed_in." + name }

// signedIn returns the token a handler acquired during this turn.
func signedIn(tc *turn.Context, name string) (*TokenResponse, bool) {
	v, ok := tc.Get(signedInKey(name))
	if !ok {
		return nil, false
	}
	tok, ok := v.(*TokenResponse)
	return tok, ok && tok != nil
}

// SignOut signs out of the named handler, or of every handler when name is "".
func (a *Authorization) SignOut(ctx context.Context, tc *turn.Context, name string) error {
	if name != "" {
		f, err := a.Handler(name)
		if err != nil {
			return err
		}
		return f.SignOut(ctx, tc)
	}

	var errs []error
	for _, n := range a.order {
		if err := a.flows[n].SignOut(ctx, tc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// Pending returns the first handler with a flow in progress for the turn's user.
func (a *Authorization) Pending(ctx context.Context, tc *turn.Context) (string, bool, error) {
	for _, n := range a.order {
		active, err := a.flows[n].IsActive(ctx, tc)
		if err != nil {
			return "", false, err
		}
		if active {
			return n, true, nil
		}
	}
	return "", false, nil
}
