// ABOUTME: Claims identity attached to inbound requests by the auth middleware
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package claims

import (
	"context"
	"fmt"
	"strings"
)

// Well-known claim names.
const (
	ClaimSubject      = "sub"
	ClaimAudience     = "aud"
	ClaimAppID        = "appid"
	ClaimAuthorizedBy = "azp"
	ClaimAgentic      = "agentic"
	ClaimAgenticAppID = "agentic_app_id"
)

// Identity is the authenticated caller of an inbound request.
// An Identity with Authenticated=false is the explicit anonymous marker.
type Identity struct {
	Authenticated      bool
	AuthenticationType string
	Claims             map[string]any
}

// Anonymous returns the identity used for requests without credentials.
func Anonymous() *Identity {
	return &Identity{Authenticated: false, AuthenticationType: "anonymous", Claims: map[string]any{}}
}

// IsAnonymous reports whether the identity carries no verified credentials.
func (i *Identity) IsAnonymous() bool {
	return i == nil || !i.Authenticated
}

// Claim looks up a claim and renders it as a string.
func (i *Identity) Claim(name string) (string, bool) {
	if i == nil || i.Claims == nil {
		return "", false
	}
	v, ok := i.Claims[name]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ","), true
	default:
		return fmt.Sprint(t), true
	}
}

// AppID returns the calling application id from appid, azp, or sub, in that order.
func (i *Identity) AppID() string {
	for _, name := range []string{ClaimAppID, ClaimAuthorizedBy, ClaimSubject} {
		if v, ok := i.Claim(name); ok && v != "" {
			return v
		}
	}
	return ""
}

// IsAgentic reports whether the caller acts on behalf of an autonomous agent identity.
func (i *Identity) IsAgentic() bool {
	if i.IsAnonymous() {
		return false
	}
	if v, ok := i.Claim(ClaimAgenticAppID); ok && v != "" {
		return true
	}
	if v, ok := i.Claims[ClaimAgentic]; ok {
		switch t := v.(type) {
		case bool:
			return t
		case string:
			return strings.EqualFold(t, "true")
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
