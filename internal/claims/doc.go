// Package claims resolves the identity of callers posting activities.
//
// The channel gateway authenticates with a bearer JWT signed with the
// configured shared secret. Middleware verifies it and attaches an Identity
// to the request context; requests without credentials carry the Anonymous
// identity. Whether an anonymous or unverifiable caller is acceptable is
// decided later by the adapter.
//
// An identity is agentic when it acts for an autonomous agent rather than a
// human user. That is signalled with the "agentic" or "agentic_app_id" claims.
package claims
