// Package authflow implements multi-turn sign-in flows whose state survives
// across stateless HTTP requests.
//
// # State machine
//
// Each flow is a FlowState record keyed by (channel, user, handler):
//
//	not_started ──► begin ──► continue ──► complete
//	                  │           │
//	                  └───────────┴──────► failure
//
// A flow begins when sign-in is first requested, moves to continue while the
// provider needs more turns (for example a pasted authorization code), and
// ends in complete once a token is verified or failure when attempts run out.
// A flow that expires before completing is restarted on the next request.
//
// The transition functions (IsExpired, IsActive, RecordFailedAttempt,
// Complete, ...) are pure. Flow applies them turn by turn and persists the
// result through a FlowStorageClient, which fronts durable storage with a
// best-effort flowcache.Cache.
//
// # Providers
//
// A Provider supplies the identity-provider specific challenge and
// verification. OAuthCodeProvider implements the OAuth2 authorization code
// flow; AgenticProvider completes immediately using an AccessTokenProvider
// such as ClientCredentialsProvider.
//
// # Concurrency
//
// There are no cross-turn locks. Concurrent turns for the same key may
// interleave and the last write wins; callers needing exactly-once sign-in
// must serialize externally.
package authflow
