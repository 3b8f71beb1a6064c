// ABOUTME: SignInResponse returned by every sign-in step

package authflow

import "github.com/2389/coven-agenthost/internal/activity"

// SignInResponse pairs the outcome of a sign-in step with the resulting tag.
type SignInResponse struct {
	Token *TokenResponse
	Tag   Tag
	// ContinuationActivity is set when a flow completed on this turn and the
	// turn that originally requested sign-in should now be processed.
	ContinuationActivity *activity.Activity
}

// SignInComplete is true only for complete or not_started (nothing to do).
func (r *SignInResponse) SignInComplete() bool {
	return r.Tag == TagComplete || r.Tag == TagNotStarted
}
