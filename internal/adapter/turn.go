// ABOUTME: Runs one turn: sign-in interception, route resolution, auth handlers and error recovery
// ABOUTME: Replays the activity that started a sign-in once the flow completes

package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/authflow"
	"github.com/2389/coven-agenthost/internal/turn"
)

// turnResult describes how a turn ended.
type turnResult struct {
	// handled is false when nothing claimed the turn.
	handled bool
	// recovered is set when a handler failed and the turn error handler accepted it.
	recovered bool
}

// runTurn processes tc. The returned error is non-nil only when the turn
// error handler itself failed.
func (a *Adapter) runTurn(ctx context.Context, tc *turn.Context, logger *slog.Logger) (turnResult, error) {
	handled, err := a.dispatch(ctx, tc, logger)
	if err == nil {
		return turnResult{handled: handled}, nil
	}

	if cbErr := a.opts.OnTurnError(ctx, tc, err); cbErr != nil {
		logger.Error("turn error handler failed", "error", cbErr, "turn_error", err)
		return turnResult{handled: true}, fmt.Errorf("turn error handler: %w", cbErr)
	}
	if sendErr := tc.SendText(ctx, a.opts.FallbackMessage); sendErr != nil {
		logger.Debug("fallback message not delivered", "error", sendErr)
	}
	return turnResult{handled: true, recovered: true}, nil
}

// dispatch continues a pending sign-in or routes the turn.
// Flow state is keyed by channel and user, so turns missing either are routed directly.
func (a *Adapter) dispatch(ctx context.Context, tc *turn.Context, logger *slog.Logger) (bool, error) {
	if a.auth != nil && continuesSignIn(tc.Activity()) && tc.ChannelID() != "" && tc.UserID() != "" {
		name, pending, err := a.auth.Pending(ctx, tc)
		if err != nil {
			return true, err
		}
		if pending {
			return true, a.continueSignIn(ctx, tc, name, logger)
		}
	}
	return a.route(ctx, tc, logger)
}

// continuesSignIn reports whether act may carry a sign-in response.
func continuesSignIn(act *activity.Activity) bool {
	switch act.Type {
	case activity.TypeMessage:
		return true
	case activity.TypeInvoke:
		return act.Name == authflow.InvokeVerifyState || act.Name == authflow.InvokeTokenExchange
	default:
		return false
	}
}

func (a *Adapter) continueSignIn(ctx context.Context, tc *turn.Context, name string, logger *slog.Logger) error {
	resp, err := a.auth.BeginOrContinueSignIn(ctx, tc, name)
	if err != nil {
		return err
	}
	logger.Debug("sign-in continued", "auth_handler", name, "tag", resp.Tag)

	if err := a.answerSignInInvoke(ctx, tc, resp); err != nil {
		return err
	}
	if resp.Tag == authflow.TagFailure {
		return tc.SendText(ctx, a.opts.SignInFailedMessage)
	}
	if !resp.SignInComplete() || resp.ContinuationActivity == nil {
		return nil
	}

	// replay the activity that started the flow. An invoke's buffer only
	// carries its invokeResponse back, so replies to the replayed activity go
	// to the channel instead.
	replay := tc.WithActivity(resp.ContinuationActivity)
	if tc.Activity().Type == activity.TypeInvoke {
		replay = replay.WithSender(a.forward)
	}
	_, err = a.route(ctx, replay, logger)
	return err
}

// answerSignInInvoke acknowledges signin/* invokes so the channel gets a response.
func (a *Adapter) answerSignInInvoke(ctx context.Context, tc *turn.Context, resp *authflow.SignInResponse) error {
	act := tc.Activity()
	if act.Type != activity.TypeInvoke {
		return nil
	}

	status := http.StatusOK
	if act.Name == authflow.InvokeTokenExchange && !resp.SignInComplete() {
		status = http.StatusPreconditionFailed
	}
	ir, err := activity.NewInvokeResponse(status, nil)
	if err != nil {
		return err
	}
	return tc.SendActivity(ctx, ir)
}

// route runs the highest-priority matching route, signing in first when the
// route names auth handlers.
func (a *Adapter) route(ctx context.Context, tc *turn.Context, logger *slog.Logger) (bool, error) {
	route, ok := a.routes.Resolve(tc)
	if !ok {
		logger.Debug("no route matched")
		return false, nil
	}

	for _, name := range route.AuthHandlers {
		if a.auth == nil {
			return true, fmt.Errorf("route %s needs auth handler %q: %w", route, name, authflow.ErrNoHandlers)
		}
		resp, err := a.auth.BeginOrContinueSignIn(ctx, tc, name)
		if err != nil {
			return true, err
		}
		if resp.Tag == authflow.TagFailure {
			return true, tc.SendText(ctx, a.opts.SignInFailedMessage)
		}
		if !resp.SignInComplete() {
			logger.Debug("route waiting for sign-in", "route", route.String(), "auth_handler", name)
			return true, nil
		}
	}

	return true, route.Handler(ctx, tc)
}
