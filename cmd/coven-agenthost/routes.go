// ABOUTME: Built-in agent routes served by coven-agenthost
// ABOUTME: Echo, welcome, sign-in/sign-out commands, a ping invoke and an agentic acknowledgement

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/host"
	"github.com/2389/coven-agenthost/internal/routing"
	"github.com/2389/coven-agenthost/internal/turn"
)

// pingInvoke answers with an invoke response carrying the host version.
const pingInvoke = "agenthost/ping"

func registerRoutes(h *host.Host, logger *slog.Logger) error {
	routes := h.Routes()
	auth := h.Authorization()

	defaultHandler := auth.Default()

	if _, err := routes.OnConversationUpdate(routing.EventMembersAdded, welcome); err != nil {
		return err
	}

	if _, err := routes.OnInvoke(pingInvoke, func(ctx context.Context, tc *turn.Context) error {
		resp, err := activity.NewInvokeResponse(200, map[string]string{"status": "ok", "version": version})
		if err != nil {
			return err
		}
		return tc.SendActivity(ctx, resp)
	}); err != nil {
		return err
	}

	if _, err := routes.OnMessage("/signout", func(ctx context.Context, tc *turn.Context) error {
		if err := auth.SignOut(ctx, tc, ""); err != nil {
			return fmt.Errorf("signing out: %w", err)
		}
		return tc.SendText(ctx, "You are signed out.")
	}); err != nil {
		return err
	}

	if defaultHandler != "" {
		if _, err := routes.OnMessage("/signin", func(ctx context.Context, tc *turn.Context) error {
			return tc.SendText(ctx, fmt.Sprintf("You are signed in with %s.", defaultHandler))
		}, routing.WithAuthHandlers(defaultHandler)); err != nil {
			return err
		}

		if _, err := routes.OnMessage("/token", func(ctx context.Context, tc *turn.Context) error {
			tok, err := auth.GetToken(ctx, tc, defaultHandler)
			if err != nil {
				return err
			}
			if tok == nil {
				return tc.SendText(ctx, "No token yet. Send /signin first.")
			}
			if tok.Expiration.IsZero() {
				return tc.SendText(ctx, "You have a token.")
			}
			return tc.SendText(ctx, "You have a token valid until "+tok.Expiration.UTC().Format("15:04 MST")+".")
		}); err != nil {
			return err
		}
	}

	agenticOpts := []routing.Option{routing.WithAgentic()}
	if agentic := h.AgenticHandlers(); len(agentic) > 0 {
		agenticOpts = append(agenticOpts, routing.WithAuthHandlers(agentic[0]))
	}
	if _, err := routes.OnAnyMessage(func(ctx context.Context, tc *turn.Context) error {
		return tc.SendText(ctx, "Agent request received: "+tc.Activity().Text)
	}, agenticOpts...); err != nil {
		return err
	}

	typingIndicator := h.NewTypingIndicator
	if _, err := routes.OnAnyMessage(func(ctx context.Context, tc *turn.Context) error {
		ind := typingIndicator()
		ind.Start(ctx, tc)
		defer ind.Stop()
		logger.Debug("echoing message", "conversation_id", tc.Activity().ConversationID())
		return tc.SendText(ctx, "You said: "+tc.Activity().Text)
	}); err != nil {
		return err
	}

	logger.Info("routes registered", "count", routes.Len(), "default_auth_handler", defaultHandler)
	return nil
}

// welcome greets members other than the agent itself.
func welcome(ctx context.Context, tc *turn.Context) error {
	act := tc.Activity()
	for _, m := range act.MembersAdded {
		if act.Recipient != nil && m.ID == act.Recipient.ID {
			continue
		}
		name := m.Name
		if name == "" {
			name = "there"
		}
		if err := tc.SendText(ctx, "Hello "+name+"! Send /signin to connect your account."); err != nil {
			return err
		}
	}
	return nil
}
