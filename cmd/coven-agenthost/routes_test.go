// ABOUTME: Tests for the built-in routes and the colorized log handler
// ABOUTME: Runs routes through a real Host using expectReplies so replies come back in the response

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/config"
	"github.com/2389/coven-agenthost/internal/host"
)

func testHost(t *testing.T) *host.Host {
	t.Helper()
	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := host.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	require.NoError(t, registerRoutes(h, logger))
	return h
}

func expectReplies(t *testing.T, h *host.Host, act *activity.Activity) (int, []*activity.Activity) {
	t.Helper()
	act.DeliveryMode = activity.DeliveryModeExpectReplies
	if act.Conversation == nil {
		act.Conversation = &activity.ConversationAccount{ID: "conv-1"}
	}
	if act.From == nil {
		act.From = &activity.ChannelAccount{ID: "user-1", Role: activity.RoleUser}
	}
	if act.Recipient == nil {
		act.Recipient = &activity.ChannelAccount{ID: "bot", Role: activity.RoleBot}
	}
	act.ChannelID = "test"
	act.ServiceURL = "https://channel.example.com"

	raw, err := json.Marshal(act)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, config.DefaultMessagesPath, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	if rec.Body.Len() == 0 {
		return rec.Code, nil
	}
	var body activity.ExpectedReplies
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Activities
}

func messages(acts []*activity.Activity) []string {
	var out []string
	for _, a := range acts {
		if a.Type == activity.TypeMessage {
			out = append(out, a.Text)
		}
	}
	return out
}

func TestRoutes_Echo(t *testing.T) {
	h := testHost(t)

	code, acts := expectReplies(t, h, &activity.Activity{Type: activity.TypeMessage, ID: "m1", Text: "hello"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"You said: hello"}, messages(acts))
}

func TestRoutes_WelcomeSkipsAgent(t *testing.T) {
	h := testHost(t)

	code, acts := expectReplies(t, h, &activity.Activity{
		Type: activity.TypeConversationUpdate,
		ID:   "u1",
		MembersAdded: []activity.ChannelAccount{
			{ID: "bot"},
			{ID: "user-2", Name: "Ada"},
		},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"Hello Ada! Send /signin to connect your account."}, messages(acts))
}

func TestRoutes_SignOutWithoutHandlers(t *testing.T) {
	h := testHost(t)

	_, acts := expectReplies(t, h, &activity.Activity{Type: activity.TypeMessage, ID: "m2", Text: "/signout"})
	assert.Equal(t, []string{"You are signed out."}, messages(acts))
}

func TestRoutes_PingInvoke(t *testing.T) {
	h := testHost(t)

	raw, err := json.Marshal(&activity.Activity{
		Type:         activity.TypeInvoke,
		ID:           "i1",
		Name:         pingInvoke,
		ChannelID:    "test",
		ServiceURL:   "https://channel.example.com",
		From:         &activity.ChannelAccount{ID: "user-1"},
		Recipient:    &activity.ChannelAccount{ID: "bot"},
		Conversation: &activity.ConversationAccount{ID: "conv-1"},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, config.DefaultMessagesPath, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"dev"}`, rec.Body.String())
}

func TestRoutes_AgenticCaller(t *testing.T) {
	h := testHost(t)

	_, acts := expectReplies(t, h, &activity.Activity{
		Type:      activity.TypeMessage,
		ID:        "m3",
		Text:      "summarize",
		Recipient: &activity.ChannelAccount{ID: "bot", Role: activity.RoleAgenticAppInstance},
	})
	assert.Equal(t, []string{"Agent request received: summarize"}, messages(acts))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "adapter").WithGroup("turn").Info("handled", "status", 202)
	logger.Error("failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF handled component=adapter turn.status=202")
	assert.Contains(t, lines[1], "ERR failed")
}

func TestSetupLoggerLevels(t *testing.T) {
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger = setupLogger(config.LoggingConfig{Level: "bogus", Format: "text"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
