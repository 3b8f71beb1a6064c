// ABOUTME: Tests for the connector client against an httptest channel endpoint

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-agenthost/internal/activity"
)

type recorded struct {
	path string
	auth string
	act  activity.Activity
}

type fakeChannel struct {
	mu     sync.Mutex
	calls  []recorded
	status int
	body   string
}

func (f *fakeChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var act activity.Activity
	_ = json.NewDecoder(r.Body).Decode(&act)

	f.mu.Lock()
	f.calls = append(f.calls, recorded{path: r.URL.EscapedPath(), auth: r.Header.Get("Authorization"), act: act})
	status, body := f.status, f.body
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
		body = `{"id":"resource-1"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

type staticToken struct {
	token  string
	err    error
	scopes []string
}

func (s *staticToken) AcquireToken(_ context.Context, scopes []string) (string, error) {
	s.scopes = scopes
	return s.token, s.err
}

func reply(serviceURL, text string) *activity.Activity {
	act := activity.NewMessage(text)
	act.ServiceURL = serviceURL
	act.Conversation = &activity.ConversationAccount{ID: "conv/1"}
	act.ReplyToID = "incoming-1"
	return act
}

func TestSendActivity_PostsWithBearerToken(t *testing.T) {
	ch := &fakeChannel{}
	srv := httptest.NewServer(ch)
	defer srv.Close()

	tokens := &staticToken{token: "svc-token"}
	c := New(tokens, Options{Scopes: []string{"https://api.botframework.com/.default"}}, nil)

	id, err := c.SendActivity(context.Background(), reply(srv.URL+"/", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "resource-1", id)

	require.Len(t, ch.calls, 1)
	call := ch.calls[0]
	assert.Equal(t, "/v3/conversations/conv%2F1/activities/incoming-1", call.path)
	assert.Equal(t, "Bearer svc-token", call.auth)
	assert.Equal(t, "hello", call.act.Text)
	assert.Equal(t, []string{"https://api.botframework.com/.default"}, tokens.scopes)
}

func TestSendActivity_WithoutReplyTo(t *testing.T) {
	ch := &fakeChannel{}
	srv := httptest.NewServer(ch)
	defer srv.Close()

	act := reply(srv.URL, "proactive")
	act.ReplyToID = ""
	_, err := New(nil, Options{}, nil).SendActivity(context.Background(), act)
	require.NoError(t, err)

	require.Len(t, ch.calls, 1)
	assert.Equal(t, "/v3/conversations/conv%2F1/activities", ch.calls[0].path)
	assert.Empty(t, ch.calls[0].auth, "no token provider, no header")
}

func TestSendActivity_Addressing(t *testing.T) {
	c := New(nil, Options{}, nil)

	_, err := c.SendActivity(context.Background(), activity.NewMessage("x"))
	assert.ErrorIs(t, err, ErrNoServiceURL)

	act := activity.NewMessage("x")
	act.ServiceURL = "http://localhost"
	_, err = c.SendActivity(context.Background(), act)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestSendActivity_ChannelError(t *testing.T) {
	ch := &fakeChannel{status: http.StatusForbidden, body: `{"error":{"code":"BotNotInConversationRoster","message":"bot is not part of the conversation"}}`}
	srv := httptest.NewServer(ch)
	defer srv.Close()

	_, err := New(nil, Options{}, nil).SendActivity(context.Background(), reply(srv.URL, "x"))
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, http.StatusForbidden, cerr.StatusCode)
	assert.Equal(t, "BotNotInConversationRoster", cerr.Code)
	assert.Equal(t, "bot is not part of the conversation", cerr.Message)
}

func TestSendActivity_PlainErrorBodies(t *testing.T) {
	for body, want := range map[string]string{
		`{"error":"rate limited"}`: "rate limited",
		"upstream unavailable\n":   "upstream unavailable",
	} {
		ch := &fakeChannel{status: http.StatusServiceUnavailable, body: body}
		srv := httptest.NewServer(ch)

		_, err := New(nil, Options{}, nil).SendActivity(context.Background(), reply(srv.URL, "x"))
		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, want, cerr.Message)
		srv.Close()
	}
}

func TestSendActivity_TokenFailure(t *testing.T) {
	ch := &fakeChannel{}
	srv := httptest.NewServer(ch)
	defer srv.Close()

	boom := errors.New("no credentials")
	_, err := New(&staticToken{err: boom}, Options{}, nil).SendActivity(context.Background(), reply(srv.URL, "x"))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, ch.calls)
}

func TestSendActivities_StopsAtFirstFailure(t *testing.T) {
	ch := &fakeChannel{}
	srv := httptest.NewServer(ch)
	defer srv.Close()

	bad := activity.NewMessage("no address")
	err := New(nil, Options{}, nil).SendActivities(context.Background(), []*activity.Activity{
		reply(srv.URL, "one"),
		bad,
		reply(srv.URL, "three"),
	})
	assert.ErrorIs(t, err, ErrNoServiceURL)
	require.Len(t, ch.calls, 1)
	assert.Equal(t, "one", ch.calls[0].act.Text)
}
