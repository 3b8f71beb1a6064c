// ABOUTME: HTTP turn dispatcher: validates inbound activities, routes them and answers per delivery mode
// ABOUTME: Buffers replies for invoke and expectReplies, forwards them to the connector otherwise

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/2389/coven-agenthost/internal/activity"
	"github.com/2389/coven-agenthost/internal/authflow"
	"github.com/2389/coven-agenthost/internal/claims"
	"github.com/2389/coven-agenthost/internal/routing"
	"github.com/2389/coven-agenthost/internal/turn"
)

// Defaults for Options.
const (
	DefaultMaxBodyBytes        = 4 << 20
	DefaultFallbackMessage     = "Sorry, something went wrong."
	DefaultSignInFailedMessage = "Sign-in failed. Send a new message to try again."
)

// ErrMissingInvokeResponse is reported when an invoke handler sends no invokeResponse activity.
var ErrMissingInvokeResponse = errors.New("invoke handler produced no invoke response")

// Outbound delivers normal-mode replies, typically a *connector.Client.
type Outbound interface {
	SendActivities(ctx context.Context, acts []*activity.Activity) error
}

// TurnErrorHandler is called once when a handler fails. A non-nil return is
// fatal for the request.
type TurnErrorHandler func(ctx context.Context, tc *turn.Context, err error) error

// Options configures an Adapter.
type Options struct {
	// RequireAuth rejects requests without a verified, non-anonymous identity.
	RequireAuth bool
	// BackgroundNormal answers normal-mode requests before the turn runs.
	BackgroundNormal bool
	// OnTurnError replaces the default logging error handler.
	OnTurnError TurnErrorHandler
	// FallbackMessage is sent to the user after a handler error.
	FallbackMessage string
	// SignInFailedMessage is sent when a sign-in flow runs out of attempts.
	SignInFailedMessage string
	MaxBodyBytes        int64
}

// Adapter is the http.Handler for the messages endpoint.
type Adapter struct {
	routes   *routing.Table
	auth     *authflow.Authorization
	outbound Outbound
	opts     Options
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New creates an Adapter. auth may be nil when no sign-in handlers are
// configured; outbound may be nil when every channel uses expectReplies.
func New(routes *routing.Table, auth *authflow.Authorization, outbound Outbound, opts Options, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FallbackMessage == "" {
		opts.FallbackMessage = DefaultFallbackMessage
	}
	if opts.SignInFailedMessage == "" {
		opts.SignInFailedMessage = DefaultSignInFailedMessage
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	a := &Adapter{
		routes:   routes,
		auth:     auth,
		outbound: outbound,
		opts:     opts,
		logger:   logger,
	}
	if a.opts.OnTurnError == nil {
		a.opts.OnTurnError = a.logTurnError
	}
	return a
}

// Wait blocks until background turns have finished.
func (a *Adapter) Wait() {
	a.wg.Wait()
}

// ServeHTTP handles one inbound activity.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		sendJSONError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}

	act, status, err := a.parseActivity(w, r)
	if err != nil {
		sendJSONError(w, status, err.Error())
		return
	}

	identity := claims.FromContext(r.Context())
	if a.opts.RequireAuth && identity.IsAnonymous() {
		sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if identity == nil {
		identity = claims.Anonymous()
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	mode := deliveryMode(act)
	logger := a.logger.With(
		"request_id", requestID,
		"activity_type", act.Type,
		"delivery_mode", mode,
		"conversation_id", act.ConversationID(),
	)

	if mode == activity.DeliveryModeNormal {
		a.serveNormal(w, r, act, identity, logger)
		return
	}
	a.serveBuffered(r.Context(), w, act, identity, mode, logger)
}

// deliveryModeInvoke is the pseudo delivery mode of invoke activities.
const deliveryModeInvoke = "invoke"

func deliveryMode(act *activity.Activity) string {
	if act.Type == activity.TypeInvoke {
		return deliveryModeInvoke
	}
	if act.EffectiveDeliveryMode() == activity.DeliveryModeExpectReplies {
		return activity.DeliveryModeExpectReplies
	}
	return activity.DeliveryModeNormal
}

func (a *Adapter) parseActivity(w http.ResponseWriter, r *http.Request) (*activity.Activity, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return nil, http.StatusBadRequest, errors.New("could not read request body")
	}
	if !gjson.ValidBytes(body) {
		return nil, http.StatusBadRequest, errors.New("invalid JSON body")
	}

	fields := gjson.GetManyBytes(body, "type", "conversation.id")
	if fields[0].String() == "" {
		return nil, http.StatusBadRequest, errors.New("type is required")
	}
	if fields[1].String() == "" {
		return nil, http.StatusBadRequest, errors.New("conversation.id is required")
	}

	var act activity.Activity
	if err := json.Unmarshal(body, &act); err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid activity")
	}
	return &act, 0, nil
}

func (a *Adapter) serveNormal(w http.ResponseWriter, r *http.Request, act *activity.Activity, identity *claims.Identity, logger *slog.Logger) {
	tc := turn.New(act, identity, a.forward)

	if a.opts.BackgroundNormal {
		ctx := context.WithoutCancel(r.Context())
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if _, err := a.runTurn(ctx, tc, logger); err != nil {
				logger.Error("background turn failed", "error", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if _, err := a.runTurn(r.Context(), tc, logger); err != nil {
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *Adapter) serveBuffered(ctx context.Context, w http.ResponseWriter, act *activity.Activity, identity *claims.Identity, mode string, logger *slog.Logger) {
	buf := &buffer{}
	tc := turn.New(act, identity, buf.send)

	result, err := a.runTurn(ctx, tc, logger)
	if err != nil {
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !result.handled {
		w.WriteHeader(http.StatusOK)
		return
	}

	sent := buf.activities()
	if mode == activity.DeliveryModeExpectReplies {
		writeJSON(w, http.StatusOK, activity.ExpectedReplies{Activities: sent})
		return
	}

	resp, dropped := invokeResponse(sent)
	if dropped > 0 {
		logger.Debug("discarding activities sent during invoke", "count", dropped)
	}
	if resp == nil && result.recovered {
		// the handler's error was already reported to the turn error handler
		w.WriteHeader(http.StatusOK)
		return
	}
	if resp == nil {
		logger.Error("invoke turn completed without a response", "invoke_name", act.Name, "error", ErrMissingInvokeResponse)
		sendJSONError(w, http.StatusInternalServerError, ErrMissingInvokeResponse.Error())
		return
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if len(resp.Body) == 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// invokeResponse returns the last invokeResponse payload in sent and how many
// other activities were sent alongside it.
func invokeResponse(sent []*activity.Activity) (*activity.InvokeResponse, int) {
	var resp *activity.InvokeResponse
	dropped := 0
	for _, act := range sent {
		if act.Type != activity.TypeInvokeResponse {
			dropped++
			continue
		}
		if ir, err := act.InvokeResponse(); err == nil {
			resp = ir
		}
	}
	return resp, dropped
}

// forward sends normal-mode replies to the channel.
func (a *Adapter) forward(ctx context.Context, acts []*activity.Activity) error {
	if a.outbound == nil {
		return errors.New("no outbound connector configured")
	}
	return a.outbound.SendActivities(ctx, acts)
}

func (a *Adapter) logTurnError(_ context.Context, tc *turn.Context, err error) error {
	a.logger.Error("turn failed",
		"activity_type", tc.Activity().Type,
		"conversation_id", tc.Activity().ConversationID(),
		"error", err,
	)
	return nil
}

// buffer collects activities sent during a buffered turn in send order.
type buffer struct {
	mu   sync.Mutex
	acts []*activity.Activity
}

func (b *buffer) send(_ context.Context, acts []*activity.Activity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acts = append(b.acts, acts...)
	return nil
}

func (b *buffer) activities() []*activity.Activity {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*activity.Activity, len(b.acts))
	copy(out, b.acts)
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
