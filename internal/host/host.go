// ABOUTME: Host orchestrator that wires storage, sign-in flows, routes and the adapter
// ABOUTME: Owns the HTTP server with the messages endpoint plus health endpoints and its lifecycle

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/2389/coven-agenthost/internal/adapter"
	"github.com/2389/coven-agenthost/internal/authflow"
	"github.com/2389/coven-agenthost/internal/claims"
	"github.com/2389/coven-agenthost/internal/config"
	"github.com/2389/coven-agenthost/internal/connector"
	"github.com/2389/coven-agenthost/internal/flowcache"
	"github.com/2389/coven-agenthost/internal/routing"
	"github.com/2389/coven-agenthost/internal/storage"
	"github.com/2389/coven-agenthost/internal/typing"
)

// readyProbeKey is read by the readiness check on backends without Ping.
const readyProbeKey = "agenthost/ready-probe"

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 5 * time.Second

// pinger is implemented by storage backends that can check connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// Host orchestrates the coven-agenthost components.
type Host struct {
	config     *config.Config
	store      storage.Storage
	cache      *flowcache.Cache
	identity   *authflow.ClientCredentialsProvider
	auth       *authflow.Authorization
	agentic    []string
	routes     *routing.Table
	connector  *connector.Client
	adapter    *adapter.Adapter
	verifier   *claims.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger

	onTurnError adapter.TurnErrorHandler
}

// Option customizes a Host.
type Option func(*Host)

// WithTurnErrorHandler installs the handler called once when a route fails.
// It replaces the default handler, which logs the error.
func WithTurnErrorHandler(fn adapter.TurnErrorHandler) Option {
	return func(h *Host) { h.onTurnError = fn }
}

// New builds a Host from cfg. Routes are registered on Routes() before Run.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := initStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	h := &Host{
		config: cfg,
		store:  store,
		cache:  flowcache.New(cfg.FlowCache.TTL, cfg.FlowCache.MaxSize),
		routes: routing.NewTable(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.init(); err != nil {
		_ = h.closeStores()
		return nil, err
	}
	return h, nil
}

func (h *Host) init() error {
	cfg := h.config

	if cfg.Identity.Enabled() {
		identity, err := authflow.NewClientCredentialsProvider(authflow.ClientCredentialsConfig{
			ClientID:      cfg.Identity.ClientID,
			ClientSecret:  cfg.Identity.ClientSecret,
			TenantID:      cfg.Identity.TenantID,
			TokenURL:      cfg.Identity.TokenURL,
			AuthorityHost: cfg.Identity.AuthorityHost,
		})
		if err != nil {
			return fmt.Errorf("creating identity provider: %w", err)
		}
		h.identity = identity
		h.logger.Info("client credentials enabled", "token_url", identity.TokenURL())
	}

	flows, err := h.buildFlows()
	if err != nil {
		return err
	}
	auth, err := authflow.NewAuthorization(flows...)
	if err != nil {
		return fmt.Errorf("creating authorization: %w", err)
	}
	h.auth = auth

	if cfg.Auth.JWTSecret != "" {
		verifier, err := claims.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
		h.verifier = verifier
	} else {
		h.logger.Warn("auth disabled - no jwt_secret configured, all callers are anonymous")
	}

	// a nil *ClientCredentialsProvider must not become a non-nil interface
	var tokens connector.TokenProvider
	if h.identity != nil {
		tokens = h.identity
	}
	h.connector = connector.New(tokens, connector.Options{
		Timeout: cfg.Connector.Timeout,
		Scopes:  cfg.Connector.Scopes,
	}, h.logger.With("component", "connector"))

	h.adapter = adapter.New(h.routes, h.auth, h.connector, adapter.Options{
		RequireAuth:         cfg.Auth.RequireAuth,
		BackgroundNormal:    cfg.Server.BackgroundNormal,
		OnTurnError:         h.onTurnError,
		FallbackMessage:     cfg.Server.FallbackMessage,
		SignInFailedMessage: cfg.Server.SignInFailedMessage,
	}, h.logger.With("component", "adapter"))

	h.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           h.newMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// initStorage opens the configured storage backend.
func initStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return storage.NewMemoryStorage(), nil
	case config.BackendSQLite:
		s, err := storage.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		return s, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return storage.NewRedisStorage(client, cfg.KeyPrefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildFlows creates one sign-in flow per configured handler, in order.
func (h *Host) buildFlows() ([]*authflow.Flow, error) {
	flowStore := authflow.NewFlowStorageClient(h.store, h.cache)

	flows := make([]*authflow.Flow, 0, len(h.config.Flows))
	for _, fc := range h.config.Flows {
		provider, err := h.newProvider(fc)
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", fc.Name, err)
		}
		if fc.Type == config.FlowTypeAgentic {
			h.agentic = append(h.agentic, fc.Name)
		}
		flows = append(flows, authflow.NewFlow(fc.Name, provider, flowStore, authflow.FlowOptions{
			MaxAttempts:       fc.MaxAttempts,
			Timeout:           fc.Timeout,
			DiscardOnComplete: fc.DiscardOnComplete,
		}, h.logger.With("component", "authflow")))
		h.logger.Debug("registered auth handler", "name", fc.Name, "type", fc.Type)
	}
	return flows, nil
}

func (h *Host) newProvider(fc config.FlowConfig) (authflow.Provider, error) {
	switch fc.Type {
	case config.FlowTypeOAuthCode:
		oc := &oauth2.Config{
			ClientID:     fc.ClientID,
			ClientSecret: fc.ClientSecret,
			RedirectURL:  fc.RedirectURL,
			Scopes:       fc.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fc.AuthURL,
				TokenURL: fc.TokenURL,
			},
		}
		return authflow.NewOAuthCodeProvider(oc, fc.Title, h.logger.With("component", "oauth", "flow", fc.Name)), nil
	case config.FlowTypeAgentic:
		if h.identity == nil {
			return nil, errors.New("agentic flows need client credentials")
		}
		return authflow.NewAgenticProvider(h.identity, fc.Scopes, fc.TokenLifetime), nil
	default:
		return nil, fmt.Errorf("unknown flow type %q", fc.Type)
	}
}

func (h *Host) newMux() *http.ServeMux {
	mux := http.NewServeMux()

	// an untyped nil keeps the middleware from calling a nil *JWTVerifier
	var verifier claims.TokenVerifier
	if h.verifier != nil {
		verifier = h.verifier
	}
	mux.Handle(h.config.Server.MessagesPath, claims.Middleware(verifier, h.logger.With("component", "claims"))(h.adapter))

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)
	return mux
}

// Routes returns the route table handlers are registered on.
func (h *Host) Routes() *routing.Table {
	return h.routes
}

// Authorization returns the sign-in facade handlers use for tokens.
func (h *Host) Authorization() *authflow.Authorization {
	return h.auth
}

// AgenticHandlers returns the names of auth handlers backed by client credentials, in order.
func (h *Host) AgenticHandlers() []string {
	return append([]string(nil), h.agentic...)
}

// Handler returns the HTTP handler serving messages and health checks.
func (h *Host) Handler() http.Handler {
	return h.httpServer.Handler
}

// NewTypingIndicator returns an indicator using the configured interval.
func (h *Host) NewTypingIndicator() *typing.Indicator {
	return typing.NewIndicator(h.config.Typing.Interval, h.logger.With("component", "typing"))
}

// Run serves HTTP until ctx is canceled or the server fails, then shuts down.
// Returns nil on graceful shutdown.
func (h *Host) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.config.Server.HTTPAddr)
	if err != nil {
		_ = h.closeStores()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return h.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	h.logger.Info("starting agent host",
		"http_addr", ln.Addr().String(),
		"messages_path", h.config.Server.MessagesPath,
		"auth_handlers", h.auth.Handlers(),
		"routes", h.routes.Len(),
	)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := h.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := h.waitForShutdownSignal(ctx, errCh)
	shutdownErr := h.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (h *Host) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		h.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		h.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (h *Host) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, waits for background turns and closes storage.
func (h *Host) Shutdown(ctx context.Context) error {
	h.logger.Info("shutting down agent host")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", h.httpServer.Shutdown(ctx))

	waited := make(chan struct{})
	go func() {
		h.adapter.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for background turns: %w", ctx.Err()))
	}

	errs = appendCloseError(errs, "storage close", h.closeStores())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (h *Host) closeStores() error {
	h.cache.Close()
	return h.store.Close()
}

// handleHealth returns 200 OK if the server is alive.
func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if flow storage is reachable.
func (h *Host) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var err error
	if p, ok := h.store.(pinger); ok {
		err = p.Ping(ctx)
	} else {
		_, err = h.store.Read(ctx, []string{readyProbeKey})
	}
	if err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("storage unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d auth handlers)", len(h.auth.Handlers()))
}
