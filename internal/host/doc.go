// Package host orchestrates the coven-agenthost server components.
//
// # Overview
//
// The host package is the central coordinator of coven-agenthost. It owns the
// flow storage backend, the in-process flow cache, the sign-in flows, the
// route table, the outbound connector client, the adapter and the HTTP server.
//
// # Lifecycle
//
//	h, err := host.New(cfg, logger)
//	h.Routes().OnMessage("/help", helpHandler)
//	err = h.Run(ctx) // blocks until ctx is canceled
//
// Routes must be registered before Run. Run listens on server.http_addr and
// shuts down gracefully when ctx ends: the HTTP server stops accepting
// requests, background turns started in normal delivery mode finish, and
// storage is closed.
//
// WithTurnErrorHandler replaces the default handler that logs failed routes.
//
// # HTTP Endpoints
//
//	POST {server.messages_path}   inbound activities (claims middleware + adapter)
//	GET  /health                  liveness, always 200
//	GET  /health/ready            200 when flow storage answers, 503 otherwise
//
// # Storage Backends
//
// storage.backend selects memory, sqlite or redis. Sign-in flow state is
// written through to the backend and cached in process for flow_cache.ttl.
package host
