// Package config handles configuration loading for coven-agenthost.
//
// # Overview
//
// Configuration is loaded once at startup from a YAML file with environment
// variable expansion, defaults for omitted fields and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_AGENTHOST_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/agenthost.yaml
//  3. ~/.config/coven/agenthost.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	identity:
//	  client_secret: "${AGENTHOST_CLIENT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax ("30s", "10m").
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:3978"
//	  messages_path: "/api/messages"
//	  background_normal: false
//
//	storage:
//	  backend: "sqlite"          # memory, sqlite, redis
//	  path: "/var/lib/coven/agenthost.db"
//	  redis_addr: "localhost:6379"
//	  key_prefix: "agenthost"
//	  ttl: "24h"                 # redis only
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"   # at least 32 bytes
//	  require_auth: true
//
//	connector:
//	  timeout: "15s"
//	  scopes: ["https://api.botframework.com/.default"]
//
//	identity:
//	  client_id: "..."
//	  client_secret: "${AGENTHOST_CLIENT_SECRET}"
//	  tenant_id: "..."
//
//	flows:
//	  - name: "graph"
//	    type: "oauth_code"       # oauth_code, agentic
//	    auth_url: "https://login.example.com/authorize"
//	    token_url: "https://login.example.com/token"
//	    redirect_url: "https://bot.example.com/auth/callback"
//	    scopes: ["User.Read"]
//	    max_attempts: 3
//	    timeout: "10m"
//
//	flow_cache:
//	  ttl: "5m"
//	  max_size: 1000
//
//	typing:
//	  interval: "2s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// The first entry in flows is the default sign-in handler.
package config
