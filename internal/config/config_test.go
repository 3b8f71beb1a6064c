// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:3978"
  messages_path: "/bot/messages"
  background_normal: true

storage:
  backend: "sqlite"
  path: "./flows.db"

auth:
  jwt_secret: "`+testSecret+`"
  require_auth: true

connector:
  timeout: "5s"
  scopes:
    - "https://api.botframework.com/.default"

identity:
  client_id: "app-id"
  client_secret: "app-secret"
  tenant_id: "contoso"

flows:
  - name: "graph"
    type: "oauth_code"
    title: "Sign in to Graph"
    auth_url: "https://login.example.com/authorize"
    token_url: "https://login.example.com/token"
    redirect_url: "https://bot.example.com/callback"
    scopes: ["User.Read", "Calendars.Read"]
    max_attempts: 5
    timeout: "15m"
  - name: "agent"
    type: "agentic"
    scopes: ["api://downstream/.default"]
    token_lifetime: "50m"

flow_cache:
  ttl: "1m"
  max_size: 50

typing:
  interval: "750ms"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:3978" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:3978")
	}
	if cfg.Server.MessagesPath != "/bot/messages" {
		t.Errorf("Server.MessagesPath = %q, want %q", cfg.Server.MessagesPath, "/bot/messages")
	}
	if !cfg.Server.BackgroundNormal {
		t.Error("Server.BackgroundNormal = false, want true")
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.Path != "./flows.db" {
		t.Errorf("Storage = %+v, want sqlite at ./flows.db", cfg.Storage)
	}
	if !cfg.Auth.RequireAuth {
		t.Error("Auth.RequireAuth = false, want true")
	}
	if cfg.Connector.Timeout != 5*time.Second {
		t.Errorf("Connector.Timeout = %v, want 5s", cfg.Connector.Timeout)
	}
	if len(cfg.Connector.Scopes) != 1 {
		t.Errorf("Connector.Scopes len = %d, want 1", len(cfg.Connector.Scopes))
	}
	if !cfg.Identity.Enabled() {
		t.Error("Identity.Enabled() = false, want true")
	}

	if len(cfg.Flows) != 2 {
		t.Fatalf("Flows len = %d, want 2", len(cfg.Flows))
	}
	graph := cfg.Flows[0]
	if graph.Name != "graph" || graph.Type != FlowTypeOAuthCode {
		t.Errorf("Flows[0] = %q/%q, want graph/oauth_code", graph.Name, graph.Type)
	}
	if graph.MaxAttempts != 5 {
		t.Errorf("Flows[0].MaxAttempts = %d, want 5", graph.MaxAttempts)
	}
	if graph.Timeout != 15*time.Minute {
		t.Errorf("Flows[0].Timeout = %v, want 15m", graph.Timeout)
	}
	if graph.ClientID != "app-id" || graph.ClientSecret != "app-secret" {
		t.Errorf("Flows[0] client = %q/%q, want identity credentials", graph.ClientID, graph.ClientSecret)
	}
	if cfg.Flows[1].TokenLifetime != 50*time.Minute {
		t.Errorf("Flows[1].TokenLifetime = %v, want 50m", cfg.Flows[1].TokenLifetime)
	}

	if cfg.FlowCache.TTL != time.Minute || cfg.FlowCache.MaxSize != 50 {
		t.Errorf("FlowCache = %+v, want 1m/50", cfg.FlowCache)
	}
	if cfg.Typing.Interval != 750*time.Millisecond {
		t.Errorf("Typing.Interval = %v, want 750ms", cfg.Typing.Interval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Server.MessagesPath != DefaultMessagesPath {
		t.Errorf("Server.MessagesPath = %q, want %q", cfg.Server.MessagesPath, DefaultMessagesPath)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("Storage.Backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Storage.KeyPrefix != DefaultKeyPrefix {
		t.Errorf("Storage.KeyPrefix = %q, want %q", cfg.Storage.KeyPrefix, DefaultKeyPrefix)
	}
	if cfg.Connector.Timeout != DefaultConnectorTimeout {
		t.Errorf("Connector.Timeout = %v, want %v", cfg.Connector.Timeout, DefaultConnectorTimeout)
	}
	if cfg.FlowCache.TTL != DefaultFlowCacheTTL || cfg.FlowCache.MaxSize != DefaultFlowCacheSize {
		t.Errorf("FlowCache = %+v, want defaults", cfg.FlowCache)
	}
	if cfg.Typing.Interval != DefaultTypingInterval {
		t.Errorf("Typing.Interval = %v, want %v", cfg.Typing.Interval, DefaultTypingInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
	if cfg.Identity.Enabled() {
		t.Error("Identity.Enabled() = true, want false")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("AGENTHOST_TEST_SECRET", testSecret)
	t.Setenv("AGENTHOST_TEST_REDIS", "redis.internal:6379")

	cfg, err := Parse([]byte(`
storage:
  backend: redis
  redis_addr: "${AGENTHOST_TEST_REDIS}"
auth:
  jwt_secret: "${AGENTHOST_TEST_SECRET}"
identity:
  client_id: "app"
  client_secret: "${AGENTHOST_TEST_UNSET_VAR}"
  token_url: "https://login.example.com/token"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Storage.RedisAddr != "redis.internal:6379" {
		t.Errorf("Storage.RedisAddr = %q, want expanded value", cfg.Storage.RedisAddr)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Identity.ClientSecret != "" {
		t.Errorf("Identity.ClientSecret = %q, want empty for unset variable", cfg.Identity.ClientSecret)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AGENTHOST_A", "alpha")
	t.Setenv("AGENTHOST_B", "beta")

	got := expandEnvVars("${AGENTHOST_A}-${AGENTHOST_B}-${AGENTHOST_MISSING}-$AGENTHOST_A")
	if got != "alpha-beta--$AGENTHOST_A" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}

func TestLoad_InvalidDurations(t *testing.T) {
	tests := map[string]string{
		"connector":  "connector:\n  timeout: \"soon\"\n",
		"flow cache": "flow_cache:\n  ttl: \"5 minutes\"\n",
		"typing":     "typing:\n  interval: \"-1s\"\n",
		"flow": `
identity:
  client_id: "app"
  tenant_id: "t"
flows:
  - name: "agent"
    type: "agentic"
    timeout: "forever"
`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			if err == nil {
				t.Fatal("Parse() error = nil, want duration error")
			}
			if !strings.Contains(err.Error(), "parsing durations") {
				t.Errorf("error = %v, want duration error", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown backend",
			content: "storage:\n  backend: \"postgres\"\n",
			wantErr: "storage.backend",
		},
		{
			name:    "sqlite without path",
			content: "storage:\n  backend: \"sqlite\"\n",
			wantErr: "storage.path",
		},
		{
			name:    "redis without addr",
			content: "storage:\n  backend: \"redis\"\n",
			wantErr: "storage.redis_addr",
		},
		{
			name:    "short secret",
			content: "auth:\n  jwt_secret: \"short\"\n",
			wantErr: "at least 32 bytes",
		},
		{
			name:    "require auth without secret",
			content: "auth:\n  require_auth: true\n",
			wantErr: "auth.jwt_secret is required",
		},
		{
			name:    "relative messages path",
			content: "server:\n  messages_path: \"api/messages\"\n",
			wantErr: "server.messages_path",
		},
		{
			name:    "identity without authority",
			content: "identity:\n  client_id: \"app\"\n",
			wantErr: "identity.token_url or identity.tenant_id",
		},
		{
			name:    "flow without name",
			content: "flows:\n  - type: \"oauth_code\"\n",
			wantErr: "flows[0].name",
		},
		{
			name: "duplicate flow",
			content: `
identity:
  client_id: "app"
  tenant_id: "t"
flows:
  - name: "a"
    type: "agentic"
  - name: "a"
    type: "agentic"
`,
			wantErr: "duplicate flow name",
		},
		{
			name:    "unknown flow type",
			content: "flows:\n  - name: \"x\"\n    type: \"saml\"\n",
			wantErr: "not one of oauth_code, agentic",
		},
		{
			name:    "oauth flow without endpoints",
			content: "flows:\n  - name: \"x\"\n    type: \"oauth_code\"\n    client_id: \"c\"\n",
			wantErr: "auth_url and token_url",
		},
		{
			name:    "oauth flow without client",
			content: "flows:\n  - name: \"x\"\n    type: \"oauth_code\"\n    auth_url: \"https://a\"\n    token_url: \"https://t\"\n",
			wantErr: "client_id is required",
		},
		{
			name:    "agentic flow without identity",
			content: "flows:\n  - name: \"x\"\n    type: \"agentic\"\n",
			wantErr: "identity.client_id",
		},
		{
			name:    "negative attempts",
			content: "flows:\n  - name: \"x\"\n    type: \"oauth_code\"\n    client_id: \"c\"\n    auth_url: \"https://a\"\n    token_url: \"https://t\"\n    max_attempts: -1\n",
			wantErr: "max_attempts",
		},
		{
			name:    "unknown log format",
			content: "logging:\n  format: \"xml\"\n",
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatalf("Parse() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file: error = nil")
	}

	configPath := writeConfig(t, "server: [not, a, map]\n")
	if _, err := Load(configPath); err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() of invalid YAML: error = %v", err)
	}
}
