// ABOUTME: Configuration loading and parsing for coven-agenthost
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Sign-in flow types
const (
	FlowTypeOAuthCode = "oauth_code"
	FlowTypeAgentic   = "agentic"
)

// minJWTSecretLength matches the HS256 key length the claims verifier enforces.
const minJWTSecretLength = 32

// Defaults applied by Load for fields left empty.
const (
	DefaultHTTPAddr         = "localhost:3978"
	DefaultMessagesPath     = "/api/messages"
	DefaultKeyPrefix        = "agenthost"
	DefaultConnectorTimeout = 15 * time.Second
	DefaultFlowCacheTTL     = 5 * time.Minute
	DefaultFlowCacheSize    = 1000
	DefaultTypingInterval   = 2 * time.Second
)

// Config represents the complete coven-agenthost configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Connector ConnectorConfig `yaml:"connector"`
	Identity  IdentityConfig  `yaml:"identity"`
	Flows     []FlowConfig    `yaml:"flows"`
	FlowCache FlowCacheConfig `yaml:"flow_cache"`
	Typing    TypingConfig    `yaml:"typing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	MessagesPath string `yaml:"messages_path"`
	// BackgroundNormal answers normal delivery mode requests before the turn runs
	BackgroundNormal bool `yaml:"background_normal"`
	// FallbackMessage is sent to the user when a route fails; empty uses the built-in text
	FallbackMessage string `yaml:"fallback_message"`
	// SignInFailedMessage is sent when a sign-in flow runs out of attempts
	SignInFailedMessage string `yaml:"sign_in_failed_message"`
}

// StorageConfig selects the durable store for sign-in flow state
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`

	// TTL expires Redis records; zero keeps them until deleted
	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// AuthConfig holds inbound request authentication configuration
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret"`
	RequireAuth bool   `yaml:"require_auth"`
}

// ConnectorConfig holds outbound reply delivery configuration
type ConnectorConfig struct {
	Scopes []string `yaml:"scopes"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// IdentityConfig holds the host's own client credentials
type IdentityConfig struct {
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	TenantID      string   `yaml:"tenant_id"`
	TokenURL      string   `yaml:"token_url"`
	AuthorityHost string   `yaml:"authority_host"`
	Scopes        []string `yaml:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (c IdentityConfig) Enabled() bool {
	return c.ClientID != ""
}

// FlowConfig configures one named sign-in handler
type FlowConfig struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Title string `yaml:"title"`

	// oauth_code settings; client credentials default to the identity section
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`

	MaxAttempts       int  `yaml:"max_attempts"`
	DiscardOnComplete bool `yaml:"discard_on_complete"`

	Timeout          time.Duration `yaml:"-"`
	TokenLifetime    time.Duration `yaml:"-"`
	TimeoutRaw       string        `yaml:"timeout"`
	TokenLifetimeRaw string        `yaml:"token_lifetime"`
}

// FlowCacheConfig sizes the in-process flow state cache
type FlowCacheConfig struct {
	MaxSize int `yaml:"max_size"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// TypingConfig holds typing indicator timing
type TypingConfig struct {
	Interval    time.Duration `yaml:"-"`
	IntervalRaw string        `yaml:"interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.MessagesPath == "" {
		c.Server.MessagesPath = DefaultMessagesPath
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = DefaultKeyPrefix
	}
	if c.Connector.Timeout == 0 {
		c.Connector.Timeout = DefaultConnectorTimeout
	}
	if c.FlowCache.TTL == 0 {
		c.FlowCache.TTL = DefaultFlowCacheTTL
	}
	if c.FlowCache.MaxSize == 0 {
		c.FlowCache.MaxSize = DefaultFlowCacheSize
	}
	if c.Typing.Interval == 0 {
		c.Typing.Interval = DefaultTypingInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	for i := range c.Flows {
		f := &c.Flows[i]
		if f.Type == FlowTypeOAuthCode && f.ClientID == "" {
			f.ClientID = c.Identity.ClientID
			f.ClientSecret = c.Identity.ClientSecret
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if !strings.HasPrefix(c.Server.MessagesPath, "/") {
		return fmt.Errorf("server.messages_path must start with /")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, sqlite, redis", c.Storage.Backend)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}
	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.require_auth is set")
	}

	if c.Identity.Enabled() && c.Identity.TokenURL == "" && c.Identity.TenantID == "" {
		return fmt.Errorf("identity.token_url or identity.tenant_id is required with identity.client_id")
	}

	if c.FlowCache.MaxSize < 0 {
		return fmt.Errorf("flow_cache.max_size must not be negative")
	}

	seen := make(map[string]bool, len(c.Flows))
	for i, f := range c.Flows {
		if f.Name == "" {
			return fmt.Errorf("flows[%d].name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("flows[%d]: duplicate flow name %q", i, f.Name)
		}
		seen[f.Name] = true
		if err := f.validate(c.Identity); err != nil {
			return fmt.Errorf("flows[%d] (%s): %w", i, f.Name, err)
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

func (f FlowConfig) validate(identity IdentityConfig) error {
	if f.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	switch f.Type {
	case FlowTypeOAuthCode:
		if f.AuthURL == "" || f.TokenURL == "" {
			return fmt.Errorf("auth_url and token_url are required for oauth_code flows")
		}
		if f.ClientID == "" {
			return fmt.Errorf("client_id is required (set it on the flow or in identity)")
		}
	case FlowTypeAgentic:
		if !identity.Enabled() {
			return fmt.Errorf("agentic flows need identity.client_id")
		}
	default:
		return fmt.Errorf("type %q is not one of oauth_code, agentic", f.Type)
	}
	return nil
}

// durationField ties a raw YAML duration string to its parsed destination
type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{"storage.ttl", cfg.Storage.TTLRaw, &cfg.Storage.TTL},
		{"connector.timeout", cfg.Connector.TimeoutRaw, &cfg.Connector.Timeout},
		{"flow_cache.ttl", cfg.FlowCache.TTLRaw, &cfg.FlowCache.TTL},
		{"typing.interval", cfg.Typing.IntervalRaw, &cfg.Typing.Interval},
	}
	for i := range cfg.Flows {
		f := &cfg.Flows[i]
		fields = append(fields,
			durationField{fmt.Sprintf("flows[%d].timeout", i), f.TimeoutRaw, &f.Timeout},
			durationField{fmt.Sprintf("flows[%d].token_lifetime", i), f.TokenLifetimeRaw, &f.TokenLifetime},
		)
	}

	for _, field := range fields {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", field.name, field.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", field.name)
		}
		*field.dst = d
	}
	return nil
}
