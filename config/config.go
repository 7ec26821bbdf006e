package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/sessions/redishost"
	"github.com/ggoodman/mcp-obsidian-go/vault"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingVaultKey is returned by Validate when no Obsidian API key is set.
var ErrMissingVaultKey = errors.New("config: OBSIDIAN_API_KEY is required")

// Config is the full server configuration. It is read-only once Load returns.
type Config struct {
	HTTP      HTTP      `yaml:"http"`
	SSE       SSE       `yaml:"sse"`
	Vault     Vault     `yaml:"vault"`
	Tools     Tools     `yaml:"tools"`
	Sessions  Sessions  `yaml:"sessions"`
	Auth      Auth      `yaml:"auth"`
	Telemetry Telemetry `yaml:"telemetry"`
	Log       Log       `yaml:"log"`
}

type HTTP struct {
	Host       string `env:"MCP_HTTP_HOST,default=0.0.0.0" yaml:"host"`
	Port       int    `env:"MCP_HTTP_PORT,default=8000" yaml:"port"`
	APIKey     string `env:"MCP_HTTP_API_KEY" yaml:"api_key"`
	CORSOrigin string `env:"MCP_HTTP_CORS_ORIGIN,default=*" yaml:"cors_origin"`
	MaxBody    int64  `env:"MCP_HTTP_MAX_BODY,default=1048576" yaml:"max_body"`
	// PublicURL is the externally visible base URL. It is advertised as the
	// protected resource when JWT verification is on.
	PublicURL string `env:"MCP_HTTP_PUBLIC_URL" yaml:"public_url"`
}

type SSE struct {
	Heartbeat time.Duration `env:"MCP_SSE_HEARTBEAT,default=15s" yaml:"heartbeat"`
}

type Vault struct {
	APIKey    string        `env:"OBSIDIAN_API_KEY" yaml:"api_key"`
	Protocol  string        `env:"OBSIDIAN_PROTOCOL,default=https" yaml:"protocol"`
	Host      string        `env:"OBSIDIAN_HOST,default=127.0.0.1" yaml:"host"`
	Port      int           `env:"OBSIDIAN_PORT,default=27124" yaml:"port"`
	VerifyTLS bool          `env:"OBSIDIAN_VERIFY_TLS,default=false" yaml:"verify_tls"`
	Timeout   time.Duration `env:"OBSIDIAN_TIMEOUT,default=10s" yaml:"timeout"`
	RetryMax  int           `env:"OBSIDIAN_RETRY_MAX,default=2" yaml:"retry_max"`
}

type Tools struct {
	Prefix string `env:"MCP_TOOL_PREFIX" yaml:"prefix"`
}

type Sessions struct {
	// Backend is "memory" or "redis".
	Backend string           `env:"MCP_SESSION_BACKEND,default=memory" yaml:"backend"`
	Redis   redishost.Config `yaml:"redis"`
}

// Auth configures JWT verification. Setting Issuer turns it on and takes
// precedence over HTTP.APIKey.
type Auth struct {
	Issuer   string `env:"MCP_AUTH_JWT_ISSUER" yaml:"issuer"`
	Audience string `env:"MCP_AUTH_JWT_AUDIENCE" yaml:"audience"`
	JWKSURL  string `env:"MCP_AUTH_JWKS_URL" yaml:"jwks_url"`
	// Scopes must all appear in a token's "scope" claim. The environment
	// form separates them with ';'.
	Scopes []string      `env:"MCP_AUTH_JWT_SCOPES" yaml:"scopes"`
	Algs   []string      `env:"MCP_AUTH_JWT_ALGS,default=RS256" yaml:"algs"`
	Leeway time.Duration `env:"MCP_AUTH_JWT_LEEWAY,default=60s" yaml:"leeway"`
}

type Telemetry struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otlp_endpoint"`
	ServiceName  string `env:"OTEL_SERVICE_NAME,default=mcp-obsidian" yaml:"service_name"`
}

type Log struct {
	Level  string `env:"MCP_LOG_LEVEL,default=info" yaml:"level"`
	Format string `env:"MCP_LOG_FORMAT,default=text" yaml:"format"`
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	envFile  string
	yamlFile string
}

// WithEnvFile loads a dotenv file before reading the environment. Variables
// already present in the environment are not overwritten. A missing file is
// ignored.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithYAMLFile overlays a YAML file on top of the environment. The file must
// exist.
func WithYAMLFile(path string) Option {
	return func(l *loader) { l.yamlFile = path }
}

// Load reads configuration from the environment, an optional dotenv file
// and an optional YAML file, then validates it.
func Load(opts ...Option) (*Config, error) {
	var l loader
	for _, opt := range opts {
		opt(&l)
	}

	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", l.envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: decode environment: %w", err)
	}

	if l.yamlFile != "" {
		b, err := os.ReadFile(l.yamlFile)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", l.yamlFile, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", l.yamlFile, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Vault.APIKey == "" {
		return ErrMissingVaultKey
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http port %d out of range", c.HTTP.Port)
	}
	if c.Vault.Port < 1 || c.Vault.Port > 65535 {
		return fmt.Errorf("config: vault port %d out of range", c.Vault.Port)
	}
	if c.Vault.Protocol != "http" && c.Vault.Protocol != "https" {
		return fmt.Errorf("config: vault protocol must be http or https, got %q", c.Vault.Protocol)
	}
	if c.Vault.Timeout <= 0 {
		return errors.New("config: vault timeout must be positive")
	}
	if c.Vault.RetryMax < 0 {
		return errors.New("config: vault retry_max must not be negative")
	}
	if c.HTTP.MaxBody <= 0 {
		return errors.New("config: http max_body must be positive")
	}
	if c.SSE.Heartbeat <= 0 {
		return errors.New("config: sse heartbeat must be positive")
	}
	switch c.Sessions.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Sessions.Backend)
	}
	if c.HTTP.PublicURL != "" {
		u, err := url.Parse(c.HTTP.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: public url %q must be an absolute http(s) URL", c.HTTP.PublicURL)
		}
	}
	if c.Auth.Issuer != "" && c.Auth.Audience == "" {
		return errors.New("config: MCP_AUTH_JWT_AUDIENCE is required when an issuer is set")
	}
	if c.Auth.Issuer != "" && len(c.Auth.Algs) == 0 {
		return errors.New("config: MCP_AUTH_JWT_ALGS must name at least one algorithm")
	}
	if c.Auth.Leeway < 0 {
		return fmt.Errorf("config: jwt leeway must not be negative, got %v", c.Auth.Leeway)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}

// VaultConfig converts the vault section for vault.New.
func (c *Config) VaultConfig() vault.Config {
	return vault.Config{
		APIKey:    c.Vault.APIKey,
		Protocol:  c.Vault.Protocol,
		Host:      c.Vault.Host,
		Port:      c.Vault.Port,
		VerifyTLS: c.Vault.VerifyTLS,
		Timeout:   c.Vault.Timeout,
		RetryMax:  c.Vault.RetryMax,
	}
}
