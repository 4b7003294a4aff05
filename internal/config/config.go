package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Zitadel/OIDC authentication (token validation + introspection, §4.4)
	Zitadel ZitadelConfig

	// Redis backing for the distributed session store and broker (§4.2, §4.3)
	Redis RedisConfig

	// MCP protocol/session behavior
	MCP MCPConfig

	// OpenTelemetry tracing, wrapping the JSON-RPC dispatch span (§4.6)
	Otel OtelConfig

	// Server timeouts. WriteTimeout/IdleTimeout are long because the SSE stream (§4.7) holds a
	// single HTTP response open for the session's lifetime.
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ZitadelConfig holds Zitadel/OIDC authentication settings, reused unchanged from the teacher's
// shape since the resource-server/introspection wiring this server needs is identical (§4.4).
type ZitadelConfig struct {
	Domain string `env:"ZITADEL_DOMAIN" envDefault:"localhost:8080"`
	Issuer string `env:"ZITADEL_ISSUER"`

	ClientJWT     string `env:"ZITADEL_CLIENT_JWT"`
	ClientJWTPath string `env:"ZITADEL_CLIENT_JWT_PATH"`

	DisableIntrospection bool          `env:"DISABLE_ZITADEL_INTROSPECTION" envDefault:"false"`
	IntrospectCacheTTL   time.Duration `env:"ZITADEL_INTROSPECT_CACHE_TTL" envDefault:"5m"`

	Insecure bool `env:"ZITADEL_INSECURE" envDefault:"false"`
}

// GetIssuer returns the issuer URL, defaulting to https://{Domain}.
func (z *ZitadelConfig) GetIssuer() string {
	if z.Issuer != "" {
		return z.Issuer
	}
	if z.Insecure {
		return fmt.Sprintf("http://%s", z.Domain)
	}
	return fmt.Sprintf("https://%s", z.Domain)
}

// JWKSURI derives the standard JWKS document location from the issuer.
func (z *ZitadelConfig) JWKSURI() string {
	return z.GetIssuer() + "/oauth/v2/keys"
}

// RedisConfig configures the distributed Store/Broker backing (§4.2, §4.3). When Addr is empty
// the server runs single-instance, in-memory only.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR" envDefault:""`
	Password  string `env:"REDIS_PASSWORD" envDefault:""`
	DB        int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"mcp:"`
}

// Enabled reports whether a Redis backing is configured.
func (r *RedisConfig) Enabled() bool { return r.Addr != "" }

// MCPConfig holds MCP protocol-level behavior (§3, §4.2, §4.8).
type MCPConfig struct {
	// SessionIdleTTL is how long an idle, stream-less session survives before SweepExpired removes it.
	SessionIdleTTL time.Duration `env:"MCP_SESSION_IDLE_TTL" envDefault:"30m"`
	// SweepInterval is how often the cron sweeper runs.
	SweepInterval string `env:"MCP_SWEEP_CRON" envDefault:"*/5 * * * *"`
	// ExpectedAudience is this server's own resource identifier, checked against every token's aud claim.
	ExpectedAudience string `env:"MCP_EXPECTED_AUDIENCE" envDefault:""`
}

// NewConfig loads configuration from environment variables.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("zitadel_domain", cfg.Zitadel.Domain),
		slog.Bool("redis_enabled", cfg.Redis.Enabled()),
	)

	return cfg, nil
}
