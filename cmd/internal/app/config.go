package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chirp/cmd/internal/realtime"

	"github.com/caarlos0/env/v10"
)

// Config contains the process-level runtime configuration (CHIRP_*).
// Auth, API and password settings load from their own packages.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"LOG_COLOR"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	// Empty DatabaseURL runs every store in process memory.
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB"`
	// If false, migrations are expected to be applied out of band.
	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"true"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	// If set, refresh secrets are stored as HMAC-SHA256 digests keyed by it.
	TokenHMACKey string `env:"TOKEN_HMAC_KEY"`
	// If true, TokenHMACKey MUST be set.
	RequireTokenHMAC bool `env:"REQUIRE_TOKEN_HMAC"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS" envDefault:"600"`

	WS realtime.GatewayConfig `envPrefix:"WS_"`
}

// LoadConfig reads CHIRP_* variables.
func LoadConfig() (Config, error) {
	cfg := Config{WS: realtime.DefaultGatewayConfig()}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CHIRP_"}); err != nil {
		return Config{}, fmt.Errorf("app: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("app: HTTP_ADDR is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "pretty":
	default:
		return fmt.Errorf("app: LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return errors.New("app: DB_MIN_CONNS must be within 0..DB_MAX_CONNS")
	}
	if c.SweepInterval <= 0 {
		return errors.New("app: SWEEP_INTERVAL must be > 0")
	}
	return nil
}
