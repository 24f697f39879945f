package realtime

import "time"

// GatewayConfig holds websocket gateway settings. Env tags are relative to
// the app's CHIRP_WS_ prefix.
type GatewayConfig struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool `env:"ORIGIN_REQUIRED"`
	// AllowedOrigins is the Origin allowlist ("*" allows all).
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	// InsecureSkipVerify disables websocket.Accept's own origin check (dev only).
	InsecureSkipVerify bool `env:"DEV_INSECURE"`

	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"`
	ReadIdleTimeout   time.Duration `env:"READ_IDLE_TIMEOUT"`
	SendQueueSize     int           `env:"SEND_QUEUE"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT"`
	RateEvents        int           `env:"RATE_EVENTS"`
	RateWindow        time.Duration `env:"RATE_WINDOW"`
}

// DefaultGatewayConfig is secure by default: Origin required, localhost only.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueueSize:     16,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}
