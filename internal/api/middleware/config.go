// Package middleware provides the HTTP middleware chain of the bridge query API.
package middleware

import (
	"time"

	"github.com/correlator-io/sdbridge/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits are requests per second for three tiers: global (every request), per
// client (requests carrying X-Client-ID) and anonymous (the rest). A zero burst is
// computed as 2 × rate.
type Config struct {
	GlobalRPS    int
	ClientRPS    int
	AnonymousRPS int

	GlobalBurst    int
	ClientBurst    int
	AnonymousBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:    config.GetEnvInt("SDBRIDGE_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS:    config.GetEnvInt("SDBRIDGE_CLIENT_RPS", defaultClientRPS),
		AnonymousRPS: config.GetEnvInt("SDBRIDGE_ANONYMOUS_RPS", defaultAnonymousRPS),

		GlobalBurst:    config.GetEnvInt("SDBRIDGE_GLOBAL_BURST", 0),
		ClientBurst:    config.GetEnvInt("SDBRIDGE_CLIENT_BURST", 0),
		AnonymousBurst: config.GetEnvInt("SDBRIDGE_ANONYMOUS_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"SDBRIDGE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("SDBRIDGE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:  config.GetEnvInt("SDBRIDGE_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
