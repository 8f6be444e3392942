// Package api provides the HTTP query API of the signal detection bridge.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/correlator-io/sdbridge/internal/config"
)

const (
	defaultPort           int    = 8080
	maxPort               int    = 65535
	defaultHost           string = "0.0.0.0"
	defaultCORSMaxAge     int    = 86400
	defaultTimeout               = 30 * time.Second
	defaultLogLevel              = slog.LevelInfo
	defaultMaxRequestSize int    = 1 << 20
	defaultMaxBatchSize   int    = 5000
)

// Validation errors returned by ServerConfig.Validate.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidMaxRequestSize  = errors.New("max request size must be positive")
	ErrInvalidMaxBatchSize    = errors.New("max batch size must be positive")
)

type (
	// ServerConfig holds the HTTP server settings. It carries no runtime dependencies.
	ServerConfig struct {
		Port            int
		Host            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		LogLevel        slog.Level
		MaxRequestSize  int64
		MaxBatchSize    int
		CORS            CORSConfig
	}

	// CORSConfig is the cross-origin policy handed to middleware.WithCORS.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig reads the SDBRIDGE_SERVER_*, SDBRIDGE_MAX_* and SDBRIDGE_CORS_* variables.
// The "*" origin default is for development.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("SDBRIDGE_SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("SDBRIDGE_SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("SDBRIDGE_SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("SDBRIDGE_SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("SDBRIDGE_SERVER_TIMEOUT", defaultTimeout),
		LogLevel:        config.GetEnvLogLevel("SDBRIDGE_SERVER_LOG_LEVEL", defaultLogLevel),
		MaxRequestSize:  int64(config.GetEnvInt("SDBRIDGE_MAX_REQUEST_SIZE", defaultMaxRequestSize)),
		MaxBatchSize:    config.GetEnvInt("SDBRIDGE_MAX_BATCH_SIZE", defaultMaxBatchSize),
		CORS: CORSConfig{
			AllowedOrigins: config.GetEnvList("SDBRIDGE_CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: config.GetEnvList("SDBRIDGE_CORS_ALLOWED_METHODS", "GET,POST,OPTIONS"),
			AllowedHeaders: config.GetEnvList("SDBRIDGE_CORS_ALLOWED_HEADERS",
				"Content-Type,X-Correlation-ID,X-Client-ID,traceparent"),
			MaxAge: config.GetEnvInt("SDBRIDGE_CORS_MAX_AGE", defaultCORSMaxAge),
		},
	}
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// The getters satisfy middleware.CORSConfig.

func (c *CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }
func (c *CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }
func (c *CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }
func (c *CORSConfig) GetMaxAge() int              { return c.MaxAge }

// Validate reports the first setting outside its allowed range.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxRequestSize, c.MaxRequestSize)
	}

	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxBatchSize, c.MaxBatchSize)
	}

	return nil
}
