package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int = 2
	defaultMaxClients          int = 1000
	defaultGlobalRPS           int = 100
	defaultClientRPS           int = 50
	defaultAnonymousRPS        int = 10
	rateLimiterCleanupInterval     = 5 * time.Minute
	rateLimiterIdleTimeout         = 1 * time.Hour
)

type (
	// RateLimiter decides whether a request may proceed. clientID is empty for anonymous
	// requests.
	RateLimiter interface {
		Allow(clientID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with golang.org/x/time/rate token buckets:
	// one global bucket, one bucket per client and one shared anonymous bucket.
	//
	// Client buckets idle longer than IdleTimeout are removed by a background sweep. Once
	// MaxClients buckets exist, unknown clients share the anonymous bucket.
	InMemoryRateLimiter struct {
		global    *rate.Limiter
		anonymous *rate.Limiter

		mu        sync.Mutex
		perClient map[string]*clientLimiter

		clientRPS       int
		clientBurst     int
		idleTimeout     time.Duration
		maxClients      int
		cleanupInterval time.Duration

		done      chan struct{}
		closeOnce sync.Once
	}

	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
	}
)

// NewInMemoryRateLimiter creates a limiter and starts its cleanup goroutine. Callers must
// Close it.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		global: rate.NewLimiter(rate.Limit(config.GlobalRPS),
			computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)),
		anonymous: rate.NewLimiter(rate.Limit(config.AnonymousRPS),
			computeBurstCapacity(config.AnonymousRPS, config.AnonymousBurst)),
		perClient:       make(map[string]*clientLimiter),
		clientRPS:       config.ClientRPS,
		clientBurst:     computeBurstCapacity(config.ClientRPS, config.ClientBurst),
		idleTimeout:     config.IdleTimeout,
		maxClients:      config.MaxClients,
		cleanupInterval: config.CleanupInterval,
		done:            make(chan struct{}),
	}

	if rl.idleTimeout <= 0 {
		rl.idleTimeout = rateLimiterIdleTimeout
	}

	if rl.cleanupInterval <= 0 {
		rl.cleanupInterval = rateLimiterCleanupInterval
	}

	if rl.maxClients <= 0 {
		rl.maxClients = defaultMaxClients
	}

	go rl.sweep()

	return rl
}

// computeBurstCapacity returns burstOverride when positive, otherwise 2 × rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow implements RateLimiter. The global bucket is checked first.
func (rl *InMemoryRateLimiter) Allow(clientID string) bool {
	if !rl.global.Allow() {
		return false
	}

	return rl.limiterFor(clientID).Allow()
}

func (rl *InMemoryRateLimiter) limiterFor(clientID string) *rate.Limiter {
	if clientID == "" {
		return rl.anonymous
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.perClient[clientID]
	if !ok {
		if len(rl.perClient) >= rl.maxClients {
			return rl.anonymous
		}

		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst)}
		rl.perClient[clientID] = cl
	}

	cl.lastAccess = time.Now()

	return cl.limiter
}

// Clients returns the number of tracked client buckets.
func (rl *InMemoryRateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.perClient)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() { close(rl.done) })

	return nil
}

func (rl *InMemoryRateLimiter) sweep() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.done:
			return
		}
	}
}

// cleanup drops client buckets idle since before now - IdleTimeout.
func (rl *InMemoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for clientID, cl := range rl.perClient {
		if now.Sub(cl.lastAccess) > rl.idleTimeout {
			delete(rl.perClient, clientID)
		}
	}
}

// RateLimit returns a middleware answering 429 with an RFC 7807 body when the limiter
// refuses a request. It must run after ClientIdentity.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, _ := GetClientID(r.Context())

			if limiter.Allow(clientID) {
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())
			detail := "Rate limit exceeded. Please retry after some time."

			logger.Warn("Request rate limited",
				slog.String("client_id", clientID),
				slog.String("path", r.URL.Path),
				slog.String("correlation_id", correlationID),
			)

			w.Header().Set("Retry-After", "1")

			if err := writeProblem(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
				logger.Error("Failed to write rate limit response",
					slog.String("correlation_id", correlationID),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}
