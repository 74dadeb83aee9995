package middleware

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const (
	defaultRateRequests = 100
	defaultRateWindow   = 60
)

// NewRateLimitStore keeps counters in Redis so every server instance shares
// them, or in memory when client is nil.
func NewRateLimitStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return memory.NewStore(), nil
	}
	return sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   "salesdesk:ratelimit",
		MaxRetry: 3,
	})
}

// RateLimit allows requests per window per client IP. The limiter sets the
// X-RateLimit-* headers on every response.
func RateLimit(store limiter.Store, requests, windowSeconds int) func(http.Handler) http.Handler {
	if requests <= 0 {
		requests = defaultRateRequests
	}
	if windowSeconds <= 0 {
		windowSeconds = defaultRateWindow
	}

	rate := limiter.Rate{
		Period: time.Duration(windowSeconds) * time.Second,
		Limit:  int64(requests),
	}
	instance := limiter.New(store, rate, limiter.WithTrustForwardHeader(true))

	mw := stdlib.NewMiddleware(instance,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
		}),
	)
	return mw.Handler
}
