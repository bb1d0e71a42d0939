package middleware

import (
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/spikeflow/spikeflow/pkg/board/response"
)

// RateLimit rejects requests beyond limiter's budget with 429. A nil
// limiter lets everything through.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				retry := 1
				if l := limiter.Limit(); l > 0 && l < 1 {
					retry = int(1/float64(l)) + 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				response.Error(w, http.StatusTooManyRequests, response.ErrCodeRateLimited,
					"rate limit exceeded", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewLimiter builds a limiter for perSecond requests with burst. Zero
// perSecond means unlimited and returns nil.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
