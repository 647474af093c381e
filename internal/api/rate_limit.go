package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/hueshift/internal/ratelimit"
)

// The inline recolor route charges one token per recolorTokenBytes of body,
// capped at maxRecolorCost.
const (
	recolorTokenBytes = 4 << 20
	maxRecolorCost    = 4
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.Method, r.URL.Path)
		subject := s.subject(r) + ":" + route

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, requestCost(r))
		if err != nil {
			s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

func shouldRateLimit(r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/")
}

func requestCost(r *http.Request) int {
	if r.URL.Path != "/v1/recolor" || r.ContentLength <= 0 {
		return 1
	}
	return min(maxRecolorCost, 1+int(r.ContentLength/recolorTokenBytes))
}
