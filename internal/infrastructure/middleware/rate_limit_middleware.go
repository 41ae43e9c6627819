package middleware

import (
	"net"
	"net/http"
	"sync"

	"voicemesh/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore keeps one limiter per key (client IP).
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware applies per-IP rate limiting to the HTTP surface.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	store := newRateLimiterStore(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
	)

	return func(c *gin.Context) {
		if !store.getLimiter(clientIP(c.Request)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// NewSignalMessageLimiter returns the per-connection limiter applied to
// inbound signaling messages. Returns nil when rate limiting is disabled.
func NewSignalMessageLimiter(cfg *config.Config) func() *rate.Limiter {
	if !cfg.RateLimiting.Enabled {
		return func() *rate.Limiter { return nil }
	}
	r := rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond)
	burst := cfg.RateLimiting.WebSocket.Burst
	return func() *rate.Limiter {
		return rate.NewLimiter(r, burst)
	}
}
