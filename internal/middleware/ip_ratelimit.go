package middleware

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pearconnect/connect-server/internal/audit"
	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/httputil"
	"github.com/pearconnect/connect-server/internal/service"
)

// IPRateLimitMiddleware bounds requests per client IP. On the LAN listener it
// caps how fast one address can open WebSocket connections.
type IPRateLimitMiddleware struct {
	limiter service.AttemptLimiter
	prefix  string
}

func NewIPRateLimitMiddleware(limiter service.AttemptLimiter, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r.RemoteAddr)

		allowed, resetAt := m.limiter.Allow(r.Context(), fmt.Sprintf("ip:%s:%s", m.prefix, ip))
		if !allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]any{"scope": m.prefix},
			})
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			httputil.WriteErrorWithStatus(w, http.StatusTooManyRequests,
				apperrors.New(apperrors.ErrCodeRateLimitExceeded, "Too many requests. Please try again later."))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
