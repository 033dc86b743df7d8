package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/audit"
	apperrors "github.com/pearconnect/connect-server/internal/errors"
	"github.com/pearconnect/connect-server/internal/httputil"
	"github.com/pearconnect/connect-server/internal/util"
)

// ControlKeyMiddleware guards the control API with a bearer key checked
// against a bcrypt hash. An empty hash leaves the API open, which is only
// acceptable because the control listener binds to loopback by default.
type ControlKeyMiddleware struct {
	keyHash string
}

func NewControlKeyMiddleware(keyHash string) *ControlKeyMiddleware {
	if keyHash == "" {
		log.Warn().Msg("CONTROL_KEY_HASH is empty: control API accepts unauthenticated requests")
	}
	return &ControlKeyMiddleware{keyHash: keyHash}
}

func (m *ControlKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.keyHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := extractToken(r)
		if key == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing control key"))
			return
		}

		if !util.CheckPasswordHash(key, m.keyHash) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventControlAuthFail,
				Details: map[string]any{"path": r.URL.Path},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid control key"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken accepts a query parameter as well as the Authorization header
// because EventSource clients cannot set headers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
