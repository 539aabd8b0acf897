package middleware

import (
	"net/http"
	"strings"

	"github.com/openclaw/support-relay-go/internal/audit"
	apperrors "github.com/openclaw/support-relay-go/internal/errors"
	"github.com/openclaw/support-relay-go/internal/httputil"
	"github.com/openclaw/support-relay-go/internal/util"
)

// SnapshotAuthMiddleware guards the diagnostic endpoints with a bearer
// token checked against a bcrypt hash. An empty hash leaves them open.
type SnapshotAuthMiddleware struct {
	tokenHash string
}

func NewSnapshotAuthMiddleware(tokenHash string) *SnapshotAuthMiddleware {
	return &SnapshotAuthMiddleware{tokenHash: tokenHash}
}

func (m *SnapshotAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing bearer token"))
			return
		}

		if !util.CheckPasswordHash(token, m.tokenHash) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]any{"path": r.URL.Path},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
