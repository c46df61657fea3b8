package interceptors

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/webitel/im-notify-gateway/internal/auth"
	"github.com/webitel/im-notify-gateway/internal/handler/response"
)

type contextKey string

const (
	// AuthContextKey is the key used to store/retrieve auth.Claims from context
	AuthContextKey contextKey = "auth_claims"

	// TokenCookie is checked before the Authorization header.
	TokenCookie = "token"
)

// NewAuthMiddleware rejects requests without a valid bearer token.
func NewAuthMiddleware(inspector auth.Inspector, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] Validate identity before the handler runs
			claims, err := inspector.Inspect(ExtractToken(r))
			if err != nil {
				logger.Debug("AUTH_REJECTED",
					"err", err,
					"path", r.URL.Path,
					"remote_ip", r.RemoteAddr,
				)
				response.Error(w, err)
				return
			}

			// [ENRICHMENT] Inject the identity into the context for downstream handlers
			ctx := context.WithValue(r.Context(), AuthContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractToken reads the raw token from the "token" cookie or a Bearer header.
func ExtractToken(r *http.Request) string {
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}

	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// GetAuthClaims is a helper to extract the identity from context safely.
func GetAuthClaims(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(AuthContextKey).(auth.Claims)
	return claims, ok
}
