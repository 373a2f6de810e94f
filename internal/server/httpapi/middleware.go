package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/server/auth"
)

type principalKey struct{}

// Principal returns the verified access token claims stored by the
// authentication middleware.
func Principal(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(principalKey{}).(*auth.Claims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(common.AuthorizationHeader)
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireAccessToken rejects requests without a valid bearer token with a
// uniform 401. The failure reason is only logged.
func (h *Handler) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.logger.Info(r.Context(), "access denied", "path", r.URL.Path, "reason", reason(common.ErrUnauthenticated))
			writeMessage(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		claims, err := h.tokens.Verify(token)
		if err != nil {
			h.logger.Info(r.Context(), "access denied", "path", r.URL.Path, "reason", reason(err))
			writeMessage(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}

		h.logger.Debug(r.Context(), "access granted", "path", r.URL.Path,
			"username", claims.Username(), "issued_at", claims.Issued())

		ctx := context.WithValue(r.Context(), principalKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
