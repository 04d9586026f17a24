package middleware

import (
	"context"
	"net/http"

	"easyswitch/internal/auth"
	"easyswitch/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const TokenClaimsKey contextKey = "jwtClaims"

// ClaimsFromContext returns the claims of the token accepted by
// RequireBearer.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(TokenClaimsKey).(jwt.MapClaims)
	return claims, ok
}

// RequireBearer guards the operator API with HS256 tokens signed by secret.
// An empty secret disables the API entirely.
func RequireBearer(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				return
			}

			tokenStr := auth.ExtractAccessToken(r)
			if tokenStr == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			claims, err := auth.ParseToken(secret, tokenStr)
			if err != nil {
				logger.FromCtx(r.Context()).Warn("operator token rejected", zap.Error(err))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), TokenClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
