package api

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type operatorContextKey struct{}

// operatorAuthMiddleware requires a Bearer JWT signed with OPERATOR_JWT_SECRET
// on operator-only routes (spec §6.2's "operator" route group), adapted from
// the teacher's adminAuthMiddleware shared-secret check. The shared-secret
// HMAC check workers use on /latency/record (spec §6.1) is unrelated and
// enforced by the host framework, not here.
func operatorAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := os.Getenv("OPERATOR_JWT_SECRET")
		if secret == "" {
			writeAPIFailed(w, "operator API is disabled (no OPERATOR_JWT_SECRET configured)")
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		if raw == "" {
			writeAPIFailed(w, "missing operator token")
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			writeAPIFailed(w, "invalid operator token")
			return
		}

		claims, _ := token.Claims.(jwt.MapClaims)
		ctx := context.WithValue(r.Context(), operatorContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
