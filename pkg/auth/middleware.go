package auth

import (
	"net/http"
	"strings"

	apperrors "github.com/chainsafe/icco-contributor/pkg/app/errors"
	apphttp "github.com/chainsafe/icco-contributor/pkg/app/http"
)

// RequireEscrowToken authenticates the escrow host with a bearer JWT.
func RequireEscrowToken(v *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "bearer token required"))
				return
			}

			claims, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid token"))
				return
			}
			subject, _ := claims.GetSubject()
			next.ServeHTTP(w, r.WithContext(WithEscrowSubject(r.Context(), subject)))
		})
	}
}
