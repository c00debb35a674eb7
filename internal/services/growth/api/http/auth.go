package httpapi

import (
	"net/http"

	apperrors "github.com/louisbranch/rockettree/internal/platform/errors"
	"github.com/louisbranch/rockettree/internal/platform/authtoken"
	"github.com/louisbranch/rockettree/internal/platform/httpx"
	"github.com/louisbranch/rockettree/internal/platform/requestctx"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (authtoken.Claims, error)
}

// RequireUser rejects requests without a valid bearer token and stores the
// token subject as the request user.
func RequireUser(verifier TokenVerifier) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := authtoken.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				httpx.WriteError(w, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
				return
			}
			claims, err := verifier.Verify(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				httpx.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithUserID(r.Context(), claims.UserID)))
		})
	}
}
