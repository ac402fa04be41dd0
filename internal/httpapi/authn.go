package httpapi

import (
	"errors"
	"net/http"

	"solarforecast.org/internal/auth"
)

const authHeader = "Authorization"

// withAuth verifies the bearer token and attaches its subject to the request
// context. Protected routes are mounted behind it, public ones are not.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if a.tokens == nil {
			unauthorized(w, r, "token verification is not configured")
			return
		}
		token, ok := auth.BearerToken(r.Header.Get(authHeader))
		if !ok {
			unauthorized(w, r, "missing bearer token")
			return
		}
		claims, err := a.tokens.Verify(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				unauthorized(w, r, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		ctx := auth.ContextWithSubject(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func subject(r *http.Request) string {
	s, _ := auth.SubjectFromContext(r.Context())
	return s
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}
