package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/TamiasSibiricus/fief-go/fief"
)

type contextKey int

const resultContextKey contextKey = 0

// NewResultContext returns a new Context carrying the authentication
// result.
func NewResultContext(ctx context.Context, result *Result) context.Context {
	return context.WithValue(ctx, resultContextKey, result)
}

// ResultFromContext retrieves the authentication result the middleware
// stored on the request context.
func ResultFromContext(ctx context.Context) (*Result, bool) {
	result, ok := ctx.Value(resultContextKey).(*Result)
	return result, ok && result != nil
}

// Middleware wraps a handler with Authenticate using the given policy
// options.  Unauthenticated requests get a 401 response, valid
// credentials failing the requirements a 403, and any other failure a
// 500.  On success the Result is stored on the request context; under
// WithOptional an unauthenticated request reaches the handler with no
// Result in context.
func (a *Authenticator) Middleware(opt ...Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := a.Authenticate(r.Context(), r, opt...)
			if err != nil {
				switch {
				case errors.Is(err, ErrUnauthorized),
					errors.Is(err, fief.ErrAccessTokenInvalid),
					errors.Is(err, fief.ErrAccessTokenExpired):
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				case errors.Is(err, ErrForbidden):
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				default:
					a.logger.Error("request authentication failed", "error", err)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
				return
			}
			if result != nil {
				r = r.WithContext(NewResultContext(r.Context(), result))
			}
			next.ServeHTTP(w, r)
		})
	}
}
