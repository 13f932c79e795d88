package auth

import (
	"net/http"
	"strings"
)

// TokenGetter extracts an access token from a request.  An empty string
// means the request carries no credential.
type TokenGetter func(r *http.Request) string

// AuthorizationSchemeGetter returns a TokenGetter reading the token
// from the Authorization header with the given scheme, like "bearer".
// The scheme comparison is case-insensitive.
func AuthorizationSchemeGetter(scheme string) TokenGetter {
	return func(r *http.Request) string {
		authorization := r.Header.Get("Authorization")
		if authorization == "" {
			return ""
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 {
			return ""
		}
		if !strings.EqualFold(parts[0], scheme) {
			return ""
		}
		return parts[1]
	}
}

// CookieGetter returns a TokenGetter reading the token from the named
// cookie.
func CookieGetter(name string) TokenGetter {
	return func(r *http.Request) string {
		cookie, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return cookie.Value
	}
}
