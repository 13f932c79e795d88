package session

import (
	"fmt"
	"net/url"

	"github.com/TamiasSibiricus/fief-go/fief"
)

// AuthorizeError is the error the provider reported on the
// authorization redirect, per the OAuth2 error response parameters.
type AuthorizeError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *AuthorizeError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ParseCallback extracts the authorization code and state from the
// query parameters of a provider redirect.  A redirect carrying an
// error parameter fails with an *AuthorizeError; one carrying no code
// fails with fief.ErrInvalidParameter.
func ParseCallback(query url.Values) (code string, state string, err error) {
	const op = "session.ParseCallback"
	if errCode := query.Get("error"); errCode != "" {
		return "", "", fmt.Errorf("%s: %w", op, &AuthorizeError{
			Code:        errCode,
			Description: query.Get("error_description"),
		})
	}
	code = query.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("%s: no authorization code in callback: %w", op, fief.ErrInvalidParameter)
	}
	return code, query.Get("state"), nil
}
