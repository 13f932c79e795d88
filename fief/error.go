package fief

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidEncryptionKey       = errors.New("invalid encryption key")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
	ErrMissingIdToken             = errors.New("id_token is missing")

	// Token validation outcomes.  Mutually exclusive per call, see
	// Client.ValidateAccessToken for the precedence between them.
	ErrAccessTokenInvalid           = errors.New("access token is invalid")
	ErrAccessTokenExpired           = errors.New("access token is expired")
	ErrAccessTokenMissingScope      = errors.New("access token is missing a required scope")
	ErrAccessTokenACRTooLow         = errors.New("access token does not meet the minimum ACR level")
	ErrAccessTokenMissingPermission = errors.New("access token is missing a required permission")
	ErrIdTokenInvalid               = errors.New("id_token is invalid")
)

// RequestError represents a non-2xx response from the provider.  Detail
// carries the raw response body text.
type RequestError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("[%d] - %s", e.Status, e.Detail)
}
