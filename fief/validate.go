package fief

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	strutil "github.com/TamiasSibiricus/fief-go/fief/internal/strutils"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// ValidateAccessToken verifies the access token's signature against the
// provider's signing keys, checks it is not expired, and enforces the
// required scopes, minimum ACR level and required permissions supplied
// with WithRequiredScopes, WithRequiredACR and WithRequiredPermissions.
//
// Failure modes, in priority order: an expired token fails with
// ErrAccessTokenExpired; any other signature or structure failure, a
// missing scope claim, a missing or unknown acr claim, or a missing
// permissions claim fail with ErrAccessTokenInvalid; a missing required
// scope fails with ErrAccessTokenMissingScope; an ACR below the
// required level fails with ErrAccessTokenACRTooLow; a missing required
// permission fails with ErrAccessTokenMissingPermission.
func (c *Client) ValidateAccessToken(ctx context.Context, accessToken string, opt ...Option) (*AccessTokenInfo, error) {
	const op = "Client.ValidateAccessToken"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrAccessTokenInvalid)
	}
	opts := getValidateOpts(opt...)
	keys, err := c.SigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to get signing keys: %w", op, err)
	}

	claims, err := verifySignedToken(accessToken, keys, time.Now())
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrAccessTokenExpired)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrAccessTokenInvalid)
	}

	scopeClaim, ok := claims["scope"].(string)
	if !ok {
		return nil, fmt.Errorf("%s: scope claim is missing: %w", op, ErrAccessTokenInvalid)
	}
	scopes := strings.Split(scopeClaim, " ")
	for _, required := range opts.withRequiredScopes {
		if !strutil.StrListContains(scopes, required) {
			return nil, fmt.Errorf("%s: missing scope %q: %w", op, required, ErrAccessTokenMissingScope)
		}
	}

	acrClaim, ok := claims["acr"].(string)
	acr := ACR(acrClaim)
	if !ok || !acr.Valid() {
		return nil, fmt.Errorf("%s: acr claim is missing or unknown: %w", op, ErrAccessTokenInvalid)
	}
	if opts.withRequiredACR != "" && compareACR(acr, opts.withRequiredACR) < 0 {
		return nil, fmt.Errorf("%s: acr level %s is below the required %s: %w", op, acr, opts.withRequiredACR, ErrAccessTokenACRTooLow)
	}

	rawPermissions, ok := claims["permissions"]
	if !ok {
		return nil, fmt.Errorf("%s: permissions claim is missing: %w", op, ErrAccessTokenInvalid)
	}
	permissions := toStringList(rawPermissions)
	for _, required := range opts.withRequiredPermissions {
		if !strutil.StrListContains(permissions, required) {
			return nil, fmt.Errorf("%s: missing permission %q: %w", op, required, ErrAccessTokenMissingPermission)
		}
	}

	sub, _ := claims["sub"].(string)
	return &AccessTokenInfo{
		Id:          sub,
		Scope:       scopes,
		ACR:         acr,
		Permissions: permissions,
		AccessToken: accessToken,
	}, nil
}

// DecodeIdToken decrypts the id_token when an encryption key is
// configured, verifies its signature against the provider's signing
// keys, and validates its time claims.  When the token carries a c_hash
// claim it must validate against the authorization code supplied with
// WithCode; an at_hash claim likewise against the access token supplied
// with WithAccessToken.  Every decryption, signature, structure or hash
// binding failure maps to ErrIdTokenInvalid.
func (c *Client) DecodeIdToken(ctx context.Context, idToken string, opt ...Option) (UserInfo, error) {
	const op = "Client.DecodeIdToken"
	if idToken == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrIdTokenInvalid)
	}
	opts := getDecodeIdTokenOpts(opt...)
	keys, err := c.SigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to get signing keys: %w", op, err)
	}

	signed := idToken
	if c.encryptionKey != nil {
		object, err := jose.ParseEncrypted(idToken)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to parse encrypted id_token: %w", op, ErrIdTokenInvalid)
		}
		plaintext, err := object.Decrypt(c.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to decrypt id_token: %w", op, ErrIdTokenInvalid)
		}
		signed = string(plaintext)
	}

	claims, err := verifySignedToken(signed, keys, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: invalid id_token signature: %w", op, ErrIdTokenInvalid)
	}

	if cHash, ok := claims["c_hash"].(string); ok {
		if opts.withCode == "" || !IsValidHash(opts.withCode, cHash) {
			return nil, fmt.Errorf("%s: c_hash does not match the authorization code: %w", op, ErrIdTokenInvalid)
		}
	}
	if atHash, ok := claims["at_hash"].(string); ok {
		if opts.withAccessToken == "" || !IsValidHash(opts.withAccessToken, atHash) {
			return nil, fmt.Errorf("%s: at_hash does not match the access token: %w", op, ErrIdTokenInvalid)
		}
	}
	return UserInfo(claims), nil
}

// verifySignedToken verifies raw against the key set and validates its
// time-based claims at now.  It returns an error wrapping jwt.ErrExpired
// for expired tokens so callers can classify them.
func verifySignedToken(raw string, keys *jose.JSONWebKeySet, now time.Time) (map[string]interface{}, error) {
	parsed, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("unable to parse token: %w", err)
	}

	keysToTry := keys.Keys
	if len(parsed.Headers) > 0 && parsed.Headers[0].KeyID != "" {
		if matched := keys.Key(parsed.Headers[0].KeyID); len(matched) > 0 {
			keysToTry = matched
		}
	}
	var std jwt.Claims
	all := map[string]interface{}{}
	verified := false
	for _, key := range keysToTry {
		if err := parsed.Claims(key, &std, &all); err == nil {
			verified = true
			break
		}
	}
	if !verified {
		return nil, errors.New("no known key successfully validated the token signature")
	}

	if err := std.Validate(jwt.Expected{Time: now}); err != nil {
		return nil, fmt.Errorf("invalid token claims: %w", err)
	}
	return all, nil
}

// toStringList converts a decoded JSON claim to a list of strings.
func toStringList(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// validateOptions is the set of available options for
// Client.ValidateAccessToken
type validateOptions struct {
	withRequiredScopes      []string
	withRequiredACR         ACR
	withRequiredPermissions []string
}

func getValidateOpts(opt ...Option) validateOptions {
	opts := validateOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRequiredScopes provides the list of scopes the access token must
// carry.
func WithRequiredScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*validateOptions); ok {
			o.withRequiredScopes = scopes
		}
	}
}

// WithRequiredACR provides the minimum ACR level the access token must
// meet.
func WithRequiredACR(acr ACR) Option {
	return func(o interface{}) {
		if o, ok := o.(*validateOptions); ok {
			o.withRequiredACR = acr
		}
	}
}

// WithRequiredPermissions provides the list of permissions the access
// token must carry.
func WithRequiredPermissions(permissions ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*validateOptions); ok {
			o.withRequiredPermissions = permissions
		}
	}
}

// decodeIdTokenOptions is the set of available options for
// Client.DecodeIdToken
type decodeIdTokenOptions struct {
	withCode        string
	withAccessToken string
}

func getDecodeIdTokenOpts(opt ...Option) decodeIdTokenOptions {
	opts := decodeIdTokenOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCode provides the authorization code the id_token's c_hash claim
// must bind to.
func WithCode(code string) Option {
	return func(o interface{}) {
		if o, ok := o.(*decodeIdTokenOptions); ok {
			o.withCode = code
		}
	}
}

// WithAccessToken provides the access token the id_token's at_hash
// claim must bind to.
func WithAccessToken(accessToken string) Option {
	return func(o interface{}) {
		if o, ok := o.(*decodeIdTokenOptions); ok {
			o.withAccessToken = accessToken
		}
	}
}
