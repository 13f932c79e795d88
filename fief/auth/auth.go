// Package auth authenticates incoming HTTP requests against a fief
// Client: it extracts the access token from the request, validates it
// with the configured scope, ACR and permission requirements, and
// resolves the user's userinfo through a pluggable cache.  It also
// ships an http middleware wrapping the same logic.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/TamiasSibiricus/fief-go/fief"
	"github.com/hashicorp/go-hclog"
)

var (
	// ErrUnauthorized means the request carries no credential, or a
	// credential which failed validation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the credential is valid but doesn't meet the
	// scope, ACR or permission requirements.
	ErrForbidden = errors.New("forbidden")
)

// Result is the outcome of a successful authentication: the validated
// access token claims and the user's userinfo, resolved through the
// configured cache.
type Result struct {
	AccessTokenInfo *fief.AccessTokenInfo
	User            fief.UserInfo
}

// Authenticator authenticates requests for a single fief Client.  It's
// safe for concurrent use.
type Authenticator struct {
	client      *fief.Client
	tokenGetter TokenGetter
	cache       UserInfoCache
	logger      hclog.Logger
}

// New creates an Authenticator for the client.
// Supported options: WithTokenGetter, WithUserInfoCache, WithLogger.
// By default tokens are read from the Authorization header with the
// bearer scheme, userinfo is cached in memory, and logging is disabled.
func New(client *fief.Client, opt ...Option) (*Authenticator, error) {
	const op = "auth.New"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, fief.ErrNilParameter)
	}
	opts := getAuthenticatorOpts(opt...)
	a := &Authenticator{
		client:      client,
		tokenGetter: opts.withTokenGetter,
		cache:       opts.withCache,
		logger:      opts.withLogger,
	}
	if a.tokenGetter == nil {
		a.tokenGetter = AuthorizationSchemeGetter("bearer")
	}
	if a.cache == nil {
		a.cache = NewMemoryUserInfoCache()
	}
	if a.logger == nil {
		a.logger = hclog.NewNullLogger()
	}
	return a, nil
}

// Authenticate extracts and validates the request's access token.
//
// Without a credential it fails with ErrUnauthorized, unless the
// WithOptional policy is set, in which case it returns a nil Result and
// no error.  An invalid or expired credential fails with
// ErrUnauthorized when the policy is mandatory; under WithOptional the
// underlying validation error is returned as is, so the caller can tell
// a bad credential apart from an absent one.  A valid credential which
// doesn't meet the WithScopes, WithACR or WithPermissions requirements
// always fails with ErrForbidden, optional or not.
//
// On success the user's userinfo is resolved through the cache, calling
// the provider on a miss (or always, with WithRefresh) and storing the
// fresh result.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, opt ...Option) (*Result, error) {
	const op = "Authenticator.Authenticate"
	opts := getAuthenticateOpts(opt...)

	token := a.tokenGetter(r)
	if token == "" {
		if opts.withOptional {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: no access token in request: %w", op, ErrUnauthorized)
	}

	validateOpts := []fief.Option{}
	if len(opts.withScopes) > 0 {
		validateOpts = append(validateOpts, fief.WithRequiredScopes(opts.withScopes...))
	}
	if opts.withACR != "" {
		validateOpts = append(validateOpts, fief.WithRequiredACR(opts.withACR))
	}
	if len(opts.withPermissions) > 0 {
		validateOpts = append(validateOpts, fief.WithRequiredPermissions(opts.withPermissions...))
	}
	info, err := a.client.ValidateAccessToken(ctx, token, validateOpts...)
	if err != nil {
		a.logger.Debug("access token validation failed", "error", err)
		return nil, mapTokenError(err, opts.withOptional)
	}

	user, err := a.userInfo(ctx, info, opts.withRefresh)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to get userinfo: %w", op, err)
	}
	return &Result{AccessTokenInfo: info, User: user}, nil
}

// userInfo resolves the subject's userinfo through the cache.
func (a *Authenticator) userInfo(ctx context.Context, info *fief.AccessTokenInfo, refresh bool) (fief.UserInfo, error) {
	if !refresh {
		if cached, err := a.cache.Get(ctx, info.Id); err == nil && cached != nil {
			return cached, nil
		}
	}
	user, err := a.client.Userinfo(ctx, info.AccessToken)
	if err != nil {
		return nil, err
	}
	if err := a.cache.Set(ctx, info.Id, user); err != nil {
		return nil, err
	}
	return user, nil
}

// mapTokenError maps the client's validation errors to the package's
// taxonomy.  Requirement failures always map to ErrForbidden; a bad
// credential maps to ErrUnauthorized only under a mandatory policy.
func mapTokenError(err error, optional bool) error {
	switch {
	case errors.Is(err, fief.ErrAccessTokenMissingScope),
		errors.Is(err, fief.ErrAccessTokenACRTooLow),
		errors.Is(err, fief.ErrAccessTokenMissingPermission):
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	case errors.Is(err, fief.ErrAccessTokenInvalid),
		errors.Is(err, fief.ErrAccessTokenExpired):
		if optional {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	default:
		return err
	}
}

// Option defines a common functional options type for the package.
type Option func(interface{})

// authenticatorOptions is the set of available options for New
type authenticatorOptions struct {
	withTokenGetter TokenGetter
	withCache       UserInfoCache
	withLogger      hclog.Logger
}

func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorOptions{}
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithTokenGetter provides the strategy used to extract the access
// token from a request.
func WithTokenGetter(g TokenGetter) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withTokenGetter = g
		}
	}
}

// WithUserInfoCache provides the cache holding userinfo between
// requests.
func WithUserInfoCache(c UserInfoCache) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withCache = c
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticatorOptions); ok {
			o.withLogger = l
		}
	}
}

// authenticateOptions is the per-request policy for Authenticate
type authenticateOptions struct {
	withOptional    bool
	withScopes      []string
	withACR         fief.ACR
	withPermissions []string
	withRefresh     bool
}

func getAuthenticateOpts(opt ...Option) authenticateOptions {
	opts := authenticateOptions{}
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithOptional makes the credential optional: an unauthenticated
// request passes with a nil Result instead of failing with
// ErrUnauthorized.
func WithOptional() Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withOptional = true
		}
	}
}

// WithScopes provides the scopes the access token must carry.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithACR provides the minimum ACR level the access token must meet.
func WithACR(acr fief.ACR) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withACR = acr
		}
	}
}

// WithPermissions provides the permissions the access token must carry.
func WithPermissions(permissions ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withPermissions = permissions
		}
	}
}

// WithRefresh has Authenticate bypass the cache and fetch fresh
// userinfo from the provider.
func WithRefresh() Option {
	return func(o interface{}) {
		if o, ok := o.(*authenticateOptions); ok {
			o.withRefresh = true
		}
	}
}
