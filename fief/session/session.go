// Package session is a stateful façade over a fief Client for
// applications driving the browser-based login flow themselves: it
// keeps the PKCE verifier, token set and userinfo of a session in a
// pluggable Storage and exposes the login/callback/refresh/logout
// lifecycle as single calls.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/TamiasSibiricus/fief-go/fief"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
)

// ErrNotAuthenticated means the session holds no token set.
var ErrNotAuthenticated = errors.New("session is not authenticated")

// Auth drives the authentication lifecycle of one session.
type Auth struct {
	client  *fief.Client
	storage Storage
	logger  hclog.Logger
}

// New creates an Auth for the client.
// Supported options: WithStorage, WithLogger.  By default session state
// lives in a MemoryStorage and logging is disabled.
func New(client *fief.Client, opt ...Option) (*Auth, error) {
	const op = "session.New"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, fief.ErrNilParameter)
	}
	opts := getSessionOpts(opt...)
	a := &Auth{
		client:  client,
		storage: opts.withStorage,
		logger:  opts.withLogger,
	}
	if a.storage == nil {
		a.storage = NewMemoryStorage()
	}
	if a.logger == nil {
		a.logger = hclog.NewNullLogger()
	}
	return a, nil
}

// NewState generates a unique, opaque state value suitable for the
// authorization request.
func NewState() (string, error) {
	const op = "session.NewState"
	state, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	return state, nil
}

// LoginURL starts an authorization attempt: it generates a fresh PKCE
// verifier, stores it in the session, and returns the provider URL to
// redirect the user to.  When no WithState is given a random one is
// generated.  The flow completes with Callback once the provider
// redirects back with an authorization code.
//
// Supported options: WithState, WithScopes, WithLang, WithExtraParams.
func (a *Auth) LoginURL(ctx context.Context, redirectUrl string, opt ...Option) (string, error) {
	const op = "Auth.LoginURL"
	opts := getLoginURLOpts(opt...)

	verifier, err := fief.NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := a.storage.SetCodeVerifier(ctx, verifier.Verifier()); err != nil {
		return "", fmt.Errorf("%s: unable to store code verifier: %w", op, err)
	}

	state := opts.withState
	if state == "" {
		if state, err = NewState(); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	scopes := opts.withScopes
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}
	authURLOpts := []fief.Option{
		fief.WithState(state),
		fief.WithScopes(scopes...),
		fief.WithCodeChallenge(verifier.Challenge(), verifier.Method()),
	}
	if opts.withLang != "" {
		authURLOpts = append(authURLOpts, fief.WithLang(opts.withLang))
	}
	if len(opts.withExtraParams) > 0 {
		authURLOpts = append(authURLOpts, fief.WithExtraParams(opts.withExtraParams))
	}
	authURL, err := a.client.AuthURL(ctx, redirectUrl, authURLOpts...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return authURL, nil
}

// Callback completes the authorization attempt started by LoginURL: it
// exchanges the authorization code using the stored PKCE verifier and
// persists the resulting token set and userinfo in the session.  The
// verifier is single use and is cleared whether or not the exchange
// succeeded.
func (a *Auth) Callback(ctx context.Context, code string, redirectUrl string) (*fief.TokenSet, fief.UserInfo, error) {
	const op = "Auth.Callback"
	verifier, err := a.storage.CodeVerifier(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to load code verifier: %w", op, err)
	}

	var exchangeOpts []fief.Option
	if verifier != "" {
		exchangeOpts = append(exchangeOpts, fief.WithCodeVerifier(verifier))
	}
	tokens, userinfo, exchangeErr := a.client.Exchange(ctx, code, redirectUrl, exchangeOpts...)

	if err := a.storage.ClearCodeVerifier(ctx); err != nil {
		a.logger.Error("unable to clear code verifier", "error", err)
	}
	if exchangeErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, exchangeErr)
	}

	if err := a.storage.SetTokenSet(ctx, tokens); err != nil {
		return nil, nil, fmt.Errorf("%s: unable to store token set: %w", op, err)
	}
	if err := a.storage.SetUserinfo(ctx, userinfo); err != nil {
		return nil, nil, fmt.Errorf("%s: unable to store userinfo: %w", op, err)
	}
	return tokens, userinfo, nil
}

// Refresh exchanges the session's refresh token for a fresh token set
// and persists it.  It fails with ErrNotAuthenticated when the session
// holds no token set, or one without a refresh token (no offline_access
// scope was granted).  Use WithScopes to narrow the requested scopes.
func (a *Auth) Refresh(ctx context.Context, opt ...Option) (*fief.TokenSet, fief.UserInfo, error) {
	const op = "Auth.Refresh"
	opts := getRefreshOpts(opt...)
	current, err := a.storage.TokenSet(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to load token set: %w", op, err)
	}
	if current == nil || current.RefreshToken == "" {
		return nil, nil, fmt.Errorf("%s: no refresh token in session: %w", op, ErrNotAuthenticated)
	}

	var refreshOpts []fief.Option
	if len(opts.withScopes) > 0 {
		refreshOpts = append(refreshOpts, fief.WithScopes(opts.withScopes...))
	}
	tokens, userinfo, err := a.client.RefreshToken(ctx, current.RefreshToken, refreshOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	// providers may not rotate the refresh token
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = current.RefreshToken
	}
	if err := a.storage.SetTokenSet(ctx, tokens); err != nil {
		return nil, nil, fmt.Errorf("%s: unable to store token set: %w", op, err)
	}
	if err := a.storage.SetUserinfo(ctx, userinfo); err != nil {
		return nil, nil, fmt.Errorf("%s: unable to store userinfo: %w", op, err)
	}
	return tokens, userinfo, nil
}

// IsAuthenticated reports whether the session holds a token set.
func (a *Auth) IsAuthenticated(ctx context.Context) (bool, error) {
	const op = "Auth.IsAuthenticated"
	tokens, err := a.storage.TokenSet(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tokens != nil, nil
}

// CurrentTokenSet returns the session's token set, or
// ErrNotAuthenticated when there is none.
func (a *Auth) CurrentTokenSet(ctx context.Context) (*fief.TokenSet, error) {
	const op = "Auth.CurrentTokenSet"
	tokens, err := a.storage.TokenSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	return tokens, nil
}

// CurrentUserinfo returns the session's userinfo, or
// ErrNotAuthenticated when there is none.
func (a *Auth) CurrentUserinfo(ctx context.Context) (fief.UserInfo, error) {
	const op = "Auth.CurrentUserinfo"
	userinfo, err := a.storage.Userinfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if userinfo == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	return userinfo, nil
}

// Logout clears the whole session state and returns the provider URL to
// redirect the user to so the provider-side session is cleared as well.
// All of the session state is cleared even when part of it fails, and
// the failures are aggregated in the returned error.
func (a *Auth) Logout(ctx context.Context, redirectUrl string) (string, error) {
	const op = "Auth.Logout"
	logoutURL, err := a.client.LogoutURL(redirectUrl)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var clearErrs *multierror.Error
	if err := a.storage.ClearTokenSet(ctx); err != nil {
		clearErrs = multierror.Append(clearErrs, fmt.Errorf("unable to clear token set: %w", err))
	}
	if err := a.storage.ClearUserinfo(ctx); err != nil {
		clearErrs = multierror.Append(clearErrs, fmt.Errorf("unable to clear userinfo: %w", err))
	}
	if err := a.storage.ClearCodeVerifier(ctx); err != nil {
		clearErrs = multierror.Append(clearErrs, fmt.Errorf("unable to clear code verifier: %w", err))
	}
	if err := clearErrs.ErrorOrNil(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return logoutURL, nil
}

// Option defines a common functional options type for the package.
type Option func(interface{})

// sessionOptions is the set of available options for New
type sessionOptions struct {
	withStorage Storage
	withLogger  hclog.Logger
}

func getSessionOpts(opt ...Option) sessionOptions {
	opts := sessionOptions{}
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithStorage provides the Storage holding the session state.
func WithStorage(s Storage) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.withStorage = s
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.withLogger = l
		}
	}
}

// loginURLOptions is the set of available options for Auth.LoginURL
type loginURLOptions struct {
	withState       string
	withScopes      []string
	withLang        string
	withExtraParams map[string]string
}

func getLoginURLOpts(opt ...Option) loginURLOptions {
	opts := loginURLOptions{}
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithState provides the opaque state value for the authorization
// request instead of a generated one.
func WithState(state string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginURLOptions); ok {
			o.withState = state
		}
	}
}

// WithLang provides the user locale for the provider's pages.
func WithLang(lang string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginURLOptions); ok {
			o.withLang = lang
		}
	}
}

// WithExtraParams provides additional query parameters for the
// authorization URL.
func WithExtraParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginURLOptions); ok {
			o.withExtraParams = params
		}
	}
}

// refreshOptions is the set of available options for Auth.Refresh
type refreshOptions struct {
	withScopes []string
}

func getRefreshOpts(opt ...Option) refreshOptions {
	opts := refreshOptions{}
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(&opts)
	}
	return opts
}

// WithScopes provides an optional list of scopes: for LoginURL the
// scopes requested of the provider (defaulting to "openid"), for
// Refresh a subset of the originally granted scopes.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *loginURLOptions:
			v.withScopes = scopes
		case *refreshOptions:
			v.withScopes = scopes
		}
	}
}
