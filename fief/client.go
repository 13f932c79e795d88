package fief

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
	"gopkg.in/square/go-jose.v2"
)

// Provider API paths resolved relative to the configured issuer.
const (
	wellKnownConfigurationPath = "/.well-known/openid-configuration"
	profilePath                = "/api/profile"
	passwordPath               = "/api/password"
	emailChangePath            = "/api/email/change"
	emailVerifyPath            = "/api/email/verify"
	logoutPath                 = "/logout"
)

// Client provides integration with a provider using the typical
// 3-legged OIDC authorization code flow with PKCE, plus access token
// validation and the provider's authenticated profile operations.
//
// A Client caches the provider's discovery metadata and signing keys
// for its whole lifetime; see RefreshDiscovery.
type Client struct {
	config        *Config
	client        *http.Client
	logger        hclog.Logger
	encryptionKey *jose.JSONWebKey

	// mu guards the memoized discovery state below.  First access is
	// serialized, so concurrent first-time callers trigger a single
	// underlying fetch.
	mu       sync.Mutex
	metadata *ProviderMetadata
	keys     *jose.JSONWebKeySet
}

// NewClient creates a Client for the provider tenant described by the
// config.  No network request is made until the first operation needing
// discovery metadata.
func NewClient(c *Config) (*Client, error) {
	const op = "fief.NewClient"
	if c == nil {
		return nil, fmt.Errorf("%s: client config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: client config is invalid: %w", op, err)
	}
	client, err := c.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	logger := c.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	var encryptionKey *jose.JSONWebKey
	if c.EncryptionKey != "" {
		var k jose.JSONWebKey
		if err := json.Unmarshal([]byte(c.EncryptionKey), &k); err != nil {
			return nil, fmt.Errorf("%s: unable to parse encryption key: %w", op, ErrInvalidEncryptionKey)
		}
		encryptionKey = &k
	}
	return &Client{
		config:        c,
		client:        client,
		logger:        logger,
		encryptionKey: encryptionKey,
	}, nil
}

// HttpClientContext is a helper function that returns a new Context
// that carries the provided HTTP client, which then overrides the
// Client's own transport for every operation using that context.  This
// method sets the same context key used by the
// github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// httpClient resolves the http client for a call: a client carried on
// the context wins over the one built from the config.
func (c *Client) httpClient(ctx context.Context) *http.Client {
	if client, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && client != nil {
		return client
	}
	return c.client
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with the provider.  The redirectUrl is the
// URL the provider should use as a redirect after the
// authentication/authorization is completed by the user.
//
// Supported options: WithState, WithScopes, WithCodeChallenge,
// WithLang, WithExtraParams.  Extra parameters are merged last, so they
// can override any standard parameter.
func (c *Client) AuthURL(ctx context.Context, redirectUrl string, opt ...Option) (string, error) {
	const op = "Client.AuthURL"
	if redirectUrl == "" {
		return "", fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getAuthURLOpts(opt...)
	md, err := c.ProviderMetadata(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: unable to get provider metadata: %w", op, err)
	}

	oauth2Config := oauth2.Config{
		ClientID:    c.config.ClientId,
		RedirectURL: redirectUrl,
		Endpoint: oauth2.Endpoint{
			AuthURL: md.AuthorizationEndpoint,
		},
		Scopes: opts.withScopes,
	}
	var authCodeOpts []oauth2.AuthCodeOption
	if opts.withCodeChallenge != "" {
		switch opts.withChallengeMethod {
		case S256, Plain:
		default:
			return "", fmt.Errorf("%s: %q: %w", op, opts.withChallengeMethod, ErrUnsupportedChallengeMethod)
		}
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", opts.withCodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", string(opts.withChallengeMethod)),
		)
	}
	if opts.withLang != "" {
		tag, err := language.Parse(opts.withLang)
		if err != nil {
			return "", fmt.Errorf("%s: lang %q is not a valid language tag: %w", op, opts.withLang, ErrInvalidParameter)
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("lang", tag.String()))
	}
	for k, v := range opts.withExtraParams {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, v))
	}
	return oauth2Config.AuthCodeURL(opts.withState, authCodeOpts...), nil
}

// Exchange will request a token set from the provider's token endpoint
// using the authorizationCode received in an earlier successful
// authorization response.  The redirectUrl must be the exact same
// redirect URL used for AuthURL.  Use WithCodeVerifier to supply the
// PKCE verifier whose derived challenge was sent at the AuthURL step
// for this same flow.
//
// On success the returned id_token has been decoded and validated,
// including its c_hash/at_hash bindings to the authorization code and
// the new access token, and its claims are returned as the UserInfo.
func (c *Client) Exchange(ctx context.Context, authorizationCode string, redirectUrl string, opt ...Option) (*TokenSet, UserInfo, error) {
	const op = "Client.Exchange"
	if authorizationCode == "" {
		return nil, nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if redirectUrl == "" {
		return nil, nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)
	md, err := c.ProviderMetadata(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to get provider metadata: %w", op, err)
	}

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {c.config.ClientId},
		"code":         {authorizationCode},
		"redirect_uri": {redirectUrl},
	}
	if c.config.ClientSecret != "" {
		form.Set("client_secret", string(c.config.ClientSecret))
	}
	if opts.withCodeVerifier != "" {
		form.Set("code_verifier", opts.withCodeVerifier)
	}
	t, err := c.tokenRequest(ctx, md.TokenEndpoint, form)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}
	userinfo, err := c.DecodeIdToken(ctx, t.IdToken, WithCode(authorizationCode), WithAccessToken(t.AccessToken))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	c.logger.Debug("exchanged authorization code", "subject", userinfo.Subject())
	return t, userinfo, nil
}

// RefreshToken will request a fresh token set from the provider's token
// endpoint in exchange of a refresh token.  Use WithScopes to narrow
// the requested scopes to a subset of the originally granted list.
//
// The returned id_token is validated like in Exchange, except there is
// no authorization code in this flow so only the at_hash binding to the
// new access token is checked.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string, opt ...Option) (*TokenSet, UserInfo, error) {
	const op = "Client.RefreshToken"
	if refreshToken == "" {
		return nil, nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getRefreshTokenOpts(opt...)
	md, err := c.ProviderMetadata(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to get provider metadata: %w", op, err)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.config.ClientId},
		"refresh_token": {refreshToken},
	}
	if len(opts.withScopes) > 0 {
		form.Set("scope", strings.Join(opts.withScopes, " "))
	}
	t, err := c.tokenRequest(ctx, md.TokenEndpoint, form)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to exchange refresh token with provider: %w", op, err)
	}
	userinfo, err := c.DecodeIdToken(ctx, t.IdToken, WithAccessToken(t.AccessToken))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	c.logger.Debug("exchanged refresh token", "subject", userinfo.Subject())
	return t, userinfo, nil
}

// Userinfo gets fresh UserInfo claims from the provider's userinfo
// endpoint using a valid access token.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (UserInfo, error) {
	const op = "Client.Userinfo"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	md, err := c.ProviderMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to get provider metadata: %w", op, err)
	}
	return c.userinfoRequest(ctx, accessToken, http.MethodGet, md.UserinfoEndpoint, nil)
}

// UpdateProfile updates user information with the provider using a
// valid access token and returns the updated UserInfo.  Custom user
// field values must be nested in a "fields" object, indexed by their
// slug.
func (c *Client) UpdateProfile(ctx context.Context, accessToken string, data map[string]interface{}) (UserInfo, error) {
	const op = "Client.UpdateProfile"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if data == nil {
		return nil, fmt.Errorf("%s: profile data is nil: %w", op, ErrNilParameter)
	}
	return c.userinfoRequest(ctx, accessToken, http.MethodPatch, c.endpoint(profilePath), data)
}

// ChangePassword changes the user password with the provider using a
// valid access token and returns the updated UserInfo.
//
// An access token with an ACR of at least level 1 is required.
func (c *Client) ChangePassword(ctx context.Context, accessToken string, newPassword string) (UserInfo, error) {
	const op = "Client.ChangePassword"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if newPassword == "" {
		return nil, fmt.Errorf("%s: new password is empty: %w", op, ErrInvalidParameter)
	}
	return c.userinfoRequest(ctx, accessToken, http.MethodPatch, c.endpoint(passwordPath), map[string]interface{}{"password": newPassword})
}

// EmailChange requests an email change with the provider using a valid
// access token.  The user receives a verification code on the new
// address; complete the modification with EmailVerify.
//
// An access token with an ACR of at least level 1 is required.
func (c *Client) EmailChange(ctx context.Context, accessToken string, email string) (UserInfo, error) {
	const op = "Client.EmailChange"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if email == "" {
		return nil, fmt.Errorf("%s: email is empty: %w", op, ErrInvalidParameter)
	}
	return c.userinfoRequest(ctx, accessToken, http.MethodPatch, c.endpoint(emailChangePath), map[string]interface{}{"email": email})
}

// EmailVerify verifies the user email with the provider using a valid
// access token and the verification code received after EmailChange.
//
// An access token with an ACR of at least level 1 is required.
func (c *Client) EmailVerify(ctx context.Context, accessToken string, code string) (UserInfo, error) {
	const op = "Client.EmailVerify"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if code == "" {
		return nil, fmt.Errorf("%s: verification code is empty: %w", op, ErrInvalidParameter)
	}
	return c.userinfoRequest(ctx, accessToken, http.MethodPost, c.endpoint(emailVerifyPath), map[string]interface{}{"code": code})
}

// LogoutURL returns a URL which, when the user is redirected to it,
// has the provider clear the session stored on its side.  No request is
// made by this method, and the caller is still responsible for clearing
// its own session mechanism if any.
func (c *Client) LogoutURL(redirectUrl string) (string, error) {
	const op = "Client.LogoutURL"
	if redirectUrl == "" {
		return "", fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	params := url.Values{
		"redirect_uri": {redirectUrl},
	}
	return c.endpoint(logoutPath) + "?" + params.Encode(), nil
}

// endpoint resolves a provider API path against the configured issuer.
func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.config.Issuer, "/") + path
}

// tokenRequest posts the form to the token endpoint and decodes the
// token set reply.
func (c *Client) tokenRequest(ctx context.Context, endpoint string, form url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("unable to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, err := c.do(c.httpClient(ctx), req)
	if err != nil {
		return nil, err
	}
	var t TokenSet
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("unable to parse token response: %w", err)
	}
	if t.IdToken == "" {
		return nil, ErrMissingIdToken
	}
	return &t, nil
}

// userinfoRequest issues a bearer-authenticated request carrying an
// optional JSON payload and decodes the UserInfo reply.
func (c *Client) userinfoRequest(ctx context.Context, accessToken string, method string, rawURL string, payload map[string]interface{}) (UserInfo, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("unable to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := oauth2.NewClient(
		HttpClientContext(ctx, c.httpClient(ctx)),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}),
	)
	respBody, err := c.do(client, req)
	if err != nil {
		return nil, err
	}
	var userinfo UserInfo
	if err := json.Unmarshal(respBody, &userinfo); err != nil {
		return nil, fmt.Errorf("unable to parse user info response: %w", err)
	}
	return userinfo, nil
}

// do sends the request and returns the response body.  Any non-2xx
// response is a *RequestError carrying the status and raw body text.
func (c *Client) do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{
			Status: resp.StatusCode,
			Detail: string(body),
		}
	}
	return body, nil
}

// authURLOptions is the set of available options for Client.AuthURL
type authURLOptions struct {
	withState           string
	withScopes          []string
	withCodeChallenge   string
	withChallengeMethod ChallengeMethod
	withLang            string
	withExtraParams     map[string]string
}

func authURLDefaults() authURLOptions {
	return authURLOptions{}
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithState provides an opaque value returned back in the callback
// parameters, letting the caller retrieve state information and protect
// the flow against CSRF.
func WithState(state string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withState = state
		}
	}
}

// WithCodeChallenge provides a PKCE code challenge and its derivation
// method for the authorization request.  The verifier whose challenge
// is sent here must be supplied to Exchange with WithCodeVerifier for
// the same flow.
func WithCodeChallenge(challenge string, method ChallengeMethod) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withCodeChallenge = challenge
			o.withChallengeMethod = method
		}
	}
}

// WithLang provides the user locale for the provider's pages.  It must
// be a valid RFC 3066 language identifier, like "fr" or "pt-PT".
func WithLang(lang string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withLang = lang
		}
	}
}

// WithExtraParams provides additional query parameters for the
// authorization URL.  They are merged last, so they can override the
// standard parameters.
func WithExtraParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withExtraParams = params
		}
	}
}

// exchangeOptions is the set of available options for Client.Exchange
type exchangeOptions struct {
	withCodeVerifier string
}

func getExchangeOpts(opt ...Option) exchangeOptions {
	opts := exchangeOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCodeVerifier provides the raw PKCE code verifier used to generate
// the code challenge during authorization.
func WithCodeVerifier(verifier string) Option {
	return func(o interface{}) {
		if o, ok := o.(*exchangeOptions); ok {
			o.withCodeVerifier = verifier
		}
	}
}

// refreshTokenOptions is the set of available options for
// Client.RefreshToken
type refreshTokenOptions struct {
	withScopes []string
}

func getRefreshTokenOpts(opt ...Option) refreshTokenOptions {
	opts := refreshTokenOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}
