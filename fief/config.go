package fief

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	strutil "github.com/TamiasSibiricus/fief-go/fief/internal/strutils"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/square/go-jose.v2"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// EncryptionKey is a JWK (JSON string) used to decrypt encrypted
// id_tokens issued by the provider.
type EncryptionKey string

// RedactedEncryptionKey is the redacted string or json for an id_token encryption key
const RedactedEncryptionKey = "[REDACTED: encryption key]"

// String will redact the key
func (t EncryptionKey) String() string {
	return RedactedEncryptionKey
}

// MarshalJSON will redact the key
func (t EncryptionKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedEncryptionKey)
}

// Config represents the configuration for a Client against a single
// provider tenant.
type Config struct {
	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path
	// components and no query or fragment components.  Discovery and the
	// provider's profile API endpoints are resolved relative to it.
	Issuer string

	// ClientId is the relying party id
	ClientId string

	// ClientSecret is the relying party secret.  It's optional: public
	// clients rely on PKCE instead.
	ClientSecret ClientSecret

	// EncryptionKey is an optional JWK used to decrypt encrypted
	// id_tokens.  When empty, id_tokens are expected to be signed only.
	EncryptionKey EncryptionKey

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// Logger is an optional logger
	Logger hclog.Logger
}

// NewConfig composes a new config for a provider.
// Supported options:
//	WithClientSecret
//	WithEncryptionKey
//	WithProviderCA
//	WithLogger
func NewConfig(issuer string, clientId string, opt ...Option) (*Config, error) {
	const op = "fief.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:        issuer,
		ClientId:      clientId,
		ClientSecret:  opts.withClientSecret,
		EncryptionKey: opts.withEncryptionKey,
		ProviderCA:    opts.withProviderCA,
		Logger:        opts.withLogger,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the configuration.  It verifies the issuer parses as an http
// or https URL and, when an encryption key is configured, that the key
// parses as a JWK, but it doesn't verify the issuer is discoverable via
// an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientId == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, err)
	}
	if !strutil.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, c.Issuer, ErrInvalidParameter)
	}
	if c.EncryptionKey != "" {
		var k jose.JSONWebKey
		if err := json.Unmarshal([]byte(c.EncryptionKey), &k); err != nil {
			return fmt.Errorf("%s: could not parse encryption key JWK: %w", op, ErrInvalidEncryptionKey)
		}
	}
	return nil
}

// HttpClient is a helper function that creates a new http client for
// the configured provider, using the optional ProviderCA PEM if
// provided and the installed system CA chain otherwise.
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	tr := cleanhttp.DefaultPooledTransport()

	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}

	return &http.Client{
		Transport: tr,
	}, nil
}

// configOptions is the set of available options
type configOptions struct {
	withClientSecret  ClientSecret
	withEncryptionKey EncryptionKey
	withProviderCA    string
	withLogger        hclog.Logger
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecret provides the relying party secret for confidential
// clients.
func WithClientSecret(secret ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = secret
		}
	}
}

// WithEncryptionKey provides a JWK used to decrypt encrypted id_tokens.
func WithEncryptionKey(key EncryptionKey) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withEncryptionKey = key
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithLogger provides an optional logger for the provider's config
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}
