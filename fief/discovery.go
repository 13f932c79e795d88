package fief

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"gopkg.in/square/go-jose.v2"
)

// ProviderMetadata is the subset of the provider's OpenID configuration
// document the client relies on.  It's fetched once and cached for the
// life of the Client; construct a new Client (or call RefreshDiscovery)
// for fresh metadata.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// ProviderMetadata returns the provider's OpenID configuration
// document, fetching and memoizing it on first use.
func (c *Client) ProviderMetadata(ctx context.Context) (*ProviderMetadata, error) {
	const op = "Client.ProviderMetadata"
	c.mu.Lock()
	defer c.mu.Unlock()
	md, err := c.providerMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return md, nil
}

// SigningKeys returns the provider's JSON Web Key Set used to verify
// token signatures, fetching and memoizing it on first use.
func (c *Client) SigningKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	const op = "Client.SigningKeys"
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, err := c.signingKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}

// RefreshDiscovery drops the memoized metadata and signing keys and
// fetches both again.  The client never refreshes them implicitly, so
// this is the only way to pick up rotated provider keys on a live
// Client.
func (c *Client) RefreshDiscovery(ctx context.Context) error {
	const op = "Client.RefreshDiscovery"
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = nil
	c.keys = nil
	if _, err := c.signingKeys(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// providerMetadata must be called with c.mu held.
func (c *Client) providerMetadata(ctx context.Context) (*ProviderMetadata, error) {
	if c.metadata != nil {
		return c.metadata, nil
	}
	body, err := c.get(ctx, c.endpoint(wellKnownConfigurationPath))
	if err != nil {
		return nil, fmt.Errorf("unable to fetch provider metadata: %w", err)
	}
	var md ProviderMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("unable to parse provider metadata: %w", err)
	}
	c.metadata = &md
	c.logger.Debug("fetched provider metadata", "issuer", md.Issuer)
	return c.metadata, nil
}

// signingKeys must be called with c.mu held.
func (c *Client) signingKeys(ctx context.Context) (*jose.JSONWebKeySet, error) {
	if c.keys != nil {
		return c.keys, nil
	}
	md, err := c.providerMetadata(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, md.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch signing keys: %w", err)
	}
	var keys jose.JSONWebKeySet
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("unable to parse signing keys: %w", err)
	}
	c.keys = &keys
	c.logger.Debug("fetched provider signing keys", "keys", len(keys.Keys))
	return c.keys, nil
}

// get issues a plain GET and returns the response body, mapping any
// non-2xx response to a *RequestError.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	return c.do(c.httpClient(ctx), req)
}
