package fief

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient builds a Client against the test provider, trusting its
// TLS certificate.
func testClient(t *testing.T, p *TestProvider, opt ...Option) *Client {
	t.Helper()
	opt = append([]Option{WithProviderCA(p.CACert())}, opt...)
	config, err := NewConfig(p.Addr(), "test-client-id", opt...)
	require.NoError(t, err)
	c, err := NewClient(config)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("nil-config", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewClient(nil)
		require.Error(err)
		assert.True(errors.Is(err, ErrNilParameter))
	})
	t.Run("invalid-config", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewClient(&Config{Issuer: "https://example.fief.dev"})
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("valid", func(t *testing.T) {
		p := StartTestProvider(t)
		c := testClient(t, p)
		require.NotNil(t, c)
	})
}

func TestClient_AuthURL(t *testing.T) {
	ctx := context.Background()
	p := StartTestProvider(t)
	c := testClient(t, p)

	parseQuery := func(t *testing.T, rawURL string) url.Values {
		t.Helper()
		u, err := url.Parse(rawURL)
		require.NoError(t, err)
		require.Equal(t, p.Addr()+"/authorize", u.Scheme+"://"+u.Host+u.Path)
		return u.Query()
	}

	t.Run("minimal", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		authURL, err := c.AuthURL(ctx, "https://rp.example.com/callback")
		require.NoError(err)
		q := parseQuery(t, authURL)
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("test-client-id", q.Get("client_id"))
		assert.Equal("https://rp.example.com/callback", q.Get("redirect_uri"))
	})
	t.Run("with-everything", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		authURL, err := c.AuthURL(ctx, "https://rp.example.com/callback",
			WithState("opaque-state"),
			WithScopes("openid", "offline_access"),
			WithCodeChallenge(v.Challenge(), v.Method()),
			WithLang("pt-PT"),
			WithExtraParams(map[string]string{"screen": "register"}),
		)
		require.NoError(err)
		q := parseQuery(t, authURL)
		assert.Equal("opaque-state", q.Get("state"))
		assert.Equal("openid offline_access", q.Get("scope"))
		assert.Equal(v.Challenge(), q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.Equal("pt-PT", q.Get("lang"))
		assert.Equal("register", q.Get("screen"))
	})
	t.Run("extra-params-override", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		authURL, err := c.AuthURL(ctx, "https://rp.example.com/callback",
			WithExtraParams(map[string]string{"response_type": "token"}),
		)
		require.NoError(err)
		q := parseQuery(t, authURL)
		assert.Equal("token", q.Get("response_type"))
	})
	t.Run("empty-redirect-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.AuthURL(ctx, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("bad-challenge-method", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.AuthURL(ctx, "https://rp.example.com/callback",
			WithCodeChallenge("challenge", ChallengeMethod("S512")))
		require.Error(err)
		assert.True(errors.Is(err, ErrUnsupportedChallengeMethod))
	})
	t.Run("bad-lang", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.AuthURL(ctx, "https://rp.example.com/callback",
			WithLang("not a lang tag"))
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestClient_Exchange(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.SetClientCreds("test-client-id", "")
		p.SetExpectedAuthCode("test-auth-code")
		c := testClient(t, p)

		tokens, userinfo, err := c.Exchange(ctx, "test-auth-code", "https://rp.example.com/callback")
		require.NoError(err)
		assert.NotEmpty(tokens.AccessToken)
		assert.NotEmpty(tokens.IdToken)
		assert.Equal(p.RefreshToken(), tokens.RefreshToken)
		assert.Equal(300, tokens.ExpiresIn)
		assert.Equal("e29b61b7-0bf7-4b7c-94a0-e7a33b568c2a", userinfo.Subject())
		assert.Equal("anne@bretagne.duchy", userinfo.Email())
	})
	t.Run("valid-with-code-verifier", func(t *testing.T) {
		require := require.New(t)
		p := StartTestProvider(t)
		p.SetExpectedAuthCode("test-auth-code")
		c := testClient(t, p)

		v, err := NewCodeVerifier()
		require.NoError(err)
		p.SetExpectedCodeVerifier(v.Verifier())

		_, _, err = c.Exchange(ctx, "test-auth-code", "https://rp.example.com/callback",
			WithCodeVerifier(v.Verifier()))
		require.NoError(err)
	})
	t.Run("wrong-code-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.SetExpectedAuthCode("test-auth-code")
		p.SetExpectedCodeVerifier("expected-verifier")
		c := testClient(t, p)

		_, _, err := c.Exchange(ctx, "test-auth-code", "https://rp.example.com/callback",
			WithCodeVerifier("other-verifier"))
		require.Error(err)
		var reqErr *RequestError
		require.True(errors.As(err, &reqErr))
		assert.Equal(401, reqErr.Status)
	})
	t.Run("wrong-auth-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.SetExpectedAuthCode("test-auth-code")
		c := testClient(t, p)

		_, _, err := c.Exchange(ctx, "other-code", "https://rp.example.com/callback")
		require.Error(err)
		var reqErr *RequestError
		require.True(errors.As(err, &reqErr))
		assert.Equal(401, reqErr.Status)
	})
	t.Run("missing-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.SetExpectedAuthCode("test-auth-code")
		p.OmitIdTokens()
		c := testClient(t, p)

		_, _, err := c.Exchange(ctx, "test-auth-code", "https://rp.example.com/callback")
		require.Error(err)
		assert.True(errors.Is(err, ErrMissingIdToken))
	})
	t.Run("bad-code-hash", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.SetExpectedAuthCode("test-auth-code")
		p.SetInvalidHashes(true, false)
		c := testClient(t, p)

		_, _, err := c.Exchange(ctx, "test-auth-code", "https://rp.example.com/callback")
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
	t.Run("bad-access-token-hash", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.SetExpectedAuthCode("test-auth-code")
		p.SetInvalidHashes(false, true)
		c := testClient(t, p)

		_, _, err := c.Exchange(ctx, "test-auth-code", "https://rp.example.com/callback")
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
	t.Run("empty-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testClient(t, p)
		_, _, err := c.Exchange(ctx, "", "https://rp.example.com/callback")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestClient_RefreshToken(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testClient(t, p)

		tokens, userinfo, err := c.RefreshToken(ctx, p.RefreshToken())
		require.NoError(err)
		assert.NotEmpty(tokens.AccessToken)
		assert.NotEmpty(tokens.IdToken)
		assert.Equal("e29b61b7-0bf7-4b7c-94a0-e7a33b568c2a", userinfo.Subject())
	})
	t.Run("valid-with-scopes", func(t *testing.T) {
		require := require.New(t)
		p := StartTestProvider(t)
		c := testClient(t, p)

		_, _, err := c.RefreshToken(ctx, p.RefreshToken(), WithScopes("openid"))
		require.NoError(err)
	})
	t.Run("wrong-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testClient(t, p)

		_, _, err := c.RefreshToken(ctx, "other-refresh-token")
		require.Error(err)
		var reqErr *RequestError
		require.True(errors.As(err, &reqErr))
		assert.Equal(401, reqErr.Status)
	})
	t.Run("empty-refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testClient(t, p)
		_, _, err := c.RefreshToken(ctx, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestClient_Userinfo(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testClient(t, p)

		userinfo, err := c.Userinfo(ctx, "test-access-token")
		require.NoError(err)
		assert.Equal("e29b61b7-0bf7-4b7c-94a0-e7a33b568c2a", userinfo.Subject())
		assert.Equal("anne@bretagne.duchy", userinfo.Email())
		assert.Equal("Anne", userinfo.Fields()["first_name"])
	})
	t.Run("empty-access-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testClient(t, p)
		_, err := c.Userinfo(ctx, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("endpoint-disabled", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.DisableUserInfo()
		c := testClient(t, p)
		_, err := c.Userinfo(ctx, "test-access-token")
		require.Error(err)
		var reqErr *RequestError
		require.True(errors.As(err, &reqErr))
		assert.Equal(404, reqErr.Status)
	})
}

func TestClient_ProfileOperations(t *testing.T) {
	ctx := context.Background()
	p := StartTestProvider(t)
	c := testClient(t, p)

	t.Run("update-profile", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		userinfo, err := c.UpdateProfile(ctx, "test-access-token", map[string]interface{}{
			"fields": map[string]interface{}{"first_name": "Claude"},
		})
		require.NoError(err)
		assert.Equal("Claude", userinfo.Fields()["first_name"])
	})
	t.Run("update-profile-nil-data", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.UpdateProfile(ctx, "test-access-token", nil)
		require.Error(err)
		assert.True(errors.Is(err, ErrNilParameter))
	})
	t.Run("change-password", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		userinfo, err := c.ChangePassword(ctx, "test-access-token", "herminetincture")
		require.NoError(err)
		assert.Equal("anne@bretagne.duchy", userinfo.Email())
	})
	t.Run("change-password-empty", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.ChangePassword(ctx, "test-access-token", "")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("email-change", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		userinfo, err := c.EmailChange(ctx, "test-access-token", "anne@nantes.city")
		require.NoError(err)
		assert.Equal("anne@nantes.city", userinfo.Email())
	})
	t.Run("email-verify", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		userinfo, err := c.EmailVerify(ctx, "test-access-token", "123456")
		require.NoError(err)
		assert.Equal("anne@bretagne.duchy", userinfo.Email())
	})
	t.Run("email-verify-empty-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.EmailVerify(ctx, "test-access-token", "")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestClient_LogoutURL(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	p := StartTestProvider(t)
	c := testClient(t, p)

	logoutURL, err := c.LogoutURL("https://rp.example.com/")
	require.NoError(err)
	u, err := url.Parse(logoutURL)
	require.NoError(err)
	assert.Equal("/logout", u.Path)
	assert.Equal("https://rp.example.com/", u.Query().Get("redirect_uri"))

	_, err = c.LogoutURL("")
	require.Error(err)
	assert.True(errors.Is(err, ErrInvalidParameter))
}
