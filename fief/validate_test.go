package fief

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
)

// testAccessTokenClaims is the full claim set of a valid access token.
func testAccessTokenClaims() map[string]interface{} {
	return map[string]interface{}{
		"scope":       "openid profile",
		"acr":         "1",
		"permissions": []string{"castles:read", "castles:create"},
	}
}

func TestClient_ValidateAccessToken(t *testing.T) {
	ctx := context.Background()
	p := StartTestProvider(t)
	c := testClient(t, p)
	_, priv := p.SigningKeys()

	sign := func(t *testing.T, expireIn time.Duration, claims map[string]interface{}) string {
		t.Helper()
		return TestSignJWT(t, priv,
			testDefaultClaims("test-subject", p.Addr(), "test-client-id", expireIn),
			claims)
	}

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := sign(t, 5*time.Minute, testAccessTokenClaims())
		info, err := c.ValidateAccessToken(ctx, token)
		require.NoError(err)
		assert.Equal("test-subject", info.Id)
		assert.Equal([]string{"openid", "profile"}, info.Scope)
		assert.Equal(ACRLevelOne, info.ACR)
		assert.Equal([]string{"castles:read", "castles:create"}, info.Permissions)
		assert.Equal(token, info.AccessToken)
	})
	t.Run("valid-with-requirements", func(t *testing.T) {
		require := require.New(t)
		token := sign(t, 5*time.Minute, testAccessTokenClaims())
		_, err := c.ValidateAccessToken(ctx, token,
			WithRequiredScopes("openid", "profile"),
			WithRequiredACR(ACRLevelZero),
			WithRequiredPermissions("castles:read"))
		require.NoError(err)
	})
	t.Run("empty", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.ValidateAccessToken(ctx, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenInvalid))
	})
	t.Run("not-a-jwt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.ValidateAccessToken(ctx, "not-a-jwt")
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenInvalid))
	})
	t.Run("unknown-signing-key", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, otherPriv := TestGenerateKeys(t)
		token := TestSignJWT(t, otherPriv,
			testDefaultClaims("test-subject", p.Addr(), "test-client-id", 5*time.Minute),
			testAccessTokenClaims())
		_, err := c.ValidateAccessToken(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenInvalid))
	})
	t.Run("expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		// beyond the 1 minute default leeway
		token := sign(t, -2*time.Hour, testAccessTokenClaims())
		_, err := c.ValidateAccessToken(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenExpired))
		assert.False(errors.Is(err, ErrAccessTokenInvalid))
	})
	t.Run("expired-wins-over-claims", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := sign(t, -2*time.Hour, map[string]interface{}{})
		_, err := c.ValidateAccessToken(ctx, token, WithRequiredScopes("openid"))
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenExpired))
	})
	t.Run("missing-scope-claim", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		claims := testAccessTokenClaims()
		delete(claims, "scope")
		token := sign(t, 5*time.Minute, claims)
		_, err := c.ValidateAccessToken(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenInvalid))
	})
	t.Run("missing-required-scope", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := sign(t, 5*time.Minute, testAccessTokenClaims())
		_, err := c.ValidateAccessToken(ctx, token, WithRequiredScopes("openid", "offline_access"))
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenMissingScope))
	})
	t.Run("missing-acr-claim", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		claims := testAccessTokenClaims()
		delete(claims, "acr")
		token := sign(t, 5*time.Minute, claims)
		_, err := c.ValidateAccessToken(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenInvalid))
	})
	t.Run("unknown-acr-level", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		claims := testAccessTokenClaims()
		claims["acr"] = "3"
		token := sign(t, 5*time.Minute, claims)
		_, err := c.ValidateAccessToken(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenInvalid))
	})
	t.Run("acr-too-low", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		claims := testAccessTokenClaims()
		claims["acr"] = "0"
		token := sign(t, 5*time.Minute, claims)
		_, err := c.ValidateAccessToken(ctx, token, WithRequiredACR(ACRLevelOne))
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenACRTooLow))
	})
	t.Run("missing-permissions-claim", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		claims := testAccessTokenClaims()
		delete(claims, "permissions")
		token := sign(t, 5*time.Minute, claims)
		_, err := c.ValidateAccessToken(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenInvalid))
	})
	t.Run("missing-required-permission", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := sign(t, 5*time.Minute, testAccessTokenClaims())
		_, err := c.ValidateAccessToken(ctx, token, WithRequiredPermissions("castles:delete"))
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenMissingPermission))
	})
	t.Run("scope-checked-before-acr", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		claims := testAccessTokenClaims()
		claims["acr"] = "0"
		token := sign(t, 5*time.Minute, claims)
		_, err := c.ValidateAccessToken(ctx, token,
			WithRequiredScopes("offline_access"),
			WithRequiredACR(ACRLevelOne))
		require.Error(err)
		assert.True(errors.Is(err, ErrAccessTokenMissingScope))
	})
}

func TestClient_DecodeIdToken(t *testing.T) {
	ctx := context.Background()
	p := StartTestProvider(t)
	c := testClient(t, p)
	_, priv := p.SigningKeys()

	sign := func(t *testing.T, claims map[string]interface{}) string {
		t.Helper()
		return TestSignJWT(t, priv,
			testDefaultClaims("test-subject", p.Addr(), "test-client-id", 5*time.Minute),
			claims)
	}

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := sign(t, map[string]interface{}{"email": "anne@bretagne.duchy"})
		userinfo, err := c.DecodeIdToken(ctx, token)
		require.NoError(err)
		assert.Equal("test-subject", userinfo.Subject())
		assert.Equal("anne@bretagne.duchy", userinfo.Email())
	})
	t.Run("valid-with-hashes", func(t *testing.T) {
		require := require.New(t)
		token := sign(t, map[string]interface{}{
			"c_hash":  GetValidationHash("the-code"),
			"at_hash": GetValidationHash("the-access-token"),
		})
		_, err := c.DecodeIdToken(ctx, token,
			WithCode("the-code"), WithAccessToken("the-access-token"))
		require.NoError(err)
	})
	t.Run("empty", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := c.DecodeIdToken(ctx, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
	t.Run("expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := TestSignJWT(t, priv,
			testDefaultClaims("test-subject", p.Addr(), "test-client-id", -2*time.Hour),
			map[string]interface{}{})
		_, err := c.DecodeIdToken(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
	t.Run("code-hash-without-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := sign(t, map[string]interface{}{"c_hash": GetValidationHash("the-code")})
		_, err := c.DecodeIdToken(ctx, token)
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
	t.Run("code-hash-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := sign(t, map[string]interface{}{"c_hash": GetValidationHash("the-code")})
		_, err := c.DecodeIdToken(ctx, token, WithCode("other-code"))
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
	t.Run("access-token-hash-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		token := sign(t, map[string]interface{}{"at_hash": GetValidationHash("the-access-token")})
		_, err := c.DecodeIdToken(ctx, token, WithAccessToken("other-access-token"))
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
}

func TestClient_DecodeIdToken_Encrypted(t *testing.T) {
	ctx := context.Background()
	p := StartTestProvider(t)
	_, priv := p.SigningKeys()

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyJSON, err := json.Marshal(jose.JSONWebKey{
		Key:       rsaKey,
		KeyID:     "enc",
		Algorithm: string(jose.RSA_OAEP_256),
		Use:       "enc",
	})
	require.NoError(t, err)
	c := testClient(t, p, WithEncryptionKey(EncryptionKey(keyJSON)))

	encrypt := func(t *testing.T, signed string) string {
		t.Helper()
		encrypter, err := jose.NewEncrypter(
			jose.A256GCM,
			jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: rsaKey.Public()},
			nil,
		)
		require.NoError(t, err)
		object, err := encrypter.Encrypt([]byte(signed))
		require.NoError(t, err)
		raw, err := object.CompactSerialize()
		require.NoError(t, err)
		return raw
	}

	signed := TestSignJWT(t, priv,
		testDefaultClaims("test-subject", p.Addr(), "test-client-id", 5*time.Minute),
		map[string]interface{}{"email": "anne@bretagne.duchy"})

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		userinfo, err := c.DecodeIdToken(ctx, encrypt(t, signed))
		require.NoError(err)
		assert.Equal("test-subject", userinfo.Subject())
	})
	t.Run("not-encrypted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		// a signed-only token is rejected when decryption is configured
		_, err := c.DecodeIdToken(ctx, signed)
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
	t.Run("wrong-recipient", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(err)
		encrypter, err := jose.NewEncrypter(
			jose.A256GCM,
			jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: otherKey.Public()},
			nil,
		)
		require.NoError(err)
		object, err := encrypter.Encrypt([]byte(signed))
		require.NoError(err)
		raw, err := object.CompactSerialize()
		require.NoError(err)

		_, err = c.DecodeIdToken(ctx, raw)
		require.Error(err)
		assert.True(errors.Is(err, ErrIdTokenInvalid))
	})
}
