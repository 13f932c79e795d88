// Package fief provides a client SDK for the Fief authentication
// platform, built on the OIDC authorization code flow with optional
// PKCE.
//
// Primary types provided by the package:
//
//   - Config: configuration for a Fief tenant (issuer, client
//     credentials, optional id_token encryption key and provider CA).
//
//   - Client: the tenant client. It discovers provider endpoints and
//     signing keys from the issuer's well-known configuration, builds
//     authorization URLs, exchanges and refreshes tokens, validates
//     access tokens, decodes id_tokens and calls the authenticated
//     userinfo and profile endpoints.
//
//   - CodeVerifier: a PKCE verifier/challenge pair for the
//     authorization code flow with proof key for code exchange.
//
//   - TokenSet, AccessTokenInfo, UserInfo: the token endpoint
//     response, the validated access token claims, and the userinfo
//     endpoint's user representation.
//
// The package also comes with the StartTestProvider test helper, which
// runs a local provider implementing enough of the Fief API (discovery,
// JWKS, authorize, token, userinfo and profile endpoints) to test OIDC
// workflows without standing up a real tenant.
package fief
