package fief

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/square/go-jose.v2"
)

// TestProvider is a local server that supports provider capabilities
// which make writing tests much easier: OIDC discovery, a JWKS
// endpoint, the authorize/token endpoints of the code and refresh token
// flows (including PKCE verifier checks and c_hash/at_hash claims), and
// the authenticated userinfo/profile API.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks          *jose.JSONWebKeySet
	replySubject  string
	replyUserinfo map[string]interface{}

	mu                   sync.Mutex
	clientId             string
	clientSecret         string
	expectedAuthCode     string
	expectedCodeVerifier string
	replyRefreshToken    string
	replyScope           string
	replyACR             ACR
	replyPermissions     []string
	customClaims         map[string]interface{}
	omitIdToken          bool
	invalidCodeHash      bool
	invalidTokenHash     bool
	disableUserinfo      bool
	requestCounts        map[string]int

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider.  Its HTTPS
// server is stopped via t.Cleanup, and its CACert is intended for the
// client config's WithProviderCA.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()

	p := &TestProvider{
		replySubject: "e29b61b7-0bf7-4b7c-94a0-e7a33b568c2a",
		replyUserinfo: map[string]interface{}{
			"sub":       "e29b61b7-0bf7-4b7c-94a0-e7a33b568c2a",
			"email":     "anne@bretagne.duchy",
			"tenant_id": "c06d9fa1-b22c-4d5a-8f5f-3e47aa9fca9e",
			"fields": map[string]interface{}{
				"first_name": "Anne",
			},
		},
		replyRefreshToken: "test-refresh-token",
		replyScope:        "openid profile",
		replyACR:          ACRLevelZero,
		replyPermissions:  []string{"castles:read"},
		requestCounts:     map[string]int{},
		t:                 t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = TestJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
		t.Fatal(err)
	}
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds is for configuring the client information required for
// the OIDC workflows.
func (p *TestProvider) SetClientCreds(clientId, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientId = clientId
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from
// /authorize and the allowed auth code for /api/token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedCodeVerifier configures the PKCE code verifier /api/token
// requires for the authorization_code grant.
func (p *TestProvider) SetExpectedCodeVerifier(verifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedCodeVerifier = verifier
}

// SetCustomClaims lets you set additional claims to embed in the
// id_token issued by the OIDC workflow.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetAccessTokenClaims configures the scope, acr and permissions claims
// embedded in issued access tokens.
func (p *TestProvider) SetAccessTokenClaims(scope string, acr ACR, permissions []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyScope = scope
	p.replyACR = acr
	p.replyPermissions = permissions
}

// OmitIdTokens forces an error state where /api/token does not return
// an id_token.
func (p *TestProvider) OmitIdTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIdToken = true
}

// SetInvalidHashes forces /api/token to embed c_hash and at_hash claims
// which don't match the code and access token of the exchange.
func (p *TestProvider) SetInvalidHashes(code, accessToken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidCodeHash = code
	p.invalidTokenHash = accessToken
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it
// from the discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserinfo = true
}

// RequestCount returns how many requests the provider served for the
// given path.
func (p *TestProvider) RequestCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestCounts[path]
}

// Addr returns the current base URL for the test provider's running
// webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test
// provider's HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// RefreshToken returns the refresh token value /api/token accepts and
// issues.
func (p *TestProvider) RefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replyRefreshToken
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// issueTokens signs an access token carrying the configured
// scope/acr/permissions claims and an id_token bound to the access
// token (and to code, for the authorization_code grant).
func (p *TestProvider) issueTokens(code string) (accessToken, idToken string) {
	p.t.Helper()

	stdClaims := testDefaultClaims(p.replySubject, p.Addr(), p.clientId, 5*time.Minute)
	accessToken = TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, map[string]interface{}{
		"scope":       p.replyScope,
		"acr":         string(p.replyACR),
		"permissions": p.replyPermissions,
	})

	idClaims := map[string]interface{}{
		"email":     p.replyUserinfo["email"],
		"tenant_id": p.replyUserinfo["tenant_id"],
		"acr":       string(p.replyACR),
	}
	atHashSource := accessToken
	if p.invalidTokenHash {
		atHashSource = "not-the-access-token"
	}
	idClaims["at_hash"] = GetValidationHash(atHashSource)
	if code != "" {
		cHashSource := code
		if p.invalidCodeHash {
			cHashSource = "not-the-auth-code"
		}
		idClaims["c_hash"] = GetValidationHash(cHashSource)
	}
	for k, v := range p.customClaims {
		idClaims[k] = v
	}
	idToken = TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, idClaims)
	return accessToken, idToken
}

func (p *TestProvider) writeTokenResponse(w http.ResponseWriter, code string) error {
	accessToken, idToken := p.issueTokens(code)
	reply := struct {
		AccessToken  string `json:"access_token"`
		IdToken      string `json:"id_token,omitempty"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}{
		AccessToken:  accessToken,
		IdToken:      idToken,
		TokenType:    "bearer",
		ExpiresIn:    300,
		RefreshToken: p.replyRefreshToken,
	}
	if p.omitIdToken {
		reply.IdToken = ""
	}
	return p.writeJSON(w, &reply)
}

// requireBearer enforces an Authorization: Bearer header on the
// provider's authenticated API endpoints.
func (p *TestProvider) requireBearer(w http.ResponseWriter, req *http.Request) bool {
	authorization := req.Header.Get("Authorization")
	if !strings.HasPrefix(authorization, "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	p.requestCounts[req.URL.Path]++

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer           string `json:"issuer"`
			AuthEndpoint     string `json:"authorization_endpoint"`
			TokenEndpoint    string `json:"token_endpoint"`
			UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
			JWKSURI          string `json:"jwks_uri"`
		}{
			Issuer:           p.Addr(),
			AuthEndpoint:     p.Addr() + "/authorize",
			TokenEndpoint:    p.Addr() + "/api/token",
			UserinfoEndpoint: p.Addr() + "/api/userinfo",
			JWKSURI:          p.Addr() + "/.well-known/jwks.json",
		}
		if p.disableUserinfo {
			reply.UserinfoEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/.well-known/jwks.json":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if p.clientId != "" && qv.Get("client_id") != p.clientId {
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}
		redirectURI += "?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/api/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch req.FormValue("grant_type") {
		case "authorization_code":
			switch {
			case req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			case p.expectedCodeVerifier != "" && req.FormValue("code_verifier") != p.expectedCodeVerifier:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected code verifier")
				return
			case p.clientSecret != "" && req.FormValue("client_secret") != p.clientSecret:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unexpected client secret")
				return
			}
			_ = p.writeTokenResponse(w, req.FormValue("code"))
		case "refresh_token":
			if req.FormValue("refresh_token") != p.replyRefreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
			_ = p.writeTokenResponse(w, "")
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		}

	case "/api/userinfo":
		if p.disableUserinfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !p.requireBearer(w, req) {
			return
		}
		_ = p.writeJSON(w, p.replyUserinfo)

	case "/api/profile", "/api/password", "/api/email/change":
		if req.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !p.requireBearer(w, req) {
			return
		}
		_ = p.writeJSON(w, p.patchedUserinfo(req))

	case "/api/email/verify":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !p.requireBearer(w, req) {
			return
		}
		_ = p.writeJSON(w, p.replyUserinfo)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// patchedUserinfo merges the request's JSON body on top of the reply
// userinfo, approximating the provider's profile update behavior.
func (p *TestProvider) patchedUserinfo(req *http.Request) map[string]interface{} {
	merged := map[string]interface{}{}
	for k, v := range p.replyUserinfo {
		merged[k] = v
	}
	var patch map[string]interface{}
	if err := json.NewDecoder(req.Body).Decode(&patch); err != nil {
		return merged
	}
	for k, v := range patch {
		if k == "password" || k == "code" {
			continue
		}
		merged[k] = v
	}
	return merged
}
