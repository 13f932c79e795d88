package fief

// TokenSet is the raw token response from a successful code or refresh
// token exchange.  The client never persists it: keeping it across
// requests is the host environment's concern (see the session package).
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	IdToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// RedactedTokenSet is the redacted string for a TokenSet
const RedactedTokenSet = "[REDACTED: token set]"

// String will redact the tokens
func (t *TokenSet) String() string {
	return RedactedTokenSet
}

// AccessTokenInfo is the validated projection of an access token's
// signed payload.  It's only constructed by Client.ValidateAccessToken
// after the signature, expiry and policy checks all passed.
type AccessTokenInfo struct {
	// Id is the token's subject claim
	Id string

	// Scope is the token's space-separated scope claim, split
	Scope []string

	// ACR is the token's authentication context class reference
	ACR ACR

	// Permissions is the token's permissions claim
	Permissions []string

	// AccessToken is the raw token the info was validated from
	AccessToken string
}

// UserInfo carries the provider-defined claims about an authenticated
// subject, obtained from a validated id_token or from the userinfo
// endpoint.  Arbitrary claims are preserved; well-known ones have
// accessors.
type UserInfo map[string]interface{}

// Subject returns the "sub" claim.
func (u UserInfo) Subject() string {
	s, _ := u["sub"].(string)
	return s
}

// Email returns the "email" claim.
func (u UserInfo) Email() string {
	s, _ := u["email"].(string)
	return s
}

// TenantId returns the "tenant_id" claim.
func (u UserInfo) TenantId() string {
	s, _ := u["tenant_id"].(string)
	return s
}

// Fields returns the "fields" claim, the provider's custom user fields
// indexed by their slug.
func (u UserInfo) Fields() map[string]interface{} {
	f, _ := u["fields"].(map[string]interface{})
	return f
}
