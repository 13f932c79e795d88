package fief

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod represents a PKCE code challenge method.
type ChallengeMethod string

const (
	// S256 is the SHA-256 based challenge method and should be used
	// whenever possible.
	S256 ChallengeMethod = "S256"

	// Plain sends the verifier as its own challenge.  It's only intended
	// for clients which cannot support S256.
	Plain ChallengeMethod = "plain"
)

// verifierByteLen is the number of random bytes backing a verifier,
// which URL-safe base64 encodes to 128 characters.
const verifierByteLen = 96

// CodeVerifier represents a PKCE code verifier with its derived
// challenge.  A verifier is single use: discard it after the code
// exchange for its authorization attempt, whether that exchange
// succeeded or failed.
type CodeVerifier struct {
	verifier  string
	method    ChallengeMethod
	challenge string
}

// NewCodeVerifier creates a new CodeVerifier from a cryptographically
// secure random source, with an S256 derived challenge.  It fails if no
// secure random source is available.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "fief.NewCodeVerifier"
	data := make([]byte, verifierByteLen)
	if _, err := rand.Read(data); err != nil {
		return nil, fmt.Errorf("%s: unable to read random verifier data: %w", op, err)
	}
	v := &CodeVerifier{
		verifier: base64.RawURLEncoding.EncodeToString(data),
		method:   S256,
	}
	challenge, err := CreateCodeChallenge(v.method, v.verifier)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	v.challenge = challenge
	return v, nil
}

func (v *CodeVerifier) Verifier() string        { return v.verifier }
func (v *CodeVerifier) Challenge() string       { return v.challenge }
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// CreateCodeChallenge derives the code challenge for the verifier using
// the given method.  Methods other than Plain and S256 return
// ErrUnsupportedChallengeMethod.
func CreateCodeChallenge(m ChallengeMethod, verifier string) (string, error) {
	const op = "fief.CreateCodeChallenge"
	switch m {
	case Plain:
		return verifier, nil
	case S256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, m, ErrUnsupportedChallengeMethod)
	}
}

// GetValidationHash computes the truncated hash used by the c_hash and
// at_hash id_token claims: the URL-safe base64 encoding of the left
// half of the SHA-256 digest of value.
func GetValidationHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

// IsValidHash reports whether hash is the validation hash of value.
// The comparison is constant time.
func IsValidHash(value, hash string) bool {
	computed := GetValidationHash(value)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
