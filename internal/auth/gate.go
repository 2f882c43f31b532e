// Package auth guards the admin surface: a shared-secret gate for login and
// Ed25519-signed session tokens for every call after it.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// Gate checks login passwords against a configured secret.
// The secret is stored as base64 of the reversed password, so it never sits in
// configuration in plain text. This is obfuscation, not hashing.
type Gate struct {
	secret string
}

// NewGate returns a Gate for the encoded secret.
func NewGate(secret string) *Gate {
	return &Gate{secret: strings.TrimSpace(secret)}
}

// Encode produces the secret value for a plain password.
func Encode(password string) string {
	return base64.StdEncoding.EncodeToString([]byte(reverse(strings.TrimSpace(password))))
}

// Check reports whether password matches the secret.
func (g *Gate) Check(password string) bool {
	if g.secret == "" || strings.TrimSpace(password) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Encode(password)), []byte(g.secret)) == 1
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
