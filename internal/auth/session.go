package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid session token")

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"` // Key type
	Kid string `json:"kid"` // Key ID
	Use string `json:"use"` // Public key use
	Alg string `json:"alg"` // Algorithm
	Crv string `json:"crv"` // Curve
	X   string `json:"x"`   // Public key
}

// Sessions issues and validates admin session tokens.
// The signing key lives only in memory, so a restart logs everyone out.
type Sessions struct {
	kid      string
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewSessions creates a session signer with a fresh key pair.
func NewSessions(issuer, audience string, ttl time.Duration) (*Sessions, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return &Sessions{
		kid:      uuid.NewString(),
		priv:     priv,
		pub:      pub,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue returns a signed token for subject and its expiry.
func (s *Sessions) Issue(subject string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss": s.issuer,
		"aud": s.audience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"jti": uuid.NewString(),
	})
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.priv)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// JWKS publishes the verification key so other tools can check session tokens.
func (s *Sessions) JWKS() JWKS {
	return JWKS{Keys: []JWK{{
		Kty: "OKP",
		Kid: s.kid,
		Use: "sig",
		Alg: "EdDSA",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(s.pub),
	}}}
}

// ValidateJWT verifies the signature, issuer, audience and expiry of tokenString
// and returns its claims.
func (s *Sessions) ValidateJWT(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if kid, _ := token.Header["kid"].(string); kid != s.kid {
			return nil, fmt.Errorf("key with kid %q not found", kid)
		}
		return s.pub, nil
	}

	parsedToken, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, keyFunc,
		jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsedToken.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	// Verify issuer
	if iss, ok := claims["iss"].(string); !ok || iss != s.issuer {
		return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidToken)
	}

	// Verify audience
	if aud, ok := claims["aud"].(string); !ok || aud != s.audience {
		return nil, fmt.Errorf("%w: invalid audience", ErrInvalidToken)
	}

	return claims, nil
}
