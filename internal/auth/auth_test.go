package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGate(t *testing.T) {
	// "admin123" reversed and base64 encoded
	g := NewGate("MzIxbmltZGE=")

	tests := []struct {
		password string
		want     bool
	}{
		{"admin123", true},
		{"  admin123\n", true},
		{"admin12", false},
		{"321nimda", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := g.Check(tt.password); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.password, got, tt.want)
		}
	}
	if NewGate("").Check("anything") {
		t.Error("empty secret must reject every password")
	}
	if Encode("admin123") != "MzIxbmltZGE=" {
		t.Errorf("Encode() = %q", Encode("admin123"))
	}
}

func TestSessionsIssueAndValidate(t *testing.T) {
	s, err := NewSessions("purrfect-admin", "purrfect-admin-ui", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, exp, err := s.Issue("admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v already passed", exp)
	}

	claims, err := s.ValidateJWT(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if claims["sub"] != "admin" {
		t.Errorf("sub = %v", claims["sub"])
	}
}

func TestSessionsRejectsExpired(t *testing.T) {
	s, _ := NewSessions("iss", "aud", time.Minute)
	issued := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return issued }
	token, _, _ := s.Issue("admin")

	s.now = time.Now
	if _, err := s.ValidateJWT(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ValidateJWT() error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionsRejectsForeignTokens(t *testing.T) {
	s, _ := NewSessions("iss", "aud", time.Hour)
	other, _ := NewSessions("iss", "aud", time.Hour)
	wrongAud, _ := NewSessions("iss", "other-ui", time.Hour)
	wrongAud.priv, wrongAud.pub, wrongAud.kid = s.priv, s.pub, s.kid

	foreign, _, _ := other.Issue("admin")
	misaddressed, _, _ := wrongAud.Issue("admin")
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss": "iss", "aud": "aud", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"other key":    foreign,
		"audience":     misaddressed,
		"alg none":     unsigned,
		"garbage":      "not.a.jwt",
		"empty string": "",
	} {
		if _, err := s.ValidateJWT(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: ValidateJWT() error = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestJWKSPublishesVerificationKey(t *testing.T) {
	s, _ := NewSessions("iss", "aud", time.Hour)
	set := s.JWKS()
	if len(set.Keys) != 1 {
		t.Fatalf("got %d keys", len(set.Keys))
	}
	k := set.Keys[0]
	if k.Kty != "OKP" || k.Crv != "Ed25519" || k.Alg != "EdDSA" || k.Kid != s.kid {
		t.Errorf("unexpected key %+v", k)
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil || !ed25519.PublicKey(x).Equal(s.pub) {
		t.Errorf("published key does not match signer: %v", err)
	}
}
