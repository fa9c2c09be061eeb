// Package auth verifies operator bearer tokens on mutating routes.
// Tokens are HS256 JWTs signed with a shared secret.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the expected "iss" claim.
const Issuer = "academy-service"

// ErrDisabled is returned by Issue when no secret is configured.
var ErrDisabled = errors.New("operator auth disabled")

// Verifier validates and issues operator tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for secret. An empty secret disables auth.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// NewTestVerifier creates a verifier with a random secret for tests.
func NewTestVerifier() *Verifier {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return &Verifier{secret: secret, now: time.Now}
}

// Enabled reports whether tokens are required.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Issue signs a token for subject valid for ttl.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrDisabled
	}
	now := v.now()
	claims := jwt.MapClaims{
		"iss": Issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Validate verifies tokenString and returns its subject.
func (v *Verifier) Validate(tokenString string) (string, error) {
	if !v.Enabled() {
		return "", ErrDisabled
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}

	parsed, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, keyFunc,
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("failed to verify JWT: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid JWT")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid JWT claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("missing subject")
	}
	return sub, nil
}
