package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultAccessTTL = 30 * time.Minute

var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer signs and verifies HS256 access tokens. Validity is entirely
// self-contained in the token and the shared secret; there is no server-side
// revocation list, so logout cannot invalidate a still-unexpired token.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}

	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue encodes the subject and an absolute expiry (now + ttl) into a signed
// token.
func (i *TokenIssuer) Issue(subject string) (string, error) {
	now := i.now().UTC()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(i.ttl).Unix(),
		"typ": "access",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, nil
}

// Verify decodes the token and checks signature, algorithm, type and expiry.
// Any failure comes back as ErrInvalidToken; the caller never sees parser
// internals.
func (i *TokenIssuer) Verify(tokenStr string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return i.now()
	}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if tokenType, _ := claims["typ"].(string); tokenType != "access" {
		return "", ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}

	return subject, nil
}
