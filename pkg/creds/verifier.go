package creds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors for token verification.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("token secret must be at least 32 characters")
)

// DefaultTokenTTL is the lifetime of locally issued tokens.
const DefaultTokenTTL = 15 * time.Minute

// TokenVerifier screens the token attached to a mount request before the
// daemon does any work with it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}

// JWTVerifier validates HMAC-signed JWTs against a shared secret, with an
// optional issuer check. The workload manager and the daemon share the
// secret out of band.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a JWT verifier. The secret must be at least 32
// characters.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify checks the token's signature, expiry and, when configured, its
// issuer.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) error {
	if tokenString == "" {
		return fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// IssueToken mints a token this verifier accepts. The CLI uses it so
// operators can drive test mounts without the workload manager issuing
// one.
func (v *JWTVerifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    v.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", ErrTokenSigningFailed
	}
	return signed, nil
}

// AllowAll skips local verification entirely. The secret store remains
// the real authority: a bad token still fails the credential fetch, and
// network filesystem mounts carry no token at all.
type AllowAll struct{}

// Verify accepts every token.
func (AllowAll) Verify(context.Context, string) error {
	return nil
}
