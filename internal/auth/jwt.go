package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier validates HS256 tokens and binds the caller's identity to the
// token's user_id claim.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type identityClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (v *JWTVerifier) Verify(credential string) (string, error) {
	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidCredentials
	}
	return claims.UserID, nil
}

// MintToken issues an HS256 token for identity, expiring after ttl. It exists
// for local development and tests; production deployments are expected to
// issue tokens from their own identity service sharing the secret.
func MintToken(secret, identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := identityClaims{
		UserID: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
