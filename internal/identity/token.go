package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the shared-secret bearer token shape. Email may be
// carried directly; when absent, the resolver falls back to a user-id
// lookup against the persisted user table.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Subject string `json:"sub"`
}

// validateToken verifies tokenString against secret. HS256 is the only
// accepted algorithm; anything else is rejected before the key is used.
func validateToken(tokenString, secret string) (tokenClaims, error) {
	var claims tokenClaims

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenInvalid, t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return tokenClaims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return tokenClaims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return tokenClaims{}, ErrTokenInvalid
	}

	return claims, nil
}
