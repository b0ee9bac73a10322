package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// API tokens let the browser extension authenticate without cookies. They
// are signed HS256 JWTs carrying the user id as subject.

var ErrInvalidToken = errors.New("invalid or expired token")

const tokenTTL = 90 * 24 * time.Hour

// IssueToken creates a signed API token for the user.
func IssueToken(secret []byte, userID string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		Issuer:    "linkhoard",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken validates a token and returns the user id it was issued for.
func VerifyToken(secret []byte, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return secret, nil
		},
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
