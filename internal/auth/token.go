package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthentication matches every handshake rejection.
	ErrAuthentication    = errors.New("authentication failed")
	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrAuthentication)
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", ErrAuthentication)
	ErrExpiredCredential = fmt.Errorf("%w: expired credential", ErrAuthentication)
	ErrUnknownUser       = fmt.Errorf("%w: unknown user", ErrAuthentication)
)

// Claims is the payload of a chat credential.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verify checks the signature and expiry of raw at time now and returns the
// embedded user id. It does not consult the user store.
func Verify(raw string, secret []byte, now time.Time) (string, error) {
	if raw == "" {
		return "", ErrMissingCredential
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredential
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidCredential
	}
	return claims.UserID, nil
}

// IssueToken signs a credential for userID valid for ttl from now.
func IssueToken(secret []byte, userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
