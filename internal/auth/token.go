// Package auth signs and verifies the join tokens carried in the join
// event when user authentication is enabled.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wandao/meeting-signal/internal/core"
)

var ErrInvalidToken = errors.New("invalid token")

// tokenClaims is the wire shape of the signed token. Presenter is a string
// flag ("1" or "true") for compatibility with existing clients.
type tokenClaims struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Presenter string `json:"presenter,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 join tokens. It implements core.TokenVerifier.
type Verifier struct {
	key []byte
}

func NewVerifier(key string) *Verifier {
	return &Verifier{key: []byte(key)}
}

// Verify parses and validates the token and maps it onto peer claims. The
// presenter claim is passed through as-is once the signature and expiry
// check out; the relay decides how much to trust it.
func (v *Verifier) Verify(token string) (core.PeerClaims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return core.PeerClaims{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return core.PeerClaims{}, ErrInvalidToken
	}
	return core.PeerClaims{
		Username:  claims.Username,
		Password:  claims.Password,
		Presenter: claims.Presenter == "1" || claims.Presenter == "true",
	}, nil
}

// Generate issues a signed join token, used by the login endpoint.
func Generate(key, username, password string, presenter bool, expiry time.Duration) (string, error) {
	claims := tokenClaims{
		Username: username,
		Password: password,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	if presenter {
		claims.Presenter = "1"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
