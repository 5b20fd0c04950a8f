// Package control implements the shared-secret tokens that authenticate
// requests on the HostLink control channel. Both the manager daemon and
// client controllers hold the same secret; clients sign a short-lived
// HS256 token per request and the manager verifies it.
package control

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL bounds how long a signed control token is accepted. Control
// requests are signed immediately before sending, so the window is short.
const TokenTTL = time.Minute

// Audience identifies the manager daemon as the intended recipient.
const Audience = "hostlink-manager"

var ErrInvalidToken = errors.New("invalid control token")

// Sign creates a short-lived control token for one request.
func Sign(secret []byte) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud": Audience,
		"iat": now.Unix(),
		"exp": now.Add(TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign control token: %w", err)
	}
	return signed, nil
}

// Verify checks a control token against the shared secret.
func Verify(secret []byte, tokenString string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithAudience(Audience), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// LoadSecret reads the shared control secret from path, generating and
// persisting a new random secret if the file does not exist yet.
func LoadSecret(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return nil, fmt.Errorf("failed to generate control secret: %w", err)
			}
			if err := os.WriteFile(path, b, 0600); err != nil {
				return nil, fmt.Errorf("failed to write control secret: %w", err)
			}
			return b, nil
		}
		return nil, fmt.Errorf("failed to read control secret: %w", err)
	}
	return key, nil
}
