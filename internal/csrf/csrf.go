// Package csrf issues signed single-purpose tokens for the verification forms.
// A token may carry a bound value, such as the user code an identity provider
// round trip belongs to, and is redeemed once with Consume.
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates a missing or invalid CSRF token
	ErrInvalidToken = errors.New("invalid csrf token")

	// ErrTokenExpired indicates the CSRF token has expired
	ErrTokenExpired = errors.New("csrf token expired")
)

// Store provides token storage operations
type Store interface {
	// SaveToken stores a CSRF token and its bound value with expiry
	SaveToken(ctx context.Context, token, value string, expiresIn time.Duration) error

	// ValidateToken checks if a token exists and is valid
	ValidateToken(ctx context.Context, token string) error

	// ConsumeToken removes a token and returns its bound value. Only one caller
	// may consume a given token.
	ConsumeToken(ctx context.Context, token string) (string, error)

	// CheckHealth verifies the store is operational
	CheckHealth(ctx context.Context) error
}

// Manager handles CSRF token generation and validation
type Manager struct {
	store     Store
	secret    []byte
	expiresIn time.Duration
}

// NewManager creates a new CSRF token manager
func NewManager(store Store, secret []byte, expiresIn time.Duration) *Manager {
	return &Manager{
		store:     store,
		secret:    secret,
		expiresIn: expiresIn,
	}
}

// GenerateToken creates and stores a new CSRF token with no bound value
func (m *Manager) GenerateToken(ctx context.Context) (string, error) {
	return m.Bind(ctx, "")
}

// Bind creates and stores a new token carrying value
func (m *Manager) Bind(ctx context.Context, value string) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	fullToken := token + "." + base64.URLEncoding.EncodeToString(m.sign(token))

	if err := m.store.SaveToken(ctx, fullToken, value, m.expiresIn); err != nil {
		return "", fmt.Errorf("saving token: %w", err)
	}

	return fullToken, nil
}

// ValidateToken checks if a token is valid without redeeming it
func (m *Manager) ValidateToken(ctx context.Context, token string) error {
	if !m.verify(token) {
		return ErrInvalidToken
	}
	if err := m.store.ValidateToken(ctx, token); err != nil {
		return fmt.Errorf("validating token: %w", err)
	}
	return nil
}

// Consume redeems a token and returns the value it was bound to
func (m *Manager) Consume(ctx context.Context, token string) (string, error) {
	if !m.verify(token) {
		return "", ErrInvalidToken
	}
	value, err := m.store.ConsumeToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("consuming token: %w", err)
	}
	return value, nil
}

// CheckHealth verifies the CSRF manager is operational
func (m *Manager) CheckHealth(ctx context.Context) error {
	if err := m.store.CheckHealth(ctx); err != nil {
		return fmt.Errorf("csrf store health check failed: %w", err)
	}
	return nil
}

func (m *Manager) sign(token string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(token))
	return h.Sum(nil)
}

// verify checks the token's HMAC signature
func (m *Manager) verify(token string) bool {
	raw, sig, ok := strings.Cut(token, ".")
	if !ok || raw == "" {
		return false
	}
	actualSig, err := base64.URLEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(m.sign(raw), actualSig)
}
