// Package identity authenticates the human approving a device against the
// operator's OAuth 2.0 identity provider.
package identity

import (
	"context"
	"errors"
)

// Common errors returned by providers
var (
	ErrInvalidGrant        = errors.New("invalid grant")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Principal is an authenticated user
type Principal struct {
	Subject  string
	Username string
	Scope    string
}

// Name returns the identity recorded on an approval
func (p *Principal) Name() string {
	if p.Username != "" {
		return p.Username
	}
	return p.Subject
}

// Provider authenticates users for the verification endpoints
type Provider interface {
	// AuthCodeURL returns the authorization endpoint URL carrying state
	AuthCodeURL(state string) string

	// Authenticate exchanges an authorization code and identifies its user
	Authenticate(ctx context.Context, code string) (*Principal, error)

	// Introspect identifies the user an access token was issued to
	Introspect(ctx context.Context, accessToken string) (*Principal, error)

	// CheckHealth verifies the provider is accessible
	CheckHealth(ctx context.Context) error
}

// Config holds identity provider client configuration
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Realm        string
	RedirectURI  string
	Scopes       []string
}
