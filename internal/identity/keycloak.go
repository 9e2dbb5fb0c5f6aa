package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// Keycloak endpoint paths
	authPath        = "/protocol/openid-connect/auth"
	tokenPath       = "/protocol/openid-connect/token"
	introspectPath  = "/protocol/openid-connect/token/introspect"
	healthCheckPath = "/.well-known/openid-configuration"

	// HTTP request timeouts
	defaultTimeout = 10 * time.Second
)

// Keycloak implements Provider for a Keycloak realm
type Keycloak struct {
	client        *http.Client
	oauth         *oauth2.Config
	introspectURL string
	healthURL     string
	now           func() time.Time
}

var _ Provider = (*Keycloak)(nil)

// NewKeycloak creates a provider for the configured realm
func NewKeycloak(cfg Config) (*Keycloak, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Realm == "" {
		return nil, fmt.Errorf("realm is required")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	realmURL := fmt.Sprintf("%s/realms/%s", baseURL, cfg.Realm)

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}

	return &Keycloak{
		client: &http.Client{Timeout: defaultTimeout},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   realmURL + authPath,
				TokenURL:  realmURL + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		introspectURL: realmURL + introspectPath,
		healthURL:     realmURL + healthCheckPath,
		now:           time.Now,
	}, nil
}

// AuthCodeURL returns the realm's authorization URL
func (k *Keycloak) AuthCodeURL(state string) string {
	return k.oauth.AuthCodeURL(state)
}

// Authenticate exchanges an authorization code for tokens and introspects the access token
func (k *Keycloak) Authenticate(ctx context.Context, code string) (*Principal, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, k.client)

	token, err := k.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	return k.Introspect(ctx, token.AccessToken)
}

// introspection is the RFC 7662 response
type introspection struct {
	Active            bool   `json:"active"`
	Subject           string `json:"sub"`
	Username          string `json:"username"`
	PreferredUsername string `json:"preferred_username"`
	Scope             string `json:"scope"`
	ExpiresAt         int64  `json:"exp"`
}

// Introspect validates an access token per RFC 7662
func (k *Keycloak) Introspect(ctx context.Context, accessToken string) (*Principal, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}

	data := url.Values{
		"token":         {accessToken},
		"client_id":     {k.oauth.ClientID},
		"client_secret": {k.oauth.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.introspectURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending introspection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: introspection returned %s: %s", ErrProviderUnavailable, resp.Status, body)
	}

	var info introspection
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("parsing introspection response: %w", err)
	}

	if !info.Active {
		return nil, ErrInvalidToken
	}
	if info.ExpiresAt > 0 && k.now().After(time.Unix(info.ExpiresAt, 0)) {
		return nil, ErrTokenExpired
	}

	username := info.PreferredUsername
	if username == "" {
		username = info.Username
	}
	if info.Subject == "" && username == "" {
		return nil, ErrInvalidToken
	}

	return &Principal{
		Subject:  info.Subject,
		Username: username,
		Scope:    info.Scope,
	}, nil
}

// CheckHealth verifies the realm's discovery document is reachable
func (k *Keycloak) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.healthURL, nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrProviderUnavailable
	}
	return nil
}
