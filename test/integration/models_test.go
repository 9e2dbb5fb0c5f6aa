//go:build e2e

package integration

// Response types as defined in RFC 8628 Section 3.2
type deviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`               // REQUIRED
	UserCode                string `json:"user_code"`                 // REQUIRED
	VerificationURI         string `json:"verification_uri"`          // REQUIRED
	VerificationURIComplete string `json:"verification_uri_complete"` // OPTIONAL
	ExpiresIn               int    `json:"expires_in"`                // REQUIRED
	Interval                int    `json:"interval"`                  // REQUIRED if polling supported
}

// Successful poll
type tokenResponse struct {
	AuthorizedUser string `json:"authorized_user"`
	Scope          string `json:"scope"`
}

// Error response format as defined in RFC 6749 Section 5.2
type errorResponse struct {
	Error            string `json:"error"`             // REQUIRED
	ErrorDescription string `json:"error_description"` // OPTIONAL
}

// Verification page data
type formResponse struct {
	CSRFToken string `json:"csrf_token"`
	UserCode  string `json:"user_code"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	Status    string `json:"status"`
	ExpiresIn int    `json:"expires_in"`
}

type resultResponse struct {
	Resolved bool   `json:"resolved"`
	Status   string `json:"status"`
}

// Known error codes defined in RFC 8628 Section 3.5
const (
	ErrAuthorizationPending = "authorization_pending"
	ErrSlowDown             = "slow_down"
	ErrAccessDenied         = "access_denied"
	ErrExpiredToken         = "expired_token"
	ErrInvalidRequest       = "invalid_request"
	ErrInvalidGrant         = "invalid_grant"
	ErrUnsupportedGrantType = "unsupported_grant_type"

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)
