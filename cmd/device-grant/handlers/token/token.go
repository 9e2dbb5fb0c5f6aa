// Package token answers device token polls per RFC 8628 section 3.4
package token

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/common"
	"github.com/wrale/device-grant/internal/deviceflow"
)

// GrantType is the device code grant type per RFC 8628 section 3.4
const GrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Response is the body of a successful poll
type Response struct {
	AuthorizedUser string `json:"authorized_user"`
	Scope          string `json:"scope,omitempty"`
}

var outcomeDescriptions = map[deviceflow.PollOutcome]string{
	deviceflow.PollAuthorizationPending: "The authorization request is still pending",
	deviceflow.PollSlowDown:             "Polling interval must be increased by 5 seconds",
	deviceflow.PollExpiredToken:         "The device_code has expired",
	deviceflow.PollAccessDenied:         "The authorization request was denied",
}

// Handler processes device access token requests per RFC 8628 section 3.4
type Handler struct {
	flow   deviceflow.Service
	logger *slog.Logger
}

// Config contains handler configuration options
type Config struct {
	Flow   deviceflow.Service
	Logger *slog.Logger
}

// New creates a new token request handler
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		flow:   cfg.Flow,
		logger: cfg.Logger,
	}
}

// ServeHTTP handles token polling requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	common.SetJSONHeaders(w)

	if r.Method != http.MethodPost {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "POST method required")
		return
	}

	if err := r.ParseForm(); err != nil {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "Invalid request format")
		return
	}

	if common.RejectDuplicateParams(w, r) {
		return
	}

	grantType := r.PostForm.Get("grant_type")
	if grantType == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest,
			"The grant_type parameter is REQUIRED")
		return
	}

	if grantType != GrantType {
		common.WriteError(w, deviceflow.ErrorCodeUnsupportedGrant,
			"Only "+GrantType+" is supported")
		return
	}

	deviceCode := r.PostForm.Get("device_code")
	if deviceCode == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest,
			"The device_code parameter is REQUIRED")
		return
	}

	result, err := h.flow.PollDeviceFlow(r.Context(), deviceCode, r.PostForm.Get("client_id"))
	if err != nil {
		switch {
		case common.WriteFlowError(w, err):
		case errors.Is(err, deviceflow.ErrInvalidDeviceCode):
			common.WriteError(w, deviceflow.ErrorCodeInvalidGrant,
				"The device_code is invalid")
		default:
			h.logger.ErrorContext(r.Context(), "device poll failed", "error", err)
			common.WriteServerError(w, "An unexpected error occurred processing the request")
		}
		return
	}

	if result.Outcome != deviceflow.PollSuccess {
		common.WriteError(w, string(result.Outcome), outcomeDescriptions[result.Outcome])
		return
	}

	common.WriteJSON(w, http.StatusOK, Response{
		AuthorizedUser: result.AuthorizedUser,
		Scope:          result.Scope,
	})
}
