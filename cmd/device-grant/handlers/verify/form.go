package verify

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/common"
	"github.com/wrale/device-grant/internal/deviceflow"
)

// FormResponse is what the verification page needs to render
type FormResponse struct {
	VerificationURI string            `json:"verification_uri"`
	CSRFToken       string            `json:"csrf_token"`
	UserCode        string            `json:"user_code,omitempty"`
	ClientID        string            `json:"client_id,omitempty"`
	Scope           string            `json:"scope,omitempty"`
	Status          deviceflow.Status `json:"status,omitempty"`
	ExpiresIn       int               `json:"expires_in,omitempty"`
}

// HandleForm returns the verification prompt per RFC 8628 section 3.3.
// A prefilled code from verification_uri_complete is looked up so the user
// can see which client is asking before deciding.
func (h *Handler) HandleForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	baseURL, err := url.Parse(h.baseURL)
	if err != nil {
		h.logger.ErrorContext(ctx, "invalid base url", "error", err)
		common.WriteServerError(w, "Invalid service configuration")
		return
	}
	baseURL.Path = path.Join(baseURL.Path, "device")

	resp := FormResponse{VerificationURI: baseURL.String()}

	if code := strings.TrimSpace(r.URL.Query().Get("code")); code != "" {
		if !h.allow(w, r) {
			return
		}

		prompt, err := h.flow.LookupUserCode(ctx, code)
		if err != nil {
			h.logger.ErrorContext(ctx, "user code lookup failed", "error", err)
			common.WriteServerError(w, "Unable to look up the code. Please try again.")
			return
		}
		if prompt.Status == deviceflow.StatusNotExist {
			common.WriteErrorStatus(w, http.StatusNotFound, deviceflow.ErrorCodeInvalidRequest,
				"The code is invalid. Please check it and try again.")
			return
		}

		resp.UserCode = prompt.UserCode
		resp.ClientID = prompt.ClientID
		resp.Scope = prompt.Scope
		resp.Status = prompt.Status
		resp.ExpiresIn = prompt.ExpiresIn
	}

	token, err := h.csrf.GenerateToken(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "csrf token generation failed", "error", err)
		common.WriteServerError(w, "Unable to process request securely. Please try again in a moment.")
		return
	}
	resp.CSRFToken = token

	common.WriteJSON(w, http.StatusOK, resp)
}
