package verify

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/common"
	"github.com/wrale/device-grant/internal/deviceflow"
	"github.com/wrale/device-grant/internal/identity"
)

// ResultResponse reports the outcome of a decision
type ResultResponse struct {
	Resolved bool              `json:"resolved"`
	Status   deviceflow.Status `json:"status"`
}

// respond redirects to the client's callback URI with the resulting status
// when one is recorded, and writes the result as JSON otherwise
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, clientID string, res *deviceflow.VerificationResult) {
	if clientID != "" {
		callback, err := h.flow.CallbackURI(r.Context(), clientID)
		if err != nil {
			h.logger.WarnContext(r.Context(), "callback uri lookup failed", "client_id", clientID, "error", err)
		}
		if callback != "" {
			if target, err := withStatus(callback, res.Status); err == nil {
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			h.logger.WarnContext(r.Context(), "invalid callback uri", "client_id", clientID)
		}
	}

	status := http.StatusOK
	switch {
	case res.Resolved:
	case res.Status == deviceflow.StatusNotExist:
		status = http.StatusNotFound
	default:
		status = http.StatusConflict
	}
	common.WriteJSON(w, status, ResultResponse{Resolved: res.Resolved, Status: res.Status})
}

func withStatus(callback string, status deviceflow.Status) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		return "", errors.New("callback uri is not absolute")
	}
	q := u.Query()
	q.Set("status", string(status))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writeIdentityError maps a failed authentication to a response
func (h *Handler) writeIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrTokenExpired),
		errors.Is(err, identity.ErrInvalidGrant):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		common.WriteErrorStatus(w, http.StatusUnauthorized, deviceflow.ErrorCodeAccessDenied,
			"Authentication failed. Please sign in again.")
	default:
		h.logger.ErrorContext(r.Context(), "identity provider request failed", "error", err)
		common.WriteErrorStatus(w, http.StatusBadGateway, deviceflow.ErrorCodeServerError,
			"The identity provider is unavailable. Please try again later.")
	}
}
