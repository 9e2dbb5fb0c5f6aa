// Package device handles device authorization requests per RFC 8628 section 3.1
package device

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/common"
	"github.com/wrale/device-grant/internal/deviceflow"
)

// Handler processes device code requests per RFC 8628 section 3.2
type Handler struct {
	flow   deviceflow.Service
	logger *slog.Logger
}

// New creates a new device code request handler
func New(flow deviceflow.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		flow:   flow,
		logger: logger,
	}
}

// ServeHTTP handles device code requests
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

	clientID := r.PostForm.Get("client_id")
	if clientID == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "The client_id parameter is REQUIRED")
		return
	}

	auth, err := h.flow.InitiateDeviceFlow(r.Context(), clientID, r.PostForm.Get("scope"))
	if err != nil {
		switch {
		case common.WriteFlowError(w, err):
		case errors.Is(err, deviceflow.ErrUnknownClient):
			common.WriteErrorStatus(w, http.StatusUnauthorized, deviceflow.ErrorCodeInvalidClient,
				"Unknown client")
		default:
			h.logger.ErrorContext(r.Context(), "device authorization failed", "client_id", clientID, "error", err)
			common.WriteServerError(w, "Failed to generate device code")
		}
		return
	}

	common.WriteJSON(w, http.StatusOK, auth)
}
