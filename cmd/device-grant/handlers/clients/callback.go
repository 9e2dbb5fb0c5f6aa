// Package clients serves the admin API for per-client settings
package clients

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wrale/device-grant/cmd/device-grant/handlers/common"
	"github.com/wrale/device-grant/internal/deviceflow"
)

// AdminKeyHeader carries the admin API key
const AdminKeyHeader = "X-Admin-API-Key"

const maxBodyBytes = 4 << 10

// CallbackRequest is the body of a callback update
type CallbackRequest struct {
	CallbackURI string `json:"callback_uri"`
}

// CallbackResponse describes a client's callback
type CallbackResponse struct {
	ClientID    string `json:"client_id"`
	CallbackURI string `json:"callback_uri"`
}

// RequireAdminKey rejects requests without the configured admin key
func RequireAdminKey(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				logger.WarnContext(r.Context(), "admin key mismatch", "path", r.URL.Path)
				common.WriteErrorStatus(w, http.StatusUnauthorized, "unauthorized", "admin api key required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handler manages client callback URIs
type Handler struct {
	flow   deviceflow.Service
	logger *slog.Logger
}

// New creates a new admin clients handler
func New(flow deviceflow.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: flow, logger: logger}
}

// HandleGet returns the client's callback URI
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	uri, err := h.flow.CallbackURI(r.Context(), clientID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "callback uri lookup failed", "client_id", clientID, "error", err)
		common.WriteServerError(w, "Unable to read the callback uri")
		return
	}
	common.WriteJSON(w, http.StatusOK, CallbackResponse{ClientID: clientID, CallbackURI: uri})
}

// HandlePut records the client's callback URI. An empty URI clears it.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	var req CallbackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "Body must be a JSON object with callback_uri")
		return
	}

	uri := strings.TrimSpace(req.CallbackURI)
	if uri != "" {
		u, err := url.Parse(uri)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "callback_uri must be an absolute http(s) URI")
			return
		}
	}

	if err := h.flow.SetCallbackURI(r.Context(), clientID, uri); err != nil {
		if errors.Is(err, deviceflow.ErrUnknownClient) {
			common.WriteError(w, deviceflow.ErrorCodeInvalidClient, "Unknown client")
			return
		}
		h.logger.ErrorContext(r.Context(), "callback uri update failed", "client_id", clientID, "error", err)
		common.WriteServerError(w, "Unable to save the callback uri")
		return
	}

	common.WriteJSON(w, http.StatusOK, CallbackResponse{ClientID: clientID, CallbackURI: uri})
}
