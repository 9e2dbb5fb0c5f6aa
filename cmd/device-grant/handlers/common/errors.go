// Package common holds response helpers shared by the HTTP handlers
package common

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/wrale/device-grant/internal/deviceflow"
)

// ErrorResponse is the RFC 6749 section 5.2 error body used by RFC 8628
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// SetJSONHeaders sets required headers for JSON responses per RFC 8628
func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
}

// WriteError sends a 400 error response per RFC 8628 section 3.5
func WriteError(w http.ResponseWriter, code string, description string) {
	WriteErrorStatus(w, http.StatusBadRequest, code, description)
}

// WriteErrorStatus sends an error body with an explicit status
func WriteErrorStatus(w http.ResponseWriter, status int, code string, description string) {
	SetJSONHeaders(w)

	response := ErrorResponse{
		Error:            code,
		ErrorDescription: strings.TrimSpace(description),
	}

	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		WriteJSONError(w, err)
		return
	}
}

// WriteServerError reports an unexpected failure without leaking its detail
func WriteServerError(w http.ResponseWriter, description string) {
	WriteErrorStatus(w, http.StatusInternalServerError, deviceflow.ErrorCodeServerError, description)
}

// WriteFlowError maps a device flow error to its response. It reports
// whether err was a DeviceFlowError.
func WriteFlowError(w http.ResponseWriter, err error) bool {
	var dferr *deviceflow.DeviceFlowError
	if !errors.As(err, &dferr) {
		return false
	}
	WriteError(w, dferr.Code, dferr.Description)
	return true
}

// WriteJSON encodes v with the required JSON headers
func WriteJSON(w http.ResponseWriter, status int, v any) {
	SetJSONHeaders(w)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		WriteJSONError(w, err)
	}
}

// WriteJSONError handles JSON encoding failures with a standardized response
func WriteJSONError(w http.ResponseWriter, err error) {
	// Headers must be set here since they weren't set by caller due to error
	SetJSONHeaders(w)
	w.WriteHeader(http.StatusInternalServerError)

	// Create error response manually since JSON encoding failed
	errResponse := []byte(`{"error":"server_error","error_description":"Failed to encode response"}`)
	if _, writeErr := w.Write(errResponse); writeErr != nil {
		return
	}
}

// RejectDuplicateParams writes an invalid_request error if any form parameter
// is repeated, per RFC 8628 section 3.1. It reports whether one was.
func RejectDuplicateParams(w http.ResponseWriter, r *http.Request) bool {
	for key, values := range r.PostForm {
		if len(values) > 1 {
			WriteError(w, deviceflow.ErrorCodeInvalidRequest, "Parameters MUST NOT be included more than once: "+key)
			return true
		}
	}
	return false
}

// ClientIP returns the request's remote host. chi's RealIP middleware has
// already replaced RemoteAddr when a proxy header was present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
