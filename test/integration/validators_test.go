//go:build e2e

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

// authorizationProblems lists the RFC 8628 section 3.2 requirements resp violates
func authorizationProblems(resp *deviceAuthResponse) []string {
	var problems []string
	require := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	require(resp.DeviceCode != "", "device_code is required")
	require(resp.UserCode != "", "user_code is required")
	require(resp.ExpiresIn > 0, "expires_in must be positive, got %d", resp.ExpiresIn)
	require(resp.Interval >= 1, "interval must be at least one second, got %d", resp.Interval)

	base, err := url.Parse(resp.VerificationURI)
	require(err == nil && base.IsAbs(), "verification_uri %q must be absolute", resp.VerificationURI)

	if resp.VerificationURIComplete != "" {
		complete, err := url.Parse(resp.VerificationURIComplete)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("verification_uri_complete %q does not parse", resp.VerificationURIComplete))
		case base != nil && complete.Path != base.Path:
			problems = append(problems, "verification_uri_complete must extend verification_uri")
		case complete.Query().Get("code") != resp.UserCode:
			problems = append(problems, "verification_uri_complete must carry the user code")
		}
	}
	return problems
}

func validateDeviceAuthResponse(t *testing.T, resp *deviceAuthResponse) {
	t.Helper()
	if problems := authorizationProblems(resp); len(problems) > 0 {
		t.Errorf("device authorization response:\n  %s", strings.Join(problems, "\n  "))
	}
}

// assertError checks an RFC 6749 section 5.2 error body with status 400
func assertError(t *testing.T, resp *http.Response, body []byte, want string) {
	t.Helper()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (body %s)", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}

	var got errorResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("error body %s: %v", body, err)
	}
	if got.Error != want {
		t.Errorf("error = %q (%s), want %q", got.Error, got.ErrorDescription, want)
	}
}
