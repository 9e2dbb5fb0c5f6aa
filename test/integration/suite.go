// Package integration exercises a running device-grant server end to end
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

// Configuration for integration tests
const (
	// DefaultEndpoint is used when DEVICE_GRANT_E2E_URL is unset
	DefaultEndpoint = "http://localhost:8080"

	ServiceTimeout = 60 * time.Second
	RetryInterval  = 2 * time.Second
)

// TestSuite provides shared functionality for integration tests
type TestSuite struct {
	T        *testing.T
	Client   *http.Client
	Ctx      context.Context
	Endpoint string
}

// NewSuite creates a new test suite with timeout
func NewSuite(t *testing.T) *TestSuite {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), ServiceTimeout)
	t.Cleanup(cancel)

	endpoint := os.Getenv("DEVICE_GRANT_E2E_URL")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &TestSuite{
		T: t,
		Client: &http.Client{
			Timeout: 10 * time.Second,
			// redirects to the identity provider or a client callback are asserted, not followed
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Ctx:      ctx,
		Endpoint: strings.TrimSuffix(endpoint, "/"),
	}
}

// WaitForService waits for the health endpoint to report healthy
func (s *TestSuite) WaitForService() error {
	ticker := time.NewTicker(RetryInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		req, err := http.NewRequestWithContext(s.Ctx, http.MethodGet, s.Endpoint+"/health", nil)
		if err != nil {
			return fmt.Errorf("creating health request: %w", err)
		}

		resp, err := s.Client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("health returned status %d", resp.StatusCode)
		} else {
			lastErr = fmt.Errorf("checking health: %w", err)
		}

		select {
		case <-s.Ctx.Done():
			return fmt.Errorf("timeout waiting for service: %w", lastErr)
		case <-ticker.C:
		}
	}
}

// PostForm sends a form to path and returns the response with its body read
func (s *TestSuite) PostForm(path string, form url.Values) (*http.Response, []byte) {
	s.T.Helper()

	req, err := http.NewRequestWithContext(s.Ctx, http.MethodPost, s.Endpoint+path, strings.NewReader(form.Encode()))
	if err != nil {
		s.T.Fatalf("creating request for %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

// Get fetches path with query parameters
func (s *TestSuite) Get(path string, params url.Values) (*http.Response, []byte) {
	s.T.Helper()

	target := s.Endpoint + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(s.Ctx, http.MethodGet, target, nil)
	if err != nil {
		s.T.Fatalf("creating request for %s: %v", path, err)
	}
	return s.do(req)
}

func (s *TestSuite) do(req *http.Request) (*http.Response, []byte) {
	s.T.Helper()

	resp, err := s.Client.Do(req)
	if err != nil {
		s.T.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.T.Fatalf("reading %s response: %v", req.URL.Path, err)
	}
	return resp, body
}

// Decode unmarshals a JSON body or fails the test
func (s *TestSuite) Decode(body []byte, v any) {
	s.T.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		s.T.Fatalf("decoding %s: %v", body, err)
	}
}
