package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

func healthy(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name        string
		flow        checkFunc
		csrf        checkFunc
		wantStatus  int
		wantHealth  string
		wantDetails map[string]any
	}{
		{
			name:       "all healthy",
			flow:       healthy,
			csrf:       healthy,
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
			wantDetails: map[string]any{
				"device_flow": map[string]any{"status": "healthy"},
				"csrf":        map[string]any{"status": "healthy"},
			},
		},
		{
			name: "store down",
			flow: func(context.Context) error {
				return errors.New("redis connection refused")
			},
			csrf:       healthy,
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: "unhealthy",
			wantDetails: map[string]any{
				"device_flow": map[string]any{"status": "unhealthy", "message": "redis connection refused"},
				"csrf":        map[string]any{"status": "healthy"},
			},
		},
		{
			name: "csrf down",
			flow: healthy,
			csrf: func(context.Context) error {
				return errors.New("csrf store unavailable")
			},
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: "unhealthy",
			wantDetails: map[string]any{
				"device_flow": map[string]any{"status": "healthy"},
				"csrf":        map[string]any{"status": "unhealthy", "message": "csrf store unavailable"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := New(tt.flow).WithVersion("1.2.3").WithCheck("csrf", tt.csrf)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}

			var resp Response
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Status != tt.wantHealth {
				t.Errorf("health status = %q, want %q", resp.Status, tt.wantHealth)
			}
			if resp.Version != "1.2.3" {
				t.Errorf("version = %q", resp.Version)
			}
			if diff := cmp.Diff(tt.wantDetails, resp.Details); diff != "" {
				t.Errorf("details mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
