package deviceflow

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/wrale/device-grant/internal/validation"
)

func TestInitiateDeviceFlow(t *testing.T) {
	tests := []struct {
		name      string
		clientID  string
		scope     string
		registry  ClientRegistry
		createErr error
		wantErr   error
		wantStore bool // error must be a StorageError
		checkAuth func(*testing.T, *DeviceAuthorization)
	}{
		{
			name:     "success without scope",
			clientID: "test-client",
			checkAuth: func(t *testing.T, auth *DeviceAuthorization) {
				if auth.ClientID != "test-client" {
					t.Errorf("expected client ID %q, got %q", "test-client", auth.ClientID)
				}
				if auth.Scope != "" {
					t.Errorf("expected empty scope, got %q", auth.Scope)
				}
				if auth.VerificationURI != "https://example.com/device" {
					t.Errorf("unexpected verification URI %q", auth.VerificationURI)
				}
				if want := auth.VerificationURI + "?code=" + auth.UserCode; auth.VerificationURIComplete != want {
					t.Errorf("complete URI: got %q, want %q", auth.VerificationURIComplete, want)
				}
				if auth.Interval != 5 {
					t.Errorf("expected interval 5, got %d", auth.Interval)
				}
				if auth.ExpiresIn != 30 {
					t.Errorf("expected expires_in 30, got %d", auth.ExpiresIn)
				}
			},
		},
		{
			name:     "success with scope",
			clientID: "test-client",
			scope:    " read write ",
			checkAuth: func(t *testing.T, auth *DeviceAuthorization) {
				if auth.Scope != "read write" {
					t.Errorf("expected scope %q, got %q", "read write", auth.Scope)
				}
			},
		},
		{
			name:     "empty client id",
			clientID: "  ",
			wantErr:  ErrUnknownClient,
		},
		{
			name:     "unregistered client",
			clientID: "rogue",
			registry: registryFunc(func(context.Context, string) (bool, error) { return false, nil }),
			wantErr:  ErrUnknownClient,
		},
		{
			name:     "registry failure",
			clientID: "test-client",
			registry: registryFunc(func(context.Context, string) (bool, error) { return false, errStoreUnhealthy }),
			wantErr:  errStoreUnhealthy,
		},
		{
			name:      "store error",
			clientID:  "test-client",
			createErr: errStoreUnhealthy,
			wantErr:   errStoreUnhealthy,
			wantStore: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			store := newFaultyStore()
			store.createErr = tt.createErr

			var opts []Option
			if tt.registry != nil {
				opts = append(opts, WithClientRegistry(tt.registry))
			}
			flow := newTestFlow(store, clock, opts...)

			auth, err := flow.InitiateDeviceFlow(context.Background(), tt.clientID, tt.scope)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				if tt.wantStore && !IsStorageError(err) {
					t.Errorf("expected a storage error, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(auth.DeviceCode) != 64 {
				t.Errorf("unexpected device code length: got %d", len(auth.DeviceCode))
			}
			if err := validation.ValidateUserCode(auth.UserCode); err != nil {
				t.Errorf("issued user code %q is invalid: %v", auth.UserCode, err)
			}
			if !strings.Contains(auth.UserCode, "-") {
				t.Error("user code should be in display format")
			}
			if tt.checkAuth != nil {
				tt.checkAuth(t, auth)
			}

			rec, err := store.FindByDeviceCode(context.Background(), auth.DeviceCode)
			if err != nil {
				t.Fatalf("record not stored: %v", err)
			}
			want := &Record{
				ID:              rec.ID,
				DeviceCode:      auth.DeviceCode,
				UserCode:        validation.NormalizeCode(auth.UserCode),
				ClientID:        auth.ClientID,
				Scope:           auth.Scope,
				Status:          StatusPending,
				CreatedAt:       clock.Now(),
				ExpiresAt:       clock.Now().Add(30 * time.Second),
				IntervalSeconds: 5,
			}
			if diff := cmp.Diff(want, rec); diff != "" {
				t.Errorf("stored record mismatch (-want +got):\n%s", diff)
			}
			if rec.ID == "" {
				t.Error("record id should be assigned")
			}

			byUser, err := store.FindByUserCode(context.Background(), validation.NormalizeCode(auth.UserCode))
			if err != nil || byUser.DeviceCode != auth.DeviceCode {
				t.Errorf("record not reachable by user code: %v", err)
			}
		})
	}
}

func TestInitiateDeviceFlowRetriesCollisions(t *testing.T) {
	tests := []struct {
		name       string
		duplicates int
		wantErr    bool
	}{
		{name: "first attempt", duplicates: 0},
		{name: "retry after collisions", duplicates: 4},
		{name: "attempts exhausted", duplicates: 5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFaultyStore()
			store.duplicates = tt.duplicates
			rec := newCountingRecorder()
			flow := newTestFlow(store, newTestClock(), WithRecorder(rec))

			_, err := flow.InitiateDeviceFlow(context.Background(), "test-client", "")
			if tt.wantErr {
				if !IsStorageError(err) || !errors.Is(err, ErrDuplicateCode) {
					t.Fatalf("expected storage error wrapping ErrDuplicateCode, got %v", err)
				}
				if store.createCalls != DefaultMaxCreateAttempts {
					t.Errorf("expected %d create attempts, got %d", DefaultMaxCreateAttempts, store.createCalls)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if rec.collisions != tt.duplicates {
				t.Errorf("expected %d collisions recorded, got %d", tt.duplicates, rec.collisions)
			}
		})
	}
}

func TestInitiateDeviceFlowUniqueCodes(t *testing.T) {
	flow := newTestFlow(NewMemoryStore(), newTestClock())

	seenDevice := make(map[string]bool)
	seenUser := make(map[string]bool)
	for i := 0; i < 200; i++ {
		auth := initiate(t, flow)
		if seenDevice[auth.DeviceCode] || seenUser[auth.UserCode] {
			t.Fatalf("duplicate code issued on iteration %d", i)
		}
		seenDevice[auth.DeviceCode] = true
		seenUser[auth.UserCode] = true
	}
}

// pairedReader hands out each device code twice in a row so concurrent
// initiations collide. User code bytes come from a fixed seed.
type pairedReader struct {
	mu    sync.Mutex
	draws int64
	rng   *rand.Rand
}

func (r *pairedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) == DeviceCodeBytes {
		seed := r.draws / 2
		r.draws++
		return rand.New(rand.NewSource(seed)).Read(p)
	}
	return r.rng.Read(p)
}

func TestInitiateDeviceFlowConcurrentCollisions(t *testing.T) {
	const clients = 16

	store := NewMemoryStore()
	recorder := newCountingRecorder()
	flow := newTestFlow(store, newTestClock(),
		WithRandom(&pairedReader{rng: rand.New(rand.NewSource(42))}),
		WithRecorder(recorder),
		// every pair of draws collides once, so no caller can lose more than clients times
		WithMaxCreateAttempts(2*clients),
	)

	auths := make([]*DeviceAuthorization, clients)
	var g errgroup.Group
	for i := range auths {
		g.Go(func() error {
			auth, err := flow.InitiateDeviceFlow(context.Background(), "test-client", "")
			auths[i] = auth
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("InitiateDeviceFlow() error = %v", err)
	}

	seenDevice := make(map[string]bool)
	seenUser := make(map[string]bool)
	for _, auth := range auths {
		if seenDevice[auth.DeviceCode] || seenUser[auth.UserCode] {
			t.Fatalf("code issued twice: %+v", auth)
		}
		seenDevice[auth.DeviceCode] = true
		seenUser[auth.UserCode] = true

		if _, err := store.FindByDeviceCode(context.Background(), auth.DeviceCode); err != nil {
			t.Errorf("issued device code not stored: %v", err)
		}
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.collisions < clients-1 {
		t.Errorf("collisions = %d, want at least %d", recorder.collisions, clients-1)
	}
}

func TestNewFlowDefaults(t *testing.T) {
	flow := NewFlow(NewMemoryStore(), "https://example.com",
		WithPollInterval(0),
		WithExpiryDuration(-time.Minute),
		WithLogger(discardLogger()),
	)

	if flow.pollInterval != DefaultPollInterval {
		t.Errorf("expected default poll interval, got %v", flow.pollInterval)
	}
	if flow.expiryDuration != DefaultExpiryDuration {
		t.Errorf("expected default expiry, got %v", flow.expiryDuration)
	}

	auth := initiate(t, flow)
	if auth.ExpiresIn != int(DefaultExpiryDuration.Seconds()) {
		t.Errorf("expected expires_in %d, got %d", int(DefaultExpiryDuration.Seconds()), auth.ExpiresIn)
	}
}

func TestCallbackURI(t *testing.T) {
	ctx := context.Background()
	flow := newTestFlow(NewMemoryStore(), newTestClock())

	if err := flow.SetCallbackURI(ctx, "", "https://app.example.com/done"); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("expected ErrUnknownClient for empty client, got %v", err)
	}

	if err := flow.SetCallbackURI(ctx, "test-client", "https://app.example.com/done"); err != nil {
		t.Fatalf("SetCallbackURI() error = %v", err)
	}
	got, err := flow.CallbackURI(ctx, "test-client")
	if err != nil {
		t.Fatalf("CallbackURI() error = %v", err)
	}
	if got != "https://app.example.com/done" {
		t.Errorf("got callback %q", got)
	}

	// Records of the client see the callback on read
	auth := initiate(t, flow)
	rec, err := flow.store.FindByDeviceCode(ctx, auth.DeviceCode)
	if err != nil {
		t.Fatal(err)
	}
	if rec.CallbackURI != "https://app.example.com/done" {
		t.Errorf("record callback = %q", rec.CallbackURI)
	}

	if got, _ := flow.CallbackURI(ctx, "other-client"); got != "" {
		t.Errorf("expected no callback for other client, got %q", got)
	}
}

func TestCheckHealth(t *testing.T) {
	store := newFaultyStore()
	flow := newTestFlow(store, newTestClock())

	if err := flow.CheckHealth(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	store.findErr = errStoreUnhealthy
	if err := flow.CheckHealth(context.Background()); !IsStorageError(err) {
		t.Errorf("expected storage error, got %v", err)
	}
}
