// Package deviceflow implements OAuth 2.0 Device Authorization Grant per RFC 8628
package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wrale/device-grant/internal/validation"
)

const (
	// DefaultExpiryDuration is the lifetime of a device code
	DefaultExpiryDuration = 15 * time.Minute

	// DefaultPollInterval is the minimum interval between polling requests per RFC 8628 section 3.5
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxCreateAttempts bounds regeneration after a code collision
	DefaultMaxCreateAttempts = 5
)

// Service is the device flow as seen by the transport layer
type Service interface {
	InitiateDeviceFlow(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error)
	PollDeviceFlow(ctx context.Context, deviceCode, clientID string) (*PollResult, error)
	LookupUserCode(ctx context.Context, userCode string) (*VerificationPrompt, error)
	SubmitVerification(ctx context.Context, userCode string, decision Decision, approvingUser string) (*VerificationResult, error)
	SetCallbackURI(ctx context.Context, clientID, uri string) error
	CallbackURI(ctx context.Context, clientID string) (string, error)
	CheckHealth(ctx context.Context) error
}

// Recorder observes state machine activity, typically for metrics
type Recorder interface {
	PollOutcome(outcome PollOutcome)
	Transition(from, to Status)
	CodeCollision()
}

type nopRecorder struct{}

func (nopRecorder) PollOutcome(PollOutcome)  {}
func (nopRecorder) Transition(Status, Status) {}
func (nopRecorder) CodeCollision()            {}

// ClientRegistry answers whether an OAuth client may start a device flow
type ClientRegistry interface {
	Exists(ctx context.Context, clientID string) (bool, error)
}

// Flow is the device flow state machine. It holds no per-request state.
type Flow struct {
	store             Store
	generator         *Generator
	clients           ClientRegistry
	recorder          Recorder
	logger            *slog.Logger
	clock             Clock
	random            io.Reader
	baseURL           string
	expiryDuration    time.Duration
	pollInterval      time.Duration
	userCodeLength    int
	maxCreateAttempts int
}

var _ Service = (*Flow)(nil)

// NewFlow creates a new device flow manager with provided options
func NewFlow(store Store, baseURL string, opts ...Option) *Flow {
	f := &Flow{
		store:             store,
		recorder:          nopRecorder{},
		logger:            slog.Default(),
		clock:             time.Now,
		baseURL:           baseURL,
		expiryDuration:    DefaultExpiryDuration,
		pollInterval:      DefaultPollInterval,
		userCodeLength:    DefaultUserCodeLength,
		maxCreateAttempts: DefaultMaxCreateAttempts,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.expiryDuration <= 0 {
		f.expiryDuration = DefaultExpiryDuration
	}
	// Intervals are whole seconds on the wire
	if f.pollInterval < time.Second {
		f.pollInterval = DefaultPollInterval
	}
	f.generator = NewGenerator(f.random, f.userCodeLength)

	return f
}

// now returns the clock truncated to the millisecond precision of stored deadlines
func (f *Flow) now() time.Time {
	return f.clock().Truncate(time.Millisecond)
}

// InitiateDeviceFlow starts a new device authorization per RFC 8628 section 3.1
func (f *Flow) InitiateDeviceFlow(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: empty client id", ErrUnknownClient)
	}
	if f.clients != nil {
		ok, err := f.clients.Exists(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("checking client: %w", err)
		}
		if !ok {
			return nil, ErrUnknownClient
		}
	}

	now := f.now()
	expiresAt := now.Add(f.expiryDuration)
	interval := int(f.pollInterval / time.Second)

	for attempt := 0; attempt < f.maxCreateAttempts; attempt++ {
		deviceCode, userCode, err := f.generator.Generate()
		if err != nil {
			return nil, err
		}

		rec := &Record{
			ID:              uuid.NewString(),
			DeviceCode:      deviceCode,
			UserCode:        userCode,
			ClientID:        clientID,
			Scope:           strings.TrimSpace(scope),
			Status:          StatusPending,
			CreatedAt:       now,
			ExpiresAt:       expiresAt,
			IntervalSeconds: interval,
		}
		if err := f.store.Create(ctx, rec); err != nil {
			if errors.Is(err, ErrDuplicateCode) {
				f.recorder.CodeCollision()
				f.logger.WarnContext(ctx, "device flow code collision", "attempt", attempt+1)
				continue
			}
			return nil, err
		}

		verificationURI, verificationURIComplete := verificationURIs(f.baseURL, userCode)
		f.logger.InfoContext(ctx, "device flow initiated",
			"client_id", clientID, "record_id", rec.ID, "expires_at", expiresAt)

		return &DeviceAuthorization{
			DeviceCode:              deviceCode,
			UserCode:                validation.FormatCode(userCode),
			VerificationURI:         verificationURI,
			VerificationURIComplete: verificationURIComplete,
			ExpiresIn:               int(f.expiryDuration.Seconds()),
			Interval:                interval,
			ExpiresAt:               expiresAt,
			ClientID:                clientID,
			Scope:                   rec.Scope,
		}, nil
	}

	return nil, &StorageError{
		Op:  "create",
		Err: fmt.Errorf("%w after %d attempts", ErrDuplicateCode, f.maxCreateAttempts),
	}
}

// observe applies lazy expiry to rec and returns the status the caller must act on.
// A pending record past its deadline is reported expired whether or not this call
// won the race to persist it.
func (f *Flow) observe(ctx context.Context, rec *Record, key Key, now time.Time) Status {
	if rec.Status != StatusPending || !rec.Expired(now) {
		return rec.Status
	}

	ok, err := f.store.CompareAndSetStatus(ctx, key, StatusUpdate{
		Expected: StatusPending,
		Next:     StatusExpired,
	})
	switch {
	case err != nil:
		f.logger.WarnContext(ctx, "expiry not persisted", "key", key.String(), "error", err)
	case ok:
		f.recorder.Transition(StatusPending, StatusExpired)
		f.logger.InfoContext(ctx, "device flow expired", "record_id", rec.ID)
	}

	rec.Status = StatusExpired
	return StatusExpired
}

// SetCallbackURI records the redirect target used after verification for a client
func (f *Flow) SetCallbackURI(ctx context.Context, clientID, uri string) error {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return fmt.Errorf("%w: empty client id", ErrUnknownClient)
	}
	if err := f.store.SetCallbackURI(ctx, clientID, strings.TrimSpace(uri)); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "callback uri updated", "client_id", clientID)
	return nil
}

// CallbackURI returns the client's callback URI, or "" when none is recorded
func (f *Flow) CallbackURI(ctx context.Context, clientID string) (string, error) {
	return f.store.CallbackURI(ctx, strings.TrimSpace(clientID))
}

// CheckHealth verifies the flow manager's storage backend is healthy
func (f *Flow) CheckHealth(ctx context.Context) error {
	return f.store.CheckHealth(ctx)
}
