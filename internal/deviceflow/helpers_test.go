package deviceflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errStoreUnhealthy = errors.New("store unhealthy")

// testClock is a manually advanced clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore wraps a MemoryStore with injectable failures
type faultyStore struct {
	*MemoryStore

	mu          sync.Mutex
	duplicates  int   // Create returns ErrDuplicateCode this many times
	createErr   error // Create fails with this error
	findErr     error
	casErr      error
	touchErr    error
	beforeCAS   func() // runs before each CompareAndSetStatus
	createCalls int
	touchCalls  int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: NewMemoryStore()}
}

func (s *faultyStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	s.createCalls++
	if s.duplicates > 0 {
		s.duplicates--
		s.mu.Unlock()
		return ErrDuplicateCode
	}
	err := s.createErr
	s.mu.Unlock()
	if err != nil {
		return storageError("create", err)
	}
	return s.MemoryStore.Create(ctx, rec)
}

func (s *faultyStore) FindByDeviceCode(ctx context.Context, deviceCode string) (*Record, error) {
	if s.findErr != nil {
		return nil, storageError("find", s.findErr)
	}
	return s.MemoryStore.FindByDeviceCode(ctx, deviceCode)
}

func (s *faultyStore) FindByUserCode(ctx context.Context, userCode string) (*Record, error) {
	if s.findErr != nil {
		return nil, storageError("find", s.findErr)
	}
	return s.MemoryStore.FindByUserCode(ctx, userCode)
}

func (s *faultyStore) CompareAndSetStatus(ctx context.Context, key Key, upd StatusUpdate) (bool, error) {
	s.mu.Lock()
	hook := s.beforeCAS
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if s.casErr != nil {
		return false, storageError("compare and set", s.casErr)
	}
	return s.MemoryStore.CompareAndSetStatus(ctx, key, upd)
}

func (s *faultyStore) UpdateLastPollAt(ctx context.Context, deviceCode string, at time.Time) error {
	s.mu.Lock()
	s.touchCalls++
	s.mu.Unlock()
	if s.touchErr != nil {
		return storageError("update last poll", s.touchErr)
	}
	return s.MemoryStore.UpdateLastPollAt(ctx, deviceCode, at)
}

func (s *faultyStore) CheckHealth(ctx context.Context) error {
	if s.findErr != nil {
		return storageError("health", errStoreUnhealthy)
	}
	return nil
}

// countingRecorder tallies Recorder callbacks
type countingRecorder struct {
	mu          sync.Mutex
	outcomes    map[PollOutcome]int
	transitions map[Status]int
	collisions  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		outcomes:    make(map[PollOutcome]int),
		transitions: make(map[Status]int),
	}
}

func (r *countingRecorder) PollOutcome(o PollOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o]++
}

func (r *countingRecorder) Transition(_, to Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions[to]++
}

func (r *countingRecorder) CodeCollision() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collisions++
}

// registryFunc adapts a function to ClientRegistry
type registryFunc func(ctx context.Context, clientID string) (bool, error)

func (f registryFunc) Exists(ctx context.Context, clientID string) (bool, error) {
	return f(ctx, clientID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestFlow builds a flow with a 5 second interval and 30 second expiry
func newTestFlow(store Store, clock *testClock, opts ...Option) *Flow {
	base := []Option{
		WithClock(clock.Now),
		WithPollInterval(5 * time.Second),
		WithExpiryDuration(30 * time.Second),
		WithLogger(discardLogger()),
	}
	return NewFlow(store, "https://example.com", append(base, opts...)...)
}

// initiate starts a flow for test-client and fails the test on error
func initiate(t *testing.T, f *Flow) *DeviceAuthorization {
	t.Helper()
	auth, err := f.InitiateDeviceFlow(context.Background(), "test-client", "read write")
	if err != nil {
		t.Fatalf("InitiateDeviceFlow() error = %v", err)
	}
	return auth
}

func poll(t *testing.T, f *Flow, deviceCode string) *PollResult {
	t.Helper()
	res, err := f.PollDeviceFlow(context.Background(), deviceCode, "")
	if err != nil {
		t.Fatalf("PollDeviceFlow() error = %v", err)
	}
	return res
}
