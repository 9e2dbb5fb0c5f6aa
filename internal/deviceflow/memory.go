package deviceflow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It is intended for single
// instance deployments and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	byDevice  map[string]*Record
	byUser    map[string]string // user code -> device code
	callbacks map[string]string // client id -> callback uri
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byDevice:  make(map[string]*Record),
		byUser:    make(map[string]string),
		callbacks: make(map[string]string),
	}
}

// Create inserts a copy of rec
func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byDevice[rec.DeviceCode]; ok {
		return ErrDuplicateCode
	}
	if _, ok := s.byUser[rec.UserCode]; ok {
		return ErrDuplicateCode
	}

	cp := *rec
	cp.CallbackURI = ""
	s.byDevice[rec.DeviceCode] = &cp
	s.byUser[rec.UserCode] = rec.DeviceCode
	return nil
}

// FindByDeviceCode returns a copy of the record
func (s *MemoryStore) FindByDeviceCode(_ context.Context, deviceCode string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot(deviceCode)
}

// FindByUserCode returns a copy of the record
func (s *MemoryStore) FindByUserCode(_ context.Context, userCode string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deviceCode, ok := s.byUser[userCode]
	if !ok {
		return nil, ErrNotFound
	}
	return s.snapshot(deviceCode)
}

func (s *MemoryStore) snapshot(deviceCode string) (*Record, error) {
	rec, ok := s.byDevice[deviceCode]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	cp.CallbackURI = s.callbacks[rec.ClientID]
	return &cp, nil
}

// CompareAndSetStatus applies upd under the store lock
func (s *MemoryStore) CompareAndSetStatus(_ context.Context, key Key, upd StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode := key.DeviceCode
	if deviceCode == "" {
		var ok bool
		if deviceCode, ok = s.byUser[key.UserCode]; !ok {
			return false, nil
		}
	}

	rec, ok := s.byDevice[deviceCode]
	if !ok || !upd.applies(rec) {
		return false, nil
	}

	rec.Status = upd.Next
	if upd.Next == StatusAuthorized {
		rec.AuthorizedUser = upd.AuthorizedUser
	}
	return true, nil
}

// UpdateLastPollAt sets the poll time on an existing record
func (s *MemoryStore) UpdateLastPollAt(_ context.Context, deviceCode string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.byDevice[deviceCode]; ok {
		rec.LastPollAt = at
	}
	return nil
}

// SetCallbackURI records uri for the client
func (s *MemoryStore) SetCallbackURI(_ context.Context, clientID, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uri == "" {
		delete(s.callbacks, clientID)
		return nil
	}
	s.callbacks[clientID] = uri
	return nil
}

// CallbackURI returns the client's callback uri
func (s *MemoryStore) CallbackURI(_ context.Context, clientID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.callbacks[clientID], nil
}

// CheckHealth always succeeds
func (s *MemoryStore) CheckHealth(context.Context) error {
	return nil
}

// applies reports whether the update may be applied to rec
func (u StatusUpdate) applies(rec *Record) bool {
	if rec.Status != u.Expected {
		return false
	}
	if !u.ValidAt.IsZero() && rec.ExpiresAt.Before(u.ValidAt) {
		return false
	}
	return true
}
