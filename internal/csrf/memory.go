package csrf

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// expiredGrace keeps lapsed tokens long enough to report them as expired rather than unknown
const expiredGrace = time.Minute

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore keeps tokens in process memory for single instance deployments
type MemoryStore struct {
	mu     sync.Mutex
	tokens *cache.Cache
}

// NewMemoryStore creates an in-memory token store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: cache.New(time.Hour, 10*time.Minute)}
}

// SaveToken stores a CSRF token with expiration
func (s *MemoryStore) SaveToken(_ context.Context, token, value string, expiresIn time.Duration) error {
	ttl := expiresIn + expiredGrace
	if ttl <= 0 {
		ttl = expiredGrace
	}
	s.tokens.Set(token, entry{value: value, expiresAt: time.Now().Add(expiresIn)}, ttl)
	return nil
}

// ValidateToken checks if a token exists and has not expired
func (s *MemoryStore) ValidateToken(_ context.Context, token string) error {
	_, err := s.lookup(token)
	return err
}

// ConsumeToken removes the token and returns its value
func (s *MemoryStore) ConsumeToken(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(token)
	if err != nil {
		return "", err
	}
	s.tokens.Delete(token)
	return e.value, nil
}

// CheckHealth always succeeds
func (s *MemoryStore) CheckHealth(context.Context) error {
	return nil
}

func (s *MemoryStore) lookup(token string) (entry, error) {
	v, ok := s.tokens.Get(token)
	if !ok {
		return entry{}, ErrInvalidToken
	}
	e := v.(entry)
	if time.Now().After(e.expiresAt) {
		return entry{}, ErrTokenExpired
	}
	return e, nil
}
