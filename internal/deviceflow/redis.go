package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	devicePrefix   = "deviceflow:device:"
	userPrefix     = "deviceflow:user:"
	callbackPrefix = "deviceflow:callback:"

	// DefaultRetention keeps resolved and expired records readable past their deadline
	DefaultRetention = 24 * time.Hour

	maxTxAttempts = 10
)

// touchScript records a poll time only on a record that still exists
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], 'last_poll_at_ms', ARGV[1])
	return 1
end
return 0
`)

// redisRecord is the hash layout of a record
type redisRecord struct {
	ID             string `redis:"id"`
	DeviceCode     string `redis:"device_code"`
	UserCode       string `redis:"user_code"`
	ClientID       string `redis:"client_id"`
	Scope          string `redis:"scope"`
	Status         string `redis:"status"`
	CreatedAtMs    int64  `redis:"created_at_ms"`
	ExpiresAtMs    int64  `redis:"expires_at_ms"`
	Interval       int    `redis:"interval"`
	LastPollAtMs   int64  `redis:"last_poll_at_ms"`
	AuthorizedUser string `redis:"authorized_user"`
}

func toRedisRecord(rec *Record) *redisRecord {
	rr := &redisRecord{
		ID:             rec.ID,
		DeviceCode:     rec.DeviceCode,
		UserCode:       rec.UserCode,
		ClientID:       rec.ClientID,
		Scope:          rec.Scope,
		Status:         string(rec.Status),
		CreatedAtMs:    rec.CreatedAt.UnixMilli(),
		ExpiresAtMs:    rec.ExpiresAt.UnixMilli(),
		Interval:       rec.IntervalSeconds,
		AuthorizedUser: rec.AuthorizedUser,
	}
	if !rec.LastPollAt.IsZero() {
		rr.LastPollAtMs = rec.LastPollAt.UnixMilli()
	}
	return rr
}

func (rr *redisRecord) record() *Record {
	rec := &Record{
		ID:              rr.ID,
		DeviceCode:      rr.DeviceCode,
		UserCode:        rr.UserCode,
		ClientID:        rr.ClientID,
		Scope:           rr.Scope,
		Status:          Status(rr.Status),
		CreatedAt:       time.UnixMilli(rr.CreatedAtMs),
		ExpiresAt:       time.UnixMilli(rr.ExpiresAtMs),
		IntervalSeconds: rr.Interval,
		AuthorizedUser:  rr.AuthorizedUser,
	}
	if rr.LastPollAtMs > 0 {
		rec.LastPollAt = time.UnixMilli(rr.LastPollAtMs)
	}
	return rec
}

// RedisStore implements the Store interface using Redis.
// Each record is a hash keyed by device code with a user code index key.
// Status transitions use WATCH/MULTI optimistic transactions.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-backed store. Keys live until the record's
// deadline plus retention.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, retention: retention}
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storageError("health", fmt.Errorf("redis health check failed: %w", err))
	}
	return nil
}

// Create stores both keys only if neither code is taken
func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	deviceKey := devicePrefix + rec.DeviceCode
	userKey := userPrefix + rec.UserCode
	ttl := s.ttl(rec)

	return s.transact(ctx, "create", func() error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, deviceKey, userKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrDuplicateCode
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, deviceKey, toRedisRecord(rec))
				pipe.PExpire(ctx, deviceKey, ttl)
				pipe.Set(ctx, userKey, rec.DeviceCode, ttl)
				return nil
			})
			return err
		}, deviceKey, userKey)
	})
}

// FindByDeviceCode loads a record and its client's callback uri
func (s *RedisStore) FindByDeviceCode(ctx context.Context, deviceCode string) (*Record, error) {
	rec, err := load(ctx, s.client, devicePrefix+deviceCode)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storageError("find by device code", err)
	}
	if rec.CallbackURI, err = s.CallbackURI(ctx, rec.ClientID); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindByUserCode resolves the user code index then loads the record
func (s *RedisStore) FindByUserCode(ctx context.Context, userCode string) (*Record, error) {
	deviceCode, err := s.client.Get(ctx, userPrefix+userCode).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("find by user code", err)
	}
	return s.FindByDeviceCode(ctx, deviceCode)
}

// CompareAndSetStatus applies upd inside a WATCH transaction on the record
func (s *RedisStore) CompareAndSetStatus(ctx context.Context, key Key, upd StatusUpdate) (bool, error) {
	deviceCode := key.DeviceCode
	if deviceCode == "" {
		dc, err := s.client.Get(ctx, userPrefix+key.UserCode).Result()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, storageError("compare and set", err)
		}
		deviceCode = dc
	}
	deviceKey := devicePrefix + deviceCode

	var applied bool
	err := s.transact(ctx, "compare and set", func() error {
		applied = false
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := load(ctx, tx, deviceKey)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !upd.applies(rec) {
				return nil
			}

			fields := []any{"status", string(upd.Next)}
			if upd.Next == StatusAuthorized {
				fields = append(fields, "authorized_user", upd.AuthorizedUser)
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, deviceKey, fields...)
				return nil
			}); err != nil {
				return err
			}
			applied = true
			return nil
		}, deviceKey)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// UpdateLastPollAt records the poll time without recreating a missing record
func (s *RedisStore) UpdateLastPollAt(ctx context.Context, deviceCode string, at time.Time) error {
	if err := touchScript.Run(ctx, s.client, []string{devicePrefix + deviceCode}, at.UnixMilli()).Err(); err != nil {
		return storageError("update last poll", err)
	}
	return nil
}

// SetCallbackURI records uri for the client; an empty uri clears it
func (s *RedisStore) SetCallbackURI(ctx context.Context, clientID, uri string) error {
	var err error
	if uri == "" {
		err = s.client.Del(ctx, callbackPrefix+clientID).Err()
	} else {
		err = s.client.Set(ctx, callbackPrefix+clientID, uri, 0).Err()
	}
	if err != nil {
		return storageError("set callback uri", err)
	}
	return nil
}

// CallbackURI returns the client's callback uri
func (s *RedisStore) CallbackURI(ctx context.Context, clientID string) (string, error) {
	uri, err := s.client.Get(ctx, callbackPrefix+clientID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", storageError("get callback uri", err)
	}
	return uri, nil
}

// transact runs fn, retrying when a watched key changed underneath it
func (s *RedisStore) transact(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := fn()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			if ctx.Err() != nil {
				return storageError(op, ctx.Err())
			}
			continue
		case errors.Is(err, ErrDuplicateCode):
			return err
		default:
			return storageError(op, err)
		}
	}
	return storageError(op, fmt.Errorf("%w after %d attempts", redis.TxFailedErr, maxTxAttempts))
}

// ttl is the record's lifetime on its own clock plus retention
func (s *RedisStore) ttl(rec *Record) time.Duration {
	lifetime := rec.ExpiresAt.Sub(rec.CreatedAt)
	if lifetime < 0 {
		lifetime = 0
	}
	return lifetime + s.retention
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func load(ctx context.Context, r hashReader, key string) (*Record, error) {
	cmd := r.HGetAll(ctx, key)
	fields, err := cmd.Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	var rr redisRecord
	if err := cmd.Scan(&rr); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return rr.record(), nil
}
