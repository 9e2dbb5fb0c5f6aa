package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// StoreSuite exercises the behaviour every Store implementation must share
type StoreSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	now      time.Time
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore()
	s.now = time.Now().Truncate(time.Millisecond)
}

func (s *StoreSuite) makeRecord(userCode string) *Record {
	return &Record{
		ID:              uuid.NewString(),
		DeviceCode:      uuid.NewString(),
		UserCode:        userCode,
		ClientID:        "client-" + userCode,
		Scope:           "read write",
		Status:          StatusPending,
		CreatedAt:       s.now,
		ExpiresAt:       s.now.Add(10 * time.Minute),
		IntervalSeconds: 5,
	}
}

func (s *StoreSuite) create(userCode string) *Record {
	rec := s.makeRecord(userCode)
	s.Require().NoError(s.store.Create(context.Background(), rec))
	return rec
}

func (s *StoreSuite) assertSameRecord(want, got *Record) {
	s.Equal(want.ID, got.ID)
	s.Equal(want.DeviceCode, got.DeviceCode)
	s.Equal(want.UserCode, got.UserCode)
	s.Equal(want.ClientID, got.ClientID)
	s.Equal(want.Scope, got.Scope)
	s.Equal(want.Status, got.Status)
	s.Equal(want.IntervalSeconds, got.IntervalSeconds)
	s.True(want.CreatedAt.Equal(got.CreatedAt), "created at %v != %v", want.CreatedAt, got.CreatedAt)
	s.True(want.ExpiresAt.Equal(got.ExpiresAt), "expires at %v != %v", want.ExpiresAt, got.ExpiresAt)
	s.True(got.LastPollAt.IsZero())
	s.Empty(got.AuthorizedUser)
}

func (s *StoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	rec := s.create("BCDFGHJK")

	byDevice, err := s.store.FindByDeviceCode(ctx, rec.DeviceCode)
	s.Require().NoError(err)
	s.assertSameRecord(rec, byDevice)

	byUser, err := s.store.FindByUserCode(ctx, rec.UserCode)
	s.Require().NoError(err)
	s.assertSameRecord(rec, byUser)
}

func (s *StoreSuite) TestFindMissing() {
	ctx := context.Background()

	_, err := s.store.FindByDeviceCode(ctx, "missing")
	s.ErrorIs(err, ErrNotFound)

	_, err = s.store.FindByUserCode(ctx, "MISSINGX")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestCreateDuplicateCodes() {
	ctx := context.Background()
	rec := s.create("BCDFGHJK")

	sameDevice := s.makeRecord("LMNPQRST")
	sameDevice.DeviceCode = rec.DeviceCode
	s.ErrorIs(s.store.Create(ctx, sameDevice), ErrDuplicateCode)

	sameUser := s.makeRecord(rec.UserCode)
	s.ErrorIs(s.store.Create(ctx, sameUser), ErrDuplicateCode)

	// The rejected inserts left nothing behind
	_, err := s.store.FindByUserCode(ctx, "LMNPQRST")
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.FindByDeviceCode(ctx, sameUser.DeviceCode)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestConcurrentCreateSameCode() {
	const writers = 16

	tests := map[string]func(i int, rec *Record){
		"device code": func(i int, rec *Record) {
			rec.DeviceCode = "shared-device-code"
			rec.UserCode = fmt.Sprintf("USER%04d", i)
		},
		"user code": func(_ int, rec *Record) {
			rec.UserCode = "SHAREDCD"
		},
	}

	for name, share := range tests {
		s.Run(name, func() {
			ctx := context.Background()

			var created, duplicates atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				rec := s.makeRecord("")
				share(i, rec)
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.store.Create(ctx, rec)
					switch {
					case err == nil:
						created.Add(1)
					case errors.Is(err, ErrDuplicateCode):
						duplicates.Add(1)
					default:
						s.Fail("unexpected create error", "%v", err)
					}
				}()
			}
			wg.Wait()

			s.Equal(int32(1), created.Load(), "exactly one writer wins")
			s.Equal(int32(writers-1), duplicates.Load())
		})
	}
}

func (s *StoreSuite) TestCompareAndSetStatus() {
	ctx := context.Background()
	rec := s.create("BCDFGHJK")

	ok, err := s.store.CompareAndSetStatus(ctx, ByUserCode(rec.UserCode), StatusUpdate{
		Expected:       StatusPending,
		Next:           StatusAuthorized,
		AuthorizedUser: "alice",
		ValidAt:        s.now,
	})
	s.Require().NoError(err)
	s.True(ok)

	got, err := s.store.FindByDeviceCode(ctx, rec.DeviceCode)
	s.Require().NoError(err)
	s.Equal(StatusAuthorized, got.Status)
	s.Equal("alice", got.AuthorizedUser)

	// Expected status no longer matches
	ok, err = s.store.CompareAndSetStatus(ctx, ByDeviceCode(rec.DeviceCode), StatusUpdate{
		Expected: StatusPending,
		Next:     StatusDenied,
	})
	s.Require().NoError(err)
	s.False(ok)

	got, err = s.store.FindByUserCode(ctx, rec.UserCode)
	s.Require().NoError(err)
	s.Equal(StatusAuthorized, got.Status)
}

func (s *StoreSuite) TestCompareAndSetStatusDenyLeavesNoUser() {
	ctx := context.Background()
	rec := s.create("BCDFGHJK")

	ok, err := s.store.CompareAndSetStatus(ctx, ByDeviceCode(rec.DeviceCode), StatusUpdate{
		Expected:       StatusPending,
		Next:           StatusDenied,
		AuthorizedUser: "ignored",
	})
	s.Require().NoError(err)
	s.True(ok)

	got, err := s.store.FindByDeviceCode(ctx, rec.DeviceCode)
	s.Require().NoError(err)
	s.Equal(StatusDenied, got.Status)
	s.Empty(got.AuthorizedUser)
}

func (s *StoreSuite) TestCompareAndSetStatusMissing() {
	ctx := context.Background()

	for _, key := range []Key{ByDeviceCode("missing"), ByUserCode("MISSINGX")} {
		ok, err := s.store.CompareAndSetStatus(ctx, key, StatusUpdate{Expected: StatusPending, Next: StatusExpired})
		s.Require().NoError(err)
		s.False(ok, key.String())
	}
}

func (s *StoreSuite) TestCompareAndSetStatusDeadlineGuard() {
	ctx := context.Background()
	rec := s.create("BCDFGHJK")

	ok, err := s.store.CompareAndSetStatus(ctx, ByUserCode(rec.UserCode), StatusUpdate{
		Expected:       StatusPending,
		Next:           StatusAuthorized,
		AuthorizedUser: "alice",
		ValidAt:        rec.ExpiresAt.Add(time.Millisecond),
	})
	s.Require().NoError(err)
	s.False(ok)

	// Exactly at the deadline is still in time
	ok, err = s.store.CompareAndSetStatus(ctx, ByUserCode(rec.UserCode), StatusUpdate{
		Expected:       StatusPending,
		Next:           StatusAuthorized,
		AuthorizedUser: "alice",
		ValidAt:        rec.ExpiresAt,
	})
	s.Require().NoError(err)
	s.True(ok)
}

func (s *StoreSuite) TestCompareAndSetStatusConcurrent() {
	ctx := context.Background()
	rec := s.create("BCDFGHJK")

	const workers = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next, key := StatusAuthorized, ByDeviceCode(rec.DeviceCode)
			if i%2 == 1 {
				next, key = StatusDenied, ByUserCode(rec.UserCode)
			}
			ok, err := s.store.CompareAndSetStatus(ctx, key, StatusUpdate{
				Expected:       StatusPending,
				Next:           next,
				AuthorizedUser: "alice",
			})
			s.NoError(err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one transition should apply")
}

func (s *StoreSuite) TestUpdateLastPollAt() {
	ctx := context.Background()
	rec := s.create("BCDFGHJK")
	at := s.now.Add(7 * time.Second)

	s.Require().NoError(s.store.UpdateLastPollAt(ctx, rec.DeviceCode, at))

	got, err := s.store.FindByDeviceCode(ctx, rec.DeviceCode)
	s.Require().NoError(err)
	s.True(at.Equal(got.LastPollAt), "last poll %v != %v", at, got.LastPollAt)
	s.Equal(StatusPending, got.Status)

	// Never creates a record
	s.Require().NoError(s.store.UpdateLastPollAt(ctx, "missing", at))
	_, err = s.store.FindByDeviceCode(ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestCallbackURI() {
	ctx := context.Background()
	rec := s.create("BCDFGHJK")

	uri, err := s.store.CallbackURI(ctx, rec.ClientID)
	s.Require().NoError(err)
	s.Empty(uri)

	s.Require().NoError(s.store.SetCallbackURI(ctx, rec.ClientID, "https://first.example.com"))
	s.Require().NoError(s.store.SetCallbackURI(ctx, rec.ClientID, "https://app.example.com/done"))

	uri, err = s.store.CallbackURI(ctx, rec.ClientID)
	s.Require().NoError(err)
	s.Equal("https://app.example.com/done", uri)

	got, err := s.store.FindByUserCode(ctx, rec.UserCode)
	s.Require().NoError(err)
	s.Equal("https://app.example.com/done", got.CallbackURI)

	s.Require().NoError(s.store.SetCallbackURI(ctx, rec.ClientID, ""))
	uri, err = s.store.CallbackURI(ctx, rec.ClientID)
	s.Require().NoError(err)
	s.Empty(uri)
}

func (s *StoreSuite) TestCheckHealth() {
	s.NoError(s.store.CheckHealth(context.Background()))
}
