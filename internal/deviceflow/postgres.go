package deviceflow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	recordInsert = `INSERT INTO device_flows (
		id,
		device_code,
		user_code,
		client_id,
		scope,
		status,
		created_at_ms,
		expires_at_ms,
		interval_seconds
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	recordSelect = `SELECT f.id::TEXT, f.device_code, f.user_code, f.client_id, f.scope, f.status,
		f.created_at_ms, f.expires_at_ms, f.interval_seconds, f.last_poll_at_ms, f.authorized_user,
		COALESCE(c.callback_uri, '')
		FROM device_flows f
		LEFT JOIN client_callbacks c ON c.client_id = f.client_id`

	recordSelectByDevice = recordSelect + ` WHERE f.device_code = $1`
	recordSelectByUser   = recordSelect + ` WHERE f.user_code = $1`

	// $5 and $6 select the key column; exactly one is non-null
	statusUpdate = `UPDATE device_flows
		SET status = $2,
			authorized_user = CASE WHEN $2 = 'AUTHORIZED' THEN $3 ELSE authorized_user END
		WHERE status = $1
			AND ($4::BIGINT IS NULL OR expires_at_ms >= $4)
			AND (device_code = $5 OR user_code = $6)`

	lastPollUpdate = `UPDATE device_flows SET last_poll_at_ms = $2 WHERE device_code = $1`

	callbackUpsert = `INSERT INTO client_callbacks (client_id, callback_uri, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (client_id) DO UPDATE SET callback_uri = EXCLUDED.callback_uri, updated_at = NOW()`
	callbackDelete = `DELETE FROM client_callbacks WHERE client_id = $1`
	callbackSelect = `SELECT callback_uri FROM client_callbacks WHERE client_id = $1`
)

// PostgresStore implements the Store interface on PostgreSQL.
// The schema is managed by the migrations package.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an existing pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a record; unique violations on either code map to ErrDuplicateCode
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := s.pool.Exec(ctx, recordInsert,
		rec.ID,
		rec.DeviceCode,
		rec.UserCode,
		rec.ClientID,
		rec.Scope,
		string(rec.Status),
		rec.CreatedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		rec.IntervalSeconds,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCode
		}
		return storageError("create", err)
	}
	return nil
}

// FindByDeviceCode fetches a record by its device code
func (s *PostgresStore) FindByDeviceCode(ctx context.Context, deviceCode string) (*Record, error) {
	return scanRecord(s.pool.QueryRow(ctx, recordSelectByDevice, deviceCode))
}

// FindByUserCode fetches a record by its canonical user code
func (s *PostgresStore) FindByUserCode(ctx context.Context, userCode string) (*Record, error) {
	return scanRecord(s.pool.QueryRow(ctx, recordSelectByUser, userCode))
}

// CompareAndSetStatus is a single conditional UPDATE
func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, key Key, upd StatusUpdate) (bool, error) {
	var validAt, deviceCode, userCode any
	if !upd.ValidAt.IsZero() {
		validAt = upd.ValidAt.UnixMilli()
	}
	if key.DeviceCode != "" {
		deviceCode = key.DeviceCode
	} else {
		userCode = key.UserCode
	}

	tag, err := s.pool.Exec(ctx, statusUpdate,
		string(upd.Expected),
		string(upd.Next),
		upd.AuthorizedUser,
		validAt,
		deviceCode,
		userCode,
	)
	if err != nil {
		return false, storageError("compare and set", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateLastPollAt records the poll time; a missing record is left missing
func (s *PostgresStore) UpdateLastPollAt(ctx context.Context, deviceCode string, at time.Time) error {
	if _, err := s.pool.Exec(ctx, lastPollUpdate, deviceCode, at.UnixMilli()); err != nil {
		return storageError("update last poll", err)
	}
	return nil
}

// SetCallbackURI upserts the client's callback uri; an empty uri clears it
func (s *PostgresStore) SetCallbackURI(ctx context.Context, clientID, uri string) error {
	var err error
	if uri == "" {
		_, err = s.pool.Exec(ctx, callbackDelete, clientID)
	} else {
		_, err = s.pool.Exec(ctx, callbackUpsert, clientID, uri)
	}
	if err != nil {
		return storageError("set callback uri", err)
	}
	return nil
}

// CallbackURI returns the client's callback uri
func (s *PostgresStore) CallbackURI(ctx context.Context, clientID string) (string, error) {
	var uri string
	if err := s.pool.QueryRow(ctx, callbackSelect, clientID).Scan(&uri); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", storageError("get callback uri", err)
	}
	return uri, nil
}

// CheckHealth pings the database
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return storageError("health", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec            Record
		status         string
		createdAtMs    int64
		expiresAtMs    int64
		lastPollAtMs   sql.NullInt64
		authorizedUser sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.DeviceCode,
		&rec.UserCode,
		&rec.ClientID,
		&rec.Scope,
		&status,
		&createdAtMs,
		&expiresAtMs,
		&rec.IntervalSeconds,
		&lastPollAtMs,
		&authorizedUser,
		&rec.CallbackURI,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageError("find", err)
	}

	rec.Status = Status(status)
	rec.CreatedAt = time.UnixMilli(createdAtMs)
	rec.ExpiresAt = time.UnixMilli(expiresAtMs)
	if lastPollAtMs.Valid {
		rec.LastPollAt = time.UnixMilli(lastPollAtMs.Int64)
	}
	if authorizedUser.Valid {
		rec.AuthorizedUser = authorizedUser.String
	}
	return &rec, nil
}
