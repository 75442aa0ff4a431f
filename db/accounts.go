package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

const accountColumns = `user_id, username, first_name, balance, valid_from, valid_until,
	free_claimed, videos_made, voices_made, joined_at, last_seen`

// AccountStore is the Postgres ledger.Store. Per-account exclusion comes from
// SELECT ... FOR UPDATE inside a transaction.
type AccountStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewAccountStore wraps an open database.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (ledger.Account, error) {
	var (
		a          ledger.Account
		from, till sql.NullTime
	)
	if err := r.Scan(&a.UserID, &a.Username, &a.FirstName, &a.Balance, &from, &till,
		&a.FreeClaimed, &a.VideosMade, &a.VoicesMade, &a.JoinedAt, &a.LastSeen); err != nil {
		return ledger.Account{}, err
	}
	if from.Valid {
		t := from.Time.UTC()
		a.ValidFrom = &t
	}
	if till.Valid {
		t := till.Time.UTC()
		a.ValidUntil = &t
	}
	a.JoinedAt = a.JoinedAt.UTC()
	a.LastSeen = a.LastSeen.UTC()
	return a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Ping checks connectivity.
func (s *AccountStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Get returns the stored account or a default one without inserting it.
func (s *AccountStore) Get(ctx context.Context, userID int64) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		now := s.now()
		return ledger.Account{UserID: userID, JoinedAt: now, LastSeen: now}, nil
	}
	if err != nil {
		return ledger.Account{}, ledger.StorageFailure("get account", err)
	}
	return a, nil
}

// UpsertIdentity refreshes username, first name and last_seen.
func (s *AccountStore) UpsertIdentity(ctx context.Context, id ledger.Identity, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (user_id, username, first_name, joined_at, last_seen)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username,
			first_name = EXCLUDED.first_name, last_seen = EXCLUDED.last_seen`,
		id.UserID, id.Username, id.FirstName, at)
	return ledger.StorageFailure("upsert identity", err)
}

// Mutate locks the row, applies fn and writes the numeric fields back in one
// transaction. fn's error aborts the transaction and is returned unchanged.
func (s *AccountStore) Mutate(ctx context.Context, userID int64, fn func(*ledger.Account) error) (ledger.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Account{}, ledger.StorageFailure("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	if _, err := tx.ExecContext(ctx, `INSERT INTO accounts (user_id, joined_at, last_seen) VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, now); err != nil {
		return ledger.Account{}, ledger.StorageFailure("ensure account", err)
	}

	cur, err := scanAccount(tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return ledger.Account{}, ledger.StorageFailure("lock account", err)
	}

	next := ledger.Clone(cur)
	if err := fn(&next); err != nil {
		return ledger.Account{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = $2, valid_from = $3, valid_until = $4,
		free_claimed = $5, videos_made = $6, voices_made = $7 WHERE user_id = $1`,
		userID, next.Balance, nullTime(next.ValidFrom), nullTime(next.ValidUntil),
		next.FreeClaimed, next.VideosMade, next.VoicesMade); err != nil {
		return ledger.Account{}, ledger.StorageFailure("update account", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Account{}, ledger.StorageFailure("commit", err)
	}

	next.UserID = cur.UserID
	next.Username = cur.Username
	next.FirstName = cur.FirstName
	next.JoinedAt = cur.JoinedAt
	next.LastSeen = cur.LastSeen
	return next, nil
}

func (s *AccountStore) query(ctx context.Context, op, q string, args ...any) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ledger.StorageFailure(op, err)
	}
	defer rows.Close()
	out := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, ledger.StorageFailure(op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StorageFailure(op, err)
	}
	return out, nil
}

// List returns accounts ordered by last_seen, newest first.
func (s *AccountStore) List(ctx context.Context, offset, limit int) ([]ledger.Account, error) {
	return s.query(ctx, "list accounts", `SELECT `+accountColumns+` FROM accounts
		ORDER BY last_seen DESC, user_id ASC OFFSET $1 LIMIT $2`, offset, limit)
}

// ListActiveValidity returns accounts whose window ends after now, soonest first.
func (s *AccountStore) ListActiveValidity(ctx context.Context, now time.Time, limit int) ([]ledger.Account, error) {
	return s.query(ctx, "list active validity", `SELECT `+accountColumns+` FROM accounts
		WHERE valid_until IS NOT NULL AND valid_until > $1
		ORDER BY valid_until ASC, user_id ASC LIMIT $2`, now, limit)
}

// Count returns the number of accounts.
func (s *AccountStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, ledger.StorageFailure("count accounts", err)
	}
	return n, nil
}

// UserIDs returns every user id in ascending order.
func (s *AccountStore) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, ledger.StorageFailure("user ids", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, ledger.StorageFailure("user ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StorageFailure("user ids", err)
	}
	return ids, nil
}

// Export streams every account in user id order to fn, stopping at fn's
// first error.
func (s *AccountStore) Export(ctx context.Context, fn func(ledger.Account) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY user_id`)
	if err != nil {
		return ledger.StorageFailure("export", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return ledger.StorageFailure("export", err)
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return ledger.StorageFailure("export", rows.Err())
}

var _ ledger.Store = (*AccountStore)(nil)
