// Package memory is an in-process ledger.Store used by tests and by
// deployments that run without a database.
package memory

import (
	"context"
	"hash/maphash"
	"sort"
	"sync"
	"time"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

const stripeCount = 64

// Store keeps accounts in a map. Mutations for one user id serialize on a
// striped mutex; the map itself is guarded separately so different users
// proceed in parallel.
type Store struct {
	mu       sync.RWMutex
	accounts map[int64]ledger.Account
	stripes  [stripeCount]sync.Mutex
	seed     maphash.Seed
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the time source used for joined/last-seen stamps on creation.
func WithNow(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[int64]ledger.Account),
		seed:     maphash.MakeSeed(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) stripe(userID int64) *sync.Mutex {
	var h maphash.Hash
	h.SetSeed(s.seed)
	var b [8]byte
	for i := range b {
		b[i] = byte(userID >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return &s.stripes[h.Sum64()%stripeCount]
}

func (s *Store) load(userID int64) (ledger.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	return ledger.Clone(a), ok
}

func (s *Store) save(a ledger.Account) {
	s.mu.Lock()
	s.accounts[a.UserID] = ledger.Clone(a)
	s.mu.Unlock()
}

func (s *Store) fresh(userID int64) ledger.Account {
	now := s.now()
	return ledger.Account{UserID: userID, JoinedAt: now, LastSeen: now}
}

// Get returns the stored account or a default one without creating it.
func (s *Store) Get(ctx context.Context, userID int64) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	if a, ok := s.load(userID); ok {
		return a, nil
	}
	return s.fresh(userID), nil
}

// UpsertIdentity refreshes username, first name and last-seen.
func (s *Store) UpsertIdentity(ctx context.Context, id ledger.Identity, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := s.stripe(id.UserID)
	m.Lock()
	defer m.Unlock()
	a, ok := s.load(id.UserID)
	if !ok {
		a = ledger.Account{UserID: id.UserID, JoinedAt: at}
	}
	a.Username = id.Username
	a.FirstName = id.FirstName
	a.LastSeen = at
	s.save(a)
	return nil
}

// Mutate applies fn to a copy of the account and stores the result when fn
// succeeds. Identity fields cannot be changed through fn.
func (s *Store) Mutate(ctx context.Context, userID int64, fn func(*ledger.Account) error) (ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Account{}, err
	}
	m := s.stripe(userID)
	m.Lock()
	defer m.Unlock()

	cur, ok := s.load(userID)
	if !ok {
		cur = s.fresh(userID)
	}
	next := ledger.Clone(cur)
	if err := fn(&next); err != nil {
		return ledger.Account{}, err
	}
	next.UserID = cur.UserID
	next.Username = cur.Username
	next.FirstName = cur.FirstName
	next.JoinedAt = cur.JoinedAt
	next.LastSeen = cur.LastSeen
	s.save(next)
	return ledger.Clone(next), nil
}

func (s *Store) snapshot() []ledger.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, ledger.Clone(a))
	}
	return out
}

// List returns accounts ordered by last-seen, newest first.
func (s *Store) List(ctx context.Context, offset, limit int) ([]ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := s.snapshot()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastSeen.Equal(all[j].LastSeen) {
			return all[i].LastSeen.After(all[j].LastSeen)
		}
		return all[i].UserID < all[j].UserID
	})
	if offset >= len(all) {
		return []ledger.Account{}, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

// ListActiveValidity returns accounts whose window ends after now, soonest first.
func (s *Store) ListActiveValidity(ctx context.Context, now time.Time, limit int) ([]ledger.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ledger.Account
	for _, a := range s.snapshot() {
		if a.HasActiveValidity(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidUntil.Equal(*out[j].ValidUntil) {
			return out[i].ValidUntil.Before(*out[j].ValidUntil)
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored accounts.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts), nil
}

// UserIDs returns every stored user id in ascending order.
func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]int64, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

var _ ledger.Store = (*Store)(nil)
