package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL bounds how long an abandoned wizard stays open.
const DefaultSessionTTL = 10 * time.Minute

// SessionStore keeps one Session per admin. Sessions older than the store's
// TTL are reported as absent.
type SessionStore interface {
	Get(ctx context.Context, adminID int64) (Session, bool, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, adminID int64) error
}

// MemorySessionStore is a SessionStore held in process memory.
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[int64]Session
}

// NewMemorySessionStore returns a store expiring sessions after ttl.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{ttl: ttl, now: time.Now, sessions: make(map[int64]Session)}
}

func (m *MemorySessionStore) Get(_ context.Context, adminID int64) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[adminID]
	if !ok {
		return Session{}, false, nil
	}
	if m.now().Sub(s.UpdatedAt) >= m.ttl {
		delete(m.sessions, adminID)
		return Session{}, false, nil
	}
	return s, true, nil
}

func (m *MemorySessionStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = m.now()
	}
	m.sessions[s.AdminID] = s
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, adminID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, adminID)
	return nil
}

// RedisSessionStore keeps sessions in Redis with a key TTL so every bot
// replica sees the same wizard state.
type RedisSessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisSessionStore returns a Redis-backed store.
func NewRedisSessionStore(client redis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl, prefix: "circle:admin:session:"}
}

type sessionEnvelope struct {
	AdminID   int64     `json:"admin_id"`
	Target    int64     `json:"target,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	TargetID  int64     `json:"target_id,omitempty"`
	Offset    int       `json:"offset,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func encodeSession(s Session) sessionEnvelope {
	env := sessionEnvelope{AdminID: s.AdminID, Target: s.Target, Kind: Kind(s.Pending), UpdatedAt: s.UpdatedAt}
	switch p := s.Pending.(type) {
	case AwaitingAmount:
		env.TargetID, env.Offset = p.TargetID, p.Offset
	case AwaitingDays:
		env.TargetID, env.Offset = p.TargetID, p.Offset
	}
	return env
}

func decodeSession(env sessionEnvelope) (Session, error) {
	s := Session{AdminID: env.AdminID, Target: env.Target, UpdatedAt: env.UpdatedAt}
	switch env.Kind {
	case "":
	case "amount":
		s.Pending = AwaitingAmount{TargetID: env.TargetID, Offset: env.Offset}
	case "days":
		s.Pending = AwaitingDays{TargetID: env.TargetID, Offset: env.Offset}
	case "broadcast_text":
		s.Pending = AwaitingBroadcastText{}
	case "target_user_id":
		s.Pending = AwaitingTargetUserID{}
	default:
		return Session{}, fmt.Errorf("admin: unknown pending kind %q", env.Kind)
	}
	return s, nil
}

func (r *RedisSessionStore) key(adminID int64) string {
	return r.prefix + strconv.FormatInt(adminID, 10)
}

func (r *RedisSessionStore) Get(ctx context.Context, adminID int64) (Session, bool, error) {
	const op = "admin.RedisSessionStore.Get"
	raw, err := r.client.Get(ctx, r.key(adminID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("%s: %w", op, err)
	}
	var env sessionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Session{}, false, fmt.Errorf("%s: %w", op, err)
	}
	s, err := decodeSession(env)
	if err != nil {
		return Session{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return s, true, nil
}

func (r *RedisSessionStore) Put(ctx context.Context, s Session) error {
	const op = "admin.RedisSessionStore.Put"
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(encodeSession(s))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.client.Set(ctx, r.key(s.AdminID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, adminID int64) error {
	const op = "admin.RedisSessionStore.Delete"
	if err := r.client.Del(ctx, r.key(adminID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var (
	_ SessionStore = (*MemorySessionStore)(nil)
	_ SessionStore = (*RedisSessionStore)(nil)
)
