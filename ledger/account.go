// Package ledger implements the credit ledger and entitlement engine: per-user
// balances, validity windows, the one-shot free claim, usage counters and the
// privileged adjustment surface used by the admin console.
//
// Every operation that reads or writes an account first applies lazy expiry:
// when the validity window has ended, balance and window are cleared before the
// requested operation runs. There is no background sweep.
package ledger

import (
	"context"
	"time"
)

// SecondsPerDay is the length of a validity day. Windows are absolute
// instants, not calendar days.
const SecondsPerDay = 86400

// MaxValidityDays bounds a single validity window (about 100 years).
const MaxValidityDays = 36500

// MediaKind distinguishes the two conversion products.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindVoice MediaKind = "voice"
)

// Account is the ledger row for one user.
type Account struct {
	UserID      int64      `json:"user_id"`
	Username    string     `json:"username,omitempty"`
	FirstName   string     `json:"first_name,omitempty"`
	Balance     int64      `json:"balance"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	FreeClaimed bool       `json:"free_claimed"`
	VideosMade  int64      `json:"videos_made"`
	VoicesMade  int64      `json:"voices_made"`
	JoinedAt    time.Time  `json:"joined_at"`
	LastSeen    time.Time  `json:"last_seen"`
}

// Identity is the display data refreshed on every interaction.
type Identity struct {
	UserID    int64
	Username  string
	FirstName string
}

// Balance is the result of a balance query.
type Balance struct {
	Amount     int64
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// Expired reports whether the validity window has ended at now.
func (a Account) Expired(now time.Time) bool {
	return a.ValidUntil != nil && !now.Before(*a.ValidUntil)
}

// HasActiveValidity reports whether a window is set and still running at now.
func (a Account) HasActiveValidity(now time.Time) bool {
	return a.ValidUntil != nil && now.Before(*a.ValidUntil)
}

// BalanceView returns the balance view of the account.
func (a Account) BalanceView() Balance {
	return Balance{Amount: a.Balance, ValidFrom: a.ValidFrom, ValidUntil: a.ValidUntil}
}

// Count returns the usage counter for kind.
func (a Account) Count(kind MediaKind) int64 {
	switch kind {
	case KindVoice:
		return a.VoicesMade
	default:
		return a.VideosMade
	}
}

// clone copies the account so the validity pointers are not shared.
func (a Account) clone() Account {
	if a.ValidFrom != nil {
		t := *a.ValidFrom
		a.ValidFrom = &t
	}
	if a.ValidUntil != nil {
		t := *a.ValidUntil
		a.ValidUntil = &t
	}
	return a
}

// Clone returns a deep copy of a.
func Clone(a Account) Account { return a.clone() }

// Store persists Account rows keyed by user id.
//
// Mutate must serialize concurrent calls for the same user id and apply fn as a
// single read-modify-write: if fn returns an error nothing is written. A row is
// created with defaults when none exists. Mutate writes balance, validity, the
// free-claim flag and the usage counters; identity fields belong to
// UpsertIdentity.
type Store interface {
	Get(ctx context.Context, userID int64) (Account, error)
	UpsertIdentity(ctx context.Context, id Identity, at time.Time) error
	Mutate(ctx context.Context, userID int64, fn func(*Account) error) (Account, error)
	List(ctx context.Context, offset, limit int) ([]Account, error)
	ListActiveValidity(ctx context.Context, now time.Time, limit int) ([]Account, error)
	Count(ctx context.Context) (int, error)
	UserIDs(ctx context.Context) ([]int64, error)
}

// MembershipOracle answers whether a user belongs to a channel.
type MembershipOracle interface {
	IsMember(ctx context.Context, channelID string, userID int64) (bool, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC.
var SystemClock Clock = systemClock{}
