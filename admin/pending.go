// Package admin is the admin console: allow-list authorization, per-admin
// wizard sessions and broadcast delivery over the ledger admin surface.
package admin

import "time"

// Pending is a multi-step admin action waiting for typed input. The concrete
// types below are the only implementations.
type Pending interface {
	pendingKind() string
}

// AwaitingAmount waits for a signed credit adjustment such as "+50" or "-20".
type AwaitingAmount struct {
	TargetID int64
	Offset   int // user list page to return to
}

// AwaitingDays waits for a validity length in days.
type AwaitingDays struct {
	TargetID int64
	Offset   int
}

// AwaitingBroadcastText waits for the message to send to every user.
type AwaitingBroadcastText struct{}

// AwaitingTargetUserID waits for a user id to open.
type AwaitingTargetUserID struct{}

func (AwaitingAmount) pendingKind() string        { return "amount" }
func (AwaitingDays) pendingKind() string          { return "days" }
func (AwaitingBroadcastText) pendingKind() string { return "broadcast_text" }
func (AwaitingTargetUserID) pendingKind() string  { return "target_user_id" }

// Kind returns the wire name of p, or "" for nil.
func Kind(p Pending) string {
	if p == nil {
		return ""
	}
	return p.pendingKind()
}

// Session is the per-admin console state.
type Session struct {
	AdminID   int64
	Target    int64 // selected user, 0 when none
	Pending   Pending
	UpdatedAt time.Time
}
