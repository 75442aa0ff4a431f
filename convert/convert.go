// Package convert runs paid conversions: it reserves credit, fetches the
// upload, transcodes it, delivers the result and settles the reservation.
package convert

import (
	"context"
	"errors"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

// ErrUnsupportedKind is returned for media kinds without a price or pipeline.
var ErrUnsupportedKind = errors.New("convert: unsupported media kind")

// Media references an uploaded file on the chat platform.
type Media struct {
	FileID   string
	FileName string
	MimeType string
	Duration int
	Size     int64
}

// Request asks for one conversion on behalf of a user.
type Request struct {
	UserID int64
	ChatID int64
	Media  Media
	Kind   ledger.MediaKind
}

// Fetcher downloads the referenced upload to dst.
type Fetcher interface {
	Fetch(ctx context.Context, m Media, dst string) error
}

// Transcoder turns input into the fixed output format for kind.
type Transcoder interface {
	Transcode(ctx context.Context, input, output string, kind ledger.MediaKind) error
}

// Deliverer sends the finished file back to the chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, kind ledger.MediaKind, path string) error
}

// Reserver is the slice of the entitlement engine the orchestrator needs.
type Reserver interface {
	TryReserve(ctx context.Context, userID, amount int64) (bool, ledger.Account, error)
	Credit(ctx context.Context, userID, amount int64) (ledger.Account, error)
}

// Recorder bumps usage counters after a delivered conversion.
type Recorder interface {
	Increment(ctx context.Context, userID int64, kind ledger.MediaKind) (ledger.Counts, error)
}

// OutcomeKind classifies how a conversion attempt ended.
type OutcomeKind int

const (
	Succeeded OutcomeKind = iota
	InsufficientCredit
	TranscodeFailed
	StorageFailed
	Canceled
	Unsupported
)

func (k OutcomeKind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case InsufficientCredit:
		return "insufficient_credit"
	case TranscodeFailed:
		return "transcode_failed"
	case StorageFailed:
		return "storage_failed"
	case Canceled:
		return "canceled"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Stage names the step a conversion reached.
type Stage string

const (
	StageReserve   Stage = "reserve"
	StageQueue     Stage = "queue"
	StageFetch     Stage = "fetch"
	StageTranscode Stage = "transcode"
	StageDeliver   Stage = "deliver"
	StageDone      Stage = "done"
)

// Outcome is the structured result handed back to the transport.
type Outcome struct {
	Kind     OutcomeKind
	Stage    Stage
	Balance  int64 // balance after settlement, when known
	Required int64
	Counts   ledger.Counts

	Refunded  bool
	RefundErr error
	Retryable bool

	// RecordErr is set when delivery succeeded but the usage counter write failed.
	RecordErr error
	Err       error
}

// OK reports whether the conversion was delivered.
func (o Outcome) OK() bool { return o.Kind == Succeeded }
