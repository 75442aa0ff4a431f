package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
	"github.com/ishowlab-boop/CircleMakerProBot/telemetry"
)

const (
	defaultTimeout = 2 * time.Minute
	refundTimeout  = 10 * time.Second
)

// Config holds prices and limits for the orchestrator.
type Config struct {
	VideoCost     int64
	VoiceCost     int64
	MaxConcurrent int
	Timeout       time.Duration
	WorkDir       string
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Reserver   Reserver
	Recorder   Recorder
	Fetcher    Fetcher
	Transcoder Transcoder
	Deliverer  Deliverer
	Logger     *slog.Logger
}

// Orchestrator sequences reserve, fetch, transcode, deliver and settle.
type Orchestrator struct {
	deps  Deps
	cfg   Config
	slots *slots
	log   *slog.Logger
}

// NewOrchestrator builds an Orchestrator. Zero config values fall back to a
// cost of 1, one slot, a two minute timeout and the system temp dir.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if cfg.VideoCost <= 0 {
		cfg.VideoCost = 1
	}
	if cfg.VoiceCost <= 0 {
		cfg.VoiceCost = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "circle-work")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:  deps,
		cfg:   cfg,
		slots: newSlots(cfg.MaxConcurrent),
		log:   logger.With(slog.String("component", "convert")),
	}
}

// Cost returns the price of one conversion of kind, or 0 when kind is unknown.
func (o *Orchestrator) Cost(kind ledger.MediaKind) int64 {
	switch kind {
	case ledger.KindVideo:
		return o.cfg.VideoCost
	case ledger.KindVoice:
		return o.cfg.VoiceCost
	default:
		return 0
	}
}

// Active returns the number of conversions holding a slot.
func (o *Orchestrator) Active() int { return o.slots.active() }

// MaxConcurrent returns the slot capacity.
func (o *Orchestrator) MaxConcurrent() int { return o.slots.capacity() }

// reservation is one conversion's worth of deducted credit. Exactly one of
// commit or release takes effect.
type reservation struct {
	r       Reserver
	userID  int64
	amount  int64
	settled bool
}

func (r *reservation) commit() { r.settled = true }

// release refunds the reservation. It ignores cancellation of ctx so an
// abandoned request still returns the credit.
func (r *reservation) release(ctx context.Context) (ledger.Account, error) {
	if r.settled {
		return ledger.Account{}, nil
	}
	r.settled = true
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
	defer cancel()
	return r.r.Credit(ctx, r.userID, r.amount)
}

// Convert runs one conversion. Credit is reserved before any work starts and
// refunded on every path that does not deliver, including cancellation and
// panics in collaborators.
func (o *Orchestrator) Convert(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	logger := o.log.With(
		slog.Int64("user_id", req.UserID),
		slog.String("kind", string(req.Kind)),
	)
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		logger = logger.With(slog.String("corr", corr))
	}
	ctx, span := telemetry.StartSpan(ctx, "convert", "convert.Convert",
		attribute.Int64("user_id", req.UserID),
		attribute.String("kind", string(req.Kind)))
	defer span.End()
	defer func() {
		telemetry.RecordConversion(string(req.Kind), out.Kind.String())
		if out.Kind == Succeeded || out.Err != nil {
			telemetry.FinishSpan(span, out.Err)
		}
	}()

	cost := o.Cost(req.Kind)
	if cost == 0 {
		return Outcome{Kind: Unsupported, Stage: StageReserve, Err: ErrUnsupportedKind}
	}

	ok, acc, err := o.deps.Reserver.TryReserve(ctx, req.UserID, cost)
	if err != nil {
		telemetry.RecordReservation("error")
		logger.Error("reserve failed", slog.Any("error", err))
		return Outcome{Kind: StorageFailed, Stage: StageReserve, Required: cost, Err: err}
	}
	if !ok {
		telemetry.RecordReservation("insufficient")
		logger.Info("insufficient credit", slog.Int64("balance", acc.Balance), slog.Int64("cost", cost))
		return Outcome{
			Kind:     InsufficientCredit,
			Stage:    StageReserve,
			Balance:  acc.Balance,
			Required: cost,
			Err:      ledger.ErrInsufficientCredit,
		}
	}
	telemetry.RecordReservation("ok")

	res := &reservation{r: o.deps.Reserver, userID: req.UserID, amount: cost}
	stage := StageQueue
	defer func() {
		if p := recover(); p != nil {
			logger.Error("conversion panicked",
				slog.Any("panic", p),
				slog.String("stage", string(stage)),
				slog.String("stack", string(debug.Stack())))
			perr := fmt.Errorf("convert: panic during %s: %v", stage, p)
			if res.settled {
				out.RecordErr = perr
				return
			}
			out = Outcome{
				Kind:      TranscodeFailed,
				Stage:     stage,
				Required:  cost,
				Retryable: true,
				Err:       perr,
			}
		}
		if res.settled {
			return
		}
		after, rerr := res.release(ctx)
		telemetry.RecordRefund(rerr == nil)
		out.Refunded = rerr == nil
		out.RefundErr = rerr
		if rerr != nil {
			logger.Error("refund failed, reservation leaked",
				slog.Int64("cost", cost),
				slog.Any("error", rerr))
			return
		}
		out.Balance = after.Balance
		logger.Info("reservation refunded",
			slog.Int64("cost", cost),
			slog.String("stage", string(stage)),
			slog.Int64("balance", after.Balance))
	}()

	workCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	if !o.slots.acquire(workCtx) {
		return o.failed(ctx, StageQueue, cost, workCtx.Err())
	}
	telemetry.SetActiveConversions(1)
	defer func() {
		o.slots.release()
		telemetry.SetActiveConversions(-1)
	}()

	dir := filepath.Join(o.cfg.WorkDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return o.failed(ctx, StageFetch, cost, fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("remove work dir", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	stage = StageFetch
	input := filepath.Join(dir, "input"+inputExt(req.Media))
	if err := o.deps.Fetcher.Fetch(workCtx, req.Media, input); err != nil {
		return o.failed(ctx, stage, cost, fmt.Errorf("fetch: %w", err))
	}

	stage = StageTranscode
	output := filepath.Join(dir, "output"+OutputExt(req.Kind))
	var terr error
	telemetry.TimeFunc(telemetry.TranscodeDuration, func() {
		terr = o.deps.Transcoder.Transcode(workCtx, input, output, req.Kind)
	})
	if terr != nil {
		return o.failed(ctx, stage, cost, fmt.Errorf("transcode: %w", terr))
	}

	stage = StageDeliver
	if err := o.deps.Deliverer.Deliver(workCtx, req.ChatID, req.Kind, output); err != nil {
		return o.failed(ctx, stage, cost, fmt.Errorf("deliver: %w", err))
	}
	res.commit()
	stage = StageDone

	out = Outcome{Kind: Succeeded, Stage: StageDone, Balance: acc.Balance, Required: cost}
	if o.deps.Recorder != nil {
		counts, err := o.deps.Recorder.Increment(context.WithoutCancel(ctx), req.UserID, req.Kind)
		if err != nil {
			logger.Error("record usage failed", slog.Any("error", err))
			out.RecordErr = err
		}
		out.Counts = counts
	}
	d := time.Since(start)
	if telemetry.ConversionDuration != nil {
		telemetry.ConversionDuration.Observe(d.Seconds())
	}
	logger.Info("conversion delivered", slog.Int64("cost", cost), slog.Duration("took", d))
	return out
}

// failed builds the outcome for a post-reservation failure. The deferred
// guard in Convert performs the refund.
func (o *Orchestrator) failed(ctx context.Context, stage Stage, cost int64, err error) Outcome {
	kind := TranscodeFailed
	if ctx.Err() != nil {
		kind = Canceled
	}
	class := ClassifyError(err)
	o.log.Warn("conversion failed",
		slog.String("stage", string(stage)),
		slog.String("outcome", kind.String()),
		slog.String("class", class.String()),
		slog.Any("error", err))
	return Outcome{
		Kind:      kind,
		Stage:     stage,
		Required:  cost,
		Retryable: class != ErrorClassFatal,
		Err:       err,
	}
}

func inputExt(m Media) string {
	if ext := filepath.Ext(m.FileName); ext != "" && len(ext) <= 6 {
		return ext
	}
	switch m.MimeType {
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}
