// Command circlemaker runs the credit-metered media conversion bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations, or keeps the ledger
//     in memory when DB_DSN is "memory".
//   - Starts the Telegram long-poll loop, the stale work-dir janitor and an
//     HTTP server with /healthz, /readyz, /metrics and the admin API.
//
// Shutdown is graceful on SIGINT/SIGTERM: in-flight conversions are canceled
// and refunded before the process exits.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ishowlab-boop/CircleMakerProBot/admin"
	"github.com/ishowlab-boop/CircleMakerProBot/config"
	"github.com/ishowlab-boop/CircleMakerProBot/convert"
	"github.com/ishowlab-boop/CircleMakerProBot/db"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger/memory"
	"github.com/ishowlab-boop/CircleMakerProBot/server"
	"github.com/ishowlab-boop/CircleMakerProBot/telegram"
	"github.com/ishowlab-boop/CircleMakerProBot/telemetry"
)

const memoryDSN = "memory"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Error("bot is not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName:    "circlemaker",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("failed to shut down tracer provider", slog.Any("err", err))
		}
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, database, err := openStore(ctx, cfg.DBDsn)
	if err != nil {
		return err
	}
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	// The bot must exist before its API-backed collaborators, and the
	// transport must exist before the bot delivers updates.
	var transport *telegram.Transport
	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
		transport.Dispatch(ctx, b, update)
	}))
	if err != nil {
		return err
	}

	engine := ledger.NewEngine(store,
		ledger.WithMembership(telegram.NewMembership(b), cfg.RequiredChannel),
		ledger.WithFreeCredits(cfg.FreeCredits))

	ledgerAdmin := ledger.NewAdmin(engine)
	outbox := telegram.NewOutbox(b, cfg.VideoNoteSize)
	broadcaster := admin.NewBroadcaster(ledgerAdmin, outbox, cfg.BroadcastRatePerSecond)
	console := admin.NewConsole(ledgerAdmin, sessions, cfg.AdminIDs, admin.WithBroadcaster(broadcaster))

	ffmpeg := convert.NewFFmpeg()
	ffmpeg.NoteSize = cfg.VideoNoteSize
	ffmpeg.NoteMaxSeconds = cfg.VideoNoteMaxSeconds
	ffmpeg.VoiceMaxSeconds = cfg.VoiceMaxSeconds
	if bin := os.Getenv("FFMPEG_BINARY"); bin != "" {
		ffmpeg.Binary = bin
	}

	workDir := filepath.Join(cfg.DataDir, "work")
	orchestrator := convert.NewOrchestrator(convert.Deps{
		Reserver:   engine,
		Recorder:   ledger.NewTracker(engine),
		Fetcher:    telegram.NewFiles(b),
		Transcoder: ffmpeg,
		Deliverer:  outbox,
	}, convert.Config{
		VideoCost:     cfg.CreditsPerVideo,
		VoiceCost:     cfg.CreditsPerVoice,
		MaxConcurrent: cfg.MaxConcurrent,
		Timeout:       cfg.TranscodeTimeout,
		WorkDir:       workDir,
	})

	transport = telegram.NewTransport(b, engine, orchestrator, console, telegram.Config{
		FreeCredits: cfg.FreeCredits,
		Links: telegram.Links{
			VoiceSupport:  cfg.VoiceSupportLink,
			ModelSupport:  cfg.ModelSupportLink,
			AdminContacts: cfg.AdminContacts,
			Channel:       cfg.RequiredChannel,
		},
	})

	deps := server.Deps{Admin: ledgerAdmin}
	if pg, ok := store.(*db.AccountStore); ok {
		deps.Pinger = pg
		deps.Exporter = pg
	}
	router := server.NewRouter(ctx, deps, server.Options{
		AdminUsername:     cfg.AdminUsername,
		AdminPassword:     cfg.AdminPassword,
		AdminToken:        cfg.AdminToken,
		RateLimitEnabled:  cfg.RateLimitEnabled,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	if database != nil {
		if err := db.SetKV(ctx, database, "last_start", time.Now().UTC().Format(time.RFC3339)); err != nil {
			slog.Warn("failed to record start time", slog.Any("err", err))
		}
	}

	slog.Info("starting bot",
		slog.Int("admins", len(cfg.AdminIDs)),
		slog.Int("max_concurrent", orchestrator.MaxConcurrent()),
		slog.String("required_channel", cfg.RequiredChannel))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.Start(gctx)
		transport.Wait()
		return nil
	})
	g.Go(func() error {
		convert.NewJanitor(workDir, cfg.WorkdirMaxAge, cfg.JanitorInterval).Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx, cfg.HTTPAddr, router)
	})
	return g.Wait()
}

// openStore returns the Postgres ledger store, or the in-memory one for DB_DSN=memory.
func openStore(ctx context.Context, dsn string) (ledger.Store, *sql.DB, error) {
	if dsn == memoryDSN {
		slog.Warn("using in-memory ledger; balances are lost on restart")
		return memory.New(), nil, nil
	}
	database, err := db.Connect(dsn)
	if err != nil {
		return nil, nil, err
	}

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: idempotent statements (db.Migrate)
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, nil, err
		}
	}
	return db.NewAccountStore(database), database, nil
}

// openSessions returns the admin wizard store: Redis when REDIS_URL is set, memory otherwise.
func openSessions(ctx context.Context, cfg *config.Config) (admin.SessionStore, func(), error) {
	if cfg.RedisURL == "" {
		return admin.NewMemorySessionStore(cfg.AdminSessionTTL), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	slog.Info("admin sessions stored in redis", slog.String("addr", opts.Addr))
	return admin.NewRedisSessionStore(client, cfg.AdminSessionTTL), func() { _ = client.Close() }, nil
}
