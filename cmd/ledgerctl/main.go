// Command ledgerctl inspects and adjusts the credit ledger from a terminal.
//
// Usage:
//
//	ledgerctl grant <user-id> <credits>
//	ledgerctl revoke <user-id> <credits>
//	ledgerctl validity set <user-id> <days>
//	ledgerctl validity clear <user-id>
//	ledgerctl show <user-id> [--json]
//	ledgerctl list [--offset N] [--limit N]
//	ledgerctl premium [--limit N]
//	ledgerctl count
//	ledgerctl export > accounts.jsonl
//	ledgerctl migrate up|down|version
//
// The database is read from --dsn or DB_DSN.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/ishowlab-boop/CircleMakerProBot/db"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := newRootCmd(openPostgres).Execute(); err != nil {
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context, dsn string) (*app, error) {
	conn, err := db.Connect(dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	store := db.NewAccountStore(conn)
	return newApp(store, conn), nil
}

type app struct {
	store ledger.Store
	admin *ledger.Admin
	db    *sql.DB
}

func newApp(store ledger.Store, conn *sql.DB) *app {
	return &app{store: store, admin: ledger.NewAdmin(ledger.NewEngine(store)), db: conn}
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
