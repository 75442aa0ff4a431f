package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ishowlab-boop/CircleMakerProBot/config"
)

type opener func(ctx context.Context, dsn string) (*app, error)

var errNoDatabase = errors.New("this command needs a Postgres connection")

func newRootCmd(open opener) *cobra.Command {
	var (
		dsn string
		a   *app
	)
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and adjust the credit ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = os.Getenv("DB_DSN")
			}
			if dsn == "" {
				dsn = config.DefaultDSN
			}
			var err error
			a, err = open(cmd.Context(), dsn)
			return err
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a == nil {
				return nil
			}
			return a.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (default $DB_DSN)")

	get := func() *app { return a }
	rootCmd.AddCommand(
		newGrantCmd(get),
		newRevokeCmd(get),
		newValidityCmd(get),
		newShowCmd(get),
		newListCmd(get),
		newPremiumCmd(get),
		newCountCmd(get),
		newExportCmd(get),
		newMigrateCmd(get),
	)
	return rootCmd
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
