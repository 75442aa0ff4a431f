package main

import (
	"github.com/spf13/cobra"

	"github.com/ishowlab-boop/CircleMakerProBot/db"
)

func newMigrateCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := get()
				if a.db == nil {
					return errNoDatabase
				}
				return db.RunMigrations(a.db)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := get()
				if a.db == nil {
					return errNoDatabase
				}
				return db.MigrateDown(a.db)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a := get()
				if a.db == nil {
					return errNoDatabase
				}
				v, dirty, err := db.GetMigrationVersion(a.db)
				if err != nil {
					return err
				}
				if v == 0 {
					printf(cmd, "no migrations applied\n")
					return nil
				}
				printf(cmd, "version %d dirty=%t\n", v, dirty)
				return nil
			},
		},
	)
	return cmd
}
