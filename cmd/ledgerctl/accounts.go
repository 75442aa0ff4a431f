package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q: %w", s, ledger.ErrInvalidInput)
	}
	return id, nil
}

func parseCount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, ledger.ErrInvalidInput)
	}
	return n, nil
}

func printAccount(cmd *cobra.Command, acc ledger.Account) {
	from, until := "-", "-"
	if acc.ValidFrom != nil {
		from = acc.ValidFrom.UTC().Format("2006-01-02 15:04:05")
	}
	if acc.ValidUntil != nil {
		until = acc.ValidUntil.UTC().Format("2006-01-02 15:04:05")
	}
	printf(cmd, "user %d\tbalance %d\tvalid %s .. %s\tvideos %d\tvoices %d\tfree_claimed %t\n",
		acc.UserID, acc.Balance, from, until, acc.VideosMade, acc.VoicesMade, acc.FreeClaimed)
}

func newGrantCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user-id> <credits>",
		Short: "Add credits to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			n, err := parseCount(args[1])
			if err != nil {
				return err
			}
			acc, err := get().admin.GrantCredits(cmd.Context(), id, n)
			if err != nil {
				return err
			}
			printAccount(cmd, acc)
			return nil
		},
	}
}

func newRevokeCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id> <credits>",
		Short: "Remove credits from an account, never below zero",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			n, err := parseCount(args[1])
			if err != nil {
				return err
			}
			acc, err := get().admin.RevokeCredits(cmd.Context(), id, n)
			if err != nil {
				return err
			}
			printAccount(cmd, acc)
			return nil
		},
	}
}

func newValidityCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validity",
		Short: "Manage credit validity windows",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <user-id> <days>",
			Short: "Start a validity window of the given length now",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				days, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid days %q: %w", args[1], ledger.ErrInvalidDays)
				}
				acc, err := get().admin.SetValidityDays(cmd.Context(), id, days)
				if err != nil {
					return err
				}
				printAccount(cmd, acc)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear <user-id>",
			Short: "Remove the validity window and keep the balance",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseUserID(args[0])
				if err != nil {
					return err
				}
				acc, err := get().admin.ClearValidity(cmd.Context(), id)
				if err != nil {
					return err
				}
				printAccount(cmd, acc)
				return nil
			},
		},
	)
	return cmd
}

func newShowCmd(get func() *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			acc, err := get().admin.Account(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(acc)
			}
			printAccount(cmd, acc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the account as JSON")
	return cmd
}

func printTable(cmd *cobra.Command, list []ledger.Account) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "USER\tNAME\tBALANCE\tVALID UNTIL\tVIDEOS\tVOICES")
	for _, a := range list {
		name := a.Username
		if name == "" {
			name = a.FirstName
		}
		until := "-"
		if a.ValidUntil != nil {
			until = a.ValidUntil.UTC().Format("2006-01-02")
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%d\t%d\n", a.UserID, name, a.Balance, until, a.VideosMade, a.VoicesMade)
	}
	return tw.Flush()
}

func newListCmd(get func() *app) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts, most recently seen first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := get().admin.ListAccounts(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			return printTable(cmd, list)
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many accounts")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum accounts to print")
	return cmd
}

func newPremiumCmd(get func() *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "premium",
		Short: "List accounts with a running validity window, soonest expiry first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := get().admin.ListActiveValidity(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printTable(cmd, list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum accounts to print")
	return cmd
}

func newCountCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := get().admin.CountAccounts(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "%d\n", n)
			return nil
		},
	}
}

type exporter interface {
	Export(ctx context.Context, fn func(ledger.Account) error) error
}

func newExportCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write every account to stdout as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			write := func(acc ledger.Account) error { return enc.Encode(acc) }
			a := get()
			if ex, ok := a.store.(exporter); ok {
				return ex.Export(cmd.Context(), write)
			}
			ids, err := a.admin.EnumerateUserIDs(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				acc, err := a.store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if err := write(acc); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
