package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var errNoDatabase = errors.New("WIT_DATABASE_URL is not set")

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent queries from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			store, err := a.deps.openJournal(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "No queries recorded.")
				return nil
			}

			table := tablewriter.NewWriter(a.stdout)
			table.SetHeader([]string{"When", "Kind", "Backend", "Outcome", "Latency", "Result"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, e := range entries {
				result := e.Response
				if e.Outcome == "error" {
					result = e.ErrorType + ": " + e.ErrorMessage
				}
				table.Append([]string{
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					e.Kind.String(),
					e.Backend,
					e.Outcome,
					e.Latency.Round(time.Millisecond).String(),
					truncate(result, 60),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of queries to show")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the journal schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errNoDatabase
			}
			return a.deps.migrate(cmd.Context(), cfg.DatabaseURL, a.logger(cfg.Verbosity))
		},
	}
}

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices; any substring of a name works as --device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.deps.captureDevices()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}
