package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/tasksync/automation"
	"github.com/GoCodeAlone/tasksync/runlog"
)

func newRunsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the automation run journal",
	}
	cmd.AddCommand(newRunsListCmd(c), newRunsShowCmd(c), newRunsPruneCmd(c))
	return cmd
}

func (c *cli) openJournal() (*runlog.SQLiteStore, error) {
	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := runlog.NewSQLiteStore(c.cfg.RunsDBPath())
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	return store, nil
}

func newRunsListCmd(c *cli) *cobra.Command {
	var filter runlog.Filter
	var action string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if action != "" {
				a, err := automation.ParseAction(action)
				if err != nil {
					return err
				}
				filter.Action = a
			}
			store, err := c.openJournal()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			runs, err := store.List(filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			fmt.Fprintf(out, "%-36s %-22s %-9s %-20s %6s %6s\n", "ID", "ACTION", "TRIGGER", "STARTED", "ITEMS", "ERRORS")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s %-22s %-9s %-20s %6d %6d\n",
					r.RunID, r.Action, r.Trigger,
					r.StartedAt.Local().Format(time.DateTime),
					r.Summary.Candidates, r.Summary.Errors)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&action, "action", "", "only show this action")
	f.BoolVar(&filter.FailedOnly, "failed", false, "only show runs with failures")
	f.IntVar(&filter.Limit, "limit", 20, "maximum runs to show")
	return cmd
}

func newRunsShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openJournal()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			run, err := store.Get(args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		},
	}
}

func newRunsPruneCmd(c *cli) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := c.openJournal()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			n, err := store.Prune(time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d runs.\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest run to keep")
	return cmd
}
