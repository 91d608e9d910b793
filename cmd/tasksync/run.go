package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/tasksync/automation"
	"github.com/GoCodeAlone/tasksync/internal/app"
	"github.com/GoCodeAlone/tasksync/server/api"
)

const (
	actionConvert = automation.ActionConvertTasks
	actionSync    = automation.ActionSyncWeekReferences
)

func newRunCmd(c *cli, use, short string, action automation.Action) *cobra.Command {
	var (
		asJSON bool
		record bool
		strict bool
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

The token comes from --token, TASKSYNC_NOTION_TOKEN or notion.token in the
config file. Runs are recorded in the journal unless --record=false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(c.cfg, app.Options{Journal: record}, c.logger)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			report, err := a.Run(cmd.Context(), action, c.cfg.Notion.Token, "cli")
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(api.NewAutomationResponse(report)); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if strict && report.Summary.Errors > 0 {
				return fmt.Errorf("%d items failed", report.Summary.Errors)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("token", "", "Notion integration token")
	f.String("tasks-db", "", "Task Bank database id")
	f.String("milestones-db", "", "milestones database id")
	f.BoolVar(&asJSON, "json", false, "print the result as JSON")
	f.BoolVar(&record, "record", true, "record the run in the journal")
	f.BoolVar(&strict, "strict", false, "exit non-zero when any item fails")
	cmd.PreRunE = func(*cobra.Command, []string) error {
		if c.cfg.Notion.Token == "" {
			return errors.New("a Notion token is required: pass --token or set TASKSYNC_NOTION_TOKEN")
		}
		return nil
	}
	return cmd
}

func printReport(w io.Writer, r *automation.Report) {
	fmt.Fprintf(w, "%s (run %s, %s)\n", r.Message(), r.RunID, r.Duration().Round(time.Millisecond))
	for _, item := range r.Items {
		line := fmt.Sprintf("  %-16s %s", item.Result, item.Title)
		if item.Detail != "" {
			line += " (" + item.Detail + ")"
		}
		if item.Error != "" {
			line += ": " + item.Error
		}
		fmt.Fprintln(w, line)
	}
}
