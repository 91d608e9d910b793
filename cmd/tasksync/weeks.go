package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/tasksync/weekmap"
)

func newWeeksCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weeks",
		Short: "Work with the week map document",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Parse a week map document and report what it contains",
		Long: `Parse a week map document and report what it contains.

Without a path the configured document is checked, or the built-in one
when none is configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.cfg.WeekMap.Path
			if len(args) == 1 {
				path = args[0]
			}
			var (
				tbl *weekmap.Table
				err error
			)
			if path == "" {
				tbl, path = weekmap.Default(), "(built-in)"
			} else if tbl, err = weekmap.Load(path); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", path)
			fmt.Fprintf(out, "  start date:   %s\n", tbl.StartDate().Format(time.DateOnly))
			fmt.Fprintf(out, "  weeks:        %d\n", tbl.Len())
			fmt.Fprintf(out, "  current week: %d\n", tbl.CurrentWeek(time.Now()))
			return nil
		},
	})
	return cmd
}
