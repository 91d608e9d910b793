package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/GoCodeAlone/tasksync/config"
)

// cli carries state shared by all commands. Settings resolve in order:
// flag, TASKSYNC_* environment variable, config file, default.
type cli struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
	stderr io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), stderr: os.Stderr}
	c.v.SetEnvPrefix("TASKSYNC")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "tasksync",
		Short: "Task Bank and milestone automation",
		Long: `tasksync proxies database queries for the planning dashboard, enriches
tasks with their milestones, and converts planned tasks into weekly
milestones.

Run "tasksync serve" for the HTTP API, or run an automation action once
with "tasksync convert" or "tasksync sync-weeks".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.Flags())
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to YAML config file")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("data-dir", "", "directory holding the run journal")
	pf.String("weekmap", "", "path to the week map document (YAML or JSONC)")

	root.AddCommand(
		newServeCmd(c),
		newRunCmd(c, "convert", "Convert planned tasks into milestones", actionConvert),
		newRunCmd(c, "sync-weeks", "Sync milestone scorecard weeks from their week references", actionSync),
		newRunsCmd(c),
		newWeeksCmd(c),
		newVersionCmd(),
	)
	return root
}

// load binds the running command's flags, resolves the configuration and
// builds the logger.
func (c *cli) load(fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := c.v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg := config.DefaultConfig()
	if path := c.v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	overlay := func(key string, dst *string) {
		if c.v.IsSet(key) && c.v.GetString(key) != "" {
			*dst = c.v.GetString(key)
		}
	}
	overlay("log-level", &cfg.LogLevel)
	overlay("data-dir", &cfg.DataDir)
	overlay("weekmap", &cfg.WeekMap.Path)
	overlay("addr", &cfg.Server.Addr)
	overlay("notion.token", &cfg.Notion.Token)
	overlay("notion.base_url", &cfg.Notion.BaseURL)
	overlay("schedule.token", &cfg.Schedule.Token)
	overlay("schedule.convert_tasks", &cfg.Schedule.ConvertTasks)
	overlay("schedule.sync_week_references", &cfg.Schedule.SyncWeekReferences)
	overlay("auth.jwt_secret", &cfg.Auth.JWTSecret)
	overlay("auth.admin_pass", &cfg.Auth.AdminPass)
	overlay("databases.tasks", &cfg.Databases.Tasks)
	overlay("databases.milestones", &cfg.Databases.Milestones)
	overlay("token", &cfg.Notion.Token)
	overlay("tasks-db", &cfg.Databases.Tasks)
	overlay("milestones-db", &cfg.Databases.Milestones)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	c.logger = slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
	c.cfg = cfg
	return nil
}
