// Package app wires the tasksync components together for the server, the
// CLI and the Lambda entry point.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/GoCodeAlone/tasksync/automation"
	"github.com/GoCodeAlone/tasksync/config"
	"github.com/GoCodeAlone/tasksync/internal/version"
	"github.com/GoCodeAlone/tasksync/metrics"
	"github.com/GoCodeAlone/tasksync/notion"
	"github.com/GoCodeAlone/tasksync/runlog"
	"github.com/GoCodeAlone/tasksync/schedule"
	"github.com/GoCodeAlone/tasksync/server"
	"github.com/GoCodeAlone/tasksync/server/api"
	"github.com/GoCodeAlone/tasksync/server/ws"
	"github.com/GoCodeAlone/tasksync/weekmap"
)

// Options select the optional parts of an App.
type Options struct {
	// Journal opens the SQLite run journal under the data directory.
	Journal bool
	// Events enables the SSE hub.
	Events bool
	// Schedule builds the cron scheduler from the schedule settings.
	Schedule bool
}

// App holds every wired component.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Hub     *ws.Hub
	Weeks   *weekmap.Store
	Runs    *runlog.SQLiteStore
	Server  *server.Server

	Scheduler *schedule.Scheduler

	httpClient *http.Client
	observers  []automation.Observer
}

// New builds an App from cfg.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}
	a.httpClient = &http.Client{
		Timeout:   cfg.Notion.Timeout,
		Transport: a.Metrics.InstrumentTransport(http.DefaultTransport),
	}
	a.observers = append(a.observers, a.Metrics)

	weeks, err := weekmap.OpenStore(cfg.WeekMap.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open week map: %w", err)
	}
	a.Weeks = weeks

	if opts.Events {
		a.Hub = ws.NewHub(logger)
		a.observers = append(a.observers, a.Hub)
	}

	if opts.Journal {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		runs, err := runlog.NewSQLiteStore(cfg.RunsDBPath())
		if err != nil {
			return nil, fmt.Errorf("open run journal: %w", err)
		}
		a.Runs = runs
		a.observers = append(a.observers, runlog.NewJournal(runs, logger))
	}

	handlers := &api.Handlers{
		Clients:   a.Client,
		Weeks:     a.Weeks,
		Config:    cfg,
		Observers: a.observers,
		Logger:    logger,
		Version:   version.String(),
	}
	if a.Runs != nil {
		handlers.Runs = a.Runs
	}

	a.Server = server.New(cfg, version.String(), logger)
	a.Server.SetHandlers(handlers)
	a.Server.SetMetrics(a.Metrics)
	if a.Hub != nil {
		a.Server.SetHub(a.Hub)
	}

	if opts.Schedule {
		a.Scheduler = schedule.New(a.scheduledRun, logger)
		if err := a.Scheduler.Add(cfg.Schedule.ConvertTasks, automation.ActionConvertTasks); err != nil {
			_ = a.Close()
			return nil, err
		}
		if err := a.Scheduler.Add(cfg.Schedule.SyncWeekReferences, automation.ActionSyncWeekReferences); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Client returns a remote API client authenticating as token.
func (a *App) Client(token string) automation.Database {
	return notion.NewClient(notion.Config{
		Token:      token,
		BaseURL:    a.Config.Notion.BaseURL,
		Version:    a.Config.Notion.Version,
		HTTPClient: a.httpClient,
		Logger:     a.Logger,
	})
}

// Run executes one automation action against the default databases.
func (a *App) Run(ctx context.Context, action automation.Action, token, trigger string) (*automation.Report, error) {
	if token == "" {
		return nil, errors.New("notion token is required")
	}
	engine := automation.New(automation.Config{
		Database:  a.Client(token),
		Schema:    a.Config.Schema,
		Table:     a.Weeks.Table(),
		Options:   a.Config.AutomationOptions("", ""),
		Trigger:   trigger,
		Logger:    a.Logger,
		Observers: a.observers,
	})
	return engine.Run(ctx, action)
}

func (a *App) scheduledRun(ctx context.Context, action automation.Action) (*automation.Report, error) {
	return a.Run(ctx, action, a.Config.ScheduleToken(), "schedule")
}

// Start begins the background parts: the week map watcher and the
// scheduler. They stop when ctx ends or on Close.
func (a *App) Start(ctx context.Context) error {
	if a.Config.WeekMap.Watch && a.Weeks.Path() != "" {
		if err := a.Weeks.Watch(ctx); err != nil {
			return err
		}
	}
	if a.Scheduler != nil && a.Scheduler.Len() > 0 {
		a.Scheduler.Start()
	}
	return nil
}

// Close stops the scheduler and closes the run journal.
func (a *App) Close() error {
	var errs []error
	if a.Scheduler != nil {
		timeout := a.Config.Notion.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
		cancel()
	}
	if a.Runs != nil {
		if err := a.Runs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close run journal: %w", err))
		}
	}
	return errors.Join(errs...)
}
