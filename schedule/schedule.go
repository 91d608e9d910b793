// Package schedule runs automation actions on cron schedules.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/tasksync/automation"
)

// Runner performs one automation run.
type Runner func(ctx context.Context, action automation.Action) (*automation.Report, error)

// Entry describes a registered schedule.
type Entry struct {
	Action automation.Action
	Spec   string
	Next   time.Time
}

// Scheduler triggers runs on cron specs. A run still in progress when its
// next tick arrives causes that tick to be skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *rcron.Cron
	runner  Runner
	logger  *slog.Logger
	entries map[rcron.EntryID]Entry
	ctx     context.Context
	cancel  context.CancelFunc
}

// parser accepts standard five-field specs, an optional leading seconds
// field, and descriptors such as @hourly.
var parser = rcron.NewParser(
	rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// New creates a Scheduler. Nothing runs until Start.
func New(runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: rcron.New(
			rcron.WithParser(parser),
			rcron.WithLogger(cl),
			rcron.WithChain(rcron.Recover(cl), rcron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		logger:  logger,
		entries: make(map[rcron.EntryID]Entry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add schedules action on spec. An empty spec is ignored.
func (s *Scheduler) Add(spec string, action automation.Action) error {
	if spec == "" {
		return nil
	}
	if _, err := automation.ParseAction(string(action)); err != nil {
		return err
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(action) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", action, spec, err)
	}
	s.mu.Lock()
	s.entries[id] = Entry{Action: action, Spec: spec}
	s.mu.Unlock()
	s.logger.Info("scheduled automation", slog.String("action", string(action)), slog.String("spec", spec))
	return nil
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns the registered schedules with their next run time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, ce := range s.cron.Entries() {
		e, ok := s.entries[ce.ID]
		if !ok {
			continue
		}
		e.Next = ce.Next
		out = append(out, e)
	}
	return out
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels in-flight ones, and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(action automation.Action) {
	report, err := s.runner(s.ctx, action)
	if err != nil {
		s.logger.Error("scheduled automation failed",
			slog.String("action", string(action)),
			slog.Any("err", err))
		return
	}
	s.logger.Info("scheduled automation finished",
		slog.String("action", string(action)),
		slog.String("run_id", report.RunID),
		slog.String("message", report.Message()),
		slog.Int("errors", report.Summary.Errors))
}

// cronLogger adapts slog to the cron package's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.Any("err", err))...)
}
