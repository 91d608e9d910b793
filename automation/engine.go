// Package automation turns planned tasks into weekly milestones and keeps
// milestones' scorecard week links in line with the week map.
//
// Items are processed one at a time. A failing item is recorded in the run
// report and the run moves on; only failing to fetch the candidate list
// fails the run.
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/GoCodeAlone/tasksync/milestone"
	"github.com/GoCodeAlone/tasksync/notion"
	"github.com/GoCodeAlone/tasksync/weekmap"
)

const (
	candidatePageSize = 100
	// duplicatePageSize bounds the title lookup. The check is best effort:
	// concurrent runs can both miss and both create.
	duplicatePageSize = 10
)

// Database is the part of the remote API a run needs.
type Database interface {
	QueryDatabase(ctx context.Context, databaseID string, q notion.Query) (*notion.QueryResult, error)
	RetrievePage(ctx context.Context, pageID string) (*notion.Page, error)
	CreatePage(ctx context.Context, req notion.CreatePageRequest) (*notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, props map[string]notion.Property) (*notion.Page, error)
}

// Options tune a run.
type Options struct {
	TasksDB      string
	MilestonesDB string

	// PlannedStatus narrows candidates to tasks with this status. Empty
	// selects on relations only.
	PlannedStatus string

	// InProgressStatus is written on a task when it is linked. Empty
	// leaves the status alone.
	InProgressStatus string

	DuplicateCheck bool

	// WeekDetails fetches each week reference page to copy its dates.
	WeekDetails bool

	// SyncDelay spaces updates during a week reference sync.
	SyncDelay time.Duration
}

// Config wires an Engine.
type Config struct {
	Database  Database
	Schema    milestone.Schema
	Table     *weekmap.Table
	Options   Options
	Trigger   string
	Logger    *slog.Logger
	Observers []Observer
}

// Engine runs automation actions against one token's view of the
// workspace. It is not safe to share between concurrent runs.
type Engine struct {
	db        Database
	schema    milestone.Schema
	table     *weekmap.Table
	opts      Options
	trigger   string
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Table == nil {
		cfg.Table = weekmap.Default()
	}
	if cfg.Trigger == "" {
		cfg.Trigger = "manual"
	}
	return &Engine{
		db:        cfg.Database,
		schema:    cfg.Schema.WithDefaults(),
		table:     cfg.Table,
		opts:      cfg.Options,
		trigger:   cfg.Trigger,
		logger:    cfg.Logger,
		observers: cfg.Observers,
		now:       time.Now,
	}
}

// Run dispatches to the action's implementation.
func (e *Engine) Run(ctx context.Context, action Action) (*Report, error) {
	switch action {
	case ActionConvertTasks:
		return e.ConvertTasks(ctx)
	case ActionSyncWeekReferences:
		return e.SyncWeekReferences(ctx)
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

// ConvertTasks creates a milestone for every task that has a week reference
// and no milestone yet, and links the task to it.
func (e *Engine) ConvertTasks(ctx context.Context) (*Report, error) {
	if e.opts.TasksDB == "" || e.opts.MilestonesDB == "" {
		return nil, fmt.Errorf("convert tasks: tasks and milestones database ids are required")
	}
	res, err := e.db.QueryDatabase(ctx, e.opts.TasksDB, notion.Query{
		Filter:   e.candidateFilter(),
		PageSize: candidatePageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("query candidate tasks: %w", err)
	}

	report := e.begin(ActionConvertTasks, len(res.Results))
	for _, page := range res.Results {
		e.done(report, e.convertOne(ctx, page))
	}
	e.finish(report)
	return report, nil
}

func (e *Engine) candidateFilter() json.RawMessage {
	clauses := []map[string]any{
		{"property": e.schema.TaskWeekReference[0], "relation": map[string]any{"is_not_empty": true}},
		{"property": e.schema.TaskMilestone[0], "relation": map[string]any{"is_empty": true}},
	}
	if e.opts.PlannedStatus != "" {
		clauses = append(clauses, map[string]any{
			"property": e.schema.TaskStatus[0],
			"select":   map[string]any{"equals": e.opts.PlannedStatus},
		})
	}
	data, _ := json.Marshal(map[string]any{"and": clauses})
	return data
}

func (e *Engine) convertOne(ctx context.Context, page notion.Page) Outcome {
	task, err := e.schema.TaskFromPage(page)
	if err != nil {
		return failed(page.ID, milestone.DefaultTitle, err)
	}
	out := Outcome{PageID: task.ID, Title: task.Title}

	if task.WeekReference == "" {
		out.Result, out.Detail = ResultSkipped, "no week reference"
		return out
	}
	if task.MilestoneID != "" {
		out.Result, out.Detail, out.MilestoneID = ResultSkipped, "already linked", task.MilestoneID
		return out
	}

	if e.opts.DuplicateCheck {
		existing, err := e.findMilestone(ctx, task.Title)
		if err != nil {
			return failed(task.ID, task.Title, fmt.Errorf("duplicate check: %w", err))
		}
		if existing != nil {
			if _, err := e.db.UpdatePage(ctx, task.ID, e.schema.LinkProperties(existing.ID, e.opts.InProgressStatus)); err != nil {
				return failed(task.ID, task.Title, fmt.Errorf("link existing milestone: %w", err))
			}
			out.Result, out.MilestoneID, out.Linked = ResultDuplicate, existing.ID, true
			out.Detail = "milestone with the same title already exists"
			return out
		}
	}

	var week *milestone.Week
	if e.opts.WeekDetails {
		wp, err := e.db.RetrievePage(ctx, task.WeekReference)
		if err != nil {
			e.logger.Warn("could not retrieve week details",
				slog.String("task", task.Title),
				slog.String("week_reference", task.WeekReference),
				slog.Any("err", err))
		} else {
			w := e.schema.ReadWeek(*wp)
			week = &w
			if n, ok := w.Number(); ok {
				out.Detail = fmt.Sprintf("week %d", n)
			}
		}
	}

	created, err := e.db.CreatePage(ctx, e.schema.NewMilestoneRequest(e.opts.MilestonesDB, task, week, e.table))
	if err != nil {
		return failed(task.ID, task.Title, fmt.Errorf("create milestone: %w", err))
	}
	out.MilestoneID, out.Created = created.ID, true

	if _, err := e.db.UpdatePage(ctx, task.ID, e.schema.LinkProperties(created.ID, e.opts.InProgressStatus)); err != nil {
		out.Result, out.Error = ResultFailed, fmt.Sprintf("link milestone: %v", err)
		return out
	}
	out.Result, out.Linked = ResultCreated, true
	return out
}

// findMilestone returns a milestone whose title equals title exactly, or
// nil when the first page of matches has none.
func (e *Engine) findMilestone(ctx context.Context, title string) (*milestone.Milestone, error) {
	filter, _ := json.Marshal(map[string]any{
		"property": e.schema.MilestoneTitle[0],
		"title":    map[string]any{"equals": title},
	})
	res, err := e.db.QueryDatabase(ctx, e.opts.MilestonesDB, notion.Query{
		Filter:   filter,
		PageSize: duplicatePageSize,
	})
	if err != nil {
		return nil, err
	}
	for _, p := range res.Results {
		m := e.schema.ReadMilestone(p)
		if m.Title == title {
			return &m, nil
		}
	}
	return nil, nil
}

// SyncWeekReferences points every milestone's scorecard week relation at
// the scorecard week mapped from its week reference.
func (e *Engine) SyncWeekReferences(ctx context.Context) (*Report, error) {
	if e.opts.MilestonesDB == "" {
		return nil, fmt.Errorf("sync week references: milestones database id is required")
	}
	pages, err := e.queryAll(ctx, e.opts.MilestonesDB, notion.Query{PageSize: candidatePageSize})
	if err != nil {
		return nil, fmt.Errorf("query milestones: %w", err)
	}

	var limiter *rate.Limiter
	if e.opts.SyncDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(e.opts.SyncDelay), 1)
	}

	report := e.begin(ActionSyncWeekReferences, len(pages))
	for _, page := range pages {
		e.done(report, e.syncOne(ctx, page, limiter))
	}
	e.finish(report)
	return report, nil
}

// queryAll follows next_cursor until the remote reports no more results.
func (e *Engine) queryAll(ctx context.Context, databaseID string, q notion.Query) ([]notion.Page, error) {
	var pages []notion.Page
	for {
		res, err := e.db.QueryDatabase(ctx, databaseID, q)
		if err != nil {
			return nil, err
		}
		pages = append(pages, res.Results...)
		if !res.HasMore || res.NextCursor == "" {
			return pages, nil
		}
		q.StartCursor = res.NextCursor
	}
}

func (e *Engine) syncOne(ctx context.Context, page notion.Page, limiter *rate.Limiter) Outcome {
	m := e.schema.ReadMilestone(page)
	out := Outcome{PageID: m.ID, Title: m.Title, MilestoneID: m.ID}

	if m.WeekReference == "" {
		out.Result, out.Detail = ResultSkipped, "no week reference"
		return out
	}
	expected, ok := e.table.ScorecardWeek(m.WeekReference)
	if !ok {
		out.Result, out.Detail = ResultSkipped, "week reference not in week map"
		return out
	}
	if weekmap.SameID(m.ScorecardWeek, expected) {
		out.Result, out.Detail = ResultSkipped, "already in sync"
		return out
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return failed(m.ID, m.Title, err)
		}
	}
	if _, err := e.db.UpdatePage(ctx, m.ID, e.schema.ScorecardProperties(expected)); err != nil {
		return failed(m.ID, m.Title, fmt.Errorf("update scorecard week: %w", err))
	}
	out.Result = ResultSynced
	out.Detail = fmt.Sprintf("scorecard week %s", expected)
	return out
}

func failed(pageID, title string, err error) Outcome {
	return Outcome{PageID: pageID, Title: title, Result: ResultFailed, Error: err.Error()}
}

func (e *Engine) begin(action Action, candidates int) *Report {
	r := &Report{
		RunID:     uuid.NewString(),
		Action:    action,
		Trigger:   e.trigger,
		StartedAt: e.now().UTC(),
		Items:     make([]Outcome, 0, candidates),
	}
	r.Summary.Candidates = candidates
	e.logger.Info("automation run started",
		slog.String("run_id", r.RunID),
		slog.String("action", string(action)),
		slog.Int("candidates", candidates))
	for _, o := range e.observers {
		o.RunStarted(r)
	}
	return r
}

func (e *Engine) done(r *Report, o Outcome) {
	r.add(o)
	attrs := []any{
		slog.String("run_id", r.RunID),
		slog.String("page_id", o.PageID),
		slog.String("title", o.Title),
		slog.String("result", string(o.Result)),
	}
	if o.Result == ResultFailed {
		e.logger.Error("automation item failed", append(attrs, slog.String("err", o.Error))...)
	} else {
		e.logger.Info("automation item done", attrs...)
	}
	for _, obs := range e.observers {
		obs.ItemDone(r, o)
	}
}

func (e *Engine) finish(r *Report) {
	r.FinishedAt = e.now().UTC()
	e.logger.Info("automation run finished",
		slog.String("run_id", r.RunID),
		slog.String("action", string(r.Action)),
		slog.Int("created", r.Summary.MilestonesCreated),
		slog.Int("linked", r.Summary.TasksLinked),
		slog.Int("synced", r.Summary.Synced),
		slog.Int("errors", r.Summary.Errors),
		slog.Duration("duration", r.Duration()))
	for _, o := range e.observers {
		o.RunFinished(r)
	}
}
