package automation

import (
	"fmt"
	"time"
)

// Action selects what a run does.
type Action string

const (
	ActionConvertTasks       Action = "convert_tasks"
	ActionSyncWeekReferences Action = "sync_week_references"
)

// ParseAction validates an action name. The empty string means
// ActionConvertTasks.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case "", ActionConvertTasks:
		return ActionConvertTasks, nil
	case ActionSyncWeekReferences:
		return ActionSyncWeekReferences, nil
	default:
		return "", fmt.Errorf("unknown action %q (want %s or %s)", s, ActionConvertTasks, ActionSyncWeekReferences)
	}
}

// Result is what happened to one item of a run.
type Result string

const (
	ResultCreated   Result = "created"
	ResultDuplicate Result = "linked_existing"
	ResultSynced    Result = "synced"
	ResultSkipped   Result = "skipped"
	ResultFailed    Result = "failed"
)

// Outcome is the per-item entry of a Report.
type Outcome struct {
	PageID      string `json:"pageId"`
	Title       string `json:"title"`
	Result      Result `json:"result"`
	MilestoneID string `json:"milestoneId,omitempty"`
	Created     bool   `json:"created,omitempty"`
	Linked      bool   `json:"linked,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Summary holds the aggregate counts of a run.
type Summary struct {
	Candidates        int `json:"candidates"`
	MilestonesCreated int `json:"milestonesCreated"`
	TasksLinked       int `json:"tasksLinked"`
	DuplicatesSkipped int `json:"duplicatesSkipped"`
	Synced            int `json:"synced"`
	Skipped           int `json:"skipped"`
	Errors            int `json:"errors"`
}

// Report is the result of one run. A run that reached the item loop always
// produces a Report, however many items failed.
type Report struct {
	RunID      string    `json:"runId"`
	Action     Action    `json:"action"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Summary    Summary   `json:"summary"`
	Items      []Outcome `json:"items"`
}

func (r *Report) add(o Outcome) {
	r.Items = append(r.Items, o)
	if o.Created {
		r.Summary.MilestonesCreated++
	}
	if o.Linked {
		r.Summary.TasksLinked++
	}
	switch o.Result {
	case ResultDuplicate:
		r.Summary.DuplicatesSkipped++
	case ResultSynced:
		r.Summary.Synced++
	case ResultSkipped:
		r.Summary.Skipped++
	case ResultFailed:
		r.Summary.Errors++
	}
}

// Failures returns the failed items in run order.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Items {
		if o.Result == ResultFailed {
			out = append(out, o)
		}
	}
	return out
}

// Message is a one-line human summary.
func (r *Report) Message() string {
	switch r.Action {
	case ActionSyncWeekReferences:
		return fmt.Sprintf("Synced %d of %d milestones", r.Summary.Synced, r.Summary.Candidates)
	default:
		if r.Summary.Candidates == 0 {
			return "No planned tasks found to process"
		}
		return fmt.Sprintf("Processed %d tasks", r.Summary.Candidates)
	}
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Observer receives progress of runs as they happen.
type Observer interface {
	RunStarted(r *Report)
	ItemDone(r *Report, o Outcome)
	RunFinished(r *Report)
}
