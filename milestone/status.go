package milestone

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/tasksync/notion"
)

// Task Bank status labels.
const (
	StatusPlanned    = "📅 Planned"
	StatusInProgress = "🔄 In Progress"
)

// Computed status labels, annotated on responses only.
const (
	ComputedCompleted  = "✅ Completed"
	ComputedInProgress = "🚀 In Progress"
	ComputedDraft      = "📝 Draft"
)

// Deadline types written on new milestones.
const (
	DeadlineCritical = "Critical (Fixed)"
	DeadlineTarget   = "Target"
	DeadlineFlexible = "Flexible"
)

var deadlineByPriority = map[string]string{
	"High":   DeadlineCritical,
	"P1":     DeadlineCritical,
	"Medium": DeadlineTarget,
	"P2":     DeadlineTarget,
	"Low":    DeadlineFlexible,
	"P3":     DeadlineFlexible,
}

// DeadlineType maps a task priority label to a milestone deadline type.
// Labels may carry decoration ("🔥 high"); the first recognised word wins.
// Unrecognised or empty priorities map to Target.
func DeadlineType(priority string) string {
	caser := cases.Title(language.English)
	for _, word := range strings.Fields(priority) {
		if dt, ok := deadlineByPriority[caser.String(strings.ToLower(word))]; ok {
			return dt
		}
	}
	return DeadlineTarget
}

// ComputeStatus decides a task's status from its resolved milestone. A nil
// linked milestone means the task has no link, or links to a milestone that
// was not fetched; both fall through to the task's own status.
func ComputeStatus(t Task, linked *Milestone) string {
	switch {
	case linked != nil && linked.Completed:
		return ComputedCompleted
	case linked != nil:
		return ComputedInProgress
	case t.Status != "":
		return t.Status
	default:
		return ComputedDraft
	}
}

// Resolve looks up a task's linked milestone in idx.
func Resolve(t Task, idx map[string]Milestone) *Milestone {
	if t.MilestoneID == "" {
		return nil
	}
	m, ok := idx[t.MilestoneID]
	if !ok {
		return nil
	}
	return &m
}

// PageStatus labels an arbitrary page without looking anything up: a
// checked completion flag wins, then a milestone link, then the page's own
// status.
func (s Schema) PageStatus(p notion.Page) string {
	if completed, ok := lookup(p, s.MilestoneCompleted); ok && completed.Checked() {
		return ComputedCompleted
	}
	if relation(p, s.TaskMilestone) != "" {
		return ComputedInProgress
	}
	if st := option(p, s.TaskStatus); st != "" {
		return st
	}
	return ComputedDraft
}
