// Package milestone maps task and milestone pages to typed records and
// holds the business rules that connect them: computed status, deadline
// type, and the shape of an auto-created milestone.
package milestone

import (
	"fmt"

	"github.com/GoCodeAlone/tasksync/notion"
)

// Schema names the properties used in the tasks, milestones, and week
// reference databases. Each list is tried in order when reading; the first
// name is used when writing.
type Schema struct {
	TaskTitle         []string `json:"task_title" yaml:"task_title"`
	TaskStatus        []string `json:"task_status" yaml:"task_status"`
	TaskFocusArea     []string `json:"task_focus_area" yaml:"task_focus_area"`
	TaskPriority      []string `json:"task_priority" yaml:"task_priority"`
	TaskNotes         []string `json:"task_notes" yaml:"task_notes"`
	TaskWeekReference []string `json:"task_week_reference" yaml:"task_week_reference"`
	TaskMilestone     []string `json:"task_milestone" yaml:"task_milestone"`

	MilestoneTitle         []string `json:"milestone_title" yaml:"milestone_title"`
	MilestoneFocusArea     []string `json:"milestone_focus_area" yaml:"milestone_focus_area"`
	MilestoneCompleted     []string `json:"milestone_completed" yaml:"milestone_completed"`
	MilestoneDueDate       []string `json:"milestone_due_date" yaml:"milestone_due_date"`
	MilestoneWeekStart     []string `json:"milestone_week_start" yaml:"milestone_week_start"`
	MilestoneWeekReference []string `json:"milestone_week_reference" yaml:"milestone_week_reference"`
	MilestoneScorecardWeek []string `json:"milestone_scorecard_week" yaml:"milestone_scorecard_week"`
	MilestoneDeadlineType  []string `json:"milestone_deadline_type" yaml:"milestone_deadline_type"`
	MilestoneNotes         []string `json:"milestone_notes" yaml:"milestone_notes"`

	WeekTitle     []string `json:"week_title" yaml:"week_title"`
	WeekStartDate []string `json:"week_start_date" yaml:"week_start_date"`
	WeekEndDate   []string `json:"week_end_date" yaml:"week_end_date"`
}

// DefaultSchema returns the property names of the Task Bank and Weekly
// Milestones databases.
func DefaultSchema() Schema {
	return Schema{
		TaskTitle:         []string{"Task", "Name"},
		TaskStatus:        []string{"Status"},
		TaskFocusArea:     []string{"Focus Area"},
		TaskPriority:      []string{"Priority"},
		TaskNotes:         []string{"Notes"},
		TaskWeekReference: []string{"Week Reference"},
		TaskMilestone:     []string{"Milestone", "Linked to Weekly Milestone"},

		MilestoneTitle:         []string{"Task", "Name"},
		MilestoneFocusArea:     []string{"Focus Area"},
		MilestoneCompleted:     []string{"Completed"},
		MilestoneDueDate:       []string{"Due Date"},
		MilestoneWeekStart:     []string{"Week Start Date"},
		MilestoneWeekReference: []string{"Week Reference"},
		MilestoneScorecardWeek: []string{"Scorecard Week"},
		MilestoneDeadlineType:  []string{"Deadline Type"},
		MilestoneNotes:         []string{"Notes"},

		WeekTitle:     []string{"Name", "Week"},
		WeekStartDate: []string{"Start Date"},
		WeekEndDate:   []string{"End Date"},
	}
}

// WithDefaults fills every empty name list from DefaultSchema.
func (s Schema) WithDefaults() Schema {
	d := DefaultSchema()
	fill := func(dst *[]string, src []string) {
		if len(*dst) == 0 {
			*dst = src
		}
	}
	fill(&s.TaskTitle, d.TaskTitle)
	fill(&s.TaskStatus, d.TaskStatus)
	fill(&s.TaskFocusArea, d.TaskFocusArea)
	fill(&s.TaskPriority, d.TaskPriority)
	fill(&s.TaskNotes, d.TaskNotes)
	fill(&s.TaskWeekReference, d.TaskWeekReference)
	fill(&s.TaskMilestone, d.TaskMilestone)
	fill(&s.MilestoneTitle, d.MilestoneTitle)
	fill(&s.MilestoneFocusArea, d.MilestoneFocusArea)
	fill(&s.MilestoneCompleted, d.MilestoneCompleted)
	fill(&s.MilestoneDueDate, d.MilestoneDueDate)
	fill(&s.MilestoneWeekStart, d.MilestoneWeekStart)
	fill(&s.MilestoneWeekReference, d.MilestoneWeekReference)
	fill(&s.MilestoneScorecardWeek, d.MilestoneScorecardWeek)
	fill(&s.MilestoneDeadlineType, d.MilestoneDeadlineType)
	fill(&s.MilestoneNotes, d.MilestoneNotes)
	fill(&s.WeekTitle, d.WeekTitle)
	fill(&s.WeekStartDate, d.WeekStartDate)
	fill(&s.WeekEndDate, d.WeekEndDate)
	return s
}

// MissingFieldError reports a required property that a page does not have.
type MissingFieldError struct {
	PageID string
	Field  string
}

func (err *MissingFieldError) Error() string {
	return fmt.Sprintf("page %s: missing required property %q", err.PageID, err.Field)
}

// lookup returns the first property among names that has a value. When
// every candidate is present but empty, the first present one is
// returned so callers can still tell "empty" from "absent".
func lookup(p notion.Page, names []string) (notion.Property, bool) {
	var fallback notion.Property
	present := false
	for _, name := range names {
		prop, ok := p.Properties[name]
		if !ok {
			continue
		}
		if !isEmpty(prop) {
			return prop, true
		}
		if !present {
			fallback, present = prop, true
		}
	}
	return fallback, present
}

func isEmpty(p notion.Property) bool {
	return p.Text() == "" &&
		p.OptionName() == "" &&
		len(p.Relation) == 0 &&
		p.DateStart() == "" &&
		p.Checkbox == nil &&
		p.Number == nil
}

func text(p notion.Page, names []string) string {
	prop, _ := lookup(p, names)
	return prop.Text()
}

func option(p notion.Page, names []string) string {
	prop, _ := lookup(p, names)
	return prop.OptionName()
}

func relation(p notion.Page, names []string) string {
	prop, _ := lookup(p, names)
	return prop.FirstRelation()
}

func date(p notion.Page, names []string) string {
	prop, _ := lookup(p, names)
	return prop.DateStart()
}

// first is the name used when writing a property.
func first(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
