package milestone

import (
	"regexp"
	"strconv"

	"github.com/GoCodeAlone/tasksync/notion"
)

// DefaultTitle names tasks whose title is empty.
const DefaultTitle = "Untitled Task"

// Task is a Task Bank page.
type Task struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Status        string `json:"status,omitempty"`
	FocusArea     string `json:"focusArea,omitempty"`
	Priority      string `json:"priority,omitempty"`
	Notes         string `json:"notes,omitempty"`
	WeekReference string `json:"weekReference,omitempty"`
	MilestoneID   string `json:"milestoneId,omitempty"`
}

// Milestone is a Weekly Milestones page.
type Milestone struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	FocusArea     string `json:"focusArea,omitempty"`
	Completed     bool   `json:"completed"`
	DueDate       string `json:"dueDate,omitempty"`
	WeekReference string `json:"weekReference,omitempty"`
	ScorecardWeek string `json:"scorecardWeek,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Week is a week reference page.
type Week struct {
	ID        string
	Title     string
	StartDate string
	EndDate   string
}

var weekTitlePattern = regexp.MustCompile(`(?i)\bweek\s+(\d+)`)

// Number parses the ordinal out of a title such as "Week 3".
func (w Week) Number() (int, bool) {
	m := weekTitlePattern.FindStringSubmatch(w.Title)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ReadTask maps a page to a Task without validation. Absent optional
// properties become zero values; an empty title becomes DefaultTitle.
func (s Schema) ReadTask(p notion.Page) Task {
	t := Task{
		ID:            p.ID,
		Title:         text(p, s.TaskTitle),
		Status:        option(p, s.TaskStatus),
		FocusArea:     option(p, s.TaskFocusArea),
		Priority:      option(p, s.TaskPriority),
		Notes:         text(p, s.TaskNotes),
		WeekReference: relation(p, s.TaskWeekReference),
		MilestoneID:   relation(p, s.TaskMilestone),
	}
	if t.Title == "" {
		t.Title = DefaultTitle
	}
	return t
}

// TaskFromPage maps a page to a Task and requires the title property to
// exist, which is the signal that the page belongs to the tasks database.
func (s Schema) TaskFromPage(p notion.Page) (Task, error) {
	if _, ok := lookup(p, s.TaskTitle); !ok {
		return Task{}, &MissingFieldError{PageID: p.ID, Field: first(s.TaskTitle)}
	}
	return s.ReadTask(p), nil
}

// ReadMilestone maps a page to a Milestone without validation.
func (s Schema) ReadMilestone(p notion.Page) Milestone {
	completed, _ := lookup(p, s.MilestoneCompleted)
	return Milestone{
		ID:            p.ID,
		Title:         text(p, s.MilestoneTitle),
		FocusArea:     option(p, s.MilestoneFocusArea),
		Completed:     completed.Checked(),
		DueDate:       date(p, s.MilestoneDueDate),
		WeekReference: relation(p, s.MilestoneWeekReference),
		ScorecardWeek: relation(p, s.MilestoneScorecardWeek),
		Notes:         text(p, s.MilestoneNotes),
	}
}

// MilestoneFromPage maps a page to a Milestone and requires the title.
func (s Schema) MilestoneFromPage(p notion.Page) (Milestone, error) {
	if _, ok := lookup(p, s.MilestoneTitle); !ok {
		return Milestone{}, &MissingFieldError{PageID: p.ID, Field: first(s.MilestoneTitle)}
	}
	return s.ReadMilestone(p), nil
}

// ReadWeek maps a week reference page.
func (s Schema) ReadWeek(p notion.Page) Week {
	return Week{
		ID:        p.ID,
		Title:     text(p, s.WeekTitle),
		StartDate: date(p, s.WeekStartDate),
		EndDate:   date(p, s.WeekEndDate),
	}
}

// WeekReference returns the week reference linked from any page, task or
// milestone, or "" when there is none.
func (s Schema) WeekReference(p notion.Page) string {
	if id := relation(p, s.TaskWeekReference); id != "" {
		return id
	}
	return relation(p, s.MilestoneWeekReference)
}

// MilestoneIndex maps milestone page IDs to milestones.
func (s Schema) MilestoneIndex(pages []notion.Page) map[string]Milestone {
	idx := make(map[string]Milestone, len(pages))
	for _, p := range pages {
		idx[p.ID] = s.ReadMilestone(p)
	}
	return idx
}
