package milestone

import (
	"github.com/GoCodeAlone/tasksync/notion"
	"github.com/GoCodeAlone/tasksync/weekmap"
)

const provenance = "Auto-created from Task Bank"

// ProvenanceNotes returns the notes written on an auto-created milestone.
func ProvenanceNotes(taskNotes string) string {
	if taskNotes == "" {
		return provenance
	}
	return provenance + "\n\nOriginal Notes: " + taskNotes
}

// NewMilestoneRequest builds the create request for a milestone mirroring
// t. week may be nil when the week reference page could not be read.
func (s Schema) NewMilestoneRequest(databaseID string, t Task, week *Week, tbl *weekmap.Table) notion.CreatePageRequest {
	props := map[string]notion.Property{
		first(s.MilestoneTitle):        notion.TitleValue(t.Title),
		first(s.MilestoneDeadlineType): notion.SelectValue(DeadlineType(t.Priority)),
		first(s.MilestoneCompleted):    notion.CheckboxValue(false),
		first(s.MilestoneNotes):        notion.TextValue(ProvenanceNotes(t.Notes)),
	}
	if t.FocusArea != "" {
		props[first(s.MilestoneFocusArea)] = notion.SelectValue(t.FocusArea)
	}
	if t.WeekReference != "" {
		props[first(s.MilestoneWeekReference)] = notion.RelationValue(t.WeekReference)
		if tbl != nil {
			if scorecardID, ok := tbl.ScorecardWeek(t.WeekReference); ok {
				props[first(s.MilestoneScorecardWeek)] = notion.RelationValue(scorecardID)
			}
		}
	}
	if week != nil {
		if week.EndDate != "" {
			props[first(s.MilestoneDueDate)] = notion.DateValue(week.EndDate)
		}
		if week.StartDate != "" {
			props[first(s.MilestoneWeekStart)] = notion.DateValue(week.StartDate)
		}
	}
	return notion.CreatePageRequest{
		Parent:     notion.Parent{DatabaseID: databaseID},
		Properties: props,
	}
}

// LinkProperties returns the task update linking it to milestoneID. When
// status is non-empty the task's status is moved to it as well.
func (s Schema) LinkProperties(milestoneID, status string) map[string]notion.Property {
	props := map[string]notion.Property{
		first(s.TaskMilestone): notion.RelationValue(milestoneID),
	}
	if status != "" {
		props[first(s.TaskStatus)] = notion.SelectValue(status)
	}
	return props
}

// ScorecardProperties returns the milestone update setting its scorecard
// week relation.
func (s Schema) ScorecardProperties(scorecardID string) map[string]notion.Property {
	return map[string]notion.Property{
		first(s.MilestoneScorecardWeek): notion.RelationValue(scorecardID),
	}
}
