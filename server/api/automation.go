package api

import (
	"net/http"

	"github.com/GoCodeAlone/tasksync/automation"
	"github.com/GoCodeAlone/tasksync/notion"
)

type automationRequest struct {
	Token          string `json:"token"`
	Action         string `json:"action"`
	TasksDBID      string `json:"tasksDbId"`
	MilestonesDBID string `json:"milestonesDbId"`
}

type itemError struct {
	Task  string `json:"task"`
	Error string `json:"error"`
}

// AutomationResponse is the body of a successful automation call.
type AutomationResponse struct {
	Success bool                 `json:"success"`
	RunID   string               `json:"runId"`
	Action  automation.Action    `json:"action"`
	Message string               `json:"message"`
	Summary map[string]int       `json:"summary"`
	Errors  []itemError          `json:"errors,omitempty"`
	Items   []automation.Outcome `json:"items"`
}

type automationFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Automation runs convert_tasks or sync_week_references. GET requests read
// the action from the query string and the token from the Authorization
// header.
func (h *Handlers) Automation(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Action = q.Get("action")
		req.TasksDBID = q.Get("tasksDbId")
		req.MilestonesDBID = q.Get("milestonesDbId")
	} else if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	token := callerToken(req.Token, r)
	if token == "" {
		writeError(w, http.StatusBadRequest, "Notion token is required")
		return
	}
	action, err := automation.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine := automation.New(automation.Config{
		Database:  h.Clients(token),
		Schema:    h.Config.Schema,
		Table:     h.table(),
		Options:   h.Config.AutomationOptions(req.TasksDBID, req.MilestonesDBID),
		Trigger:   "http",
		Logger:    h.logger(),
		Observers: h.Observers,
	})
	report, err := engine.Run(r.Context(), action)
	if err != nil {
		status, code := http.StatusInternalServerError, ""
		msg := err.Error()
		if apiErr, ok := notion.AsAPIError(err); ok {
			status, code = apiErr.StatusCode, apiErr.Code
			msg = notion.FriendlyMessage(err)
		}
		writeJSON(w, status, automationFailure{
			Success: false,
			Error:   "Automation failed",
			Message: msg,
			Code:    code,
		})
		return
	}
	writeJSON(w, http.StatusOK, NewAutomationResponse(report))
}

// NewAutomationResponse renders a report the way the automation endpoint
// returns it.
func NewAutomationResponse(report *automation.Report) AutomationResponse {
	resp := AutomationResponse{
		Success: true,
		RunID:   report.RunID,
		Action:  report.Action,
		Message: report.Message(),
		Summary: summaryFor(report),
		Items:   report.Items,
	}
	for _, f := range report.Failures() {
		resp.Errors = append(resp.Errors, itemError{Task: f.Title, Error: f.Error})
	}
	return resp
}

func summaryFor(r *automation.Report) map[string]int {
	s := r.Summary
	if r.Action == automation.ActionSyncWeekReferences {
		return map[string]int{
			"milestonesProcessed": s.Candidates,
			"synced":              s.Synced,
			"skipped":             s.Skipped,
			"errors":              s.Errors,
		}
	}
	return map[string]int{
		"tasksProcessed":    s.Candidates,
		"milestonesCreated": s.MilestonesCreated,
		"tasksLinked":       s.TasksLinked,
		"duplicatesSkipped": s.DuplicatesSkipped,
		"errors":            s.Errors,
	}
}
