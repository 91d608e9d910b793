package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/GoCodeAlone/tasksync/automation"
	"github.com/GoCodeAlone/tasksync/runlog"
)

// ListRuns returns journaled runs, newest first. Query parameters: action,
// failed=true, limit.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run journal disabled")
		return
	}
	q := r.URL.Query()
	filter := runlog.Filter{Limit: 50}
	if a := q.Get("action"); a != "" {
		action, err := automation.ParseAction(a)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Action = action
	}
	if q.Get("failed") == "true" {
		filter.FailedOnly = true
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	runs, err := h.Runs.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*automation.Report{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun returns one journaled run with its items.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run journal disabled")
		return
	}
	run, err := h.Runs.Get(r.PathValue("id"))
	if errors.Is(err, runlog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}
