package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/GoCodeAlone/tasksync/milestone"
	"github.com/GoCodeAlone/tasksync/notion"
)

const (
	enrichPageSize = 100
	isoMillis      = "2006-01-02T15:04:05.000Z07:00"
)

type enrichRequest struct {
	Token          string `json:"token"`
	TasksDBID      string `json:"tasksDbId"`
	MilestonesDBID string `json:"milestonesDbId"`
}

type enrichDebug struct {
	TasksCount         int    `json:"tasksCount"`
	MilestonesCount    int    `json:"milestonesCount"`
	EnrichedTasksCount int    `json:"enrichedTasksCount"`
	Timestamp          string `json:"timestamp"`
}

type enrichResponse struct {
	Results             []json.RawMessage `json:"results"`
	Milestones          []json.RawMessage `json:"milestones"`
	TotalTasks          int               `json:"totalTasks"`
	TasksWithMilestones int               `json:"tasksWithMilestones"`
	Debug               enrichDebug       `json:"debug"`
}

// Enrich fetches tasks and milestones and annotates every task with the
// status implied by its linked milestone.
func (h *Handlers) Enrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	token := callerToken(req.Token, r)
	if token == "" || req.TasksDBID == "" || req.MilestonesDBID == "" {
		writeError(w, http.StatusBadRequest, "Missing token, tasksDbId, or milestonesDbId")
		return
	}

	client := h.Clients(token)
	tasks, err := client.QueryDatabase(r.Context(), req.TasksDBID, notion.Query{PageSize: enrichPageSize})
	if err != nil {
		h.writeRemoteError(w, r, "Tasks API error", err)
		return
	}
	milestones, err := client.QueryDatabase(r.Context(), req.MilestonesDBID, notion.Query{PageSize: enrichPageSize})
	if err != nil {
		h.writeRemoteError(w, r, "Milestones API error", err)
		return
	}

	schema := h.Config.Schema
	idx := schema.MilestoneIndex(milestones.Results)
	rawMilestones := make(map[string]json.RawMessage, len(milestones.Results))
	resp := enrichResponse{
		Results:    make([]json.RawMessage, 0, len(tasks.Results)),
		Milestones: make([]json.RawMessage, 0, len(milestones.Results)),
	}
	for _, p := range milestones.Results {
		raw, err := pageJSON(p)
		if err != nil {
			h.writeRemoteError(w, r, "Milestones API error", err)
			return
		}
		rawMilestones[p.ID] = raw
		resp.Milestones = append(resp.Milestones, raw)
	}

	for _, p := range tasks.Results {
		task := schema.ReadTask(p)
		linked := milestone.Resolve(task, idx)

		raw, err := pageJSON(p)
		if err == nil {
			raw, err = sjson.SetBytes(raw, "computedStatus", milestone.ComputeStatus(task, linked))
		}
		if err == nil {
			if linked != nil {
				raw, err = sjson.SetRawBytes(raw, "milestoneData", rawMilestones[linked.ID])
				resp.TasksWithMilestones++
			} else {
				raw, err = sjson.SetBytes(raw, "milestoneData", nil)
			}
		}
		if err != nil {
			h.writeRemoteError(w, r, "Tasks API error", err)
			return
		}
		resp.Results = append(resp.Results, raw)
	}

	resp.TotalTasks = len(resp.Results)
	resp.Debug = enrichDebug{
		TasksCount:         len(tasks.Results),
		MilestonesCount:    len(milestones.Results),
		EnrichedTasksCount: len(resp.Results),
		Timestamp:          h.now().UTC().Format(isoMillis),
	}
	h.logger().Info("enriched tasks",
		slog.Int("tasks", resp.TotalTasks),
		slog.Int("with_milestones", resp.TasksWithMilestones))
	writeJSON(w, http.StatusOK, resp)
}
