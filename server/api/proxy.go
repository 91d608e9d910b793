package api

import (
	"encoding/json"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/GoCodeAlone/tasksync/notion"
	"github.com/GoCodeAlone/tasksync/weekmap"
)

type queryRequest struct {
	Token       string          `json:"token"`
	DatabaseID  string          `json:"database_id"`
	DatabaseID2 string          `json:"databaseId"`
	Filter      json.RawMessage `json:"filter"`
	Sorts       []notion.Sort   `json:"sorts"`
	PageSize    int             `json:"page_size"`
	StartCursor string          `json:"start_cursor"`
}

// Query forwards a filtered, sorted query to a database and annotates each
// result with weekNumber, isCurrentWeek and computedStatus.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	token := callerToken(req.Token, r)
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing Notion token")
		return
	}
	dbID := req.DatabaseID
	if dbID == "" {
		dbID = req.DatabaseID2
	}
	if dbID == "" {
		writeError(w, http.StatusBadRequest, "Missing database_id")
		return
	}
	if string(req.Filter) == "null" {
		req.Filter = nil
	}

	q := notion.Query{
		Filter:      req.Filter,
		Sorts:       h.keepSorts(req.Sorts),
		PageSize:    h.pageSize(req.PageSize),
		StartCursor: req.StartCursor,
	}
	res, err := h.Clients(token).QueryDatabase(r.Context(), dbID, q)
	if err != nil {
		h.writeRemoteError(w, r, "Query failed", err)
		return
	}

	body, err := h.annotateResults(res)
	if err != nil {
		h.writeRemoteError(w, r, "Query failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// keepSorts drops sorts on properties that no longer exist.
func (h *Handlers) keepSorts(sorts []notion.Sort) []notion.Sort {
	if len(sorts) == 0 {
		return nil
	}
	removed := map[string]bool{}
	for _, p := range h.Config.Proxy.RemovedSortProperties {
		removed[p] = true
	}
	out := make([]notion.Sort, 0, len(sorts))
	for _, s := range sorts {
		if s.Property != "" && removed[s.Property] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (h *Handlers) pageSize(requested int) int {
	limit := h.Config.Proxy.MaxPageSize
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

// annotateResults rewrites the remote envelope, replacing results with
// annotated copies of each page's raw JSON.
func (h *Handlers) annotateResults(res *notion.QueryResult) ([]byte, error) {
	envelope := []byte(res.Raw)
	if len(envelope) == 0 {
		var err error
		envelope, err = json.Marshal(map[string]any{
			"object":      "list",
			"has_more":    res.HasMore,
			"next_cursor": nullable(res.NextCursor),
		})
		if err != nil {
			return nil, err
		}
	}

	tbl := h.table()
	now := h.now()
	schema := h.Config.Schema

	results := make([]json.RawMessage, 0, len(res.Results))
	for _, p := range res.Results {
		raw, err := pageJSON(p)
		if err != nil {
			return nil, err
		}
		week, ok := tbl.WeekNumber(schema.WeekReference(p))
		if ok {
			raw, err = sjson.SetBytes(raw, "weekNumber", week)
		} else {
			raw, err = sjson.SetBytes(raw, "weekNumber", nil)
		}
		if err != nil {
			return nil, err
		}
		if raw, err = sjson.SetBytes(raw, "isCurrentWeek", ok && tbl.IsCurrentWeek(week, now)); err != nil {
			return nil, err
		}
		if raw, err = sjson.SetBytes(raw, "computedStatus", schema.PageStatus(p)); err != nil {
			return nil, err
		}
		results = append(results, raw)
	}

	joined, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(envelope, "results", joined)
}

func (h *Handlers) table() *weekmap.Table {
	if h.Weeks == nil {
		return weekmap.Default()
	}
	return h.Weeks.Table()
}

func pageJSON(p notion.Page) ([]byte, error) {
	if len(p.Raw) > 0 {
		return append([]byte(nil), p.Raw...), nil
	}
	return json.Marshal(p)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
