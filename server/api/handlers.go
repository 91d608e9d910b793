// Package api implements the HTTP handlers: the query proxy, the milestone
// enricher, the automation trigger and the run history.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/GoCodeAlone/tasksync/automation"
	"github.com/GoCodeAlone/tasksync/config"
	"github.com/GoCodeAlone/tasksync/notion"
	"github.com/GoCodeAlone/tasksync/runlog"
	"github.com/GoCodeAlone/tasksync/weekmap"
)

// ClientFactory builds a remote API client that authenticates as token.
type ClientFactory func(token string) automation.Database

// RunStore is the read side of the run journal.
type RunStore interface {
	Get(id string) (*automation.Report, error)
	List(filter runlog.Filter) ([]*automation.Report, error)
}

// Handlers bundles all handler dependencies.
type Handlers struct {
	Clients   ClientFactory
	Weeks     *weekmap.Store
	Config    *config.Config
	Runs      RunStore
	Observers []automation.Observer
	Logger    *slog.Logger
	Version   string
	StartAt   time.Time

	// Now is the clock for week and timestamp derivation; nil means time.Now.
	Now func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// remoteFailure is the body written when a remote call fails.
type remoteFailure struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// writeRemoteError forwards a remote API failure with its status code, or
// writes a 500 for anything that is not an API error. prefix labels the
// call that failed.
func (h *Handlers) writeRemoteError(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	apiErr, ok := notion.AsAPIError(err)
	if !ok {
		h.logger().Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, remoteFailure{
			Error:   "Internal server error",
			Details: err.Error(),
		})
		return
	}
	h.logger().Warn("remote call failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", apiErr.StatusCode),
		slog.String("code", apiErr.Code),
		slog.String("request_id", apiErr.RequestID))

	body := remoteFailure{
		Error:   prefix + ": " + notion.FriendlyMessage(err),
		Message: apiErr.Message,
		Code:    apiErr.Code,
	}
	if apiErr.Body != "" {
		if gjson.Valid(apiErr.Body) {
			body.Details = json.RawMessage(apiErr.Body)
		} else {
			body.Details = apiErr.Body
		}
	}
	writeJSON(w, apiErr.StatusCode, body)
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// callerToken returns the body token, falling back to an Authorization
// bearer header.
func callerToken(bodyToken string, r *http.Request) string {
	if bodyToken != "" {
		return bodyToken
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// --- Status ---

// Status reports version, uptime and the loaded week map.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": h.Version,
	}
	if !h.StartAt.IsZero() {
		resp["uptime"] = time.Since(h.StartAt).Round(time.Second).String()
	}
	if h.Weeks != nil {
		tbl := h.Weeks.Table()
		resp["weekmap"] = map[string]any{
			"path":        h.Weeks.Path(),
			"weeks":       tbl.Len(),
			"startDate":   tbl.StartDate().Format(time.DateOnly),
			"currentWeek": tbl.CurrentWeek(h.now()),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
