package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/tasksync/automation"
	"github.com/GoCodeAlone/tasksync/runlog"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "tasksync dev") {
		t.Errorf("output = %q", out)
	}
}

func TestWeeksValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weeks.jsonc")
	doc := `{
  // first week of the quarter
  "start_date": "2025-08-04",
  "weeks": {"w1": 1, "w2": 2,},
}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "weeks", "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{": ok", "2025-08-04", "weeks:        2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("weeks: {w1: 1}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "weeks", "validate", bad); err == nil {
		t.Error("expected error for document without start_date")
	}
}

func TestWeeksValidateBuiltIn(t *testing.T) {
	out, err := execute(t, "weeks", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "(built-in): ok") {
		t.Errorf("output = %q", out)
	}
}

func TestScheduleTokenFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasksync.yaml")
	if err := os.WriteFile(path, []byte("schedule:\n  convert_tasks: \"@hourly\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TASKSYNC_NOTION_TOKEN", "")
	if _, err := execute(t, "weeks", "validate", "--config", path); err == nil {
		t.Error("expected error for a schedule without any token")
	}

	t.Setenv("TASKSYNC_NOTION_TOKEN", "env-token")
	if _, err := execute(t, "weeks", "validate", "--config", path); err != nil {
		t.Errorf("schedule with token from environment: %v", err)
	}
}

func TestScheduleSpecFromEnvironment(t *testing.T) {
	t.Setenv("TASKSYNC_NOTION_TOKEN", "")
	t.Setenv("TASKSYNC_SCHEDULE_SYNC_WEEK_REFERENCES", "@daily")
	_, err := execute(t, "weeks", "validate")
	if err == nil || !strings.Contains(err.Error(), "schedule requires") {
		t.Errorf("err = %v, want schedule token error", err)
	}
}

func TestRunsListAndShow(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "runs", "list", "--data-dir", dir)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "No runs recorded.") {
		t.Errorf("output = %q", out)
	}

	store, err := runlog.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2025, 8, 5, 9, 0, 0, 0, time.UTC)
	err = store.Record(&automation.Report{
		RunID:      "run-1",
		Action:     automation.ActionConvertTasks,
		Trigger:    "cli",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Summary:    automation.Summary{Candidates: 3, Errors: 1},
	})
	_ = store.Close()
	if err != nil {
		t.Fatal(err)
	}

	// Environment works the same as the flag.
	t.Setenv("TASKSYNC_DATA_DIR", dir)
	out, err = execute(t, "runs", "list", "--failed")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "run-1") || !strings.Contains(out, "convert_tasks") {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "runs", "show", "run-1")
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	if !strings.Contains(out, `"run-1"`) {
		t.Errorf("output = %q", out)
	}
	if _, err := execute(t, "runs", "show", "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
	if _, err := execute(t, "runs", "list", "--action", "bogus"); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestConvertRequiresToken(t *testing.T) {
	t.Setenv("TASKSYNC_NOTION_TOKEN", "")
	_, err := execute(t, "convert", "--data-dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "token") {
		t.Errorf("err = %v", err)
	}
}

func TestSyncWeeksJSON(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer env-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"object":"error","status":401,"code":"unauthorized","message":"bad token"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","results":[],"has_more":false}`)
	}))
	defer remote.Close()

	t.Setenv("TASKSYNC_NOTION_TOKEN", "env-token")
	t.Setenv("TASKSYNC_NOTION_BASE_URL", remote.URL)
	out, err := execute(t, "sync-weeks", "--json", "--record=false", "--data-dir", t.TempDir())
	if err != nil {
		t.Fatalf("sync-weeks: %v", err)
	}
	var resp struct {
		Success bool           `json:"success"`
		Action  string         `json:"action"`
		Message string         `json:"message"`
		Summary map[string]int `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !resp.Success || resp.Action != "sync_week_references" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Message != "Synced 0 of 0 milestones" {
		t.Errorf("message = %q", resp.Message)
	}

	// The flag wins over the environment.
	if _, err := execute(t, "sync-weeks", "--token", "wrong", "--record=false"); err == nil {
		t.Error("expected remote auth failure with --token wrong")
	}
}
