package notion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQueryDatabase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/databases/db-1/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected Authorization=Bearer secret, got %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Notion-Version") != DefaultVersion {
			t.Errorf("expected Notion-Version=%s, got %s", DefaultVersion, r.Header.Get("Notion-Version"))
		}

		var q Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			t.Fatalf("decode query: %v", err)
		}
		if q.PageSize != 10 {
			t.Errorf("expected page_size 10, got %d", q.PageSize)
		}
		if string(q.Filter) != `{"property":"Status","select":{"equals":"Planned"}}` {
			t.Errorf("filter not forwarded verbatim: %s", q.Filter)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"results": [
				{"object":"page","id":"p1","properties":{
					"Task":{"id":"title","type":"title","title":[{"type":"text","text":{"content":"Write docs"},"plain_text":"Write docs"}]},
					"Done":{"type":"checkbox","checkbox":true},
					"Week Reference":{"type":"relation","relation":[{"id":"w1"}]}
				},"extra":"kept"}
			],
			"next_cursor": "abc",
			"has_more": true
		}`))
	}))
	defer server.Close()

	c := NewClient(Config{Token: "secret", BaseURL: server.URL})
	res, err := c.QueryDatabase(context.Background(), "db-1", Query{
		Filter:   json.RawMessage(`{"property":"Status","select":{"equals":"Planned"}}`),
		PageSize: 10,
	})
	if err != nil {
		t.Fatalf("QueryDatabase: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	if !res.HasMore || res.NextCursor != "abc" {
		t.Errorf("pagination = (%v, %q), want (true, abc)", res.HasMore, res.NextCursor)
	}

	p := res.Results[0]
	if got := p.Properties["Task"].Text(); got != "Write docs" {
		t.Errorf("title = %q, want %q", got, "Write docs")
	}
	if !p.Properties["Done"].Checked() {
		t.Error("expected Done checkbox to be true")
	}
	if got := p.Properties["Week Reference"].FirstRelation(); got != "w1" {
		t.Errorf("relation = %q, want w1", got)
	}

	var raw map[string]any
	if err := json.Unmarshal(p.Raw, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["extra"] != "kept" {
		t.Error("expected raw page JSON to keep unknown fields")
	}
}

func TestCreateAndUpdatePage(t *testing.T) {
	var created CreatePageRequest
	var patched map[string]map[string]Property

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/pages":
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatalf("decode create: %v", err)
			}
			_, _ = w.Write([]byte(`{"object":"page","id":"new-page","properties":{}}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/pages/task-1":
			if err := json.NewDecoder(r.Body).Decode(&patched); err != nil {
				t.Fatalf("decode patch: %v", err)
			}
			_, _ = w.Write([]byte(`{"object":"page","id":"task-1","properties":{}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(Config{Token: "secret", BaseURL: server.URL})
	page, err := c.CreatePage(context.Background(), CreatePageRequest{
		Parent: Parent{DatabaseID: "ms-db"},
		Properties: map[string]Property{
			"Task":      TitleValue("Ship it"),
			"Completed": CheckboxValue(false),
		},
	})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if page.ID != "new-page" {
		t.Errorf("page.ID = %q, want new-page", page.ID)
	}
	if created.Parent.DatabaseID != "ms-db" {
		t.Errorf("parent = %q, want ms-db", created.Parent.DatabaseID)
	}
	if created.Properties["Completed"].Checkbox == nil || *created.Properties["Completed"].Checkbox {
		t.Error("expected Completed=false to be sent explicitly")
	}
	if created.Properties["Task"].Text() != "Ship it" {
		t.Errorf("title = %q, want Ship it", created.Properties["Task"].Text())
	}

	if _, err := c.UpdatePage(context.Background(), "task-1", map[string]Property{
		"Milestone": RelationValue("new-page"),
	}); err != nil {
		t.Fatalf("UpdatePage: %v", err)
	}
	if got := patched["properties"]["Milestone"].FirstRelation(); got != "new-page" {
		t.Errorf("patched relation = %q, want new-page", got)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		notFound     bool
		unauthorized bool
		validation   bool
		rateLimited  bool
	}{
		{"not found", 404, `{"object":"error","status":404,"code":"object_not_found","message":"Could not find database"}`, true, false, false, false},
		{"unauthorized", 401, `{"object":"error","status":401,"code":"unauthorized","message":"API token is invalid."}`, false, true, false, false},
		{"validation", 400, `{"object":"error","status":400,"code":"validation_error","message":"body failed validation"}`, false, false, true, false},
		{"rate limited", 429, `{"object":"error","status":429,"code":"rate_limited","message":"slow down"}`, false, false, false, true},
		{"plain text", 502, `bad gateway`, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(Config{Token: "t", BaseURL: server.URL})
			_, err := c.RetrievePage(context.Background(), "x")
			if err == nil {
				t.Fatal("expected error")
			}
			apiErr, ok := AsAPIError(err)
			if !ok {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if IsNotFound(err) != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", IsNotFound(err), tt.notFound)
			}
			if IsUnauthorized(err) != tt.unauthorized {
				t.Errorf("IsUnauthorized = %v, want %v", IsUnauthorized(err), tt.unauthorized)
			}
			if IsValidation(err) != tt.validation {
				t.Errorf("IsValidation = %v, want %v", IsValidation(err), tt.validation)
			}
			if IsRateLimited(err) != tt.rateLimited {
				t.Errorf("IsRateLimited = %v, want %v", IsRateLimited(err), tt.rateLimited)
			}
		})
	}
}

func TestQueryDatabase_EmptyID(t *testing.T) {
	c := NewClient(Config{Token: "t"})
	if _, err := c.QueryDatabase(context.Background(), "", Query{}); err == nil {
		t.Fatal("expected error for empty database id")
	}
}
