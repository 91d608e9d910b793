package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/tasksync/milestone"
	"github.com/GoCodeAlone/tasksync/notion"
	"github.com/GoCodeAlone/tasksync/weekmap"
)

const (
	tasksDB      = "tasks-db"
	milestonesDB = "milestones-db"
)

// fakeDB serves canned pages per database and records writes.
type fakeDB struct {
	mu sync.Mutex

	tasks      []notion.Page
	milestones []notion.Page
	weeks      map[string]notion.Page

	// pageSize > 0 splits unfiltered milestone queries into cursor pages.
	pageSize int

	queryErr    error
	createErr   map[string]error // by milestone title
	updateErr   map[string]error // by page id
	retrieveErr error

	queries []notion.Query
	created []notion.CreatePageRequest
	updates map[string]map[string]notion.Property
	order   []string
}

func (f *fakeDB) milestoneCursorPage(cursor string) (*notion.QueryResult, error) {
	if f.pageSize <= 0 {
		return &notion.QueryResult{Results: f.milestones}, nil
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "c"))
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", cursor)
		}
		start = n
	}
	end := min(start+f.pageSize, len(f.milestones))
	res := &notion.QueryResult{Results: f.milestones[start:end]}
	if end < len(f.milestones) {
		res.HasMore, res.NextCursor = true, fmt.Sprintf("c%d", end)
	}
	return res, nil
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		weeks:     map[string]notion.Page{},
		createErr: map[string]error{},
		updateErr: map[string]error{},
		updates:   map[string]map[string]notion.Property{},
	}
}

func (f *fakeDB) QueryDatabase(_ context.Context, id string, q notion.Query) (*notion.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	switch id {
	case tasksDB:
		return &notion.QueryResult{Results: f.tasks}, nil
	case milestonesDB:
		var filter struct {
			Title struct {
				Equals string `json:"equals"`
			} `json:"title"`
		}
		if len(q.Filter) > 0 {
			if err := json.Unmarshal(q.Filter, &filter); err != nil {
				return nil, err
			}
		}
		if filter.Title.Equals == "" {
			return f.milestoneCursorPage(q.StartCursor)
		}
		// Mimic the remote "equals" loosely so the exact check is exercised.
		var out []notion.Page
		for _, p := range f.milestones {
			if strings.HasPrefix(p.Properties["Task"].Text(), filter.Title.Equals) {
				out = append(out, p)
			}
		}
		return &notion.QueryResult{Results: out}, nil
	}
	return nil, fmt.Errorf("unknown database %q", id)
}

func (f *fakeDB) RetrievePage(_ context.Context, id string) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	p, ok := f.weeks[id]
	if !ok {
		return nil, &notion.APIError{StatusCode: 404, Code: "object_not_found"}
	}
	return &p, nil
}

func (f *fakeDB) CreatePage(_ context.Context, req notion.CreatePageRequest) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	title := req.Properties["Task"].Text()
	if err := f.createErr[title]; err != nil {
		return nil, err
	}
	f.created = append(f.created, req)
	id := fmt.Sprintf("ms-%d", len(f.created))
	f.order = append(f.order, "create:"+title)
	return &notion.Page{ID: id, Properties: req.Properties}, nil
}

func (f *fakeDB) UpdatePage(_ context.Context, id string, props map[string]notion.Property) (*notion.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[id]; err != nil {
		return nil, err
	}
	f.updates[id] = props
	f.order = append(f.order, "update:"+id)
	return &notion.Page{ID: id, Properties: props}, nil
}

func plannedTask(id, title, weekRef string) notion.Page {
	return notion.Page{ID: id, Properties: map[string]notion.Property{
		"Task":           notion.TitleValue(title),
		"Status":         notion.SelectValue(milestone.StatusPlanned),
		"Priority":       notion.SelectValue("High"),
		"Focus Area":     notion.SelectValue("Ops"),
		"Week Reference": notion.RelationValue(weekRef),
	}}
}

func milestonePage(id, title, weekRef, scorecard string) notion.Page {
	props := map[string]notion.Property{"Task": notion.TitleValue(title)}
	if weekRef != "" {
		props["Week Reference"] = notion.RelationValue(weekRef)
	}
	if scorecard != "" {
		props["Scorecard Week"] = notion.RelationValue(scorecard)
	}
	return notion.Page{ID: id, Properties: props}
}

func testTable(t *testing.T) *weekmap.Table {
	t.Helper()
	tbl, err := weekmap.New(time.Date(2025, 8, 4, 0, 0, 0, 0, time.UTC),
		map[string]int{"sc-1": 1, "sc-2": 2},
		map[string]string{"w1": "sc-1", "w2": "sc-2"})
	if err != nil {
		t.Fatalf("weekmap.New: %v", err)
	}
	return tbl
}

func newTestEngine(t *testing.T, db Database, opts Options, observers ...Observer) *Engine {
	t.Helper()
	if opts.TasksDB == "" {
		opts.TasksDB = tasksDB
	}
	if opts.MilestonesDB == "" {
		opts.MilestonesDB = milestonesDB
	}
	return New(Config{
		Database:  db,
		Schema:    milestone.DefaultSchema(),
		Table:     testTable(t),
		Options:   opts,
		Trigger:   "test",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observers: observers,
	})
}

func defaultOptions() Options {
	return Options{
		PlannedStatus:    milestone.StatusPlanned,
		InProgressStatus: milestone.StatusInProgress,
		DuplicateCheck:   true,
		WeekDetails:      true,
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"", ActionConvertTasks, false},
		{"convert_tasks", ActionConvertTasks, false},
		{"sync_week_references", ActionSyncWeekReferences, false},
		{"delete_everything", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAction(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConvertTasks_CreatesAndLinks(t *testing.T) {
	db := newFakeDB()
	db.tasks = []notion.Page{plannedTask("t1", "Write report", "w1")}
	db.weeks["w1"] = notion.Page{ID: "w1", Properties: map[string]notion.Property{
		"Name":       notion.TitleValue("Week 1"),
		"Start Date": notion.DateValue("2025-08-04"),
		"End Date":   notion.DateValue("2025-08-10"),
	}}

	report, err := newTestEngine(t, db, defaultOptions()).ConvertTasks(context.Background())
	if err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}

	if len(db.created) != 1 {
		t.Fatalf("created %d milestones, want 1", len(db.created))
	}
	req := db.created[0]
	if req.Parent.DatabaseID != milestonesDB {
		t.Errorf("parent = %q, want %q", req.Parent.DatabaseID, milestonesDB)
	}
	checks := map[string]string{
		"Task":           req.Properties["Task"].Text(),
		"Deadline Type":  req.Properties["Deadline Type"].OptionName(),
		"Scorecard Week": req.Properties["Scorecard Week"].FirstRelation(),
		"Week Reference": req.Properties["Week Reference"].FirstRelation(),
		"Due Date":       req.Properties["Due Date"].DateStart(),
	}
	want := map[string]string{
		"Task":           "Write report",
		"Deadline Type":  milestone.DeadlineCritical,
		"Scorecard Week": "sc-1",
		"Week Reference": "w1",
		"Due Date":       "2025-08-10",
	}
	for k, v := range want {
		if checks[k] != v {
			t.Errorf("%s = %q, want %q", k, checks[k], v)
		}
	}

	link := db.updates["t1"]
	if got := link["Milestone"].FirstRelation(); got != "ms-1" {
		t.Errorf("task milestone = %q, want ms-1", got)
	}
	if got := link["Status"].OptionName(); got != milestone.StatusInProgress {
		t.Errorf("task status = %q, want %q", got, milestone.StatusInProgress)
	}

	s := report.Summary
	if s.Candidates != 1 || s.MilestonesCreated != 1 || s.TasksLinked != 1 || s.Errors != 0 {
		t.Errorf("summary = %+v", s)
	}
	if report.Items[0].Result != ResultCreated {
		t.Errorf("result = %q, want %q", report.Items[0].Result, ResultCreated)
	}
	if report.RunID == "" || report.Trigger != "test" {
		t.Errorf("run id %q trigger %q", report.RunID, report.Trigger)
	}
	if got := db.order; len(got) != 2 || got[0] != "create:Write report" || got[1] != "update:t1" {
		t.Errorf("order = %v, want create before link", got)
	}
}

func TestConvertTasks_CandidateFilter(t *testing.T) {
	db := newFakeDB()
	if _, err := newTestEngine(t, db, defaultOptions()).ConvertTasks(context.Background()); err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}
	if len(db.queries) != 1 {
		t.Fatalf("queries = %d, want 1", len(db.queries))
	}
	filter := string(db.queries[0].Filter)
	for _, want := range []string{
		`"property":"Week Reference"`, `"is_not_empty":true`,
		`"property":"Milestone"`, `"is_empty":true`,
		`"equals":"` + milestone.StatusPlanned + `"`,
	} {
		if !strings.Contains(filter, want) {
			t.Errorf("filter %s missing %s", filter, want)
		}
	}

	db = newFakeDB()
	opts := defaultOptions()
	opts.PlannedStatus = ""
	if _, err := newTestEngine(t, db, opts).ConvertTasks(context.Background()); err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}
	if strings.Contains(string(db.queries[0].Filter), "equals") {
		t.Errorf("filter without planned status has a status clause: %s", db.queries[0].Filter)
	}
}

func TestConvertTasks_DuplicateLinksExisting(t *testing.T) {
	db := newFakeDB()
	db.tasks = []notion.Page{plannedTask("t1", "Write report", "w1")}
	db.milestones = []notion.Page{
		milestonePage("m-long", "Write report draft", "w1", ""),
		milestonePage("m-exact", "Write report", "w1", "sc-1"),
	}

	report, err := newTestEngine(t, db, defaultOptions()).ConvertTasks(context.Background())
	if err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}
	if len(db.created) != 0 {
		t.Errorf("created %d milestones, want 0", len(db.created))
	}
	if got := db.updates["t1"]["Milestone"].FirstRelation(); got != "m-exact" {
		t.Errorf("task linked to %q, want m-exact", got)
	}
	o := report.Items[0]
	if o.Result != ResultDuplicate || !o.Linked || o.Created {
		t.Errorf("outcome = %+v", o)
	}
	if report.Summary.DuplicatesSkipped != 1 || report.Summary.TasksLinked != 1 {
		t.Errorf("summary = %+v", report.Summary)
	}
}

func TestConvertTasks_DuplicateCheckDisabled(t *testing.T) {
	db := newFakeDB()
	db.tasks = []notion.Page{plannedTask("t1", "Write report", "w1")}
	db.milestones = []notion.Page{milestonePage("m-exact", "Write report", "w1", "")}
	opts := defaultOptions()
	opts.DuplicateCheck = false

	if _, err := newTestEngine(t, db, opts).ConvertTasks(context.Background()); err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}
	if len(db.created) != 1 {
		t.Errorf("created %d milestones, want 1", len(db.created))
	}
}

func TestConvertTasks_PartialFailure(t *testing.T) {
	db := newFakeDB()
	db.tasks = []notion.Page{
		plannedTask("t1", "One", "w1"),
		plannedTask("t2", "Two", "w1"),
		plannedTask("t3", "Three", "w2"),
		plannedTask("t4", "Four", "w2"),
	}
	db.createErr["Two"] = &notion.APIError{StatusCode: 400, Code: "validation_error", Message: "bad select"}
	db.updateErr["t4"] = errors.New("connection reset")
	opts := defaultOptions()
	opts.WeekDetails = false

	report, err := newTestEngine(t, db, opts).ConvertTasks(context.Background())
	if err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}
	s := report.Summary
	if s.Candidates != 4 || s.MilestonesCreated != 3 || s.TasksLinked != 2 || s.Errors != 2 {
		t.Errorf("summary = %+v", s)
	}
	failures := report.Failures()
	if len(failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(failures))
	}
	if failures[0].Title != "Two" || !strings.Contains(failures[0].Error, "bad select") {
		t.Errorf("failure[0] = %+v", failures[0])
	}
	// The milestone for t4 exists even though linking failed.
	if failures[1].Title != "Four" || failures[1].MilestoneID == "" || !failures[1].Created {
		t.Errorf("failure[1] = %+v", failures[1])
	}
	if got := db.updates["t3"]["Milestone"].FirstRelation(); got == "" {
		t.Error("task after a failure was not processed")
	}
}

func TestConvertTasks_NoCandidates(t *testing.T) {
	report, err := newTestEngine(t, newFakeDB(), defaultOptions()).ConvertTasks(context.Background())
	if err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}
	if got := report.Message(); got != "No planned tasks found to process" {
		t.Errorf("Message() = %q", got)
	}
	if len(report.Items) != 0 {
		t.Errorf("items = %d, want 0", len(report.Items))
	}
}

func TestConvertTasks_QueryFailureFailsRun(t *testing.T) {
	db := newFakeDB()
	db.queryErr = &notion.APIError{StatusCode: 401, Code: "unauthorized"}
	_, err := newTestEngine(t, db, defaultOptions()).ConvertTasks(context.Background())
	if !notion.IsUnauthorized(err) {
		t.Errorf("err = %v, want unauthorized", err)
	}
}

func TestConvertTasks_WeekDetailsFailureIsNotFatal(t *testing.T) {
	db := newFakeDB()
	db.tasks = []notion.Page{plannedTask("t1", "Write report", "w-missing")}

	report, err := newTestEngine(t, db, defaultOptions()).ConvertTasks(context.Background())
	if err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}
	if report.Summary.MilestonesCreated != 1 || report.Summary.Errors != 0 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if _, ok := db.created[0].Properties["Due Date"]; ok {
		t.Error("due date set without week details")
	}
	// Unmapped week reference leaves the scorecard relation off.
	if _, ok := db.created[0].Properties["Scorecard Week"]; ok {
		t.Error("scorecard week set for an unmapped week reference")
	}
}

func TestConvertTasks_SkipsAlreadyLinked(t *testing.T) {
	db := newFakeDB()
	linked := plannedTask("t1", "Done already", "w1")
	linked.Properties["Milestone"] = notion.RelationValue("m-1")
	db.tasks = []notion.Page{linked}

	report, err := newTestEngine(t, db, defaultOptions()).ConvertTasks(context.Background())
	if err != nil {
		t.Fatalf("ConvertTasks: %v", err)
	}
	if report.Items[0].Result != ResultSkipped || len(db.created) != 0 {
		t.Errorf("outcome = %+v, created = %d", report.Items[0], len(db.created))
	}
}

func TestSyncWeekReferences(t *testing.T) {
	db := newFakeDB()
	db.milestones = []notion.Page{
		milestonePage("m1", "Stale", "w1", "sc-2"),
		milestonePage("m2", "In sync", "w2", "SC-2"),
		milestonePage("m3", "Unmapped", "w9", ""),
		milestonePage("m4", "No ref", "", ""),
		milestonePage("m5", "Missing scorecard", "w2", ""),
		milestonePage("m6", "Broken", "w1", ""),
	}
	db.updateErr["m6"] = errors.New("boom")
	opts := defaultOptions()
	opts.SyncDelay = time.Millisecond

	report, err := newTestEngine(t, db, opts).SyncWeekReferences(context.Background())
	if err != nil {
		t.Fatalf("SyncWeekReferences: %v", err)
	}

	if got := db.updates["m1"]["Scorecard Week"].FirstRelation(); got != "sc-1" {
		t.Errorf("m1 scorecard = %q, want sc-1", got)
	}
	if got := db.updates["m5"]["Scorecard Week"].FirstRelation(); got != "sc-2" {
		t.Errorf("m5 scorecard = %q, want sc-2", got)
	}
	for _, id := range []string{"m2", "m3", "m4"} {
		if _, ok := db.updates[id]; ok {
			t.Errorf("%s was updated", id)
		}
	}
	s := report.Summary
	if s.Candidates != 6 || s.Synced != 2 || s.Skipped != 3 || s.Errors != 1 {
		t.Errorf("summary = %+v", s)
	}
	if got, want := report.Message(), "Synced 2 of 6 milestones"; got != want {
		t.Errorf("Message() = %q, want %q", got, want)
	}
}

func TestSyncWeekReferences_FollowsCursor(t *testing.T) {
	db := newFakeDB()
	db.pageSize = 100
	for i := range 150 {
		db.milestones = append(db.milestones, milestonePage(fmt.Sprintf("m%d", i), fmt.Sprintf("M %d", i), "w1", ""))
	}

	report, err := newTestEngine(t, db, defaultOptions()).SyncWeekReferences(context.Background())
	if err != nil {
		t.Fatalf("SyncWeekReferences: %v", err)
	}
	if s := report.Summary; s.Candidates != 150 || s.Synced != 150 {
		t.Errorf("summary = %+v, want 150 candidates all synced", s)
	}
	if len(db.updates) != 150 {
		t.Errorf("updates = %d, want 150", len(db.updates))
	}
	if len(db.queries) != 2 || db.queries[1].StartCursor != "c100" {
		t.Errorf("queries = %+v, want second page from c100", db.queries)
	}
}

func TestSyncWeekReferences_CanceledContext(t *testing.T) {
	db := newFakeDB()
	db.milestones = []notion.Page{
		milestonePage("m1", "A", "w1", ""),
		milestonePage("m2", "B", "w2", ""),
	}
	opts := defaultOptions()
	opts.SyncDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := newTestEngine(t, db, opts).SyncWeekReferences(ctx)
	if err != nil {
		t.Fatalf("SyncWeekReferences: %v", err)
	}
	// The first update goes out immediately; the second cannot wait an hour.
	if report.Summary.Synced != 1 || report.Summary.Errors != 1 {
		t.Errorf("summary = %+v", report.Summary)
	}
}

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) RunStarted(rep *Report) { r.events = append(r.events, "started:"+string(rep.Action)) }
func (r *recordingObserver) ItemDone(_ *Report, o Outcome) {
	r.events = append(r.events, "item:"+string(o.Result))
}
func (r *recordingObserver) RunFinished(rep *Report) {
	r.events = append(r.events, fmt.Sprintf("finished:%d", len(rep.Items)))
}

func TestObserverSeesRunLifecycle(t *testing.T) {
	db := newFakeDB()
	db.tasks = []notion.Page{plannedTask("t1", "One", "w1")}
	obs := &recordingObserver{}

	if _, err := newTestEngine(t, db, defaultOptions(), obs).Run(context.Background(), ActionConvertTasks); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"started:convert_tasks", "item:created", "finished:1"}
	if strings.Join(obs.events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", obs.events, want)
	}
}
