package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default("plant-1"), nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	// Monday mid-shift on the default calendar.
	e.Now = func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) }
	if err := e.SeedFromConfig(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeInto(t, data, &envelope)
	return envelope.Error.Code
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, data)
	}
}

func TestJobLifecycle(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/jobs", map[string]any{
		"work_order": "1001",
		"customer":   "Acme Printing",
		"category":   "digital-quick",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create job: %d %s", resp.StatusCode, data)
	}
	var j domain.Job
	decodeInto(t, data, &j)
	if j.WorkOrder != "1001" || j.Category == nil {
		t.Fatalf("unexpected job %+v", j)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/jobs/"+j.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get job: %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/jobs/"+j.ID+"/expedite", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expedite: %d %s", resp.StatusCode, data)
	}
	decodeInto(t, data, &j)
	if !j.Expedited {
		t.Fatal("job not expedited")
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/jobs/"+j.ID+"/chain", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chain: %d %s", resp.StatusCode, data)
	}
	var c struct {
		Stages           []domain.WorkflowStage `json:"stages"`
		RemainingMinutes int                    `json:"remaining_minutes"`
	}
	decodeInto(t, data, &c)
	if len(c.Stages) != 3 || c.RemainingMinutes != 150 {
		t.Fatalf("chain payload: %s", data)
	}
}

func TestErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/jobs/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("error code: got %q, want not_found", code)
	}

	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/jobs", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("error code: got %q, want bad_request", code)
	}
}

func TestStageTransitionsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/jobs", map[string]any{
		"work_order": "2001",
		"category":   "digital-quick",
	})
	var j domain.Job
	decodeInto(t, data, &j)

	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/jobs/"+j.ID+"/stages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list stages: %d %s", resp.StatusCode, data)
	}
	var stages []domain.WorkflowStage
	decodeInto(t, data, &stages)
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}

	// Out-of-order start must be rejected with the validation code.
	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/stages/"+stages[1].ID+"/start", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "validation_failed" {
		t.Fatalf("error code: got %q", code)
	}

	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/stages/"+stages[0].ID+"/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start stage: %d %s", resp.StatusCode, data)
	}
	var ws domain.WorkflowStage
	decodeInto(t, data, &ws)
	if ws.Status != domain.StageActive {
		t.Fatalf("stage status: %s", ws.Status)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	ts := newTestServer(t)
	_, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/jobs", map[string]any{
		"work_order": "3001",
		"category":   "digital-quick",
	})

	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/scheduler/export", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", resp.StatusCode, data)
	}
	var snap SnapshotResponse
	decodeInto(t, data, &snap)
	if len(snap.Jobs) != 1 {
		t.Fatalf("snapshot jobs: %s", data)
	}

	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/scheduler/plan", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("plan: %d %s", resp.StatusCode, data)
	}
	var plan PlanResponse
	decodeInto(t, data, &plan)
	if plan.ScheduledCount != 1 || len(plan.Updates) != 1 {
		t.Fatalf("plan payload: %s", data)
	}

	// Dry run commits nothing.
	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/scheduler/run?commit=false&proposed=false", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dry run: %d %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/slots", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("slots: %d %s", resp.StatusCode, data)
	}
	var slots []domain.TimeSlot
	decodeInto(t, data, &slots)
	if len(slots) != 0 {
		t.Fatalf("dry run should leave no slots, got %d", len(slots))
	}

	// Committed non-proposed run materializes slots.
	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/scheduler/run?proposed=false", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("commit run: %d %s", resp.StatusCode, data)
	}
	_, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/slots", nil)
	slots = nil
	decodeInto(t, data, &slots)
	if len(slots) == 0 {
		t.Fatal("committed run should persist slots")
	}
}

func TestReconcileEndpointNoop(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/reconcile", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reconcile: %d %s", resp.StatusCode, data)
	}
	var sum engine.ReconcileSummary
	decodeInto(t, data, &sum)
	if !sum.Success {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestCapacityEndpoints(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, ts.client, http.MethodPut, ts.URL+"/v0/capacity/press", map[string]any{
		"daily_minutes":     960,
		"start":             "06:00",
		"end":               "22:00",
		"max_parallel_jobs": 2,
		"setup_minutes":     15,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set capacity: %d %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/capacity", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list capacity: %d %s", resp.StatusCode, data)
	}
	var profiles []domain.CapacityProfile
	decodeInto(t, data, &profiles)
	if len(profiles) != 1 || profiles[0].DailyMinutes != 960 {
		t.Fatalf("capacity payload: %s", data)
	}
}

func TestListFilters(t *testing.T) {
	ts := newTestServer(t)
	_, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/jobs", map[string]any{
		"work_order": "4001",
		"category":   "digital-quick",
	})
	var plain domain.Job
	decodeInto(t, data, &plain)
	_, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/jobs", map[string]any{
		"work_order": "4002",
		"category":   "digital-quick",
		"expedited":  true,
	})
	var rush domain.Job
	decodeInto(t, data, &rush)

	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/jobs?expedited=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list expedited: %d %s", resp.StatusCode, data)
	}
	var jobs []domain.Job
	decodeInto(t, data, &jobs)
	if len(jobs) != 1 || jobs[0].ID != rush.ID {
		t.Fatalf("expedited filter: %s", data)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/jobs?expedited=false", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list plain: %d %s", resp.StatusCode, data)
	}
	jobs = nil
	decodeInto(t, data, &jobs)
	if len(jobs) != 1 || jobs[0].ID != plain.ID {
		t.Fatalf("non-expedited filter: %s", data)
	}

	// Materialize slots, then filter on completion state.
	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/scheduler/run?proposed=false", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule: %d %s", resp.StatusCode, data)
	}
	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/slots?completed=false", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open slots: %d %s", resp.StatusCode, data)
	}
	var slots []domain.TimeSlot
	decodeInto(t, data, &slots)
	if len(slots) == 0 {
		t.Fatal("expected open slots after scheduling")
	}
	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/slots?completed=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("completed slots: %d %s", resp.StatusCode, data)
	}
	slots = nil
	decodeInto(t, data, &slots)
	if len(slots) != 0 {
		t.Fatalf("no slot should be completed yet: %s", data)
	}
}
