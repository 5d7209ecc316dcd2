package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/except-pass/telltale/internal/queue"
	mid "github.com/except-pass/telltale/internal/server/middleware"
	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/store/memory"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"
)

type fakeChannel struct {
	published []amqp091.Publishing
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	f.published = append(f.published, msg)
	return nil
}

type fakeReports map[string][]byte

func (f fakeReports) GetReport(ctx context.Context, key string) ([]byte, error) {
	return f[key], nil
}

func newTestApp(t *testing.T) (*echo.Echo, *mid.App) {
	t.Helper()
	app := &mid.App{
		Store:       memory.NewMemoryStorage(),
		Runs:        semaphore.NewWeighted(2),
		Parallelism: 2,
		MaxCases:    1000,
	}
	return New(app), app
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("expected json body, got %q (%v)", rec.Body.String(), err)
	}
	return out
}

func createSpeaker(t *testing.T, e *echo.Echo) {
	t.Helper()
	doc, err := loader.Example("speaker")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := do(e, http.MethodPost, "/api/graphs", string(body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

const deadBatteryInputs = `{
	"observation_states": {"No Music": "present"},
	"sensor_values": {"battery_voltage": 3.5, "switch_status": 1}
}`

func TestHealthAndSchema(t *testing.T) {
	e, _ := newTestApp(t)

	if rec := do(e, http.MethodGet, "/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("expected OK, got %d %q", rec.Code, rec.Body.String())
	}

	rec := do(e, http.MethodGet, "/api/schema", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "failure_modes") {
		t.Fatalf("expected graph schema, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/schema?kind=expectations", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "confidence") {
		t.Fatalf("expected expectations schema, got %d", rec.Code)
	}

	if rec := do(e, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected metrics, got %d", rec.Code)
	}
}

func TestGraphLifecycle(t *testing.T) {
	e, _ := newTestApp(t)
	createSpeaker(t, e)

	rec := do(e, http.MethodGet, "/api/graphs", "")
	list := decode[[]store.GraphSummary](t, rec)
	if len(list) != 1 || list[0].ID != "speaker" || list[0].FailureModes != 4 {
		t.Fatalf("unexpected graph list %+v", list)
	}

	rec = do(e, http.MethodGet, "/api/graphs/speaker", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	doc := decode[loader.GraphDocument](t, rec)
	if len(doc.EvidenceRelationships) != 7 || len(doc.Expectations) != 3 {
		t.Fatalf("unexpected document %+v", doc)
	}

	if rec := do(e, http.MethodDelete, "/api/graphs/speaker", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/graphs/speaker", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestCreateGraphErrors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		status      int
	}{
		{name: "not a document", body: `"nope"`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"name": "x", "failure_mode": []}`, status: http.StatusBadRequest},
		{name: "missing names", body: `{"failure_modes": [{"description": "no name"}]}`, status: http.StatusBadRequest},
		{
			name: "yaml",
			body: "id: tiny\nfailure_modes:\n  - name: Fuse\nobservations:\n  - name: Dark\n" +
				"evidence_relationships:\n  - observation: Dark\n    failure_mode: Fuse\n    when_true_strength: suggests\n",
			contentType: "application/yaml",
			status:      http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestApp(t)
			req := httptest.NewRequest(http.MethodPost, "/api/graphs", strings.NewReader(tt.body))
			contentType := tt.contentType
			if contentType == "" {
				contentType = echo.MIMEApplicationJSON
			}
			req.Header.Set(echo.HeaderContentType, contentType)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDiagnose(t *testing.T) {
	e, _ := newTestApp(t)
	createSpeaker(t, e)

	rec := do(e, http.MethodPost, "/api/graphs/speaker/diagnose", deadBatteryInputs)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	diagnosis := decode[diagnostic.Diagnosis](t, rec)
	if len(diagnosis.Candidates) == 0 {
		t.Fatalf("expected candidates, got none")
	}
	top := diagnosis.Candidates[0]
	if top.FailureMode != "Dead Battery" || top.StrongestSignal != "confirms" {
		t.Fatalf("expected Dead Battery (confirms) first, got %+v", top)
	}
}

func TestDiagnoseErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "unknown graph", path: "/api/graphs/missing/diagnose", body: `{}`, status: http.StatusNotFound},
		{name: "unknown observation", path: "/api/graphs/speaker/diagnose", body: `{"observation_states": {"Smoke": "present"}}`, status: http.StatusUnprocessableEntity},
		{name: "unknown sensor", path: "/api/graphs/speaker/recommend", body: `{"sensor_values": {"temperature": 80}}`, status: http.StatusUnprocessableEntity},
		{name: "invalid state", path: "/api/graphs/speaker/diagnose", body: `{"observation_states": {"No Music": "maybe"}}`, status: http.StatusBadRequest},
		{name: "malformed body", path: "/api/graphs/speaker/diagnose", body: `{"observation_states": [`, status: http.StatusBadRequest},
		{name: "explain without failure mode", path: "/api/graphs/speaker/explain", body: `{}`, status: http.StatusBadRequest},
		{name: "explain unknown failure mode", path: "/api/graphs/speaker/explain", body: `{"failure_mode": "Blown Fuse"}`, status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestApp(t)
			createSpeaker(t, e)
			if rec := do(e, http.MethodPost, tt.path, tt.body); rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRecommendAndExplain(t *testing.T) {
	e, _ := newTestApp(t)
	createSpeaker(t, e)

	rec := do(e, http.MethodPost, "/api/graphs/speaker/recommend", `{"observation_states": {"No Music": "present"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	suggestions := decode[struct {
		Suggestions []diagnostic.TestSuggestion `json:"suggestions"`
	}](t, rec)
	found := false
	for _, s := range suggestions.Suggestions {
		if s.Entity == "battery_voltage" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected battery_voltage to be suggested, got %+v", suggestions.Suggestions)
	}

	body := `{"failure_mode": "Dead Battery", "observation_states": {"No Music": "present"}, "sensor_values": {"battery_voltage": 3.5}}`
	rec = do(e, http.MethodPost, "/api/graphs/speaker/explain", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	explanation := decode[struct {
		FailureMode string `json:"failure_mode"`
		Status      string `json:"status"`
		Text        string `json:"text"`
	}](t, rec)
	if explanation.FailureMode != "Dead Battery" || explanation.Status != "candidate" {
		t.Fatalf("unexpected explanation %+v", explanation)
	}
	if !strings.Contains(explanation.Text, "Explanation for diagnosis: 'Dead Battery'") {
		t.Fatalf("expected explanation text, got %q", explanation.Text)
	}
}

func TestExpectations(t *testing.T) {
	e, _ := newTestApp(t)
	createSpeaker(t, e)

	conflicting := `[{"observations": ["No Music"], "sensor_values": {"battery_voltage": 3.5, "switch_status": 1}, "expected": []}]`
	if rec := do(e, http.MethodPost, "/api/graphs/speaker/expectations", conflicting); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rec.Code, rec.Body.String())
	}

	unknown := `{"expectations": [{"observations": ["Smoke"], "expected": []}]}`
	if rec := do(e, http.MethodPost, "/api/graphs/speaker/expectations", unknown); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rec.Code, rec.Body.String())
	}

	invalid := `[{"observations": [], "expected": [{"failure_mode": "Mute Mode", "confidence": "certain"}]}]`
	if rec := do(e, http.MethodPost, "/api/graphs/speaker/expectations", invalid); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
	}

	fresh := `[{"observations": ["Buzz or Hiss"], "expected": [{"failure_mode": "Speaker Broken", "confidence": "suggests"}]}]`
	rec := do(e, http.MethodPost, "/api/graphs/speaker/expectations", fresh)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	added := decode[struct {
		Registered int `json:"registered"`
		Total      int `json:"total"`
	}](t, rec)
	if added.Registered != 1 || added.Total != 4 {
		t.Fatalf("expected 1 registered of 4, got %+v", added)
	}

	rec = do(e, http.MethodGet, "/api/graphs/speaker/expectations", "")
	list := decode[loader.ExpectationsDocument](t, rec)
	if list.GraphID != "speaker" || len(list.Expectations) != 4 {
		t.Fatalf("expected 4 expectations, got %+v", list)
	}

	if rec := do(e, http.MethodPost, "/api/graphs/missing/expectations", fresh); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

const deadBatteryTable = `{
	"vary_observations": ["No Music"],
	"fixed_sensor_values": {"battery_voltage": 3.5, "switch_status": 1}
}`

func TestRunTruthTable(t *testing.T) {
	e, _ := newTestApp(t)
	createSpeaker(t, e)

	rec := do(e, http.MethodPost, "/api/graphs/speaker/truth-table", deadBatteryTable)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[struct {
		Summary truthtable.Summary      `json:"summary"`
		Results []truthtable.CaseResult `json:"results"`
	}](t, rec)
	if res.Summary.Total != 2 || res.Summary.Verified != 1 || len(res.Results) != 2 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}

	csvBody := `{"vary_observations": ["No Music"], "fixed_sensor_values": {"battery_voltage": 3.5, "switch_status": 1}, "format": "csv"}`
	rec = do(e, http.MethodPost, "/api/graphs/speaker/truth-table", csvBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/csv") {
		t.Fatalf("expected csv content type, got %q", rec.Header().Get(echo.HeaderContentType))
	}
}

func TestRunTruthTableErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "unknown graph", path: "/api/graphs/missing/truth-table", body: `{}`, status: http.StatusNotFound},
		{name: "not in play", path: "/api/graphs/speaker/truth-table", body: `{"vary_observations": ["Smoke"]}`, status: http.StatusBadRequest},
		{name: "bad format", path: "/api/graphs/speaker/truth-table", body: `{"format": "pdf"}`, status: http.StatusBadRequest},
		{name: "too many cases", path: "/api/graphs/speaker/truth-table", body: `{"max_cases": 1}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestApp(t)
			createSpeaker(t, e)
			if rec := do(e, http.MethodPost, tt.path, tt.body); rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRunTruthTableBusy(t *testing.T) {
	e, app := newTestApp(t)
	createSpeaker(t, e)
	app.Runs = semaphore.NewWeighted(1)
	if !app.Runs.TryAcquire(1) {
		t.Fatal("expected to acquire the only slot")
	}
	defer app.Runs.Release(1)

	if rec := do(e, http.MethodPost, "/api/graphs/speaker/truth-table", deadBatteryTable); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
}

func TestTruthTableJobs(t *testing.T) {
	e, app := newTestApp(t)
	createSpeaker(t, e)

	if rec := do(e, http.MethodPost, "/api/graphs/speaker/truth-table/jobs", deadBatteryTable); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without a queue, got %d", rec.Code)
	}

	ch := &fakeChannel{}
	app.Queue = ch
	rec := do(e, http.MethodPost, "/api/graphs/speaker/truth-table/jobs", deadBatteryTable)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	run := decode[store.Run](t, rec)
	if run.ID == "" || run.Status != store.RunQueued || run.Format != truthtable.FormatText {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.Options.MaxCases != 1000 {
		t.Fatalf("expected server case limit applied, got %d", run.Options.MaxCases)
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected one published job, got %d", len(ch.published))
	}
	var job queue.TruthTableJob
	if err := json.Unmarshal(ch.published[0].Body, &job); err != nil || job.RunID != run.ID {
		t.Fatalf("expected job for run %s, got %+v (%v)", run.ID, job, err)
	}

	rec = do(e, http.MethodGet, "/api/runs/"+run.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/runs/"+run.ID+"/report", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 before a report exists, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/runs/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestRunReport(t *testing.T) {
	e, app := newTestApp(t)
	createSpeaker(t, e)
	app.Reports = fakeReports{"reports/speaker/r1.csv": []byte("a,b\n")}

	run := &store.Run{
		ID:        "r1",
		GraphID:   "speaker",
		Status:    store.RunCompleted,
		Format:    truthtable.FormatCSV,
		ReportKey: "reports/speaker/r1.csv",
	}
	if err := app.Store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := do(e, http.MethodGet, "/api/runs/r1/report", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "a,b\n" {
		t.Fatalf("expected report body, got %d %q", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/csv") {
		t.Fatalf("expected csv content type, got %q", rec.Header().Get(echo.HeaderContentType))
	}
}
