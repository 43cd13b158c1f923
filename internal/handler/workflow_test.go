package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"stockadvisor/internal/budget"
	"stockadvisor/internal/models"
	"stockadvisor/internal/scheduler"
	"stockadvisor/internal/workflow"
)

type fakeRunner struct {
	triggerErr error
	prepareErr error
	createErr  error

	gotStrategy  string
	gotExecution *string
	gotOutput    workflow.ExternalOutput
}

func (f *fakeRunner) Trigger(ctx context.Context, strategyID string, executionID *string) (*models.WorkflowRun, error) {
	f.gotStrategy, f.gotExecution = strategyID, executionID
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return &models.WorkflowRun{ID: "run-1", StrategyID: strategyID, ExecutionID: executionID, Status: models.RunStatusRunning}, nil
}

func (f *fakeRunner) PrepareData(ctx context.Context, strategyID string, executionID *string) (*workflow.PreparedData, error) {
	f.gotStrategy, f.gotExecution = strategyID, executionID
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &workflow.PreparedData{RunID: "run-2", ActivePredictions: nil}, nil
}

func (f *fakeRunner) CreatePredictionsFromOutput(ctx context.Context, in workflow.ExternalOutput) (*workflow.ExternalResult, error) {
	f.gotOutput = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	runID := "run-3"
	return &workflow.ExternalResult{
		RunID:              runID,
		CreatedPredictions: []models.Prediction{{ID: "p1", Symbol: "AAPL", WorkflowRunID: &runID}},
	}, nil
}

type fakeSweeper struct{ n int }

func (f fakeSweeper) Sweep(ctx context.Context) (int, error) { return f.n, nil }

type fakeSchedules []scheduler.Entry

func (f fakeSchedules) Entries() []scheduler.Entry { return f }

func (f fakeSchedules) RunNow(key string) error {
	for _, e := range f {
		if e.Key == key {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", scheduler.ErrUnknownKey, key)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func newEngine(h *WorkflowHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v body=%s", method, path, err, w.Body.String())
	}
	return w, env
}

func TestTriggerRun_Accepted(t *testing.T) {
	runner := &fakeRunner{}
	r := newEngine(&WorkflowHandler{Repo: newStubRepo(), Runner: runner})

	w, env := do(t, r, http.MethodPost, "/api/v1/strategies/s1/runs", `{"execution_id":"exec-9"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d want=%d body=%s", w.Code, http.StatusAccepted, w.Body.String())
	}
	if runner.gotStrategy != "s1" || runner.gotExecution == nil || *runner.gotExecution != "exec-9" {
		t.Fatalf("strategy=%q exec=%v", runner.gotStrategy, runner.gotExecution)
	}
	var run runView
	_ = json.Unmarshal(env.Data, &run)
	if run.ID != "run-1" || run.Status != models.RunStatusRunning {
		t.Fatalf("run=%+v", run)
	}

	w, _ = do(t, r, http.MethodPost, "/api/v1/strategies/s1/runs", "")
	if w.Code != http.StatusAccepted || runner.gotExecution != nil {
		t.Fatalf("status=%d exec=%v", w.Code, runner.gotExecution)
	}
}

func TestTriggerRun_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: s1", workflow.ErrStrategyNotFound), http.StatusNotFound},
		{&workflow.RunError{RunID: "r9", Err: workflow.ErrStrategyInactive}, http.StatusConflict},
		{&workflow.RunError{RunID: "r9", Err: workflow.ErrAllAgentsFailed}, http.StatusBadGateway},
		{&workflow.RunError{RunID: "r9", Err: workflow.ErrNoRecommendations}, http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newEngine(&WorkflowHandler{Repo: newStubRepo(), Runner: &fakeRunner{triggerErr: tc.err}})
		w, env := do(t, r, http.MethodPost, "/api/v1/strategies/s1/runs", "")
		if w.Code != tc.want {
			t.Fatalf("err=%v status=%d want=%d", tc.err, w.Code, tc.want)
		}
		if env.Code != tc.want || env.Message != tc.err.Error() {
			t.Fatalf("envelope=%+v", env)
		}
		if workflow.RunIDFromError(tc.err) != "" && env.Meta["run_id"] != "r9" {
			t.Fatalf("meta=%v want run_id=r9", env.Meta)
		}
	}
}

func TestGetRun(t *testing.T) {
	repo := newStubRepo()
	_ = repo.InsertWorkflowRun(context.Background(), &models.WorkflowRun{
		ID:             "r1",
		StrategyID:     "s1",
		Status:         models.RunStatusCompleted,
		JSONOutput:     []byte(`{"top_stocks":[]}`),
		MarkdownOutput: "# report",
	})
	r := newEngine(&WorkflowHandler{Repo: repo})

	w, env := do(t, r, http.MethodGet, "/api/v1/runs/r1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var run runView
	_ = json.Unmarshal(env.Data, &run)
	if run.Status != models.RunStatusCompleted || run.MarkdownOutput != "# report" || string(run.JSONOutput) != `{"top_stocks":[]}` {
		t.Fatalf("run=%+v", run)
	}

	w, _ = do(t, r, http.MethodGet, "/api/v1/runs/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want=404", w.Code)
	}
}

func TestListRuns_FiltersByStrategyAndStatus(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()
	_ = repo.InsertWorkflowRun(ctx, &models.WorkflowRun{ID: "r1", StrategyID: "s1", Status: models.RunStatusFailed})
	_ = repo.InsertWorkflowRun(ctx, &models.WorkflowRun{ID: "r2", StrategyID: "s1", Status: models.RunStatusCompleted})
	_ = repo.InsertWorkflowRun(ctx, &models.WorkflowRun{ID: "r3", StrategyID: "s2", Status: models.RunStatusFailed})
	r := newEngine(&WorkflowHandler{Repo: repo})

	_, env := do(t, r, http.MethodGet, "/api/v1/strategies/s1/runs?status=failed&limit=5", "")
	var runs []runView
	_ = json.Unmarshal(env.Data, &runs)
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Fatalf("runs=%+v", runs)
	}
	if repo.lastRunParams.Limit != 5 {
		t.Fatalf("limit=%d want=5", repo.lastRunParams.Limit)
	}
	if env.Meta["has_next"] != false {
		t.Fatalf("meta=%v", env.Meta)
	}
}

func TestGetBudget(t *testing.T) {
	repo := newStubRepo()
	repo.strategies["s1"] = models.Strategy{
		ID:                 "s1",
		Status:             models.StrategyStatusActive,
		MonthlyBudget:      decimal.NewFromInt(1000),
		PerStockAllocation: decimal.NewFromInt(250),
	}
	repo.predictions = []models.Prediction{
		{StrategyID: "s1", Status: models.PredictionStatusActive, Action: models.PredictionActionEntered, AllocatedAmount: decimal.NewFromInt(250)},
		{StrategyID: "s1", Status: models.PredictionStatusActive, Action: models.PredictionActionPending, AllocatedAmount: decimal.NewFromInt(250)},
	}
	r := newEngine(&WorkflowHandler{Repo: repo})

	w, env := do(t, r, http.MethodGet, "/api/v1/strategies/s1/budget", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var snap budget.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.CurrentSpend.Equal(decimal.NewFromInt(250)) || snap.AvailableSlots != 3 || !snap.HasBudget {
		t.Fatalf("snapshot=%+v", snap)
	}

	w, _ = do(t, r, http.MethodGet, "/api/v1/strategies/nope/budget", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want=404", w.Code)
	}
}

func TestListPredictions_PassesFilters(t *testing.T) {
	repo := newStubRepo()
	run := "r1"
	repo.predictions = []models.Prediction{
		{ID: "p1", StrategyID: "s1", WorkflowRunID: &run, Symbol: "AAPL", Status: models.PredictionStatusActive, Action: models.PredictionActionPending},
		{ID: "p2", StrategyID: "s1", Symbol: "MSFT", Status: models.PredictionStatusCompleted, Action: models.PredictionActionEntered},
	}
	r := newEngine(&WorkflowHandler{Repo: repo})

	_, env := do(t, r, http.MethodGet, "/api/v1/strategies/s1/predictions?status=active&action=pending", "")
	var items []predictionView
	_ = json.Unmarshal(env.Data, &items)
	if len(items) != 1 || items[0].Symbol != "AAPL" || items[0].WorkflowRunID == nil {
		t.Fatalf("items=%+v", items)
	}
	if repo.lastPredParams.Status == nil || *repo.lastPredParams.Status != "active" {
		t.Fatalf("params=%+v", repo.lastPredParams)
	}
}

func TestPrepareData(t *testing.T) {
	runner := &fakeRunner{}
	r := newEngine(&WorkflowHandler{Runner: runner})

	w, env := do(t, r, http.MethodPost, "/api/v1/workflow/prepare-data", `{"strategy_id":"s1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(string(env.Data), `"run_id":"run-2"`) {
		t.Fatalf("data=%s", env.Data)
	}

	w, _ = do(t, r, http.MethodPost, "/api/v1/workflow/prepare-data", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", w.Code)
	}
}

func TestCreatePredictions_AcceptsObjectOrText(t *testing.T) {
	runner := &fakeRunner{}
	r := newEngine(&WorkflowHandler{Runner: runner})

	body := `{"strategy_id":"s1","execution_id":"e1","json_output":{"top_stocks":[]},"markdown_output":"md"}`
	w, env := do(t, r, http.MethodPost, "/api/v1/workflow/predictions", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if string(runner.gotOutput.JSONOutput) != `{"top_stocks":[]}` || runner.gotOutput.MarkdownOutput != "md" {
		t.Fatalf("output=%+v", runner.gotOutput)
	}
	if !strings.Contains(string(env.Data), `"symbol":"AAPL"`) {
		t.Fatalf("data=%s", env.Data)
	}

	body = `{"strategy_id":"s1","json_output":"` + "```json\\n{\\\"top_stocks\\\":[]}\\n```" + `"}`
	w, _ = do(t, r, http.MethodPost, "/api/v1/workflow/predictions", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(string(runner.gotOutput.JSONOutput), "```json\n") {
		t.Fatalf("output=%q", runner.gotOutput.JSONOutput)
	}
}

func TestCreatePredictions_InvalidOutput(t *testing.T) {
	err := &workflow.RunError{RunID: "r5", Err: fmt.Errorf("%w: missing top_stocks", workflow.ErrInvalidOutput)}
	r := newEngine(&WorkflowHandler{Runner: &fakeRunner{createErr: err}})
	w, env := do(t, r, http.MethodPost, "/api/v1/workflow/predictions", `{"strategy_id":"s1","json_output":{}}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d want=422", w.Code)
	}
	if env.Meta["run_id"] != "r5" {
		t.Fatalf("meta=%v", env.Meta)
	}
}

func TestReapAndSchedules(t *testing.T) {
	next := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)
	r := newEngine(&WorkflowHandler{
		Reaper:    fakeSweeper{n: 2},
		Schedules: fakeSchedules{{Key: "reaper", Spec: "@every 5m", Next: next}},
	})

	_, env := do(t, r, http.MethodPost, "/api/v1/runs/reap", "")
	if string(env.Data) != `{"reaped":2}` {
		t.Fatalf("data=%s", env.Data)
	}

	_, env = do(t, r, http.MethodGet, "/api/v1/schedules", "")
	var entries []scheduler.Entry
	_ = json.Unmarshal(env.Data, &entries)
	if len(entries) != 1 || entries[0].Key != "reaper" || !entries[0].Next.Equal(next) {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestRunSchedule(t *testing.T) {
	r := newEngine(&WorkflowHandler{Schedules: fakeSchedules{{Key: "reaper", Spec: "@every 5m"}}})

	w, env := do(t, r, http.MethodPost, "/api/v1/schedules/reaper/run", "")
	if w.Code != http.StatusOK || string(env.Data) != `{"key":"reaper"}` {
		t.Fatalf("status=%d data=%s", w.Code, env.Data)
	}

	w, _ = do(t, r, http.MethodPost, "/api/v1/schedules/nope/run", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want=404", w.Code)
	}
}

func TestRunSchedule_DrivesRealScheduler(t *testing.T) {
	sched := scheduler.New(nil, context.Background())
	ran := 0
	if err := sched.Register("reaper", "@every 1h", func(ctx context.Context) { ran++ }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := newEngine(&WorkflowHandler{Schedules: sched})

	w, _ := do(t, r, http.MethodPost, "/api/v1/schedules/reaper/run", "")
	if w.Code != http.StatusOK || ran != 1 {
		t.Fatalf("status=%d ran=%d want 200/1", w.Code, ran)
	}
}

func TestStreamRun_SendsChangesUntilTerminal(t *testing.T) {
	repo := newStubRepo()
	start := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)
	_ = repo.InsertWorkflowRun(context.Background(), &models.WorkflowRun{ID: "r1", StrategyID: "s1", Status: models.RunStatusRunning, UpdatedAt: start})
	srv := httptest.NewServer(newEngine(&WorkflowHandler{Repo: repo, StreamInterval: 10 * time.Millisecond}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/runs/r1/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	var first runView
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.Status != models.RunStatusRunning {
		t.Fatalf("first=%+v", first)
	}

	repo.setStatus("r1", models.RunStatusCompleted, start.Add(time.Minute))
	var second runView
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if second.Status != models.RunStatusCompleted {
		t.Fatalf("second=%+v", second)
	}

	var extra runView
	err = wsjson.Read(ctx, conn, &extra)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("close err=%v want normal closure", err)
	}
}

func TestStreamRun_UnknownRun(t *testing.T) {
	r := newEngine(&WorkflowHandler{Repo: newStubRepo()})
	w, _ := do(t, r, http.MethodGet, "/api/v1/runs/nope/stream", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want=404", w.Code)
	}
}
