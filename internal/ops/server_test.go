package ops

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"payhub/internal/config"
	"payhub/internal/scheduler"
	"payhub/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
		RateGlobalPerSec:        1000,
		RateTenantPerMin:        6000,
		RateUserPerMin:          6000,
		QueueCapacity:           100,
		BreakerFailureThreshold: 5,
		BreakerTimeout:          60 * time.Second,
		BatchSize:               10,
		BatchMaxConcurrent:      10,
		BatchTimeout:            5 * time.Second,
		MaxRetries:              3,
		RetryBaseDelay:          time.Second,
		DLQCapacity:             100,
		WorkerOverloadPct:       80,
		ScalingMinSamples:       6,
		ScalingRetention:        24,
		ScalingMinWorkers:       2,
		ScalingMaxWorkers:       20,
		ScalingUpPct:            70,
		ScalingDownPct:          30,
	}
}

func newTestServer(t *testing.T) (*Server, *scheduler.Scheduler) {
	t.Helper()
	s := scheduler.New(testConfig(), scheduler.Options{})
	t.Cleanup(s.Close)
	return NewServer(s, nil), s
}

func TestServer_SubmitAccepted(t *testing.T) {
	srv, sched := newTestServer(t)
	app := srv.App()

	body := `{"workId":"pay-1","tenantId":"t1","userId":"u1","workType":"TRANSFER","priority":3,"amount":120.50}`
	req := httptest.NewRequest("POST", "/payments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if state := sched.ProjectState("pay-1"); state.Status != types.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", state.Status)
	}
	if sched.QueueDepth() != 1 {
		t.Fatalf("expected the item queued, depth %d", sched.QueueDepth())
	}
}

func TestServer_SubmitRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	app := srv.App()

	for name, body := range map[string]string{
		"malformed json": `{"workId":`,
		"missing ids":    `{"workType":"TRANSFER"}`,
	} {
		req := httptest.NewRequest("POST", "/payments", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if resp.StatusCode != 400 {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestServer_SubmitQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 1
	sched := scheduler.New(cfg, scheduler.Options{})
	t.Cleanup(sched.Close)
	app := NewServer(sched, nil).App()

	for i, want := range []int{202, 429} {
		body := `{"workId":"pay-` + string(rune('a'+i)) + `","tenantId":"t1","userId":"u1"}`
		req := httptest.NewRequest("POST", "/payments", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, resp.StatusCode)
		}
	}
}

func TestServer_StateAndHistory(t *testing.T) {
	srv, sched := newTestServer(t)
	app := srv.App()

	if err := sched.Submit(types.WorkItem{WorkID: "pay-1", TenantID: "t1", UserID: "u1", Priority: types.PriorityStandard}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/payments/pay-1/state", nil))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var state types.ProjectedState
	decode(t, resp.Body, &state)
	if state.Status != types.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", state.Status)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/payments/pay-1/history", nil))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var history struct {
		Events []types.PaymentEvent `json:"events"`
	}
	decode(t, resp.Body, &history)
	if len(history.Events) != 1 || history.Events[0].Type != types.EventSubmitted {
		t.Fatalf("unexpected history %+v", history.Events)
	}
}

func TestServer_HeartbeatAndMetrics(t *testing.T) {
	srv, sched := newTestServer(t)
	app := srv.App()

	body := `{"workerId":"w1","currentLoad":30,"maxCapacity":100,"supportedTypes":["ALL"]}`
	req := httptest.NewRequest("POST", "/workers/heartbeat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if id, err := sched.SelectWorker("TRANSFER", "t1"); err != nil || id != "w1" {
		t.Fatalf("expected w1 registered, got %s (%v)", id, err)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/workers/metrics", nil))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var metrics struct {
		TotalWorkers int `json:"totalWorkers"`
	}
	decode(t, resp.Body, &metrics)
	if metrics.TotalWorkers != 1 {
		t.Fatalf("expected 1 worker, got %d", metrics.TotalWorkers)
	}
}

func TestServer_HeartbeatRejectsZeroCapacity(t *testing.T) {
	srv, _ := newTestServer(t)
	app := srv.App()

	req := httptest.NewRequest("POST", "/workers/heartbeat", strings.NewReader(`{"workerId":"w1","maxCapacity":0}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_ScalingSampleRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	app := srv.App()

	body := `{"hourlyVolumes":{"9":1000,"14":800},"currentWorkers":4,"averageLoad":85}`
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest("POST", "/scaling/samples", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if resp.StatusCode != 204 {
			t.Fatalf("sample %d: expected 204, got %d", i, resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/scaling/recommendation", nil))
	if err != nil {
		t.Fatalf("recommendation: %v", err)
	}
	var rec struct {
		Status string `json:"status"`
	}
	decode(t, resp.Body, &rec)
	if rec.Status != "ANALYSIS_COMPLETE" {
		t.Fatalf("expected ANALYSIS_COMPLETE, got %s", rec.Status)
	}
}

func TestServer_ScalingSampleRejectsBadHour(t *testing.T) {
	srv, _ := newTestServer(t)
	app := srv.App()

	req := httptest.NewRequest("POST", "/scaling/samples", strings.NewReader(`{"hourlyVolumes":{"25":10}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)
	app := srv.App()

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func decode(t *testing.T, r io.Reader, v any) {
	t.Helper()
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
}
