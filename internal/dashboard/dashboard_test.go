package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/betbot/copybot/internal/engine"
	"github.com/betbot/copybot/internal/executor"
	"github.com/betbot/copybot/internal/risk"
)

func testServer() *Server {
	exec := executor.NewPaperExecutor(executor.PaperConfig{InitialBalance: 500, FillRate: 1.0}, nil)
	checker := risk.NewChecker(risk.DefaultConfig())
	eng := engine.New(engine.DefaultConfig(), nil, checker, exec, nil, nil)
	return New(DefaultConfig(), exec, checker, eng, nil, nil)
}

func TestHealthz(t *testing.T) {
	srv := testServer()
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status got=%d want=200", w.Code)
	}
}

func TestStateEndpoint(t *testing.T) {
	srv := testServer()
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status got=%d want=200", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["mode"] != "paper" {
		t.Fatalf("mode got=%v want=paper", resp["mode"])
	}
	if resp["balance"].(float64) != 500 {
		t.Fatalf("balance got=%v want=500", resp["balance"])
	}
	if resp["kill_switch"].(bool) {
		t.Fatalf("kill_switch must be false")
	}
	if _, ok := resp["breaker_state"]; ok {
		t.Fatalf("paper executor must not report breaker state")
	}
}

func TestRecentResultsWithoutStore(t *testing.T) {
	srv := testServer()
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/results/recent?limit=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status got=%d want=200", w.Code)
	}
	if got := w.Body.String(); got != "[]" {
		t.Fatalf("body got=%s want=[]", got)
	}
}
