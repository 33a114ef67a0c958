package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/toolrun/internal/remote"
	"github.com/danmuck/toolrun/internal/runner"
	"github.com/danmuck/toolrun/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func serveHTTP(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesHealthAndEnvironments(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	cfg := shellConfig(t)
	cfg.DefaultEnvironment = "shell"
	srv := newTestServer(t, cfg)
	router := srv.Router()

	rec := serveHTTP(t, router, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status: %d", rec.Code)
	}

	rec = serveHTTP(t, router, http.MethodGet, "/environments")
	if rec.Code != http.StatusOK {
		t.Fatalf("environments status: %d", rec.Code)
	}
	var body struct {
		Current      string               `json:"current"`
		Environments []runner.Environment `json:"environments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Current != "shell" || len(body.Environments) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}

	rec = serveHTTP(t, router, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}
}

func TestRoutesRuns(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	srv := newTestServer(t, shellConfig(t))
	router := srv.Router()

	ref := runner.ToolRef{RunID: "http-sleep", Environment: "shell", Tool: "sleep"}
	if err := srv.StartTool(context.Background(), ref, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec := serveHTTP(t, router, http.MethodGet, "/runs/http-sleep")
	if rec.Code != http.StatusOK {
		t.Fatalf("run status: %d", rec.Code)
	}
	var st remote.ToolStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != remote.StateRunning {
		t.Fatalf("unexpected state: %+v", st)
	}

	rec = serveHTTP(t, router, http.MethodPost, "/runs/http-sleep/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status: %d body=%s", rec.Code, rec.Body.String())
	}

	rec = serveHTTP(t, router, http.MethodGet, "/runs")
	var list struct {
		Runs []remote.ToolStatus `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].Reason != runner.ExitStopped {
		t.Fatalf("unexpected runs: %+v", list.Runs)
	}

	rec = serveHTTP(t, router, http.MethodGet, "/runs/unknown")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", rec.Code)
	}
}
