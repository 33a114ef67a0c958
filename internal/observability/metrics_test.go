package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/toolrun/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("toolrund-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordRemoteCall("start_tool", "", 3*time.Millisecond)
	RecordRemoteCall("start_tool", "unknown_tool", 3*time.Millisecond)
	RecordRuntimeStart("python", "pytest", "accepted")
	RecordProcessExit("python", "pytest", "exited")

	if got := testutil.ToFloat64(remoteCalls.WithLabelValues("start_tool", "ok")); got < 1 {
		t.Fatalf("expected ok remote call counted, got %v", got)
	}
	if got := testutil.ToFloat64(remoteCalls.WithLabelValues("start_tool", "unknown_tool")); got < 1 {
		t.Fatalf("expected failed remote call counted, got %v", got)
	}
}

func TestRunningGaugesMove(t *testing.T) {
	testlog.Start(t)

	before := testutil.ToFloat64(runtimeActive)
	RuntimeRunning(1)
	RuntimeRunning(1)
	RuntimeRunning(-1)
	if got := testutil.ToFloat64(runtimeActive); got != before+1 {
		t.Fatalf("unexpected runtime gauge: before=%v got=%v", before, got)
	}

	before = testutil.ToFloat64(processActive)
	ProcessRunning(1)
	ProcessRunning(-1)
	if got := testutil.ToFloat64(processActive); got != before {
		t.Fatalf("unexpected process gauge: before=%v got=%v", before, got)
	}
}

func TestRequestMiddlewareRecords(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestLogger(log.Logger, "toolrund-mw"))
	r.Use(RequestMetricsMiddleware("toolrund-mw"))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	got := testutil.ToFloat64(httpRequests.WithLabelValues("toolrund-mw", "GET", "/ping", "200"))
	if got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
}

func TestRequestLoggerAddsRunFields(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	r := gin.New()
	r.Use(RequestLogger(logger, "toolrund-log"))
	r.GET("/runs/:id", func(c *gin.Context) {
		c.Set(RemoteCodeKey, "unknown_run")
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/abc-123", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"level":  "warn",
		"server": "toolrund-log",
		"route":  "/runs/:id",
		"run_id": "abc-123",
		"code":   "unknown_run",
	}
	for key, val := range want {
		if line[key] != val {
			t.Fatalf("log field %s=%v, want %v (line=%s)", key, line[key], val, buf.String())
		}
	}
}
