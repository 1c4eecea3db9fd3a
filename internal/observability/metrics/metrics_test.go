package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(rpcCalls.WithLabelValues("tasks/get", "ok"))
	ObserveRPC("tasks/get", "ok")
	if got := testutil.ToFloat64(rpcCalls.WithLabelValues("tasks/get", "ok")); got != before+1 {
		t.Fatalf("expected rpc counter to increase, got %v", got)
	}

	ObserveTaskTransition("pending", "running", "text.summarize")
	if got := testutil.ToFloat64(taskTransitions.WithLabelValues("pending", "running", "text.summarize")); got < 1 {
		t.Fatalf("transition not counted")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveHTTPRequest("/rpc", "POST", 200, 15*time.Millisecond)
	ObserveSyncTimeout()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, name := range []string{
		"a2a_agent_http_requests_total",
		"a2a_agent_http_request_duration_seconds_bucket",
		"a2a_agent_sync_timeouts_total",
		"go_goroutines",
	} {
		if !strings.Contains(text, name) {
			t.Fatalf("metric %s missing from exposition", name)
		}
	}
}
