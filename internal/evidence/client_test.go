package evidence_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/agent"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/datasource"
	"github.com/linnemanlabs/warden/internal/evidence"
	"github.com/linnemanlabs/warden/internal/opsmcp"
)

const testToken = "test-token"

// startOpsServer runs a complete ops MCP server whose datasources point at
// the given monitoring fake, mounted at /mcp behind bearer auth. This is the
// same stack cmd/opsmcp serves in production.
func startOpsServer(t *testing.T, mon http.Handler) *httptest.Server {
	t.Helper()

	monSrv := httptest.NewServer(mon)
	t.Cleanup(monSrv.Close)

	ops := opsmcp.NewServer(opsmcp.ServerConfig{
		Version:  "test",
		Prom:     datasource.NewPrometheus(monSrv.URL, ""),
		Loki:     datasource.NewLoki(monSrv.URL, ""),
		Tempo:    datasource.NewTempo(monSrv.URL, ""),
		Links:    datasource.NewConsoleLinks("https://console.internal"),
		Registry: opsmcp.NewRegistry("https://ops.internal"),
		Logger:   log.Nop(),
	})

	mux := http.NewServeMux()
	mux.Handle("/mcp", authmw.BearerToken(testToken)(mcpserver.NewStreamableHTTPServer(ops.MCPServer())))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newConnectedClient dials the ops server and completes the MCP handshake.
func newConnectedClient(t *testing.T, srv *httptest.Server) *evidence.Client {
	t.Helper()

	c, err := evidence.New(srv.URL+"/mcp", testToken, "test")
	if err != nil {
		t.Fatalf("evidence.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

// monitoringFake answers every datasource API with a small success response.
func monitoringFake() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1234,"0.04"]}]}}`)
	})
	mux.HandleFunc("/api/v1/query_range", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{},"values":[[1234,"12.5"]]}]}}`)
	})
	mux.HandleFunc("/loki/api/v1/query_range", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[{"stream":{"level":"error"},"values":[["1700000000000000000","timeout calling payments"]]}]}}`)
	})
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"traces":[{"traceID":"abc123","rootServiceName":"checkout","rootTraceName":"POST /orders","startTimeUnixNano":"1700000000000000000","durationMs":5120}]}`)
	})
	return mux
}

func TestGetMetrics(t *testing.T) {
	t.Parallel()

	srv := startOpsServer(t, monitoringFake())
	c := newConnectedClient(t, srv)

	out, err := c.GetMetrics(context.Background(), "checkout", "last_1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["service"] != "checkout" {
		t.Errorf("service = %v, want checkout", payload["service"])
	}
	for _, key := range []string{"error_rate", "latency_p95", "request_rate"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
	link, _ := payload["dashboard_link"].(string)
	if !strings.HasPrefix(link, "https://console.internal/dashboards/") {
		t.Errorf("dashboard_link = %q", link)
	}
}

func TestGetLogs(t *testing.T) {
	t.Parallel()

	srv := startOpsServer(t, monitoringFake())
	c := newConnectedClient(t, srv)

	out, err := c.GetLogs(context.Background(), "checkout", "status:error OR status:warn", "last_1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got, want := payload["query"], `{service_name="checkout"} |~ "(?i)(error|warn)"`; got != want {
		t.Errorf("query = %v, want %v", got, want)
	}
	if got := payload["line_count"]; got != float64(1) {
		t.Errorf("line_count = %v, want 1", got)
	}
	if _, ok := payload["logs_link"]; !ok {
		t.Error("payload missing logs_link")
	}
}

func TestListSpans(t *testing.T) {
	t.Parallel()

	srv := startOpsServer(t, monitoringFake())
	c := newConnectedClient(t, srv)

	out, err := c.ListSpans(context.Background(), "checkout", "status:error", "last_1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got := payload["trace_count"]; got != float64(1) {
		t.Errorf("trace_count = %v, want 1", got)
	}
	if _, ok := payload["traces_link"]; !ok {
		t.Error("payload missing traces_link")
	}
}

func TestCreateIncident(t *testing.T) {
	t.Parallel()

	srv := startOpsServer(t, monitoringFake())
	c := newConnectedClient(t, srv)

	id, err := c.CreateIncident(context.Background(), &agent.IncidentRequest{
		Title:         "Checkout error rate spike",
		Summary:       "5xx rate above threshold for 20 minutes",
		Severity:      "SEV-2",
		EvidenceLinks: []string{"https://console.internal/d/1", "https://console.internal/d/2"},
		Hypotheses:    []string{"payments dependency timing out"},
		NextSteps:     []string{"page payments on-call"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(id, "INC-") {
		t.Errorf("incident id = %q, want INC- prefix", id)
	}
}

func TestCreateCase(t *testing.T) {
	t.Parallel()

	srv := startOpsServer(t, monitoringFake())
	c := newConnectedClient(t, srv)

	id, err := c.CreateCase(context.Background(), &agent.CaseRequest{
		Title:       "Review checkout retry budget",
		Description: "Intermittent elevated latency, not incident-worthy",
		Priority:    "P3",
		Hypotheses:  []string{"retry storm under partial brownout"},
		NextSteps:   []string{"audit retry config"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(id, "CASE-") {
		t.Errorf("case id = %q, want CASE- prefix", id)
	}
}

func TestToolError(t *testing.T) {
	t.Parallel()

	// Prometheus down: the tool reports IsError, which must surface as a Go
	// error on this side.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := startOpsServer(t, mux)
	c := newConnectedClient(t, srv)

	_, err := c.GetMetrics(context.Background(), "checkout", "last_1h")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "get_metrics") {
		t.Errorf("error = %q, want tool name in message", err)
	}
	if !strings.Contains(err.Error(), "error rate query failed") {
		t.Errorf("error = %q, want reported tool text", err)
	}
}

func TestUnauthorized(t *testing.T) {
	t.Parallel()

	srv := startOpsServer(t, monitoringFake())

	c, err := evidence.New(srv.URL+"/mcp", "wrong-token", "test")
	if err != nil {
		t.Fatalf("evidence.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected handshake to fail with a bad token")
	}
}
