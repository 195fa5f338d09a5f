// Package opsmcp implements the ops MCP server: the monitoring datasources
// and the incident registry exposed as MCP tools for the triage agent. Read
// tools slim their payloads and embed console deep links; write tools record
// into the in-memory registry. Tool failures are reported as IsError results
// so the caller's model sees what went wrong, never as protocol errors.
package opsmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/warden/internal/datasource"
)

// Server wires the datasources and registry into an MCP server.
type Server struct {
	mcpServer *mcpserver.MCPServer
	prom      *datasource.Prometheus
	loki      *datasource.Loki
	tempo     *datasource.Tempo
	links     *datasource.ConsoleLinks
	registry  *Registry
	logger    log.Logger
}

// ServerConfig configures the ops MCP server.
type ServerConfig struct {
	Version  string
	Prom     *datasource.Prometheus
	Loki     *datasource.Loki
	Tempo    *datasource.Tempo
	Links    *datasource.ConsoleLinks
	Registry *Registry
	Logger   log.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Prom == nil || cfg.Loki == nil || cfg.Tempo == nil {
		panic(xerrors.New("opsmcp: all datasources are required"))
	}
	if cfg.Registry == nil {
		panic(xerrors.New("opsmcp: registry is required"))
	}
	if cfg.Links == nil {
		cfg.Links = datasource.NewConsoleLinks("")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}

	s := &Server{
		prom:     cfg.Prom,
		loki:     cfg.Loki,
		tempo:    cfg.Tempo,
		links:    cfg.Links,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"warden-ops",
		cfg.Version,
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// get_metrics: RED metrics for a service.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_metrics",
			mcplib.WithDescription(`Fetch RED metrics for a service: error rate, p95 latency, and request
rate as instant values, plus a request rate series over the time window.

Use this first when triaging a service. Error rate and latency tell you
whether the service is actually unhealthy; the rate series shows when the
problem started. Results are slimmed with a truncated flag, and
dashboard_link points at the service overview dashboard.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("service",
				mcplib.Description("Service whose metrics to fetch"),
				mcplib.Required(),
			),
			mcplib.WithString("time_window",
				mcplib.Description(`Lookback window: last_5m, last_15m, last_1h, last_6h, or last_24h. Defaults to last_1h.`),
			),
		),
		s.handleGetMetrics,
	)

	// get_logs: log search scoped to a service.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_logs",
			mcplib.WithDescription(`Search a service's logs, newest lines first.

The query can be a full LogQL expression (starts with "{") or a plain
filter such as "status:error OR timeout"; plain filters become a
case-insensitive line match over the service's streams, with "status:"
prefixes stripped. Stream labels ride on the first line of each stream.
Keep limits small; the payload feeds a model.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("service",
				mcplib.Description("Service whose logs to search"),
				mcplib.Required(),
			),
			mcplib.WithString("query",
				mcplib.Description(`Log filter. Example: "status:error OR status:warn", or a full LogQL expression.`),
			),
			mcplib.WithString("time_window",
				mcplib.Description("Lookback window, as for get_metrics. Defaults to last_1h."),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum log lines to return"),
				mcplib.Min(1),
				mcplib.Max(500),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleGetLogs,
	)

	// list_spans: trace search scoped to a service.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_spans",
			mcplib.WithDescription(`Search a service's traces and return slimmed summaries: trace id, root
span, duration, start time.

The query can be a full TraceQL expression (starts with "{"),
"status:error" for failed traces, or a plain term matched against span
names. Use get_trace with a returned id to see one trace in full.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("service",
				mcplib.Description("Service whose traces to search"),
				mcplib.Required(),
			),
			mcplib.WithString("query",
				mcplib.Description(`Trace filter. Example: "status:error", or a full TraceQL expression.`),
			),
			mcplib.WithString("time_window",
				mcplib.Description("Lookback window, as for get_metrics. Defaults to last_1h."),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum traces to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListSpans,
	)

	// get_trace: one complete trace by id.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_trace",
			mcplib.WithDescription(`Fetch one complete trace by id, as stored. Use trace ids returned by
list_spans. Large traces are capped at the response size limit.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trace_id",
				mcplib.Description("Trace id from a list_spans result"),
				mcplib.Required(),
			),
		),
		s.handleGetTrace,
	)

	// create_incident: open an incident.
	s.mcpServer.AddTool(
		mcplib.NewTool("create_incident",
			mcplib.WithDescription(`Open an incident for confirmed service degradation. Incidents page
humans; only call this for an action a human has approved.

List-valued fields (evidence_links, hypotheses, next_steps) are
newline-separated strings, one entry per line.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("title",
				mcplib.Description("One-line incident title"),
				mcplib.Required(),
			),
			mcplib.WithString("summary",
				mcplib.Description("What is degraded and what the evidence shows"),
				mcplib.Required(),
			),
			mcplib.WithString("severity",
				mcplib.Description("Incident severity: SEV-1, SEV-2, or SEV-3"),
				mcplib.Required(),
			),
			mcplib.WithString("evidence_links",
				mcplib.Description("Console links supporting the incident, one per line"),
			),
			mcplib.WithString("hypotheses",
				mcplib.Description("Candidate root causes, one per line"),
			),
			mcplib.WithString("next_steps",
				mcplib.Description("Recommended next actions, one per line"),
			),
		),
		s.handleCreateIncident,
	)

	// create_case: open a follow-up case.
	s.mcpServer.AddTool(
		mcplib.NewTool("create_case",
			mcplib.WithDescription(`Open a follow-up case for something that needs investigation but is
not paging-worthy. Only call this for an action a human has approved.

List-valued fields (evidence_links, hypotheses, next_steps) are
newline-separated strings, one entry per line.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("title",
				mcplib.Description("One-line case title"),
				mcplib.Required(),
			),
			mcplib.WithString("description",
				mcplib.Description("What to investigate and why"),
				mcplib.Required(),
			),
			mcplib.WithString("priority",
				mcplib.Description("Case priority: P1, P2, or P3"),
				mcplib.Required(),
			),
			mcplib.WithString("evidence_links",
				mcplib.Description("Console links supporting the case, one per line"),
			),
			mcplib.WithString("hypotheses",
				mcplib.Description("Candidate explanations, one per line"),
			),
			mcplib.WithString("next_steps",
				mcplib.Description("Recommended next actions, one per line"),
			),
		),
		s.handleCreateCase,
	)

	// get_incident: one incident by id.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_incident",
			mcplib.WithDescription("Fetch one incident record by id."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("incident_id",
				mcplib.Description("Incident id returned by create_incident"),
				mcplib.Required(),
			),
		),
		s.handleGetIncident,
	)

	// list_incidents: all incidents, newest first.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_incidents",
			mcplib.WithDescription("List all incidents, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListIncidents,
	)
}

func (s *Server) handleGetMetrics(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	service := request.GetString("service", "")
	window := request.GetString("time_window", "last_1h")
	if service == "" {
		return errorResult("service is required"), nil
	}

	errorRate, err := s.prom.Query(ctx, errorRateQuery(service), time.Time{})
	if err != nil {
		return s.queryFailed(ctx, "error rate", service, err), nil
	}
	latency, err := s.prom.Query(ctx, latencyP95Query(service), time.Time{})
	if err != nil {
		return s.queryFailed(ctx, "latency", service, err), nil
	}
	reqRate, err := s.prom.Query(ctx, requestRateQuery(service), time.Time{})
	if err != nil {
		return s.queryFailed(ctx, "request rate", service, err), nil
	}

	dur := datasource.WindowDuration(window)
	end := time.Now().UTC()
	step := dur / 30
	if step < time.Minute {
		step = time.Minute
	}
	rateOverTime, err := s.prom.QueryRange(ctx, requestRateQuery(service), end.Add(-dur), end, step)
	if err != nil {
		return s.queryFailed(ctx, "request rate range", service, err), nil
	}

	payload := map[string]any{
		"service":                service,
		"time_window":            window,
		"error_rate":             errorRate,
		"latency_p95":            latency,
		"request_rate":           reqRate,
		"request_rate_over_time": rateOverTime,
	}
	if link := s.links.Dashboard(service, window); link != "" {
		payload["dashboard_link"] = link
	}
	return jsonResult(payload), nil
}

func (s *Server) handleGetLogs(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	service := request.GetString("service", "")
	query := request.GetString("query", "")
	window := request.GetString("time_window", "last_1h")
	limit := request.GetInt("limit", 50)
	if service == "" {
		return errorResult("service is required"), nil
	}

	logQL := logQLFromQuery(service, query)
	end := time.Now().UTC()
	start := end.Add(-datasource.WindowDuration(window))

	result, err := s.loki.QueryRange(ctx, logQL, start, end, limit)
	if err != nil {
		return s.queryFailed(ctx, "log", service, err), nil
	}

	payload := map[string]any{
		"service":      service,
		"time_window":  window,
		"query":        logQL,
		"stream_count": result.StreamCount,
		"line_count":   result.LineCount,
		"entries":      result.Entries,
		"truncated":    result.Truncated,
	}
	if link := s.links.Logs(service, logQL, window); link != "" {
		payload["logs_link"] = link
	}
	return jsonResult(payload), nil
}

func (s *Server) handleListSpans(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	service := request.GetString("service", "")
	query := request.GetString("query", "")
	window := request.GetString("time_window", "last_1h")
	limit := request.GetInt("limit", 20)
	if service == "" {
		return errorResult("service is required"), nil
	}

	traceQL := traceQLFromQuery(service, query)
	end := time.Now().UTC()
	start := end.Add(-datasource.WindowDuration(window))

	result, err := s.tempo.Search(ctx, traceQL, start, end, limit)
	if err != nil {
		return s.queryFailed(ctx, "trace", service, err), nil
	}

	payload := map[string]any{
		"service":     service,
		"time_window": window,
		"query":       traceQL,
		"trace_count": result.TraceCount,
		"traces":      result.Traces,
		"truncated":   result.Truncated,
	}
	if link := s.links.Traces(service, traceQL, window); link != "" {
		payload["traces_link"] = link
	}
	return jsonResult(payload), nil
}

func (s *Server) handleGetTrace(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}

	raw, err := s.tempo.TraceByID(ctx, traceID)
	if err != nil {
		s.logger.Warn(ctx, "trace fetch failed", "trace_id", traceID, "error", err)
		return errorResult(fmt.Sprintf("trace fetch failed: %v", err)), nil
	}

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(raw)},
		},
	}, nil
}

func (s *Server) handleCreateIncident(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	title := request.GetString("title", "")
	summary := request.GetString("summary", "")
	severity := request.GetString("severity", "")
	if title == "" || summary == "" || severity == "" {
		return errorResult("title, summary, and severity are required"), nil
	}

	inc := s.registry.CreateIncident(&Incident{
		Title:         title,
		Summary:       summary,
		Severity:      severity,
		EvidenceLinks: splitLines(request.GetString("evidence_links", "")),
		Hypotheses:    splitLines(request.GetString("hypotheses", "")),
		NextSteps:     splitLines(request.GetString("next_steps", "")),
	})

	s.logger.Info(ctx, "incident created",
		"incident_id", inc.ID,
		"severity", inc.Severity,
		"title", inc.Title,
	)

	return jsonResult(map[string]any{
		"incident_id": inc.ID,
		"url":         inc.URL,
		"status":      inc.Status,
	}), nil
}

func (s *Server) handleCreateCase(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	title := request.GetString("title", "")
	description := request.GetString("description", "")
	priority := request.GetString("priority", "")
	if title == "" || description == "" || priority == "" {
		return errorResult("title, description, and priority are required"), nil
	}

	c := s.registry.CreateCase(&Case{
		Title:         title,
		Description:   description,
		Priority:      priority,
		EvidenceLinks: splitLines(request.GetString("evidence_links", "")),
		Hypotheses:    splitLines(request.GetString("hypotheses", "")),
		NextSteps:     splitLines(request.GetString("next_steps", "")),
	})

	s.logger.Info(ctx, "case created",
		"case_id", c.ID,
		"priority", c.Priority,
		"title", c.Title,
	)

	return jsonResult(map[string]any{
		"case_id": c.ID,
		"url":     c.URL,
		"status":  c.Status,
	}), nil
}

func (s *Server) handleGetIncident(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("incident_id", "")
	if id == "" {
		return errorResult("incident_id is required"), nil
	}

	inc, ok := s.registry.Incident(id)
	if !ok {
		return errorResult(fmt.Sprintf("incident %s not found", id)), nil
	}
	return jsonResult(inc), nil
}

func (s *Server) handleListIncidents(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	incidents := s.registry.Incidents()
	return jsonResult(map[string]any{
		"incident_count": len(incidents),
		"incidents":      incidents,
	}), nil
}

func (s *Server) queryFailed(ctx context.Context, kind, service string, err error) *mcplib.CallToolResult {
	s.logger.Warn(ctx, kind+" query failed", "service", service, "error", err)
	return errorResult(fmt.Sprintf("%s query failed: %v", kind, err))
}

// RED queries for a service. The [5m] rate window matches typical scrape
// intervals without smoothing away short spikes.
func errorRateQuery(service string) string {
	return fmt.Sprintf(`sum(rate(http_requests_total{service=%q,status=~"5.."}[5m])) / sum(rate(http_requests_total{service=%q}[5m]))`, service, service)
}

func latencyP95Query(service string) string {
	return fmt.Sprintf(`histogram_quantile(0.95, sum by (le) (rate(http_request_duration_seconds_bucket{service=%q}[5m])))`, service)
}

func requestRateQuery(service string) string {
	return fmt.Sprintf(`sum(rate(http_requests_total{service=%q}[5m]))`, service)
}

// logQLFromQuery renders a tool query as LogQL. Full LogQL expressions pass
// through; anything else becomes a case-insensitive line filter over the
// service's streams, with "status:" prefixes stripped and OR terms joined
// into one alternation.
func logQLFromQuery(service, query string) string {
	query = strings.TrimSpace(query)
	if strings.HasPrefix(query, "{") {
		return query
	}

	selector := fmt.Sprintf(`{service_name=%q}`, service)
	if query == "" {
		return selector
	}

	var terms []string
	for _, part := range strings.Split(query, " OR ") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "status:"))
		if part != "" {
			terms = append(terms, quoteForLogString(part))
		}
	}
	if len(terms) == 0 {
		return selector
	}
	return fmt.Sprintf(`%s |~ "(?i)(%s)"`, selector, strings.Join(terms, "|"))
}

// traceQLFromQuery renders a tool query as TraceQL. Full TraceQL expressions
// pass through; "status:X" filters on span status; anything else matches
// span names.
func traceQLFromQuery(service, query string) string {
	query = strings.TrimSpace(query)
	if strings.HasPrefix(query, "{") {
		return query
	}

	base := fmt.Sprintf(`resource.service.name=%q`, service)
	switch {
	case query == "":
		return "{" + base + "}"
	case strings.HasPrefix(query, "status:"):
		return fmt.Sprintf("{%s && status=%s}", base, strings.TrimPrefix(query, "status:"))
	default:
		return fmt.Sprintf(`{%s && name=~".*%s.*"}`, base, quoteForLogString(query))
	}
}

// quoteForLogString escapes a term for embedding inside a double-quoted
// query-language regex. Regex metacharacters are escaped first, then the
// backslashes doubled so they survive the string unquoting, then the quotes.
func quoteForLogString(s string) string {
	s = regexp.QuoteMeta(s)
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// splitLines parses a newline-separated list argument, dropping blanks.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
