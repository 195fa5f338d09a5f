package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

const (
	defaultTraceLimit = 20
	maxTraceLimit     = 100
)

// Tempo searches a Tempo-compatible trace store. A non-empty tenant ID is
// sent as X-Scope-OrgID on every request.
type Tempo struct {
	endpoint   string
	tenantID   string
	httpClient *http.Client
}

// NewTempo creates a Tempo client rooted at the given endpoint.
func NewTempo(endpoint, tenantID string) *Tempo {
	return &Tempo{
		endpoint:   endpoint,
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// TraceSummary is one trace search hit.
type TraceSummary struct {
	TraceID     string `json:"trace_id"`
	RootService string `json:"root_service"`
	RootName    string `json:"root_name"`
	StartTime   string `json:"start_time"`
	DurationMS  int64  `json:"duration_ms"`
}

// TraceResult is a slimmed trace search response.
type TraceResult struct {
	TraceCount int            `json:"trace_count"`
	Traces     []TraceSummary `json:"traces"`
	Truncated  bool           `json:"truncated"`
}

// Search runs a TraceQL query over [start, end]. A zero start defaults to
// one hour before end, a zero end to now, and a limit <= 0 to 20.
func (t *Tempo) Search(ctx context.Context, query string, start, end time.Time, limit int) (*TraceResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	switch {
	case limit <= 0:
		limit = defaultTraceLimit
	case limit > maxTraceLimit:
		limit = maxTraceLimit
	}

	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-time.Hour)
	}

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/search")

	q := u.Query()
	q.Set("q", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	body, err := t.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var searchResp struct {
		Traces []struct {
			TraceID           string `json:"traceID"`
			RootServiceName   string `json:"rootServiceName"`
			RootTraceName     string `json:"rootTraceName"`
			StartTimeUnixNano string `json:"startTimeUnixNano"`
			DurationMS        int64  `json:"durationMs"`
		} `json:"traces"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	hits := searchResp.Traces
	truncated := false
	if len(hits) > limit {
		hits = hits[:limit]
		truncated = true
	}

	traces := make([]TraceSummary, 0, len(hits))
	for _, hit := range hits {
		traces = append(traces, TraceSummary{
			TraceID:     hit.TraceID,
			RootService: hit.RootServiceName,
			RootName:    hit.RootTraceName,
			StartTime:   formatUnixNano(hit.StartTimeUnixNano),
			DurationMS:  hit.DurationMS,
		})
	}

	return &TraceResult{
		TraceCount: len(searchResp.Traces),
		Traces:     traces,
		Truncated:  truncated,
	}, nil
}

// TraceByID fetches a single trace as stored, capped at the response size
// limit. The trace JSON is passed through unmodified.
func (t *Tempo) TraceByID(ctx context.Context, traceID string) (json.RawMessage, error) {
	if traceID == "" {
		return nil, fmt.Errorf("trace id is required")
	}

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/traces", url.PathEscape(traceID))

	body, err := t.get(ctx, u.String())
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("tempo returned an invalid trace payload")
	}
	return body, nil
}

func (t *Tempo) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if t.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", t.tenantID)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tempo query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tempo returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// formatUnixNano renders Tempo's string-encoded start time as RFC3339.
// Unparseable values pass through unchanged.
func formatUnixNano(s string) string {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return s
	}
	return time.Unix(0, n).UTC().Format(time.RFC3339Nano)
}
