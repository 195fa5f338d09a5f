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

// Instant responses keep more series than range responses: a range result
// carries a full value matrix per series and grows much faster.
const (
	maxInstantSeries = 50
	maxRangeSeries   = 20
)

// Prometheus queries a Prometheus-compatible HTTP API (Prometheus, Mimir,
// Thanos). A non-empty tenant ID is sent as X-Scope-OrgID on every request.
type Prometheus struct {
	endpoint   string
	tenantID   string
	httpClient *http.Client
}

// NewPrometheus creates a Prometheus client rooted at the given endpoint.
func NewPrometheus(endpoint, tenantID string) *Prometheus {
	return &Prometheus{
		endpoint:   endpoint,
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// QueryResult is a slimmed query response. Series beyond the cap are dropped
// and flagged via Truncated; ResultCount reports the pre-truncation total.
type QueryResult struct {
	ResultType  string            `json:"result_type"`
	ResultCount int               `json:"result_count"`
	Results     []json.RawMessage `json:"results"`
	Truncated   bool              `json:"truncated"`
}

// Query evaluates a PromQL expression at a single instant. A zero ts
// evaluates at the server's current time.
func (p *Prometheus) Query(ctx context.Context, query string, ts time.Time) (*QueryResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	params := url.Values{}
	params.Set("query", query)
	if !ts.IsZero() {
		params.Set("time", ts.UTC().Format(time.RFC3339))
	}
	return p.do(ctx, "api/v1/query", params, maxInstantSeries)
}

// QueryRange evaluates a PromQL expression over [start, end] at the given
// step. A zero end defaults to now, a step <= 0 to 5 minutes.
func (p *Prometheus) QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (*QueryResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if start.IsZero() {
		return nil, fmt.Errorf("start is required")
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if step <= 0 {
		step = 5 * time.Minute
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))
	params.Set("step", strconv.Itoa(int(step.Seconds())))
	return p.do(ctx, "api/v1/query_range", params, maxRangeSeries)
}

func (p *Prometheus) do(ctx context.Context, apiPath string, params url.Values, maxSeries int) (*QueryResult, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, apiPath)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", p.tenantID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prometheus returned %d: %s", resp.StatusCode, string(body))
	}

	var promResp struct {
		Status string `json:"status"`
		Data   struct {
			ResultType string            `json:"resultType"`
			Result     []json.RawMessage `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &promResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if promResp.Status != successStatus {
		return nil, fmt.Errorf("prometheus query failed: %s", string(body))
	}

	results := promResp.Data.Result
	truncated := false
	if len(results) > maxSeries {
		results = results[:maxSeries]
		truncated = true
	}

	return &QueryResult{
		ResultType:  promResp.Data.ResultType,
		ResultCount: len(promResp.Data.Result),
		Results:     results,
		Truncated:   truncated,
	}, nil
}
