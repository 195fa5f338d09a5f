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
	defaultLogLimit = 100
	maxLogLimit     = 500

	// maxLogRange caps a single query's time range. Longer investigations
	// make multiple queries with different windows.
	maxLogRange = 6 * time.Hour
)

// Loki queries a Loki-compatible log store over its range query API.
// A non-empty tenant ID is sent as X-Scope-OrgID on every request.
type Loki struct {
	endpoint   string
	tenantID   string
	httpClient *http.Client
}

// NewLoki creates a Loki client rooted at the given endpoint.
func NewLoki(endpoint, tenantID string) *Loki {
	return &Loki{
		endpoint:   endpoint,
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// LogEntry is a single flattened log line. Stream labels are attached to the
// first line of each stream only, to keep repeated label sets out of payloads.
type LogEntry struct {
	Timestamp string            `json:"ts"`
	Line      string            `json:"line"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// LogResult is a slimmed log query response.
type LogResult struct {
	StreamCount int        `json:"stream_count"`
	LineCount   int        `json:"line_count"`
	Entries     []LogEntry `json:"entries"`
	Truncated   bool       `json:"truncated"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// QueryRange runs a LogQL query over [start, end], newest entries first.
// A zero start defaults to one hour before end, a zero end to now, and a
// limit <= 0 to 100. The range is clamped to the last 6 hours before end.
func (l *Loki) QueryRange(ctx context.Context, query string, start, end time.Time, limit int) (*LogResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	switch {
	case limit <= 0:
		limit = defaultLogLimit
	case limit > maxLogLimit:
		limit = maxLogLimit
	}

	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-time.Hour)
	}
	if end.Sub(start) > maxLogRange {
		start = end.Add(-maxLogRange)
	}

	u, err := url.Parse(l.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "loki/api/v1/query_range")

	q := u.Query()
	q.Set("query", query)
	q.Set("start", start.UTC().Format(time.RFC3339Nano))
	q.Set("end", end.UTC().Format(time.RFC3339Nano))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("direction", "backward")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if l.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.tenantID)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loki query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loki returned %d: %s", resp.StatusCode, string(body))
	}

	var lokiResp struct {
		Status string `json:"status"`
		Data   struct {
			ResultType string       `json:"resultType"`
			Result     []lokiStream `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &lokiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if lokiResp.Status != successStatus {
		return nil, fmt.Errorf("loki query failed: %s", string(body))
	}

	entries := flattenStreams(lokiResp.Data.Result, limit)

	return &LogResult{
		StreamCount: len(lokiResp.Data.Result),
		LineCount:   len(entries),
		Entries:     entries,
		Truncated:   len(entries) >= limit,
	}, nil
}

func flattenStreams(results []lokiStream, limit int) []LogEntry {
	entries := make([]LogEntry, 0, limit)

	for _, stream := range results {
		includeLabels := true
		for _, value := range stream.Values {
			if len(value) < 2 {
				continue
			}
			e := LogEntry{
				Timestamp: value[0],
				Line:      value[1],
			}
			if includeLabels {
				e.Labels = stream.Stream
				includeLabels = false
			}
			entries = append(entries, e)
			if len(entries) >= limit {
				return entries
			}
		}
	}
	return entries
}
