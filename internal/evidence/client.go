// Package evidence implements agent.Toolset as a client of the warden ops
// MCP server. Each tool call crosses the wire as an MCP streamable HTTP
// request; results come back as JSON text payloads that the engine records
// verbatim as run evidence.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/linnemanlabs/warden/internal/agent"
)

// Client calls the ops server's read and write tools over MCP streamable
// HTTP. Call Connect before first use and Close when done.
type Client struct {
	mcp     *mcpclient.Client
	version string
}

// New creates a client for the given MCP endpoint URL. The token is sent as
// a bearer Authorization header when non-empty.
func New(baseURL, token, version string) (*Client, error) {
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	mcp, err := mcpclient.NewStreamableHttpClient(baseURL,
		mcptransport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}

	return &Client{mcp: mcp, version: version}, nil
}

// Connect performs the MCP initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.mcp.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "warden", Version: c.version},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize mcp session: %w", err)
	}
	return nil
}

// Close shuts down the underlying MCP transport.
func (c *Client) Close() error {
	return c.mcp.Close()
}

// GetMetrics returns error rate, latency, and throughput for a service.
func (c *Client) GetMetrics(ctx context.Context, service, timeWindow string) (json.RawMessage, error) {
	return c.callTool(ctx, "get_metrics", map[string]any{
		"service":     service,
		"time_window": timeWindow,
	})
}

// GetLogs returns recent log entries matching the query.
func (c *Client) GetLogs(ctx context.Context, service, query, timeWindow string) (json.RawMessage, error) {
	return c.callTool(ctx, "get_logs", map[string]any{
		"service":     service,
		"query":       query,
		"time_window": timeWindow,
	})
}

// ListSpans returns recent traces matching the query.
func (c *Client) ListSpans(ctx context.Context, service, query, timeWindow string) (json.RawMessage, error) {
	return c.callTool(ctx, "list_spans", map[string]any{
		"service":     service,
		"query":       query,
		"time_window": timeWindow,
	})
}

// CreateIncident opens an incident and returns its id.
func (c *Client) CreateIncident(ctx context.Context, req *agent.IncidentRequest) (string, error) {
	out, err := c.callTool(ctx, "create_incident", map[string]any{
		"title":          req.Title,
		"summary":        req.Summary,
		"severity":       req.Severity,
		"evidence_links": strings.Join(req.EvidenceLinks, "\n"),
		"hypotheses":     strings.Join(req.Hypotheses, "\n"),
		"next_steps":     strings.Join(req.NextSteps, "\n"),
	})
	if err != nil {
		return "", err
	}
	return extractID(out, "incident_id")
}

// CreateCase opens a follow-up case and returns its id.
func (c *Client) CreateCase(ctx context.Context, req *agent.CaseRequest) (string, error) {
	out, err := c.callTool(ctx, "create_case", map[string]any{
		"title":          req.Title,
		"description":    req.Description,
		"priority":       req.Priority,
		"evidence_links": strings.Join(req.EvidenceLinks, "\n"),
		"hypotheses":     strings.Join(req.Hypotheses, "\n"),
		"next_steps":     strings.Join(req.NextSteps, "\n"),
	})
	if err != nil {
		return "", err
	}
	return extractID(out, "case_id")
}

// callTool invokes a named tool and returns its text payload. Tool results
// flagged IsError come back as Go errors carrying the reported text.
func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	result, err := c.mcp.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	text := firstText(result)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, fmt.Errorf("%s: %s", name, text)
	}

	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	// Evidence payloads must be valid JSON; plain text gets wrapped.
	wrapped, _ := json.Marshal(map[string]string{"raw_text": text})
	return wrapped, nil
}

// firstText returns the first text content block of a tool result.
func firstText(result *mcplib.CallToolResult) string {
	for _, content := range result.Content {
		if tc, ok := content.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// extractID pulls a string field out of a write tool's response payload.
func extractID(payload json.RawMessage, field string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", fmt.Errorf("parse %s response: %w", field, err)
	}
	id, ok := m[field].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("response missing %s", field)
	}
	return id, nil
}
