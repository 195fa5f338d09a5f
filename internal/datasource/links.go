package datasource

import (
	"fmt"
	"net/url"
	"strings"
)

// ConsoleLinks builds deep links into the monitoring console for embedding in
// evidence payloads and incident summaries. Every builder returns "" when no
// console base URL is configured, and callers omit the field in that case.
type ConsoleLinks struct {
	base string
}

// NewConsoleLinks creates a link builder rooted at the given console base URL.
func NewConsoleLinks(base string) *ConsoleLinks {
	return &ConsoleLinks{base: strings.TrimRight(base, "/")}
}

// Dashboard links to the service overview dashboard scoped to a time window.
func (c *ConsoleLinks) Dashboard(service, window string) string {
	if c.base == "" {
		return ""
	}
	q := url.Values{}
	q.Set("service", service)
	q.Set("window", window)
	return fmt.Sprintf("%s/dashboards/service-overview?%s", c.base, q.Encode())
}

// Logs links to the log explorer with the query prefilled.
func (c *ConsoleLinks) Logs(service, query, window string) string {
	return c.explore("logs", service, query, window)
}

// Traces links to the trace explorer with the search prefilled.
func (c *ConsoleLinks) Traces(service, query, window string) string {
	return c.explore("traces", service, query, window)
}

func (c *ConsoleLinks) explore(kind, service, query, window string) string {
	if c.base == "" {
		return ""
	}
	q := url.Values{}
	q.Set("service", service)
	if query != "" {
		q.Set("query", query)
	}
	q.Set("window", window)
	return fmt.Sprintf("%s/explore/%s?%s", c.base, kind, q.Encode())
}
