// Package datasource implements thin HTTP clients for the monitoring stack
// behind the ops MCP server: Prometheus instant and range queries, Loki log
// queries and Tempo trace search. Responses are slimmed to bounded summaries
// with explicit truncation flags so tool payloads stay small, and ConsoleLinks
// builds the deep links embedded alongside them.
package datasource

import (
	"strings"
	"time"
)

// maxResponseBytes caps how much of any datasource response body is read.
const maxResponseBytes = 5 << 20 // 5 MB

// successStatus is the status value Prometheus and Loki return on success.
const successStatus = "success"

// WindowDuration converts a time window token such as "last_15m" or "last_6h"
// into a duration. Unrecognized windows fall back to 15 minutes.
func WindowDuration(window string) time.Duration {
	switch window {
	case "last_5m":
		return 5 * time.Minute
	case "last_15m":
		return 15 * time.Minute
	case "last_1h":
		return time.Hour
	case "last_6h":
		return 6 * time.Hour
	case "last_24h":
		return 24 * time.Hour
	}
	if rest, ok := strings.CutPrefix(window, "last_"); ok {
		if d, err := time.ParseDuration(rest); err == nil && d > 0 {
			return d
		}
	}
	return 15 * time.Minute
}
