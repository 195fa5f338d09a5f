package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestLoki(t *testing.T, tenantID string, handler http.HandlerFunc) *Loki {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewLoki(srv.URL, tenantID)
}

func TestLoki_QueryRange(t *testing.T) {
	t.Parallel()

	loki := newTestLoki(t, "test", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/query_range" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("query"); got != `{service_name="checkout"} |= "error"` {
			t.Errorf("query = %q", got)
		}
		if got := q.Get("direction"); got != "backward" {
			t.Errorf("direction = %q, want %q", got, "backward")
		}
		if got := q.Get("limit"); got != "100" {
			t.Errorf("limit = %q, want %q", got, "100")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[
			{"stream":{"service_name":"checkout","level":"error"},"values":[["1700000001000000000","timeout calling payments"],["1700000000000000000","retrying payment"]]},
			{"stream":{"service_name":"checkout","level":"warn"},"values":[["1699999999000000000","slow query"]]}
		]}}`)
	})

	out, err := loki.QueryRange(context.Background(), `{service_name="checkout"} |= "error"`, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.StreamCount != 2 {
		t.Errorf("StreamCount = %d, want 2", out.StreamCount)
	}
	if out.LineCount != 3 {
		t.Errorf("LineCount = %d, want 3", out.LineCount)
	}
	if out.Truncated {
		t.Error("Truncated = true, want false")
	}
	if len(out.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(out.Entries))
	}
	if out.Entries[0].Line != "timeout calling payments" {
		t.Errorf("Entries[0].Line = %q", out.Entries[0].Line)
	}
	// Labels ride on the first entry of each stream only.
	if out.Entries[0].Labels["level"] != "error" {
		t.Errorf("Entries[0].Labels = %v, want stream labels", out.Entries[0].Labels)
	}
	if out.Entries[1].Labels != nil {
		t.Errorf("Entries[1].Labels = %v, want nil", out.Entries[1].Labels)
	}
	if out.Entries[2].Labels["level"] != "warn" {
		t.Errorf("Entries[2].Labels = %v, want stream labels", out.Entries[2].Labels)
	}
}

func TestLoki_EmptyQuery(t *testing.T) {
	t.Parallel()

	loki := newTestLoki(t, "test", func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("should not have made HTTP request")
	})

	_, err := loki.QueryRange(context.Background(), "", time.Time{}, time.Time{}, 0)
	if err == nil {
		t.Fatal("expected error for empty query")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestLoki_LimitClamping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		limit     int
		wantParam string
	}{
		{"negative", -1, "100"},
		{"zero", 0, "100"},
		{"in range", 50, "50"},
		{"above max", 9999, "500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			loki := newTestLoki(t, "test", func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("limit"); got != tt.wantParam {
					t.Errorf("limit = %q, want %q", got, tt.wantParam)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[]}}`)
			})
			if _, err := loki.QueryRange(context.Background(), `{job="x"}`, time.Time{}, time.Time{}, tt.limit); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoki_RangeClamp(t *testing.T) {
	t.Parallel()

	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	start := end.Add(-24 * time.Hour)

	loki := newTestLoki(t, "test", func(w http.ResponseWriter, r *http.Request) {
		gotStart, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("start"))
		if err != nil {
			t.Errorf("unparseable start: %v", err)
		}
		if want := end.Add(-6 * time.Hour); !gotStart.Equal(want) {
			t.Errorf("start = %v, want clamped to %v", gotStart, want)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[]}}`)
	})

	if _, err := loki.QueryRange(context.Background(), `{job="x"}`, start, end, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoki_HTTPError(t *testing.T) {
	t.Parallel()

	loki := newTestLoki(t, "test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprint(w, "bad gateway")
	})

	_, err := loki.QueryRange(context.Background(), `{job="x"}`, time.Time{}, time.Time{}, 0)
	if err == nil {
		t.Fatal("expected error for HTTP 502")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %q, want it to mention status code", err.Error())
	}
}

func TestLoki_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	loki := newTestLoki(t, "test", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"error","error":"parse error"}`)
	})

	_, err := loki.QueryRange(context.Background(), `{job=`, time.Time{}, time.Time{}, 0)
	if err == nil {
		t.Fatal("expected error for non-success loki status")
	}
	if !strings.Contains(err.Error(), "loki query failed") {
		t.Errorf("error = %q, want it to mention 'loki query failed'", err.Error())
	}
}

func TestLoki_TenantHeader(t *testing.T) {
	t.Parallel()

	loki := newTestLoki(t, "my-org", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Scope-OrgID"); got != "my-org" {
			t.Errorf("X-Scope-OrgID = %q, want %q", got, "my-org")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[]}}`)
	})

	if _, err := loki.QueryRange(context.Background(), `{job="x"}`, time.Time{}, time.Time{}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFlattenStreams_Limit(t *testing.T) {
	t.Parallel()

	streams := []lokiStream{
		{
			Stream: map[string]string{"job": "a"},
			Values: [][]string{{"1", "one"}, {"2", "two"}, {"3", "three"}},
		},
		{
			Stream: map[string]string{"job": "b"},
			Values: [][]string{{"4", "four"}},
		},
	}

	entries := flattenStreams(streams, 2)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[1].Line != "two" {
		t.Errorf("entries[1].Line = %q, want %q", entries[1].Line, "two")
	}
}

func TestFlattenStreams_SkipsMalformedValues(t *testing.T) {
	t.Parallel()

	streams := []lokiStream{
		{
			Stream: map[string]string{"job": "a"},
			Values: [][]string{{"1"}, {"2", "kept"}},
		},
	}

	entries := flattenStreams(streams, 10)
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Line != "kept" {
		t.Errorf("entries[0].Line = %q, want %q", entries[0].Line, "kept")
	}
}
