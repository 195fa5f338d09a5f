package datasource

import "testing"

func TestConsoleLinks_Dashboard(t *testing.T) {
	t.Parallel()

	links := NewConsoleLinks("https://console.internal/")
	got := links.Dashboard("checkout", "last_1h")
	want := "https://console.internal/dashboards/service-overview?service=checkout&window=last_1h"
	if got != want {
		t.Errorf("Dashboard = %q, want %q", got, want)
	}
}

func TestConsoleLinks_Logs(t *testing.T) {
	t.Parallel()

	links := NewConsoleLinks("https://console.internal")
	got := links.Logs("checkout", `{service_name="checkout"} |= "error"`, "last_1h")
	want := "https://console.internal/explore/logs?query=%7Bservice_name%3D%22checkout%22%7D+%7C%3D+%22error%22&service=checkout&window=last_1h"
	if got != want {
		t.Errorf("Logs = %q, want %q", got, want)
	}
}

func TestConsoleLinks_TracesOmitsEmptyQuery(t *testing.T) {
	t.Parallel()

	links := NewConsoleLinks("https://console.internal")
	got := links.Traces("checkout", "", "last_6h")
	want := "https://console.internal/explore/traces?service=checkout&window=last_6h"
	if got != want {
		t.Errorf("Traces = %q, want %q", got, want)
	}
}

func TestConsoleLinks_EmptyBase(t *testing.T) {
	t.Parallel()

	links := NewConsoleLinks("")
	if got := links.Dashboard("checkout", "last_1h"); got != "" {
		t.Errorf("Dashboard = %q, want empty", got)
	}
	if got := links.Logs("checkout", "q", "last_1h"); got != "" {
		t.Errorf("Logs = %q, want empty", got)
	}
	if got := links.Traces("checkout", "q", "last_1h"); got != "" {
		t.Errorf("Traces = %q, want empty", got)
	}
}
