package datasource

import (
	"testing"
	"time"
)

func TestWindowDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		window string
		want   time.Duration
	}{
		{"last_5m", 5 * time.Minute},
		{"last_15m", 15 * time.Minute},
		{"last_1h", time.Hour},
		{"last_6h", 6 * time.Hour},
		{"last_24h", 24 * time.Hour},
		{"last_30m", 30 * time.Minute},
		{"last_2h", 2 * time.Hour},
		{"", 15 * time.Minute},
		{"yesterday", 15 * time.Minute},
		{"last_", 15 * time.Minute},
		{"last_-5m", 15 * time.Minute},
	}

	for _, tt := range tests {
		if got := WindowDuration(tt.window); got != tt.want {
			t.Errorf("WindowDuration(%q) = %v, want %v", tt.window, got, tt.want)
		}
	}
}

func FuzzWindowDuration(f *testing.F) {
	f.Add("last_5m")
	f.Add("last_24h")
	f.Add("")
	f.Add("last_")
	f.Add("last_99999999999999999999h")
	f.Add(string([]byte{0x00, 0xff, 0xfe}))

	f.Fuzz(func(t *testing.T, window string) {
		if d := WindowDuration(window); d <= 0 {
			t.Errorf("WindowDuration(%q) = %v, want > 0", window, d)
		}
	})
}
