package logging

import (
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := levelFromString(tc.in); got != tc.want {
			t.Fatalf("level %q: got %v, want %v", tc.in, got, tc.want)
		}
	}
}
