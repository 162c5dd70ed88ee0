package api

import (
	"log/slog"
	"testing"
)

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/api/v1/ask", 200, slog.LevelInfo},
		{"/health", 200, slog.LevelDebug},
		{"/api/v1/events", 200, slog.LevelDebug},
		{"/health", 503, slog.LevelWarn},
		{"/api/v1/deliver", 502, slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Fatalf("requestLevel(%q, %d) = %v; want %v", tt.path, tt.status, got, tt.want)
		}
	}
}
