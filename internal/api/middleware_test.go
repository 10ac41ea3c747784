package api

import (
	"log/slog"
	"net/http"
	"testing"
)

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		status int
		want   slog.Level
	}{
		{"preflight", http.MethodOptions, "/api/config", 204, slog.LevelDebug},
		{"frame poll", http.MethodGet, "/api/frame/latest", 200, slog.LevelDebug},
		{"event stream", http.MethodGet, "/api/events", 200, slog.LevelDebug},
		{"config change", http.MethodPut, "/api/config", 200, slog.LevelInfo},
		{"no frame yet", http.MethodGet, "/api/frame/latest", 404, slog.LevelWarn},
		{"bad auth", http.MethodPost, "/api/connection", 401, slog.LevelWarn},
		{"server error", http.MethodPost, "/api/connection", 500, slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestLevel(tt.method, tt.path, tt.status); got != tt.want {
				t.Errorf("requestLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"width=160", "width=160"},
		{"auth=YWRtaW46cGFzc3dvcmQ=", "auth=REDACTED"},
		{"since=4&auth=abc", "since=4&auth=REDACTED"},
	}
	for _, tt := range tests {
		if got := redactQuery(tt.in); got != tt.want {
			t.Errorf("redactQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
