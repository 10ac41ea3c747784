package logging

import (
	"log/slog"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

func TestFieldName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"shm_name", "SHM_NAME"},
		{"frame-id", "FRAME_ID"},
		{"_private", "PRIVATE"},
		{"9lives", "F9LIVES"},
		{"ünï", "N_"},
		{"", "FIELD"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := fieldName(tt.key); got != tt.want {
				t.Errorf("fieldName(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestAppendField(t *testing.T) {
	when := time.Date(2025, 1, 27, 10, 30, 0, 0, time.UTC)
	fields := map[string]string{}
	for _, a := range []slog.Attr{
		slog.String("module", "shm"),
		slog.Int("frame_id", 42),
		slog.Float64("latency_ms", 1.5),
		slog.Bool("catch_up", true),
		slog.Time("arrived", when),
		slog.Group("ring", slog.Int("max_frames", 7), slog.Group("", slog.String("flat", "x"))),
		{},
	} {
		appendField(fields, "", a)
	}

	want := map[string]string{
		"MODULE":          "shm",
		"FRAME_ID":        "42",
		"LATENCY_MS":      "1.5",
		"CATCH_UP":        "true",
		"ARRIVED":         "2025-01-27T10:30:00Z",
		"RING_MAX_FRAMES": "7",
		"RING_FLAT":       "x",
	}
	if len(fields) != len(want) {
		t.Errorf("fields = %v", fields)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestJournalHandlerGroupsAndAttrs(t *testing.T) {
	h := NewJournalHandler(slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("module", "viewer")}).
		WithGroup("conn").
		WithAttrs([]slog.Attr{slog.String("state", "connected")}).(*JournalHandler)

	if h.fields["MODULE"] != "viewer" || h.fields["CONN_STATE"] != "connected" {
		t.Errorf("fields = %v", h.fields)
	}
	if h.prefix != "CONN_" {
		t.Errorf("prefix = %q", h.prefix)
	}
	if h.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug should be disabled at info level")
	}
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  journal.Priority
	}{
		{slog.LevelDebug, journal.PriDebug},
		{slog.LevelInfo, journal.PriInfo},
		{slog.LevelWarn, journal.PriWarning},
		{slog.LevelError, journal.PriErr},
		{slog.LevelError + 4, journal.PriErr},
	}
	for _, tt := range tests {
		if got := priorityFor(tt.level); got != tt.want {
			t.Errorf("priorityFor(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
