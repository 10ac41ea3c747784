package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// testOptions mirrors the shape of the command-line options.
type testOptions struct {
	Config string

	ShmName        string        `toml:"viewer.shm_name" env:"VIEWER_SHM_NAME"`
	CatchUp        bool          `toml:"viewer.catch_up" env:"VIEWER_CATCH_UP"`
	Width          int           `toml:"viewer.width" env:"VIEWER_WIDTH"`
	ReconnectDelay time.Duration `toml:"connection.reconnect_delay" env:"CONNECTION_RECONNECT_DELAY"`
	FrameTimeoutMs int64         `toml:"connection.frame_timeout_ms" env:"CONNECTION_FRAME_TIMEOUT_MS"`
	MaxFPS         float64       `toml:"preview.max_fps" env:"PREVIEW_MAX_FPS"`
	ICEServers     []string      `toml:"preview.ice_servers" env:"PREVIEW_ICE_SERVERS"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleTOML = `
[viewer]
shm_name = "probe_frames"
catch_up = true
width = 640

[connection]
reconnect_delay = "250ms"
frame_timeout_ms = 3000

[preview]
max_fps = 12.5
ice_servers = ["stun:stun.example.org:3478"]
`

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeConfig(t, sampleTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := testOptions{
		Config:         opts.Config,
		ShmName:        "probe_frames",
		CatchUp:        true,
		Width:          640,
		ReconnectDelay: 250 * time.Millisecond,
		FrameTimeoutMs: 3000,
		MaxFPS:         12.5,
		ICEServers:     []string{"stun:stun.example.org:3478"},
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("got %+v\nwant %+v", *opts, want)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	t.Setenv("SHMVIEW_VIEWER_SHM_NAME", "from_env")
	t.Setenv("SHMVIEW_CONNECTION_RECONNECT_DELAY", "1500")
	t.Setenv("SHMVIEW_PREVIEW_ICE_SERVERS", "stun:a, stun:b")

	opts := &testOptions{Config: writeConfig(t, sampleTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.ShmName != "from_env" {
		t.Errorf("ShmName = %q", opts.ShmName)
	}
	if opts.ReconnectDelay != 1500*time.Millisecond {
		t.Errorf("ReconnectDelay = %v", opts.ReconnectDelay)
	}
	if !reflect.DeepEqual(opts.ICEServers, []string{"stun:a", "stun:b"}) {
		t.Errorf("ICEServers = %v", opts.ICEServers)
	}
	if opts.Width != 640 {
		t.Errorf("Width = %d, TOML value lost", opts.Width)
	}
}

func TestLoadConfigChangedFlagsWin(t *testing.T) {
	t.Setenv("SHMVIEW_VIEWER_WIDTH", "800")

	cmd := &cobra.Command{Use: "test"}
	opts := &testOptions{Config: writeConfig(t, sampleTOML)}
	cmd.Flags().StringVar(&opts.ShmName, "shm-name", "", "")
	cmd.Flags().IntVar(&opts.Width, "width", 0, "")
	if err := cmd.Flags().Parse([]string{"--shm-name", "from_flag", "--width", "320"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatal(err)
	}
	if opts.ShmName != "from_flag" || opts.Width != 320 {
		t.Errorf("flags overwritten: name=%q width=%d", opts.ShmName, opts.Width)
	}
	if !opts.CatchUp {
		t.Error("unflagged TOML value not applied")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), ShmName: "default"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if opts.ShmName != "default" {
		t.Errorf("ShmName = %q", opts.ShmName)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		env  map[string]string
		want string
	}{
		{name: "invalid toml", toml: "[viewer\nshm_name =", want: "parse"},
		{name: "wrong type", toml: "[viewer]\nwidth = \"wide\"\n", want: "viewer.width"},
		{name: "bad duration", toml: "[connection]\nreconnect_delay = true\n", want: "connection.reconnect_delay"},
		{name: "bad env int", toml: "", env: map[string]string{"SHMVIEW_VIEWER_WIDTH": "abc"}, want: "SHMVIEW_VIEWER_WIDTH"},
		{name: "bad env bool", toml: "", env: map[string]string{"SHMVIEW_VIEWER_CATCH_UP": "maybe"}, want: "SHMVIEW_VIEWER_CATCH_UP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &testOptions{Config: writeConfig(t, tt.toml)}
			err := LoadConfig(opts, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"viewer": map[string]any{"shm_name": "frames"},
		"flat":   1,
	}
	tests := []struct {
		path string
		want any
	}{
		{"viewer.shm_name", "frames"},
		{"viewer.missing", nil},
		{"flat", 1},
		{"flat.deeper", nil},
		{"absent.key", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":           "port",
		"LoggingLevel":   "logging-level",
		"ViewerShmName":  "viewer-shm-name",
		"PreviewEnabled": "preview-enabled",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
shm = "debug"
connection = "error"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("level=%q format=%q", cfg.Level, cfg.Format)
	}
	if cfg.Modules["shm"] != "debug" || cfg.Modules["connection"] != "error" {
		t.Errorf("modules = %v", cfg.Modules)
	}
	if _, ok := cfg.Modules["level"]; ok {
		t.Error("level leaked into module map")
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.toml")} {
		cfg := LoadLoggingConfig(path)
		if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
			t.Errorf("LoadLoggingConfig(%q) = %+v", path, cfg)
		}
	}
}

func TestUnknownKeys(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want []string
	}{
		{"all known", sampleTOML, nil},
		{"typos", "[viewer]\nshm_nmae = \"x\"\ncatch_up = true\n[server]\nport = \":1\"\n", []string{"server.port", "viewer.shm_nmae"}},
		{"module levels", "[logging]\nlevel = \"info\"\nconnection = \"debug\"\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnknownKeys(&testOptions{Config: writeConfig(t, tt.toml)})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("UnknownKeys() = %v, want %v", got, tt.want)
			}
		})
	}

	if got, err := UnknownKeys(&testOptions{Config: filepath.Join(t.TempDir(), "none.toml")}); err != nil || got != nil {
		t.Errorf("missing file: got %v, %v", got, err)
	}
}
