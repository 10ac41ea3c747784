package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestWithBuildSettings(t *testing.T) {
	defaults := Info{Version: "dev", GitCommit: "unknown", BuildDate: "unknown"}

	tests := []struct {
		name string
		info Info
		bi   *debug.BuildInfo
		want Info
	}{
		{
			name: "no build info",
			info: defaults,
			want: defaults,
		},
		{
			name: "vcs stamp fills defaults",
			info: defaults,
			bi: &debug.BuildInfo{
				Main: debug.Module{Version: "v0.3.1"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "3f2a9c1d2e"},
					{Key: "vcs.time", Value: "2025-01-27T10:30:00Z"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			want: Info{Version: "v0.3.1", GitCommit: "3f2a9c1d2e", BuildDate: "2025-01-27T10:30:00Z", Modified: true},
		},
		{
			name: "ldflags win",
			info: Info{Version: "1.0.0", GitCommit: "abc", BuildDate: "today"},
			bi: &debug.BuildInfo{
				Main:     debug.Module{Version: "v0.3.1"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "zzz"}},
			},
			want: Info{Version: "1.0.0", GitCommit: "abc", BuildDate: "today"},
		},
		{
			name: "devel main version ignored",
			info: defaults,
			bi:   &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}},
			want: defaults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withBuildSettings(tt.info, tt.bi); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestShort(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{Info{Version: "dev", GitCommit: "unknown"}, "dev"},
		{Info{Version: "v1.2.0", GitCommit: "3f2a9c1d2e"}, "v1.2.0 (3f2a9c1)"},
		{Info{Version: "v1.2.0", GitCommit: "abc", Modified: true}, "v1.2.0 (abc-dirty)"},
	}
	for _, tt := range tests {
		if got := tt.info.Short(); got != tt.want {
			t.Errorf("Short() = %q, want %q", got, tt.want)
		}
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if !strings.HasPrefix(info.GoVersion, "go") && !strings.HasPrefix(info.GoVersion, "devel") {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Platform = %q", info.Platform)
	}
	if String() != info.Version {
		t.Errorf("String() = %q, want %q", String(), info.Version)
	}
}
