package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// produceRing writes count frames into a kept region under a temp dir.
func produceRing(t *testing.T, name string, count int) string {
	t.Helper()
	dir := t.TempDir()
	written, err := runProduce(context.Background(), produceOptions{
		ShmDir:    dir,
		Name:      name,
		Width:     64,
		Height:    32,
		Format:    "bgr",
		FPS:       1000,
		MaxFrames: 7,
		Count:     count,
		Keep:      true,
		Metadata:  true,
	}, testLogger())
	if err != nil {
		t.Fatalf("runProduce: %v", err)
	}
	if written != count {
		t.Fatalf("written = %d, want %d", written, count)
	}
	return dir
}

func TestProduceAndProbe(t *testing.T) {
	dir := produceRing(t, "frames", 3)
	path := filepath.Join(dir, "frames")

	var text bytes.Buffer
	if err := runProbe(&text, path, false, testLogger()); err != nil {
		t.Fatalf("runProbe text: %v", err)
	}
	if !strings.Contains(text.String(), "64x32") {
		t.Errorf("text report missing resolution:\n%s", text.String())
	}

	var out bytes.Buffer
	if err := runProbe(&out, path, true, testLogger()); err != nil {
		t.Fatalf("runProbe json: %v", err)
	}
	var report struct {
		Layout struct {
			MaxFrames int `json:"max_frames"`
		} `json:"layout"`
		Control struct {
			WriteIndex uint64 `json:"write_index"`
			Active     bool   `json:"active"`
		} `json:"control"`
		Latest *struct {
			Width  uint32 `json:"width"`
			Height uint32 `json:"height"`
		} `json:"latest"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	if report.Control.WriteIndex != 3 {
		t.Errorf("write_index = %d, want 3", report.Control.WriteIndex)
	}
	if report.Control.Active {
		t.Error("producer still marked active after exit")
	}
	if report.Layout.MaxFrames != 7 {
		t.Errorf("max_frames = %d, want 7", report.Layout.MaxFrames)
	}
	if report.Latest == nil || report.Latest.Width != 64 || report.Latest.Height != 32 {
		t.Errorf("latest = %+v", report.Latest)
	}
}

func TestProduceRemovesRegion(t *testing.T) {
	dir := t.TempDir()
	_, err := runProduce(context.Background(), produceOptions{
		ShmDir: dir, Name: "gone", Width: 8, Height: 8, Format: "gray",
		FPS: 1000, MaxFrames: 2, Count: 1,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone")); !os.IsNotExist(err) {
		t.Errorf("region still present: %v", err)
	}
}

func TestProduceRejectsOptions(t *testing.T) {
	base := produceOptions{ShmDir: t.TempDir(), Name: "x", Width: 8, Height: 8, Format: "rgb", FPS: 30, MaxFrames: 2, Count: 1}
	tests := []struct {
		name   string
		modify func(*produceOptions)
	}{
		{"unknown format", func(o *produceOptions) { o.Format = "h264" }},
		{"zero width", func(o *produceOptions) { o.Width = 0 }},
		{"zero fps", func(o *produceOptions) { o.FPS = 0 }},
		{"zero ring", func(o *produceOptions) { o.MaxFrames = 0 }},
		{"bad name", func(o *produceOptions) { o.Name = "../escape" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.modify(&opts)
			if _, err := runProduce(context.Background(), opts, testLogger()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDumpWritesFrames(t *testing.T) {
	dir := produceRing(t, "frames", 3)
	outDir := filepath.Join(t.TempDir(), "out")

	written, err := runDump(context.Background(), dumpOptions{
		ShmDir:   dir,
		Name:     "frames",
		Count:    3,
		OutDir:   outDir,
		Timeout:  time.Second,
		Format:   "yuv",
		Strategy: "scalar",
	}, testLogger())
	if err != nil {
		t.Fatalf("runDump: %v", err)
	}
	if written != 3 {
		t.Fatalf("written = %d, want 3", written)
	}

	pngs, _ := filepath.Glob(filepath.Join(outDir, "frame_*.png"))
	sidecars, _ := filepath.Glob(filepath.Join(outDir, "frame_*.json"))
	if len(pngs) != 3 || len(sidecars) != 3 {
		t.Fatalf("got %d png and %d json files, want 3 each", len(pngs), len(sidecars))
	}

	data, err := os.ReadFile(sidecars[0])
	if err != nil {
		t.Fatal(err)
	}
	var sidecar frameSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		t.Fatal(err)
	}
	if sidecar.Format != "bgr" || sidecar.Resolution != "64x32" {
		t.Errorf("sidecar = %+v", sidecar)
	}
	if !strings.Contains(sidecar.Metadata, "gradient") {
		t.Errorf("metadata = %q", sidecar.Metadata)
	}
}

func TestDumpTimesOut(t *testing.T) {
	dir := produceRing(t, "frames", 2)

	written, err := runDump(context.Background(), dumpOptions{
		ShmDir:   dir,
		Name:     "frames",
		Count:    5,
		OutDir:   t.TempDir(),
		Timeout:  50 * time.Millisecond,
		Format:   "yuv",
		Strategy: "auto",
	}, testLogger())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if written != 2 {
		t.Errorf("written = %d, want 2", written)
	}
}

func TestDumpMissingRegion(t *testing.T) {
	_, err := runDump(context.Background(), dumpOptions{
		ShmDir: t.TempDir(), Name: "absent", Count: 1, OutDir: t.TempDir(),
		Timeout: 10 * time.Millisecond, Format: "yuv", Strategy: "auto",
	}, testLogger())
	if err == nil {
		t.Fatal("expected connect error")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0ms"},
		{250 * time.Millisecond, "250ms"},
		{time.Second, "1s"},
		{1500 * time.Millisecond, "2s"},
		{90 * time.Second, "1m30s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
