package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/decoder"
	"github.com/smazurov/shmview/internal/preview"
	"github.com/smazurov/shmview/internal/shm"
	"github.com/spf13/cobra"
)

const dumpPollInterval = 5 * time.Millisecond

type dumpOptions struct {
	ShmDir   string
	Name     string
	Count    int
	OutDir   string
	CatchUp  bool
	Timeout  time.Duration
	Format   string
	Strategy string
}

// frameSidecar is written next to every dumped PNG.
type frameSidecar struct {
	Header       shm.FrameHeader `json:"header"`
	Index        uint64          `json:"index"`
	Format       string          `json:"format"`
	Resolution   string          `json:"resolution"`
	LatencyMs    float64         `json:"latency_ms"`
	ProcessingMs float64         `json:"processing_ms"`
	ArrivedAt    time.Time       `json:"arrived_at"`
	Metadata     string          `json:"metadata,omitempty"`
}

// CreateDumpCmd creates the dump command.
func CreateDumpCmd() *cobra.Command {
	var flags cliFlags
	opts := dumpOptions{}

	cmd := &cobra.Command{
		Use:   "dump [shm-name]",
		Short: "Decode frames from a region and write them as PNG files",
		Long: `Connects to the region as a consumer, decodes the next frames and writes ` +
			`frame_<id>.png with a frame_<id>.json sidecar holding the header fields.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logger := flags.logger("connection")
			opts.ShmDir = flags.shmDir
			opts.Name = args[0]

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			written, err := runDump(ctx, opts, logger)
			if err != nil {
				logger.Error("Dump failed", "written", written, "error", err)
				os.Exit(1)
			}
			logger.Info("Dump complete", "frames", written, "dir", opts.OutDir)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 10, "Number of frames to write")
	cmd.Flags().StringVarP(&opts.OutDir, "dir", "d", ".", "Output directory")
	cmd.Flags().BoolVar(&opts.CatchUp, "catch-up", false, "Skip backlog and take the newest frame each time")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", connection.DefaultFrameTimeout, "Give up when no frame arrives for this long")
	cmd.Flags().StringVar(&opts.Format, "format", "yuv", "Pixel format for headers with an unknown code")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "auto", "Decoder strategy (auto, scalar, vector)")
	return cmd
}

func runDump(ctx context.Context, opts dumpOptions, logger *slog.Logger) (int, error) {
	if opts.Count <= 0 {
		return 0, fmt.Errorf("count must be positive, got %d", opts.Count)
	}
	hint, err := decoder.ParseFormat(opts.Format)
	if err != nil {
		return 0, err
	}
	strategy, err := decoder.ParseStrategy(opts.Strategy)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return 0, err
	}

	manager := connection.NewManager(logger, connection.WithOpener(regionOpener(opts.ShmDir)))
	if err := manager.Connect(opts.Name, &connection.Config{ShmName: opts.Name}); err != nil {
		return 0, err
	}
	defer manager.Disconnect()

	dec := decoder.New(decoder.Options{Strategy: strategy, Hint: hint, Logger: logger})

	idle := time.NewTimer(opts.Timeout)
	defer idle.Stop()
	poll := time.NewTicker(dumpPollInterval)
	defer poll.Stop()

	written := 0
	for written < opts.Count {
		var writeErr error
		got, err := manager.ReadFrame(opts.CatchUp, func(raw *shm.RawFrame) error {
			frame, err := dec.Decode(raw)
			if err != nil {
				return err
			}
			writeErr = writeFrame(opts.OutDir, frame)
			return writeErr
		})
		if writeErr != nil {
			return written, writeErr
		}
		var derr *decoder.Error
		switch {
		case errors.As(err, &derr):
			logger.Warn("Skipping undecodable frame", "code", derr.Code, "error", derr.Message)
			continue
		case err != nil:
			return written, err
		}
		if got {
			written++
			idle.Reset(opts.Timeout)
			continue
		}

		select {
		case <-ctx.Done():
			return written, ctx.Err()
		case <-idle.C:
			return written, fmt.Errorf("no frame for %s after %d of %d frames", FormatDuration(opts.Timeout), written, opts.Count)
		case <-poll.C:
		}
	}
	return written, nil
}

func writeFrame(dir string, frame *decoder.ProcessedFrame) error {
	data, err := preview.Thumbnail(frame, 0)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", frame.Header.FrameID, err)
	}
	base := filepath.Join(dir, fmt.Sprintf("frame_%d", frame.Header.FrameID))
	if err := os.WriteFile(base+".png", data, 0o644); err != nil {
		return err
	}

	sidecar, err := json.MarshalIndent(frameSidecar{
		Header:       frame.Header,
		Index:        frame.Index,
		Format:       frame.Format.String(),
		Resolution:   frame.Resolution(),
		LatencyMs:    frame.LatencyMs(),
		ProcessingMs: float64(frame.ProcessingTime()) / float64(time.Millisecond),
		ArrivedAt:    frame.ArrivedAt,
		Metadata:     frame.Metadata,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(base+".json", sidecar, 0o644)
}
