package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/shmview/internal/decoder"
	"github.com/smazurov/shmview/internal/shm"
	"github.com/spf13/cobra"
)

// patternMetadataRoom is the per-slot space reserved for frame metadata.
const patternMetadataRoom = 256

type produceOptions struct {
	ShmDir    string
	Name      string
	Width     int
	Height    int
	Format    string
	FPS       float64
	MaxFrames int
	Count     int
	Keep      bool
	Metadata  bool
}

// CreateProduceCmd creates the produce command.
func CreateProduceCmd() *cobra.Command {
	var flags cliFlags
	opts := produceOptions{}

	cmd := &cobra.Command{
		Use:   "produce [shm-name]",
		Short: "Publish a moving test pattern into a shared memory region",
		Long: `Creates the region with the ring layout the viewer expects and writes a ` +
			`moving gradient at a fixed rate. The region is removed on exit unless --keep is set.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logger := flags.logger("shm")
			opts.ShmDir = flags.shmDir
			opts.Name = args[0]

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			written, err := runProduce(ctx, opts, logger)
			if err != nil {
				logger.Error("Producer failed", "written", written, "error", err)
				os.Exit(1)
			}
			logger.Info("Producer stopped", "frames", written)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&opts.Width, "width", 640, "Frame width")
	cmd.Flags().IntVar(&opts.Height, "height", 480, "Frame height")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "bgr", "Pixel format")
	cmd.Flags().Float64Var(&opts.FPS, "fps", 30, "Frames per second")
	cmd.Flags().IntVar(&opts.MaxFrames, "max-frames", shm.DefaultMaxFrames, "Ring depth")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "Stop after this many frames (0 runs until interrupted)")
	cmd.Flags().BoolVar(&opts.Keep, "keep", false, "Leave the region in place on exit")
	cmd.Flags().BoolVar(&opts.Metadata, "metadata", false, "Attach per-frame JSON metadata")
	return cmd
}

func runProduce(ctx context.Context, opts produceOptions, logger *slog.Logger) (int, error) {
	format, err := decoder.ParseFormat(opts.Format)
	if err != nil {
		return 0, err
	}
	if err := decoder.ValidateDimensions(opts.Width, opts.Height); err != nil {
		return 0, err
	}
	if opts.FPS <= 0 {
		return 0, fmt.Errorf("fps must be positive, got %v", opts.FPS)
	}
	if opts.MaxFrames <= 0 || opts.MaxFrames > shm.MaxFramesLimit {
		return 0, fmt.Errorf("max frames must be within 1..%d, got %d", shm.MaxFramesLimit, opts.MaxFrames)
	}
	path, err := regionPath(opts.ShmDir, opts.Name)
	if err != nil {
		return 0, err
	}

	bpp := format.BytesPerPixel()
	cfg := shm.ProducerConfig{
		FrameSlotSize: shm.SlotSizeFor(opts.Width, opts.Height, bpp, patternMetadataRoom),
		MaxFrames:     opts.MaxFrames,
		Width:         uint32(opts.Width),
		Height:        uint32(opts.Height),
		Format:        format.String(),
	}
	region, err := shm.Create(path, cfg.RegionSize())
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = region.Close()
		if !opts.Keep {
			_ = shm.Remove(path)
		}
	}()

	producer, err := shm.NewProducer(region.Bytes(), cfg)
	if err != nil {
		return 0, err
	}
	defer producer.SetActive(false)

	logger.Info("Producing test pattern",
		"path", path,
		"resolution", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"format", format,
		"fps", opts.FPS,
		"region_size", FormatBytes(int64(cfg.RegionSize())))

	ticker := time.NewTicker(time.Duration(float64(time.Second) / opts.FPS))
	defer ticker.Stop()

	written := 0
	for opts.Count == 0 || written < opts.Count {
		data, err := testPattern(format, opts.Width, opts.Height, written)
		if err != nil {
			return written, err
		}
		frame := shm.ProducedFrame{
			Width:         uint32(opts.Width),
			Height:        uint32(opts.Height),
			BytesPerPixel: uint32(bpp),
			FormatCode:    format.Code(),
			Data:          data,
		}
		if opts.Metadata {
			frame.Metadata = fmt.Sprintf(`{"pattern":"gradient","frame":%d}`, written)
		}
		if _, err := producer.WriteFrame(frame); err != nil {
			return written, err
		}
		written++
		if written%300 == 0 {
			logger.Debug("Frames written", "count", written)
		}

		select {
		case <-ctx.Done():
			return written, nil
		case <-ticker.C:
		}
	}
	return written, nil
}

// testPattern draws a diagonal gradient with a vertical bar that moves four
// pixels per frame.
func testPattern(format decoder.Format, width, height, frame int) ([]byte, error) {
	barWidth := max(1, width/16)
	barX := (frame * 4) % width
	return decoder.EncodeFrame(format, width, height, func(x, y int) (uint8, uint8, uint8) {
		if x >= barX && x < barX+barWidth {
			return 0xFF, 0xFF, 0xFF
		}
		return uint8(x*255/width + frame), uint8(y * 255 / height), uint8(frame * 2)
	})
}
