package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/smazurov/shmview/internal/shm"
	"github.com/spf13/cobra"
)

// probeReport is the JSON form of a probe.
type probeReport struct {
	Path    string           `json:"path"`
	Layout  *shm.Layout      `json:"layout"`
	Control shm.ControlBlock `json:"control"`
	Latest  *shm.FrameHeader `json:"latest,omitempty"`
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var flags cliFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe [shm-name]",
		Short: "Print the layout and control block of a shared memory region",
		Long: `Maps the region, derives its ring layout from the control block and metadata, ` +
			`and prints the producer counters and the header of the newest frame. Nothing is consumed.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logger := flags.logger("shm")
			path, err := regionPath(flags.shmDir, args[0])
			if err != nil {
				logger.Error("Invalid region name", "error", err)
				os.Exit(1)
			}
			if err := runProbe(os.Stdout, path, asJSON, logger); err != nil {
				logger.Error("Probe failed", "path", path, "error", err)
				os.Exit(1)
			}
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func probe(path string, logger *slog.Logger) (*probeReport, error) {
	region, err := shm.OpenPath(path)
	if err != nil {
		return nil, err
	}
	defer region.Close()

	buf := region.Bytes()
	layout, err := shm.ParseLayout(buf, logger)
	if err != nil {
		return nil, err
	}
	control, err := shm.NewControlChannel(buf)
	if err != nil {
		return nil, err
	}

	report := &probeReport{Path: path, Layout: layout, Control: control.Snapshot()}
	if wi := report.Control.WriteIndex; wi > 0 {
		if h, err := shm.ReadFrameHeader(buf, layout.SlotOffset(wi-1)); err == nil && h.Valid() {
			report.Latest = &h
		}
	}
	return report, nil
}

func runProbe(w io.Writer, path string, asJSON bool, logger *slog.Logger) error {
	report, err := probe(path, logger)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	l, c := report.Layout, report.Control
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "region\t%s (%s)\n", report.Path, FormatBytes(int64(l.RegionSize)))
	fmt.Fprintf(tw, "data_offset\t%d\n", l.DataOffset)
	fmt.Fprintf(tw, "frame_slot_size\t%d (%s)\n", l.FrameSlotSize, FormatBytes(int64(l.FrameSlotSize)))
	fmt.Fprintf(tw, "max_frames\t%d\n", l.MaxFrames)
	if l.MetadataFallback {
		fmt.Fprintf(tw, "metadata\tmissing or invalid, defaults used\n")
	} else if l.Metadata.Width > 0 {
		fmt.Fprintf(tw, "metadata\t%dx%d %s\n", l.Metadata.Width, l.Metadata.Height, l.Metadata.Format)
	}
	fmt.Fprintf(tw, "active\t%t\n", c.Active)
	fmt.Fprintf(tw, "write_index\t%d\n", c.WriteIndex)
	fmt.Fprintf(tw, "read_index\t%d\n", c.ReadIndex)
	fmt.Fprintf(tw, "frames_in_buffer\t%d\n", c.FrameCount)
	fmt.Fprintf(tw, "total_written\t%d\n", c.TotalFramesWritten)
	fmt.Fprintf(tw, "total_read\t%d\n", c.TotalFramesRead)
	fmt.Fprintf(tw, "dropped\t%d\n", c.DroppedFrames)
	if last := c.LastWrite(); !last.IsZero() {
		fmt.Fprintf(tw, "last_write\t%s ago\n", FormatDuration(time.Since(last)))
	}
	if h := report.Latest; h != nil {
		fmt.Fprintf(tw, "latest_frame\tid=%d seq=%d %dx%d bpp=%d format=0x%02x size=%s\n",
			h.FrameID, h.SequenceNumber, h.Width, h.Height, h.BytesPerPixel, h.FormatCode,
			FormatBytes(int64(h.DataSize)))
	}
	return tw.Flush()
}
