package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/logging"
	"github.com/smazurov/shmview/internal/shm"
	"github.com/spf13/cobra"
)

// cliFlags are shared by every subcommand.
type cliFlags struct {
	shmDir  string
	logJSON bool
	verbose bool
}

func (f *cliFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.shmDir, "shm-dir", shm.Dir, "Directory holding shared memory regions")
	cmd.Flags().BoolVar(&f.logJSON, "log-json", false, "Use JSON log format")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
}

// logger initialises minimal logging for a one-shot command.
func (f *cliFlags) logger(module string) *slog.Logger {
	cfg := logging.Config{Level: "info", Format: "text"}
	if f.logJSON {
		cfg.Format = "json"
	}
	if f.verbose {
		cfg.Level = "debug"
	}
	_ = logging.Initialize(cfg)
	return logging.GetLogger(module)
}

// regionPath resolves a region name inside dir.
func regionPath(dir, name string) (string, error) {
	if err := shm.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// regionOpener maps named regions from dir instead of /dev/shm.
func regionOpener(dir string) connection.Opener {
	return func(name string) (connection.Mapping, error) {
		path, err := regionPath(dir, name)
		if err != nil {
			return nil, err
		}
		return shm.OpenPath(path)
	}
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders d in milliseconds below one second and rounded to
// whole seconds above.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Second).String()
}
