package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/shmview/cmd"
	"github.com/smazurov/shmview/internal/api"
	"github.com/smazurov/shmview/internal/config"
	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/events"
	"github.com/smazurov/shmview/internal/logging"
	"github.com/smazurov/shmview/internal/metrics/collectors"
	"github.com/smazurov/shmview/internal/metrics/exporters"
	"github.com/smazurov/shmview/internal/preview"
	"github.com/smazurov/shmview/internal/supervisor"
	"github.com/smazurov/shmview/internal/systemd"
	"github.com/smazurov/shmview/internal/viewer"
	"github.com/spf13/cobra"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port              string `help:"Port to listen on" short:"p" default:":8091" toml:"server.port" env:"SERVER_PORT"`
	ServerCORSOrigins string `help:"Comma separated origins allowed to call the API (empty = any)" default:"" toml:"server.cors_origins" env:"SERVER_CORS_ORIGINS"`

	// Viewer settings
	ViewerShmName        string `help:"Shared memory region name" default:"ultrasound_frames" toml:"viewer.shm_name" env:"VIEWER_SHM_NAME"`
	ViewerFormat         string `help:"Pixel format hint for unknown format codes" default:"yuv" toml:"viewer.format" env:"VIEWER_FORMAT"`
	ViewerWidth          int    `help:"Expected frame width" default:"1024" toml:"viewer.width" env:"VIEWER_WIDTH"`
	ViewerHeight         int    `help:"Expected frame height" default:"768" toml:"viewer.height" env:"VIEWER_HEIGHT"`
	ViewerCatchUp        bool   `help:"Always show the newest frame" default:"false" toml:"viewer.catch_up" env:"VIEWER_CATCH_UP"`
	ViewerVerbose        bool   `help:"Trace shared memory and connection activity" default:"false" toml:"viewer.verbose" env:"VIEWER_VERBOSE"`
	ViewerAutoReconnect  bool   `help:"Reconnect after the producer goes away" default:"true" toml:"viewer.auto_reconnect" env:"VIEWER_AUTO_RECONNECT"`
	ViewerConnectOnStart bool   `help:"Connect to the region at startup" default:"true" toml:"viewer.connect_on_start" env:"VIEWER_CONNECT_ON_START"`

	// Connection settings
	ConnectionReconnectDelayMs     int `help:"Minimum delay between reconnect attempts in milliseconds" default:"1000" toml:"connection.reconnect_delay_ms" env:"CONNECTION_RECONNECT_DELAY_MS"`
	ConnectionMaxReconnectAttempts int `help:"Reconnect attempts before giving up" default:"10" toml:"connection.max_reconnect_attempts" env:"CONNECTION_MAX_RECONNECT_ATTEMPTS"`
	ConnectionFrameTimeoutMs       int `help:"Time without frames before the connection counts as lost, in milliseconds" default:"5000" toml:"connection.frame_timeout_ms" env:"CONNECTION_FRAME_TIMEOUT_MS"`

	// Producer supervision
	ProducerCommand        string `help:"Command that produces frames, started and restarted by shmview" default:"" toml:"producer.command" env:"PRODUCER_COMMAND"`
	ProducerRestartDelayMs int    `help:"Delay before restarting the producer in milliseconds" default:"1000" toml:"producer.restart_delay_ms" env:"PRODUCER_RESTART_DELAY_MS"`
	ProducerMaxRestarts    int    `help:"Producer restarts before giving up (0 = unlimited)" default:"0" toml:"producer.max_restarts" env:"PRODUCER_MAX_RESTARTS"`

	// Decoder settings
	DecoderThreads  int    `help:"Decoder worker count (0 = auto)" default:"0" toml:"decoder.threads" env:"DECODER_THREADS"`
	DecoderStrategy string `help:"Decoder strategy (auto, scalar, vector)" default:"auto" toml:"decoder.strategy" env:"DECODER_STRATEGY"`

	// Preview settings
	PreviewEnabled        bool   `help:"Enable WebRTC previews" default:"true" toml:"preview.enabled" env:"PREVIEW_ENABLED"`
	PreviewThumbnailWidth int    `help:"Preview thumbnail width" default:"160" toml:"preview.thumbnail_width" env:"PREVIEW_THUMBNAIL_WIDTH"`
	PreviewMaxFPS         int    `help:"Preview frame rate limit" default:"10" toml:"preview.max_fps" env:"PREVIEW_MAX_FPS"`
	PreviewICEServers     string `help:"Comma separated STUN/TURN URLs" default:"" toml:"preview.ice_servers" env:"PREVIEW_ICE_SERVERS"`

	// Metrics settings
	MetricsPrometheusEnabled bool `help:"Enable Prometheus" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSEEnabled        bool `help:"Enable ring metrics on the event stream" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingFile   string `help:"Also write logs to this file" default:"" toml:"logging.file" env:"LOGGING_FILE"`
}

// viewerConfig builds the viewer configuration from opts.
func (o *Options) viewerConfig() viewer.Config {
	return viewer.Config{
		ShmName:              o.ViewerShmName,
		Format:               o.ViewerFormat,
		Width:                o.ViewerWidth,
		Height:               o.ViewerHeight,
		CatchUp:              o.ViewerCatchUp,
		Verbose:              o.ViewerVerbose,
		AutoReconnect:        o.ViewerAutoReconnect,
		ReconnectDelay:       time.Duration(o.ConnectionReconnectDelayMs) * time.Millisecond,
		MaxReconnectAttempts: o.ConnectionMaxReconnectAttempts,
		FrameTimeout:         time.Duration(o.ConnectionFrameTimeoutMs) * time.Millisecond,
		DecoderThreads:       o.DecoderThreads,
		DecoderStrategy:      o.DecoderStrategy,
	}
}

func (o *Options) previewConfig() preview.Config {
	cfg := preview.Config{
		Enabled:        o.PreviewEnabled,
		ThumbnailWidth: o.PreviewThumbnailWidth,
		MaxFPS:         o.PreviewMaxFPS,
	}
	for _, url := range strings.Split(o.PreviewICEServers, ",") {
		if url = strings.TrimSpace(url); url != "" {
			cfg.ICEServers = append(cfg.ICEServers, url)
		}
	}
	return cfg
}

// loggingConfig merges the flat options with per-module levels from the
// [logging] table. Verbose mode raises the shm and connection modules.
func (o *Options) loggingConfig() logging.Config {
	cfg := config.LoadLoggingConfig(o.Config)
	cfg.Level = o.LoggingLevel
	cfg.Format = o.LoggingFormat
	cfg.File = o.LoggingFile
	if o.ViewerVerbose {
		cfg.Modules["shm"] = "debug"
		cfg.Modules["connection"] = "debug"
	}
	return cfg
}

// reloadable is the part of the configuration applied without a restart.
type reloadable struct {
	Viewer  viewer.Config
	Preview preview.Config
	Logging logging.Config
}

func main() {
	var rootCmd *cobra.Command

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, rootCmd); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		if logErr := logging.Initialize(opts.loggingConfig()); logErr != nil {
			slog.Warn("Failed to initialize logging", "error", logErr)
		}
		logger := logging.GetLogger("main")
		if unknown, _ := config.UnknownKeys(opts); len(unknown) > 0 {
			logger.Warn("Ignoring unknown config keys", "path", opts.Config, "keys", unknown)
		}

		viewerCfg := opts.viewerConfig()
		if err := viewerCfg.Validate(); err != nil {
			logger.Error("Invalid viewer configuration", "error", err)
			os.Exit(1)
		}

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		manager := connection.NewManager(logging.GetLogger("connection"))
		service := viewer.New(viewerCfg, manager, eventBus, logging.GetLogger("viewer"))

		previewManager, err := preview.NewManager(opts.previewConfig(), logging.GetLogger("preview"))
		if err != nil {
			logger.Error("Failed to create preview manager", "error", err)
			os.Exit(1)
		}

		corsConfig := api.DefaultCORSConfig()
		corsConfig.AllowOrigins = api.ParseOrigins(opts.ServerCORSOrigins)
		apiOpts := &api.Options{
			CORS:         &corsConfig,
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Viewer:       service,
			Preview:      previewManager,
			EventBus:     eventBus,
		}
		producer, err := newProducer(opts, eventBus)
		if err != nil {
			logger.Error("Invalid producer command", "command", opts.ProducerCommand, "error", err)
			os.Exit(1)
		}
		if producer != nil {
			apiOpts.Producer = producer
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler(logging.GetLogger("metrics"))
		}
		server := api.NewServer(apiOpts)

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}
		ringCollector := collectors.NewRingCollector(manager)

		watcher := config.NewConfigWatcher(opts.Config, func(path string) (reloadable, error) {
			next := *opts
			next.Config = path
			if err := config.LoadConfig(&next, rootCmd); err != nil {
				return reloadable{}, err
			}
			cfg := next.viewerConfig()
			if err := cfg.Validate(); err != nil {
				return reloadable{}, err
			}
			return reloadable{Viewer: cfg, Preview: next.previewConfig(), Logging: next.loggingConfig()}, nil
		}, logging.GetLogger("config"))

		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if producer != nil {
				producer.Start(ctx)
			}
			service.Start(ctx)
			go previewManager.Run(ctx, eventBus)
			if startErr := ringCollector.Start(ctx); startErr != nil {
				logger.Warn("Failed to start ring collector", "error", startErr)
			}
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			if opts.ViewerConnectOnStart {
				if connErr := service.Connect(ctx, "", nil); connErr != nil {
					logger.Warn("Initial connect failed, retrying in background", "shm_name", viewerCfg.ShmName, "error", connErr)
				}
			}

			watcher.OnReload(func(cfg reloadable) {
				logging.SetLevels(cfg.Logging)
				previewManager.UpdateConfig(cfg.Preview)
				if updErr := service.UpdateConfig(ctx, cfg.Viewer); updErr != nil {
					logger.Warn("Failed to apply reloaded config", "error", updErr)
					return
				}
				logger.Info("Configuration reloaded", "path", opts.Config)
			})
			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Config hot reload disabled", "path", opts.Config, "error", watchErr)
			}
			go reloadOnHangup(ctx, watcher)

			unsubStatus := eventBus.Subscribe(func(ev events.StatisticsUpdateEvent) {
				notifier.Status(statusLine(ev))
			})
			go func() {
				<-ctx.Done()
				unsubStatus()
			}()
			go notifier.RunWatchdog(ctx, func() bool {
				return service.State().Connection.State != connection.StateError
			})
			notifier.Ready()

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			if sseExporter != nil {
				sseExporter.Stop()
			}
			if stopErr := ringCollector.Stop(); stopErr != nil {
				logger.Warn("Error stopping ring collector", "error", stopErr)
			}

			// The viewer disconnects after the HTTP server so no request
			// races the final unmap.
			if discErr := service.Disconnect(ctx); discErr != nil {
				logger.Warn("Error disconnecting", "error", discErr)
			}
			service.Stop()
			if producer != nil {
				producer.Stop()
			}
			cancel()
			previewManager.Stop()
			_ = logging.Close()
		})
	})

	rootCmd = cli.Root()
	rootCmd.Use = "shmview"
	rootCmd.Short = "Shared memory frame viewer"

	rootCmd.AddCommand(cmd.CreateProbeCmd())
	rootCmd.AddCommand(cmd.CreateDumpCmd())
	rootCmd.AddCommand(cmd.CreateProduceCmd())

	cli.Run()
}

// newProducer creates the producer supervisor, or nil when no command is
// configured. State changes are published on bus.
func newProducer(opts *Options, bus *events.Bus) (*supervisor.Supervisor, error) {
	if strings.TrimSpace(opts.ProducerCommand) == "" {
		return nil, nil
	}
	return supervisor.New(supervisor.Config{
		Command:      opts.ProducerCommand,
		RestartDelay: time.Duration(opts.ProducerRestartDelayMs) * time.Millisecond,
		MaxRestarts:  opts.ProducerMaxRestarts,
	}, logging.GetLogger("supervisor"),
		supervisor.WithOutputLogger(logging.GetLogger("producer")),
		supervisor.WithStateHook(func(info supervisor.Info) {
			bus.Publish(events.ProducerStateEvent{
				State:     string(info.State),
				PID:       info.PID,
				Restarts:  info.Restarts,
				ExitCode:  info.LastExitCode,
				Error:     info.LastError,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}))
}

// reloadOnHangup forces a config reload on SIGHUP.
func reloadOnHangup(ctx context.Context, watcher *config.Watcher[reloadable]) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			watcher.Reload()
		}
	}
}

// statusLine renders the systemd STATUS= text.
func statusLine(ev events.StatisticsUpdateEvent) string {
	if ev.State != string(connection.StateConnected) {
		return ev.State + " " + ev.ShmName
	}
	return ev.ShmName + ": " + strconv.FormatFloat(ev.FPS, 'f', 1, 64) + " fps, " +
		strconv.FormatUint(ev.DroppedFrames, 10) + " dropped"
}
