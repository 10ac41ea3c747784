package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/shmview/internal/api/models"
	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/decoder"
	"github.com/smazurov/shmview/internal/events"
	"github.com/smazurov/shmview/internal/logging"
	"github.com/smazurov/shmview/internal/preview"
	"github.com/smazurov/shmview/internal/shm"
	"github.com/smazurov/shmview/internal/supervisor"
	"github.com/smazurov/shmview/internal/version"
	"github.com/smazurov/shmview/internal/viewer"
	"github.com/smazurov/shmview/ui"
)

// Viewer is the streaming facade the API drives.
type Viewer interface {
	Connect(ctx context.Context, name string, cfg *viewer.Config) error
	Disconnect(ctx context.Context) error
	SetCatchUpMode(ctx context.Context, enabled bool) error
	UpdateConfig(ctx context.Context, cfg viewer.Config) error
	ForceReconnect(ctx context.Context, bypassDelay bool) error
	ResetStatistics(ctx context.Context) error

	Config() viewer.Config
	State() viewer.State
	StatisticsEvent() events.StatisticsUpdateEvent
	ConnectionStatistics() connection.Statistics
	FrameStatistics() viewer.FrameStatistics
	DecoderStats() decoder.Stats
	DecoderStrategy() (decoder.Strategy, int)
	Layout() (shm.Layout, bool)
	ControlStats() (shm.ControlBlock, bool)
	LatestFrame() *decoder.ProcessedFrame
}

// PreviewPeers negotiates WebRTC preview sessions.
type PreviewPeers interface {
	CreatePeer(ctx context.Context, offer string) (preview.Answer, error)
	ClosePeer(id string) bool
	PeerCount() int
}

// ProducerControl inspects and restarts the supervised producer process.
type ProducerControl interface {
	Info() supervisor.Info
	Restart() error
}

// Server represents the Huma v2 API server
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	viewer     Viewer
	preview    PreviewPeers
	producer   ProducerControl
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// Options configures the API server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Viewer            Viewer
	Preview           PreviewPeers    // nil when previews are disabled
	Producer          ProducerControl // nil when no producer command is configured
	EventBus          *events.Bus
	PrometheusHandler http.Handler // Optional Prometheus metrics handler
	CORS              *CORSConfig
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	if opts.CORS != nil {
		corsConfig = *opts.CORS
	}

	// Add CORS preflight handler for all OPTIONS requests
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("shmview API", version.String())
	config.Info.Description = "Shared-memory frame viewer: connection control, statistics and live frames"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}

	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	bus := opts.EventBus
	if bus == nil {
		bus = events.New()
	}

	server := &Server{
		api:      api,
		mux:      mux,
		viewer:   opts.Viewer,
		preview:  opts.Preview,
		producer: opts.Producer,
		eventBus: bus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	// Apply CORS middleware first (before auth)
	api.UseMiddleware(NewCORSMiddleware(corsConfig))

	// Apply HTTP logging middleware after CORS but before auth
	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuth(opts.AuthUsername, opts.AuthPassword))
	}

	// Prometheus scrapes are unauthenticated and bypass huma
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	mux.Handle("GET /{$}", ui.Handler())

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting shmview API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts down the server. SSE streams never finish on their own, so
// connections are closed immediately.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				BuildID:   info.BuildID,
				Modified:  info.Modified,
				GoVersion: info.GoVersion,
				Compiler:  info.Compiler,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerViewerRoutes()
	s.registerFrameRoutes()
	s.registerPreviewRoutes()
	s.registerProducerRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
