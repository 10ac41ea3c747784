package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/shmview/internal/api/models"
	"github.com/smazurov/shmview/internal/viewer"
)

// registerViewerRoutes registers connection, statistics and settings endpoints
func (s *Server) registerViewerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Connection state, catch-up mode and frame counters",
		Tags:        []string{"viewer"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{Body: s.statusData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-statistics",
		Method:      http.MethodGet,
		Path:        "/api/statistics",
		Summary:     "Statistics",
		Description: "Connection reliability, frame and decoder statistics",
		Tags:        []string{"viewer"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StatisticsResponse, error) {
		return &models.StatisticsResponse{Body: s.statisticsData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "reset-statistics",
		Method:      http.MethodPost,
		Path:        "/api/statistics/reset",
		Summary:     "Reset Statistics",
		Description: "Clear frame, decoder and connection counters",
		Tags:        []string{"viewer"},
		Errors:      []int{401, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
		if err := s.viewer.ResetStatistics(ctx); err != nil {
			return nil, s.mapViewerError(err)
		}
		return message("Statistics reset"), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-layout",
		Method:      http.MethodGet,
		Path:        "/api/layout",
		Summary:     "Ring Layout",
		Description: "Parsed ring layout and a snapshot of the producer control block",
		Tags:        []string{"viewer"},
		Errors:      []int{401, 409},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.LayoutResponse, error) {
		layout, ok := s.viewer.Layout()
		if !ok {
			return nil, huma.Error409Conflict("not connected")
		}
		control, _ := s.viewer.ControlStats()
		return &models.LayoutResponse{
			Body: models.LayoutData{Layout: layout, Control: control},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "connect",
		Method:      http.MethodPost,
		Path:        "/api/connection",
		Summary:     "Connect",
		Description: "Attach to a shared memory region, optionally replacing the configuration",
		Tags:        []string{"connection"},
		Errors:      []int{401, 409, 422, 502, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ConnectRequest) (*models.StatusResponse, error) {
		var cfg *viewer.Config
		if input.Body.Config != nil {
			c := input.Body.Config.ToViewer()
			cfg = &c
		}
		if err := s.viewer.Connect(ctx, input.Body.ShmName, cfg); err != nil {
			return nil, s.mapViewerError(err)
		}
		return &models.StatusResponse{Body: s.statusData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "disconnect",
		Method:      http.MethodDelete,
		Path:        "/api/connection",
		Summary:     "Disconnect",
		Description: "Release the shared memory mapping",
		Tags:        []string{"connection"},
		Errors:      []int{401, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
		if err := s.viewer.Disconnect(ctx); err != nil {
			return nil, s.mapViewerError(err)
		}
		return message("Disconnected"), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "reconnect",
		Method:      http.MethodPost,
		Path:        "/api/connection/reconnect",
		Summary:     "Force Reconnect",
		Description: "Reset the attempt counter and reconnect, replacing a live mapping",
		Tags:        []string{"connection"},
		Errors:      []int{401, 409, 429, 502, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ReconnectRequest) (*models.StatusResponse, error) {
		if err := s.viewer.ForceReconnect(ctx, input.Body.BypassDelay); err != nil {
			return nil, s.mapViewerError(err)
		}
		return &models.StatusResponse{Body: s.statusData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-catch-up",
		Method:      http.MethodPut,
		Path:        "/api/settings/catch-up",
		Summary:     "Catch-up Mode",
		Description: "Switch between sequential reads and newest-frame-only reads",
		Tags:        []string{"settings"},
		Errors:      []int{401, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CatchUpRequest) (*models.StatusResponse, error) {
		if err := s.viewer.SetCatchUpMode(ctx, input.Body.Enabled); err != nil {
			return nil, s.mapViewerError(err)
		}
		return &models.StatusResponse{Body: s.statusData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/api/config",
		Summary:     "Get Configuration",
		Tags:        []string{"settings"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ConfigResponse, error) {
		return &models.ConfigResponse{Body: models.ConfigFromViewer(s.viewer.Config())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-config",
		Method:      http.MethodPut,
		Path:        "/api/config",
		Summary:     "Update Configuration",
		Description: "Replace the configuration; a new region name reconnects immediately",
		Tags:        []string{"settings"},
		Errors:      []int{401, 422, 502, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ConfigRequest) (*models.ConfigResponse, error) {
		if err := s.viewer.UpdateConfig(ctx, input.Body.ToViewer()); err != nil {
			return nil, s.mapViewerError(err)
		}
		return &models.ConfigResponse{Body: models.ConfigFromViewer(s.viewer.Config())}, nil
	})
}

func (s *Server) statusData() models.StatusData {
	st := s.viewer.State()
	strategy, workers := s.viewer.DecoderStrategy()
	data := models.StatusData{
		State:           st.Connection.State,
		ShmName:         st.Connection.ShmName,
		Error:           st.Connection.Error,
		CatchUp:         st.CatchUp,
		HasFrame:        st.HasFrame,
		DecoderStrategy: strategy.String(),
		DecoderWorkers:  workers,
		Frames:          st.Frames,
		Memory: models.MemoryData{
			SharedMemoryBytes:   st.Memory.SharedMemoryBytes,
			ProcessedFrameBytes: st.Memory.ProcessedFrameBytes,
			TotalMB:             st.Memory.TotalMB(),
			PeakMB:              st.Memory.PeakMB(),
		},
	}
	if s.preview != nil {
		data.PreviewPeers = s.preview.PeerCount()
	}
	return data
}

func (s *Server) statisticsData() models.StatisticsData {
	cs := s.viewer.ConnectionStatistics()
	fs := s.viewer.FrameStatistics()
	ds := s.viewer.DecoderStats()
	return models.StatisticsData{
		Connection:              cs,
		UptimePercent:           cs.UptimePercentage(),
		ReliabilityPercent:      cs.ReliabilityScore(),
		ReconnectSuccessPercent: cs.ReconnectionSuccessRate(),
		AverageSessionSeconds:   cs.AverageSessionDuration().Seconds(),
		Stable:                  cs.IsStable(),
		Summary:                 cs.Summary(),
		Frames:                  fs,
		DropRatePercent:         fs.DropRatePercent(),
		Decoder: models.DecoderData{
			FramesProcessed:     ds.FramesProcessed,
			Errors:              ds.Errors,
			AverageProcessingMs: ds.AverageProcessingMs(),
			ProcessingRate:      ds.ProcessingRate(),
		},
	}
}

func message(msg string) *models.MessageResponse {
	resp := &models.MessageResponse{}
	resp.Body.Message = msg
	return resp
}
