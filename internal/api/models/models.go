package models

import (
	"time"

	"github.com/smazurov/shmview/internal/connection"
	"github.com/smazurov/shmview/internal/shm"
	"github.com/smazurov/shmview/internal/viewer"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	Modified  bool   `json:"modified" doc:"Built from a dirty working tree"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Status models
type StatusData struct {
	State           connection.State       `json:"state" example:"connected" doc:"Connection state"`
	ShmName         string                 `json:"shm_name" example:"ultrasound_frames" doc:"Shared memory region name"`
	Error           string                 `json:"error,omitempty" doc:"Last connection error"`
	CatchUp         bool                   `json:"catch_up" doc:"Whether only the newest frame is shown"`
	HasFrame        bool                   `json:"has_frame" doc:"Whether a decoded frame is available"`
	DecoderStrategy string                 `json:"decoder_strategy" example:"vector" doc:"Active conversion strategy"`
	DecoderWorkers  int                    `json:"decoder_workers" example:"4" doc:"Row partitions for large frames"`
	PreviewPeers    int                    `json:"preview_peers" doc:"Connected WebRTC preview peers"`
	Frames          viewer.FrameStatistics `json:"frames" doc:"Displayed-frame counters"`
	Memory          MemoryData             `json:"memory" doc:"Memory held by the viewer"`
}

type MemoryData struct {
	SharedMemoryBytes   int     `json:"shared_memory_bytes" doc:"Mapped ring size"`
	ProcessedFrameBytes int     `json:"processed_frame_bytes" doc:"Size of the latest decoded frame"`
	TotalMB             float64 `json:"total_mb" doc:"Current total in MiB"`
	PeakMB              float64 `json:"peak_mb" doc:"Peak total in MiB"`
}

type StatusResponse struct {
	Body StatusData
}

// Statistics models
type StatisticsData struct {
	Connection              connection.Statistics  `json:"connection" doc:"Connection lifecycle counters"`
	UptimePercent           float64                `json:"uptime_percent" example:"99.5" doc:"Share of tracked time spent connected"`
	ReliabilityPercent      float64                `json:"reliability_percent" example:"100" doc:"Successful connections over all outcomes"`
	ReconnectSuccessPercent float64                `json:"reconnect_success_percent" example:"100" doc:"Successful reconnections over attempts"`
	AverageSessionSeconds   float64                `json:"average_session_seconds" doc:"Mean connected session length"`
	Stable                  bool                   `json:"stable" doc:"Whether the connection meets the stability thresholds"`
	Summary                 string                 `json:"summary" doc:"One-line human summary"`
	Frames                  viewer.FrameStatistics `json:"frames" doc:"Displayed-frame counters"`
	DropRatePercent         float64                `json:"drop_rate_percent" doc:"Dropped frames relative to received frames"`
	Decoder                 DecoderData            `json:"decoder" doc:"Decoder counters"`
}

type DecoderData struct {
	FramesProcessed     uint64  `json:"frames_processed"`
	Errors              uint64  `json:"errors"`
	AverageProcessingMs float64 `json:"average_processing_ms"`
	ProcessingRate      float64 `json:"processing_rate" doc:"Frames converted per second of conversion time"`
}

type StatisticsResponse struct {
	Body StatisticsData
}

// Layout models
type LayoutData struct {
	Layout  shm.Layout       `json:"layout" doc:"Parsed ring layout"`
	Control shm.ControlBlock `json:"control" doc:"Snapshot of the producer control block"`
}

type LayoutResponse struct {
	Body LayoutData
}

// Connection models
type ConnectRequest struct {
	Body struct {
		ShmName string      `json:"shm_name,omitempty" maxLength:"255" example:"ultrasound_frames" doc:"Region to attach to; defaults to the configured name"`
		Config  *ConfigData `json:"config,omitempty" doc:"Replace the configuration before connecting"`
	}
}

type ReconnectRequest struct {
	Body struct {
		BypassDelay bool `json:"bypass_delay,omitempty" doc:"Ignore the minimum reconnect delay"`
	}
}

type CatchUpRequest struct {
	Body struct {
		Enabled bool `json:"enabled" doc:"Show only the newest frame"`
	}
}

// Config models use milliseconds for durations.
type ConfigData struct {
	ShmName              string `json:"shm_name" minLength:"1" maxLength:"255" example:"ultrasound_frames"`
	Format               string `json:"format" example:"yuv" doc:"Fallback pixel format"`
	Width                int    `json:"width" minimum:"1" example:"1024"`
	Height               int    `json:"height" minimum:"1" example:"768"`
	CatchUp              bool   `json:"catch_up"`
	Verbose              bool   `json:"verbose"`
	AutoReconnect        bool   `json:"auto_reconnect"`
	ReconnectDelayMs     int64  `json:"reconnect_delay_ms" minimum:"1" example:"1000"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts" minimum:"1" example:"10"`
	FrameTimeoutMs       int64  `json:"frame_timeout_ms" minimum:"1" example:"5000"`
	DecoderThreads       int    `json:"decoder_threads" minimum:"0" example:"0" doc:"Row partitions; 0 picks automatically"`
	DecoderStrategy      string `json:"decoder_strategy" enum:"auto,scalar,vector" example:"auto"`
}

type ConfigRequest struct {
	Body ConfigData
}

type ConfigResponse struct {
	Body ConfigData
}

// Frame models
type FrameRequest struct {
	Width int `query:"width" minimum:"0" maximum:"8192" doc:"Scale to this width; 0 for full size"`
}

type FrameResponse struct {
	ContentType string `header:"Content-Type"`
	FrameID     string `header:"X-Frame-Id"`
	Sequence    string `header:"X-Frame-Sequence"`
	Body        []byte
}

// Preview models
type PreviewRequest struct {
	Body struct {
		SDP string `json:"sdp" minLength:"1" doc:"Browser SDP offer with a \"frames\" data channel"`
	}
}

type PreviewData struct {
	PeerID string `json:"peer_id" doc:"Identifier for closing the peer"`
	SDP    string `json:"sdp" doc:"SDP answer"`
}

type PreviewResponse struct {
	Body PreviewData
}

type PreviewPeerInput struct {
	PeerID string `path:"peer_id" doc:"Preview peer identifier"`
}

type ProducerData struct {
	Command      string    `json:"command" example:"shmview produce ultrasound_frames" doc:"Supervised command line"`
	State        string    `json:"state" example:"running" doc:"Process state"`
	PID          int       `json:"pid,omitempty" example:"4242" doc:"Process id while running"`
	StartedAt    time.Time `json:"started_at,omitzero" doc:"Start time of the current run"`
	Restarts     int       `json:"restarts" example:"0" doc:"Restarts since startup"`
	LastExitCode int       `json:"last_exit_code" example:"0" doc:"Exit code of the last run"`
	LastError    string    `json:"last_error,omitempty" doc:"Error from the last run"`
}

type ProducerResponse struct {
	Body ProducerData
}

// Generic message response
type MessageResponse struct {
	Body struct {
		Message string `json:"message" doc:"Operation result message"`
	}
}

// Error response
type ErrorData struct {
	Status  string `json:"status" example:"error" doc:"Error status"`
	Message string `json:"message" example:"Not connected" doc:"Error message"`
}

type ErrorResponse struct {
	Body ErrorData
}
