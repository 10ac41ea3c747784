package events

import "github.com/smazurov/shmview/internal/decoder"

// Event type constants for kelindar/event.
const (
	TypeConnected uint32 = iota + 1
	TypeDisconnected
	TypeConnectionError
	TypeConnectionLost
	TypeNewFrame
	TypeStatisticsUpdate
	TypeSettingsChanged
	TypeDecodeError
	TypeLogEntry
	TypeRingMetrics
	TypeProducerState
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ConnectedEvent is published when a region has been mapped and validated.
type ConnectedEvent struct {
	ShmName       string `json:"shm_name" example:"ultrasound_frames" doc:"Shared memory region name"`
	SessionID     string `json:"session_id" doc:"Connection session identifier"`
	MaxFrames     int    `json:"max_frames" example:"7" doc:"Ring capacity in frames"`
	FrameSlotSize int    `json:"frame_slot_size" example:"33177688" doc:"Bytes per ring slot"`
	Reconnect     bool   `json:"reconnect" doc:"True when the connection was re-established after a loss"`
	Timestamp     string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConnectedEvent.
func (e ConnectedEvent) Type() uint32 { return TypeConnected }

// DisconnectedEvent is published after an explicit disconnect.
type DisconnectedEvent struct {
	ShmName   string `json:"shm_name" example:"ultrasound_frames" doc:"Shared memory region name"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DisconnectedEvent.
func (e DisconnectedEvent) Type() uint32 { return TypeDisconnected }

// ConnectionErrorEvent reports a failed connect or reconnect attempt.
type ConnectionErrorEvent struct {
	ShmName   string `json:"shm_name" example:"ultrasound_frames" doc:"Shared memory region name"`
	Code      string `json:"code" example:"RECONNECT_FAILED" doc:"Error code"`
	Error     string `json:"error" doc:"Error description"`
	Attempt   int    `json:"attempt,omitempty" example:"3" doc:"Reconnect attempt number"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConnectionErrorEvent.
func (e ConnectionErrorEvent) Type() uint32 { return TypeConnectionError }

// ConnectionLostEvent is published when a health check fails.
type ConnectionLostEvent struct {
	ShmName   string `json:"shm_name" example:"ultrasound_frames" doc:"Shared memory region name"`
	Reason    string `json:"reason" example:"producer inactive" doc:"Why the connection was considered lost"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConnectionLostEvent.
func (e ConnectionLostEvent) Type() uint32 { return TypeConnectionLost }

// NewFrameEvent carries a decoded frame to in-process subscribers. Only the
// summary fields are serialised for SSE clients.
type NewFrameEvent struct {
	Frame     *decoder.ProcessedFrame `json:"-"`
	FrameID   uint64                  `json:"frame_id" example:"1042" doc:"Producer frame identifier"`
	Sequence  uint64                  `json:"sequence" example:"1042" doc:"Producer sequence number"`
	Width     int                     `json:"width" example:"1024" doc:"Frame width in pixels"`
	Height    int                     `json:"height" example:"768" doc:"Frame height in pixels"`
	Format    string                  `json:"format" example:"yuv" doc:"Resolved pixel format"`
	LatencyMs float64                 `json:"latency_ms" example:"3.2" doc:"Producer to consumer latency"`
	DecodeMs  float64                 `json:"decode_ms" example:"1.1" doc:"Decode time"`
	HasMeta   bool                    `json:"has_metadata" doc:"Whether per-frame metadata was attached"`
	Timestamp string                  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for NewFrameEvent.
func (e NewFrameEvent) Type() uint32 { return TypeNewFrame }

// StatisticsUpdateEvent is the periodic statistics snapshot.
type StatisticsUpdateEvent struct {
	State               string  `json:"state" example:"connected" doc:"Connection state"`
	ShmName             string  `json:"shm_name" example:"ultrasound_frames" doc:"Shared memory region name"`
	FPS                 float64 `json:"fps" example:"59.9" doc:"Frames per second over the last window"`
	AverageLatencyMs    float64 `json:"average_latency_ms" example:"3.4" doc:"Mean latency over recent frames"`
	TotalFrames         uint64  `json:"total_frames" example:"12000" doc:"Frames displayed"`
	DroppedFrames       uint64  `json:"dropped_frames" example:"3" doc:"Frames skipped by sequence gaps"`
	DropRate            float64 `json:"drop_rate" example:"0.02" doc:"Dropped frames as a percentage"`
	DecodeErrors        uint64  `json:"decode_errors" example:"0" doc:"Frames that failed to decode"`
	AverageDecodeMs     float64 `json:"average_decode_ms" example:"1.2" doc:"Mean decode time"`
	UptimePercent       float64 `json:"uptime_percent" example:"99.5" doc:"Share of time connected"`
	ReliabilityPercent  float64 `json:"reliability_percent" example:"100" doc:"Connection reliability score"`
	ConnectionLostCount uint64  `json:"connection_lost_count" example:"0" doc:"Connections lost"`
	ReconnectAttempts   int     `json:"reconnect_attempts" example:"0" doc:"Current consecutive attempts"`
	Stable              bool    `json:"stable" doc:"Stability predicate"`
	Timestamp           string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StatisticsUpdateEvent.
func (e StatisticsUpdateEvent) Type() uint32 { return TypeStatisticsUpdate }

// SettingsChangedEvent reports a viewer setting change.
type SettingsChangedEvent struct {
	Setting   string `json:"setting" example:"catch_up" doc:"Name of the changed setting"`
	Value     string `json:"value" example:"true" doc:"New value"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SettingsChangedEvent.
func (e SettingsChangedEvent) Type() uint32 { return TypeSettingsChanged }

// DecodeErrorEvent reports a frame that could not be decoded.
type DecodeErrorEvent struct {
	FrameID   uint64 `json:"frame_id" example:"1042" doc:"Producer frame identifier"`
	Code      string `json:"code" example:"INVALID_DATA_SIZE" doc:"Error code"`
	Error     string `json:"error" doc:"Error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DecodeErrorEvent.
func (e DecodeErrorEvent) Type() uint32 { return TypeDecodeError }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"connection" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// RingMetricsEvent is the periodic control block snapshot of a region.
type RingMetricsEvent struct {
	EventType     string `json:"type"`
	ShmName       string `json:"shm_name"`
	WriteIndex    string `json:"write_index"`
	ReadIndex     string `json:"read_index"`
	FrameCount    string `json:"frame_count"`
	DroppedFrames string `json:"dropped_frames"`
	Active        bool   `json:"active"`
}

// Type returns the event type identifier for RingMetricsEvent.
func (e RingMetricsEvent) Type() uint32 { return TypeRingMetrics }

// ProducerStateEvent reports a lifecycle change of the supervised producer.
type ProducerStateEvent struct {
	State     string `json:"state" example:"running" doc:"Producer process state"`
	PID       int    `json:"pid,omitempty" example:"4242" doc:"Process id while running"`
	Restarts  int    `json:"restarts" example:"0" doc:"Restarts since startup"`
	ExitCode  int    `json:"exit_code" example:"0" doc:"Exit code of the last run"`
	Error     string `json:"error,omitempty" doc:"Error from the last run"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ProducerStateEvent.
func (e ProducerStateEvent) Type() uint32 { return TypeProducerState }
