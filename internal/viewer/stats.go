package viewer

import "time"

// LatencySamples is the number of recent frames averaged for latency.
const LatencySamples = 100

// FrameStatistics summarises displayed frames.
type FrameStatistics struct {
	TotalFramesReceived  uint64    `json:"total_frames_received"`
	TotalFramesProcessed uint64    `json:"total_frames_processed"`
	FramesDropped        uint64    `json:"frames_dropped"`
	DecodeErrors         uint64    `json:"decode_errors"`
	CurrentFPS           float64   `json:"current_fps"`
	AverageLatencyMs     float64   `json:"average_latency_ms"`
	MinLatencyMs         float64   `json:"min_latency_ms"`
	MaxLatencyMs         float64   `json:"max_latency_ms"`
	LastFrameAt          time.Time `json:"last_frame_at,omitempty"`
}

// DropRatePercent is dropped frames relative to received frames.
func (s FrameStatistics) DropRatePercent() float64 {
	if s.TotalFramesReceived == 0 {
		return 0
	}
	return float64(s.FramesDropped) / float64(s.TotalFramesReceived) * 100
}

// frameTracker accumulates FrameStatistics. Not safe for concurrent use.
type frameTracker struct {
	stats    FrameStatistics
	fpsStart time.Time
	fpsCount uint64
	samples  []float64
	next     int
	lastSeq  uint64
	haveSeq  bool
}

func newFrameTracker(now time.Time) *frameTracker {
	return &frameTracker{
		fpsStart: now,
		samples:  make([]float64, 0, LatencySamples),
	}
}

// frameReceived counts a frame and infers drops from sequence gaps.
func (t *frameTracker) frameReceived(seq uint64, now time.Time) {
	t.stats.TotalFramesReceived++
	t.fpsCount++
	t.stats.LastFrameAt = now
	if t.haveSeq && seq > t.lastSeq+1 {
		t.stats.FramesDropped += seq - t.lastSeq - 1
	}
	if !t.haveSeq || seq > t.lastSeq {
		t.lastSeq = seq
	}
	t.haveSeq = true
}

// frameProcessed records a decoded frame's latency.
func (t *frameTracker) frameProcessed(latencyMs float64) {
	t.stats.TotalFramesProcessed++
	if len(t.samples) < LatencySamples {
		t.samples = append(t.samples, latencyMs)
	} else {
		t.samples[t.next] = latencyMs
		t.next = (t.next + 1) % LatencySamples
	}

	sum := 0.0
	lo, hi := t.samples[0], t.samples[0]
	for _, v := range t.samples {
		sum += v
		lo = min(lo, v)
		hi = max(hi, v)
	}
	t.stats.AverageLatencyMs = sum / float64(len(t.samples))
	t.stats.MinLatencyMs = lo
	t.stats.MaxLatencyMs = hi
}

func (t *frameTracker) decodeError() {
	t.stats.DecodeErrors++
}

// calculateFPS closes the measurement window once at least a second has
// passed.
func (t *frameTracker) calculateFPS(now time.Time) {
	elapsed := now.Sub(t.fpsStart)
	if elapsed < time.Second {
		return
	}
	t.stats.CurrentFPS = float64(t.fpsCount) / elapsed.Seconds()
	t.fpsCount = 0
	t.fpsStart = now
}

// resetSequence forgets the last sequence number so a new connection does
// not count the jump as drops.
func (t *frameTracker) resetSequence() {
	t.haveSeq = false
}

func (t *frameTracker) snapshot() FrameStatistics {
	return t.stats
}

// MemoryStats tracks the memory the viewer holds on to.
type MemoryStats struct {
	SharedMemoryBytes   int `json:"shared_memory_bytes"`
	ProcessedFrameBytes int `json:"processed_frame_bytes"`
	PeakBytes           int `json:"peak_bytes"`
}

func (m *MemoryStats) update(shmBytes, frameBytes int) {
	m.SharedMemoryBytes = shmBytes
	m.ProcessedFrameBytes = frameBytes
	m.PeakBytes = max(m.PeakBytes, shmBytes+frameBytes)
}

// TotalMB is the current total in MiB.
func (m MemoryStats) TotalMB() float64 {
	return float64(m.SharedMemoryBytes+m.ProcessedFrameBytes) / (1024 * 1024)
}

// PeakMB is the peak total in MiB.
func (m MemoryStats) PeakMB() float64 {
	return float64(m.PeakBytes) / (1024 * 1024)
}
