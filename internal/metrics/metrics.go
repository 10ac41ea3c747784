// Package metrics provides Prometheus metrics for the frame reader, decoder,
// connection lifecycle and preview peers.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/shmview/internal/connection"
)

const namespace = "shmview"

var (
	framesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "frames_total",
		Help:      "Frames read from shared memory",
	})

	readErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "errors_total",
		Help:      "Frame reads that failed bounds or mapping checks",
	})

	framesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "frames_total",
		Help:      "Frames converted to RGBA",
	})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "errors_total",
		Help:      "Frames that failed to decode",
	}, []string{"code"})

	decodeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "decoder",
		Name:      "duration_seconds",
		Help:      "Time spent converting one frame",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	viewerFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "viewer",
		Name:      "fps",
		Help:      "Displayed frames per second",
	})

	viewerLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "viewer",
		Name:      "latency_ms",
		Help:      "Average producer to display latency over recent frames",
	})

	viewerDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "viewer",
		Name:      "dropped_frames",
		Help:      "Frames skipped according to sequence number gaps",
	})

	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "state",
		Help:      "Current connection state, 1 for the active state",
	}, []string{"state"})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts by result",
	}, []string{"result"})

	connectionsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "lost_total",
		Help:      "Connections lost to failed health checks",
	})

	ringWriteIndex = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "write_index",
		Help:      "Producer write index",
	}, []string{"shm_name"})

	ringReadIndex = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "read_index",
		Help:      "Consumer read index",
	}, []string{"shm_name"})

	ringFrameCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "frames_buffered",
		Help:      "Frames published but not yet consumed",
	}, []string{"shm_name"})

	ringDropped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "dropped_frames_total",
		Help:      "Frames the producer overwrote before they were read",
	}, []string{"shm_name"})

	ringActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ring",
		Name:      "producer_active",
		Help:      "Producer liveness flag",
	}, []string{"shm_name"})

	previewPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "preview",
		Name:      "peers",
		Help:      "Connected WebRTC preview peers",
	})

	// Local cache for SSE exporter access.
	ringCache   = make(map[string]*RingMetrics)
	ringCacheMu sync.RWMutex
)

var connectionStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateReconnecting,
	connection.StateError,
}

// RingMetrics holds the latest control block values for a region.
type RingMetrics struct {
	WriteIndex    uint64
	ReadIndex     uint64
	FrameCount    uint64
	DroppedFrames uint64
	Active        bool
	LastWrite     time.Time
}

// ObserveFrameRead counts one frame read from the ring.
func ObserveFrameRead() {
	framesRead.Inc()
}

// ObserveReadError counts one failed read.
func ObserveReadError() {
	readErrors.Inc()
}

// ObserveDecode records a successful conversion.
func ObserveDecode(d time.Duration) {
	framesDecoded.Inc()
	decodeSeconds.Observe(d.Seconds())
}

// ObserveDecodeError counts a failed conversion by error code.
func ObserveDecodeError(code string) {
	decodeErrors.WithLabelValues(code).Inc()
}

// SetViewerStats publishes the facade's frame statistics.
func SetViewerStats(fps, latencyMs float64, dropped uint64) {
	viewerFPS.Set(fps)
	viewerLatency.Set(latencyMs)
	viewerDropped.Set(float64(dropped))
}

// SetConnectionState marks state as the active connection state.
func SetConnectionState(state connection.State) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveReconnect counts a reconnect attempt.
func ObserveReconnect(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	reconnects.WithLabelValues(result).Inc()
}

// ObserveConnectionLost counts a failed health check.
func ObserveConnectionLost() {
	connectionsLost.Inc()
}

// SetPreviewPeers sets the number of connected preview peers.
func SetPreviewPeers(n int) {
	previewPeers.Set(float64(n))
}

// SetRing publishes a control block snapshot for a region.
func SetRing(shmName string, m RingMetrics) {
	ringWriteIndex.WithLabelValues(shmName).Set(float64(m.WriteIndex))
	ringReadIndex.WithLabelValues(shmName).Set(float64(m.ReadIndex))
	ringFrameCount.WithLabelValues(shmName).Set(float64(m.FrameCount))
	ringDropped.WithLabelValues(shmName).Set(float64(m.DroppedFrames))
	active := 0.0
	if m.Active {
		active = 1
	}
	ringActive.WithLabelValues(shmName).Set(active)

	ringCacheMu.Lock()
	dup := m
	ringCache[shmName] = &dup
	ringCacheMu.Unlock()
}

// DeleteRing removes all metrics for a region.
func DeleteRing(shmName string) {
	ringWriteIndex.DeleteLabelValues(shmName)
	ringReadIndex.DeleteLabelValues(shmName)
	ringFrameCount.DeleteLabelValues(shmName)
	ringDropped.DeleteLabelValues(shmName)
	ringActive.DeleteLabelValues(shmName)

	ringCacheMu.Lock()
	delete(ringCache, shmName)
	ringCacheMu.Unlock()
}

// GetRing returns the cached values for a region.
func GetRing(shmName string) *RingMetrics {
	ringCacheMu.RLock()
	defer ringCacheMu.RUnlock()
	if m, ok := ringCache[shmName]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllRings returns cached values for every known region.
func GetAllRings() map[string]*RingMetrics {
	ringCacheMu.RLock()
	defer ringCacheMu.RUnlock()
	result := make(map[string]*RingMetrics, len(ringCache))
	for name, m := range ringCache {
		dup := *m
		result[name] = &dup
	}
	return result
}
