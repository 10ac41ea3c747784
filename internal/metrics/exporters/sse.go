package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/shmview/internal/events"
	"github.com/smazurov/shmview/internal/metrics"
)

// DefaultSSEInterval is how often ring metrics are checked for changes.
const DefaultSSEInterval = time.Second

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEOption configures an SSEExporter.
type SSEOption func(*SSEExporter)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) SSEOption {
	return func(s *SSEExporter) {
		if d > 0 {
			s.interval = d
		}
	}
}

// SSEExporter republishes ring metrics on the event bus for SSE clients.
// A region is published when its values change, so an idle producer
// costs nothing on the stream.
type SSEExporter struct {
	bus      EventPublisher
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   map[string]metrics.RingMetrics
}

// NewSSEExporter creates an exporter publishing to bus.
func NewSSEExporter(bus EventPublisher, opts ...SSEOption) *SSEExporter {
	s := &SSEExporter{bus: bus, interval: DefaultSSEInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins polling. Calling Start on a running exporter does nothing.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.last = make(map[string]metrics.RingMetrics)
	go s.run(ctx, s.done)
}

// Stop ends polling and waits for the loop to exit. It is safe to call
// before Start or more than once.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *SSEExporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.publishChanged()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishChanged()
		}
	}
}

func (s *SSEExporter) publishChanged() {
	current := metrics.GetAllRings()

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		return
	}

	for name := range last {
		if _, ok := current[name]; !ok {
			delete(last, name)
		}
	}
	for name, m := range current {
		if prev, ok := last[name]; ok && prev == *m {
			continue
		}
		last[name] = *m
		s.bus.Publish(ringEvent(name, *m))
	}
}

func ringEvent(name string, m metrics.RingMetrics) events.RingMetricsEvent {
	return events.RingMetricsEvent{
		EventType:     "ring_metrics",
		ShmName:       name,
		WriteIndex:    strconv.FormatUint(m.WriteIndex, 10),
		ReadIndex:     strconv.FormatUint(m.ReadIndex, 10),
		FrameCount:    strconv.FormatUint(m.FrameCount, 10),
		DroppedFrames: strconv.FormatUint(m.DroppedFrames, 10),
		Active:        m.Active,
	}
}

// EventTypes lists the SSE event names this exporter feeds, for
// registration on the /api/events stream.
func EventTypes() map[string]any {
	return map[string]any{
		"ring-metrics": events.RingMetricsEvent{},
	}
}
