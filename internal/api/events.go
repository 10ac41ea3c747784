package api

import (
	"context"
	"maps"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/shmview/internal/events"
	"github.com/smazurov/shmview/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time connection, frame and statistics events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{
			"connected":        events.ConnectedEvent{},
			"disconnected":     events.DisconnectedEvent{},
			"connection-error": events.ConnectionErrorEvent{},
			"connection-lost":  events.ConnectionLostEvent{},
			"new-frame":        events.NewFrameEvent{},
			"statistics":       events.StatisticsUpdateEvent{},
			"settings-changed": events.SettingsChangedEvent{},
			"decode-error":     events.DecodeErrorEvent{},
			"producer-state":   events.ProducerStateEvent{},
		}

		// Ring metrics from the exporter
		maps.Copy(eventTypes, exporters.EventTypes())

		return eventTypes
	}(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.ConnectedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DisconnectedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ConnectionErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ConnectionLostEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.NewFrameEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StatisticsUpdateEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SettingsChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DecodeErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RingMetricsEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProducerStateEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Current statistics so clients render immediately
		if err := send.Data(s.viewer.StatisticsEvent()); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
