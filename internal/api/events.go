package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/rtsppull/internal/events"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of pipeline state, stream info, queue pressure, and errors",
		Tags:        []string{"events"},
	}, map[string]any{
		"state-changed":    events.StateChangedEvent{},
		"playback-started": events.PlaybackStartedEvent{},
		"playback-stopped": events.PlaybackStoppedEvent{},
		"stream-info":      events.StreamInfoEvent{},
		"error":            events.ErrorEvent{},
		"drop-mode":        events.DropModeEvent{},
		"log-entry":        events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PlaybackStartedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PlaybackStoppedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StreamInfoEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ErrorEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DropModeEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Initial snapshot so clients render without waiting.
		if err := send.Data(events.StateChangedEvent{
			State:     s.player.State().String(),
			Source:    "player",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
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
