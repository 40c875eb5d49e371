/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/skald_karaoke/internal/events"
	"github.com/friendsincode/skald_karaoke/internal/telemetry"
)

// wsEventTypes are the event types pushed to connected clients.
var wsEventTypes = []events.EventType{
	events.EventQueueUpdate,
	events.EventNowPlayingUpdate,
	events.EventPlaybackStarted,
	events.EventSongEnded,
	events.EventNotification,
}

type wsEvent struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handleEventsWS pushes bus events to a websocket client. The client
// only listens; reads are drained for close detection.
func (h *Handler) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebsocketClients.Inc()
	defer telemetry.WebsocketClients.Dec()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("event client connected")

	merged := make(chan wsEvent, 32)
	for _, eventType := range wsEventTypes {
		sub := h.bus.Subscribe(eventType)
		defer h.bus.Unsubscribe(eventType, sub)

		go func(eventType events.EventType, sub events.Subscriber) {
			for payload := range sub {
				select {
				case merged <- wsEvent{Type: eventType, Payload: payload}:
				default:
					// Slow client: drop rather than block the bus.
				}
			}
		}(eventType, sub)
	}

	ctx := conn.CloseRead(r.Context())

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case event := <-merged:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, ws.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}
