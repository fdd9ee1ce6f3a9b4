package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maauso/highlight-reel/internal/metrics"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

// Events handles GET /renders/{id}/events. It upgrades to a websocket and
// sends one JSON message per job event until the job finishes or the client
// goes away.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	// Subscribe before upgrading so unknown jobs still get a JSON 404.
	events, unsubscribe, err := h.service.Subscribe(r.Context(), jobID)
	if err != nil {
		h.jobError(w, jobID, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	metrics.EventSubscribers.Inc()
	defer metrics.EventSubscribers.Dec()

	// Drain client frames so control messages are handled; a read error
	// means the client left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "render finished")
				_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(eventWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("event write failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
