package handler

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Aryan10022006/enactus/internal/pubsub"
)

const streamKeepAlive = 25 * time.Second

// Stream отдаёт server-sent events с именами изменившихся разделов данных.
// Клиент перечитывает соответствующий раздел обычным запросом.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := h.service.Subscribe()
	defer unsubscribe()

	// Сразу сообщаем клиенту, что поток открыт.
	fmt.Fprintf(w, "event: %s\ndata: {}\n\n", pubsub.TopicState)
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case topic, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", topic); err != nil {
				h.logger.Debug("stream write error", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
