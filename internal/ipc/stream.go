package ipc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rogers-f/taskraid/internal/domain"
)

type eventLister func(r *http.Request, sinceSeq int64) ([]domain.GameEvent, error)

// streamEvents writes the log after since_seq as server-sent events, then
// follows it. New entries are read when the broker signals the topic or when
// the poll interval passes, whichever comes first.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, topic string, list eventLister) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	ctx := r.Context()
	var signals <-chan struct{}
	if h.Broker != nil {
		ch, cancel, err := h.Broker.Subscribe(ctx, topic)
		if err != nil {
			if h.Logger != nil {
				h.Logger.Printf("ipc: subscribe %s: %v, polling only", topic, err)
			}
		} else {
			defer cancel()
			signals = ch
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lastSeq := sinceSeq(r)
	send := func() bool {
		events, err := list(r, lastSeq)
		if err != nil {
			writeSSEError(w, flusher, err)
			return false
		}
		for _, ev := range events {
			writeSSEEvent(w, flusher, ev)
			lastSeq = ev.SeqNo
		}
		return true
	}
	if !send() {
		return
	}

	interval := h.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
		case <-ticker.C:
		}
		if !send() {
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.GameEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.SeqNo, ev.EventType, data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
