package server

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	eventProgress = "progress"
	eventFinished = "finished"
	eventFailed   = "failed"
)

// ProgressEvent is one message on the evaluation progress stream.
type ProgressEvent struct {
	Type    string `json:"type"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Period  string `json:"period,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProgressHub fans evaluation progress out to websocket subscribers. A slow
// subscriber drops events instead of stalling the evaluation goroutine; the
// stream is advisory, the run's outcome lives in the database.
type ProgressHub struct {
	log zerolog.Logger

	mu          sync.Mutex
	subscribers map[chan ProgressEvent]struct{}
}

// NewProgressHub creates a progress hub
func NewProgressHub(log zerolog.Logger) *ProgressHub {
	return &ProgressHub{
		log:         log.With().Str("component", "progress_hub").Logger(),
		subscribers: make(map[chan ProgressEvent]struct{}),
	}
}

// Broadcast sends an event to every subscriber without blocking.
func (h *ProgressHub) Broadcast(event ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *ProgressHub) subscribe() chan ProgressEvent {
	ch := make(chan ProgressEvent, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *ProgressHub) unsubscribe(ch chan ProgressEvent) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// SubscriberCount returns the number of live stream connections.
func (h *ProgressHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// HandleStream upgrades the request to a websocket and forwards progress
// events until the client disconnects.
func (h *ProgressHub) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The API is same-host; the dashboard may be served from a dev port.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()
	h.log.Debug().Msg("Progress stream connected")

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Progress stream write failed, dropping subscriber")
				return
			}
		}
	}
}
