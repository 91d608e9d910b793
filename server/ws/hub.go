// Package ws implements a Server-Sent Events (SSE) hub for automation
// progress updates.
package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/GoCodeAlone/tasksync/automation"
)

// Event types broadcast while a run progresses.
const (
	EventRunStarted  = "run.started"
	EventRunItem     = "run.item"
	EventRunFinished = "run.finished"
)

// Event is a typed real-time event broadcast to connected clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// RunEvent is the payload of run events.
type RunEvent struct {
	RunID      string              `json:"runId"`
	Action     automation.Action   `json:"action"`
	Trigger    string              `json:"trigger,omitempty"`
	Item       *automation.Outcome `json:"item,omitempty"`
	Summary    *automation.Summary `json:"summary,omitempty"`
	Message    string              `json:"message,omitempty"`
	DurationMS int64               `json:"durationMs,omitempty"`
}

// client represents a single SSE connection.
type client struct {
	ch chan []byte
}

// Hub manages SSE client connections and broadcasts events.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub creates a Hub ready to accept connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("hub broadcast marshal", slog.Any("err", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.ch <- data:
		default:
			// Drop event if client is slow
		}
	}
}

// RunStarted implements automation.Observer.
func (h *Hub) RunStarted(r *automation.Report) {
	h.Broadcast(Event{Type: EventRunStarted, Payload: RunEvent{
		RunID:   r.RunID,
		Action:  r.Action,
		Trigger: r.Trigger,
	}})
}

// ItemDone implements automation.Observer.
func (h *Hub) ItemDone(r *automation.Report, o automation.Outcome) {
	h.Broadcast(Event{Type: EventRunItem, Payload: RunEvent{
		RunID:  r.RunID,
		Action: r.Action,
		Item:   &o,
	}})
}

// RunFinished implements automation.Observer.
func (h *Hub) RunFinished(r *automation.Report) {
	summary := r.Summary
	h.Broadcast(Event{Type: EventRunFinished, Payload: RunEvent{
		RunID:      r.RunID,
		Action:     r.Action,
		Trigger:    r.Trigger,
		Summary:    &summary,
		Message:    r.Message(),
		DurationMS: r.Duration().Milliseconds(),
	}})
}

// ServeSSE handles an SSE connection request.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	c := &client{ch: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.ch)
	}()

	// Send connected event
	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-c.ch:
			if !ok {
				return
			}
			// Each SSE "data:" line must not contain newlines
			for _, line := range strings.Split(string(data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line) //nolint:errcheck
			}
			fmt.Fprintln(w) //nolint:errcheck
			flusher.Flush()
		}
	}
}
