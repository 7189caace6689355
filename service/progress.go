package service

import (
	"sync"
	"time"
)

// ProgressEvent is one orchestrator notification, fanned out to websocket
// subscribers per project.
type ProgressEvent struct {
	ProjectID string    `json:"projectId"`
	Kind      string    `json:"kind"` // progress | error | retry
	Stage     string    `json:"stage"`
	ItemIndex int       `json:"itemIndex,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Max       int       `json:"maxAttempts,omitempty"`
	DelayMs   int64     `json:"delayMs,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// ProgressHub fans orchestrator events out to subscribers. Publishing never
// blocks: a subscriber that falls behind loses events rather than stalling
// the orchestrator's synchronous observer calls.
type ProgressHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan ProgressEvent]struct{}
	last map[string]ProgressEvent
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[string]map[chan ProgressEvent]struct{}),
		last: make(map[string]ProgressEvent),
	}
}

// Subscribe registers a buffered channel for one project's events. The
// latest event, if any, is replayed immediately so late subscribers see
// current state.
func (h *ProgressHub) Subscribe(projectID string) chan ProgressEvent {
	ch := make(chan ProgressEvent, 16)
	h.mu.Lock()
	if h.subs[projectID] == nil {
		h.subs[projectID] = make(map[chan ProgressEvent]struct{})
	}
	h.subs[projectID][ch] = struct{}{}
	lastEvent, ok := h.last[projectID]
	h.mu.Unlock()
	if ok {
		ch <- lastEvent
	}
	return ch
}

func (h *ProgressHub) Unsubscribe(projectID string, ch chan ProgressEvent) {
	h.mu.Lock()
	if subs, ok := h.subs[projectID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.subs, projectID)
		}
	}
	h.mu.Unlock()
}

func (h *ProgressHub) Publish(event ProgressEvent) {
	event.Time = time.Now()
	h.mu.Lock()
	h.last[event.ProjectID] = event
	subs := make([]chan ProgressEvent, 0, len(h.subs[event.ProjectID]))
	for ch := range h.subs[event.ProjectID] {
		subs = append(subs, ch)
	}
	h.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop
		}
	}
}
