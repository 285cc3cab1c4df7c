// Package traffic keeps a bounded in-memory log of JSON-RPC frames for
// protocol debugging. The recorder taps the rpc connection, classifies each
// frame, and retains the most recent entries in a ring.
package traffic

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 500

// Frame types.
const (
	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeNotification = "notification"
	TypeInvalid      = "invalid"
)

// Entry is one recorded frame.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Direction string    `json:"direction"` // incoming or outgoing
	Type      string    `json:"type"`
	Method    string    `json:"method,omitempty"`
	Payload   string    `json:"payload"`
}

// Filter narrows Entries output. Zero values match everything.
type Filter struct {
	Type   string // request, response, notification, invalid
	Search string // case-insensitive substring of method or payload
}

// Recorder is a fixed-capacity ring of traffic entries. Recording can be
// paused without losing what is already captured.
type Recorder struct {
	mu     sync.RWMutex
	ring   []Entry
	next   int
	full   bool
	paused bool
}

// NewRecorder creates a recorder holding at most capacity entries. A
// non-positive capacity falls back to DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{ring: make([]Entry, capacity)}
}

// Record classifies and stores one frame. Oldest entries are evicted once
// the ring is full. Dropped while paused.
func (r *Recorder) Record(direction string, payload []byte) {
	frameType, method := classify(payload)

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Direction: direction,
		Type:      frameType,
		Method:    method,
		Payload:   string(payload),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return
	}
	r.ring[r.next] = entry
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
}

// classify determines the frame type and method from the raw payload.
func classify(payload []byte) (string, string) {
	var frame struct {
		ID     interface{}     `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return TypeInvalid, ""
	}
	switch {
	case frame.Method != "" && frame.ID != nil:
		return TypeRequest, frame.Method
	case frame.Method != "":
		return TypeNotification, frame.Method
	case frame.ID != nil && (frame.Result != nil || frame.Error != nil):
		return TypeResponse, ""
	}
	return TypeInvalid, ""
}

// Pause stops recording. Already-captured entries are kept.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume re-enables recording.
func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// Paused reports whether recording is currently suspended.
func (r *Recorder) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// Clear drops all captured entries.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring = make([]Entry, len(r.ring))
	r.next = 0
	r.full = false
}

// Entries returns captured frames, oldest first, narrowed by filter.
func (r *Recorder) Entries(filter Filter) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ordered []Entry
	if r.full {
		ordered = append(ordered, r.ring[r.next:]...)
		ordered = append(ordered, r.ring[:r.next]...)
	} else {
		ordered = append(ordered, r.ring[:r.next]...)
	}

	if filter.Type == "" && filter.Search == "" {
		return ordered
	}

	search := strings.ToLower(filter.Search)
	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Method), search) &&
			!strings.Contains(strings.ToLower(e.Payload), search) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of captured entries.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.ring)
	}
	return r.next
}
