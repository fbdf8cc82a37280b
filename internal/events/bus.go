// Package events provides a fan-out bus for progress and diagnostic
// notifications. Publishing never blocks the processing loops that emit
// events; slow listeners simply miss messages.
package events

import (
	"sync"

	"github.com/Adioame/PhotoMind-sub002/internal/constants"
)

// Type identifies the kind of an event.
type Type string

const (
	// TypeProgress carries per-item job counters.
	TypeProgress Type = "progress"
	// TypeStatus carries job status transitions.
	TypeStatus Type = "status"
	// TypePeopleUpdated signals that person aggregates changed and dependent
	// views should refresh.
	TypePeopleUpdated Type = "people_updated"
	// TypeDetection carries per-photo detection results.
	TypeDetection Type = "detection"
)

// Event is a single notification.
type Event struct {
	Type    Type   `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Progress is the payload of TypeProgress events.
type Progress struct {
	JobID        string `json:"job_id"`
	Processed    int    `json:"processed"`
	Total        int    `json:"total"`
	SuccessCount int    `json:"success_count"`
	FailedCount  int    `json:"failed_count"`
}

// Bus broadcasts events to any number of listeners.
type Bus struct {
	mu        sync.RWMutex
	listeners []chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// AddListener registers a new listener channel.
func (b *Bus) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener unregisters and closes a listener channel.
func (b *Bus) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all listeners without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}
