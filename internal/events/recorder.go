package events

import (
	"context"
	"sync"
)

// Recorder keeps published events in memory. Used by tests and dev mode.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish stores the event.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close does nothing.
func (r *Recorder) Close() {}

// Events returns the events of the given type, or all when eventType is empty.
func (r *Recorder) Events(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
