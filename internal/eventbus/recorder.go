package eventbus

import "sync"

// Recorder is an in-memory EventBus that keeps every emitted event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ EventBus = (*Recorder)(nil)

func (r *Recorder) Emit(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Subjects returns the subject of every recorded event in emission order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Subject())
	}
	return out
}
