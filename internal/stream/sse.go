package stream

import (
	"fmt"
	"net/http"
	"sync"
)

// sseSink writes server-sent-event frames to one HTTP response. Watchers and
// the registering handler can hit the same connection, so writes are
// serialized.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink wraps an HTTP response as an event-stream sink. The response
// writer must support flushing.
func NewSSESink(w http.ResponseWriter) (Sink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by this connection")
	}
	return &sseSink{w: w, flusher: flusher}, nil
}

func (s *sseSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
