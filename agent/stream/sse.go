package stream

import (
	"fmt"
	"net/http"

	"github.com/vocagent/vocagent/shared/jsonutil"
)

// WriteSSEHeaders prepares the response for an event stream. Must run before
// the first frame.
func WriteSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// WriteFrame emits one frame in the event-stream envelope and flushes it to
// the client when the writer supports flushing.
func WriteFrame(w http.ResponseWriter, frame *Frame) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonutil.MustJSON(frame)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
