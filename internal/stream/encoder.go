package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ContentType is the media type of the event stream.
const ContentType = "application/x-ndjson"

// Encoder writes events as newline-delimited JSON envelopes. When the
// underlying writer supports http.Flusher each envelope is flushed
// immediately so clients see events as they are produced.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps an arbitrary writer.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// NewResponseEncoder sets the streaming headers on an HTTP response and
// wraps it. Call before the first Write so the headers precede the body.
func NewResponseEncoder(w http.ResponseWriter) *Encoder {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	return NewEncoder(w)
}

// Write encodes one event followed by a newline and flushes.
func (e *Encoder) Write(ctx context.Context, ev Event) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	data = append(data, '\n')

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
