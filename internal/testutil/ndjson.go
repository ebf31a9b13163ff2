package testutil

import (
	"context"
	"io"
	"testing"

	"github.com/strandlabs/strand/internal/stream"
)

// ReadEvents decodes a full NDJSON event stream, failing the test on
// malformed lines. Use it on complete response bodies; for incremental
// reads drive a stream.Decoder directly.
func ReadEvents(t *testing.T, r io.Reader) []stream.Event {
	t.Helper()
	dec := stream.NewDecoder(r)
	var events []stream.Event
	for dec.Next(context.Background()) {
		events = append(events, dec.Event())
	}
	if err := dec.Err(); err != nil {
		t.Fatalf("reading event stream: %v", err)
	}
	if err := dec.DecodeErr(); err != nil {
		t.Fatalf("malformed event in stream: %v", err)
	}
	return events
}

// EventTypes projects events to their type strings, in order.
func EventTypes(events []stream.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
