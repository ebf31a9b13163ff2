package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decoder is a pull iterator over an envelope stream:
//
//	dec := stream.NewDecoder(resp.Body)
//	for dec.Next(ctx) {
//	    apply(dec.Event())
//	}
//	if err := dec.Err(); err != nil { ... }
//
// A malformed line does not stop iteration: it is skipped and counted,
// and the decode error is retained until a later valid envelope clears
// it. Already-applied events are never rolled back by a bad line.
//
// If the stream ends without a terminal finish or error envelope (the
// connection dropped mid-generation), Terminated reports false and the
// consumer should treat the turn as interrupted.
type Decoder struct {
	r *bufio.Reader

	ev         Event
	err        error
	decodeErr  error
	skipped    int
	terminated bool
	eof        bool
}

// NewDecoder reads envelopes from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next advances to the next valid envelope. It returns false when the
// stream ends, the read fails, or ctx is canceled; Err distinguishes
// the cases. Cancellation is observed between reads; callers streaming
// over HTTP get prompt unblocking from the request context closing the
// response body.
func (d *Decoder) Next(ctx context.Context) bool {
	for {
		if d.eof {
			return false
		}
		if err := ctx.Err(); err != nil {
			d.err = fmt.Errorf("context canceled: %w", err)
			return false
		}

		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.err = fmt.Errorf("reading stream: %w", err)
				return false
			}
			d.eof = true
			if len(bytes.TrimSpace(line)) == 0 {
				return false
			}
			// A final envelope without a trailing newline still counts.
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			d.decodeErr = fmt.Errorf("decoding envelope: %w", err)
			d.skipped++
			continue
		}

		d.decodeErr = nil
		d.ev = ev
		if ev.Terminal() {
			d.terminated = true
		}
		return true
	}
}

// Event returns the envelope produced by the last successful Next.
func (d *Decoder) Event() Event {
	return d.ev
}

// Err returns the read or cancellation error that stopped iteration,
// or nil when the stream simply ended.
func (d *Decoder) Err() error {
	return d.err
}

// DecodeErr returns the most recent malformed-envelope error not yet
// followed by a valid envelope, or nil.
func (d *Decoder) DecodeErr() error {
	return d.decodeErr
}

// Skipped returns how many malformed lines were dropped.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Terminated reports whether a finish or error envelope was seen.
func (d *Decoder) Terminated() bool {
	return d.terminated
}
