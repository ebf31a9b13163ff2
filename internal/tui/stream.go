package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "charm.land/bubbletea/v2"
)

// streamBufferSize absorbs fold-notification bursts between UI frames
// so the bridge goroutine never stalls on a slow render.
const streamBufferSize = 100

// streamEvent is a discriminated union for everything a generation can
// hand the UI. Exactly one field is set per event.
type streamEvent struct {
	refresh bool  // the consumer's transcript changed; re-read it
	done    bool  // the generation finished cleanly
	err     error // the generation failed or was canceled
}

// Stream message types for Bubble Tea. Each carries the channel it was
// read from, so the tail of a superseded stream can drain without
// touching the active stream's bookkeeping.
type streamStartedMsg struct {
	eventCh <-chan streamEvent
	cancel  context.CancelFunc
}

type streamRefreshMsg struct {
	eventCh <-chan streamEvent
}

type streamDoneMsg struct {
	eventCh <-chan streamEvent
}

type streamErrorMsg struct {
	eventCh <-chan streamEvent
	err     error
}

// stopFailedMsg reports a stop request that never reached the server.
type stopFailedMsg struct {
	err error
}

// startStream runs one generation attempt off the UI goroutine and
// bridges the consumer's coalesced update signals onto a single event
// channel.
//
// Goroutine lifecycle: the bridge owns eventCh and closes it after the
// terminal event. send runs on its own goroutine because it blocks for
// the whole generation; its return value becomes the terminal event.
// Channel closure signals completion - no WaitGroup needed.
func (t *TUI) startStream(send func(context.Context) error) tea.Cmd {
	c := t.consumer
	uiCtx := t.ctx
	return func() tea.Msg {
		eventCh := make(chan streamEvent, streamBufferSize)

		// Bound a single generation to prevent indefinite hangs
		ctx, cancel := context.WithTimeout(uiCtx, streamTimeout)

		go func() {
			// Ensure timer resources are released on all exit paths
			defer cancel()
			// Channel closure signals bridge completion
			defer close(eventCh)

			result := make(chan error, 1)
			go func() {
				// Panic recovery to prevent TUI lockup
				defer func() {
					if r := recover(); r != nil {
						slog.Error("stream panic recovered", "panic", r)
						result <- fmt.Errorf("stream panic: %v", r)
					}
				}()
				result <- send(ctx)
			}()

			for {
				select {
				case <-c.Updates():
					select {
					case eventCh <- streamEvent{refresh: true}:
					default: // one queued refresh covers any burst
					}

				case err := <-result:
					ev := streamEvent{done: true}
					if err != nil {
						ev = streamEvent{err: err}
					}
					select {
					case eventCh <- ev:
					case <-uiCtx.Done():
						// The UI is tearing down; nobody is listening.
					}
					return
				}
			}
		}()

		return streamStartedMsg{
			eventCh: eventCh,
			cancel:  cancel,
		}
	}
}

// requestStop asks the server to wind the live generation down. The
// finish event then arrives through the open stream, so the UI stays in
// its streaming state until the fold settles.
func (t *TUI) requestStop() tea.Cmd {
	c := t.consumer
	ctx := t.ctx
	return func() tea.Msg {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		if err := c.Stop(stopCtx); err != nil {
			return stopFailedMsg{err: err}
		}
		return nil
	}
}

// listenForStream creates a command waiting for the next stream event.
// Empty events are skipped via loop instead of recursion to prevent
// stack growth under pathological conditions.
func listenForStream(eventCh <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			event, ok := <-eventCh
			if !ok {
				// Channel closed without a terminal event
				return streamErrorMsg{eventCh: eventCh, err: errors.New("stream ended without completion signal")}
			}

			// Discriminated union dispatch
			switch {
			case event.err != nil:
				return streamErrorMsg{eventCh: eventCh, err: event.err}
			case event.done:
				return streamDoneMsg{eventCh: eventCh}
			case event.refresh:
				return streamRefreshMsg{eventCh: eventCh}
			default:
				// Empty event - loop instead of recursing
				continue
			}
		}
	}
}
