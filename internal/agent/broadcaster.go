package agent

import (
	"sync"

	"github.com/strandlabs/strand/internal/stream"
)

// subscriberBuffer is the tail capacity of a subscriber channel beyond
// the replayed prefix. A subscriber that falls this far behind is
// dropped rather than allowed to stall the session.
const subscriberBuffer = 256

// broadcaster keeps every event a session has published and fans new
// ones out to subscribers. It is the only piece of session state that
// outlives a generation step: resuming clients read the buffer, live
// clients read the tail.
type broadcaster struct {
	mu     sync.Mutex
	buffer []stream.Event
	subs   map[chan stream.Event]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan stream.Event]struct{})}
}

// Publish appends ev to the replay buffer and delivers it to every
// subscriber. A subscriber whose channel is full is dropped and its
// channel closed; it can resynchronize with a fresh Subscribe, which
// replays the full buffer. After Close, Publish is a no-op.
func (b *broadcaster) Publish(ev stream.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.buffer = append(b.buffer, ev)
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Subscribe returns a channel that first replays every event published
// so far and then tails new ones. The channel is closed when the
// broadcaster closes or when the subscriber is dropped for not
// draining. The returned cancel function detaches the subscriber; it
// is safe to call more than once and after the channel closed.
func (b *broadcaster) Subscribe() (<-chan stream.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan stream.Event, len(b.buffer)+subscriberBuffer)
	for _, ev := range b.buffer {
		ch <- ev
	}
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close closes every subscriber channel and stops accepting events.
// Events already in subscriber channels remain readable; the replay
// buffer stays available through Events.
func (b *broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// Events returns a copy of the replay buffer.
func (b *broadcaster) Events() []stream.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]stream.Event, len(b.buffer))
	copy(out, b.buffer)
	return out
}
