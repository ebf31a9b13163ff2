// Package client is the consumer side of the strand event stream: the
// state the TUI and CLI commands hold for one conversation, and the
// registry that keys those consumers.
//
// A [Consumer] owns the local transcript of a single conversation. It
// sends messages, folds the server's NDJSON event stream into turns
// with [stream.Accumulator], and exposes a coalesced Updates channel
// for UIs to repaint on. A conversation that has never reached the
// server is keyed by a provisional local id; when the server announces
// the permanent id on the first stream, the consumer re-keys itself
// through the [Registry].
//
// The [Registry] guarantees one consumer per conversation id and
// refuses to dispose a consumer that is still streaming
// (ErrConsumerStreaming): stop first, then dispose.
//
// [State] persists the identity cookie and current conversation across
// CLI runs under ~/.strand, guarded by a file lock so concurrent
// strand processes do not shred each other's writes.
package client
