// Package api implements the HTTP surface of the strand server.
//
// All application routes live under /api/v1 and are wrapped in the
// middleware stack (recovery, request id, logging, CORS, rate limiting,
// user identity). Health probes are mounted outside the stack so load
// balancers are never rate limited or assigned identity cookies.
//
// # Routes
//
//	POST   /api/v1/chat                     start a generation, respond with the event stream
//	GET    /api/v1/chat/{id}/stream         re-attach to the live generation for a conversation
//	POST   /api/v1/chat/{id}/stop           request cancellation of the live generation
//	GET    /api/v1/conversations            list the caller's conversations
//	GET    /api/v1/conversations/{id}       fetch one conversation with its turns
//	DELETE /api/v1/conversations/{id}       delete a conversation
//	GET    /health                          liveness probe
//	GET    /ready                           readiness probe (checks the database)
//
// # Response envelope
//
// Non-streaming endpoints return JSON in a fixed envelope:
//
//	{"data": ...}                                  on success
//	{"error": {"code": "...", "message": "..."}}   on failure
//
// Error codes are stable identifiers (bad_request, unauthorized,
// forbidden, not_found, rate_limited, no_model_configured,
// internal_error). Messages are human-readable and may change.
//
// # Streaming
//
// Chat endpoints respond with application/x-ndjson: one JSON-encoded
// stream.Event per line, flushed as produced. Events carry a sequence
// number that restarts at 1 for every generation, so a client that
// reconnects mid-generation can drop the prefix it already applied.
// Every stream ends with exactly one terminal event (finish, aborted,
// or error); if the client disconnects early the generation keeps
// running and the stream endpoint replays it from the start.
//
// # Identity
//
// Callers are identified by a uid cookie containing an opaque id signed
// with HMAC-SHA256. The middleware mints the cookie on first contact
// and rejects tampered values by minting a fresh identity. There are no
// accounts; the cookie is the owner key for every conversation the
// caller creates.
package api
