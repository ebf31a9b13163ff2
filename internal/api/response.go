package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/conversation"
)

// Stable error codes returned in the error envelope. Clients switch on
// these; the accompanying messages are free to change.
const (
	codeBadRequest        = "bad_request"
	codeUnauthorized      = "unauthorized"
	codeForbidden         = "forbidden"
	codeNotFound          = "not_found"
	codeMethodNotAllowed  = "method_not_allowed"
	codeRateLimited       = "rate_limited"
	codeNoModelConfigured = "no_model_configured"
	codePayloadTooLarge   = "payload_too_large"
	codeInternal          = "internal_error"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

// WriteJSON writes v inside the {"data": ...} envelope. The body is
// encoded into a buffer first so an encoding failure can still become a
// clean 500 instead of a half-written 200.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(envelope{Data: v}); err != nil {
		slog.Error("encode response", "error", err)
		http.Error(w, `{"error":{"code":"internal_error","message":"encoding failure"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// WriteError writes the {"error": {...}} envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(envelope{Error: &errorBody{Code: code, Message: message}}); err != nil {
		slog.Error("encode error response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// writeDomainError maps domain sentinel errors to HTTP status codes and
// stable error codes. Unknown errors become an opaque 500; their detail
// stays in the server log, not the response.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		WriteError(w, http.StatusNotFound, codeNotFound, "conversation not found")
	case errors.Is(err, agent.ErrForbidden):
		WriteError(w, http.StatusForbidden, codeForbidden, "conversation belongs to another user")
	case errors.Is(err, config.ErrNoModelConfigured):
		WriteError(w, http.StatusServiceUnavailable, codeNoModelConfigured, "no model configured: set an API key or configure a provider")
	case errors.Is(err, config.ErrInvalidProvider):
		WriteError(w, http.StatusBadRequest, codeBadRequest, "unknown model provider")
	default:
		logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
