package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that drops all output. Components
// taking the internal/log alias can use log.NewNop() directly; this
// helper exists for call sites that want a *slog.Logger spelled out.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
