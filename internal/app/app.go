// Package app assembles a running strand backend from configuration:
// the Genkit instance with every provider the environment can serve,
// the conversation store (PostgreSQL or in-memory), the live-session
// registry and the shipped tool kit.
//
// Setup builds the container; its fields map directly onto
// api.ServerConfig. Close releases everything, draining live sessions
// before the database pool goes away so in-flight turns still reach
// storage.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/api"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/log"
)

// closeTimeout bounds the wait for live sessions to persist their
// in-flight turns during Close.
const closeTimeout = 10 * time.Second

// App is the application container. All exported fields are set by
// Setup and read-only afterwards.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit *genkit.Genkit

	// Pool is nil when the in-memory store is active.
	Pool  *pgxpool.Pool
	Store api.Store

	Registry *agent.Registry
	Tools    []ai.Tool

	// HMACSecret signs identity cookies. Dev mode without a configured
	// secret gets an ephemeral one per boot.
	HMACSecret []byte

	// SystemPrompt frames every session this backend starts.
	SystemPrompt string

	dbCleanup func()
}

// Pinger returns the database handle for readiness probes, nil when
// the in-memory store is active. Returning the typed field would turn
// a nil pool into a non-nil interface, so the check happens here.
func (a *App) Pinger() api.Pinger {
	if a.Pool == nil {
		return nil
	}
	return a.Pool
}

// Close releases everything Setup built: live sessions are stopped and
// awaited first, then the database pool closes. Safe on a partially
// initialized App; Setup calls it when initialization fails midway.
func (a *App) Close() error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var retErr error
	if a.Registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.Registry.Shutdown(ctx); err != nil {
			retErr = fmt.Errorf("draining live sessions: %w", err)
		}
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
		logger.Debug("database pool closed")
	}

	return retErr
}
