package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
)

// Store is the conversation persistence surface the server depends on.
// Both *conversation.Store (PostgreSQL) and *conversation.MemoryStore
// satisfy it.
type Store interface {
	CreateConversation(ctx context.Context, ownerID, title string) (*conversation.Conversation, error)
	Conversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]conversation.Summary, error)
	AppendTurns(ctx context.Context, conversationID uuid.UUID, turns []message.Turn) error
	DeleteConversation(ctx context.Context, id uuid.UUID) (bool, error)
}

// Pinger reports database reachability for the readiness probe.
// *pgxpool.Pool satisfies it. Nil means no database (dev mode), which
// is always ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig collects the dependencies for NewServer.
type ServerConfig struct {
	Logger   log.Logger
	Genkit   *genkit.Genkit
	Config   *config.Config
	Store    Store
	Registry *agent.Registry
	Tools    []ai.Tool
	DB       Pinger

	// HMACSecret signs identity cookies. At least 32 bytes.
	HMACSecret []byte

	// SystemPrompt is handed to every session this server starts.
	SystemPrompt string

	CORSOrigins []string
	IsDev       bool
	TrustProxy  bool

	// RateLimit and RateBurst tune the per-IP limiter.
	// Defaults: 10 req/s, burst 20.
	RateLimit rate.Limit
	RateBurst int
}

// Server is the HTTP API. It owns no listener; callers mount Handler()
// on an http.Server of their own.
type Server struct {
	logger   log.Logger
	genkit   *genkit.Genkit
	cfg      *config.Config
	store    Store
	registry *agent.Registry
	tools    []ai.Tool
	db       Pinger

	hmacSecret   []byte
	systemPrompt string
	corsOrigins  []string
	isDev        bool
	trustProxy   bool

	limiter *rateLimiter
	handler http.Handler
	closed  chan struct{}
}

// NewServer validates the config, builds the route table and wraps it
// in the middleware stack. Call Close when done to stop the rate
// limiter janitor.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if len(cfg.HMACSecret) < 32 {
		return nil, fmt.Errorf("hmac secret too short: need 32 bytes, got %d", len(cfg.HMACSecret))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	s := &Server{
		logger:       cfg.Logger,
		genkit:       cfg.Genkit,
		cfg:          cfg.Config,
		store:        cfg.Store,
		registry:     cfg.Registry,
		tools:        cfg.Tools,
		db:           cfg.DB,
		hmacSecret:   cfg.HMACSecret,
		systemPrompt: cfg.SystemPrompt,
		corsOrigins:  cfg.CORSOrigins,
		isDev:        cfg.IsDev,
		trustProxy:   cfg.TrustProxy,
		limiter:      newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		closed:       make(chan struct{}),
	}
	s.handler = s.buildHandler()
	go s.janitor()
	return s, nil
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("GET /api/v1/chat/{id}/stream", s.handleChatStream)
	mux.HandleFunc("POST /api/v1/chat/{id}/stop", s.handleChatStop)
	mux.HandleFunc("GET /api/v1/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", s.handleDeleteConversation)

	// Innermost first: identity needs rate limiting outside it, logging
	// wants everything inside so it sees the final status.
	var h http.Handler = mux
	h = s.userMiddleware(h)
	h = s.rateLimitMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.securityHeadersMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.requestIDMiddleware(h)
	h = s.recoveryMiddleware(h)

	// Health probes bypass the stack: no rate limits, no cookies, no
	// access-log noise from the load balancer.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", s.handleHealth)
	top.HandleFunc("GET /ready", s.handleReady)
	top.Handle("/", h)
	return top
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Close stops background maintenance. It does not touch live sessions;
// shut the registry down separately.
func (s *Server) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

func (s *Server) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.limiter.cleanup(visitorTTL)
		case <-s.closed:
			return
		}
	}
}
