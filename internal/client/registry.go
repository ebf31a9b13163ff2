package client

import (
	"fmt"
	"sync"

	"github.com/strandlabs/strand/internal/log"
)

// RegistryConfig carries the pieces every consumer created by the
// registry shares.
type RegistryConfig struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:3400".
	BaseURL string

	// Model pins an explicit model selection for every consumer.
	Model string

	HTTPClient HTTPClient
	Logger     log.Logger

	// Cookie seeds the identity cookie from persisted state.
	Cookie string

	// CookieChanged observes the server minting or rotating the
	// identity cookie, so callers can persist the new value.
	CookieChanged func(value string)
}

// Registry keys consumers by conversation id, one consumer per
// conversation. When the server assigns a provisional conversation its
// permanent id mid-stream, the consumer re-keys itself through Move;
// observers holding the consumer keep their Updates subscription
// across the move.
//
// Every mutation is a point operation under one mutex, so a lookup
// racing a move sees either the old key or the new one, never neither.
type Registry struct {
	cfg RegistryConfig

	mu        sync.Mutex
	cookie    string
	consumers map[string]*Consumer
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Registry{
		cfg:       cfg,
		cookie:    cfg.Cookie,
		consumers: make(map[string]*Consumer),
	}
}

// RegisterOrGet returns the consumer for id, creating and wiring one
// when none is registered. An empty id registers a fresh provisional
// conversation.
func (r *Registry) RegisterOrGet(id string) *Consumer {
	if id == "" {
		id = NewProvisionalID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.consumers[id]; ok {
		return c
	}
	c := NewConsumer(ConsumerConfig{
		ID:            id,
		BaseURL:       r.cfg.BaseURL,
		Model:         r.cfg.Model,
		HTTPClient:    r.cfg.HTTPClient,
		Logger:        r.cfg.Logger,
		Cookie:        r.cookieValue,
		CookieChanged: r.storeCookie,
		Moved:         r.move,
	})
	r.consumers[id] = c
	return c
}

// Get returns the consumer registered under id, if any.
func (r *Registry) Get(id string) (*Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[id]
	return c, ok
}

// Move re-keys a consumer from oldID to newID. The consumer itself is
// untouched except for its id, so Updates subscriptions and in-flight
// folds survive the move.
func (r *Registry) Move(oldID, newID string) error {
	if oldID == newID {
		return nil
	}

	r.mu.Lock()
	c, ok := r.consumers[oldID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("move %q: %w", oldID, ErrUnknownConsumer)
	}
	if cur, occupied := r.consumers[newID]; occupied && cur != c {
		r.mu.Unlock()
		return fmt.Errorf("move %q: id %q already registered", oldID, newID)
	}
	delete(r.consumers, oldID)
	r.consumers[newID] = c
	r.mu.Unlock()

	c.setID(newID)
	return nil
}

// Dispose removes the consumer registered under id. A streaming
// consumer is never disposed (ErrConsumerStreaming): stop it first, or
// leave it registered so navigating back picks the stream up again.
func (r *Registry) Dispose(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[id]
	if !ok {
		return fmt.Errorf("dispose %q: %w", id, ErrUnknownConsumer)
	}
	if c.Streaming() {
		return ErrConsumerStreaming
	}
	delete(r.consumers, id)
	return nil
}

// Len returns the number of registered consumers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consumers)
}

// move adapts Move to the consumer hook signature. A failed move keeps
// the consumer reachable under its old key, which is still consistent.
func (r *Registry) move(oldID, newID string) {
	if err := r.Move(oldID, newID); err != nil {
		r.cfg.Logger.Warn("re-keying consumer", "old_id", oldID, "new_id", newID, "error", err)
	}
}

func (r *Registry) cookieValue() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cookie
}

// storeCookie records a minted cookie and forwards it to the caller's
// persistence hook outside the lock.
func (r *Registry) storeCookie(value string) {
	r.mu.Lock()
	if value == r.cookie {
		r.mu.Unlock()
		return
	}
	r.cookie = value
	notify := r.cfg.CookieChanged
	r.mu.Unlock()

	if notify != nil {
		notify(value)
	}
}
