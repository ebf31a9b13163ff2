package agent

import (
	"github.com/firebase/genkit/go/ai"
)

// Cache TTL hints in seconds. The stable prefix (system prompt, old
// history) is worth keeping warm longer than the moving tail.
const (
	longCacheTTL  = 3600
	shortCacheTTL = 300
)

// CacheStrategy annotates the rendered prompt with provider cache
// hints before each model call. Annotate runs on every loop iteration,
// so strategies must tolerate messages they already marked.
type CacheStrategy interface {
	Annotate(msgs []*ai.Message)
}

// NoCache leaves the prompt unannotated. It is the default for
// providers without prompt caching.
var NoCache CacheStrategy = noCache{}

type noCache struct{}

func (noCache) Annotate([]*ai.Message) {}

// BreakpointStrategy marks the first message with a long-lived cache
// hint and the last message with a short-lived one. The hint is a
// "cache" entry in message metadata; plugins that support prompt
// caching read it, everything else ignores unknown metadata.
type BreakpointStrategy struct{}

func (BreakpointStrategy) Annotate(msgs []*ai.Message) {
	if len(msgs) == 0 {
		return
	}
	// Clear earlier marks first: the trailing message moves every
	// iteration as the tool loop appends to the prompt.
	for _, m := range msgs {
		if m.Metadata != nil {
			delete(m.Metadata, "cache")
		}
	}
	markCache(msgs[0], longCacheTTL)
	if len(msgs) > 1 {
		markCache(msgs[len(msgs)-1], shortCacheTTL)
	}
}

func markCache(m *ai.Message, ttlSeconds int) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata["cache"] = map[string]any{"ttlSeconds": ttlSeconds}
}

// StrategyFor picks the cache strategy for a provider name as it
// appears in model references ("googleai/gemini-2.5-flash" has
// provider "googleai").
func StrategyFor(provider string) CacheStrategy {
	switch provider {
	case "googleai", "vertexai", "anthropic":
		return BreakpointStrategy{}
	default:
		return NoCache
	}
}
