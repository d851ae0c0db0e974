package observe

import (
	"sync"

	"github.com/MrWong99/voxhire/pkg/provider/llm"
)

// UsageCollector aggregates LLM token usage across the turns of one call.
// It is safe for concurrent use and safe to use as a nil pointer, in which
// case all methods are no-ops.
type UsageCollector struct {
	mu     sync.Mutex
	totals llm.Usage
	turns  int
}

// NewUsageCollector returns an empty collector.
func NewUsageCollector() *UsageCollector {
	return &UsageCollector{}
}

// Add accumulates the usage of one turn. Turns with all-zero usage still
// count towards the turn total, since some providers omit token figures.
func (c *UsageCollector) Add(u llm.Usage) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.PromptTokens += u.PromptTokens
	c.totals.CompletionTokens += u.CompletionTokens
	c.totals.TotalTokens += u.TotalTokens
	c.turns++
}

// Totals returns the accumulated usage and the number of turns recorded.
func (c *UsageCollector) Totals() (llm.Usage, int) {
	if c == nil {
		return llm.Usage{}, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals, c.turns
}
