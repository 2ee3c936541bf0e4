package match

import (
	"fmt"
	"sync"
)

// MatcherRegistry holds the ordered list of matchers. The first matcher whose
// Supports accepts a pair is the one that trades it.
type MatcherRegistry struct {
	mu       sync.RWMutex
	matchers []Matcher
}

func NewMatcherRegistry(matchers ...Matcher) *MatcherRegistry {
	return &MatcherRegistry{matchers: matchers}
}

// DefaultMatcherRegistry registers limit, market and stop matchers in that order.
func DefaultMatcherRegistry() *MatcherRegistry {
	limit := &LimitMatcher{}
	market := &MarketMatcher{}
	return NewMatcherRegistry(limit, market, NewStopMatcher(limit, market))
}

// Register appends a matcher. Registration is expected before the processors
// start.
func (r *MatcherRegistry) Register(m Matcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers = append(r.matchers, m)
}

func (r *MatcherRegistry) Matchers() []Matcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Matcher, len(r.matchers))
	copy(result, r.matchers)
	return result
}

// Lookup returns the first matcher supporting the pair, or nil. The scratch
// area of mc holds whatever the winning matcher staged.
func (r *MatcherRegistry) Lookup(mc *MatchContext, order, opponent *Order) Matcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.matchers {
		mc.reset()
		if m.Supports(mc, order, opponent) {
			return m
		}
	}
	mc.reset()
	return nil
}

// NewMatcherRegistryByName builds a registry from matcher names, in order.
// allowFullFill configures the limit matcher's all-or-none handling.
func NewMatcherRegistryByName(names []string, allowFullFill bool) (*MatcherRegistry, error) {
	limit := &LimitMatcher{AllowFullFillAllOrNone: allowFullFill}
	market := &MarketMatcher{}
	registry := NewMatcherRegistry()
	for _, name := range names {
		switch name {
		case "limit":
			registry.Register(limit)
		case "market":
			registry.Register(market)
		case "stop":
			registry.Register(NewStopMatcher(limit, market))
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownMatcher, name)
		}
	}
	return registry, nil
}
