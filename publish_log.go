package match

import (
	"sync"
	"sync/atomic"
)

// Publisher receives depth snapshots and trade ticks. It is called on the
// processor goroutine, so slow sinks should hand off to their own queue.
type Publisher interface {
	PublishDepth(snapshot *DepthSnapshot) error
	PublishTrade(tick *TradeTick) error
}

// MemoryPublisher stores everything in memory, useful for testing.
type MemoryPublisher struct {
	mu     sync.RWMutex
	Depths []*DepthSnapshot
	Trades []*TradeTick
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		Depths: make([]*DepthSnapshot, 0),
		Trades: make([]*TradeTick, 0),
	}
}

func (m *MemoryPublisher) PublishDepth(snapshot *DepthSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *snapshot
	m.Depths = append(m.Depths, &cpy)
	return nil
}

func (m *MemoryPublisher) PublishTrade(tick *TradeTick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *tick
	m.Trades = append(m.Trades, &cpy)
	return nil
}

// TradeCount returns the number of trade ticks stored.
func (m *MemoryPublisher) TradeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Trades)
}

// DepthCount returns the number of depth snapshots stored.
func (m *MemoryPublisher) DepthCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Depths)
}

// Trade returns the tick at the specified index.
func (m *MemoryPublisher) Trade(index int) *TradeTick {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Trades[index]
}

// LastDepth returns the most recent snapshot, or nil.
func (m *MemoryPublisher) LastDepth() *DepthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.Depths) == 0 {
		return nil
	}
	return m.Depths[len(m.Depths)-1]
}

// DiscardPublisher discards everything, useful for benchmarking.
type DiscardPublisher struct{}

func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

func (p *DiscardPublisher) PublishDepth(*DepthSnapshot) error { return nil }

func (p *DiscardPublisher) PublishTrade(*TradeTick) error { return nil }

// PublishHandler publishes the depth of the touched book after every mutation
// and a trade tick after every execution on a publishable book.
type PublishHandler struct {
	BaseHandler
	publisher Publisher
	levels    []int32
	limit     int
	priority  int
	seq       atomic.Uint64
}

// NewPublishHandler creates a handler publishing depth at the given
// aggregation levels, truncated to limit entries per side.
func NewPublishHandler(publisher Publisher, levels []int32, limit int, priority int) *PublishHandler {
	if len(levels) == 0 {
		levels = []int32{0}
	}
	return &PublishHandler{
		publisher: publisher,
		levels:    levels,
		limit:     limit,
		priority:  priority,
	}
}

func (h *PublishHandler) Name() string {
	return "publish"
}

func (h *PublishHandler) Priority() int {
	return h.priority
}

func (h *PublishHandler) publishDepth(mc *MatchContext) error {
	if !mc.Book.Publishable() {
		return nil
	}
	return h.publisher.PublishDepth(&DepthSnapshot{
		Book:   mc.Book.Key(),
		Levels: mc.Book.SnapshotDepth(h.levels, h.limit),
		Time:   mc.Now,
	})
}

func (h *PublishHandler) OnAddOrder(mc *MatchContext, order *Order) error {
	return h.publishDepth(mc)
}

func (h *PublishHandler) OnCancelOrder(mc *MatchContext, order *Order) error {
	return h.publishDepth(mc)
}

// OnActivateOrder publishes once the activation stands.
func (h *PublishHandler) OnActivateOrder(mc *MatchContext, order *Order) error {
	if !mc.Book.Publishable() {
		return nil
	}
	mc.Defer(func() error {
		return h.publishDepth(mc)
	})
	return nil
}

// OnExecuteOrder publishes the tick and the depth once the execution stands.
func (h *PublishHandler) OnExecuteOrder(mc *MatchContext, order, opponent *Order, result *TradeResult) error {
	if !mc.Book.Publishable() {
		return nil
	}
	tick := newTradeTick(0, mc.Book, order, opponent, result)
	mc.Defer(func() error {
		tick.SequenceID = h.seq.Add(1)
		if err := h.publisher.PublishTrade(tick); err != nil {
			return err
		}
		return h.publishDepth(mc)
	})
	return nil
}
