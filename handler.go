package match

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// EventHandler observes book mutations. Handlers run in priority-descending
// order and the first failure stops the chain.
type EventHandler interface {
	Name() string
	Priority() int
	OnAddOrder(mc *MatchContext, order *Order) error
	OnCancelOrder(mc *MatchContext, order *Order) error
	OnActivateOrder(mc *MatchContext, order *Order) error
	OnExecuteOrder(mc *MatchContext, order, opponent *Order, result *TradeResult) error
	// OnRemoveOrder fires when a filled order leaves the book.
	OnRemoveOrder(mc *MatchContext, order *Order) error
}

// BaseHandler provides no-op notifications for handlers to embed.
type BaseHandler struct{}

func (BaseHandler) OnAddOrder(*MatchContext, *Order) error                           { return nil }
func (BaseHandler) OnCancelOrder(*MatchContext, *Order) error                        { return nil }
func (BaseHandler) OnActivateOrder(*MatchContext, *Order) error                      { return nil }
func (BaseHandler) OnExecuteOrder(*MatchContext, *Order, *Order, *TradeResult) error { return nil }
func (BaseHandler) OnRemoveOrder(*MatchContext, *Order) error                        { return nil }

// HandlerChain keeps handlers sorted by descending priority. Equal priorities
// keep registration order.
type HandlerChain struct {
	handlers []EventHandler
}

// NewHandlerChain creates a chain from the given handlers.
func NewHandlerChain(handlers ...EventHandler) *HandlerChain {
	chain := &HandlerChain{}
	for _, h := range handlers {
		chain.Add(h)
	}
	return chain
}

// Add registers a handler at its priority.
func (c *HandlerChain) Add(h EventHandler) {
	c.handlers = append(c.handlers, h)
	sort.SliceStable(c.handlers, func(i, j int) bool {
		return c.handlers[i].Priority() > c.handlers[j].Priority()
	})
}

// Handlers returns the handlers in dispatch order.
func (c *HandlerChain) Handlers() []EventHandler {
	result := make([]EventHandler, len(c.handlers))
	copy(result, c.handlers)
	return result
}

func (c *HandlerChain) Len() int {
	return len(c.handlers)
}

// dispatch calls fn for every handler until one fails. A panicking handler
// counts as a failure.
func (c *HandlerChain) dispatch(event string, fn func(h EventHandler) error) error {
	for _, h := range c.handlers {
		if err := safeCall(h, fn); err != nil {
			return fmt.Errorf("%w: %s %s: %w", ErrHandlerFailed, h.Name(), event, err)
		}
	}
	return nil
}

func safeCall(h EventHandler, fn func(h EventHandler) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(h)
}

func (c *HandlerChain) addOrder(mc *MatchContext, order *Order) error {
	return c.dispatch("add", func(h EventHandler) error {
		return h.OnAddOrder(mc, order)
	})
}

func (c *HandlerChain) cancelOrder(mc *MatchContext, order *Order) error {
	return c.dispatch("cancel", func(h EventHandler) error {
		return h.OnCancelOrder(mc, order)
	})
}

func (c *HandlerChain) activateOrder(mc *MatchContext, order *Order) error {
	return c.dispatch("activate", func(h EventHandler) error {
		return h.OnActivateOrder(mc, order)
	})
}

func (c *HandlerChain) executeOrder(mc *MatchContext, order, opponent *Order, result *TradeResult) error {
	return c.dispatch("execute", func(h EventHandler) error {
		return h.OnExecuteOrder(mc, order, opponent, result)
	})
}

func (c *HandlerChain) removeOrder(mc *MatchContext, order *Order) error {
	return c.dispatch("remove", func(h EventHandler) error {
		return h.OnRemoveOrder(mc, order)
	})
}

// CommitHandler writes an execution into both orders' own counters. It runs
// first so every later handler sees committed in-memory state.
type CommitHandler struct {
	BaseHandler
}

func NewCommitHandler() *CommitHandler {
	return &CommitHandler{}
}

func (h *CommitHandler) Name() string {
	return "commit"
}

func (h *CommitHandler) Priority() int {
	return CommitHandlerPriority
}

func (h *CommitHandler) OnExecuteOrder(mc *MatchContext, order, opponent *Order, result *TradeResult) error {
	order.fill(result.Quantity, result.Amount)
	opponent.fill(result.Quantity, result.OpponentAmount)
	return nil
}

// LogHandler writes every book mutation to a zap logger at debug level.
type LogHandler struct {
	BaseHandler
	logger   *zap.Logger
	priority int
}

func NewLogHandler(l *zap.Logger, priority int) *LogHandler {
	if l == nil {
		l = logger
	}
	return &LogHandler{logger: l, priority: priority}
}

func (h *LogHandler) Name() string {
	return "log"
}

func (h *LogHandler) Priority() int {
	return h.priority
}

func orderFields(mc *MatchContext, order *Order) []zap.Field {
	return []zap.Field{
		zap.String("book", mc.Book.Key().String()),
		zap.String("order_id", order.ID),
		zap.String("side", order.Side.String()),
		zap.String("type", string(order.Type)),
		zap.String("price", order.Price.String()),
		zap.String("remaining_quantity", order.RemainingQuantity.String()),
		zap.String("remaining_amount", order.RemainingAmount.String()),
		zap.Uint64("version", order.Version),
	}
}

func (h *LogHandler) OnAddOrder(mc *MatchContext, order *Order) error {
	h.logger.Debug("order added", orderFields(mc, order)...)
	return nil
}

func (h *LogHandler) OnCancelOrder(mc *MatchContext, order *Order) error {
	h.logger.Debug("order canceled", orderFields(mc, order)...)
	return nil
}

func (h *LogHandler) OnActivateOrder(mc *MatchContext, order *Order) error {
	h.logger.Debug("stop order activated", append(orderFields(mc, order), zap.String("trigger_price", order.TriggerPrice.String()))...)
	return nil
}

func (h *LogHandler) OnExecuteOrder(mc *MatchContext, order, opponent *Order, result *TradeResult) error {
	h.logger.Debug("order executed",
		zap.String("book", mc.Book.Key().String()),
		zap.String("order_id", order.ID),
		zap.String("opponent_id", opponent.ID),
		zap.String("matcher", result.Matcher),
		zap.String("policy", string(result.Policy)),
		zap.String("price", result.Price.String()),
		zap.String("opponent_price", result.OpponentPrice.String()),
		zap.String("quantity", result.Quantity.String()),
		zap.String("platform_markup", result.PlatformMarkup.String()),
	)
	return nil
}

func (h *LogHandler) OnRemoveOrder(mc *MatchContext, order *Order) error {
	h.logger.Debug("order removed", orderFields(mc, order)...)
	return nil
}
