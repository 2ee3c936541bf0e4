package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RollbackPolicy decides what happens to the two orders of an execution that
// a handler rejected, after their state has been restored.
type RollbackPolicy string

const (
	// RollbackCancel cancels both orders and removes the resting one.
	RollbackCancel RollbackPolicy = "cancel"
	// RollbackRestore keeps both orders as they were and moves on to the next candidate.
	RollbackRestore RollbackPolicy = "restore"
)

// DiagnosticsFunc receives every error a command produced, including the
// recoverable ones that did not abort it.
type DiagnosticsFunc func(cmd *Command, err error)

// Processor is the single writer of the books it owns. Commands are queued
// on its ring buffer and executed one at a time on its own goroutine.
type Processor struct {
	id       int
	registry *MatcherRegistry
	handlers *HandlerChain
	feed     PriceFeed
	rollback RollbackPolicy
	logger   *zap.Logger
	clock    func() time.Time

	diagnostics DiagnosticsFunc
	onRetire    func(order *Order)

	ring     *RingBuffer[*Command]
	capacity int64
	mu       sync.RWMutex // guards shutdown against in-flight enqueues
	closed   bool
	matching atomic.Bool

	books map[BookKey]*OrderBook
	mc    MatchContext
}

type ProcessorOption func(*Processor)

func WithProcessorPriceFeed(feed PriceFeed) ProcessorOption {
	return func(p *Processor) {
		p.feed = feed
	}
}

func WithProcessorRollback(policy RollbackPolicy) ProcessorOption {
	return func(p *Processor) {
		p.rollback = policy
	}
}

func WithProcessorLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

func WithProcessorDiagnostics(fn DiagnosticsFunc) ProcessorOption {
	return func(p *Processor) {
		p.diagnostics = fn
	}
}

func WithProcessorQueueCapacity(capacity int64) ProcessorOption {
	return func(p *Processor) {
		p.capacity = capacity
	}
}

// WithClock overrides the time source used to stamp executions.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.clock = clock
	}
}

func withRetireHook(fn func(order *Order)) ProcessorOption {
	return func(p *Processor) {
		p.onRetire = fn
	}
}

// NewProcessor creates a processor. The commit handler is added to the chain
// when it is missing.
func NewProcessor(id int, registry *MatcherRegistry, handlers *HandlerChain, opts ...ProcessorOption) (*Processor, error) {
	if registry == nil {
		registry = DefaultMatcherRegistry()
	}
	if handlers == nil {
		handlers = NewHandlerChain()
	}
	p := &Processor{
		id:       id,
		registry: registry,
		handlers: handlers,
		rollback: RollbackCancel,
		logger:   logger,
		clock:    time.Now,
		capacity: DefaultQueueCapacity,
		books:    make(map[BookKey]*OrderBook),
	}
	for _, opt := range opts {
		opt(p)
	}
	if !hasCommitHandler(p.handlers) {
		p.handlers.Add(NewCommitHandler())
	}
	if p.rollback != RollbackCancel && p.rollback != RollbackRestore {
		return nil, fmt.Errorf("%w: rollback %q", ErrInvalidParam, p.rollback)
	}

	ring, err := NewRingBuffer[*Command](p.capacity, p)
	if err != nil {
		return nil, err
	}
	p.ring = ring
	p.matching.Store(true)
	p.mc.Feed = p.feed
	return p, nil
}

func hasCommitHandler(chain *HandlerChain) bool {
	for _, h := range chain.handlers {
		if _, ok := h.(*CommitHandler); ok {
			return true
		}
	}
	return false
}

func (p *Processor) ID() int {
	return p.id
}

// Start launches the processor goroutine.
func (p *Processor) Start() {
	p.ring.Start()
}

// Enqueue queues a command. It blocks while the queue is full.
func (p *Processor) Enqueue(cmd *Command) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrShutdown
	}
	return p.ring.Publish(cmd)
}

// Shutdown stops accepting commands and waits for the queued ones to finish.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.ring.Shutdown(ctx)
}

// Pending returns the number of queued commands.
func (p *Processor) Pending() int64 {
	return p.ring.Pending()
}

// EnableMatching resumes matching of incoming orders.
func (p *Processor) EnableMatching() {
	p.matching.Store(true)
}

// DisableMatching lets orders rest without matching until re-enabled.
func (p *Processor) DisableMatching() {
	p.matching.Store(false)
}

func (p *Processor) IsMatching() bool {
	return p.matching.Load()
}

// OnEvent is the ring buffer consumer.
func (p *Processor) OnEvent(cmd *Command) {
	p.Process(cmd)
}

// Process executes a command on the calling goroutine. It must only be called
// by the owner of the processor's books.
func (p *Processor) Process(cmd *Command) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("command %s panicked: %v", cmd.ID, r)
			}
		}()
		switch cmd.Type {
		case CmdAddOrder:
			err = p.addOrder(cmd)
		case CmdCancelOrder:
			err = p.cancelOrder(cmd)
		case CmdActivateOrder:
			err = p.activateOrder(cmd)
		case CmdPriceChange:
			err = p.priceChange(cmd)
		default:
			err = fmt.Errorf("%w: command type %d", ErrInvalidParam, cmd.Type)
		}
	}()

	if err != nil {
		p.logger.Warn("command failed",
			zap.Int("processor", p.id),
			zap.String("command_id", cmd.ID),
			zap.String("type", cmd.Type.String()),
			zap.String("order_id", cmd.OrderID),
			zap.Error(err),
		)
		if p.diagnostics != nil {
			p.diagnostics(cmd, err)
		}
	}
	cmd.complete(err, p.clock())
}

func (p *Processor) context(book *OrderBook) *MatchContext {
	p.mc.Book = book
	p.mc.Now = p.clock()
	p.mc.reset()
	return &p.mc
}

func (p *Processor) attach(book *OrderBook) {
	if _, ok := p.books[book.Key()]; !ok {
		p.books[book.Key()] = book
	}
}

func (p *Processor) addOrder(cmd *Command) error {
	book := cmd.book()
	order := cmd.Order
	if book == nil || order == nil {
		return ErrInvalidParam
	}
	if err := order.normalize(); err != nil {
		return err
	}
	if order.Finished || order.Canceled {
		return ErrInvalidOrder
	}
	if err := book.Add(order); err != nil {
		return err
	}
	p.attach(book)

	before, _ := book.LastPrice()
	var errs []error
	if err := p.handlers.addOrder(p.context(book), order); err != nil {
		errs = append(errs, err)
	}

	if order.Type == Stop && order.Activation == NotActivated {
		return errors.Join(errs...)
	}

	if err := p.match(book, order); err != nil {
		errs = append(errs, err)
	}
	p.settleIncoming(book, order)
	if err := p.afterTrading(book, before); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Processor) cancelOrder(cmd *Command) error {
	book := cmd.book()
	if book == nil {
		return ErrNotFound
	}
	order := book.Order(cmd.OrderID)
	if order == nil {
		return ErrNotFound
	}
	p.cancel(book, order)
	return nil
}

// cancel never fails: handler errors are only reported.
func (p *Processor) cancel(book *OrderBook, order *Order) {
	order.cancel()
	p.retire(book, order)
	if err := p.handlers.cancelOrder(p.context(book), order); err != nil {
		p.logger.Warn("cancel notification failed", zap.String("order_id", order.ID), zap.Error(err))
		if p.diagnostics != nil {
			p.diagnostics(&Command{Type: CmdCancelOrder, OrderID: order.ID}, err)
		}
	}
}

func (p *Processor) activateOrder(cmd *Command) error {
	book := cmd.book()
	if book == nil {
		return ErrNotFound
	}
	order := book.Order(cmd.OrderID)
	if order == nil {
		return ErrNotFound
	}
	before, _ := book.LastPrice()
	err := p.activate(book, order)
	return errors.Join(err, p.afterTrading(book, before))
}

func (p *Processor) priceChange(cmd *Command) error {
	if !cmd.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidParam)
	}
	var errs []error
	for _, book := range cmd.books {
		p.attach(book)
		if cmd.External {
			book.SetLastPrice(cmd.Price, p.clock())
		}
	}
	for _, book := range cmd.books {
		if err := p.triggerStops(book, cmd.Price); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// activate moves a pending stop order live and matches it. When the
// activation notification fails the order goes back to pending.
func (p *Processor) activate(book *OrderBook, order *Order) error {
	if err := book.Activate(order); err != nil {
		return err
	}
	mc := p.context(book)
	mc.drop()
	err := p.handlers.activateOrder(mc, order)
	if err == nil {
		err = p.flushDeferred(mc)
	}
	if err != nil {
		mc.drop()
		book.Deactivate(order)
		return fmt.Errorf("activate %s: %w", order.ID, err)
	}
	order.Activation = Activated
	order.Version++

	err = p.match(book, order)
	p.settleIncoming(book, order)
	return err
}

// flushDeferred releases what handlers held back for the mutation the chain
// just accepted. A failure counts as a handler failure.
func (p *Processor) flushDeferred(mc *MatchContext) error {
	if err := mc.flush(); err != nil {
		return fmt.Errorf("%w: deferred: %w", ErrHandlerFailed, err)
	}
	return nil
}

// match runs one incoming order against the opposite side of its book.
//
// The walk restarts from the front after a candidate leaves the side, since
// removal invalidates the iterator. Every execution snapshots both orders
// first; a handler failure restores them and applies the rollback policy.
func (p *Processor) match(book *OrderBook, order *Order) error {
	if !p.IsMatching() {
		return nil
	}
	if order.Matching {
		return ErrReentrantMatch
	}
	order.Matching = true
	defer func() {
		order.Matching = false
	}()

	mc := p.context(book)
	opposite := book.side(oppositeSide(order.Side))
	var errs []error

	el := opposite.front()
	for el != nil {
		candidate := el.Value.(*Order)
		matcher := p.registry.Lookup(mc, order, candidate)
		if matcher == nil {
			el = el.Next()
			continue
		}
		if matcher.IsFinished(order) {
			order.finish()
			break
		}
		if matcher.IsFinished(candidate) {
			next := el.Next()
			candidate.finish()
			p.retire(book, candidate)
			el = next
			continue
		}

		result, err := matcher.Trade(mc, order, candidate)
		if err != nil {
			// a matching rule violation aborts the whole command
			errs = append(errs, fmt.Errorf("%s trade %s/%s: %w", matcher.Name(), order.ID, candidate.ID, err))
			return errors.Join(errs...)
		}
		result.Timestamp = mc.Now

		orderSnapshot, candidateSnapshot := *order, *candidate
		mc.drop()
		err = p.handlers.executeOrder(mc, order, candidate, &result)
		if err == nil {
			err = p.flushDeferred(mc)
		}
		if err != nil {
			mc.drop()
			orderVersion, candidateVersion := order.Version, candidate.Version
			*order, *candidate = orderSnapshot, candidateSnapshot
			errs = append(errs, err)
			p.logger.Warn("execution rolled back",
				zap.String("order_id", order.ID),
				zap.String("opponent_id", candidate.ID),
				zap.String("policy", string(p.rollback)),
				zap.Error(err),
			)
			if p.rollback == RollbackRestore {
				el = el.Next()
				continue
			}
			// the cancel must outrank the rolled-back state
			order.Version = max(order.Version, orderVersion)
			candidate.Version = max(candidate.Version, candidateVersion)
			order.cancel()
			p.cancel(book, candidate)
			break
		}

		p.recordTrade(book, &result)

		if matcher.IsFinished(candidate) {
			candidate.finish()
			p.retire(book, candidate)
			if err := p.handlers.removeOrder(mc, candidate); err != nil {
				p.logger.Warn("remove notification failed", zap.String("order_id", candidate.ID), zap.Error(err))
			}
			el = opposite.front()
		} else {
			el = el.Next()
		}

		if matcher.IsFinished(order) {
			order.finish()
			break
		}
	}
	return errors.Join(errs...)
}

// settleIncoming takes a finished or canceled incoming order off the book and
// cancels what an immediate order could not fill.
func (p *Processor) settleIncoming(book *OrderBook, order *Order) {
	switch {
	case order.Canceled:
		if p.retire(book, order) {
			if err := p.handlers.cancelOrder(p.context(book), order); err != nil {
				p.logger.Warn("cancel notification failed", zap.String("order_id", order.ID), zap.Error(err))
			}
		}
	case order.Finished || isFinished(order):
		order.finish()
		if p.retire(book, order) {
			if err := p.handlers.removeOrder(p.context(book), order); err != nil {
				p.logger.Warn("remove notification failed", zap.String("order_id", order.ID), zap.Error(err))
			}
		}
	case p.IsMatching() && (order.TimeInForce == ImmediateOrCancel || order.TimeInForce == FillOrKill):
		if book.IsLive(order) {
			p.cancel(book, order)
		}
	}
}

func (p *Processor) retire(book *OrderBook, order *Order) bool {
	if !book.Remove(order) {
		return false
	}
	if p.onRetire != nil {
		p.onRetire(order)
	}
	return true
}

// recordTrade updates the last-trade price with the resting order's
// execution price.
func (p *Processor) recordTrade(book *OrderBook, result *TradeResult) {
	book.SetLastPrice(result.OpponentPrice, result.Timestamp)
	if p.feed != nil {
		p.feed.Update(book.Instrument(), result.OpponentPrice, result.Timestamp)
	}
}

// afterTrading scans stops of every book of the instrument when the command
// moved the last-trade price.
func (p *Processor) afterTrading(book *OrderBook, before decimal.Decimal) error {
	after, ok := book.LastPrice()
	if !ok || after.Equal(before) {
		return nil
	}
	var errs []error
	for _, b := range p.instrumentBooks(book.Instrument()) {
		if err := p.triggerStops(b, after); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) instrumentBooks(instrument Instrument) []*OrderBook {
	var result []*OrderBook
	for key, book := range p.books {
		if key.Instrument == instrument {
			result = append(result, book)
		}
	}
	return result
}

// triggerStops activates every stop the price reached. Activations may trade
// and move the price, so the scan repeats until the price settles. A stop
// whose activation failed is not retried within the same scan.
func (p *Processor) triggerStops(book *OrderBook, price decimal.Decimal) error {
	var errs []error
	failed := make(map[string]struct{})
	for {
		activated := false
		for _, stop := range book.triggeredStops(price) {
			if _, skip := failed[stop.ID]; skip {
				continue
			}
			err := p.activate(book, stop)
			if errors.Is(err, ErrNotPending) {
				continue
			}
			if err != nil {
				errs = append(errs, err)
				if book.IsPending(stop) {
					failed[stop.ID] = struct{}{}
				}
			}
			activated = true
		}
		last, ok := book.LastPrice()
		if !activated || !ok || last.Equal(price) {
			break
		}
		price = last
	}
	return errors.Join(errs...)
}
