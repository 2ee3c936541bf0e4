package match

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchContext is the per-processor state threaded through one matching call
// chain. It replaces any ambient lookup: the book being matched, the price
// feed and a typed scratch area that carries resolved prices from Supports to
// Trade within one match attempt.
type MatchContext struct {
	Book *OrderBook
	Feed PriceFeed
	Now  time.Time

	scratch  matchScratch
	deferred []func() error
}

type matchScratch struct {
	staged        bool
	price         decimal.Decimal
	opponentPrice decimal.Decimal
	delegate      Matcher
}

func (mc *MatchContext) reset() {
	mc.scratch = matchScratch{}
}

// Defer holds fn back until every handler accepted the current execution or
// activation. Held work is dropped when the mutation is rolled back.
func (mc *MatchContext) Defer(fn func() error) {
	mc.deferred = append(mc.deferred, fn)
}

// flush runs the held work in order and stops at the first failure.
func (mc *MatchContext) flush() error {
	defer mc.drop()
	for _, fn := range mc.deferred {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (mc *MatchContext) drop() {
	clear(mc.deferred)
	mc.deferred = mc.deferred[:0]
}

func (mc *MatchContext) stage(price, opponentPrice decimal.Decimal) {
	mc.scratch.staged = true
	mc.scratch.price = price
	mc.scratch.opponentPrice = opponentPrice
}

func (mc *MatchContext) staged() (decimal.Decimal, decimal.Decimal, bool) {
	return mc.scratch.price, mc.scratch.opponentPrice, mc.scratch.staged
}

// MarketPrice is the instrument's last-trade price: the book's own value, or
// the feed when the book has not traded yet.
func (mc *MatchContext) MarketPrice() (decimal.Decimal, bool) {
	if mc.Book != nil {
		if price, ok := mc.Book.LastPrice(); ok && price.IsPositive() {
			return price, true
		}
	}
	if mc.Feed != nil && mc.Book != nil {
		if price, ok := mc.Feed.Price(mc.Book.Instrument()); ok && price.IsPositive() {
			return price, true
		}
	}
	return decimal.Zero, false
}

func (mc *MatchContext) quantityScale() int32 {
	if mc.Book == nil {
		return DefaultQuantityScale
	}
	return mc.Book.quantityScale
}

// minQuantity is the smallest representable quantity of the instrument.
func (mc *MatchContext) minQuantity() decimal.Decimal {
	return decimal.New(1, -mc.quantityScale())
}

// quoteQuantum is the smallest quote amount the book distinguishes.
func (mc *MatchContext) quoteQuantum() decimal.Decimal {
	scale := DefaultPriceScale
	if mc.Book != nil {
		scale = mc.Book.priceScale
	}
	return decimal.New(1, -scale)
}

// TradeResult describes one match. It is produced by a Matcher, consumed by
// the handler chain and then discarded.
type TradeResult struct {
	Matcher        string          `json:"matcher"`
	Policy         MarkupPolicy    `json:"policy"`
	Price          decimal.Decimal `json:"price"`
	OpponentPrice  decimal.Decimal `json:"opponent_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	OpponentAmount decimal.Decimal `json:"opponent_amount"`
	OrderMarkup    decimal.Decimal `json:"order_markup"`
	OpponentMarkup decimal.Decimal `json:"opponent_markup"`
	PlatformMarkup decimal.Decimal `json:"platform_markup"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Matcher decides whether two orders may trade and computes the economics.
type Matcher interface {
	Name() string
	// Supports is a pure predicate; it may stage resolved prices in mc for Trade.
	Supports(mc *MatchContext, order, opponent *Order) bool
	// Trade computes the result without mutating either order.
	Trade(mc *MatchContext, order, opponent *Order) (TradeResult, error)
	// IsFinished reports whether the order has nothing left to match.
	IsFinished(order *Order) bool
}

func isFinished(order *Order) bool {
	return order.Finished || order.Canceled || order.exhausted()
}

func crosses(order *Order, price, opponentPrice decimal.Decimal) bool {
	if order.Side == Buy {
		return opponentPrice.LessThanOrEqual(price)
	}
	return opponentPrice.GreaterThanOrEqual(price)
}

// buyableQuantity is what a buy order can take at price: remaining amount
// divided by price, truncated to scale, capped by remaining quantity when the
// order has one. byAmount is false when the quantity cap applied.
func buyableQuantity(order *Order, price decimal.Decimal, scale int32) (quantity decimal.Decimal, byAmount bool) {
	if !price.IsPositive() {
		return decimal.Zero, true
	}
	quantity, _ = order.RemainingAmount.QuoRem(price, scale)
	if order.Quantity.IsPositive() && order.RemainingQuantity.LessThan(quantity) {
		return order.RemainingQuantity, false
	}
	return quantity, true
}

// tradableQuantity is the quantity an order can trade at price.
func tradableQuantity(order *Order, price decimal.Decimal, scale int32) decimal.Decimal {
	if order.Side == Buy {
		q, _ := buyableQuantity(order, price, scale)
		return q
	}
	return order.RemainingQuantity
}

// affordable requires both sides to manage the smallest representable quantity
// at the opponent's price.
func affordable(mc *MatchContext, order, opponent *Order, price, opponentPrice decimal.Decimal) bool {
	smallest := mc.minQuantity()
	scale := mc.quantityScale()
	return tradableQuantity(order, opponentPrice, scale).GreaterThanOrEqual(smallest) &&
		tradableQuantity(opponent, price, scale).GreaterThanOrEqual(smallest)
}

// fillable checks both sides at the prices they would execute at under the
// order's markup policy, which may differ from the nominal prices: each side
// must manage the smallest quantity, an all-or-none or fill-or-kill order must
// be filled completely and a resting all-or-none opponent must be taken whole.
func fillable(mc *MatchContext, order, opponent *Order, price, opponentPrice decimal.Decimal) bool {
	execPrice, execOpponentPrice := executionPrices(markupOf(order), order, opponent, price, opponentPrice)
	scale := mc.quantityScale()
	smallest := mc.minQuantity()
	own := tradableQuantity(order, execPrice, scale)
	other := tradableQuantity(opponent, execOpponentPrice, scale)
	if own.LessThan(smallest) || other.LessThan(smallest) {
		return false
	}
	if requiresFullFill(order) && other.LessThan(own) {
		return false
	}
	if opponent.TimeInForce == AllOrNone && own.LessThan(other) {
		return false
	}
	return true
}

func requiresFullFill(order *Order) bool {
	return order.TimeInForce == AllOrNone || order.TimeInForce == FillOrKill
}

// LimitMatcher trades limit orders against limit orders.
type LimitMatcher struct {
	// AllowFullFillAllOrNone lets all-or-none and fill-or-kill orders trade
	// when the opponent fills them completely. When false they are never
	// supported.
	AllowFullFillAllOrNone bool
}

func (m *LimitMatcher) Name() string {
	return "limit"
}

func (m *LimitMatcher) Supports(mc *MatchContext, order, opponent *Order) bool {
	if order.Type != Limit || opponent.Type != Limit {
		return false
	}
	if requiresFullFill(order) && !m.AllowFullFillAllOrNone {
		return false
	}
	if !crosses(order, order.Price, opponent.Price) {
		return false
	}
	if !affordable(mc, order, opponent, order.Price, opponent.Price) {
		return false
	}
	if !fillable(mc, order, opponent, order.Price, opponent.Price) {
		return false
	}
	mc.stage(order.Price, opponent.Price)
	return true
}

func (m *LimitMatcher) Trade(mc *MatchContext, order, opponent *Order) (TradeResult, error) {
	price, opponentPrice, ok := mc.staged()
	if !ok {
		price, opponentPrice = order.Price, opponent.Price
	}
	return settle(mc, m.Name(), order, opponent, price, opponentPrice)
}

func (m *LimitMatcher) IsFinished(order *Order) bool {
	return isFinished(order)
}

// MarketMatcher trades any pair where at least one side is a market order.
// Market sides take the instrument's last-trade price, moved by their bound
// offset when they carry one.
type MarketMatcher struct{}

func (m *MarketMatcher) Name() string {
	return "market"
}

// resolvePrice returns the usable price of an order, false when there is none.
func (m *MarketMatcher) resolvePrice(mc *MatchContext, order *Order) (decimal.Decimal, bool) {
	if order.effectiveType() != Market {
		return order.Price, order.Price.IsPositive()
	}
	price, ok := mc.MarketPrice()
	if !ok {
		return decimal.Zero, false
	}
	if order.Side == Buy && order.UpperBound.IsPositive() {
		price = price.Add(order.UpperBound)
	}
	if order.Side == Sell && order.LowerBound.IsPositive() {
		price = price.Sub(order.LowerBound)
	}
	return price, price.IsPositive()
}

func (m *MarketMatcher) Supports(mc *MatchContext, order, opponent *Order) bool {
	if order.Type != Market && opponent.Type != Market {
		return false
	}
	price, ok := m.resolvePrice(mc, order)
	if !ok {
		return false
	}
	opponentPrice, ok := m.resolvePrice(mc, opponent)
	if !ok {
		return false
	}
	if !crosses(order, price, opponentPrice) {
		return false
	}
	if !affordable(mc, order, opponent, price, opponentPrice) {
		return false
	}
	if !fillable(mc, order, opponent, price, opponentPrice) {
		return false
	}
	mc.stage(price, opponentPrice)
	return true
}

func (m *MarketMatcher) Trade(mc *MatchContext, order, opponent *Order) (TradeResult, error) {
	price, opponentPrice, ok := mc.staged()
	if !ok {
		var okOrder, okOpponent bool
		price, okOrder = m.resolvePrice(mc, order)
		opponentPrice, okOpponent = m.resolvePrice(mc, opponent)
		if !okOrder || !okOpponent {
			return TradeResult{}, ErrInvalidOrder
		}
	}
	return settle(mc, m.Name(), order, opponent, price, opponentPrice)
}

func (m *MarketMatcher) IsFinished(order *Order) bool {
	return isFinished(order)
}

// StopMatcher trades activated stop orders. An activated stop behaves as a
// limit order when priced and as a market order otherwise, so the matcher
// delegates with the same crossing logic.
type StopMatcher struct {
	Limit  *LimitMatcher
	Market *MarketMatcher
}

func NewStopMatcher(limit *LimitMatcher, market *MarketMatcher) *StopMatcher {
	return &StopMatcher{Limit: limit, Market: market}
}

func (m *StopMatcher) Name() string {
	return "stop"
}

func asEffective(order *Order) Order {
	o := *order
	o.Type = order.effectiveType()
	return o
}

func (m *StopMatcher) Supports(mc *MatchContext, order, opponent *Order) bool {
	if order.Type != Stop && opponent.Type != Stop {
		return false
	}
	if (order.Type == Stop && order.Activation == NotActivated) ||
		(opponent.Type == Stop && opponent.Activation == NotActivated) {
		return false
	}

	o, opp := asEffective(order), asEffective(opponent)
	var delegate Matcher = m.Limit
	if o.Type == Market || opp.Type == Market {
		delegate = m.Market
	}
	if !delegate.Supports(mc, &o, &opp) {
		return false
	}
	mc.scratch.delegate = delegate
	return true
}

func (m *StopMatcher) Trade(mc *MatchContext, order, opponent *Order) (TradeResult, error) {
	o, opp := asEffective(order), asEffective(opponent)
	delegate := mc.scratch.delegate
	if delegate == nil {
		delegate = m.Limit
		if o.Type == Market || opp.Type == Market {
			delegate = m.Market
		}
	}
	result, err := delegate.Trade(mc, &o, &opp)
	if err != nil {
		return result, err
	}
	result.Matcher = m.Name()
	return result, nil
}

func (m *StopMatcher) IsFinished(order *Order) bool {
	return isFinished(order)
}
