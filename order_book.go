package match

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// BookKey identifies one order book. Partition is empty for the default
// per-instrument routing and names the flow (e.g. "bot") for partitioned routing.
type BookKey struct {
	Instrument Instrument
	Partition  string
}

func (k BookKey) String() string {
	if len(k.Partition) == 0 {
		return k.Instrument.String()
	}
	return k.Instrument.String() + "#" + k.Partition
}

// lastTrade is the only state read across processors, so it is atomic.
// Partitioned books of one instrument share a single cell.
type lastTrade struct {
	price atomic.Pointer[decimal.Decimal]
	at    atomic.Int64
}

func (l *lastTrade) load() (decimal.Decimal, bool) {
	p := l.price.Load()
	if p == nil {
		return decimal.Zero, false
	}
	return *p, true
}

func (l *lastTrade) store(price decimal.Decimal, at int64) {
	l.price.Store(&price)
	l.at.Store(at)
}

// BookStats contains statistics about the order book sides
type BookStats struct {
	BidOrderCount      int
	AskOrderCount      int
	BuyStopOrderCount  int
	SellStopOrderCount int
}

// OrderBook owns the four ordered sides of one instrument. It is not safe for
// concurrent use; only the processor the book is assigned to may touch it.
type OrderBook struct {
	key           BookKey
	publishable   bool
	quantityScale int32
	priceScale    int32
	bids          *bookSide
	asks          *bookSide
	buyStops      *stopSide
	sellStops     *stopSide
	orders        map[string]*Order
	seq           uint64
	last          *lastTrade
}

// BookOption configures an OrderBook.
type BookOption func(*OrderBook)

// WithQuantityScale sets the decimal places traded quantities are rounded down to.
func WithQuantityScale(scale int32) BookOption {
	return func(b *OrderBook) {
		b.quantityScale = scale
	}
}

// WithPriceScale sets the price precision of depth level 0.
func WithPriceScale(scale int32) BookOption {
	return func(b *OrderBook) {
		b.priceScale = scale
	}
}

// WithPublishable marks whether executions in this book produce public trade ticks.
func WithPublishable(publishable bool) BookOption {
	return func(b *OrderBook) {
		b.publishable = publishable
	}
}

func withLastTrade(l *lastTrade) BookOption {
	return func(b *OrderBook) {
		b.last = l
	}
}

func withPartition(partition string) BookOption {
	return func(b *OrderBook) {
		b.key.Partition = partition
	}
}

// NewOrderBook creates an empty book for the instrument.
func NewOrderBook(instrument Instrument, opts ...BookOption) *OrderBook {
	book := &OrderBook{
		key:           BookKey{Instrument: instrument},
		publishable:   true,
		quantityScale: DefaultQuantityScale,
		priceScale:    DefaultPriceScale,
		bids:          newBidSide(),
		asks:          newAskSide(),
		buyStops:      newStopSide(Buy),
		sellStops:     newStopSide(Sell),
		orders:        make(map[string]*Order),
	}
	for _, opt := range opts {
		opt(book)
	}
	if book.last == nil {
		book.last = &lastTrade{}
	}
	return book
}

func (book *OrderBook) Key() BookKey {
	return book.key
}

func (book *OrderBook) Instrument() Instrument {
	return book.key.Instrument
}

func (book *OrderBook) Publishable() bool {
	return book.publishable
}

func (book *OrderBook) QuantityScale() int32 {
	return book.quantityScale
}

// LastPrice returns the last-trade price, false when nothing traded yet.
func (book *OrderBook) LastPrice() (decimal.Decimal, bool) {
	return book.last.load()
}

// LastTradeAt returns the time of the last trade.
func (book *OrderBook) LastTradeAt() time.Time {
	return time.Unix(0, book.last.at.Load())
}

// SetLastPrice records a last-trade price.
func (book *OrderBook) SetLastPrice(price decimal.Decimal, at time.Time) {
	book.last.store(price, at.UnixNano())
}

func (book *OrderBook) side(side Side) *bookSide {
	if side == Buy {
		return book.bids
	}
	return book.asks
}

func (book *OrderBook) stops(side Side) *stopSide {
	if side == Buy {
		return book.buyStops
	}
	return book.sellStops
}

// Add places a market or limit order on its live side, and a pending stop
// order into its stop set.
func (book *OrderBook) Add(order *Order) error {
	if _, exists := book.orders[order.ID]; exists {
		return ErrDuplicateOrder
	}
	if order.Side != Buy && order.Side != Sell {
		return ErrInvalidOrder
	}

	book.seq++
	order.seq = book.seq

	switch order.Type {
	case Market, Limit:
		book.side(order.Side).insert(order)
	case Stop:
		if order.Activation == NotActivated {
			book.stops(order.Side).insert(order)
		} else {
			book.side(order.Side).insert(order)
		}
	default:
		return ErrInvalidOrderType
	}

	book.orders[order.ID] = order
	return nil
}

// Activate moves a pending stop order into its live side. Matching continues
// from there as with an ordinary order.
func (book *OrderBook) Activate(order *Order) error {
	if order.Type != Stop || order.Activation != NotActivated {
		return ErrNotPending
	}
	if !book.stops(order.Side).remove(order) {
		return ErrNotPending
	}
	order.Activation = Activating
	order.Version++
	book.side(order.Side).insert(order)
	return nil
}

// Deactivate undoes Activate: the order leaves the live side and returns to
// its pending stop set.
func (book *OrderBook) Deactivate(order *Order) {
	if book.side(order.Side).remove(order) {
		order.Activation = NotActivated
		order.Version++
		book.stops(order.Side).insert(order)
	}
}

// Remove deletes the order from whichever set it belongs to.
func (book *OrderBook) Remove(order *Order) bool {
	removed := book.side(order.Side).remove(order) || book.stops(order.Side).remove(order)
	if removed {
		delete(book.orders, order.ID)
	}
	return removed
}

// Order finds an order by its ID.
func (book *OrderBook) Order(id string) *Order {
	return book.orders[id]
}

// Orders returns the live orders of a side in priority order.
func (book *OrderBook) Orders(side Side) []*Order {
	return book.side(side).orders()
}

// PendingStops returns the pending stop orders of a side in trigger order.
func (book *OrderBook) PendingStops(side Side) []*Order {
	return book.stops(side).orders()
}

// IsLive reports whether the order rests on a live side.
func (book *OrderBook) IsLive(order *Order) bool {
	return book.side(order.Side).contains(order.ID)
}

// IsPending reports whether the order waits in a stop set.
func (book *OrderBook) IsPending(order *Order) bool {
	return book.stops(order.Side).contains(order.ID)
}

// triggeredStops returns the pending stops the price has reached: buy stops
// whose trigger is at or below the price, then sell stops whose trigger is at
// or above it.
func (book *OrderBook) triggeredStops(price decimal.Decimal) []*Order {
	result := book.buyStops.triggered(price)
	return append(result, book.sellStops.triggered(price)...)
}

func (book *OrderBook) Stats() BookStats {
	return BookStats{
		BidOrderCount:      book.bids.len(),
		AskOrderCount:      book.asks.len(),
		BuyStopOrderCount:  book.buyStops.len(),
		SellStopOrderCount: book.sellStops.len(),
	}
}
