package match

import (
	"fmt"
	"sync"
)

// Router resolves the book an order belongs to. Implementations must be safe
// for concurrent use.
type Router interface {
	Route(order *Order) *OrderBook
	// Books returns every existing book of the instrument.
	Books(instrument Instrument) []*OrderBook
}

// InstrumentRouter keeps one book per instrument.
type InstrumentRouter struct {
	books sync.Map // Instrument -> *OrderBook
	opts  []BookOption
}

func NewInstrumentRouter(opts ...BookOption) *InstrumentRouter {
	return &InstrumentRouter{opts: opts}
}

func (r *InstrumentRouter) Route(order *Order) *OrderBook {
	return r.Book(order.Instrument)
}

// Book returns the instrument's book, creating it on first use.
func (r *InstrumentRouter) Book(instrument Instrument) *OrderBook {
	if book, ok := r.books.Load(instrument); ok {
		return book.(*OrderBook)
	}
	book, _ := r.books.LoadOrStore(instrument, NewOrderBook(instrument, r.opts...))
	return book.(*OrderBook)
}

func (r *InstrumentRouter) Books(instrument Instrument) []*OrderBook {
	if book, ok := r.books.Load(instrument); ok {
		return []*OrderBook{book.(*OrderBook)}
	}
	return nil
}

const (
	PartitionUser = "user"
	PartitionBot  = "bot"
)

// OriginRouter splits an instrument into a user book and a bot book. Both
// share the last-trade price; only the user book publishes market data.
type OriginRouter struct {
	books sync.Map // BookKey -> *OrderBook
	lasts sync.Map // Instrument -> *lastTrade
	opts  []BookOption
}

func NewOriginRouter(opts ...BookOption) *OriginRouter {
	return &OriginRouter{opts: opts}
}

func partitionOf(origin Origin) string {
	if origin == OriginBot {
		return PartitionBot
	}
	return PartitionUser
}

func (r *OriginRouter) Route(order *Order) *OrderBook {
	return r.Book(order.Instrument, partitionOf(order.Origin))
}

// Book returns the partition's book, creating it on first use.
func (r *OriginRouter) Book(instrument Instrument, partition string) *OrderBook {
	key := BookKey{Instrument: instrument, Partition: partition}
	if book, ok := r.books.Load(key); ok {
		return book.(*OrderBook)
	}

	last, _ := r.lasts.LoadOrStore(instrument, &lastTrade{})
	opts := append([]BookOption{}, r.opts...)
	opts = append(opts,
		withLastTrade(last.(*lastTrade)),
		withPartition(partition),
		WithPublishable(partition == PartitionUser),
	)
	book, _ := r.books.LoadOrStore(key, NewOrderBook(instrument, opts...))
	return book.(*OrderBook)
}

func (r *OriginRouter) Books(instrument Instrument) []*OrderBook {
	var result []*OrderBook
	for _, partition := range []string{PartitionUser, PartitionBot} {
		if book, ok := r.books.Load(BookKey{Instrument: instrument, Partition: partition}); ok {
			result = append(result, book.(*OrderBook))
		}
	}
	return result
}

// NewRouter creates a router by strategy name: "instrument" or "origin".
func NewRouter(strategy string, opts ...BookOption) (Router, error) {
	switch strategy {
	case "", "instrument":
		return NewInstrumentRouter(opts...), nil
	case "origin":
		return NewOriginRouter(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRouter, strategy)
	}
}
