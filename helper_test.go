package match

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var btcUSDT = Instrument{Base: "BTC", Quote: "USDT"}

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newLimit(t *testing.T, id string, side Side, price, quantity string) *Order {
	t.Helper()
	o := &Order{
		ID:         id,
		Instrument: btcUSDT,
		Type:       Limit,
		Side:       side,
		Price:      d(price),
		Quantity:   d(quantity),
	}
	require.NoError(t, o.normalize())
	return o
}

func newMarketBuy(t *testing.T, id, amount, quantity string) *Order {
	t.Helper()
	o := &Order{
		ID:         id,
		Instrument: btcUSDT,
		Type:       Market,
		Side:       Buy,
		Amount:     d(amount),
	}
	if len(quantity) > 0 {
		o.Quantity = d(quantity)
	}
	require.NoError(t, o.normalize())
	return o
}

func newMarketSell(t *testing.T, id, quantity string) *Order {
	t.Helper()
	o := &Order{
		ID:         id,
		Instrument: btcUSDT,
		Type:       Market,
		Side:       Sell,
		Quantity:   d(quantity),
	}
	require.NoError(t, o.normalize())
	return o
}

func newStop(t *testing.T, id string, side Side, trigger, price, quantity, amount string) *Order {
	t.Helper()
	o := &Order{
		ID:           id,
		Instrument:   btcUSDT,
		Type:         Stop,
		Side:         side,
		TriggerPrice: d(trigger),
		Quantity:     d(quantity),
	}
	if len(price) > 0 {
		o.Price = d(price)
	}
	if len(amount) > 0 {
		o.Amount = d(amount)
	}
	require.NoError(t, o.normalize())
	return o
}

func ids(orders []*Order) []string {
	result := make([]string, 0, len(orders))
	for _, o := range orders {
		result = append(result, o.ID)
	}
	return result
}

// testProcessor runs commands synchronously on the test goroutine.
type testProcessor struct {
	*Processor
	book *OrderBook
}

func newTestProcessor(t *testing.T, chain *HandlerChain, opts ...ProcessorOption) *testProcessor {
	t.Helper()
	opts = append([]ProcessorOption{WithClock(func() time.Time { return testTime })}, opts...)
	p, err := NewProcessor(0, DefaultMatcherRegistry(), chain, opts...)
	require.NoError(t, err)
	return &testProcessor{Processor: p, book: NewOrderBook(btcUSDT)}
}

func (tp *testProcessor) add(order *Order) *Command {
	cmd := NewAddOrderCommand(order)
	cmd.books = []*OrderBook{tp.book}
	tp.Process(cmd)
	return cmd
}

func (tp *testProcessor) cancel(id string) *Command {
	cmd := NewCancelOrderCommand(id)
	cmd.books = []*OrderBook{tp.book}
	tp.Process(cmd)
	return cmd
}

func (tp *testProcessor) activate(id string) *Command {
	cmd := NewActivateOrderCommand(id)
	cmd.books = []*OrderBook{tp.book}
	tp.Process(cmd)
	return cmd
}

func (tp *testProcessor) price(price string, external bool) *Command {
	cmd := NewPriceChangeCommand(btcUSDT, d(price), external)
	cmd.books = []*OrderBook{tp.book}
	tp.Process(cmd)
	return cmd
}
