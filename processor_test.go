package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type failingHandler struct {
	BaseHandler
	failExecute  bool
	failActivate bool
	failCancel   bool
	executions   int
	cancels      int
	versions     [][2]uint64
}

func (h *failingHandler) Name() string  { return "failing" }
func (h *failingHandler) Priority() int { return 10 }

func (h *failingHandler) OnExecuteOrder(mc *MatchContext, order, opponent *Order, result *TradeResult) error {
	h.executions++
	h.versions = append(h.versions, [2]uint64{order.Version, opponent.Version})
	if h.failExecute {
		return errBoom
	}
	return nil
}

func (h *failingHandler) OnActivateOrder(mc *MatchContext, order *Order) error {
	if h.failActivate {
		return errBoom
	}
	return nil
}

func (h *failingHandler) OnCancelOrder(mc *MatchContext, order *Order) error {
	h.cancels++
	if h.failCancel {
		return errBoom
	}
	return nil
}

func TestProcessorMatching(t *testing.T) {
	t.Run("full cross empties the book", func(t *testing.T) {
		publisher := NewMemoryPublisher()
		tp := newTestProcessor(t, NewHandlerChain(NewPublishHandler(publisher, nil, 0, 1)))

		sell := newLimit(t, "sell", Sell, "95", "10")
		require.NoError(t, tp.add(sell).Err)
		buy := newLimit(t, "buy", Buy, "100", "10")
		cmd := tp.add(buy)
		require.NoError(t, cmd.Err)
		assert.True(t, cmd.Success)

		assert.True(t, sell.Finished)
		assert.True(t, buy.Finished)
		assert.Empty(t, tp.book.Orders(Buy))
		assert.Empty(t, tp.book.Orders(Sell))
		assert.Nil(t, tp.book.Order("buy"))

		price, ok := tp.book.LastPrice()
		require.True(t, ok)
		assert.True(t, price.Equal(d("95")))

		require.Equal(t, 1, publisher.TradeCount())
		tick := publisher.Trade(0)
		assert.Equal(t, "buy", tick.TakerOrderID)
		assert.Equal(t, "sell", tick.MakerOrderID)
		assert.True(t, tick.Quantity.Equal(d("10")))
		assert.True(t, tick.Price.Equal(d("95")))
		assert.Greater(t, publisher.DepthCount(), 0)
	})

	t.Run("partial fill keeps the rest resting", func(t *testing.T) {
		tp := newTestProcessor(t, nil)

		require.NoError(t, tp.add(newLimit(t, "sell-1", Sell, "100", "3")).Err)
		require.NoError(t, tp.add(newLimit(t, "sell-2", Sell, "101", "3")).Err)
		buy := newLimit(t, "buy", Buy, "101", "4")
		require.NoError(t, tp.add(buy).Err)

		assert.True(t, buy.Finished)
		assert.Equal(t, []string{"sell-2"}, ids(tp.book.Orders(Sell)))
		assert.True(t, tp.book.Order("sell-2").RemainingQuantity.Equal(d("2")))
		assert.True(t, buy.ExecutedQuantity.Equal(d("4")))
		// quantity is exhausted, leftover money does not keep it alive
		assert.True(t, buy.RemainingAmount.Equal(d("3")))
		assert.Nil(t, tp.book.Order("buy"))
	})

	t.Run("resting remainder", func(t *testing.T) {
		tp := newTestProcessor(t, nil)

		require.NoError(t, tp.add(newLimit(t, "sell", Sell, "100", "3")).Err)
		buy := newLimit(t, "buy", Buy, "100", "5")
		require.NoError(t, tp.add(buy).Err)

		assert.False(t, buy.Finished)
		assert.True(t, buy.RemainingQuantity.Equal(d("2")))
		assert.Equal(t, []string{"buy"}, ids(tp.book.Orders(Buy)))
	})

	t.Run("skips incompatible candidates", func(t *testing.T) {
		tp := newTestProcessor(t, nil)

		aon := newLimit(t, "aon", Sell, "99", "20")
		aon.TimeInForce = AllOrNone
		require.NoError(t, tp.add(aon).Err)
		require.NoError(t, tp.add(newLimit(t, "plain", Sell, "100", "5")).Err)

		buy := newLimit(t, "buy", Buy, "100", "5")
		require.NoError(t, tp.add(buy).Err)

		assert.True(t, buy.Finished)
		assert.True(t, aon.RemainingQuantity.Equal(d("20")))
		assert.Equal(t, []string{"aon"}, ids(tp.book.Orders(Sell)))
	})

	t.Run("conservation across many executions", func(t *testing.T) {
		tp := newTestProcessor(t, nil)

		sells := []*Order{
			newLimit(t, "s1", Sell, "100", "1.5"),
			newLimit(t, "s2", Sell, "100.5", "2.25"),
			newLimit(t, "s3", Sell, "101", "4"),
		}
		for _, o := range sells {
			require.NoError(t, tp.add(o).Err)
		}
		buy := newLimit(t, "buy", Buy, "101", "6")
		require.NoError(t, tp.add(buy).Err)

		sold := d("0")
		for _, o := range sells {
			sold = sold.Add(o.ExecutedQuantity)
			assert.True(t, o.RemainingQuantity.Add(o.ExecutedQuantity).Equal(o.Quantity))
		}
		assert.True(t, sold.Equal(buy.ExecutedQuantity))
		assert.True(t, buy.ExecutedQuantity.Equal(d("6")))
		assert.True(t, buy.RemainingAmount.Add(buy.ExecutedAmount).Equal(buy.Amount))
	})

	t.Run("finished is sticky", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		sell := newLimit(t, "sell", Sell, "100", "1")
		require.NoError(t, tp.add(sell).Err)
		require.NoError(t, tp.add(newLimit(t, "buy", Buy, "100", "1")).Err)
		require.True(t, sell.Finished)

		sell.fill(d("0"), d("0"))
		assert.True(t, sell.Finished)
		assert.ErrorIs(t, tp.add(sell).Err, ErrInvalidOrder)
	})

	t.Run("reentrant match is refused", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		o := newLimit(t, "buy", Buy, "100", "1")
		require.NoError(t, tp.book.Add(o))
		o.Matching = true
		assert.ErrorIs(t, tp.match(tp.book, o), ErrReentrantMatch)
	})

	t.Run("duplicate order", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		require.NoError(t, tp.add(newLimit(t, "a", Buy, "90", "1")).Err)
		cmd := tp.add(newLimit(t, "a", Buy, "91", "1"))
		assert.ErrorIs(t, cmd.Err, ErrDuplicateOrder)
		assert.False(t, cmd.Success)
	})

	t.Run("invalid order", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		cmd := tp.add(&Order{ID: "x", Instrument: btcUSDT, Type: Limit, Side: Buy, Quantity: d("1")})
		assert.ErrorIs(t, cmd.Err, ErrInvalidOrder)
		assert.Empty(t, tp.book.Orders(Buy))
	})
}

func TestProcessorSettlement(t *testing.T) {
	t.Run("seller is credited what the buyers paid", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		high := newLimit(t, "bid-100", Buy, "100", "5")
		low := newLimit(t, "bid-95", Buy, "95", "5")
		require.NoError(t, tp.add(high).Err)
		require.NoError(t, tp.add(low).Err)

		sell := newLimit(t, "sell", Sell, "95", "10")
		require.NoError(t, tp.add(sell).Err)

		assert.True(t, high.ExecutedAmount.Equal(d("500")))
		assert.True(t, low.ExecutedAmount.Equal(d("475")))
		assert.True(t, sell.Finished)
		assert.True(t, sell.ExecutedQuantity.Equal(d("10")))
		assert.True(t, sell.ExecutedAmount.Equal(d("975")))
	})

	t.Run("resting all-or-none is judged at the markup price", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		tp.book.SetLastPrice(d("100"), testTime)

		sell := newLimit(t, "aon", Sell, "95", "10")
		sell.TimeInForce = AllOrNone
		require.NoError(t, tp.add(sell).Err)
		sellBefore := *sell

		// at its own price of 100 the buyer only affords 9.5
		buy := newMarketBuy(t, "buy", "950", "")
		buy.Markup = PlatformKeepsSpread
		require.NoError(t, tp.add(buy).Err)

		assert.Equal(t, sellBefore, *sell)
		assert.True(t, buy.ExecutedQuantity.IsZero())
		assert.Equal(t, []string{"aon"}, ids(tp.book.Orders(Sell)))

		// priced at the resting order, the same money takes it whole
		driver := newMarketBuy(t, "driver", "950", "")
		require.NoError(t, tp.add(driver).Err)
		assert.True(t, sell.Finished)
		assert.True(t, sell.ExecutedQuantity.Equal(d("10")))
	})
}

func TestProcessorTimeInForce(t *testing.T) {
	t.Run("immediate or cancel", func(t *testing.T) {
		handler := &failingHandler{}
		tp := newTestProcessor(t, NewHandlerChain(handler))
		require.NoError(t, tp.add(newLimit(t, "sell", Sell, "100", "2")).Err)

		buy := newLimit(t, "buy", Buy, "100", "5")
		buy.TimeInForce = ImmediateOrCancel
		require.NoError(t, tp.add(buy).Err)

		assert.True(t, buy.Canceled)
		assert.True(t, buy.ExecutedQuantity.Equal(d("2")))
		assert.Empty(t, tp.book.Orders(Buy))
		assert.Equal(t, 1, handler.cancels)
	})

	t.Run("fill or kill without enough liquidity", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		require.NoError(t, tp.add(newLimit(t, "sell", Sell, "100", "2")).Err)

		buy := newLimit(t, "buy", Buy, "100", "5")
		buy.TimeInForce = FillOrKill
		require.NoError(t, tp.add(buy).Err)

		assert.True(t, buy.Canceled)
		assert.True(t, buy.ExecutedQuantity.IsZero())
		assert.Len(t, tp.book.Orders(Sell), 1)
	})

	t.Run("all or none larger than the resting bid rests unchanged", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		buy := newLimit(t, "buy", Buy, "100", "5")
		require.NoError(t, tp.add(buy).Err)
		buyBefore := *buy

		sell := newLimit(t, "sell", Sell, "100", "20")
		sell.TimeInForce = AllOrNone
		require.NoError(t, tp.add(sell).Err)

		assert.Equal(t, buyBefore, *buy)
		assert.True(t, sell.ExecutedQuantity.IsZero())
		assert.True(t, sell.RemainingQuantity.Equal(d("20")))
		assert.False(t, sell.Finished)
		assert.Equal(t, []string{"sell"}, ids(tp.book.Orders(Sell)))
		assert.Equal(t, []string{"buy"}, ids(tp.book.Orders(Buy)))
	})

	t.Run("all or none rests", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		buy := newLimit(t, "buy", Buy, "100", "5")
		buy.TimeInForce = AllOrNone
		require.NoError(t, tp.add(buy).Err)
		assert.Len(t, tp.book.Orders(Buy), 1)
	})
}

func TestProcessorRollback(t *testing.T) {
	t.Run("cancel policy", func(t *testing.T) {
		handler := &failingHandler{failExecute: true}
		tp := newTestProcessor(t, NewHandlerChain(handler))

		sell := newLimit(t, "sell", Sell, "100", "10")
		require.NoError(t, tp.add(sell).Err)
		sellBefore := *sell

		buy := newLimit(t, "buy", Buy, "100", "4")
		cmd := tp.add(buy)
		assert.ErrorIs(t, cmd.Err, ErrHandlerFailed)
		assert.ErrorIs(t, cmd.Err, errBoom)
		assert.False(t, cmd.Success)

		assert.True(t, sell.Canceled)
		assert.True(t, buy.Canceled)
		// the handler saw the committed versions; the cancel ranks above them
		require.Len(t, handler.versions, 1)
		committed := handler.versions[0]
		assert.Greater(t, committed[1], sellBefore.Version)
		assert.Greater(t, buy.Version, committed[0])
		assert.Greater(t, sell.Version, committed[1])
		assert.True(t, sell.RemainingQuantity.Equal(d("10")))
		assert.True(t, buy.ExecutedQuantity.IsZero())
		assert.Empty(t, tp.book.Orders(Sell))
		assert.Empty(t, tp.book.Orders(Buy))

		_, ok := tp.book.LastPrice()
		assert.False(t, ok)
	})

	t.Run("restore policy", func(t *testing.T) {
		handler := &failingHandler{failExecute: true}
		tp := newTestProcessor(t, NewHandlerChain(handler), WithProcessorRollback(RollbackRestore))

		sell := newLimit(t, "sell", Sell, "100", "10")
		require.NoError(t, tp.add(sell).Err)
		sellBefore := *sell

		buy := newLimit(t, "buy", Buy, "100", "4")
		cmd := tp.add(buy)
		assert.ErrorIs(t, cmd.Err, ErrHandlerFailed)

		assert.Equal(t, sellBefore, *sell)
		assert.False(t, buy.Canceled)
		assert.False(t, buy.Matching)
		assert.True(t, buy.RemainingQuantity.Equal(d("4")))
		assert.Equal(t, []string{"sell"}, ids(tp.book.Orders(Sell)))
		assert.Equal(t, []string{"buy"}, ids(tp.book.Orders(Buy)))
		assert.Equal(t, 1, handler.executions)
	})

	t.Run("panicking handler is a failure", func(t *testing.T) {
		tp := newTestProcessor(t, NewHandlerChain(&panicHandler{}))
		require.NoError(t, tp.add(newLimit(t, "sell", Sell, "100", "1")).Err)
		cmd := tp.add(newLimit(t, "buy", Buy, "100", "1"))
		assert.ErrorIs(t, cmd.Err, ErrHandlerFailed)
	})

	t.Run("cancel notification failure is not rolled back", func(t *testing.T) {
		handler := &failingHandler{failCancel: true}
		var diagnosed []error
		tp := newTestProcessor(t, NewHandlerChain(handler), WithProcessorDiagnostics(func(cmd *Command, err error) {
			diagnosed = append(diagnosed, err)
		}))
		o := newLimit(t, "buy", Buy, "100", "1")
		require.NoError(t, tp.add(o).Err)

		cmd := tp.cancel("buy")
		assert.NoError(t, cmd.Err)
		assert.True(t, o.Canceled)
		assert.Nil(t, tp.book.Order("buy"))
		require.Len(t, diagnosed, 1)
		assert.ErrorIs(t, diagnosed[0], errBoom)
	})
}

type panicHandler struct {
	BaseHandler
}

func (h *panicHandler) Name() string  { return "panic" }
func (h *panicHandler) Priority() int { return 1 }

func (h *panicHandler) OnExecuteOrder(*MatchContext, *Order, *Order, *TradeResult) error {
	panic("unexpected")
}

func TestProcessorStops(t *testing.T) {
	t.Run("external price triggers a sell stop", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		tp.book.SetLastPrice(d("95"), testTime)

		stop := newStop(t, "stop", Sell, "90", "", "1", "")
		require.NoError(t, tp.add(stop).Err)
		require.NoError(t, tp.add(newLimit(t, "bid", Buy, "89", "5")).Err)
		assert.True(t, tp.book.IsPending(stop))

		require.NoError(t, tp.price("92", true).Err)
		assert.True(t, tp.book.IsPending(stop))

		require.NoError(t, tp.price("89", true).Err)
		assert.Equal(t, Activated, stop.Activation)
		assert.True(t, stop.Finished)
		assert.Empty(t, tp.book.PendingStops(Sell))
		assert.True(t, tp.book.Order("bid").RemainingQuantity.Equal(d("4")))
	})

	t.Run("internal execution triggers a buy stop", func(t *testing.T) {
		tp := newTestProcessor(t, nil)

		stop := newStop(t, "stop", Buy, "105", "110", "1", "")
		require.NoError(t, tp.add(stop).Err)
		require.NoError(t, tp.add(newLimit(t, "ask-105", Sell, "105", "1")).Err)
		require.NoError(t, tp.add(newLimit(t, "ask-108", Sell, "108", "1")).Err)

		require.NoError(t, tp.add(newLimit(t, "buy", Buy, "105", "1")).Err)

		assert.Equal(t, Activated, stop.Activation)
		assert.True(t, stop.Finished)
		price, _ := tp.book.LastPrice()
		assert.True(t, price.Equal(d("108")))
		assert.Empty(t, tp.book.Orders(Sell))
	})

	t.Run("cascade", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		tp.book.SetLastPrice(d("100"), testTime)

		first := newStop(t, "first", Sell, "95", "", "1", "")
		second := newStop(t, "second", Sell, "90", "", "1", "")
		require.NoError(t, tp.add(first).Err)
		require.NoError(t, tp.add(second).Err)
		require.NoError(t, tp.add(newLimit(t, "bid-94", Buy, "94", "1")).Err)
		require.NoError(t, tp.add(newLimit(t, "bid-89", Buy, "89", "1")).Err)

		// 94 reaches only the first stop and its trade prints 94 again
		require.NoError(t, tp.price("94", true).Err)
		assert.True(t, first.Finished)
		assert.True(t, tp.book.IsPending(second))
	})

	t.Run("forced activation", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		stop := newStop(t, "stop", Buy, "200", "", "1", "100")
		require.NoError(t, tp.add(stop).Err)

		cmd := tp.activate("stop")
		require.NoError(t, cmd.Err)
		assert.Equal(t, Activated, stop.Activation)
		assert.True(t, tp.book.IsLive(stop))

		assert.ErrorIs(t, tp.activate("stop").Err, ErrNotPending)
		assert.ErrorIs(t, tp.activate("missing").Err, ErrNotFound)
	})

	t.Run("failed activation returns to pending", func(t *testing.T) {
		handler := &failingHandler{failActivate: true}
		tp := newTestProcessor(t, NewHandlerChain(handler))
		stop := newStop(t, "stop", Sell, "90", "", "1", "")
		require.NoError(t, tp.add(stop).Err)

		cmd := tp.price("80", true)
		assert.ErrorIs(t, cmd.Err, ErrHandlerFailed)
		assert.Equal(t, NotActivated, stop.Activation)
		assert.True(t, tp.book.IsPending(stop))
		assert.False(t, tp.book.IsLive(stop))
	})

	t.Run("activated stop never returns to pending", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		tp.book.SetLastPrice(d("95"), testTime)

		stop := newStop(t, "stop", Sell, "90", "100", "1", "")
		require.NoError(t, tp.add(stop).Err)
		require.NoError(t, tp.price("89", true).Err)
		assert.Equal(t, Activated, stop.Activation)
		assert.Equal(t, []string{"stop"}, ids(tp.book.Orders(Sell)))

		require.NoError(t, tp.price("95", true).Err)
		require.NoError(t, tp.price("85", true).Err)
		assert.Empty(t, tp.book.PendingStops(Sell))
		assert.Equal(t, Activated, stop.Activation)
		assert.Equal(t, []string{"stop"}, ids(tp.book.Orders(Sell)))

		assert.ErrorIs(t, tp.activate("stop").Err, ErrNotPending)
		assert.Empty(t, tp.book.PendingStops(Sell))
	})

	t.Run("cancel pending stop", func(t *testing.T) {
		tp := newTestProcessor(t, nil)
		stop := newStop(t, "stop", Sell, "90", "", "1", "")
		require.NoError(t, tp.add(stop).Err)

		require.NoError(t, tp.cancel("stop").Err)
		assert.True(t, stop.Canceled)
		assert.Empty(t, tp.book.PendingStops(Sell))
		assert.ErrorIs(t, tp.cancel("stop").Err, ErrNotFound)
	})
}

func TestProcessorMatchingToggle(t *testing.T) {
	tp := newTestProcessor(t, nil)
	assert.True(t, tp.IsMatching())

	tp.DisableMatching()
	assert.False(t, tp.IsMatching())

	sell := newLimit(t, "sell", Sell, "100", "1")
	buy := newLimit(t, "buy", Buy, "100", "1")
	buy.TimeInForce = ImmediateOrCancel
	require.NoError(t, tp.add(sell).Err)
	require.NoError(t, tp.add(buy).Err)
	assert.False(t, buy.Canceled)
	assert.Len(t, tp.book.Orders(Buy), 1)
	assert.Len(t, tp.book.Orders(Sell), 1)

	tp.EnableMatching()
	assert.True(t, tp.IsMatching())
	require.NoError(t, tp.add(newLimit(t, "buy-2", Buy, "100", "1")).Err)
	assert.True(t, sell.Finished)
}
