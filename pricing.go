package match

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// executionPrices applies the markup policy to the order's own price and the
// opponent's price and returns what each side executes at.
func executionPrices(policy MarkupPolicy, order, opponent *Order, price, opponentPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	switch policy {
	case PlatformKeepsSpread:
		return price, opponentPrice
	case EarliestPosterKeepsSpread:
		// the earlier order trades at the later one's price
		if order.earlierThan(opponent) {
			return opponentPrice, opponentPrice
		}
		return price, price
	case BuyerKeepsSpread:
		// both trade at the seller's price
		if order.Side == Buy {
			return opponentPrice, opponentPrice
		}
		return price, price
	case SellerKeepsSpread:
		// both trade at the buyer's price
		if order.Side == Sell {
			return opponentPrice, opponentPrice
		}
		return price, price
	default:
		return opponentPrice, opponentPrice
	}
}

// markupOf is the policy an execution is priced under: the order's own,
// Driver when it has none.
func markupOf(order *Order) MarkupPolicy {
	if len(order.Markup) == 0 {
		return Driver
	}
	return order.Markup
}

// settle computes the trade between order and opponent under the order's
// markup policy. price and opponentPrice are the resolved prices of each side.
func settle(mc *MatchContext, matcher string, order, opponent *Order, price, opponentPrice decimal.Decimal) (TradeResult, error) {
	policy := markupOf(order)

	execPrice, execOpponentPrice := executionPrices(policy, order, opponent, price, opponentPrice)
	if !execPrice.IsPositive() || !execOpponentPrice.IsPositive() {
		return TradeResult{}, fmt.Errorf("%w: non-positive execution price", ErrInvalidOrder)
	}

	buyer, seller := order, opponent
	buyPrice, sellPrice := execPrice, execOpponentPrice
	if order.Side == Sell {
		buyer, seller = opponent, order
		buyPrice, sellPrice = execOpponentPrice, execPrice
	}
	if buyer.Side != Buy || seller.Side != Sell {
		return TradeResult{}, fmt.Errorf("%w: orders on the same side", ErrInvalidOrder)
	}

	scale := mc.quantityScale()
	buyQuantity, byAmount := buyableQuantity(buyer, buyPrice, scale)
	sellQuantity := seller.RemainingQuantity
	quantity := decimal.Min(buyQuantity, sellQuantity)
	if !quantity.IsPositive() {
		return TradeResult{}, fmt.Errorf("%w: nothing to trade", ErrInvalidOrder)
	}

	// An exhausted side pays or receives its literal remainder so no dust is left behind.
	buyAmount := quantity.Mul(buyPrice)
	if byAmount && buyQuantity.LessThanOrEqual(sellQuantity) {
		buyAmount = buyer.RemainingAmount
	}
	// The seller's remainder only stands in for the product when it is dust
	// away from it; earlier fills at other prices leave it unrelated.
	sellAmount := quantity.Mul(sellPrice)
	if sellQuantity.LessThanOrEqual(buyQuantity) && seller.RemainingAmount.IsPositive() &&
		seller.RemainingAmount.Sub(sellAmount).Abs().LessThan(mc.quoteQuantum()) {
		sellAmount = seller.RemainingAmount
	}

	amount, opponentAmount := buyAmount, sellAmount
	if order.Side == Sell {
		amount, opponentAmount = sellAmount, buyAmount
	}

	return TradeResult{
		Matcher:        matcher,
		Policy:         policy,
		Price:          execPrice,
		OpponentPrice:  execOpponentPrice,
		Quantity:       quantity,
		Amount:         amount,
		OpponentAmount: opponentAmount,
		OrderMarkup:    price.Sub(execPrice).Abs(),
		OpponentMarkup: opponentPrice.Sub(execOpponentPrice).Abs(),
		PlatformMarkup: execPrice.Sub(execOpponentPrice).Abs(),
		Timestamp:      mc.Now,
	}, nil
}
