package match

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeTick is the public record of one execution, published for books that
// feed market data.
type TradeTick struct {
	SequenceID     uint64          `json:"seq_id"`
	Book           BookKey         `json:"book"`
	Instrument     Instrument      `json:"instrument"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	TakerSide      Side            `json:"taker_side"`
	TakerOrderID   string          `json:"taker_order_id"`
	MakerOrderID   string          `json:"maker_order_id"`
	PlatformMarkup decimal.Decimal `json:"platform_markup"`
	Matcher        string          `json:"matcher"`
	CreatedAt      time.Time       `json:"created_at"`
}

// newTradeTick records the trade at the resting order's execution price.
func newTradeTick(seqID uint64, book *OrderBook, order, opponent *Order, result *TradeResult) *TradeTick {
	return &TradeTick{
		SequenceID:     seqID,
		Book:           book.Key(),
		Instrument:     book.Instrument(),
		Price:          result.OpponentPrice,
		Quantity:       result.Quantity,
		Amount:         result.OpponentAmount,
		TakerSide:      order.Side,
		TakerOrderID:   order.ID,
		MakerOrderID:   opponent.ID,
		PlatformMarkup: result.PlatformMarkup,
		Matcher:        result.Matcher,
		CreatedAt:      result.Timestamp,
	}
}
