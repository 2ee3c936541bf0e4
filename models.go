package match

import (
	"github.com/0x5487/venue-core/protocol"
	"github.com/shopspring/decimal"
)

type Side = protocol.Side

const (
	Buy  Side = protocol.SideBuy
	Sell Side = protocol.SideSell
)

type OrderType = protocol.OrderType

const (
	Market OrderType = protocol.OrderTypeMarket
	Limit  OrderType = protocol.OrderTypeLimit
	Stop   OrderType = protocol.OrderTypeStop
)

type TimeInForce = protocol.TimeInForce

const (
	GoodTillCancel    TimeInForce = protocol.TimeInForceGTC
	ImmediateOrCancel TimeInForce = protocol.TimeInForceIOC
	FillOrKill        TimeInForce = protocol.TimeInForceFOK
	AllOrNone         TimeInForce = protocol.TimeInForceAON
)

type MarkupPolicy = protocol.MarkupPolicy

const (
	Driver                    MarkupPolicy = protocol.MarkupDriver
	PlatformKeepsSpread       MarkupPolicy = protocol.MarkupPlatformKeepsSpread
	EarliestPosterKeepsSpread MarkupPolicy = protocol.MarkupEarliestPosterKeepsSpread
	BuyerKeepsSpread          MarkupPolicy = protocol.MarkupBuyerKeepsSpread
	SellerKeepsSpread         MarkupPolicy = protocol.MarkupSellerKeepsSpread
)

type ActivationState = protocol.ActivationState

const (
	NotActivated ActivationState = protocol.NotActivated
	Activating   ActivationState = protocol.Activating
	Activated    ActivationState = protocol.Activated
)

type Origin = protocol.Origin

const (
	OriginUser Origin = protocol.OriginUser
	OriginBot  Origin = protocol.OriginBot
)

// Instrument is a tradable pair.
type Instrument struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (i Instrument) String() string {
	return i.Base + "/" + i.Quote
}

// Order is the mutable unit of work. It is a plain value: copying it is a
// complete snapshot, assigning the copy back is a complete rollback.
type Order struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Instrument  Instrument   `json:"instrument"`
	Origin      Origin       `json:"origin,omitempty"`
	Type        OrderType    `json:"type"`
	Side        Side         `json:"side"`
	TimeInForce TimeInForce  `json:"time_in_force"`
	Markup      MarkupPolicy `json:"markup"`

	Price        decimal.Decimal `json:"price"`
	UpperBound   decimal.Decimal `json:"upper_bound"` // offset above the market price a bounded buy accepts
	LowerBound   decimal.Decimal `json:"lower_bound"` // offset below the market price a bounded sell accepts
	TriggerPrice decimal.Decimal `json:"trigger_price"`

	Quantity          decimal.Decimal `json:"quantity"`
	ExecutedQuantity  decimal.Decimal `json:"executed_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	Amount            decimal.Decimal `json:"amount"` // total amount in quote currency
	ExecutedAmount    decimal.Decimal `json:"executed_amount"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`

	Activation ActivationState `json:"activation"`
	Finished   bool            `json:"finished"`
	Canceled   bool            `json:"canceled"`
	Matching   bool            `json:"matching"`

	CreatedAt int64  `json:"created_at"` // Unix nano, time priority
	Version   uint64 `json:"version"`

	// seq is assigned by the book on insertion and breaks remaining priority ties.
	seq uint64
}

// normalize fills derived economics and validates the order for the book.
func (o *Order) normalize() error {
	if len(o.ID) == 0 {
		return ErrInvalidOrder
	}
	if o.Side != Buy && o.Side != Sell {
		return ErrInvalidOrder
	}
	switch o.Type {
	case Market, Limit:
	case Stop:
		if !o.TriggerPrice.IsPositive() {
			return ErrInvalidOrder
		}
	default:
		return ErrInvalidOrderType
	}
	if len(o.TimeInForce) == 0 {
		o.TimeInForce = GoodTillCancel
	}
	if len(o.Markup) == 0 {
		o.Markup = Driver
	}
	if o.Price.IsNegative() || o.Quantity.IsNegative() || o.Amount.IsNegative() {
		return ErrInvalidOrder
	}

	priced := o.Type == Limit || (o.Type == Stop && o.Price.IsPositive())
	if o.Type == Limit && !o.Price.IsPositive() {
		return ErrInvalidOrder
	}

	if o.Amount.IsZero() && priced {
		o.Amount = o.Quantity.Mul(o.Price)
	}
	if o.Version == 0 && o.ExecutedQuantity.IsZero() && o.ExecutedAmount.IsZero() {
		o.RemainingQuantity = o.Quantity
		o.RemainingAmount = o.Amount
	}

	if o.Side == Buy {
		// buys are bounded by money, an unpriced buy without an amount can never trade
		if !o.Amount.IsPositive() {
			return ErrInvalidOrder
		}
	} else if !o.Quantity.IsPositive() {
		return ErrInvalidOrder
	}
	return nil
}

// effectiveType is the type an order matches as. Activated stops behave as a
// limit order when priced and as a market order otherwise.
func (o *Order) effectiveType() OrderType {
	if o.Type != Stop {
		return o.Type
	}
	if o.Price.IsPositive() {
		return Limit
	}
	return Market
}

// exhausted reports whether nothing is left to trade, per side.
func (o *Order) exhausted() bool {
	if o.Side == Buy {
		if !o.RemainingAmount.IsPositive() {
			return true
		}
		return o.Quantity.IsPositive() && !o.RemainingQuantity.IsPositive()
	}
	return !o.RemainingQuantity.IsPositive()
}

// fill commits one execution into the order's own counters.
func (o *Order) fill(quantity, amount decimal.Decimal) {
	o.ExecutedQuantity = o.ExecutedQuantity.Add(quantity)
	if o.Quantity.IsPositive() {
		o.RemainingQuantity = decimal.Max(o.RemainingQuantity.Sub(quantity), decimal.Zero)
	}
	o.ExecutedAmount = o.ExecutedAmount.Add(amount)
	o.RemainingAmount = decimal.Max(o.RemainingAmount.Sub(amount), decimal.Zero)
	o.Version++
	if o.exhausted() {
		o.Finished = true
	}
}

func (o *Order) finish() {
	if !o.Finished {
		o.Finished = true
		o.Version++
	}
}

func (o *Order) cancel() {
	if !o.Canceled {
		o.Canceled = true
		o.Version++
	}
}

// earlierThan reports time priority between two orders.
func (o *Order) earlierThan(other *Order) bool {
	if o.CreatedAt != other.CreatedAt {
		return o.CreatedAt < other.CreatedAt
	}
	return o.seq < other.seq
}

func oppositeSide(side Side) Side {
	if side == Buy {
		return Sell
	}
	return Buy
}
