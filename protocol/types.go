package protocol

// Side represents the order side (Buy/Sell).
type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	return "unknown"
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop" // invisible to matching until triggered
)

// TimeInForce controls how long an order may rest and whether it may fill partially.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc" // Good Till Cancel
	TimeInForceIOC TimeInForce = "ioc" // Immediate Or Cancel
	TimeInForceFOK TimeInForce = "fok" // Fill Or Kill
	TimeInForceAON TimeInForce = "aon" // All Or None
)

// MarkupPolicy decides which party keeps the spread between two crossing prices.
type MarkupPolicy string

const (
	MarkupDriver                    MarkupPolicy = "driver"
	MarkupPlatformKeepsSpread       MarkupPolicy = "platform_keeps_spread"
	MarkupEarliestPosterKeepsSpread MarkupPolicy = "earliest_poster_keeps_spread"
	MarkupBuyerKeepsSpread          MarkupPolicy = "buyer_keeps_spread"
	MarkupSellerKeepsSpread         MarkupPolicy = "seller_keeps_spread"
)

// ActivationState is only meaningful for stop orders.
type ActivationState uint8

const (
	NotActivated ActivationState = 0
	Activating   ActivationState = 1
	Activated    ActivationState = 2
)

func (s ActivationState) String() string {
	switch s {
	case NotActivated:
		return "not_activated"
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	}
	return "unknown"
}

// Origin identifies where an order came from, used by partitioning routers.
type Origin string

const (
	OriginUser Origin = "user"
	OriginBot  Origin = "bot"
)

// DepthItem is one aggregated price bucket.
type DepthItem struct {
	Price     string `json:"price"`
	Remaining string `json:"remaining"`
	Executed  string `json:"executed"`
	Total     string `json:"total"`
	Count     int64  `json:"count"`
}

// GetDepthResponse is the wire form of one aggregation level of a depth snapshot.
type GetDepthResponse struct {
	Level int32        `json:"level"`
	Asks  []*DepthItem `json:"asks"`
	Bids  []*DepthItem `json:"bids"`
}
