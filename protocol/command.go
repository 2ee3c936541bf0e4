package protocol

// CommandType defines the type of the command (using uint8 for memory alignment and performance)
type CommandType uint8

const (
	CmdUnknown       CommandType = 0
	CmdAddOrder      CommandType = 51
	CmdCancelOrder   CommandType = 52
	CmdActivateOrder CommandType = 53
	CmdPriceChange   CommandType = 54
)

func (t CommandType) String() string {
	switch t {
	case CmdAddOrder:
		return "add_order"
	case CmdCancelOrder:
		return "cancel_order"
	case CmdActivateOrder:
		return "activate_order"
	case CmdPriceChange:
		return "price_change"
	}
	return "unknown"
}

// Command is the standard carrier for commands entering the matching core.
type Command struct {
	// Version is the protocol version for backward compatibility.
	Version uint8 `json:"version"`

	// SeqID is used for global ordering and deduplication.
	SeqID uint64 `json:"seq_id"`

	// Type identifies the payload type for fast routing.
	Type CommandType `json:"type"`

	// Payload contains the serialized business data (e.g., JSON bytes of AddOrderCommand).
	// Decoding is deferred until the command is dispatched.
	Payload []byte `json:"payload"`

	// Metadata stores non-business context (e.g., Tracing ID, Source IP).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AddOrderCommand is the payload for submitting a new order.
// Decimal fields are strings to prevent precision loss in JSON.
type AddOrderCommand struct {
	OrderID      string          `json:"order_id"`
	OwnerID      string          `json:"owner_id"`
	Base         string          `json:"base"`
	Quote        string          `json:"quote"`
	Origin       Origin          `json:"origin,omitempty"`
	Side         Side            `json:"side"`
	OrderType    OrderType       `json:"order_type"`
	TimeInForce  TimeInForce     `json:"time_in_force,omitempty"`
	Markup       MarkupPolicy    `json:"markup,omitempty"`
	Price        string          `json:"price,omitempty"`
	UpperBound   string          `json:"upper_bound,omitempty"`
	LowerBound   string          `json:"lower_bound,omitempty"`
	TriggerPrice string          `json:"trigger_price,omitempty"`
	Quantity     string          `json:"quantity,omitempty"`
	Amount       string          `json:"amount,omitempty"`
	Activation   ActivationState `json:"activation,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// CancelOrderCommand is the payload for cancelling a resting or pending order.
type CancelOrderCommand struct {
	OrderID   string `json:"order_id"`
	Timestamp int64  `json:"timestamp"`
}

// ActivateOrderCommand is the payload for forcing activation of a pending stop order.
type ActivateOrderCommand struct {
	OrderID   string `json:"order_id"`
	Timestamp int64  `json:"timestamp"`
}

// PriceChangeCommand carries a new reference price for an instrument.
// External prices are folded into the last-trade price like an internal execution.
type PriceChangeCommand struct {
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Price     string `json:"price"`
	External  bool   `json:"external"`
	Timestamp int64  `json:"timestamp"`
}
