package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0x5487/venue-core/protocol"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

type CommandType = protocol.CommandType

const (
	CmdAddOrder      = protocol.CmdAddOrder
	CmdCancelOrder   = protocol.CmdCancelOrder
	CmdActivateOrder = protocol.CmdActivateOrder
	CmdPriceChange   = protocol.CmdPriceChange
)

// Command is a unit of work for a processor. Exactly one processor executes
// it; the outcome is published through Success, Err and the done signal.
type Command struct {
	ID         string
	Type       CommandType
	Order      *Order
	OrderID    string
	Instrument Instrument
	Price      decimal.Decimal
	External   bool
	CreatedAt  time.Time
	ExecutedAt time.Time
	Success    bool
	Err        error

	// OnComplete runs on the processor goroutine after execution.
	OnComplete func(cmd *Command)

	books []*OrderBook
	once  sync.Once
	done  chan struct{}
}

func newCommand(t CommandType) *Command {
	return &Command{
		ID:        xid.New().String(),
		Type:      t,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// NewAddOrderCommand wraps an order for submission.
func NewAddOrderCommand(order *Order) *Command {
	cmd := newCommand(CmdAddOrder)
	cmd.Order = order
	if order != nil {
		cmd.OrderID = order.ID
		cmd.Instrument = order.Instrument
	}
	return cmd
}

func NewCancelOrderCommand(orderID string) *Command {
	cmd := newCommand(CmdCancelOrder)
	cmd.OrderID = orderID
	return cmd
}

func NewActivateOrderCommand(orderID string) *Command {
	cmd := newCommand(CmdActivateOrder)
	cmd.OrderID = orderID
	return cmd
}

// NewPriceChangeCommand carries a reference price. External prices are folded
// into the books' last-trade price before stops are scanned.
func NewPriceChangeCommand(instrument Instrument, price decimal.Decimal, external bool) *Command {
	cmd := newCommand(CmdPriceChange)
	cmd.Instrument = instrument
	cmd.Price = price
	cmd.External = external
	return cmd
}

// Done is closed once the command was executed.
func (cmd *Command) Done() <-chan struct{} {
	return cmd.done
}

// Wait blocks until the command was executed and returns its error.
func (cmd *Command) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cmd.done:
		return cmd.Err
	}
}

func (cmd *Command) complete(err error, at time.Time) {
	cmd.once.Do(func() {
		cmd.Err = err
		cmd.Success = err == nil
		cmd.ExecutedAt = at
		if cmd.OnComplete != nil {
			cmd.OnComplete(cmd)
		}
		close(cmd.done)
	})
}

func (cmd *Command) book() *OrderBook {
	if len(cmd.books) == 0 {
		return nil
	}
	return cmd.books[0]
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if len(value) == 0 {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrInvalidParam, field, err)
	}
	return d, nil
}

// OrderFromProtocol converts a wire payload into an order.
func OrderFromProtocol(payload *protocol.AddOrderCommand) (*Order, error) {
	order := &Order{
		ID:          payload.OrderID,
		OwnerID:     payload.OwnerID,
		Instrument:  Instrument{Base: payload.Base, Quote: payload.Quote},
		Origin:      payload.Origin,
		Type:        payload.OrderType,
		Side:        payload.Side,
		TimeInForce: payload.TimeInForce,
		Markup:      payload.Markup,
		Activation:  payload.Activation,
		CreatedAt:   payload.Timestamp,
	}

	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"price", payload.Price, &order.Price},
		{"upper_bound", payload.UpperBound, &order.UpperBound},
		{"lower_bound", payload.LowerBound, &order.LowerBound},
		{"trigger_price", payload.TriggerPrice, &order.TriggerPrice},
		{"quantity", payload.Quantity, &order.Quantity},
		{"amount", payload.Amount, &order.Amount},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.name, f.value)
		if err != nil {
			return nil, err
		}
		*f.dst = d
	}
	return order, nil
}

// CommandFromProtocol decodes a wire envelope into a command.
func CommandFromProtocol(serializer protocol.Serializer, envelope *protocol.Command) (*Command, error) {
	switch envelope.Type {
	case protocol.CmdAddOrder:
		var payload protocol.AddOrderCommand
		if err := serializer.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
		}
		order, err := OrderFromProtocol(&payload)
		if err != nil {
			return nil, err
		}
		return NewAddOrderCommand(order), nil
	case protocol.CmdCancelOrder:
		var payload protocol.CancelOrderCommand
		if err := serializer.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
		}
		return NewCancelOrderCommand(payload.OrderID), nil
	case protocol.CmdActivateOrder:
		var payload protocol.ActivateOrderCommand
		if err := serializer.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
		}
		return NewActivateOrderCommand(payload.OrderID), nil
	case protocol.CmdPriceChange:
		var payload protocol.PriceChangeCommand
		if err := serializer.Unmarshal(envelope.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
		}
		price, err := parseDecimal("price", payload.Price)
		if err != nil {
			return nil, err
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: price must be positive", ErrInvalidParam)
		}
		instrument := Instrument{Base: payload.Base, Quote: payload.Quote}
		return NewPriceChangeCommand(instrument, price, payload.External), nil
	default:
		return nil, fmt.Errorf("%w: command type %d", ErrInvalidParam, envelope.Type)
	}
}
