package match

import "errors"

var (
	ErrInvalidParam     = errors.New("the param is invalid")
	ErrInvalidOrder     = errors.New("the order is invalid")
	ErrInvalidOrderType = errors.New("invalid order type for the book")
	ErrDuplicateOrder   = errors.New("order already exists in the book")
	ErrNotFound         = errors.New("not found")
	ErrNotPending       = errors.New("stop order is not pending activation")
	ErrReentrantMatch   = errors.New("order is already matching")
	ErrHandlerFailed    = errors.New("event handler failed")
	ErrShutdown         = errors.New("processor is shutting down")
	ErrQueueCapacity    = errors.New("queue capacity must be a power of 2")
	ErrUnknownMatcher   = errors.New("unknown matcher")
	ErrUnknownHandler   = errors.New("unknown event handler")
	ErrUnknownRouter    = errors.New("unknown router strategy")
	ErrTimeout          = errors.New("timeout")
)
