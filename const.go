package match

const (
	// DefaultQuantityScale is the number of decimal places a traded quantity is rounded down to.
	DefaultQuantityScale int32 = 8

	// DefaultPriceScale is the price precision depth level 0 aggregates at.
	DefaultPriceScale int32 = 8

	// DefaultQueueCapacity is the per-processor command ring size.
	DefaultQueueCapacity int64 = 32768

	// CommitHandlerPriority keeps the commit handler ahead of every other handler.
	CommitHandlerPriority = 1 << 30
)
