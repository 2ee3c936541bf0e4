package match

import (
	"fmt"

	"github.com/0x5487/venue-core/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collaborators are the outer dependencies the configured core writes to.
// Nil members fall back to a discarding publisher, an in-memory price feed
// and no metrics.
type Collaborators struct {
	Publisher   Publisher
	PriceFeed   PriceFeed
	Registerer  prometheus.Registerer
	Diagnostics DiagnosticsFunc
}

// NewSchedulerFromConfig wires the core from cfg. Handlers run after the
// commit handler in the order cfg lists them.
func NewSchedulerFromConfig(cfg *config.Config, deps Collaborators, opts ...SchedulerOption) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level: %w", ErrInvalidParam, err)
	}

	registry, err := NewMatcherRegistryByName(cfg.Matchers, cfg.AllowFullFillAllOrNone)
	if err != nil {
		return nil, err
	}

	chain, err := newHandlerChainByName(cfg, deps, l)
	if err != nil {
		return nil, err
	}

	router, err := NewRouter(cfg.Router,
		WithQuantityScale(cfg.QuantityScale),
		WithPriceScale(cfg.PriceScale),
	)
	if err != nil {
		return nil, err
	}

	base := []SchedulerOption{
		WithMaxProcessors(cfg.MaxProcessors),
		WithQueueCapacity(cfg.QueueCapacity),
		WithRouter(router),
		WithMatchers(registry),
		WithHandlers(chain),
		WithRollbackPolicy(RollbackPolicy(cfg.Rollback)),
		WithLogger(l),
	}
	if deps.PriceFeed != nil {
		base = append(base, WithPriceFeed(deps.PriceFeed))
	}
	if deps.Registerer != nil {
		base = append(base, WithMetricsRegisterer(deps.Registerer))
	}
	if deps.Diagnostics != nil {
		base = append(base, WithDiagnostics(deps.Diagnostics))
	}
	return NewScheduler(append(base, opts...)...)
}

func newHandlerChainByName(cfg *config.Config, deps Collaborators, l *zap.Logger) (*HandlerChain, error) {
	chain := NewHandlerChain(NewCommitHandler())
	priority := len(cfg.Handlers)
	for _, name := range cfg.Handlers {
		switch name {
		case "log":
			chain.Add(NewLogHandler(l, priority))
		case "publish":
			publisher := deps.Publisher
			if publisher == nil {
				publisher = NewDiscardPublisher()
			}
			chain.Add(NewPublishHandler(publisher, cfg.DepthLevels, cfg.DepthLimit, priority))
		case "metrics":
			if deps.Registerer == nil {
				return nil, fmt.Errorf("%w: metrics handler needs a prometheus registerer", ErrUnknownHandler)
			}
			h, err := NewMetricsHandler(deps.Registerer, priority)
			if err != nil {
				return nil, err
			}
			chain.Add(h)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
		}
		priority--
	}
	return chain, nil
}
