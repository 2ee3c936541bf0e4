package match

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsHandler counts book events per instrument.
type MetricsHandler struct {
	BaseHandler
	priority int

	orders     *prometheus.CounterVec
	executions *prometheus.CounterVec
	volume     *prometheus.CounterVec
	markup     *prometheus.CounterVec
}

// NewMetricsHandler creates the collectors and registers them with reg.
func NewMetricsHandler(reg prometheus.Registerer, priority int) (*MetricsHandler, error) {
	h := &MetricsHandler{
		priority: priority,
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "order_events_total",
			Help:      "Order lifecycle events by instrument and event.",
		}, []string{"instrument", "event"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "executions_total",
			Help:      "Executions by instrument and matcher.",
		}, []string{"instrument", "matcher"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "executed_quantity_total",
			Help:      "Executed base quantity by instrument.",
		}, []string{"instrument"}),
		markup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "match",
			Name:      "platform_markup_total",
			Help:      "Price spread kept by the platform, summed per unit of quote.",
		}, []string{"instrument"}),
	}
	for _, c := range []prometheus.Collector{h.orders, h.executions, h.volume, h.markup} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *MetricsHandler) Name() string {
	return "metrics"
}

func (h *MetricsHandler) Priority() int {
	return h.priority
}

func (h *MetricsHandler) count(mc *MatchContext, event string) {
	h.orders.WithLabelValues(mc.Book.Instrument().String(), event).Inc()
}

func (h *MetricsHandler) OnAddOrder(mc *MatchContext, order *Order) error {
	h.count(mc, "add")
	return nil
}

func (h *MetricsHandler) OnCancelOrder(mc *MatchContext, order *Order) error {
	h.count(mc, "cancel")
	return nil
}

func (h *MetricsHandler) OnActivateOrder(mc *MatchContext, order *Order) error {
	h.count(mc, "activate")
	return nil
}

func (h *MetricsHandler) OnRemoveOrder(mc *MatchContext, order *Order) error {
	h.count(mc, "remove")
	return nil
}

func (h *MetricsHandler) OnExecuteOrder(mc *MatchContext, order, opponent *Order, result *TradeResult) error {
	instrument := mc.Book.Instrument().String()
	h.executions.WithLabelValues(instrument, result.Matcher).Inc()
	quantity, _ := result.Quantity.Float64()
	h.volume.WithLabelValues(instrument).Add(quantity)
	markup, _ := result.PlatformMarkup.Float64()
	h.markup.WithLabelValues(instrument).Add(markup)
	return nil
}
