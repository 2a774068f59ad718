package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders by terminal pipeline outcome",
		},
		[]string{"status"},
	)

	orderNotional = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_order_notional_dollars",
			Help:    "Distribution of submitted order notional value",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		},
		[]string{"side"},
	)

	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals emitted by strategies",
		},
		[]string{"strategy", "kind"},
	)

	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_compliance_violations_total",
			Help: "Compliance violations by rule and action",
		},
		[]string{"kind", "action"},
	)

	adjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_parameter_adjustments_total",
			Help: "Optimizer parameter adjustments applied",
		},
		[]string{"parameter", "type"},
	)

	botStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_bot_state_changes_total",
			Help: "Bot lifecycle transitions",
		},
		[]string{"to"},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_telemetry_dropped_total",
			Help: "Telemetry events shed under backpressure",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(orderNotional)
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(violationsTotal)
	prometheus.MustRegister(adjustmentsTotal)
	prometheus.MustRegister(botStateChanges)
	prometheus.MustRegister(eventsDropped)
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsCollector translates telemetry events into Prometheus series. It
// is an ordinary sink subscriber with no privileged access.
type MetricsCollector struct {
	logger      *zap.Logger
	sub         *Subscription
	lastDropped int64
	done        chan struct{}
}

// NewMetricsCollector subscribes to the sink and starts collecting.
func NewMetricsCollector(logger *zap.Logger, sink *Sink) *MetricsCollector {
	c := &MetricsCollector{
		logger: logger.Named("metrics"),
		sub:    sink.Subscribe(),
		done:   make(chan struct{}),
	}
	go c.run(sink)
	return c
}

func (c *MetricsCollector) run(sink *Sink) {
	defer close(c.done)

	for ev := range c.sub.C() {
		c.observe(ev)

		if d := sink.Stats().Dropped; d > c.lastDropped {
			eventsDropped.Add(float64(d - c.lastDropped))
			c.lastDropped = d
		}
	}
}

func (c *MetricsCollector) observe(ev Event) {
	switch ev.Kind {
	case KindOrderSubmitted, KindOrderFilled, KindOrderRejected:
		p, ok := ev.Payload.(OrderPayload)
		if !ok {
			return
		}
		ordersTotal.WithLabelValues(string(p.Order.Status)).Inc()
		if ev.Kind == KindOrderSubmitted {
			price := p.Order.LimitPrice
			if !price.IsPositive() {
				price = p.Order.AvgFillPrice
			}
			if price.IsPositive() {
				notional, _ := p.Order.Quantity.Mul(price).Float64()
				orderNotional.WithLabelValues(string(p.Order.Side)).Observe(notional)
			}
		}
	case KindSignalEmitted:
		if p, ok := ev.Payload.(SignalPayload); ok {
			signalsTotal.WithLabelValues(p.Signal.StrategyName, string(p.Signal.Kind)).Inc()
		}
	case KindComplianceViolation:
		if p, ok := ev.Payload.(ViolationPayload); ok {
			violationsTotal.WithLabelValues(string(p.Violation.Kind), string(p.Violation.Action)).Inc()
		}
	case KindParameterAdjustment:
		if p, ok := ev.Payload.(AdjustmentPayload); ok {
			adjustmentsTotal.WithLabelValues(p.Adjustment.ParameterName, string(p.Adjustment.AdjustmentType)).Inc()
		}
	case KindBotStateChange:
		if p, ok := ev.Payload.(BotStatePayload); ok {
			botStateChanges.WithLabelValues(string(p.To)).Inc()
		}
	}
}

// Stop detaches the collector from the sink.
func (c *MetricsCollector) Stop() {
	c.sub.Close()
	<-c.done
}
