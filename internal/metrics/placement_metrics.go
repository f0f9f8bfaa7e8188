package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PlacementMetrics содержит метрики воркфлоу размещения заказа и координатора стока.
type PlacementMetrics struct {
	// Счётчики исходов размещения
	ordersPlaced   prometheus.Counter
	ordersRejected *prometheus.CounterVec

	// Метрики координатора стока
	stockDecrements  prometheus.Counter
	stockShortfalls  prometheus.Counter
	stockRollbacks   prometheus.Counter
	rollbackFailures prometheus.Counter

	// Гистограммы времени выполнения
	placementDuration prometheus.Histogram
	reserveDuration   prometheus.Histogram

	// Gauge активных размещений
	activePlacements prometheus.Gauge
}

// NewPlacementMetrics создаёт новый экземпляр метрик размещения.
func NewPlacementMetrics() *PlacementMetrics {
	return newPlacementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPlacementMetricsWithRegisterer(registerer prometheus.Registerer) *PlacementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PlacementMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_orders_placed_total",
			Help: "Total number of orders committed successfully",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_orders_rejected_total",
			Help: "Total number of order placements rejected",
		}, []string{"reason"}),
		stockDecrements: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_stock_decrements_total",
			Help: "Total number of successful conditional stock decrements",
		}),
		stockShortfalls: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_stock_shortfalls_total",
			Help: "Total number of line items rejected for insufficient stock",
		}),
		stockRollbacks: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_stock_rollbacks_total",
			Help: "Total number of compensating stock increments applied",
		}),
		rollbackFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_stock_rollback_failures_total",
			Help: "Total number of compensating increments that could not be applied",
		}),
		placementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "commerce_order_placement_duration_seconds",
			Help:    "Duration of the order placement workflow in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		reserveDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "commerce_stock_reserve_duration_seconds",
			Help:    "Duration of the reserve-and-decrement pass in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		activePlacements: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "commerce_active_placements",
			Help: "Number of order placements currently in flight",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderPlaced увеличивает счётчик успешно размещённых заказов.
func (m *PlacementMetrics) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

// RecordOrderRejected увеличивает счётчик отклонённых размещений по причине.
func (m *PlacementMetrics) RecordOrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordStockDecrement увеличивает счётчик успешных условных декрементов.
func (m *PlacementMetrics) RecordStockDecrement() {
	m.stockDecrements.Inc()
}

// RecordStockShortfall увеличивает счётчик позиций с нехваткой стока.
func (m *PlacementMetrics) RecordStockShortfall() {
	m.stockShortfalls.Inc()
}

// RecordStockRollback увеличивает счётчик компенсирующих инкрементов.
func (m *PlacementMetrics) RecordStockRollback() {
	m.stockRollbacks.Inc()
}

// RecordRollbackFailure увеличивает счётчик неудавшихся компенсаций.
func (m *PlacementMetrics) RecordRollbackFailure() {
	m.rollbackFailures.Inc()
}

// RecordPlacementDuration записывает время выполнения воркфлоу размещения.
func (m *PlacementMetrics) RecordPlacementDuration(duration time.Duration) {
	m.placementDuration.Observe(duration.Seconds())
}

// RecordReserveDuration записывает время прохода резервирования.
func (m *PlacementMetrics) RecordReserveDuration(duration time.Duration) {
	m.reserveDuration.Observe(duration.Seconds())
}

// RecordPlacementStarted увеличивает количество активных размещений.
func (m *PlacementMetrics) RecordPlacementStarted() {
	m.activePlacements.Inc()
}

// RecordPlacementFinished уменьшает количество активных размещений.
func (m *PlacementMetrics) RecordPlacementFinished() {
	m.activePlacements.Dec()
}
