package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics содержит метрики обработки событий саги.
type EventMetrics struct {
	// Счётчики событий
	eventsProcessed *prometheus.CounterVec
	ordersCreated   prometheus.Counter

	// Исходы резервирования и компенсации на складе
	reservations  *prometheus.CounterVec
	compensations prometheus.Counter

	// Проигранные CAS-гонки по агрегатам
	casConflicts *prometheus.CounterVec

	// Гистограмма времени обработчиков
	handlerDuration *prometheus.HistogramVec
}

// NewEventMetrics создаёт новый экземпляр метрик событий.
func NewEventMetrics() *EventMetrics {
	return newEventMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newEventMetricsWithRegisterer(registerer prometheus.Registerer) *EventMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EventMetrics{
		eventsProcessed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_events_processed_total",
			Help: "Total number of consumed saga events grouped by type and result",
		}, []string{"event_type", "result"}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_orders_created_total",
			Help: "Total number of orders created",
		}),
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_stock_reservations_total",
			Help: "Total number of stock reservation attempts grouped by result",
		}, []string{"result"}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_stock_compensations_total",
			Help: "Total number of stock compensations applied",
		}),
		casConflicts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_cas_conflicts_total",
			Help: "Total number of lost CAS status update races grouped by aggregate",
		}, []string{"aggregate"}),
		handlerDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "commerce_event_handler_duration_seconds",
			Help:    "Duration of event handlers in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"event_type"}),
	}
}

// RecordEventProcessed увеличивает счётчик обработанных событий.
func (m *EventMetrics) RecordEventProcessed(eventType, result string) {
	m.eventsProcessed.WithLabelValues(eventType, result).Inc()
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *EventMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordReservation фиксирует исход попытки резервирования.
func (m *EventMetrics) RecordReservation(result string) {
	m.reservations.WithLabelValues(result).Inc()
}

// RecordCompensation увеличивает счётчик компенсаций остатков.
func (m *EventMetrics) RecordCompensation() {
	m.compensations.Inc()
}

// RecordCASConflict фиксирует проигранную гонку условного обновления.
func (m *EventMetrics) RecordCASConflict(aggregate string) {
	m.casConflicts.WithLabelValues(aggregate).Inc()
}

// ObserveHandlerDuration записывает время выполнения обработчика события.
func (m *EventMetrics) ObserveHandlerDuration(eventType string, duration time.Duration) {
	m.handlerDuration.WithLabelValues(eventType).Observe(duration.Seconds())
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

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}
