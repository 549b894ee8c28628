package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration продолжительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// SamplesReceived измерения получены
	SamplesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "samples_received_total",
			Help: "Total number of beacon samples received",
		},
	)

	// SamplesDropped измерения отброшены из-за переполнения очереди
	SamplesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "samples_dropped_total",
			Help: "Total number of samples dropped on queue overflow",
		},
	)

	// OutliersRejected выбросы, отклоненные компонентами конвейера
	OutliersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outliers_rejected_total",
			Help: "Total number of outliers rejected by pipeline components",
		},
		[]string{"component", "beacon_id"},
	)

	// AnalysisLatency задержка обработки одного измерения
	AnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_latency_seconds",
			Help:    "Analytics processing latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// FilteredRssi текущий отфильтрованный RSSI
	FilteredRssi = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filtered_rssi_dbm",
			Help: "Current filtered RSSI estimate per beacon",
		},
		[]string{"beacon_id"},
	)

	// SmoothedDistanceMeters текущее сглаженное расстояние
	SmoothedDistanceMeters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smoothed_distance_meters",
			Help: "Current smoothed distance per beacon",
		},
		[]string{"beacon_id"},
	)

	// OverallReliability текущая итоговая надежность
	OverallReliability = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "overall_reliability",
			Help: "Current overall reliability score per beacon",
		},
		[]string{"beacon_id"},
	)

	// ActiveBeacons активные маяки
	ActiveBeacons = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_beacons",
			Help: "Number of currently tracked beacons",
		},
	)

	// QueueSize размер очереди обработки
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "processing_queue_size",
			Help: "Current size of the processing queue",
		},
	)

	// SubscriberDrops результаты, вытесненные у медленных подписчиков
	SubscriberDrops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriber_dropped_results",
			Help: "Results evicted from slow subscriber buffers",
		},
	)

	// RedisOperations операции с Redis
	RedisOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)
)
