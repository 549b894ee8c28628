package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xingcorp/test-ble-sub001/internal/metrics"
	"github.com/xingcorp/test-ble-sub001/internal/models"
	"github.com/xingcorp/test-ble-sub001/internal/pipeline"
)

// ResultCache часть кэша, нужная HTTP обработчикам
type ResultCache interface {
	StoreSample(beaconID string, timestamp time.Time, sample models.RawSample) error
	GetLatestResult(beaconID string) (*models.EnrichedResult, error)
	GetRecentSamples(beaconID string, limit int) ([]string, error)
	GetRecentLowQuality(beaconID string, limit int) ([]string, error)
	Ping() error
	GetStats() map[string]interface{}
}

// Handler обработчик HTTP запросов
type Handler struct {
	pipeline *pipeline.Pipeline
	cache    ResultCache
}

// NewHandler создает новый обработчик
func NewHandler(p *pipeline.Pipeline, c ResultCache) *Handler {
	return &Handler{
		pipeline: p,
		cache:    c,
	}
}

// SubmitSample обрабатывает POST /samples
func (h *Handler) SubmitSample(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/samples").Observe(duration)
	}()

	if r.Method != http.MethodPost {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/samples", "405").Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sample models.RawSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/samples", "400").Inc()
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// Устанавливаем timestamp если не указан
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	// Валидация
	if sample.BeaconID == "" {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/samples", "400").Inc()
		http.Error(w, "beacon_id is required", http.StatusBadRequest)
		return
	}

	// Сохраняем в Redis (асинхронно, не блокируем ответ)
	go func() {
		if err := h.cache.StoreSample(sample.BeaconID, sample.Timestamp, sample); err == nil {
			metrics.RedisOperations.WithLabelValues("store_sample", "success").Inc()
		} else {
			metrics.RedisOperations.WithLabelValues("store_sample", "error").Inc()
		}
	}()

	// Отправляем в конвейер без блокировки
	if !h.pipeline.AddSample(sample) {
		metrics.SamplesDropped.Inc()
	}

	metrics.SamplesReceived.Inc()
	metrics.RequestsTotal.WithLabelValues(r.Method, "/samples", "200").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "accepted",
		"beacon_id": sample.BeaconID,
	})
}

// BatchSubmitSamples обрабатывает POST /samples/batch
func (h *Handler) BatchSubmitSamples(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/samples/batch").Observe(duration)
	}()

	if r.Method != http.MethodPost {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/samples/batch", "405").Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch []models.RawSample
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/samples/batch", "400").Inc()
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	accepted := 0
	for _, sample := range batch {
		if sample.BeaconID == "" {
			continue
		}

		if sample.Timestamp.IsZero() {
			sample.Timestamp = time.Now()
		}

		// Асинхронное сохранение в Redis
		go func(s models.RawSample) {
			if err := h.cache.StoreSample(s.BeaconID, s.Timestamp, s); err == nil {
				metrics.RedisOperations.WithLabelValues("store_sample", "success").Inc()
			} else {
				metrics.RedisOperations.WithLabelValues("store_sample", "error").Inc()
			}
		}(sample)

		if h.pipeline.AddSample(sample) {
			accepted++
		} else {
			metrics.SamplesDropped.Inc()
		}

		metrics.SamplesReceived.Inc()
	}

	metrics.RequestsTotal.WithLabelValues(r.Method, "/samples/batch", "200").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "accepted",
		"total":    len(batch),
		"accepted": accepted,
	})
}

// GetAnalytics обрабатывает GET /analytics
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/analytics").Observe(duration)
	}()

	beaconID := r.URL.Query().Get("beacon_id")
	if beaconID == "" {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/analytics", "400").Inc()
		http.Error(w, "beacon_id parameter is required", http.StatusBadRequest)
		return
	}

	// Последний результат из памяти конвейера, затем из кэша
	latest, ok := h.pipeline.LastResult(beaconID)
	var latestPtr *models.EnrichedResult
	if ok {
		latestPtr = &latest
	} else if cached, err := h.cache.GetLatestResult(beaconID); err == nil && cached != nil {
		latestPtr = cached
		metrics.RedisOperations.WithLabelValues("get_latest", "success").Inc()
	}

	lowQualityKeys, err := h.cache.GetRecentLowQuality(beaconID, 10)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/analytics", "500").Inc()
		http.Error(w, "Failed to retrieve analytics", http.StatusInternalServerError)
		return
	}

	sampleKeys, err := h.cache.GetRecentSamples(beaconID, 10)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/analytics", "500").Inc()
		http.Error(w, "Failed to retrieve analytics", http.StatusInternalServerError)
		return
	}

	metrics.RedisOperations.WithLabelValues("get_low_quality", "success").Inc()
	metrics.RequestsTotal.WithLabelValues(r.Method, "/analytics", "200").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"beacon_id":         beaconID,
		"latest":            latestPtr,
		"low_quality_count": len(lowQualityKeys),
		"low_quality":       lowQualityKeys,
		"recent_samples":    sampleKeys,
	})
}

// GetDistanceModels обрабатывает GET /distance - диагностический расчет
// всех моделей расстояния для произвольного сигнала
func (h *Handler) GetDistanceModels(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/distance").Observe(duration)
	}()

	rssi, err := strconv.Atoi(r.URL.Query().Get("rssi"))
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/distance", "400").Inc()
		http.Error(w, "rssi parameter is required", http.StatusBadRequest)
		return
	}

	txPower := 0
	if raw := r.URL.Query().Get("tx_power"); raw != "" {
		if txPower, err = strconv.Atoi(raw); err != nil {
			metrics.RequestsTotal.WithLabelValues(r.Method, "/distance", "400").Inc()
			http.Error(w, "tx_power must be an integer", http.StatusBadRequest)
			return
		}
	}

	metrics.RequestsTotal.WithLabelValues(r.Method, "/distance", "200").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.pipeline.MultiModelDistance(rssi, txPower))
}

// ResetBeacon обрабатывает POST /reset - сброс фильтров маяка при
// рестарте логической сессии сканирования
func (h *Handler) ResetBeacon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/reset", "405").Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	beaconID := r.URL.Query().Get("beacon_id")
	if beaconID == "" {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/reset", "400").Inc()
		http.Error(w, "beacon_id parameter is required", http.StatusBadRequest)
		return
	}

	if !h.pipeline.ResetBeacon(beaconID) {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/reset", "404").Inc()
		http.Error(w, "Unknown beacon", http.StatusNotFound)
		return
	}

	metrics.RequestsTotal.WithLabelValues(r.Method, "/reset", "200").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "reset",
		"beacon_id": beaconID,
	})
}

// HealthCheck обрабатывает GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	// Проверяем Redis
	redisOK := h.cache.Ping() == nil

	status := "healthy"
	httpStatus := http.StatusOK

	if !redisOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"redis":     redisOK,
		"timestamp": time.Now(),
	})
}

// GetStats обрабатывает GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/stats").Observe(duration)
	}()

	response := map[string]interface{}{
		"pipeline":  h.pipeline.GetStats(),
		"redis":     h.cache.GetStats(),
		"timestamp": time.Now(),
	}

	// Статистика компонентов конкретного маяка по запросу
	if beaconID := r.URL.Query().Get("beacon_id"); beaconID != "" {
		if beaconStats, ok := h.pipeline.BeaconStatistics(beaconID); ok {
			response["beacon"] = beaconStats
		}
	}

	metrics.RequestsTotal.WithLabelValues(r.Method, "/stats", "200").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
