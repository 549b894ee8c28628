package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/xingcorp/test-ble-sub001/internal/cache"
	"github.com/xingcorp/test-ble-sub001/internal/distance"
	"github.com/xingcorp/test-ble-sub001/internal/filter"
	"github.com/xingcorp/test-ble-sub001/internal/handlers"
	"github.com/xingcorp/test-ble-sub001/internal/metrics"
	"github.com/xingcorp/test-ble-sub001/internal/models"
	"github.com/xingcorp/test-ble-sub001/internal/pipeline"
	"github.com/xingcorp/test-ble-sub001/internal/quality"
	"github.com/xingcorp/test-ble-sub001/internal/smoothing"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.Info("Starting BLE Beacon Analytics Service...")

	// .env загружается, если присутствует; переменные окружения важнее
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded configuration from .env")
	}

	// Конфигурация из environment variables
	config := loadConfig()

	// Инициализация Redis
	redisCache, err := cache.NewRedisCache(
		config.RedisAddr,
		config.RedisPassword,
		config.RedisDB,
		config.SampleRetention,
	)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()
	log.Info("Connected to Redis")

	// Инициализация конвейера
	p := pipeline.NewPipeline(config.Pipeline, log)
	p.Start(config.Workers)
	defer p.Stop()
	log.Infof("Pipeline started with %d workers, history capacity: %d",
		config.Workers, config.Pipeline.HistoryCapacity)

	// Запускаем goroutine для обработки результатов конвейера
	go consumeResults(p, redisCache, config.LowQualityThreshold, log)

	// Инициализация HTTP handlers
	handler := handlers.NewHandler(p, redisCache)

	// Настройка HTTP router
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/samples", handler.SubmitSample)
	mux.HandleFunc("/samples/batch", handler.BatchSubmitSamples)
	mux.HandleFunc("/analytics", handler.GetAnalytics)
	mux.HandleFunc("/distance", handler.GetDistanceModels)
	mux.HandleFunc("/reset", handler.ResetBeacon)
	mux.HandleFunc("/health", handler.HealthCheck)
	mux.HandleFunc("/stats", handler.GetStats)

	// Prometheus metrics endpoint
	mux.Handle("/prometheus", promhttp.Handler())

	// HTTP сервер
	server := &http.Server{
		Addr:         ":" + config.ServerPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Infof("Server listening on port %s", config.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Периодическое обновление метрик
	go updateMetrics(p)

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped gracefully")
}

// Config конфигурация приложения
type Config struct {
	ServerPort          string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	SampleRetention     time.Duration
	Workers             int
	LowQualityThreshold float64
	Pipeline            pipeline.Config
}

// loadConfig загружает конфигурацию из environment
func loadConfig() Config {
	return Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvAsInt("REDIS_DB", 0),
		SampleRetention:     time.Duration(getEnvAsInt("SAMPLE_RETENTION_HOURS", 1)) * time.Hour,
		Workers:             getEnvAsInt("WORKERS", 4),
		LowQualityThreshold: getEnvAsFloat("LOW_QUALITY_THRESHOLD", 0.4),
		Pipeline: pipeline.Config{
			HistoryCapacity: getEnvAsInt("HISTORY_CAPACITY", 1000),
			QueueSize:       getEnvAsInt("QUEUE_SIZE", 1000),
			ResultBuffer:    getEnvAsInt("RESULT_BUFFER", 16),
			StaleAfter:      time.Duration(getEnvAsInt("BEACON_STALE_SECONDS", 300)) * time.Second,
			Filter: filter.Config{
				ProcessNoise:       getEnvAsFloat("PROCESS_NOISE", 0.1),
				MeasurementNoise:   getEnvAsFloat("MEASUREMENT_NOISE", 4.0),
				InitialUncertainty: getEnvAsFloat("INITIAL_UNCERTAINTY", 25.0),
				CovarianceCeiling:  getEnvAsFloat("COVARIANCE_CEILING", 25.0),
			},
			Smoother: smoothing.Config{
				WindowCapacity:   getEnvAsInt("SMOOTHER_WINDOW", 10),
				DecayFactor:      getEnvAsFloat("SMOOTHER_DECAY", 0.9),
				OutlierThreshold: getEnvAsFloat("SMOOTHER_OUTLIER_THRESHOLD", 2.0),
				HalfLifeSeconds:  getEnvAsFloat("SMOOTHER_HALF_LIFE_SECONDS", 30.0),
			},
			Distance: distance.Config{
				MinReliableDistance: getEnvAsFloat("MIN_RELIABLE_DISTANCE", 0.1),
				MaxReliableDistance: getEnvAsFloat("MAX_RELIABLE_DISTANCE", 50.0),
				PathLossExponent:    getEnvAsFloat("PATH_LOSS_EXPONENT", 2.2),
				RssiAtOneMeter:      getEnvAsInt("RSSI_AT_ONE_METER", -59),
			},
			Quality: quality.Config{
				WindowDuration:            time.Duration(getEnvAsInt("QUALITY_WINDOW_SECONDS", 30)) * time.Second,
				MaxExpectedDeviation:      getEnvAsFloat("MAX_EXPECTED_DEVIATION", 2.0),
				InterferenceJumpThreshold: getEnvAsFloat("INTERFERENCE_JUMP_DBM", 10.0),
			},
		},
	}
}

// getEnv получает environment variable или возвращает default
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt получает environment variable как int
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat получает environment variable как float64
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var value float64
	if _, err := fmt.Sscanf(valueStr, "%f", &value); err != nil {
		return defaultValue
	}
	return value
}

// consumeResults подписывается на результаты конвейера, обновляет
// Prometheus метрики и сохраняет результаты в Redis
func consumeResults(p *pipeline.Pipeline, redisCache *cache.RedisCache, lowQualityThreshold float64, log *logrus.Logger) {
	results, unsubscribe := p.Subscribe()
	defer unsubscribe()

	for result := range results {
		start := time.Now()
		beaconID := result.Sample.BeaconID

		// Обновляем Prometheus метрики
		metrics.FilteredRssi.WithLabelValues(beaconID).Set(result.Filtered.Value)
		metrics.SmoothedDistanceMeters.WithLabelValues(beaconID).Set(result.Smoothed.Distance)
		metrics.OverallReliability.WithLabelValues(beaconID).Set(result.Quality.OverallReliability)

		if result.Filtered.IsOutlier {
			metrics.OutliersRejected.WithLabelValues("filter", beaconID).Inc()
		}
		if result.Smoothed.IsOutlier {
			metrics.OutliersRejected.WithLabelValues("smoother", beaconID).Inc()
		}

		// Сохраняем результат в Redis
		go func(r models.EnrichedResult) {
			if err := redisCache.StoreResult(r.Sample.BeaconID, r.Sample.Timestamp, r); err == nil {
				metrics.RedisOperations.WithLabelValues("store_result", "success").Inc()
			} else {
				metrics.RedisOperations.WithLabelValues("store_result", "error").Inc()
			}
		}(result)

		// Если качество сигнала низкое
		if result.Quality.SampleCount >= 2 && result.Quality.OverallReliability < lowQualityThreshold {
			go func(r models.EnrichedResult) {
				if err := redisCache.StoreLowQuality(r.Sample.BeaconID, r.Sample.Timestamp, r); err == nil {
					metrics.RedisOperations.WithLabelValues("store_low_quality", "success").Inc()
					log.Warnf("LOW QUALITY: Beacon=%s, Reliability=%.2f, RSSI=%d, Distance=%.2f",
						r.Sample.BeaconID, r.Quality.OverallReliability, r.Sample.Rssi, r.Smoothed.Distance)
				} else {
					metrics.RedisOperations.WithLabelValues("store_low_quality", "error").Inc()
				}
			}(result)
		}

		// Записываем задержку обработки
		metrics.AnalysisLatency.Observe(time.Since(start).Seconds())
	}
}

// updateMetrics периодически обновляет метрики
func updateMetrics(p *pipeline.Pipeline) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := p.GetStats()

		if tracked, ok := stats["beacons_tracked"].(int); ok {
			metrics.ActiveBeacons.Set(float64(tracked))
		}

		if queueSize, ok := stats["queue_size"].(int); ok {
			metrics.QueueSize.Set(float64(queueSize))
		}

		if dropped, ok := stats["results_dropped"].(int64); ok {
			metrics.SubscriberDrops.Set(float64(dropped))
		}
	}
}
