package filter

import (
	"math"
	"time"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

// Константы аппаратного диапазона RSSI в dBm
const (
	MinValidRssi = -100
	MaxValidRssi = 20
)

// Config конфигурация рекурсивного фильтра сигнала
type Config struct {
	// ProcessNoise (Q) - шум процесса, выше = фильтр быстрее реагирует на изменения
	ProcessNoise float64
	// MeasurementNoise (R) - шум измерений, выше = меньше доверия к отдельным измерениям
	MeasurementNoise float64
	// InitialUncertainty (P) - начальная неопределенность оценки
	InitialUncertainty float64
	// CovarianceCeiling эмпирический потолок ковариации для нормализации confidence
	CovarianceCeiling float64
}

// DefaultConfig возвращает настройки по умолчанию для BLE RSSI
func DefaultConfig() Config {
	return Config{
		ProcessNoise:       0.1,
		MeasurementNoise:   4.0,
		InitialUncertainty: 25.0,
		CovarianceCeiling:  25.0,
	}
}

// SignalEstimator скалярный рекурсивный фильтр Калмана для RSSI.
// Модель состояния константная (без модели движения): predict только
// увеличивает ковариацию на шум процесса.
type SignalEstimator struct {
	cfg Config

	estimate   float64
	covariance float64

	samplesAccepted  int
	outliersRejected int
	initialized      bool
}

// NewSignalEstimator создает новый фильтр сигнала
func NewSignalEstimator(cfg Config) *SignalEstimator {
	if cfg.ProcessNoise <= 0 {
		cfg.ProcessNoise = 0.1
	}
	if cfg.MeasurementNoise <= 0 {
		cfg.MeasurementNoise = 4.0
	}
	if cfg.InitialUncertainty <= 0 {
		cfg.InitialUncertainty = 25.0
	}
	if cfg.CovarianceCeiling <= 0 {
		cfg.CovarianceCeiling = 25.0
	}
	return &SignalEstimator{
		cfg:        cfg,
		covariance: cfg.InitialUncertainty,
	}
}

// Estimate обрабатывает одно сырое измерение RSSI.
// Невалидный вход классифицируется как выброс, ошибки не возвращаются.
func (e *SignalEstimator) Estimate(rawSignal int, timestamp time.Time) models.FilteredSignal {
	raw := float64(rawSignal)

	// Первое измерение инициализирует состояние
	if !e.initialized {
		e.estimate = raw
		e.initialized = true
		e.samplesAccepted = 1
		return models.FilteredSignal{
			Value:       raw,
			Confidence:  0.5,
			IsOutlier:   false,
			Improvement: 0,
		}
	}

	// Predict: константная модель, растет только неопределенность
	predicted := e.estimate
	predictedCov := e.covariance + e.cfg.ProcessNoise

	// Validate: аппаратный диапазон и 3-сигма гейт
	gate := 3 * math.Sqrt(predictedCov+e.cfg.MeasurementNoise)
	if rawSignal < MinValidRssi || rawSignal > MaxValidRssi || math.Abs(raw-predicted) > gate {
		// Выброс не меняет состояние фильтра
		e.outliersRejected++
		return models.FilteredSignal{
			Value:       e.estimate,
			Confidence:  e.confidence(e.covariance),
			IsOutlier:   true,
			Improvement: 0,
		}
	}

	// Update
	gain := predictedCov / (predictedCov + e.cfg.MeasurementNoise)
	newEstimate := predicted + gain*(raw-predicted)
	newCovariance := (1 - gain) * predictedCov

	improvement := 0.0
	if e.samplesAccepted >= 2 {
		rawDev := math.Abs(raw - predicted)
		filteredDev := math.Abs(newEstimate - predicted)
		if rawDev > 1e-9 {
			improvement = clamp01((rawDev - filteredDev) / rawDev)
		}
	}

	e.estimate = newEstimate
	e.covariance = newCovariance
	e.samplesAccepted++

	return models.FilteredSignal{
		Value:       e.estimate,
		Confidence:  e.confidence(e.covariance),
		IsOutlier:   false,
		Improvement: improvement,
	}
}

// confidence монотонно убывает с ростом ковариации плюс бонус за
// количество принятых измерений
func (e *SignalEstimator) confidence(covariance float64) float64 {
	base := 1 - covariance/e.cfg.CovarianceCeiling
	bonus := math.Min(float64(e.samplesAccepted)*0.002, 0.1)
	return clamp01(base + bonus)
}

// Reset сбрасывает состояние фильтра к начальному.
// Обязателен при смене физического источника, иначе оценка "протечет"
// между сессиями.
func (e *SignalEstimator) Reset() {
	e.estimate = 0
	e.covariance = e.cfg.InitialUncertainty
	e.samplesAccepted = 0
	e.outliersRejected = 0
	e.initialized = false
}

// CurrentEstimate возвращает текущую оценку сигнала
func (e *SignalEstimator) CurrentEstimate() float64 {
	return e.estimate
}

// GetStatistics возвращает статистику фильтра
func (e *SignalEstimator) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"estimate":          e.estimate,
		"covariance":        e.covariance,
		"samples_accepted":  e.samplesAccepted,
		"outliers_rejected": e.outliersRejected,
		"process_noise":     e.cfg.ProcessNoise,
		"measurement_noise": e.cfg.MeasurementNoise,
		"initialized":       e.initialized,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
