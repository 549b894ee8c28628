package smoothing

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

// Границы санитарной проверки расстояния в метрах
const (
	minSaneDistance = 0.0
	maxSaneDistance = 100.0
)

// zeroVarianceGate нижняя граница порога выброса в метрах.
// Константное окно имеет нулевую дисперсию, и без этого пола
// статистический гейт пропускал бы любое отклонение.
const zeroVarianceGate = 1e-6

// Config конфигурация временного сглаживателя расстояния
type Config struct {
	// WindowCapacity максимальный размер окна
	WindowCapacity int
	// DecayFactor экспоненциальный дисконт по позиции в окне
	DecayFactor float64
	// OutlierThreshold порог выброса в стандартных отклонениях
	OutlierThreshold float64
	// HalfLifeSeconds период полураспада веса по возрасту измерения
	HalfLifeSeconds float64
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		WindowCapacity:   10,
		DecayFactor:      0.9,
		OutlierThreshold: 2.0,
		HalfLifeSeconds:  30.0,
	}
}

// weightedSample одно взвешенное измерение в окне
type weightedSample struct {
	value      float64
	timestamp  time.Time
	confidence float64
	weight     float64
}

// DistanceSmoother взвешенное временное сглаживание расстояния.
// Окно хранится от новых к старым, старые вытесняются при переполнении.
type DistanceSmoother struct {
	cfg Config

	// window[0] - самое свежее измерение
	window []weightedSample

	mean     float64
	variance float64

	samplesAccepted  int
	outliersRejected int
}

// NewDistanceSmoother создает новый сглаживатель
func NewDistanceSmoother(cfg Config) *DistanceSmoother {
	if cfg.WindowCapacity <= 0 {
		cfg.WindowCapacity = 10
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		cfg.DecayFactor = 0.9
	}
	if cfg.OutlierThreshold <= 0 {
		cfg.OutlierThreshold = 2.0
	}
	if cfg.HalfLifeSeconds <= 0 {
		cfg.HalfLifeSeconds = 30.0
	}
	return &DistanceSmoother{
		cfg:    cfg,
		window: make([]weightedSample, 0, cfg.WindowCapacity),
	}
}

// Smooth обрабатывает одно измерение расстояния.
// Выброс возвращает текущее среднее без изменения окна.
func (s *DistanceSmoother) Smooth(distance float64, timestamp time.Time, confidence float64) models.SmoothedDistance {
	if confidence <= 0 || confidence > 1 {
		confidence = 1.0
	}

	// Санитарная проверка диапазона
	if distance < minSaneDistance || distance > maxSaneDistance || math.IsNaN(distance) {
		s.outliersRejected++
		return s.result(true)
	}

	// Статистический гейт работает только при достаточном окне.
	// При <2 измерениях дисперсия считается неограниченной и гейт не срабатывает.
	if len(s.window) >= 3 {
		gate := s.cfg.OutlierThreshold * math.Sqrt(s.variance)
		if !(gate > zeroVarianceGate) {
			gate = zeroVarianceGate
		}
		if math.Abs(distance-s.mean) > gate {
			s.outliersRejected++
			return s.result(true)
		}
	}

	age := 0.0
	if len(s.window) > 0 {
		newest := s.window[0].timestamp
		if newest.After(timestamp) {
			age = newest.Sub(timestamp).Seconds()
		}
	}
	weight := confidence * math.Exp(-age/s.cfg.HalfLifeSeconds) * s.cfg.DecayFactor

	// Вставка в начало, вытеснение самых старых
	s.window = append([]weightedSample{{
		value:      distance,
		timestamp:  timestamp,
		confidence: confidence,
		weight:     weight,
	}}, s.window...)
	if len(s.window) > s.cfg.WindowCapacity {
		s.window = s.window[:s.cfg.WindowCapacity]
	}
	s.samplesAccepted++

	s.recompute()
	return s.result(false)
}

// recompute пересчитывает взвешенные среднее и дисперсию окна.
// Дополнительный дисконт decay^index усиливает вклад свежих измерений.
func (s *DistanceSmoother) recompute() {
	n := len(s.window)
	if n == 0 {
		s.mean = 0
		s.variance = 0
		return
	}

	values := make([]float64, n)
	weights := make([]float64, n)
	for i, ws := range s.window {
		values[i] = ws.value
		weights[i] = ws.weight * math.Pow(s.cfg.DecayFactor, float64(i))
	}

	s.mean = stat.Mean(values, weights)
	if n < 2 {
		s.variance = 0
		return
	}

	// Смещенная взвешенная дисперсия: делим на сумму весов, а не на
	// Σw-1. Дробные веса дают Σw <= 1, и несмещенная оценка на таком
	// окне уходит в отрицательные значения.
	var sumW, sumSq float64
	for i := range values {
		d := values[i] - s.mean
		sumW += weights[i]
		sumSq += weights[i] * d * d
	}
	if sumW <= 0 {
		s.variance = 0
		return
	}
	v := sumSq / sumW
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		v = 0
	}
	s.variance = v
}

// result собирает выходную структуру по текущему состоянию окна
func (s *DistanceSmoother) result(isOutlier bool) models.SmoothedDistance {
	stable, stability := s.stability()

	confidence := 0.6
	if stable {
		confidence = 0.9
	}
	if isOutlier {
		confidence = 0.3
	}

	return models.SmoothedDistance{
		Distance:   s.mean,
		Confidence: confidence,
		IsOutlier:  isOutlier,
		Stability:  stability,
		WindowSize: len(s.window),
		Mean:       s.mean,
		Variance:   s.variance,
	}
}

// stability: окно стабильно, когда заполнено хотя бы наполовину и
// коэффициент вариации ниже 0.1
func (s *DistanceSmoother) stability() (bool, float64) {
	if len(s.window) == 0 || s.mean <= 0 {
		return false, 0
	}
	cv := math.Sqrt(s.variance) / s.mean
	stable := len(s.window) >= s.cfg.WindowCapacity/2 && cv < 0.1
	score := 1 - cv
	if score < 0 {
		score = 0
	}
	return stable, score
}

// Reset очищает окно и накопленную статистику
func (s *DistanceSmoother) Reset() {
	s.window = s.window[:0]
	s.mean = 0
	s.variance = 0
	s.samplesAccepted = 0
	s.outliersRejected = 0
}

// GetStatistics возвращает статистику сглаживателя
func (s *DistanceSmoother) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"window_size":       len(s.window),
		"window_capacity":   s.cfg.WindowCapacity,
		"mean":              s.mean,
		"variance":          s.variance,
		"samples_accepted":  s.samplesAccepted,
		"outliers_rejected": s.outliersRejected,
	}
}
