package quality

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

// Веса факторов итоговой надежности
const (
	strengthWeight     = 0.25
	distanceWeight     = 0.25
	temporalWeight     = 0.30
	interferenceWeight = 0.20
)

// Минимальное количество измерений на метрику, ниже которого
// возвращается нейтральное значение вместо ложной уверенности
const (
	minSamplesConsistency  = 3
	minSamplesDistance     = 3
	minSamplesTemporal     = 4
	minSamplesInterference = 5

	neutralScore = 0.5
)

// Веса точечной оценки надежности (0-100)
const (
	signalFactorWeight      = 0.4
	proximityFactorWeight   = 0.3
	consistencyFactorWeight = 0.3
)

// Config конфигурация оценщика качества
type Config struct {
	// WindowDuration длительность окна оценки
	WindowDuration time.Duration
	// MaxExpectedDeviation ожидаемый потолок разброса расстояния в метрах
	MaxExpectedDeviation float64
	// InterferenceJumpThreshold скачок сигнала в dBm, считающийся помехой
	InterferenceJumpThreshold float64
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		WindowDuration:            30 * time.Second,
		MaxExpectedDeviation:      2.0,
		InterferenceJumpThreshold: 10.0,
	}
}

// Scorer многофакторный оценщик качества истории измерений
type Scorer struct {
	cfg Config

	assessments int
}

// NewScorer создает новый оценщик качества
func NewScorer(cfg Config) *Scorer {
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 30 * time.Second
	}
	if cfg.MaxExpectedDeviation <= 0 {
		cfg.MaxExpectedDeviation = 2.0
	}
	if cfg.InterferenceJumpThreshold <= 0 {
		cfg.InterferenceJumpThreshold = 10.0
	}
	return &Scorer{cfg: cfg}
}

// Assess оценивает качество по окну истории измерений.
// Менее двух измерений в окне дают нейтральную оценку, пустое окно - нулевую.
func (s *Scorer) Assess(history []models.RawSample, windowDuration time.Duration) models.QualityScore {
	s.assessments++

	if windowDuration <= 0 {
		windowDuration = s.cfg.WindowDuration
	}

	window := trailingWindow(history, windowDuration)

	if len(window) == 0 {
		return models.QualityScore{WindowDuration: windowDuration}
	}
	if len(window) < 2 {
		// Недостаточно данных для статистики
		return models.QualityScore{
			StrengthConsistency: neutralScore,
			DistanceReliability: neutralScore,
			TemporalStability:   neutralScore,
			InterferenceClean:   neutralScore,
			OverallReliability:  neutralScore,
			SampleCount:         len(window),
			WindowDuration:      windowDuration,
		}
	}

	sc := s.strengthConsistency(window)
	dr := s.distanceReliability(window)
	ts := s.temporalStability(window)
	ic := s.interferenceClean(window)

	overall := strengthWeight*sc + distanceWeight*dr + temporalWeight*ts + interferenceWeight*ic

	return models.QualityScore{
		StrengthConsistency: sc,
		DistanceReliability: dr,
		TemporalStability:   ts,
		InterferenceClean:   ic,
		OverallReliability:  overall,
		SampleCount:         len(window),
		WindowDuration:      windowDuration,
	}
}

// trailingWindow отбирает измерения в хвостовом окне от самого свежего
// и сортирует их по времени
func trailingWindow(history []models.RawSample, windowDuration time.Duration) []models.RawSample {
	if len(history) == 0 {
		return nil
	}

	newest := history[0].Timestamp
	for _, sample := range history[1:] {
		if sample.Timestamp.After(newest) {
			newest = sample.Timestamp
		}
	}
	cutoff := newest.Add(-windowDuration)

	window := make([]models.RawSample, 0, len(history))
	for _, sample := range history {
		if !sample.Timestamp.Before(cutoff) {
			window = append(window, sample)
		}
	}

	sort.Slice(window, func(i, j int) bool {
		return window[i].Timestamp.Before(window[j].Timestamp)
	})
	return window
}

// strengthConsistency высока, когда RSSI колеблется мало относительно
// собственной величины
func (s *Scorer) strengthConsistency(window []models.RawSample) float64 {
	if len(window) < minSamplesConsistency {
		return neutralScore
	}

	signals := make([]float64, len(window))
	for i, sample := range window {
		signals[i] = float64(sample.Rssi)
	}

	mean := stat.Mean(signals, nil)
	if mean == 0 {
		return neutralScore
	}
	stddev := stat.StdDev(signals, nil)

	return 1 - clamp01(math.Abs(stddev/mean))
}

// distanceReliability нормирует разброс расстояния на ожидаемый потолок
func (s *Scorer) distanceReliability(window []models.RawSample) float64 {
	if len(window) < minSamplesDistance {
		return neutralScore
	}

	distances := make([]float64, len(window))
	for i, sample := range window {
		distances[i] = sample.Distance
	}

	stddev := stat.StdDev(distances, nil)
	return 1 - clamp01(stddev/s.cfg.MaxExpectedDeviation)
}

// temporalStability штрафует быстрые и большие скачки сигнала:
// среднее по парам 1/(1 + |dSignal|/dSeconds)
func (s *Scorer) temporalStability(window []models.RawSample) float64 {
	if len(window) < minSamplesTemporal {
		return neutralScore
	}

	var total float64
	pairs := 0
	for i := 1; i < len(window); i++ {
		deltaSignal := math.Abs(float64(window[i].Rssi - window[i-1].Rssi))
		deltaSeconds := window[i].Timestamp.Sub(window[i-1].Timestamp).Seconds()
		if deltaSeconds <= 0 {
			// Одновременные измерения: мгновенный скачок
			if deltaSignal > 0 {
				pairs++
			}
			continue
		}
		total += 1 / (1 + deltaSignal/deltaSeconds)
		pairs++
	}

	if pairs == 0 {
		return neutralScore
	}
	return total / float64(pairs)
}

// interferenceClean доля пар без резких скачков сигнала
func (s *Scorer) interferenceClean(window []models.RawSample) float64 {
	if len(window) < minSamplesInterference {
		return neutralScore
	}

	jumps := 0
	for i := 1; i < len(window); i++ {
		delta := math.Abs(float64(window[i].Rssi - window[i-1].Rssi))
		if delta > s.cfg.InterferenceJumpThreshold {
			jumps++
		}
	}

	return 1 - float64(jumps)/float64(len(window)-1)
}

// Reliability считает точечную оценку надежности текущего измерения по
// шкале 0-100 из силы сигнала, близости и внешней оценки консистентности
func (s *Scorer) Reliability(signal int, distanceMeters float64, consistency float64) models.ReliabilityScore {
	signalScore := signalBucket(signal)
	proximityScore := proximityBucket(distanceMeters)
	consistencyScore := int(math.Round(clamp01(consistency) * 100))

	total := signalFactorWeight*float64(signalScore) +
		proximityFactorWeight*float64(proximityScore) +
		consistencyFactorWeight*float64(consistencyScore)

	return models.ReliabilityScore{
		Total:            int(math.Round(total)),
		SignalScore:      signalScore,
		ProximityScore:   proximityScore,
		ConsistencyScore: consistencyScore,
	}
}

func signalBucket(signal int) int {
	switch {
	case signal >= -50:
		return 100
	case signal >= -60:
		return 85
	case signal >= -70:
		return 70
	case signal >= -80:
		return 50
	case signal >= -90:
		return 30
	default:
		return 15
	}
}

func proximityBucket(distanceMeters float64) int {
	switch {
	case distanceMeters < 0:
		return 0
	case distanceMeters < 1:
		return 100
	case distanceMeters < 3:
		return 80
	case distanceMeters < 5:
		return 60
	case distanceMeters < 10:
		return 40
	default:
		return 20
	}
}

// GetStatistics возвращает статистику оценщика
func (s *Scorer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"assessments":             s.assessments,
		"window_duration_seconds": s.cfg.WindowDuration.Seconds(),
		"max_expected_deviation":  s.cfg.MaxExpectedDeviation,
		"interference_threshold":  s.cfg.InterferenceJumpThreshold,
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
