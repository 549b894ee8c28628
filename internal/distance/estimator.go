package distance

import (
	"math"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

// Теги моделей оценки расстояния
const (
	ModelPathLoss    = "enhanced_path_loss"
	ModelLogDistance = "log_distance"
	ModelEmpirical   = "empirical"
	ModelInvalid     = "invalid"

	// Префикс для оценок, усиленных фильтром сигнала
	filterEnhancedPrefix = "filter_enhanced_"
)

// InvalidDistance сентинел для невалидного входного сигнала
const InvalidDistance = -1.0

// Базовые уровни доверия моделей
const (
	pathLossConfidence    = 0.75
	txPowerBonus          = 0.10
	logDistanceConfidence = 0.70
	empiricalConfidence   = 0.50
)

// Порог доверия фильтра, ниже которого оценка откатывается на сырой сигнал
const filterTrustThreshold = 0.7

// Config конфигурация оценщика расстояния
type Config struct {
	// MinReliableDistance нижняя граница надежной оценки в метрах
	MinReliableDistance float64
	// MaxReliableDistance верхняя граница надежной оценки в метрах
	MaxReliableDistance float64
	// PathLossExponent показатель затухания (2.0 открытое пространство, 2.2 помещение)
	PathLossExponent float64
	// RssiAtOneMeter калибровочный RSSI на расстоянии 1 метр
	RssiAtOneMeter int
}

// DefaultConfig возвращает настройки по умолчанию для помещений
func DefaultConfig() Config {
	return Config{
		MinReliableDistance: 0.1,
		MaxReliableDistance: 50.0,
		PathLossExponent:    2.2,
		RssiAtOneMeter:      -59,
	}
}

// Estimator многомодельный оценщик расстояния по силе сигнала
type Estimator struct {
	cfg Config
}

// NewEstimator создает новый оценщик расстояния
func NewEstimator(cfg Config) *Estimator {
	if cfg.MinReliableDistance <= 0 {
		cfg.MinReliableDistance = 0.1
	}
	if cfg.MaxReliableDistance <= cfg.MinReliableDistance {
		cfg.MaxReliableDistance = 50.0
	}
	if cfg.PathLossExponent <= 0 {
		cfg.PathLossExponent = 2.2
	}
	if cfg.RssiAtOneMeter >= 0 {
		cfg.RssiAtOneMeter = -59
	}
	return &Estimator{cfg: cfg}
}

// Estimate оценивает расстояние по модели enhanced path-loss.
// txPower = 0 означает, что мощность передатчика неизвестна.
func (e *Estimator) Estimate(signal, txPower int) models.DistanceEstimate {
	return e.EstimateWithEnvironment(signal, txPower, 0)
}

// EstimateWithEnvironment дополнительно учитывает поправку среды,
// корректирующую показатель затухания (0 = без калибровки)
func (e *Estimator) EstimateWithEnvironment(signal, txPower int, envAdjustment float64) models.DistanceEstimate {
	if signal == 0 {
		return e.invalid()
	}
	return e.pathLossModel(float64(signal), txPower, envAdjustment)
}

// EstimateMultiModel считает все три модели, выбирает лучшую по доверию
// и оценивает степень согласия моделей между собой
func (e *Estimator) EstimateMultiModel(signal, txPower int) models.MultiModelEstimate {
	if signal == 0 {
		return models.MultiModelEstimate{Best: e.invalid()}
	}

	sig := float64(signal)
	all := []models.DistanceEstimate{
		e.pathLossModel(sig, txPower, 0),
		e.logDistanceModel(sig),
		e.empiricalModel(sig),
	}

	best := all[0]
	for _, est := range all[1:] {
		if est.Confidence > best.Confidence {
			best = est
		}
	}

	return models.MultiModelEstimate{
		Best:           best,
		All:            all,
		ModelAgreement: modelAgreement(all),
	}
}

// EstimateFromFiltered оценивает расстояние по отфильтрованному сигналу.
// Ненадежный выход фильтра откатывает оценку на сырой сигнал с
// половинным доверием.
func (e *Estimator) EstimateFromFiltered(rawSignal int, fs models.FilteredSignal, txPower int) models.DistanceEstimate {
	if fs.Confidence < filterTrustThreshold || fs.IsOutlier {
		est := e.Estimate(rawSignal, txPower)
		est.Confidence = est.Confidence / 2
		return est
	}

	if fs.Value == 0 {
		return e.invalid()
	}

	est := e.pathLossModel(fs.Value, txPower, 0)
	est.Confidence = clamp01((est.Confidence+fs.Confidence)/2 + 0.1*fs.Improvement)
	est.Model = filterEnhancedPrefix + est.Model
	return est
}

// pathLossModel модель затухания, использует txPower рекламного пакета
// либо калибровочную константу, если мощность неизвестна
func (e *Estimator) pathLossModel(signal float64, txPower int, envAdjustment float64) models.DistanceEstimate {
	tx := txPower
	confidence := pathLossConfidence
	if tx == 0 {
		tx = e.cfg.RssiAtOneMeter
	} else {
		confidence += txPowerBonus
	}

	exponent := e.cfg.PathLossExponent + envAdjustment
	if exponent <= 0 {
		exponent = e.cfg.PathLossExponent
	}

	d := math.Pow(10, (float64(tx)-signal)/(10*exponent))
	return models.DistanceEstimate{
		Distance:           e.clamp(d),
		Confidence:         confidence,
		Model:              ModelPathLoss,
		SignalUsed:         signal,
		TxPowerUsed:        tx,
		CalibrationApplied: envAdjustment != 0,
	}
}

// logDistanceModel вариант path-loss, жестко привязанный к RSSI на 1 метре
// с показателем затухания свободного пространства
func (e *Estimator) logDistanceModel(signal float64) models.DistanceEstimate {
	d := math.Pow(10, (float64(e.cfg.RssiAtOneMeter)-signal)/(10*2.0))
	return models.DistanceEstimate{
		Distance:    e.clamp(d),
		Confidence:  logDistanceConfidence,
		Model:       ModelLogDistance,
		SignalUsed:  signal,
		TxPowerUsed: e.cfg.RssiAtOneMeter,
	}
}

// empiricalModel ручная ступенчатая калибровка по диапазонам сигнала
func (e *Estimator) empiricalModel(signal float64) models.DistanceEstimate {
	var d float64
	switch {
	case signal > -50:
		d = 0.5
	case signal > -60:
		d = 1.0
	case signal > -70:
		d = 2.5
	case signal > -80:
		d = 5.0
	case signal > -90:
		d = 10.0
	default:
		d = 20.0
	}
	return models.DistanceEstimate{
		Distance:   e.clamp(d),
		Confidence: empiricalConfidence,
		Model:      ModelEmpirical,
		SignalUsed: signal,
	}
}

// GetStatistics возвращает действующую калибровку оценщика
func (e *Estimator) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"min_reliable_distance": e.cfg.MinReliableDistance,
		"max_reliable_distance": e.cfg.MaxReliableDistance,
		"path_loss_exponent":    e.cfg.PathLossExponent,
		"rssi_at_one_meter":     e.cfg.RssiAtOneMeter,
	}
}

func (e *Estimator) invalid() models.DistanceEstimate {
	return models.DistanceEstimate{
		Distance:   InvalidDistance,
		Confidence: 0,
		Model:      ModelInvalid,
	}
}

func (e *Estimator) clamp(d float64) float64 {
	if math.IsNaN(d) || d < e.cfg.MinReliableDistance {
		return e.cfg.MinReliableDistance
	}
	if d > e.cfg.MaxReliableDistance {
		return e.cfg.MaxReliableDistance
	}
	return d
}

// modelAgreement оценивает согласие моделей: средняя попарная разница
// расстояний, нормированная на среднее расстояние
func modelAgreement(all []models.DistanceEstimate) float64 {
	if len(all) < 2 {
		return 1.0
	}

	var mean float64
	for _, est := range all {
		mean += est.Distance
	}
	mean /= float64(len(all))
	if mean <= 0 {
		return 0
	}

	var pairDiff float64
	pairs := 0
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			pairDiff += math.Abs(all[i].Distance - all[j].Distance)
			pairs++
		}
	}
	pairDiff /= float64(pairs)

	return clamp01(1 - pairDiff/mean)
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
