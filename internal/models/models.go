package models

import "time"

// RawSample представляет одно сырое измерение BLE маяка
type RawSample struct {
	Timestamp time.Time `json:"timestamp"`
	BeaconID  string    `json:"beacon_id"`
	Rssi      int       `json:"rssi"`
	Distance  float64   `json:"distance"`
	TxPower   int       `json:"tx_power,omitempty"`
}

// FilteredSignal результат рекурсивной фильтрации одного измерения RSSI
type FilteredSignal struct {
	Value       float64 `json:"value"`
	Confidence  float64 `json:"confidence"`
	IsOutlier   bool    `json:"is_outlier"`
	Improvement float64 `json:"improvement"`
}

// DistanceEstimate оценка расстояния по одной из моделей распространения
type DistanceEstimate struct {
	Distance           float64 `json:"distance"`
	Confidence         float64 `json:"confidence"`
	Model              string  `json:"model"`
	SignalUsed         float64 `json:"signal_used"`
	TxPowerUsed        int     `json:"tx_power_used"`
	CalibrationApplied bool    `json:"calibration_applied"`
}

// MultiModelEstimate результат расчета всех моделей расстояния сразу
type MultiModelEstimate struct {
	Best           DistanceEstimate   `json:"best"`
	All            []DistanceEstimate `json:"all"`
	ModelAgreement float64            `json:"model_agreement"`
}

// SmoothedDistance сглаженное расстояние по взвешенному временному окну
type SmoothedDistance struct {
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	IsOutlier  bool    `json:"is_outlier"`
	Stability  float64 `json:"stability"`
	WindowSize int     `json:"window_size"`
	Mean       float64 `json:"mean"`
	Variance   float64 `json:"variance"`
}

// QualityScore многофакторная оценка качества по окну истории
type QualityScore struct {
	StrengthConsistency float64       `json:"strength_consistency"`
	DistanceReliability float64       `json:"distance_reliability"`
	TemporalStability   float64       `json:"temporal_stability"`
	InterferenceClean   float64       `json:"interference_clean"`
	OverallReliability  float64       `json:"overall_reliability"`
	SampleCount         int           `json:"sample_count"`
	WindowDuration      time.Duration `json:"window_duration"`
}

// ReliabilityScore точечная оценка надежности текущего измерения (0-100)
type ReliabilityScore struct {
	Total            int `json:"total"`
	SignalScore      int `json:"signal_score"`
	ProximityScore   int `json:"proximity_score"`
	ConsistencyScore int `json:"consistency_score"`
}

// EnrichedResult итоговый обогащенный результат обработки одного измерения
type EnrichedResult struct {
	Sample      RawSample        `json:"sample"`
	Filtered    FilteredSignal   `json:"filtered"`
	Distance    DistanceEstimate `json:"distance"`
	Smoothed    SmoothedDistance `json:"smoothed"`
	Quality     QualityScore     `json:"quality"`
	Reliability ReliabilityScore `json:"reliability"`
	ProcessedAt time.Time        `json:"processed_at"`
}
