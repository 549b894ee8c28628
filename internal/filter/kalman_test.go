package filter

import (
	"math"
	"testing"
	"time"
)

func ts(i int) time.Time {
	return time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second)
}

func TestFirstSampleInitializesEstimate(t *testing.T) {
	e := NewSignalEstimator(DefaultConfig())

	fs := e.Estimate(-65, ts(0))

	if fs.Value != -65 {
		t.Errorf("expected initial estimate -65, got %v", fs.Value)
	}
	if fs.Confidence != 0.5 {
		t.Errorf("expected initial confidence 0.5, got %v", fs.Confidence)
	}
	if fs.IsOutlier {
		t.Error("first sample must not be an outlier")
	}
	if fs.Improvement != 0 {
		t.Errorf("expected zero improvement, got %v", fs.Improvement)
	}
}

func TestConvergenceAndMonotonicConfidence(t *testing.T) {
	e := NewSignalEstimator(DefaultConfig())

	// Детерминированный шум вокруг истинного значения -65
	noise := []int{0, -1, 2, 1, -2, 0, 1, -1, 2, -2}

	var lastConfidence float64
	var fsValue float64
	for i := 0; i < 40; i++ {
		fs := e.Estimate(-65+noise[i%len(noise)], ts(i))
		if fs.IsOutlier {
			t.Fatalf("sample %d unexpectedly rejected", i)
		}
		if fs.Confidence < lastConfidence {
			t.Errorf("confidence decreased at sample %d: %v -> %v", i, lastConfidence, fs.Confidence)
		}
		lastConfidence = fs.Confidence
		fsValue = fs.Value
	}

	if math.Abs(fsValue-(-65)) > 1.0 {
		t.Errorf("estimate did not converge: got %v, want -65±1.0", fsValue)
	}
	if lastConfidence < 0.9 {
		t.Errorf("expected high confidence after convergence, got %v", lastConfidence)
	}
}

func TestOutlierLeavesStateUnchanged(t *testing.T) {
	e := NewSignalEstimator(DefaultConfig())

	for i := 0; i < 10; i++ {
		e.Estimate(-65, ts(i))
	}

	before := e.GetStatistics()
	beforeEstimate := before["estimate"].(float64)
	beforeCovariance := before["covariance"].(float64)

	cases := []int{-120, 50, -95}
	for _, raw := range cases {
		fs := e.Estimate(raw, ts(100))
		if !fs.IsOutlier {
			t.Errorf("sample %d должен быть отклонен как выброс", raw)
		}
		if fs.Value != beforeEstimate {
			t.Errorf("outlier must return last estimate %v, got %v", beforeEstimate, fs.Value)
		}
		if fs.Improvement != 0 {
			t.Errorf("outlier improvement must be 0, got %v", fs.Improvement)
		}
	}

	after := e.GetStatistics()
	if after["estimate"].(float64) != beforeEstimate {
		t.Error("outliers must not change the estimate")
	}
	if after["covariance"].(float64) != beforeCovariance {
		t.Error("outliers must not change the covariance")
	}
}

func TestThreeSigmaGate(t *testing.T) {
	e := NewSignalEstimator(DefaultConfig())

	for i := 0; i < 20; i++ {
		e.Estimate(-65, ts(i))
	}

	// -80 в пределах аппаратного диапазона, но далеко за 3-сигма гейтом
	fs := e.Estimate(-80, ts(20))
	if !fs.IsOutlier {
		t.Error("deviation beyond 3-sigma must be flagged as outlier")
	}
}

func TestImprovementZeroForFirstTwoSamples(t *testing.T) {
	e := NewSignalEstimator(DefaultConfig())

	if fs := e.Estimate(-65, ts(0)); fs.Improvement != 0 {
		t.Errorf("first sample improvement must be 0, got %v", fs.Improvement)
	}
	if fs := e.Estimate(-67, ts(1)); fs.Improvement != 0 {
		t.Errorf("second sample improvement must be 0, got %v", fs.Improvement)
	}
	if fs := e.Estimate(-61, ts(2)); fs.Improvement <= 0 {
		t.Errorf("third sample improvement must be positive, got %v", fs.Improvement)
	}
}

func TestResetRestoresFreshBehavior(t *testing.T) {
	e := NewSignalEstimator(DefaultConfig())

	for i := 0; i < 15; i++ {
		e.Estimate(-65, ts(i))
	}

	e.Reset()

	fs := e.Estimate(-40, ts(100))
	if fs.Confidence != 0.5 {
		t.Errorf("post-reset first sample confidence must be 0.5, got %v", fs.Confidence)
	}
	if fs.Improvement != 0 {
		t.Errorf("post-reset first sample improvement must be 0, got %v", fs.Improvement)
	}
	if fs.Value != -40 {
		t.Errorf("post-reset estimate must initialize to raw value, got %v", fs.Value)
	}
	if fs.IsOutlier {
		t.Error("post-reset first sample must not be an outlier")
	}
}

func TestOutOfRangeClassifiedAsOutlier(t *testing.T) {
	e := NewSignalEstimator(DefaultConfig())
	e.Estimate(-65, ts(0))

	// Вход вне аппаратного диапазона не ошибка, а выброс
	if fs := e.Estimate(-120, ts(1)); !fs.IsOutlier {
		t.Error("-120 dBm must be classified as outlier")
	}
	if fs := e.Estimate(25, ts(2)); !fs.IsOutlier {
		t.Error("+25 dBm must be classified as outlier")
	}
}
