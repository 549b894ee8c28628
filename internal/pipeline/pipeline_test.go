package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func sampleAt(i int, beaconID string, rssi int, distance float64) models.RawSample {
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	return models.RawSample{
		Timestamp: base.Add(time.Duration(i) * time.Second),
		BeaconID:  beaconID,
		Rssi:      rssi,
		Distance:  distance,
	}
}

func TestEndToEndScenario(t *testing.T) {
	p := NewPipeline(DefaultConfig(), testLogger())

	inputs := []struct {
		rssi     int
		distance float64
	}{
		{-65, 3.0},
		{-67, 3.1},
		{-63, 2.9},
		{-66, 3.0},
		{-64, 3.05},
	}

	var result models.EnrichedResult
	for i, in := range inputs {
		result = p.Process(sampleAt(i, "beacon-1", in.rssi, in.distance))
	}

	if math.Abs(result.Smoothed.Distance-3.0) > 0.5 {
		t.Errorf("smoothed distance = %v, want within 0.5 of 3.0", result.Smoothed.Distance)
	}
	if result.Quality.OverallReliability <= 0.6 {
		t.Errorf("overall reliability = %v, want > 0.6", result.Quality.OverallReliability)
	}
	if result.Filtered.IsOutlier {
		t.Error("steady signal must not be flagged as outlier")
	}
	if result.Quality.SampleCount != 5 {
		t.Errorf("quality window sample count = %d, want 5", result.Quality.SampleCount)
	}
	if result.Reliability.Total <= 0 {
		t.Errorf("reliability total = %d, want positive", result.Reliability.Total)
	}
	if result.ProcessedAt.IsZero() {
		t.Error("processed timestamp must be set")
	}
}

func TestPerBeaconIsolation(t *testing.T) {
	p := NewPipeline(DefaultConfig(), testLogger())

	for i := 0; i < 10; i++ {
		p.Process(sampleAt(i, "beacon-a", -65, 3.0))
	}

	// Первый результат нового маяка не должен наследовать чужое состояние
	result := p.Process(sampleAt(0, "beacon-b", -80, 8.0))
	if result.Filtered.Confidence != 0.5 {
		t.Errorf("fresh beacon first confidence = %v, want 0.5", result.Filtered.Confidence)
	}
	if result.Filtered.Value != -80 {
		t.Errorf("fresh beacon estimate = %v, want -80", result.Filtered.Value)
	}

	stats := p.GetStats()
	if got := stats["beacons_tracked"].(int); got != 2 {
		t.Errorf("beacons tracked = %d, want 2", got)
	}
}

func TestResetBeaconRestoresFreshState(t *testing.T) {
	p := NewPipeline(DefaultConfig(), testLogger())

	for i := 0; i < 10; i++ {
		p.Process(sampleAt(i, "beacon-1", -65, 3.0))
	}

	if !p.ResetBeacon("beacon-1") {
		t.Fatal("reset of a known beacon must succeed")
	}
	if p.ResetBeacon("unknown") {
		t.Error("reset of an unknown beacon must return false")
	}

	result := p.Process(sampleAt(100, "beacon-1", -40, 1.0))
	if result.Filtered.Confidence != 0.5 {
		t.Errorf("post-reset confidence = %v, want 0.5", result.Filtered.Confidence)
	}
	if result.Filtered.Improvement != 0 {
		t.Errorf("post-reset improvement = %v, want 0", result.Filtered.Improvement)
	}
	if result.Quality.SampleCount != 1 {
		t.Errorf("post-reset history must contain 1 sample, got %d", result.Quality.SampleCount)
	}
}

func TestInternalFailureReturnsMinimalResult(t *testing.T) {
	p := NewPipeline(DefaultConfig(), testLogger())

	// Эмулируем внутренний сбой компонента
	p.distancer = nil

	sample := sampleAt(0, "beacon-1", -65, 3.0)
	sample2 := sampleAt(1, "beacon-1", -66, 3.0)
	p.Process(sample)
	result := p.Process(sample2)

	if result.Sample.BeaconID != "beacon-1" {
		t.Error("minimal result must carry the original sample")
	}
	if result.Quality.OverallReliability != 0 {
		t.Errorf("minimal result quality must be zero, got %v", result.Quality.OverallReliability)
	}
	if result.ProcessedAt.IsZero() {
		t.Error("minimal result must carry a processing timestamp")
	}

	if got := p.failures.Load(); got != 2 {
		t.Errorf("failures = %d, want 2", got)
	}
}

func TestLastResult(t *testing.T) {
	p := NewPipeline(DefaultConfig(), testLogger())

	if _, ok := p.LastResult("beacon-1"); ok {
		t.Error("unknown beacon must have no last result")
	}

	p.Process(sampleAt(0, "beacon-1", -65, 3.0))

	result, ok := p.LastResult("beacon-1")
	if !ok {
		t.Fatal("last result must be available after processing")
	}
	if result.Sample.Rssi != -65 {
		t.Errorf("last result rssi = %d, want -65", result.Sample.Rssi)
	}
}

func TestReliabilityProximityWithoutRangingDistance(t *testing.T) {
	p := NewPipeline(DefaultConfig(), testLogger())

	// Дальнометрии нет: близость считается по модельной оценке,
	// нулевое расстояние не дает максимальный балл
	res := p.Process(sampleAt(0, "beacon-nr", -75, 0))

	if res.Distance.Distance < 1.0 {
		t.Fatalf("model estimate for -75 dBm must exceed 1m, got %v", res.Distance.Distance)
	}
	if res.Reliability.ProximityScore == 100 {
		t.Error("absent ranging distance must not score maximal proximity")
	}

	// С реальной близкой дальнометрией балл максимальный
	near := p.Process(sampleAt(1, "beacon-nr2", -55, 0.5))
	if near.Reliability.ProximityScore != 100 {
		t.Errorf("0.5m ranging distance must score 100, got %d", near.Reliability.ProximityScore)
	}
}

func TestWorkersDeliverResultsToSubscribers(t *testing.T) {
	p := NewPipeline(DefaultConfig(), testLogger())
	p.Start(2)
	defer p.Stop()

	results, unsubscribe := p.Subscribe()
	defer unsubscribe()

	if !p.AddSample(sampleAt(0, "beacon-1", -65, 3.0)) {
		t.Fatal("enqueue into an empty queue must succeed")
	}

	select {
	case result := <-results:
		if result.Sample.BeaconID != "beacon-1" {
			t.Errorf("unexpected beacon id %q", result.Sample.BeaconID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered within 2s")
	}
}

func TestAddSampleDropsOnFullQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 2

	// Обработчики не запущены: очередь переполняется
	p := NewPipeline(cfg, testLogger())

	p.AddSample(sampleAt(0, "beacon-1", -65, 3.0))
	p.AddSample(sampleAt(1, "beacon-1", -65, 3.0))
	if p.AddSample(sampleAt(2, "beacon-1", -65, 3.0)) {
		t.Error("enqueue into a full queue must report a drop")
	}

	stats := p.GetStats()
	if got := stats["queue_dropped"].(int64); got != 1 {
		t.Errorf("queue_dropped = %d, want 1", got)
	}
}

func TestBeaconStatistics(t *testing.T) {
	p := NewPipeline(DefaultConfig(), testLogger())

	if _, ok := p.BeaconStatistics("beacon-1"); ok {
		t.Error("unknown beacon must have no statistics")
	}

	p.Process(sampleAt(0, "beacon-1", -65, 3.0))

	stats, ok := p.BeaconStatistics("beacon-1")
	if !ok {
		t.Fatal("statistics must be available after processing")
	}
	if stats["history_size"].(int) != 1 {
		t.Errorf("history size = %v, want 1", stats["history_size"])
	}
}

func TestStaleBeaconEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleAfter = 10 * time.Millisecond
	p := NewPipeline(cfg, testLogger())

	p.Process(sampleAt(0, "beacon-1", -65, 3.0))
	time.Sleep(20 * time.Millisecond)
	p.evictStale()

	stats := p.GetStats()
	if got := stats["beacons_tracked"].(int); got != 0 {
		t.Errorf("stale beacon must be evicted, still tracking %d", got)
	}
}
