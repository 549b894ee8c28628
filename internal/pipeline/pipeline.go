package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xingcorp/test-ble-sub001/internal/distance"
	"github.com/xingcorp/test-ble-sub001/internal/filter"
	"github.com/xingcorp/test-ble-sub001/internal/models"
	"github.com/xingcorp/test-ble-sub001/internal/quality"
	"github.com/xingcorp/test-ble-sub001/internal/smoothing"
)

// Config конфигурация аналитического конвейера
type Config struct {
	// HistoryCapacity емкость буфера истории на маяк
	HistoryCapacity int
	// QueueSize размер входной очереди измерений
	QueueSize int
	// ResultBuffer буфер результатов на подписчика
	ResultBuffer int
	// StaleAfter через сколько неактивное состояние маяка вытесняется
	StaleAfter time.Duration

	Filter   filter.Config
	Smoother smoothing.Config
	Distance distance.Config
	Quality  quality.Config
}

// DefaultConfig возвращает настройки конвейера по умолчанию
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: 1000,
		QueueSize:       1000,
		ResultBuffer:    16,
		StaleAfter:      5 * time.Minute,
		Filter:          filter.DefaultConfig(),
		Smoother:        smoothing.DefaultConfig(),
		Distance:        distance.DefaultConfig(),
		Quality:         quality.DefaultConfig(),
	}
}

// beaconState изменяемое состояние одного физического маяка.
// Все записи идут под собственной блокировкой, разные маяки
// обрабатываются без конкуренции между собой.
type beaconState struct {
	mu sync.Mutex

	estimator *filter.SignalEstimator
	smoother  *smoothing.DistanceSmoother
	scorer    *quality.Scorer
	history   *SampleHistory

	lastResult models.EnrichedResult
	hasResult  bool
	lastSeen   time.Time
}

// Pipeline аналитический конвейер: фильтрация сигнала, оценка и
// сглаживание расстояния, оценка качества и публикация результата
type Pipeline struct {
	cfg Config
	log *logrus.Entry

	// Общий оценщик расстояния: состояния не имеет
	distancer *distance.Estimator

	mu      sync.RWMutex
	beacons map[string]*beaconState

	broadcaster *Broadcaster
	samplesChan chan models.RawSample
	stopChan    chan struct{}
	wg          sync.WaitGroup

	processed atomic.Int64
	failures  atomic.Int64
	dropped   atomic.Int64
}

// NewPipeline создает конвейер с заданной конфигурацией
func NewPipeline(cfg Config, logger *logrus.Logger) *Pipeline {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = 1000
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Pipeline{
		cfg:         cfg,
		log:         logger.WithField("component", "pipeline"),
		distancer:   distance.NewEstimator(cfg.Distance),
		beacons:     make(map[string]*beaconState),
		broadcaster: NewBroadcaster(cfg.ResultBuffer),
		samplesChan: make(chan models.RawSample, cfg.QueueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start запускает обработчики и фоновое вытеснение устаревших маяков
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.wg.Add(1)
	go p.janitor()
}

// Stop останавливает обработчики и закрывает подписки
func (p *Pipeline) Stop() {
	close(p.stopChan)
	p.wg.Wait()
	p.broadcaster.Close()
}

// AddSample ставит измерение в очередь без блокировки.
// Возвращает false, если очередь полна и измерение отброшено.
func (p *Pipeline) AddSample(sample models.RawSample) bool {
	select {
	case p.samplesChan <- sample:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Subscribe возвращает канал обогащенных результатов и функцию отписки
func (p *Pipeline) Subscribe() (<-chan models.EnrichedResult, func()) {
	return p.broadcaster.Subscribe()
}

// worker обрабатывает измерения из очереди
func (p *Pipeline) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case sample := <-p.samplesChan:
			result := p.Process(sample)
			p.broadcaster.Publish(result)
		}
	}
}

// Process синхронно обрабатывает одно измерение и возвращает результат.
// Внутренний сбой любого компонента не прерывает цикл детекции:
// паника перехватывается и возвращается минимальный валидный результат.
func (p *Pipeline) Process(sample models.RawSample) (result models.EnrichedResult) {
	defer func() {
		if r := recover(); r != nil {
			p.failures.Add(1)
			p.log.WithFields(logrus.Fields{
				"beacon_id": sample.BeaconID,
				"rssi":      sample.Rssi,
				"panic":     r,
			}).Error("analytics failure, returning minimal result")
			result = p.minimalResult(sample)
		}
	}()

	state := p.state(sample.BeaconID)

	state.mu.Lock()
	defer state.mu.Unlock()

	filtered := state.estimator.Estimate(sample.Rssi, sample.Timestamp)

	estimate := p.distancer.EstimateFromFiltered(sample.Rssi, filtered, sample.TxPower)

	// Аппаратная дальнометрия, когда она есть, точнее модели по RSSI:
	// сглаживаем ее, модельная оценка остается в результате для сверки
	smoothInput := sample.Distance
	if smoothInput <= 0 {
		smoothInput = estimate.Distance
	}
	smoothed := state.smoother.Smooth(smoothInput, sample.Timestamp, estimate.Confidence)

	state.history.Append(sample)

	qualityScore := state.scorer.Assess(
		state.history.Window(p.cfg.Quality.WindowDuration),
		p.cfg.Quality.WindowDuration,
	)
	// Надежность считаем по тому же расстоянию, что и сглаживание:
	// нулевая дальнометрия не должна давать максимальный балл близости
	reliability := state.scorer.Reliability(sample.Rssi, smoothInput, qualityScore.StrengthConsistency)

	result = models.EnrichedResult{
		Sample:      sample,
		Filtered:    filtered,
		Distance:    estimate,
		Smoothed:    smoothed,
		Quality:     qualityScore,
		Reliability: reliability,
		ProcessedAt: time.Now(),
	}

	state.lastResult = result
	state.hasResult = true
	state.lastSeen = time.Now()
	p.processed.Add(1)

	return result
}

// minimalResult безопасный результат с нулевыми подоценками
func (p *Pipeline) minimalResult(sample models.RawSample) models.EnrichedResult {
	return models.EnrichedResult{
		Sample:      sample,
		ProcessedAt: time.Now(),
	}
}

// state возвращает состояние маяка, создавая его при первом измерении
func (p *Pipeline) state(beaconID string) *beaconState {
	p.mu.RLock()
	state, ok := p.beacons[beaconID]
	p.mu.RUnlock()
	if ok {
		return state
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if state, ok = p.beacons[beaconID]; ok {
		return state
	}

	state = &beaconState{
		estimator: filter.NewSignalEstimator(p.cfg.Filter),
		smoother:  smoothing.NewDistanceSmoother(p.cfg.Smoother),
		scorer:    quality.NewScorer(p.cfg.Quality),
		history:   NewSampleHistory(p.cfg.HistoryCapacity),
		lastSeen:  time.Now(),
	}
	p.beacons[beaconID] = state
	return state
}

// ResetBeacon сбрасывает фильтры маяка при рестарте логической сессии.
// Возвращает false, если маяк неизвестен.
func (p *Pipeline) ResetBeacon(beaconID string) bool {
	p.mu.RLock()
	state, ok := p.beacons[beaconID]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	state.estimator.Reset()
	state.smoother.Reset()
	state.history.Clear()
	state.hasResult = false
	return true
}

// LastResult возвращает последний результат по маяку
func (p *Pipeline) LastResult(beaconID string) (models.EnrichedResult, bool) {
	p.mu.RLock()
	state, ok := p.beacons[beaconID]
	p.mu.RUnlock()
	if !ok {
		return models.EnrichedResult{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if !state.hasResult {
		return models.EnrichedResult{}, false
	}
	return state.lastResult, true
}

// MultiModelDistance считает все модели расстояния для диагностики
func (p *Pipeline) MultiModelDistance(signal, txPower int) models.MultiModelEstimate {
	return p.distancer.EstimateMultiModel(signal, txPower)
}

// BeaconStatistics возвращает статистику компонентов одного маяка
func (p *Pipeline) BeaconStatistics(beaconID string) (map[string]interface{}, bool) {
	p.mu.RLock()
	state, ok := p.beacons[beaconID]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return map[string]interface{}{
		"estimator":    state.estimator.GetStatistics(),
		"smoother":     state.smoother.GetStatistics(),
		"scorer":       state.scorer.GetStatistics(),
		"history_size": state.history.Len(),
		"last_seen":    state.lastSeen,
	}, true
}

// janitor периодически вытесняет состояния неактивных маяков
func (p *Pipeline) janitor() {
	defer p.wg.Done()

	interval := p.cfg.StaleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.evictStale()
		}
	}
}

// evictStale удаляет маяки, не присылавшие измерений дольше StaleAfter
func (p *Pipeline) evictStale() {
	cutoff := time.Now().Add(-p.cfg.StaleAfter)

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, state := range p.beacons {
		state.mu.Lock()
		stale := state.lastSeen.Before(cutoff)
		state.mu.Unlock()
		if stale {
			delete(p.beacons, id)
			p.log.WithField("beacon_id", id).Debug("evicted stale beacon state")
		}
	}
}

// GetStats возвращает статистику конвейера
func (p *Pipeline) GetStats() map[string]interface{} {
	p.mu.RLock()
	tracked := len(p.beacons)
	p.mu.RUnlock()

	return map[string]interface{}{
		"distance":        p.distancer.GetStatistics(),
		"beacons_tracked": tracked,
		"queue_size":      len(p.samplesChan),
		"processed":       p.processed.Load(),
		"failures":        p.failures.Load(),
		"queue_dropped":   p.dropped.Load(),
		"subscribers":     p.broadcaster.Subscribers(),
		"results_dropped": p.broadcaster.Dropped(),
	}
}
