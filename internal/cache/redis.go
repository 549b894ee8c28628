package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xingcorp/test-ble-sub001/internal/models"
)

// RedisCache обертка для Redis клиента
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
	ttl    time.Duration
}

// NewRedisCache создает новый Redis кэш
func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	ctx := context.Background()

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ctx:    ctx,
		ttl:    ttl,
	}, nil
}

// StoreSample сохраняет сырое измерение в Redis
func (r *RedisCache) StoreSample(beaconID string, timestamp time.Time, sample models.RawSample) error {
	key := fmt.Sprintf("sample:%s:%d", beaconID, timestamp.UnixMilli())

	jsonData, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	return r.client.Set(r.ctx, key, jsonData, r.ttl).Err()
}

// StoreResult сохраняет обогащенный результат и обновляет
// последний результат по маяку
func (r *RedisCache) StoreResult(beaconID string, timestamp time.Time, result models.EnrichedResult) error {
	key := fmt.Sprintf("result:%s:%d", beaconID, timestamp.UnixMilli())
	latestKey := fmt.Sprintf("result_latest:%s", beaconID)

	jsonData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(r.ctx, key, jsonData, r.ttl)
	pipe.Set(r.ctx, latestKey, jsonData, r.ttl)
	_, err = pipe.Exec(r.ctx)
	return err
}

// StoreLowQuality сохраняет событие низкого качества сигнала
// (с более длительным TTL)
func (r *RedisCache) StoreLowQuality(beaconID string, timestamp time.Time, result models.EnrichedResult) error {
	key := fmt.Sprintf("low_quality:%s:%d", beaconID, timestamp.UnixMilli())

	jsonData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal low quality event: %w", err)
	}

	// События низкого качества хранятся дольше
	eventTTL := r.ttl * 24

	// Добавляем в sorted set для легкого извлечения
	score := float64(timestamp.UnixMilli())
	listKey := fmt.Sprintf("low_quality_list:%s", beaconID)

	pipe := r.client.Pipeline()
	pipe.Set(r.ctx, key, jsonData, eventTTL)
	pipe.ZAdd(r.ctx, listKey, redis.Z{Score: score, Member: key})
	pipe.Expire(r.ctx, listKey, eventTTL)

	_, err = pipe.Exec(r.ctx)
	return err
}

// GetLatestResult получает последний результат по маяку
func (r *RedisCache) GetLatestResult(beaconID string) (*models.EnrichedResult, error) {
	latestKey := fmt.Sprintf("result_latest:%s", beaconID)

	data, err := r.client.Get(r.ctx, latestKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest result: %w", err)
	}

	var result models.EnrichedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest result: %w", err)
	}
	return &result, nil
}

// GetRecentSamples получает последние N ключей измерений для маяка
func (r *RedisCache) GetRecentSamples(beaconID string, limit int) ([]string, error) {
	pattern := fmt.Sprintf("sample:%s:*", beaconID)

	var keys []string
	iter := r.client.Scan(r.ctx, 0, pattern, int64(limit)).Iterator()

	for iter.Next(r.ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan samples: %w", err)
	}

	return keys, nil
}

// GetRecentLowQuality получает последние события низкого качества для маяка
func (r *RedisCache) GetRecentLowQuality(beaconID string, limit int) ([]string, error) {
	listKey := fmt.Sprintf("low_quality_list:%s", beaconID)

	// Получаем последние события из sorted set
	results, err := r.client.ZRevRange(r.ctx, listKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get low quality events: %w", err)
	}

	return results, nil
}

// IncrementCounter увеличивает счетчик
func (r *RedisCache) IncrementCounter(key string) error {
	return r.client.Incr(r.ctx, key).Err()
}

// GetCounter получает значение счетчика
func (r *RedisCache) GetCounter(key string) (int64, error) {
	val, err := r.client.Get(r.ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping проверяет доступность Redis
func (r *RedisCache) Ping() error {
	return r.client.Ping(r.ctx).Err()
}

// GetStats возвращает статистику Redis
func (r *RedisCache) GetStats() map[string]interface{} {
	stats := r.client.PoolStats()

	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
