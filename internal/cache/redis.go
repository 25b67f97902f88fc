package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
)

// historyKey holds the serialized recent-search list as one value.
const historyKey = "recent:list"

type RedisCache struct {
	client redis.UniversalClient
	ttl    config.CacheTTLConfig
	logger *zap.Logger
}

func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.Strings("addresses", cfg.Addresses))

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (rc *RedisCache) GetCompareResults(ctx context.Context, req *models.CompareRequest) (*models.CompareResponse, error) {
	return rc.getResponse(ctx, rc.buildCompareKey(req))
}

func (rc *RedisCache) SetCompareResults(ctx context.Context, req *models.CompareRequest, resp *models.CompareResponse) error {
	if err := rc.setResponse(ctx, rc.buildCompareKey(req), resp, rc.ttl.CompareResults); err != nil {
		return err
	}
	return rc.setResponse(ctx, rc.buildStaleKey(req), resp, rc.ttl.StaleFallback)
}

// GetStaleResults reads the long-TTL tier written alongside every
// fresh response, used when all live paths fail.
func (rc *RedisCache) GetStaleResults(ctx context.Context, req *models.CompareRequest) (*models.CompareResponse, error) {
	return rc.getResponse(ctx, rc.buildStaleKey(req))
}

func (rc *RedisCache) GetSuggestions(ctx context.Context, prefix string) ([]string, error) {
	key := fmt.Sprintf("sg:%s", hashString(prefix))
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get suggestions: %w", err)
	}
	observability.CacheHits.Inc()
	var results []string
	if err := json.Unmarshal([]byte(val), &results); err != nil {
		return nil, fmt.Errorf("cache unmarshal suggestions: %w", err)
	}
	return results, nil
}

func (rc *RedisCache) SetSuggestions(ctx context.Context, prefix string, results []string) error {
	key := fmt.Sprintf("sg:%s", hashString(prefix))
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("cache marshal suggestions: %w", err)
	}
	return rc.client.Set(ctx, key, data, rc.ttl.Suggestions).Err()
}

// SeriesKey is the cache key for one product's price series. Exported
// so the indexing pipeline can invalidate it when new prices arrive.
func SeriesKey(url string) string {
	return fmt.Sprintf("ps:%s", hashString(url))
}

func (rc *RedisCache) GetSeries(ctx context.Context, url string) ([]models.PricePoint, error) {
	key := SeriesKey(url)
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get series: %w", err)
	}
	observability.CacheHits.Inc()
	var series []models.PricePoint
	if err := json.Unmarshal([]byte(val), &series); err != nil {
		return nil, fmt.Errorf("cache unmarshal series: %w", err)
	}
	return series, nil
}

func (rc *RedisCache) SetSeries(ctx context.Context, url string, series []models.PricePoint) error {
	key := SeriesKey(url)
	data, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("cache marshal series: %w", err)
	}
	return rc.client.Set(ctx, key, data, rc.ttl.PriceSeries).Err()
}

// Load, Save and Clear implement the history blob store: the whole
// recent-search list lives under one key without expiry.
func (rc *RedisCache) Load(ctx context.Context) ([]models.HistoryItem, error) {
	val, err := rc.client.Get(ctx, historyKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history load: %w", err)
	}
	var items []models.HistoryItem
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, fmt.Errorf("history unmarshal: %w", err)
	}
	return items, nil
}

func (rc *RedisCache) Save(ctx context.Context, items []models.HistoryItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("history marshal: %w", err)
	}
	return rc.client.Set(ctx, historyKey, data, 0).Err()
}

func (rc *RedisCache) Clear(ctx context.Context) error {
	return rc.client.Del(ctx, historyKey).Err()
}

func (rc *RedisCache) InvalidatePattern(ctx context.Context, patterns []string) error {
	for _, pattern := range patterns {
		iter := rc.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			rc.logger.Warn("cache scan error", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				rc.logger.Warn("cache delete error", zap.Strings("keys", keys), zap.Error(err))
			}
		}
	}
	return nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) getResponse(ctx context.Context, key string) (*models.CompareResponse, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	observability.CacheHits.Inc()
	var resp models.CompareResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	return &resp, nil
}

func (rc *RedisCache) setResponse(ctx context.Context, key string, resp *models.CompareResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return rc.client.Set(ctx, key, data, ttl).Err()
}

func (rc *RedisCache) buildCompareKey(req *models.CompareRequest) string {
	return fmt.Sprintf("cr:%s", hashString(canonicalRequest(req)))
}

func (rc *RedisCache) buildStaleKey(req *models.CompareRequest) string {
	// Stale keys live outside the cr: namespace so that invalidating
	// fresh results leaves the fallback tier intact.
	return fmt.Sprintf("st:%s", hashString(canonicalRequest(req)))
}

// canonicalRequest folds the input and every filter dimension into a
// single stable string so logically identical requests share a key.
func canonicalRequest(req *models.CompareRequest) string {
	f := req.Filter
	return fmt.Sprintf("%s|%s|%s|%g|%g|%s",
		req.Input, f.Origin, f.Store, f.MinPrice, f.MaxPrice, f.SortKey)
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
