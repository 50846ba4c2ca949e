package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"model-market-go/internal/metrics"
	"model-market-go/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PriceSource is the provider surface the cost calculator reads
type PriceSource interface {
	Name() string
	GetCostInfo(ctx context.Context, model string) (*models.ModelCostInfo, error)
	GetHardwareCosts(ctx context.Context) ([]models.HardwareCost, error)
}

// HardwareStore holds hardware price tables keyed by provider name
type HardwareStore interface {
	Get(ctx context.Context, provider string) ([]models.HardwareCost, bool, error)
	Set(ctx context.Context, provider string, costs []models.HardwareCost) error
	Delete(ctx context.Context, provider string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]models.HardwareCost
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]models.HardwareCost)}
}

func (m *MemoryStore) Get(_ context.Context, provider string) ([]models.HardwareCost, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	costs, ok := m.entries[provider]
	return costs, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, provider string, costs []models.HardwareCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[provider] = costs
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, provider)
	return nil
}

const redisKeyPrefix = "pricing:hardware:"

// RedisStore shares the price table between backend replicas
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redisUrl (redis://[:password@]host:port/db). A zero ttl never expires entries.
func NewRedisStore(ctx context.Context, redisUrl string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Get(ctx context.Context, provider string) ([]models.HardwareCost, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+provider).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read hardware costs: %w", err)
	}

	var costs []models.HardwareCost
	if err := json.Unmarshal(data, &costs); err != nil {
		return nil, false, fmt.Errorf("failed to decode hardware costs: %w", err)
	}
	return costs, true, nil
}

func (r *RedisStore) Set(ctx context.Context, provider string, costs []models.HardwareCost) error {
	data, err := json.Marshal(costs)
	if err != nil {
		return fmt.Errorf("failed to encode hardware costs: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+provider, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write hardware costs: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, provider string) error {
	return r.client.Del(ctx, redisKeyPrefix+provider).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// HardwareCostCache loads each provider's price table once and serves it until invalidated.
// Concurrent misses for the same provider share one load.
type HardwareCostCache struct {
	store HardwareStore
	group singleflight.Group
}

func NewHardwareCostCache(store HardwareStore) *HardwareCostCache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &HardwareCostCache{store: store}
}

func (c *HardwareCostCache) Get(ctx context.Context, source PriceSource) ([]models.HardwareCost, error) {
	provider := source.Name()

	costs, ok, err := c.store.Get(ctx, provider)
	if err != nil {
		// Read errors fall through to a reload
		zap.L().Warn("Hardware cost cache read failed", zap.String("provider", provider), zap.Error(err))
	} else if ok {
		metrics.HardwareCacheLookups.WithLabelValues("hit").Inc()
		return costs, nil
	}

	metrics.HardwareCacheLookups.WithLabelValues("miss").Inc()
	value, err, _ := c.group.Do(provider, func() (interface{}, error) {
		loaded, err := source.GetHardwareCosts(ctx)
		if err != nil {
			return nil, err
		}
		if len(loaded) == 0 {
			return loaded, nil
		}
		if err := c.store.Set(ctx, provider, loaded); err != nil {
			zap.L().Warn("Hardware cost cache write failed", zap.String("provider", provider), zap.Error(err))
		}
		zap.L().Info("Hardware costs loaded", zap.String("provider", provider), zap.Int("count", len(loaded)))
		return loaded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load hardware costs for %s: %w", provider, err)
	}
	return value.([]models.HardwareCost), nil
}

func (c *HardwareCostCache) Invalidate(ctx context.Context, provider string) error {
	c.group.Forget(provider)
	if err := c.store.Delete(ctx, provider); err != nil {
		return fmt.Errorf("failed to invalidate hardware costs for %s: %w", provider, err)
	}
	zap.L().Info("Hardware costs invalidated", zap.String("provider", provider))
	return nil
}
