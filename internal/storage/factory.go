package storage

import (
	"fmt"

	"chatgate/internal/models"

	"github.com/redis/go-redis/v9"
)

// Factory provides a centralized way to create counter stores based on configuration.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a counter store based on the provided configuration.
// Supported providers:
//   - memory: in-process counters (single instance, development, tests)
//   - redis: shared counters for every instance of the deployment
func (f *Factory) Create(config models.StoreConfig) (CounterStore, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	switch config.Type {
	case models.StoreTypeMemory:
		return NewMemoryStore(config.CleanupInterval), nil
	case models.StoreTypeRedis:
		return NewRedisStoreFromOptions(RedisOptions(config.Redis)), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported store types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StoreTypeMemory, models.StoreTypeRedis}
}

// ValidateConfig validates that a store configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StoreConfig) error {
	switch config.Type {
	case models.StoreTypeMemory:
		// Memory store requires no additional configuration
	case models.StoreTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("address is required for redis store")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", config.Type)
	}
	return nil
}

// RedisOptions converts the shared Redis settings into go-redis options.
func RedisOptions(cfg models.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
}
