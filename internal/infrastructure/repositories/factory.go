package repositories

import (
	"context"

	"voicemesh/internal/core/ports"
	"voicemesh/internal/infrastructure/repositories/memory"
	redisrepo "voicemesh/internal/infrastructure/repositories/redis"
	"voicemesh/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory selects repository backends: Redis when configured and reachable,
// in-memory otherwise.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	f := &Factory{useRedis: cfg.Redis.Enabled, logger: logger}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories", "error", err)
			f.useRedis = false
		} else {
			f.redisClient = client
		}
	}

	if f.useRedis {
		logger.Info("using Redis repositories")
	} else {
		logger.Info("using memory repositories")
	}
	return f
}

func (f *Factory) RoomRepository() ports.RoomRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRoomRepository(f.redisClient)
	}
	return memory.NewRoomRepository()
}

func (f *Factory) FlagRepository(defaultOn bool) ports.FlagRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewFlagRepository(f.redisClient, defaultOn)
	}
	return memory.NewFlagRepository(defaultOn)
}

// HealthCheck verifies the backing store is reachable. Memory repositories
// are always healthy.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

// Close releases the Redis client if one was opened.
func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
