package repositories

import (
	"context"

	"netqos/internal/core/ports"
	"netqos/internal/infrastructure/repositories/file"
	"netqos/internal/infrastructure/repositories/memory"
	redisrepo "netqos/internal/infrastructure/repositories/redis"
	"netqos/pkg/config"
	"netqos/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink is a persistence sink that can also serve recent ticks.
type Sink interface {
	ports.PersistenceSink
	ports.TickReader
}

// RepositoryFactory builds the configured persistence backend. A redis
// backend that cannot be reached falls back to the file backend.
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{cfg: cfg, logger: logger}

	if cfg.Persistence.Backend == "redis" {
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = 3
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Retry:    retryCfg,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to file persistence",
				"error", err,
			)
		} else {
			factory.redisClient = client
		}
	}

	return factory
}

// CreateSink returns the backend wrapped in a batching writer so sink
// latency never reaches the tick path.
func (f *RepositoryFactory) CreateSink() (Sink, error) {
	p := f.cfg.Persistence

	var inner Sink
	switch {
	case f.redisClient != nil:
		f.logger.Info("using Redis persistence")
		inner = redisrepo.NewSink(f.redisClient, p.StreamMaxLen)
	case p.Backend == "memory":
		f.logger.Info("using memory persistence")
		inner = memory.NewSink(f.cfg.Controller.DecisionHistory * 10)
	default:
		log, err := file.NewTickLog(p.CSVPath, p.SnapshotPath)
		if err != nil {
			return nil, err
		}
		f.logger.Infow("using file persistence", "csv", p.CSVPath, "snapshot", p.SnapshotPath)
		inner = log
	}

	return NewBatchedSink(inner, p.BatchSize, p.BatchInterval, f.logger), nil
}

// RedisClient returns the shared client, or nil when Redis is not in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}
