package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/mvola-gateway/internal/cache"
	"github.com/jmehdipour/mvola-gateway/internal/config"
	"github.com/jmehdipour/mvola-gateway/internal/db"
	"github.com/jmehdipour/mvola-gateway/internal/kafka"
	"github.com/jmehdipour/mvola-gateway/internal/logger"
	"github.com/jmehdipour/mvola-gateway/internal/mvola"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// runtime holds the process-wide handles built from Config.
type runtime struct {
	cfg    config.Config
	log    *zap.Logger
	redis  *redis.Client
	audit  *kafka.AuditProducer
	client *mvola.Client
}

func buildRuntime(ctx context.Context, path string) (*runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	rt := &runtime{cfg: cfg, log: log}

	rt.redis, err = db.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	opts := []mvola.Option{}
	if cfg.TokenCache.Enabled {
		if rt.redis == nil {
			rt.close()
			return nil, errors.New("token_cache.enabled requires redis.addr")
		}
		opts = append(opts, mvola.WithTokenCache(cache.NewRedisTokenCache(rt.redis, cfg.TokenCache.Key), cfg.TokenCache.Skew))
	}
	if len(cfg.Audit.Brokers) > 0 {
		rt.audit = kafka.NewAuditProducer(kafka.Config{
			Brokers:      cfg.Audit.Brokers,
			Topic:        cfg.Audit.Topic,
			BatchTimeout: cfg.Audit.BatchTimeout,
		}, log)
		opts = append(opts, mvola.WithAuditPublisher(rt.audit))
	}

	rt.client, err = mvola.NewClient(cfg.MVola, log, opts...)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("mvola client: %w", err)
	}

	return rt, nil
}

func (rt *runtime) close() {
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			rt.log.Warn("close audit producer", zap.Error(err))
		}
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	_ = rt.log.Sync()
}
