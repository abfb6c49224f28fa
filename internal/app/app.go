// Package app assembles the catalog, cache and engine from configuration.
// Both the HTTP server and templatectl start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"followup-templates/internal/cache"
	"followup-templates/internal/catalog"
	"followup-templates/internal/config"
	"followup-templates/internal/database"
	"followup-templates/internal/engine"
	"followup-templates/internal/fallback"
	"followup-templates/internal/resolver"
)

const (
	BackendGorm     = "gorm"
	BackendDynamoDB = "dynamodb"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type App struct {
	DB       *gorm.DB
	Accessor catalog.Accessor
	Writer   catalog.Writer
	Fallback *fallback.Catalog
	Engine   *engine.Engine

	closers []func() error
	log     *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{log: log}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := a.initCatalog(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	a.Fallback = loadFallback(cfg.FallbackCatalogPath, log)

	store := a.initCacheStore(ctx, cfg)
	c := cache.New(store,
		cache.WithStaleAfter(cfg.CacheStaleAfter),
		cache.WithRefreshTimeout(cfg.CacheRefreshTimeout),
		cache.WithLogger(log.With("component", "cache")),
	)

	res := resolver.New(a.Accessor, a.Fallback, log.With("component", "resolver"))
	a.Engine = engine.NewEngine(res, c, log.With("component", "engine"))
	// engine first so background refreshes finish before stores close
	a.closers = append([]func() error{a.Engine.Close}, a.closers...)

	return a, nil
}

func (a *App) initCatalog(ctx context.Context, cfg *config.Config) error {
	switch cfg.CatalogBackend {
	case BackendGorm, "":
		acc := catalog.NewGormAccessor(a.DB)
		a.Accessor, a.Writer = acc, acc
	case BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		acc, err := catalog.NewDynamoAccessor(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
		if err != nil {
			return err
		}
		a.Accessor, a.Writer = acc, acc
	default:
		return fmt.Errorf("unknown catalog backend %q", cfg.CatalogBackend)
	}
	a.log.Info("template catalog ready", "backend", cfg.CatalogBackend)
	return nil
}

// initCacheStore falls back to the in-memory store when Redis is
// unreachable at startup.
func (a *App) initCacheStore(ctx context.Context, cfg *config.Config) cache.Store {
	if cfg.CacheBackend == CacheRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := client.Ping(pingCtx).Err()
		if err == nil {
			a.closers = append(a.closers, client.Close)
			a.log.Info("using redis resolution cache", "addr", cfg.RedisAddr)
			return cache.NewRedisStore(client, cfg.CacheEvictAfter, a.log.With("component", "cache"))
		}
		a.log.Warn("redis unavailable, using in-memory cache", "addr", cfg.RedisAddr, "error", err)
		client.Close()
	}
	return cache.NewMemoryStore(cfg.CacheEvictAfter, 0)
}

func loadFallback(path string, log *slog.Logger) *fallback.Catalog {
	if path == "" {
		return fallback.Default()
	}
	fb, err := fallback.LoadFile(path)
	if err != nil {
		log.Warn("using built-in fallback catalog", "path", path, "error", err)
		return fallback.Default()
	}
	log.Info("loaded fallback catalog", "path", path, "steps", fb.Len())
	return fb
}

// Close releases everything New opened, in reverse dependency order.
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
