// Package connect opens backend sessions from configuration and wires them
// to a registry holding every provider.
package connect

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/cockroach"
	"github.com/seb7887/sietch/gormsql"
	"github.com/seb7887/sietch/inmemory"
	"github.com/seb7887/sietch/mongo"
	"github.com/seb7887/sietch/redis"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// Closer releases a session returned by Open.
type Closer func(ctx context.Context) error

func noClose(context.Context) error { return nil }

// Open connects to the backend named by cfg.Provider and returns the session
// its provider expects. The in-memory session is typed by T.
func Open[T any](ctx context.Context, cfg Config) (any, Closer, error) {
	switch cfg.Provider {
	case ProviderInternal:
		return inmemory.NewSession[T](), noClose, nil

	case ProviderCockroach:
		pool, err := cockroach.NewPool(ctx, cfg.Cockroach.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open cockroach pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping cockroach: %w", err)
		}
		return pool, func(context.Context) error {
			pool.Close()
			return nil
		}, nil

	case ProviderGorm:
		db, err := gormsql.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, func(context.Context) error { return closeGorm(db) }, nil

	case ProviderMongo:
		client, err := mongo.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Disconnect, nil

	case ProviderRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return client, func(context.Context) error { return client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", sietch.ErrProviderNotFound, cfg.Provider)
}

func closeGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewLogger builds a zap logger writing JSON at the configured level.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// NewQueryLogger wraps log for repositories. When cfg.Log.Metrics is set the
// prometheus collectors are registered with reg and fed as well.
func NewQueryLogger(cfg Config, log *zap.Logger, reg prometheus.Registerer) (sietch.QueryLogger, error) {
	zl := sietch.NewZapLogger(log)
	if !cfg.Log.Metrics {
		return zl, nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics, err := sietch.NewMetricsLogger(reg)
	if err != nil {
		return nil, err
	}
	return sietch.MultiLogger{zl, metrics}, nil
}

// NewRegistry returns a registry holding every provider for model.
func NewRegistry[T any](model sietch.Model[T], cfg Config, opts ...sietch.Option) *sietch.Registry[T] {
	reg := sietch.NewRegistry[T]()
	reg.Register(ProviderInternal, inmemory.Provider(model, opts...))
	reg.Register(ProviderCockroach, cockroach.Provider(model, opts...))
	reg.Register(ProviderGorm, gormsql.Provider(model, opts...))
	reg.Register(ProviderMongo, mongo.Provider(model, cfg.Mongo.Database, opts...))
	reg.Register(ProviderRedis, redis.Provider(model, cfg.Redis.TTL, opts...))
	return reg
}

// Client bundles an open session with the registry built for it.
type Client[T any] struct {
	cfg      Config
	session  any
	registry *sietch.Registry[T]
	close    Closer
}

// Dial opens the configured backend and prepares its registry. With the gorm
// provider and sqlite.automigrate set, the model table is migrated first.
func Dial[T any](ctx context.Context, cfg Config, model sietch.Model[T], opts ...sietch.Option) (*Client[T], error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	session, closer, err := Open[T](ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db, ok := session.(*gorm.DB); ok && cfg.SQLite.AutoMigrate {
		if err := gormsql.Migrate(ctx, db, model); err != nil {
			_ = closer(ctx)
			return nil, fmt.Errorf("failed to migrate %s: %w", model.Name, err)
		}
	}
	return &Client[T]{
		cfg:      cfg,
		session:  session,
		registry: NewRegistry(model, cfg, opts...),
		close:    closer,
	}, nil
}

func (c *Client[T]) Session() any { return c.session }

func (c *Client[T]) Registry() *sietch.Registry[T] { return c.registry }

// Repository opens a repository of the configured provider.
func (c *Client[T]) Repository() (sietch.Repository[T], error) {
	return c.registry.CreateRepository(c.cfg.Provider, c.session)
}

// UnitOfWork opens a unit of work of the configured provider.
func (c *Client[T]) UnitOfWork() (sietch.UnitOfWork[T], error) {
	return c.registry.CreateUnitOfWork(c.cfg.Provider, c.session)
}

func (c *Client[T]) Close(ctx context.Context) error {
	return c.close(ctx)
}
