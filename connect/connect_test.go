package connect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/seb7887/sietch"
	"github.com/seb7887/sietch/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Account = testutils.Account

func TestLoad_Defaults(t *testing.T) {
	// integration runs export these; empty values are ignored
	t.Setenv("SIETCH_MONGO_URI", "")
	t.Setenv("SIETCH_COCKROACH_DSN", "")

	cfg, err := Load(t.TempDir(), "sietch")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	body := "provider: gorm\nsqlite:\n  path: accounts.db\nredis:\n  addr: localhost:6379\n  ttl: 5m\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sietch.yaml"), []byte(body), 0o600))
	t.Setenv("SIETCH_REDIS_ADDR", "cache:6380")
	t.Setenv("SIETCH_MONGO_DATABASE", "ledger")

	cfg, err := Load(dir, "sietch")
	require.NoError(t, err)
	assert.Equal(t, ProviderGorm, cfg.Provider)
	assert.Equal(t, "accounts.db", cfg.SQLite.Path)
	assert.True(t, cfg.SQLite.AutoMigrate)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "ledger", cfg.Mongo.Database)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestOpen_UnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.Provider = "etcd"

	_, _, err := Open[Account](context.Background(), cfg)
	assert.ErrorIs(t, err, sietch.ErrProviderNotFound)
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Default()
	cfg.Provider = ProviderRedis
	cfg.Redis.Addr = mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := Open[Account](ctx, cfg)
	assert.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry(testutils.AccountModel(), Default())
	assert.Equal(t, []string{"cockroach", "gorm", "internal", "mongo", "redis"}, reg.Names())
}

func TestDial(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, cfg *Config)
	}{
		{"internal", func(*testing.T, *Config) {}},
		{"gorm", func(t *testing.T, cfg *Config) {
			cfg.Provider = ProviderGorm
			cfg.SQLite.Path = filepath.Join(t.TempDir(), "sietch.db")
		}},
		{"redis", func(t *testing.T, cfg *Config) {
			cfg.Provider = ProviderRedis
			cfg.Redis.Addr = miniredis.RunT(t).Addr()
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := Default()
			tc.setup(t, &cfg)

			client, err := Dial(ctx, cfg, testutils.AccountModel())
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close(ctx) })

			uow, err := client.UnitOfWork()
			require.NoError(t, err)
			err = sietch.WithTx(ctx, uow, func(r sietch.Repository[Account]) error {
				for _, a := range testutils.Accounts() {
					if _, err := r.Save(ctx, &a); err != nil {
						return err
					}
				}
				return nil
			})
			require.NoError(t, err)

			repo, err := client.Repository()
			require.NoError(t, err)
			got, err := repo.Filter(ctx, sietch.Where("active", true), sietch.Order("name"))
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "C", "E"}, testutils.Names(got))
		})
	}
}

func TestDial_InvalidModel(t *testing.T) {
	_, err := Dial(context.Background(), Default(), sietch.Model[Account]{})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	log, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))

	cfg.Log.Level = "loud"
	_, err = NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewQueryLogger(t *testing.T) {
	cfg := Default()
	ql, err := NewQueryLogger(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.IsType(t, &sietch.ZapLogger{}, ql)

	cfg.Log.Metrics = true
	reg := prometheus.NewRegistry()
	ql, err = NewQueryLogger(cfg, zap.NewNop(), reg)
	require.NoError(t, err)
	require.IsType(t, sietch.MultiLogger{}, ql)
	assert.Len(t, ql.(sietch.MultiLogger), 2)

	_, err = NewQueryLogger(cfg, zap.NewNop(), reg)
	assert.Error(t, err)
}
