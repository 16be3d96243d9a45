package connect

import (
	"time"

	"github.com/seb7887/sietch/cfgmng"
)

// Provider names registered by NewRegistry.
const (
	ProviderInternal  = "internal"
	ProviderCockroach = "cockroach"
	ProviderGorm      = "gorm"
	ProviderMongo     = "mongo"
	ProviderRedis     = "redis"
)

type Config struct {
	Provider  string          `mapstructure:"provider"`
	Cockroach CockroachConfig `mapstructure:"cockroach"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

type CockroachConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
	// AutoMigrate creates the model table when a repository is opened.
	AutoMigrate bool `mapstructure:"automigrate"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	DB       int           `mapstructure:"db"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Metrics adds prometheus collectors next to the zap logger.
	Metrics bool `mapstructure:"metrics"`
}

// Default returns a configuration using the in-memory provider.
func Default() Config {
	return Config{
		Provider:  ProviderInternal,
		Cockroach: CockroachConfig{DSN: "postgresql://root@localhost:26257/defaultdb?sslmode=disable"},
		SQLite:    SQLiteConfig{Path: "sietch.db", AutoMigrate: true},
		Mongo:     MongoConfig{URI: "mongodb://localhost:27017", Database: "sietch"},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Log:       LogConfig{Level: "info"},
	}
}

func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"provider":           d.Provider,
		"cockroach.dsn":      d.Cockroach.DSN,
		"sqlite.path":        d.SQLite.Path,
		"sqlite.automigrate": d.SQLite.AutoMigrate,
		"mongo.uri":          d.Mongo.URI,
		"mongo.database":     d.Mongo.Database,
		"redis.addr":         d.Redis.Addr,
		"redis.db":           d.Redis.DB,
		"redis.password":     d.Redis.Password,
		"redis.ttl":          d.Redis.TTL,
		"log.level":          d.Log.Level,
		"log.metrics":        d.Log.Metrics,
	}
}

// Load reads path/name.yaml over Default. The file is optional and every
// key can be overridden from the environment, e.g. SIETCH_REDIS_ADDR.
func Load(path, name string) (*Config, error) {
	return cfgmng.LoadConfig[Config](path, name,
		cfgmng.WithEnvPrefix("SIETCH"),
		cfgmng.WithDefaults(defaults()),
		cfgmng.Optional(),
	)
}
