package cfgmng

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type loader struct {
	v        *viper.Viper
	optional bool
}

// Option customises how LoadConfig reads configuration.
type Option func(l *loader)

// WithEnvPrefix reads environment overrides as PREFIX_SECTION_KEY.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) {
		l.v.SetEnvPrefix(prefix)
	}
}

// WithDefaults seeds values used when neither the file nor the environment
// provide them. Keys use dotted paths, e.g. "redis.addr". Only keys known to
// viper through the file or defaults are overridable from the environment.
func WithDefaults(defaults map[string]any) Option {
	return func(l *loader) {
		for k, val := range defaults {
			l.v.SetDefault(k, val)
		}
	}
}

// Optional tolerates a missing config file.
func Optional() Option {
	return func(l *loader) {
		l.optional = true
	}
}

// LoadConfig reads path/filename.yaml into T. Environment variables override
// file values; nested keys use "_" in place of ".".
func LoadConfig[T any](path string, filename string, opts ...Option) (*T, error) {
	l := &loader{v: viper.New()}
	l.v.AddConfigPath(path)
	l.v.SetConfigName(filename)
	l.v.SetConfigType("yaml")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, opt := range opts {
		opt(l)
	}
	l.v.AutomaticEnv()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !l.optional || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg T
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
