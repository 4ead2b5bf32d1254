package config

import "context"

type configKey struct{}

// WithConfig attaches cfg to the context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config attached to ctx. Without one, the defaults are loaded from the environment.
func FromContext(ctx context.Context) (*Config, error) {
	if cfg, ok := ctx.Value(configKey{}).(*Config); ok {
		return cfg, nil
	}

	return Load()
}
