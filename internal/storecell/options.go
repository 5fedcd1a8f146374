package storecell

import (
	"log/slog"

	"github.com/kalambet/tabstate/internal/storage"
)

type config struct {
	codec         storage.Codec
	logger        *slog.Logger
	resetOnClear  bool
	suppressEqual bool
}

// Option configures a cell.
type Option func(*config)

// WithCodec replaces the JSON codec.
func WithCodec(c storage.Codec) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.codec = c
		}
	}
}

// WithLogger sets the logger used for trace records.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithResetOnClear makes the cell re-read its key when another context clears
// the whole store. By default such events are ignored.
func WithResetOnClear() Option {
	return func(cfg *config) { cfg.resetOnClear = true }
}

// WithEqualitySuppression skips subscriber notification when the new value is
// deeply equal to the old one.
func WithEqualitySuppression() Option {
	return func(cfg *config) { cfg.suppressEqual = true }
}

func newConfig(opts []Option) config {
	cfg := config{
		codec:  storage.JSONCodec{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
