package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TABSTATE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "TABSTATE_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TABSTATE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.local_quota", typ: kInt, env: "TABSTATE_STORAGE_LOCAL_QUOTA",
		apply:   func(cfg *Config, v any) { cfg.Storage.LocalQuota = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.LocalQuota },
	},
	{
		key: "storage.session_quota", typ: kInt, env: "TABSTATE_STORAGE_SESSION_QUOTA",
		apply:   func(cfg *Config, v any) { cfg.Storage.SessionQuota = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.SessionQuota },
	},
	{
		key: "watch.poll_interval", typ: kString, env: "TABSTATE_WATCH_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Watch.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Watch.PollInterval },
	},
	{
		key: "connectivity.probe_address", typ: kString, env: "TABSTATE_CONNECTIVITY_PROBE_ADDRESS",
		apply:   func(cfg *Config, v any) { cfg.Connectivity.ProbeAddress = v.(string) },
		extract: func(cfg Config) any { return cfg.Connectivity.ProbeAddress },
	},
	{
		key: "connectivity.probe_interval", typ: kString, env: "TABSTATE_CONNECTIVITY_PROBE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Connectivity.ProbeInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Connectivity.ProbeInterval },
	},
	{
		key: "log.level", typ: kString, env: "TABSTATE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
