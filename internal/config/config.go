package config

import (
	"log/slog"
	"time"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Watch        WatchConfig
	Connectivity ConnectivityConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port int
	// Token guards the HTTP API when set. Read from the environment only.
	Token string
}

type StorageConfig struct {
	DataDir      string
	LocalQuota   int
	SessionQuota int
}

type WatchConfig struct {
	PollInterval string
}

type ConnectivityConfig struct {
	// ProbeAddress is a host:port dialled to decide whether we are online.
	// Empty disables probing and the context is always online.
	ProbeAddress  string
	ProbeInterval string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			LocalQuota:   5 << 20,
			SessionQuota: 5 << 20,
		},
		Watch: WatchConfig{
			PollInterval: "250ms",
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: "10s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file and applies TABSTATE_*
// environment overrides.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// PollInterval returns the change-log poll interval, falling back to 250ms.
func (c Config) PollInterval() time.Duration {
	return parseDuration("watch.poll_interval", c.Watch.PollInterval, 250*time.Millisecond)
}

// ProbeInterval returns the connectivity probe interval, falling back to 10s.
func (c Config) ProbeInterval() time.Duration {
	return parseDuration("connectivity.probe_interval", c.Connectivity.ProbeInterval, 10*time.Second)
}

// LogLevel maps log.level onto a slog level.
func (c Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseDuration(key, raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return d
}
