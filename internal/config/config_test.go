package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error { m.strs[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }

func (m *mapBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

func writeTempConfig(t *testing.T, content map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	data, err := json.Marshal(content)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Storage.LocalQuota != 5<<20 {
		t.Errorf("Storage.LocalQuota = %d, want %d", cfg.Storage.LocalQuota, 5<<20)
	}
	if cfg.Watch.PollInterval != "250ms" {
		t.Errorf("Watch.PollInterval = %q, want 250ms", cfg.Watch.PollInterval)
	}
	if cfg.Connectivity.ProbeAddress != "" {
		t.Errorf("Connectivity.ProbeAddress = %q, want empty", cfg.Connectivity.ProbeAddress)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "tabstate") {
		t.Errorf("Storage.DataDir = %q, want a tabstate directory", cfg.Storage.DataDir)
	}
}

func TestBackendValues(t *testing.T) {
	b := newMapBackend()
	b.ints["server.port"] = 9000
	b.strs["storage.data_dir"] = "/tmp/tabstate-test"
	b.strs["server.token"] = "from-file"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/tabstate-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Server.Token != "" {
		t.Errorf("Server.Token = %q, secrets must not be read from the config file", cfg.Server.Token)
	}
}

func TestEnvOverride(t *testing.T) {
	b := newMapBackend()
	b.ints["server.port"] = 9000

	t.Setenv("TABSTATE_SERVER_PORT", "9100")
	t.Setenv("TABSTATE_SERVER_TOKEN", "env-token")
	t.Setenv("TABSTATE_LOG_LEVEL", "debug")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Server.Token != "env-token" {
		t.Errorf("Server.Token = %q, want env-token", cfg.Server.Token)
	}
	if cfg.LogLevel().String() != "DEBUG" {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel())
	}
}

func TestEnvOverrideBadInt(t *testing.T) {
	t.Setenv("TABSTATE_STORAGE_LOCAL_QUOTA", "lots")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.LocalQuota != 5<<20 {
		t.Errorf("Storage.LocalQuota = %d, want default", cfg.Storage.LocalQuota)
	}
}

func TestFileBackend(t *testing.T) {
	path := writeTempConfig(t, map[string]any{
		"server.port":           4200,
		"storage.session_quota": "1024",
		"watch.poll_interval":   "1s",
	})

	cfg, err := loadWith(openFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Storage.SessionQuota != 1024 {
		t.Errorf("Storage.SessionQuota = %d, want 1024", cfg.Storage.SessionQuota)
	}
	if cfg.PollInterval() != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval())
	}
}

func TestFileBackendBadInt(t *testing.T) {
	path := writeTempConfig(t, map[string]any{"server.port": 1.5})

	_, err := loadWith(openFileBackend(path))
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Fatalf("expected error naming server.port, got %v", err)
	}
}

func TestFileBackendPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	b := openFileBackend(path)

	if err := setKeyWith(b, "storage.local_quota", "2048"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}
	if err := setKeyWith(b, "log.level", "warn"); err != nil {
		t.Fatalf("setKeyWith: %v", err)
	}

	cfg, err := loadWith(openFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.LocalQuota != 2048 {
		t.Errorf("Storage.LocalQuota = %d, want 2048", cfg.Storage.LocalQuota)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestSetKeyErrors(t *testing.T) {
	b := newMapBackend()

	tests := []struct {
		key, value, want string
	}{
		{"server.token", "x", "TABSTATE_SERVER_TOKEN"},
		{"server.port", "high", "invalid integer"},
		{"no.such.key", "x", "unknown config key"},
	}
	for _, tt := range tests {
		err := setKeyWith(b, tt.key, tt.value)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("setKeyWith(%q) = %v, want error containing %q", tt.key, err, tt.want)
		}
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.Token = "hunter2"

	for _, ki := range ShowAll(cfg) {
		if ki.Key == "server.token" || ki.Value == "hunter2" {
			t.Fatalf("ShowAll leaked secret: %+v", ki)
		}
	}
	for _, k := range ValidKeys() {
		if k == "server.token" {
			t.Fatal("ValidKeys lists a secret")
		}
	}
	if len(ValidKeys()) != len(specs)-1 {
		t.Errorf("ValidKeys = %d keys, want %d", len(ValidKeys()), len(specs)-1)
	}
}

func TestDurationFallback(t *testing.T) {
	cfg := defaults()
	cfg.Watch.PollInterval = "soon"
	cfg.Connectivity.ProbeInterval = "-1s"

	if cfg.PollInterval() != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval())
	}
	if cfg.ProbeInterval() != 10*time.Second {
		t.Errorf("ProbeInterval = %v, want 10s", cfg.ProbeInterval())
	}
}
