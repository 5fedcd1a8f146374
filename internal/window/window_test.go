package window

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/tabstate/internal/config"
	"github.com/kalambet/tabstate/internal/connectivity"
	"github.com/kalambet/tabstate/internal/storage"
	"github.com/kalambet/tabstate/internal/storecell"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, dataDir string) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Storage.DataDir = dataDir
	cfg.Watch.PollInterval = "10ms"
	cfg.Connectivity.ProbeInterval = "10ms"
	return cfg
}

func openWindow(t *testing.T, cfg config.Config, opts ...Option) *Window {
	t.Helper()
	w, err := Open(cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func runWindow(t *testing.T, w *Window) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLocalCellFollowsOtherWindow(t *testing.T) {
	dir := t.TempDir()
	a := openWindow(t, testConfig(t, dir))
	b := openWindow(t, testConfig(t, dir))
	runWindow(t, b)

	if a.Local().Handle() != b.Local().Handle() {
		t.Fatalf("handles differ: %v vs %v", a.Local().Handle(), b.Local().Handle())
	}

	theme := LocalCell(b, "theme", "light", storecell.WithLogger(quietLogger()))
	defer theme.Close()

	writer := LocalCell(a, "theme", "light", storecell.WithLogger(quietLogger()))
	defer writer.Close()
	writer.Set("dark")

	eventually(t, "theme=dark in second window", func() bool { return theme.Get() == "dark" })

	writer.Delete()
	eventually(t, "theme reset in second window", func() bool { return theme.Get() == "light" })
}

func TestOwnWritesDoNotRoundTrip(t *testing.T) {
	w := openWindow(t, testConfig(t, t.TempDir()))

	var reconciles atomic.Int32
	c := LocalCell(w, "n", 0, storecell.WithLogger(quietLogger()))
	defer c.Close()
	c.Subscribe(func(int) { reconciles.Add(1) })

	c.Set(1)
	if got := reconciles.Load(); got != 1 {
		t.Fatalf("notifications after Set = %d, want 1", got)
	}

	ctx := context.Background()
	n, err := w.poller.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("RunOnce read %d rows, want 1", n)
	}
	if got := reconciles.Load(); got != 1 {
		t.Fatalf("own write was delivered back: %d notifications", got)
	}
}

func TestSharedSessionStore(t *testing.T) {
	mem := storage.NewMemory()
	defer mem.Close()

	a := openWindow(t, testConfig(t, t.TempDir()), WithSharedSession(mem))
	b := openWindow(t, testConfig(t, t.TempDir()), WithSharedSession(mem))

	sid := SessionCell[string](b, "session-id", storecell.WithLogger(quietLogger()))
	defer sid.Close()
	if _, ok := sid.Get(); ok {
		t.Fatal("expected absent session-id")
	}

	writer := SessionCell[string](a, "session-id", storecell.WithLogger(quietLogger()))
	defer writer.Close()
	writer.Set("abc")
	mem.Sync()

	if v, ok := sid.Get(); !ok || v != "abc" {
		t.Fatalf("sid = (%q, %v), want (abc, true)", v, ok)
	}

	// Closing a window leaves a shared session store usable.
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Session().Set("other", "1"); err != nil {
		t.Fatalf("shared store closed with window: %v", err)
	}
}

func TestPrivateSessionStoresAreIsolated(t *testing.T) {
	dir := t.TempDir()
	a := openWindow(t, testConfig(t, dir))
	b := openWindow(t, testConfig(t, dir))

	if a.Session().Handle() == b.Session().Handle() {
		t.Fatal("private session stores share a handle")
	}
	if err := a.Session().Set("k", `"v"`); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Session().Get("k"); ok {
		t.Fatal("session value leaked between windows")
	}
}

func TestConnectivityTransitions(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	prober := connectivity.ProberFunc(func(context.Context) bool { return up.Load() })

	w := openWindow(t, testConfig(t, t.TempDir()), WithProber(prober))
	if !w.Connectivity().Online() {
		t.Fatal("expected online at open")
	}
	runWindow(t, w)

	up.Store(false)
	eventually(t, "offline", func() bool { return !w.Connectivity().Online() })

	up.Store(true)
	eventually(t, "online", func() bool { return w.Connectivity().Online() })
}

func TestOpenStartsOffline(t *testing.T) {
	w := openWindow(t, testConfig(t, t.TempDir()), WithProber(connectivity.Always(false)))
	if w.Connectivity().Online() {
		t.Fatal("expected offline at open")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := Open(testConfig(t, t.TempDir()), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
