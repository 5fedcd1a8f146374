package storecell

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/tabstate/internal/events"
	"github.com/kalambet/tabstate/internal/storage"
)

// flakyBackend wraps a Memory store and fails operations on demand.
type flakyBackend struct {
	*storage.Memory
	getErr error
	setErr error
}

func (f *flakyBackend) Get(key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	return f.Memory.Get(key)
}

func (f *flakyBackend) Set(key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Memory.Set(key, value)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// externalWrite simulates another context writing key and the resulting event.
func externalWrite(t *testing.T, store storage.Backend, bus *events.Bus, key, raw string) {
	t.Helper()
	if err := store.Set(key, raw); err != nil {
		t.Fatalf("external write: %v", err)
	}
	area := store.Handle()
	bus.DispatchStorage(storage.ChangeEvent{Key: &key, NewValue: &raw, Area: &area, Origin: "other"})
}

func TestThemeScenario(t *testing.T) {
	store := storage.NewMemory(storage.WithMemoryKind(storage.KindLocal))
	bus := events.NewBus()

	theme := NewDefault("theme", "light", store, bus, WithLogger(quietLogger()))
	defer theme.Close()

	if got := theme.Get(); got != "light" {
		t.Fatalf("initial Get() = %q, want light", got)
	}

	theme.Set("dark")
	if raw, _, _ := store.Get("theme"); raw != `"dark"` {
		t.Errorf("stored = %s, want \"dark\"", raw)
	}
	if got := theme.Get(); got != "dark" {
		t.Errorf("Get() after Set = %q, want dark", got)
	}

	externalWrite(t, store, bus, "theme", `"blue"`)
	if got := theme.Get(); got != "blue" {
		t.Errorf("Get() after reconcile = %q, want blue", got)
	}

	theme.Delete()
	if _, ok, _ := store.Get("theme"); ok {
		t.Error("key still stored after Delete")
	}
	if got := theme.Get(); got != "light" {
		t.Errorf("Get() after Delete = %q, want light", got)
	}
}

func TestSessionIDScenario(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()

	sid := NewOptional[string]("session-id", store, bus, WithLogger(quietLogger()))
	defer sid.Close()

	if _, ok := sid.Get(); ok {
		t.Fatal("expected absent value initially")
	}

	sid.Set("abc123")
	if v, ok := sid.Get(); !ok || v != "abc123" {
		t.Fatalf("Get() = %q, %v; want abc123, true", v, ok)
	}

	// Same key, but the event claims to come from a local store.
	key := "session-id"
	other := storage.Handle{Kind: storage.KindLocal, ID: "elsewhere"}
	store.Set(key, `"hijacked"`)
	bus.DispatchStorage(storage.ChangeEvent{Key: &key, Area: &other})

	if v, ok := sid.Get(); !ok || v != "abc123" {
		t.Errorf("Get() after foreign-area event = %q, %v; want abc123, true", v, ok)
	}
}

func TestSetRoundTrip(t *testing.T) {
	type prefs struct {
		Tags  []string
		Count int
	}
	store := storage.NewMemory()
	c := NewDefault("prefs", prefs{}, store, nil, WithLogger(quietLogger()))

	want := prefs{Tags: []string{"a", "b"}, Count: 3}
	c.Set(want)

	got := c.Get()
	if got.Count != 3 || len(got.Tags) != 2 || got.Tags[1] != "b" {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	fresh := NewDefault("prefs", prefs{}, store, nil, WithLogger(quietLogger()))
	if !c.Equal(fresh) {
		t.Errorf("a fresh cell over the same key should read the persisted value, got %+v", fresh.Get())
	}
}

func TestDeleteResets(t *testing.T) {
	store := storage.NewMemory()
	store.Set("n", "5")
	store.Set("s", `"x"`)

	a := NewDefault("n", 42, store, nil, WithLogger(quietLogger()))
	b := NewOptional[string]("s", store, nil, WithLogger(quietLogger()))

	a.Delete()
	b.Delete()

	if a.Get() != 42 {
		t.Errorf("default cell after Delete = %d, want 42", a.Get())
	}
	if _, ok := b.Get(); ok {
		t.Error("optional cell after Delete should be absent")
	}
	keys, _ := store.Keys()
	if len(keys) != 0 {
		t.Errorf("store still holds %v", keys)
	}

	// Deleting an absent key is fine.
	a.Delete()
	if a.Get() != 42 {
		t.Errorf("second Delete changed value to %d", a.Get())
	}
}

func TestConstructionDegradesSilently(t *testing.T) {
	store := storage.NewMemory()
	store.Set("count", "not-a-number")

	a := NewDefault("count", 7, store, nil, WithLogger(quietLogger()))
	if a.Get() != 7 {
		t.Errorf("default cell over garbage = %d, want 7", a.Get())
	}

	b := NewOptional[int]("count", store, nil, WithLogger(quietLogger()))
	if _, ok := b.Get(); ok {
		t.Error("optional cell over garbage should be absent")
	}

	broken := &flakyBackend{Memory: storage.NewMemory(), getErr: errors.New("unavailable")}
	c := NewDefault("k", "fallback", broken, nil, WithLogger(quietLogger()))
	if c.Get() != "fallback" {
		t.Errorf("default cell over failing backend = %q", c.Get())
	}
	d := NewOptional[string]("k", broken, nil, WithLogger(quietLogger()))
	if _, ok := d.Get(); ok {
		t.Error("optional cell over failing backend should be absent")
	}
}

func TestKeyIsolation(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()
	a := NewDefault("a", "init", store, bus, WithLogger(quietLogger()))
	defer a.Close()

	store.Set("a", `"changed-behind-our-back"`)
	externalWrite(t, store, bus, "b", `"whatever"`)

	if a.Get() != "init" {
		t.Errorf("event for key b altered cell a: %q", a.Get())
	}
}

func TestStoreKindIsolationLogsWarning(t *testing.T) {
	session := storage.NewMemory()
	local := storage.NewMemory(storage.WithMemoryKind(storage.KindLocal))
	bus := events.NewBus()
	logger, buf := captureLogger()

	c := NewOptional[string]("token", session, bus, WithLogger(logger))
	defer c.Close()

	externalWrite(t, local, bus, "token", `"local-token"`)
	session.Set("token", `"not-yet-reconciled"`)

	if _, ok := c.Get(); ok {
		t.Error("event from the local store must not be applied to a session cell")
	}
	if !strings.Contains(buf.String(), "storage event from another area ignored") {
		t.Errorf("expected attribution warning, log was:\n%s", buf.String())
	}

	key := "token"
	bus.DispatchStorage(storage.ChangeEvent{Key: &key})
	if _, ok := c.Get(); ok {
		t.Error("event without an area must be ignored")
	}
}

func TestReconcileRereadsBackend(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()
	c := NewDefault("k", 0, store, bus, WithLogger(quietLogger()))
	defer c.Close()

	store.Set("k", "10")
	key, payload := "k", "999"
	area := store.Handle()
	bus.DispatchStorage(storage.ChangeEvent{Key: &key, NewValue: &payload, Area: &area})

	if c.Get() != 10 {
		t.Errorf("Get() = %d, want 10 (backend value, not event payload)", c.Get())
	}

	// A corrupt value reconciles the same way construction does.
	store.Set("k", "{corrupt")
	bus.DispatchStorage(storage.ChangeEvent{Key: &key, Area: &area})
	if c.Get() != 0 {
		t.Errorf("Get() after corrupt value = %d, want default 0", c.Get())
	}
}

func TestFailedWriteIsNoop(t *testing.T) {
	backend := &flakyBackend{Memory: storage.NewMemory()}
	a := NewDefault("k", "d", backend, nil, WithLogger(quietLogger()))
	b := NewOptional[string]("k2", backend, nil, WithLogger(quietLogger()))
	a.Set("before")
	b.Set("before")

	notified := 0
	a.Subscribe(func(string) { notified++ })

	backend.setErr = storage.ErrQuotaExceeded
	a.Set("after")
	b.Set("after")

	if a.Get() != "before" {
		t.Errorf("default cell = %q after failed Set, want before", a.Get())
	}
	if v, _ := b.Get(); v != "before" {
		t.Errorf("optional cell = %q after failed Set, want before", v)
	}
	if notified != 0 {
		t.Errorf("failed Set notified subscribers %d times", notified)
	}
}

func TestUnencodableValueIsNoop(t *testing.T) {
	store := storage.NewMemory()
	c := NewDefault[any]("k", "start", store, nil, WithLogger(quietLogger()))
	c.Set(make(chan int))
	if c.Get() != "start" {
		t.Errorf("Get() = %v after unencodable Set", c.Get())
	}
}

func TestQuotaExceededIsNoop(t *testing.T) {
	store := storage.NewMemory(storage.WithMemoryQuota(16))
	c := NewOptional[string]("k", store, nil, WithLogger(quietLogger()))
	c.Set("ok")
	c.Set(strings.Repeat("x", 64))
	if v, ok := c.Get(); !ok || v != "ok" {
		t.Errorf("Get() = %q, %v; want ok, true", v, ok)
	}
}

func TestClearEventIgnoredByDefault(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()
	c := NewDefault("k", "d", store, bus, WithLogger(quietLogger()))
	defer c.Close()
	c.Set("v")

	store.Clear()
	area := store.Handle()
	bus.DispatchStorage(storage.ChangeEvent{Area: &area})

	if c.Get() != "v" {
		t.Errorf("clear event changed value to %q", c.Get())
	}
}

func TestResetOnClear(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()
	c := NewDefault("k", "d", store, bus, WithLogger(quietLogger()), WithResetOnClear())
	defer c.Close()
	c.Set("v")

	store.Clear()
	area := store.Handle()
	bus.DispatchStorage(storage.ChangeEvent{Area: &area})

	if c.Get() != "d" {
		t.Errorf("Get() = %q after clear, want default", c.Get())
	}
}

func TestReconcileAlwaysReplacesCell(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()
	c := NewDefault("k", "d", store, bus, WithLogger(quietLogger()))
	defer c.Close()
	c.Set("same")

	calls := 0
	c.Subscribe(func(string) { calls++ })
	externalWrite(t, store, bus, "k", `"same"`)

	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
}

func TestEqualitySuppression(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()
	c := NewDefault("k", "d", store, bus, WithLogger(quietLogger()), WithEqualitySuppression())
	defer c.Close()
	c.Set("same")

	calls := 0
	c.Subscribe(func(string) { calls++ })
	externalWrite(t, store, bus, "k", `"same"`)
	c.Set("same")

	if calls != 0 {
		t.Errorf("subscriber called %d times, want 0", calls)
	}
}

func TestCloseUnregistersListener(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()
	a := NewDefault("k", "d", store, bus, WithLogger(quietLogger()))
	b := NewOptional[string]("k", store, bus, WithLogger(quietLogger()))

	if n := bus.Len(events.Storage); n != 2 {
		t.Fatalf("registered listeners = %d, want 2", n)
	}
	a.Close()
	a.Close()
	b.Close()
	if n := bus.Len(events.Storage); n != 0 {
		t.Fatalf("registered listeners after Close = %d, want 0", n)
	}

	externalWrite(t, store, bus, "k", `"late"`)
	if a.Get() != "d" {
		t.Errorf("closed cell still reconciles: %q", a.Get())
	}
}

func TestEqual(t *testing.T) {
	store := storage.NewMemory()
	a := NewDefault("a", "x", store, nil, WithLogger(quietLogger()))
	b := NewDefault("b", "x", store, nil, WithLogger(quietLogger()))
	if !a.Equal(b) {
		t.Error("cells holding equal values should be equal")
	}
	b.Set("y")
	if a.Equal(b) {
		t.Error("cells holding different values should differ")
	}
	if a.Equal(nil) {
		t.Error("cell should not equal nil")
	}

	o1 := NewOptional[int]("o1", store, nil, WithLogger(quietLogger()))
	o2 := NewOptional[int]("o2", store, nil, WithLogger(quietLogger()))
	if !o1.Equal(o2) {
		t.Error("two absent cells should be equal")
	}
	o1.Set(0)
	if o1.Equal(o2) {
		t.Error("present zero must differ from absent")
	}
}

func TestSubscriberMayWriteBack(t *testing.T) {
	store := storage.NewMemory()
	c := NewDefault("k", 0, store, nil, WithLogger(quietLogger()))

	c.Subscribe(func(v int) {
		if v < 3 {
			c.Set(v + 1)
		}
	})
	c.Set(1)

	if c.Get() != 3 {
		t.Errorf("Get() = %d, want 3", c.Get())
	}
}

func TestCrossContextThroughSharedMemory(t *testing.T) {
	shared := storage.NewMemory()
	busA, busB := events.NewBus(), events.NewBus()
	viewA, viewB := shared.View("a"), shared.View("b")
	shared.Watch("a", busA.DispatchStorage)
	shared.Watch("b", busB.DispatchStorage)

	a := NewOptional[int]("counter", viewA, busA, WithLogger(quietLogger()))
	b := NewOptional[int]("counter", viewB, busB, WithLogger(quietLogger()))
	defer a.Close()
	defer b.Close()

	a.Set(5)
	shared.Sync()

	if v, ok := b.Get(); !ok || v != 5 {
		t.Errorf("context b = %d, %v; want 5, true", v, ok)
	}

	b.Delete()
	shared.Sync()
	if _, ok := a.Get(); ok {
		t.Error("context a should see the delete from b")
	}
}

func TestConcurrentWritesAndReconciles(t *testing.T) {
	store := storage.NewMemory()
	bus := events.NewBus()
	c := NewDefault("k", 0, store, bus, WithLogger(quietLogger()))
	defer c.Close()

	key := "k"
	area := store.Handle()
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(v int) {
			defer wg.Done()
			c.Set(v)
		}(i)
		go func() {
			defer wg.Done()
			bus.DispatchStorage(storage.ChangeEvent{Key: &key, Area: &area})
		}()
	}
	wg.Wait()

	stored, _, _ := storage.Load[int](store, storage.JSONCodec{}, "k")
	if c.Get() != stored {
		t.Errorf("cell = %d, store = %d; want them to agree", c.Get(), stored)
	}
}
