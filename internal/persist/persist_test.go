package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/maruel/fsrecord/internal/codec"
	"github.com/maruel/fsrecord/internal/history"
	"github.com/maruel/fsrecord/internal/query"
	"github.com/maruel/fsrecord/internal/store"
	"golang.org/x/time/rate"
)

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type note struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (n note) Context() store.Context { return store.String(n.ID) }

func newManager(t *testing.T, root string) *Manager {
	t.Helper()
	m, err := New(Config{Root: root, ReloadLimit: rate.Inf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return m
}

// waitFor polls cond until it holds. It does not call Manager.Sync so it can
// be used while reads are gated.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func pathOfUser(t *testing.T, m *Manager, c store.Context) string {
	t.Helper()
	p, err := m.Layout().Path(store.TypeName[user](), c)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// fakeBackend wraps a real store with counters, gates and injected errors.
type fakeBackend[T any] struct {
	Backend[T]

	mu        sync.Mutex
	reads     int
	readGates map[string]chan struct{}
	writeGate chan struct{}
	readErr   error
	writeErr  error
}

func newFake[T any](m *Manager) *fakeBackend[T] {
	return &fakeBackend[T]{Backend: backendFor[T](m), readGates: map[string]chan struct{}{}}
}

// Read takes the content of the file before waiting on the gate, so a gated
// read returns what the file held when it started. reads counts it once the
// content is taken.
func (f *fakeBackend[T]) Read(path string) (T, error) {
	v, err := f.Backend.Read(path)
	f.mu.Lock()
	f.reads++
	g := f.readGates[path]
	if f.readErr != nil {
		var zero T
		v, err = zero, f.readErr
	}
	f.mu.Unlock()
	if g != nil {
		<-g
	}
	return v, err
}

func (f *fakeBackend[T]) Write(ctx context.Context, path string, v T) error {
	f.mu.Lock()
	g, err := f.writeGate, f.writeErr
	f.mu.Unlock()
	if g != nil {
		<-g
	}
	if err != nil {
		return err
	}
	return f.Backend.Write(ctx, path, v)
}

func (f *fakeBackend[T]) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeBackend[T]) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func TestObjectRoundTrip(t *testing.T) {
	root := t.TempDir()
	m := newManager(t, root)
	o := NewObject(m, user{}, nil)
	defer o.Close()

	if err := o.SetContext(store.Int(1)); err != nil {
		t.Fatalf("SetContext() error = %v", err)
	}
	m.Sync()
	if err := o.ReadError(); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ReadError() = %v, want ErrNotFound", err)
	}
	if got := o.State(); got.Kind != Placeholder {
		t.Errorf("State() = %v, want placeholder", got)
	}

	want := user{Name: "Ada", Age: 36}
	o.SetValue(want)
	if got := o.State(); got.Kind != PendingChanges || got.Token.IsZero() {
		t.Errorf("State() = %v, want pending with a token", got)
	}
	o.Save(false)
	waitFor(t, "save", func() bool { return o.State().Kind == Unmodified })
	if err := o.WriteError(); err != nil {
		t.Errorf("WriteError() = %v", err)
	}

	got, err := Load[user](m, store.Int(1))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}

	t.Run("fresh manager", func(t *testing.T) {
		m2 := newManager(t, root)
		o2 := NewObject(m2, user{}, nil)
		defer o2.Close()
		if err := o2.Load(store.Int(1), false); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "load", func() bool { return o2.State().Kind == Unmodified })
		if got := o2.Value(); got != want {
			t.Errorf("Value() = %+v, want %+v", got, want)
		}
		if !store.Equal(o2.Context(), store.Int(1)) {
			t.Errorf("Context() = %v", o2.Context())
		}
	})
}

func TestObjectDedup(t *testing.T) {
	m := newManager(t, t.TempDir())
	if err := Save(t.Context(), m, store.Int(1), user{Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	fb := newFake[user](m)
	a := NewObject[user](m, user{}, fb)
	defer a.Close()
	if err := a.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "load", func() bool { return a.State().Kind == Unmodified })

	b := NewObject[user](m, user{}, fb)
	defer b.Close()
	if err := b.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	if got := b.State(); got.Kind != Unmodified {
		t.Errorf("State() = %v, want unmodified", got)
	}
	if got := b.Value(); got.Name != "Ada" {
		t.Errorf("Value() = %+v", got)
	}
	if n := fb.readCount(); n != 1 {
		t.Errorf("reads = %d, want 1", n)
	}

	c, cancel := b.Subscribe()
	defer cancel()
	a.SetValue(user{Name: "Grace"})
	if got := b.Value(); got.Name != "Grace" {
		t.Errorf("shared Value() = %+v, want Grace", got)
	}
	select {
	case <-c:
	case <-time.After(5 * time.Second):
		t.Error("observer of the shared value was not notified")
	}
	runtime.KeepAlive(a)
}

func TestSaveRecency(t *testing.T) {
	m := newManager(t, t.TempDir())
	fb := newFake[user](m)
	o := NewObject[user](m, user{}, fb)
	defer o.Close()
	if err := o.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	m.Sync()

	gate := make(chan struct{})
	fb.set(func() { fb.writeGate = gate })
	o.SetValue(user{Name: "first"})
	o.Save(false)
	o.SetValue(user{Name: "second"})
	second := o.State().Token
	close(gate)
	m.Sync()

	if got := o.State(); got.Kind != PendingChanges || got.Token != second {
		t.Errorf("State() = %v, want pending(%v)", got, second)
	}
	if got := o.Value(); got.Name != "second" {
		t.Errorf("Value() = %+v, want second", got)
	}
	onDisk, err := Load[user](m, store.Int(1))
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.Name != "first" {
		t.Errorf("file = %+v, want first", onDisk)
	}

	fb.set(func() { fb.writeGate = nil })
	o.Save(false)
	waitFor(t, "second save", func() bool { return o.State().Kind == Unmodified })
}

func TestWatchReload(t *testing.T) {
	m := newManager(t, t.TempDir())
	if err := Save(t.Context(), m, store.Int(1), user{Name: "before"}); err != nil {
		t.Fatal(err)
	}
	fb := newFake[user](m)
	o := NewObject[user](m, user{}, fb)
	defer o.Close()
	if err := o.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "load", func() bool { return o.State().Kind == Unmodified })
	c, cancel := o.Subscribe()
	defer cancel()

	// Another process writes the file.
	other := store.New[user](codec.JSON)
	if err := other.Write(t.Context(), pathOfUser(t, m, store.Int(1)), user{Name: "after"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reload", func() bool { return o.Value().Name == "after" })
	select {
	case <-c:
	default:
		t.Error("reload did not notify")
	}
	if got := o.State(); got.Kind != Unmodified {
		t.Errorf("State() = %v, want unmodified", got)
	}

	t.Run("pending edit kept", func(t *testing.T) {
		o.SetValue(user{Name: "local"})
		before := fb.readCount()
		if err := other.Write(t.Context(), pathOfUser(t, m, store.Int(1)), user{Name: "remote"}); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "reload after the remote write", func() bool { return fb.readCount() > before })
		m.Sync()
		if got := o.Value(); got.Name != "local" {
			t.Errorf("Value() = %+v, want local", got)
		}
		if err := o.Load(nil, true); err != nil {
			t.Fatal(err)
		}
		m.Sync()
		if got := o.Value(); got.Name != "remote" {
			t.Errorf("forced Value() = %+v, want remote", got)
		}
		if got := o.State(); got.Kind != Unmodified {
			t.Errorf("State() = %v, want unmodified", got)
		}
	})
}

func TestReadOlderThanSave(t *testing.T) {
	m := newManager(t, t.TempDir())
	if err := Save(t.Context(), m, store.Int(1), user{Name: "stale"}); err != nil {
		t.Fatal(err)
	}
	fb := newFake[user](m)
	gate := make(chan struct{})
	fb.set(func() { fb.readGates[pathOfUser(t, m, store.Int(1))] = gate })
	o := NewObject[user](m, user{}, fb)
	defer o.Close()
	if err := o.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first read", func() bool { return fb.readCount() == 1 })

	o.SetValue(user{Name: "fresh"})
	o.Save(false)
	waitFor(t, "save", func() bool { return o.State().Kind == Unmodified })
	close(gate)
	m.Sync()

	if got := o.Value(); got.Name != "fresh" {
		t.Errorf("Value() = %+v, want fresh", got)
	}
	if got := o.State(); got.Kind != Unmodified {
		t.Errorf("State() = %v, want unmodified", got)
	}
	if err := o.ReadError(); err != nil {
		t.Errorf("ReadError() = %v", err)
	}
}

func TestSharedPendingEdit(t *testing.T) {
	m := newManager(t, t.TempDir())
	if err := Save(t.Context(), m, store.Int(1), user{Name: "disk"}); err != nil {
		t.Fatal(err)
	}
	fb := newFake[user](m)
	a := NewObject[user](m, user{}, fb)
	defer a.Close()
	if err := a.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "load", func() bool { return a.State().Kind == Unmodified })
	b := NewObject[user](m, user{}, fb)
	defer b.Close()
	if err := b.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}

	a.SetValue(user{Name: "local"})
	token := a.State().Token
	if err := b.Load(nil, false); err != nil {
		t.Fatal(err)
	}
	m.Sync()
	if got := a.Value(); got.Name != "local" {
		t.Errorf("Value() = %+v, want local", got)
	}
	if got := a.State(); got.Kind != PendingChanges || got.Token != token {
		t.Errorf("State() = %v, want pending(%v)", got, token)
	}
	if got := b.State(); got != a.State() {
		t.Errorf("co-observer State() = %v, want %v", got, a.State())
	}

	c := NewObject[user](m, user{}, fb)
	defer c.Close()
	if err := c.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got.Kind != PendingChanges || got.Token != token {
		t.Errorf("adopted State() = %v, want pending(%v)", got, token)
	}
	if got := c.Value(); got.Name != "local" {
		t.Errorf("adopted Value() = %+v, want local", got)
	}

	a.Save(false)
	waitFor(t, "save", func() bool {
		return a.State().Kind == Unmodified && b.State().Kind == Unmodified && c.State().Kind == Unmodified
	})
	if got, err := Load[user](m, store.Int(1)); err != nil || got.Name != "local" {
		t.Errorf("file = %+v, %v, want local", got, err)
	}
}

func TestSharedFirstRead(t *testing.T) {
	m := newManager(t, t.TempDir())
	if err := Save(t.Context(), m, store.Int(1), user{Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	fb := newFake[user](m)
	gate := make(chan struct{})
	fb.set(func() { fb.readGates[pathOfUser(t, m, store.Int(1))] = gate })
	a := NewObject[user](m, user{}, fb)
	defer a.Close()
	b := NewObject[user](m, user{}, fb)
	defer b.Close()
	if err := a.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	if err := b.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	if !b.Loading() {
		t.Error("second observer is not waiting for the first read")
	}
	close(gate)
	m.Sync()

	if n := fb.readCount(); n != 1 {
		t.Errorf("reads = %d, want 1", n)
	}
	for _, o := range []*Object[user]{a, b} {
		if got := o.State(); got.Kind != Unmodified {
			t.Errorf("State() = %v, want unmodified", got)
		}
		if got := o.Value(); got.Name != "Ada" {
			t.Errorf("Value() = %+v, want Ada", got)
		}
	}
}

func TestContextSwitchRace(t *testing.T) {
	m := newManager(t, t.TempDir())
	ctx := t.Context()
	if err := Save(ctx, m, store.Int(1), user{Name: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := Save(ctx, m, store.Int(2), user{Name: "two"}); err != nil {
		t.Fatal(err)
	}
	fb := newFake[user](m)
	gate := make(chan struct{})
	fb.set(func() { fb.readGates[pathOfUser(t, m, store.Int(1))] = gate })

	o := NewObject[user](m, user{}, fb)
	defer o.Close()
	if err := o.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	if err := o.SetContext(store.Int(2)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second context", func() bool { return o.State().Kind == Unmodified })
	close(gate)
	m.Sync()

	if got := o.Value(); got.Name != "two" {
		t.Errorf("Value() = %+v, want two", got)
	}
	if !store.Equal(o.Context(), store.Int(2)) {
		t.Errorf("Context() = %v, want 2", o.Context())
	}
}

func TestSetContextNil(t *testing.T) {
	m := newManager(t, t.TempDir())
	if err := Save(t.Context(), m, store.Int(1), user{Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	placeholder := user{Name: "nobody"}
	o := NewObject(m, placeholder, nil)
	defer o.Close()
	if err := o.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "load", func() bool { return o.State().Kind == Unmodified })
	if err := o.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	if o.Loading() {
		t.Error("setting the same context started a read")
	}

	if err := o.SetContext(nil); err != nil {
		t.Fatal(err)
	}
	if o.Context() != nil || o.Path() != "" {
		t.Errorf("Context() = %v, Path() = %q after detach", o.Context(), o.Path())
	}
	if got := o.Value(); got != placeholder {
		t.Errorf("Value() = %+v, want placeholder", got)
	}
	if got := o.State(); got.Kind != Placeholder {
		t.Errorf("State() = %v, want placeholder", got)
	}
	o.SetValue(user{Name: "detached"})
	o.Save(true)
	m.Sync()
	if got, _ := Load[user](m, store.Int(1)); got.Name != "Ada" {
		t.Errorf("detached save wrote %+v", got)
	}

	if err := o.SetContext(store.String("../x")); !errors.Is(err, store.ErrInvalidKey) {
		t.Errorf("SetContext() error = %v, want ErrInvalidKey", err)
	}
}

func TestStickyErrors(t *testing.T) {
	m := newManager(t, t.TempDir())
	if err := Save(t.Context(), m, store.Int(1), user{Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	fb := newFake[user](m)
	boom := errors.New("disk on fire")
	fb.set(func() { fb.readErr = boom })
	o := NewObject[user](m, user{}, fb)
	defer o.Close()
	if err := o.SetContext(store.Int(1)); err != nil {
		t.Fatal(err)
	}
	m.Sync()
	if err := o.ReadError(); !errors.Is(err, boom) {
		t.Errorf("ReadError() = %v, want %v", err, boom)
	}
	if got := o.State(); got.Kind != Placeholder {
		t.Errorf("State() = %v, want placeholder", got)
	}
	fb.set(func() { fb.readErr = nil })
	if err := o.Load(nil, false); err != nil {
		t.Fatal(err)
	}
	m.Sync()
	if err := o.ReadError(); err != nil {
		t.Errorf("ReadError() = %v after a successful read", err)
	}

	fb.set(func() { fb.writeErr = boom })
	o.SetValue(user{Name: "Grace"})
	o.Save(false)
	m.Sync()
	if err := o.WriteError(); !errors.Is(err, boom) {
		t.Errorf("WriteError() = %v, want %v", err, boom)
	}
	if got := o.State(); got.Kind != PendingChanges {
		t.Errorf("State() = %v, want pending", got)
	}
	fb.set(func() { fb.writeErr = nil })
	o.Save(false)
	waitFor(t, "save", func() bool { return o.State().Kind == Unmodified })
	if err := o.WriteError(); err != nil {
		t.Errorf("WriteError() = %v after a successful write", err)
	}
}

func TestQuery(t *testing.T) {
	m := newManager(t, t.TempDir())
	ctx := t.Context()
	for i := range 5 {
		if err := Save(ctx, m, store.Int(i), user{Name: "u", Age: i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(pathOfUser(t, m, store.Int(3)), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	q, err := NewQuery[user](m, query.All(), nil)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	defer q.Close()
	waitFor(t, "query", func() bool { return q.State().Kind == Unmodified })
	if got, want := q.Keys(), []string{"0", "1", "2", "4"}; !slices.Equal(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if n := len(q.Values()); n != 4 {
		t.Errorf("len(Values()) = %d, want 4", n)
	}
	if err := q.ReadError(); err != nil {
		t.Errorf("ReadError() = %v", err)
	}

	t.Run("reload on change", func(t *testing.T) {
		if err := Save(ctx, m, store.Int(9), user{Name: "new", Age: 9}); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "reload", func() bool { return len(q.Values()) == 5 })
		if err := Delete[user](ctx, m, store.Int(0)); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "reload after delete", func() bool { return len(q.Values()) == 4 })
	})

	t.Run("expr", func(t *testing.T) {
		evens, err := query.Expr("int(key) % 2 == 0")
		if err != nil {
			t.Fatal(err)
		}
		q.SetQuery(evens)
		m.Sync()
		if got, want := q.Keys(), []string{"2", "4"}; !slices.Equal(got, want) {
			t.Errorf("Keys() = %v, want %v", got, want)
		}
		if q.Query() != evens {
			t.Error("Query() did not return the current query")
		}
	})

	t.Run("nil query", func(t *testing.T) {
		q.SetQuery(nil)
		m.Sync()
		if got := q.State(); got.Kind != Placeholder {
			t.Errorf("State() = %v, want placeholder", got)
		}
		if len(q.Values()) != 0 {
			t.Errorf("Values() = %v, want empty", q.Values())
		}
	})
}

func TestQuerySharesWatch(t *testing.T) {
	m := newManager(t, t.TempDir())
	a, err := NewQuery[user](m, query.All(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewQuery[user](m, query.Keys("1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if a.watch != b.watch {
		t.Error("queries of the same type must share the directory watch")
	}
	if n := m.watcher.Watched(); n != 1 {
		t.Errorf("Watched() = %d, want 1", n)
	}
	m.Sync()
	if got := a.State(); got.Kind != Unmodified || len(a.Values()) != 0 {
		t.Errorf("empty directory: State() = %v, Values() = %v", got, a.Values())
	}

	a.Close()
	if n := m.watcher.Watched(); n != 1 {
		t.Errorf("after one Close: Watched() = %d, want 1", n)
	}
	b.Close()
	if n := m.watcher.Watched(); n != 0 {
		t.Errorf("after the last Close: Watched() = %d, want 0", n)
	}

	c, err := NewQuery[user](m, query.All(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if n := m.watcher.Watched(); n != 1 {
		t.Errorf("reopened: Watched() = %d, want 1", n)
	}
	if err := Save(t.Context(), m, store.Int(1), user{Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reopened query sees the new record", func() bool { return len(c.Values()) == 1 })
}

func TestQueryReadError(t *testing.T) {
	m := newManager(t, t.TempDir())
	fb := newFake[user](m)
	boom := errors.New("disk on fire")
	if err := Save(t.Context(), m, store.Int(1), user{Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	fb.set(func() { fb.readErr = boom })
	q, err := NewQuery[user](m, query.All(), fb)
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()
	m.Sync()
	if err := q.ReadError(); !errors.Is(err, boom) {
		t.Errorf("ReadError() = %v, want %v", err, boom)
	}
	if got := q.State(); got.Kind != Placeholder {
		t.Errorf("State() = %v, want placeholder", got)
	}
	fb.set(func() { fb.readErr = nil })
	q.Reload()
	m.Sync()
	if err := q.ReadError(); err != nil {
		t.Errorf("ReadError() = %v", err)
	}
	if got := q.Values(); len(got) != 1 || got[0].Name != "Ada" {
		t.Errorf("Values() = %+v", got)
	}
}

func TestDirect(t *testing.T) {
	root := t.TempDir()
	repo, err := history.Open(root, "test", "test@example.com")
	if err != nil {
		t.Fatal(err)
	}
	m, err := New(Config{Root: root, Codec: codec.YAML, History: repo})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			t.Error(err)
		}
	}()
	ctx := t.Context()

	n := note{ID: "todo", Text: "buy milk"}
	if err := SaveKeyed(ctx, m, n); err != nil {
		t.Fatalf("SaveKeyed() error = %v", err)
	}
	path := filepath.Join(root, "db", "note", "todo.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("record not at %s: %v", path, err)
	}
	got, err := Load[note](m, store.String("todo"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != n {
		t.Errorf("Load() = %+v, want %+v", got, n)
	}
	keys, values, err := List[note](m, nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !slices.Equal(keys, []string{"todo"}) || len(values) != 1 {
		t.Errorf("List() = %v, %v", keys, values)
	}
	if err := Delete[note](ctx, m, store.String("todo")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := Load[note](m, store.String("todo")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Load() after Delete error = %v, want ErrNotFound", err)
	}
	commits, err := repo.Log(ctx, path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Errorf("history has %d commits, want 2", len(commits))
	}
	if err := Save(ctx, m, store.String(""), n); !errors.Is(err, store.ErrInvalidKey) {
		t.Errorf("Save() error = %v, want ErrInvalidKey", err)
	}
	if _, err := New(Config{}); err == nil {
		t.Error("New() without root succeeded")
	}
}
