package reload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReloader returns a canned result and records invocations.
type fakeReloader struct {
	mu        sync.Mutex
	initCalls int
	initErr   error
	initDirs  []string
	reloads   []Options
	result    *Result
	err       error
}

func (f *fakeReloader) Init(dirs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.initCalls++
	f.initDirs = dirs

	return f.initErr
}

func (f *fakeReloader) Reload(_ context.Context, opts Options) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reloads = append(f.reloads, opts)

	return f.result, f.err
}

// orderLog records listener notifications and sink emissions in arrival
// order so milestone ordering can be asserted.
type orderLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *orderLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
}

func (l *orderLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.entries))
	copy(out, l.entries)

	return out
}

func (l *orderLog) Emit(topic string, _ map[string]any) {
	l.add("sink:" + topic)
}

func (l *orderLog) listener() ListenerFunc {
	return func(n Notification) {
		entry := "listener:" + string(n.Type)
		if n.Type == NotifyComponentCallback {
			entry += ":" + n.Callback
		}

		l.add(entry)
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestRegister_RequiresIDAndNamespace(t *testing.T) {
	o := New(NopReloader{}, nil)

	assert.Error(t, o.Register("", ComponentConfig{Namespace: "app.core"}))
	assert.Error(t, o.Register("c1", ComponentConfig{}))
	assert.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.core"}))
}

func TestRegister_OverwritesExisting(t *testing.T) {
	o := New(NopReloader{}, nil)

	require.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.old"}))
	require.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.new"}))

	st := o.Status()
	require.Len(t, st.Components, 1)
	assert.Equal(t, "app.new", st.Components["c1"].Namespace)
}

func TestUnregister_UnknownIDIsIgnored(t *testing.T) {
	o := New(NopReloader{}, nil)
	o.Unregister("ghost")

	require.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.core"}))
	o.Unregister("c1")
	assert.Empty(t, o.Status().Components)
}

// ---------------------------------------------------------------------------
// Lazy initialization
// ---------------------------------------------------------------------------

func TestReload_InitializesReloaderOnce(t *testing.T) {
	f := &fakeReloader{result: &Result{}}
	o := New(f, nil, WithDefaultDirs([]string{"src", "lib"}))

	_, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	_, err = o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, f.initCalls)
	assert.Equal(t, []string{"src", "lib"}, f.initDirs)
	assert.True(t, o.Status().Initialized)
}

func TestReload_InitFailureIsReturnedAndRetriable(t *testing.T) {
	f := &fakeReloader{result: &Result{}, initErr: errors.New("boom")}
	o := New(f, nil)

	_, err := o.Reload(context.Background(), Options{})
	require.Error(t, err)
	assert.False(t, o.Status().Initialized)

	// A later reload retries initialization.
	f.initErr = nil

	_, err = o.Reload(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, o.Status().Initialized)
}

// ---------------------------------------------------------------------------
// Success path (Scenario: loaded namespace)
// ---------------------------------------------------------------------------

func TestReload_SuccessDrivesOnReload(t *testing.T) {
	f := &fakeReloader{result: &Result{Loaded: []string{"app.core"}}}
	o := New(f, nil)

	var spy atomic.Int32

	require.NoError(t, o.Register("c1", ComponentConfig{
		Namespace: "app.core",
		OnReload:  func() { spy.Add(1) },
	}))

	log := &orderLog{}
	o.AddListener("order", log.listener())

	outcome, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, []string{"app.core"}, outcome.Loaded)
	assert.Equal(t, int32(1), spy.Load())

	st := o.Status()
	assert.Equal(t, StatusIdle, st.Components["c1"].Status)
	assert.False(t, st.Components["c1"].LastReload.IsZero())

	assert.Equal(t, []string{
		"listener:reload-start",
		"listener:component-callback:on-reload",
		"listener:reload-success",
	}, log.all())
}

func TestReload_UntouchedComponentKeepsState(t *testing.T) {
	f := &fakeReloader{result: &Result{Loaded: []string{"app.other"}}}
	o := New(f, nil)

	var spy atomic.Int32

	require.NoError(t, o.Register("c1", ComponentConfig{
		Namespace: "app.core",
		OnReload:  func() { spy.Add(1) },
	}))

	_, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	assert.Zero(t, spy.Load())

	st := o.Status()
	assert.Equal(t, StatusIdle, st.Components["c1"].Status)
	assert.True(t, st.Components["c1"].LastReload.IsZero())
}

// ---------------------------------------------------------------------------
// Failure path (Scenario: failed namespace)
// ---------------------------------------------------------------------------

func TestReload_FailureDrivesOnError(t *testing.T) {
	cause := errors.New("compile error")
	f := &fakeReloader{result: &Result{Failed: "app.broken", Err: cause}}
	o := New(f, nil)

	var (
		spy      atomic.Int32
		received error
		mu       sync.Mutex
	)

	require.NoError(t, o.Register("c1", ComponentConfig{
		Namespace: "app.broken",
		OnError: func(err error) {
			spy.Add(1)

			mu.Lock()
			received = err
			mu.Unlock()
		},
	}))

	log := &orderLog{}
	o.AddListener("order", log.listener())

	outcome, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err, "non-strict reload reports failure via the outcome")

	assert.False(t, outcome.Success)
	assert.Equal(t, "app.broken", outcome.Failed)
	assert.Equal(t, int32(1), spy.Load())

	mu.Lock()
	assert.Equal(t, cause, received)
	mu.Unlock()

	assert.Equal(t, StatusError, o.Status().Components["c1"].Status)

	assert.Equal(t, []string{
		"listener:reload-start",
		"listener:component-callback:on-error",
		"listener:reload-error",
	}, log.all())
}

func TestReload_ErrorComponentRecoversOnNextSuccess(t *testing.T) {
	f := &fakeReloader{result: &Result{Failed: "app.core", Err: errors.New("bad")}}
	o := New(f, nil)

	require.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.core"}))

	_, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusError, o.Status().Components["c1"].Status)

	f.result = &Result{Loaded: []string{"app.core"}}

	_, err = o.Reload(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, o.Status().Components["c1"].Status)
}

func TestReload_StrictReturnsError(t *testing.T) {
	f := &fakeReloader{result: &Result{Failed: "app.broken", Err: errors.New("bad")}}
	o := New(f, nil)

	outcome, err := o.Reload(context.Background(), Options{Strict: true})
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.False(t, outcome.Success)
}

func TestReload_ReloaderHardErrorBecomesFailedOutcome(t *testing.T) {
	f := &fakeReloader{err: errors.New("reloader unusable")}
	o := New(f, nil)

	outcome, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.EqualError(t, outcome.Err, "reloader unusable")
}

// ---------------------------------------------------------------------------
// Listener and callback isolation
// ---------------------------------------------------------------------------

func TestReload_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	f := &fakeReloader{result: &Result{}}
	o := New(f, nil)

	var survived atomic.Int32

	o.AddListener("a-panics", func(Notification) { panic("listener boom") })
	o.AddListener("b-counts", func(Notification) { survived.Add(1) })

	_, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	// reload-start and reload-success both reached the second listener.
	assert.Equal(t, int32(2), survived.Load())
}

func TestReload_PanickingComponentCallbackIsIsolated(t *testing.T) {
	f := &fakeReloader{result: &Result{Loaded: []string{"app.a", "app.b"}}}
	o := New(f, nil)

	var second atomic.Int32

	require.NoError(t, o.Register("a", ComponentConfig{
		Namespace: "app.a",
		OnReload:  func() { panic("callback boom") },
	}))
	require.NoError(t, o.Register("b", ComponentConfig{
		Namespace: "app.b",
		OnReload:  func() { second.Add(1) },
	}))

	outcome, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, int32(1), second.Load(), "remaining components still get their callback")
}

func TestRemoveListener(t *testing.T) {
	f := &fakeReloader{result: &Result{}}
	o := New(f, nil)

	var calls atomic.Int32

	o.AddListener("l1", func(Notification) { calls.Add(1) })
	o.RemoveListener("l1")

	_, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}

// ---------------------------------------------------------------------------
// Ordering: listener before sink per milestone
// ---------------------------------------------------------------------------

func TestReload_ListenerNotifiedBeforeSinkPerMilestone(t *testing.T) {
	f := &fakeReloader{result: &Result{Loaded: []string{"app.core"}}}

	log := &orderLog{}
	o := New(f, log)

	require.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.core"}))
	o.AddListener("order", log.listener())

	_, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"listener:reload-start",
		"sink:hot/reload-start",
		"listener:component-callback:on-reload",
		"listener:reload-success",
		"sink:hot/reload-success",
	}, log.all())
}

func TestReload_ErrorSinkEmission(t *testing.T) {
	f := &fakeReloader{result: &Result{Failed: "app.broken", Err: errors.New("bad")}}

	log := &orderLog{}
	o := New(f, log)

	_, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"sink:hot/reload-start",
		"sink:hot/reload-error",
	}, log.all())
}

// ---------------------------------------------------------------------------
// Status, Reset, ReloadAll
// ---------------------------------------------------------------------------

func TestStatus_Snapshot(t *testing.T) {
	o := New(NopReloader{}, nil)

	require.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.core"}))
	o.AddListener("l1", func(Notification) {})

	st := o.Status()
	assert.False(t, st.Initialized)
	assert.Equal(t, 1, st.ListenerCount)
	require.Contains(t, st.Components, "c1")
	assert.Equal(t, "c1", st.Components["c1"].ID)

	// Mutating the snapshot does not affect the orchestrator.
	delete(st.Components, "c1")
	assert.Len(t, o.Status().Components, 1)
}

func TestReset_ClearsEverything(t *testing.T) {
	f := &fakeReloader{result: &Result{}}
	o := New(f, nil)

	require.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.core"}))
	o.AddListener("l1", func(Notification) {})

	_, err := o.Reload(context.Background(), Options{})
	require.NoError(t, err)

	o.Reset()

	st := o.Status()
	assert.False(t, st.Initialized)
	assert.Empty(t, st.Components)
	assert.Zero(t, st.ListenerCount)
}

func TestReloadAll_UsesScopeAll(t *testing.T) {
	f := &fakeReloader{result: &Result{}}
	o := New(f, nil)

	_, err := o.ReloadAll(context.Background())
	require.NoError(t, err)

	require.Len(t, f.reloads, 1)
	assert.Equal(t, ScopeAll, f.reloads[0].Scope)
}

func TestReload_ConcurrentCallsDoNotRace(t *testing.T) {
	f := &fakeReloader{result: &Result{Loaded: []string{"app.core"}}}
	o := New(f, nil)

	require.NoError(t, o.Register("c1", ComponentConfig{Namespace: "app.core"}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := o.Reload(context.Background(), Options{})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, f.initCalls, "initialization stays one-time under concurrency")
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "changed", ScopeChanged.String())
	assert.Equal(t, "all", ScopeAll.String())
	assert.Equal(t, "pattern", ScopePattern.String())
	assert.Equal(t, "unknown", Scope(42).String())
}
