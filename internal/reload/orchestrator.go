package reload

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/corbin/rewatch/internal/bus"
)

// ComponentStatus is the lifecycle state of a registered component.
type ComponentStatus string

const (
	// StatusIdle means the component's last reload (if any) succeeded.
	StatusIdle ComponentStatus = "idle"
	// StatusError means the component's namespace failed its last reload.
	StatusError ComponentStatus = "error"
)

// ComponentConfig describes a component registration. Namespace is
// required; nil callbacks default to no-ops.
type ComponentConfig struct {
	Namespace string
	OnReload  func()
	OnError   func(error)
}

// Component is the read-only view of a registration exposed by Status.
type Component struct {
	ID         string
	Namespace  string
	Status     ComponentStatus
	LastReload time.Time
}

// component is the internal registration record.
type component struct {
	namespace  string
	onReload   func()
	onError    func(error)
	status     ComponentStatus
	lastReload time.Time
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Initialized   bool
	Components    map[string]Component
	ListenerCount int
}

// Orchestrator owns the component registry and listener set. On each
// reload it emits lifecycle notifications, delegates to the Reloader,
// and drives per-component callbacks from the result.
//
// Reload calls are not mutually exclusive: coalescing concurrent
// triggers into a single reload is the debouncer's job, not the
// orchestrator's. Overlapping calls race against the reloader and
// against each other's component-callback phase.
type Orchestrator struct {
	reloader    Reloader
	sink        bus.Sink
	logger      *slog.Logger
	defaultDirs []string

	mu          sync.Mutex
	components  map[string]*component
	listeners   map[string]ListenerFunc
	initialized bool
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithDefaultDirs sets the source directories handed to the reloader on
// lazy initialization.
func WithDefaultDirs(dirs []string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaultDirs = dirs
	}
}

// New creates an orchestrator around the given reloader and sink. A nil
// sink discards events.
func New(reloader Reloader, sink bus.Sink, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		reloader:   reloader,
		sink:       sink,
		logger:     slog.Default(),
		components: make(map[string]*component),
		listeners:  make(map[string]ListenerFunc),
	}

	if o.sink == nil {
		o.sink = bus.Discard{}
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Register stores a component registration under id, overwriting any
// previous registration with the same id.
func (o *Orchestrator) Register(id string, cfg ComponentConfig) error {
	if id == "" {
		return fmt.Errorf("component id is required")
	}

	if cfg.Namespace == "" {
		return fmt.Errorf("component %q: namespace is required", id)
	}

	c := &component{
		namespace: cfg.Namespace,
		onReload:  cfg.OnReload,
		onError:   cfg.OnError,
		status:    StatusIdle,
	}

	if c.onReload == nil {
		c.onReload = func() {}
	}

	if c.onError == nil {
		c.onError = func(error) {}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.components[id] = c

	return nil
}

// Unregister removes the component registration. Unknown ids are
// ignored.
func (o *Orchestrator) Unregister(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.components, id)
}

// AddListener registers a lifecycle listener under id, overwriting any
// previous listener with the same id.
func (o *Orchestrator) AddListener(id string, fn ListenerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.listeners[id] = fn
}

// RemoveListener removes a listener. Unknown ids are ignored.
func (o *Orchestrator) RemoveListener(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.listeners, id)
}

// Reload runs one reload cycle: lazy reloader initialization, start
// notification, reloader invocation, component callbacks, and the final
// success or error notification. For every milestone the listener
// notification happens before the corresponding sink emission.
func (o *Orchestrator) Reload(ctx context.Context, opts Options) (*Outcome, error) {
	if err := o.ensureInitialized(); err != nil {
		return nil, err
	}

	o.notify(Notification{Type: NotifyReloadStart})
	o.sink.Emit(bus.TopicReloadStart, nil)

	start := time.Now()

	result, err := o.reloader.Reload(ctx, opts)
	elapsed := time.Since(start)

	if result == nil {
		result = &Result{}
	}

	if err != nil && result.Err == nil {
		result.Err = err
	}

	success := result.Failed == "" && result.Err == nil

	o.dispatchCallbacks(result)

	if success {
		o.notify(Notification{
			Type:     NotifyReloadSuccess,
			Loaded:   result.Loaded,
			Unloaded: result.Unloaded,
			Elapsed:  elapsed,
		})
		o.sink.Emit(bus.TopicReloadSuccess, map[string]any{
			"loaded":   result.Loaded,
			"unloaded": result.Unloaded,
			"ms":       elapsed.Milliseconds(),
		})
	} else {
		o.notify(Notification{
			Type:   NotifyReloadError,
			Failed: result.Failed,
			Err:    result.Err,
		})
		o.sink.Emit(bus.TopicReloadError, map[string]any{
			"failed": result.Failed,
			"error":  errString(result.Err),
		})
	}

	outcome := &Outcome{
		Success:  success,
		Loaded:   result.Loaded,
		Unloaded: result.Unloaded,
		Failed:   result.Failed,
		Err:      result.Err,
		Elapsed:  elapsed,
	}

	if !success && opts.Strict {
		if result.Err != nil {
			return outcome, fmt.Errorf("reload failed: %w", result.Err)
		}

		return outcome, fmt.Errorf("reload failed in namespace %s", result.Failed)
	}

	return outcome, nil
}

// ReloadAll reloads every known namespace regardless of detected change.
func (o *Orchestrator) ReloadAll(ctx context.Context) (*Outcome, error) {
	return o.Reload(ctx, Options{Scope: ScopeAll})
}

// Status returns a read-only snapshot of the orchestrator state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := Status{
		Initialized:   o.initialized,
		Components:    make(map[string]Component, len(o.components)),
		ListenerCount: len(o.listeners),
	}

	for id, c := range o.components {
		snapshot.Components[id] = Component{
			ID:         id,
			Namespace:  c.namespace,
			Status:     c.status,
			LastReload: c.lastReload,
		}
	}

	return snapshot
}

// Reset clears the registry, listeners, and initialized flag. For test
// isolation only.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.components = make(map[string]*component)
	o.listeners = make(map[string]ListenerFunc)
	o.initialized = false
}

// ensureInitialized performs the lazy one-time reloader initialization.
func (o *Orchestrator) ensureInitialized() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return nil
	}

	if err := o.reloader.Init(o.defaultDirs); err != nil {
		return fmt.Errorf("initializing reloader: %w", err)
	}

	o.initialized = true

	return nil
}

// dispatchCallbacks applies the reload result to every registered
// component: a namespace match on the failure marks the component
// errored and fires its error callback, a match in the loaded set marks
// it idle and fires its reload callback. The listener notification for
// each callback precedes the callback itself.
func (o *Orchestrator) dispatchCallbacks(result *Result) {
	now := time.Now()

	type action struct {
		id       string
		callback string
		c        *component
	}

	o.mu.Lock()

	ids := make([]string, 0, len(o.components))
	for id := range o.components {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	var actions []action

	for _, id := range ids {
		c := o.components[id]

		switch {
		case result.Failed != "" && c.namespace == result.Failed:
			c.status = StatusError
			actions = append(actions, action{id: id, callback: CallbackOnError, c: c})
		case slices.Contains(result.Loaded, c.namespace):
			c.status = StatusIdle
			c.lastReload = now
			actions = append(actions, action{id: id, callback: CallbackOnReload, c: c})
		}
	}

	o.mu.Unlock()

	for _, a := range actions {
		o.notify(Notification{
			Type:      NotifyComponentCallback,
			Component: a.id,
			Callback:  a.callback,
		})

		o.invokeCallback(a.id, a.callback, a.c, result.Err)
	}
}

// invokeCallback runs one component callback with panic isolation: a
// panicking callback is logged and does not abort the reload or the
// remaining components.
func (o *Orchestrator) invokeCallback(id, callback string, c *component, cause error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("component callback panicked",
				slog.String("component", id),
				slog.String("callback", callback),
				slog.Any("error", r),
			)
		}
	}()

	if callback == CallbackOnError {
		c.onError(cause)
		return
	}

	c.onReload()
}

// notify delivers a notification to every listener in deterministic
// order, isolating each listener's failures.
func (o *Orchestrator) notify(n Notification) {
	o.mu.Lock()

	ids := make([]string, 0, len(o.listeners))
	for id := range o.listeners {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	fns := make([]ListenerFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.listeners[id])
	}

	o.mu.Unlock()

	for i, fn := range fns {
		o.invokeListener(ids[i], fn, n)
	}
}

// invokeListener runs one listener with panic isolation.
func (o *Orchestrator) invokeListener(id string, fn ListenerFunc, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("listener panicked",
				slog.String("listener", id),
				slog.String("notification", string(n.Type)),
				slog.Any("error", r),
			)
		}
	}()

	fn(n)
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
