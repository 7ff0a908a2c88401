package reload

import (
	"context"
	"time"
)

// Scope selects which namespaces a reload covers.
type Scope int

const (
	// ScopeChanged reloads only the namespaces behind the changed paths.
	ScopeChanged Scope = iota
	// ScopeAll reloads every known namespace regardless of detected change.
	ScopeAll
	// ScopePattern reloads the namespaces matching Options.Pattern.
	ScopePattern
)

// String returns the wire name of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeChanged:
		return "changed"
	case ScopeAll:
		return "all"
	case ScopePattern:
		return "pattern"
	default:
		return "unknown"
	}
}

// Options configures one reload call. Exclude is passed through to the
// reloader unmodified.
type Options struct {
	Scope   Scope
	Pattern string
	// Paths are the changed file paths driving a ScopeChanged reload.
	Paths []string
	// Exclude lists namespaces the reloader must leave untouched.
	Exclude []string
	// Strict makes Reload return an error on failure instead of only
	// reporting it through the outcome.
	Strict bool
}

// Result is produced by a Reloader. A non-empty Failed names the
// namespace whose reload failed; Err carries the cause.
type Result struct {
	Loaded   []string
	Unloaded []string
	Failed   string
	Err      error
}

// Reloader performs the actual namespace reload. Implementations own
// dependency ordering; this package only coordinates around them.
type Reloader interface {
	// Init prepares the reloader for the given source directories. Called
	// lazily, once, before the first reload.
	Init(dirs []string) error

	// Reload executes one reload. Failures inside namespaces are reported
	// through the Result; the error return is reserved for the reloader
	// itself being unusable.
	Reload(ctx context.Context, opts Options) (*Result, error)
}

// Outcome is what the orchestrator returns to its caller: the raw
// reloader result combined with success and timing.
type Outcome struct {
	Success  bool
	Loaded   []string
	Unloaded []string
	Failed   string
	Err      error
	Elapsed  time.Duration
}

// NopReloader is a Reloader that does nothing and always succeeds.
// Useful for dry runs and tests.
type NopReloader struct{}

// Init implements Reloader.
func (NopReloader) Init([]string) error { return nil }

// Reload implements Reloader.
func (NopReloader) Reload(context.Context, Options) (*Result, error) {
	return &Result{}, nil
}
