package reload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultCommandTimeout = 30 * time.Second

// Rule maps a path prefix onto a namespace. When several rules match a
// path, the longest prefix wins.
type Rule struct {
	Prefix    string
	Namespace string
}

// ExecReloader implements Reloader by running a configured command once
// per namespace. The namespace is appended as the final argument and
// exported as REWATCH_NAMESPACE. The first failing command marks its
// namespace failed and stops the reload.
type ExecReloader struct {
	command []string
	rules   []Rule
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	dirs []string
}

// ExecOption configures an ExecReloader.
type ExecOption func(*ExecReloader)

// WithCommandTimeout overrides the per-command timeout (default 30s).
func WithCommandTimeout(d time.Duration) ExecOption {
	return func(r *ExecReloader) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithExecLogger sets the reloader logger.
func WithExecLogger(logger *slog.Logger) ExecOption {
	return func(r *ExecReloader) {
		r.logger = logger
	}
}

// NewExecReloader creates a reloader running command for each affected
// namespace, using rules to map changed paths onto namespaces.
func NewExecReloader(command []string, rules []Rule, opts ...ExecOption) *ExecReloader {
	r := &ExecReloader{
		command: command,
		rules:   rules,
		timeout: defaultCommandTimeout,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Init verifies the command exists and records the source directories.
func (r *ExecReloader) Init(dirs []string) error {
	if len(r.command) == 0 {
		return fmt.Errorf("no reload command configured")
	}

	if _, err := exec.LookPath(r.command[0]); err != nil {
		return fmt.Errorf("reload command %q: %w", r.command[0], err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dirs = dirs

	return nil
}

// Reload resolves the affected namespaces and runs the command for each
// in sorted order.
func (r *ExecReloader) Reload(ctx context.Context, opts Options) (*Result, error) {
	namespaces := r.resolve(opts)

	var loaded []string

	for _, ns := range namespaces {
		if err := r.runCommand(ctx, ns); err != nil {
			return &Result{Loaded: loaded, Failed: ns, Err: err}, nil
		}

		loaded = append(loaded, ns)
	}

	return &Result{Loaded: loaded}, nil
}

// resolve computes the distinct, sorted namespace set for the options,
// with exclusions removed.
func (r *ExecReloader) resolve(opts Options) []string {
	set := make(map[string]struct{})

	switch opts.Scope {
	case ScopeAll:
		for _, rule := range r.rules {
			set[rule.Namespace] = struct{}{}
		}
	case ScopePattern:
		for _, rule := range r.rules {
			if matched, _ := filepath.Match(opts.Pattern, rule.Namespace); matched {
				set[rule.Namespace] = struct{}{}
			}
		}
	default: // ScopeChanged
		for _, path := range opts.Paths {
			if ns, ok := r.namespaceFor(path); ok {
				set[ns] = struct{}{}
			}
		}
	}

	for _, ns := range opts.Exclude {
		delete(set, ns)
	}

	namespaces := make([]string, 0, len(set))
	for ns := range set {
		namespaces = append(namespaces, ns)
	}

	sort.Strings(namespaces)

	return namespaces
}

// namespaceFor maps a changed path onto a namespace via the longest
// matching rule prefix. Paths matching no rule are skipped.
func (r *ExecReloader) namespaceFor(path string) (string, bool) {
	var (
		best    string
		bestLen = -1
	)

	for _, rule := range r.rules {
		if strings.HasPrefix(path, rule.Prefix) && len(rule.Prefix) > bestLen {
			best = rule.Namespace
			bestLen = len(rule.Prefix)
		}
	}

	return best, bestLen >= 0
}

// runCommand executes the reload command for one namespace.
func (r *ExecReloader) runCommand(ctx context.Context, namespace string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string{}, r.command[1:]...), namespace)

	cmd := exec.CommandContext(cmdCtx, r.command[0], args...) //nolint:gosec
	cmd.Env = append(os.Environ(), "REWATCH_NAMESPACE="+namespace)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("reloading %s: %w: %s", namespace, err, strings.TrimSpace(string(out)))
	}

	r.logger.Debug("namespace reloaded", slog.String("namespace", namespace))

	return nil
}

// RulesFromMap converts a prefix→namespace map into a deterministic
// rule list, sorted by prefix.
func RulesFromMap(m map[string]string) []Rule {
	rules := make([]Rule, 0, len(m))
	for prefix, ns := range m {
		rules = append(rules, Rule{Prefix: prefix, Namespace: ns})
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Prefix < rules[j].Prefix })

	return rules
}
