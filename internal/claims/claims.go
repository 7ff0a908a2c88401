// Package claims provides the boundary to the external file-claim
// subsystem. The reload pipeline only ever consumes a CheckFunc; the
// FileClaims provider in this package is one concrete source, backed by
// a directory of lock files so that external tools can claim paths by
// dropping a file and release them by removing it.
package claims

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// CheckFunc reports the set of currently claimed paths. Implementations
// must be cheap enough to call once per incoming file event and must be
// side-effect free.
type CheckFunc func() map[string]struct{}

// None is a CheckFunc for setups without a claim subsystem.
func None() map[string]struct{} { return nil }

// FileClaims reads claims from a directory of lock files. Each regular
// file's first non-empty line names one claimed path. A missing
// directory means an empty claim set.
type FileClaims struct {
	dir    string
	logger *slog.Logger
}

// NewFileClaims creates a provider reading lock files under dir.
func NewFileClaims(dir string, logger *slog.Logger) *FileClaims {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileClaims{dir: dir, logger: logger}
}

// Dir returns the claims directory.
func (c *FileClaims) Dir() string { return c.dir }

// Claimed reads the claims directory fresh and returns the claimed-path
// set. Unreadable lock files are skipped with a warning.
func (c *FileClaims) Claimed() map[string]struct{} {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		// Absent directory is the normal "no claims" case.
		if !os.IsNotExist(err) {
			c.logger.Warn("reading claims directory",
				slog.String("dir", c.dir),
				slog.String("error", err.Error()),
			)
		}

		return nil
	}

	set := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path, ok := c.readLockFile(filepath.Join(c.dir, entry.Name()))
		if ok {
			set[path] = struct{}{}
		}
	}

	return set
}

// readLockFile returns the first non-empty line of a lock file.
func (c *FileClaims) readLockFile(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		c.logger.Warn("reading lock file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			return line, true
		}
	}

	return "", false
}

// Tracker observes a CheckFunc over time and reports which paths were
// released since the previous observation. Safe for concurrent use.
type Tracker struct {
	check CheckFunc

	mu   sync.Mutex
	prev map[string]struct{}
}

// NewTracker creates a tracker seeded with the current claim set.
func NewTracker(check CheckFunc) *Tracker {
	t := &Tracker{check: check}
	if check != nil {
		t.prev = check()
	}

	return t
}

// Released re-queries the claim set and returns the sorted paths that
// were claimed at the previous observation but are not anymore.
func (t *Tracker) Released() []string {
	if t.check == nil {
		return nil
	}

	curr := t.check()

	t.mu.Lock()
	defer t.mu.Unlock()

	var released []string

	for p := range t.prev {
		if _, ok := curr[p]; !ok {
			released = append(released, p)
		}
	}

	t.prev = curr

	sort.Strings(released)

	return released
}
