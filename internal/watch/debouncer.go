package watch

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ClaimFunc reports the set of currently claimed paths. It is queried
// fresh on every incoming event and must be cheap and side-effect free.
type ClaimFunc func() map[string]struct{}

// FireFunc receives one coalesced batch of paths to reload, sorted.
type FireFunc func(paths []string)

// Debouncer decouples "a file changed" from "trigger a reload". Events
// on unclaimed paths are buffered for a cooldown period and delivered as
// one batch; events on claimed paths are parked until the claim is
// released. Delivery is at-most-once per batch: buffers are cleared
// before the fire callback runs, so a failing callback cannot corrupt
// or replay state.
type Debouncer struct {
	cooldown time.Duration
	claims   ClaimFunc
	onFire   FireFunc
	logger   *slog.Logger

	mu        sync.Mutex
	unclaimed map[string]struct{}
	pending   map[string]struct{}
	timers    []*time.Timer
	stopped   bool
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithDebouncerLogger sets the logger used for callback diagnostics.
func WithDebouncerLogger(logger *slog.Logger) DebouncerOption {
	return func(d *Debouncer) {
		d.logger = logger
	}
}

// NewDebouncer creates a debouncer. A nil claims function is treated as
// an always-empty claim set.
func NewDebouncer(cooldown time.Duration, claims ClaimFunc, onFire FireFunc, opts ...DebouncerOption) *Debouncer {
	d := &Debouncer{
		cooldown:  cooldown,
		claims:    claims,
		onFire:    onFire,
		logger:    slog.Default(),
		unclaimed: make(map[string]struct{}),
		pending:   make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// HandleEvent routes one change event into the claimed or unclaimed
// buffer. The claim set is queried fresh on every call, so a path's
// buffer membership can change between events. Each unclaimed event
// schedules its own cooldown wait; later events never reset earlier
// waits (see fireCooldown), and the timers are released once the
// buffer drains or the debouncer stops.
func (d *Debouncer) HandleEvent(ev Event) {
	claimed := d.claimedSet()

	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	if _, ok := claimed[ev.Path]; ok {
		delete(d.unclaimed, ev.Path)
		d.pending[ev.Path] = struct{}{}
		d.mu.Unlock()

		return
	}

	delete(d.pending, ev.Path)
	d.unclaimed[ev.Path] = struct{}{}
	d.timers = append(d.timers, time.AfterFunc(d.cooldown, d.fireCooldown))
	d.mu.Unlock()
}

// OnClaimsReleased removes releasedPaths from the pending buffer and
// fires the intersection as one batch. Paths that were never pending are
// silently ignored.
func (d *Debouncer) OnClaimsReleased(releasedPaths []string) {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	var batch []string

	for _, p := range releasedPaths {
		if _, ok := d.pending[p]; ok {
			delete(d.pending, p)
			batch = append(batch, p)
		}
	}

	d.mu.Unlock()

	if len(batch) > 0 {
		d.fire(batch)
	}
}

// FlushPending drains both buffers immediately and fires their union,
// bypassing cooldown and claim state. It fires unconditionally, even
// when both buffers are empty.
func (d *Debouncer) FlushPending() {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	batch := make([]string, 0, len(d.unclaimed)+len(d.pending))
	for p := range d.unclaimed {
		batch = append(batch, p)
	}

	for p := range d.pending {
		if _, ok := d.unclaimed[p]; !ok {
			batch = append(batch, p)
		}
	}

	d.unclaimed = make(map[string]struct{})
	d.pending = make(map[string]struct{})
	d.releaseTimers()
	d.mu.Unlock()

	d.fire(batch)
}

// Stop clears both buffers and stops outstanding cooldown timers.
// After Stop returns no new fire callback is invoked; one already in
// flight may still complete.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.unclaimed = make(map[string]struct{})
	d.pending = make(map[string]struct{})
	d.releaseTimers()
}

// Buffers returns sorted snapshots of the unclaimed and pending buffers.
func (d *Debouncer) Buffers() (unclaimed, pending []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for p := range d.unclaimed {
		unclaimed = append(unclaimed, p)
	}

	for p := range d.pending {
		pending = append(pending, p)
	}

	sort.Strings(unclaimed)
	sort.Strings(pending)

	return unclaimed, pending
}

// fireCooldown drains the unclaimed buffer after a cooldown wait
// elapses. Because every unclaimed event arms its own wait, several may
// be outstanding at once; whichever fires first takes the batch and the
// later ones observe an empty buffer and become no-ops. The net effect:
// at least one fire happens within one cooldown of the first unclaimed
// event in a burst, carrying every event buffered before it.
func (d *Debouncer) fireCooldown() {
	d.mu.Lock()

	if d.stopped || len(d.unclaimed) == 0 {
		d.mu.Unlock()
		return
	}

	batch := make([]string, 0, len(d.unclaimed))
	for p := range d.unclaimed {
		batch = append(batch, p)
	}

	d.unclaimed = make(map[string]struct{})
	d.releaseTimers()
	d.mu.Unlock()

	d.fire(batch)
}

// releaseTimers stops every retained cooldown timer and drops the
// handles. Callers must hold d.mu. A timer whose goroutine is already
// waiting on the mutex becomes a no-op through the empty buffer.
func (d *Debouncer) releaseTimers() {
	for _, t := range d.timers {
		t.Stop()
	}

	d.timers = nil
}

// fire delivers one batch. The buffers were already cleared by the
// caller, so a panicking callback loses the batch rather than leaving
// state behind for a retry.
func (d *Debouncer) fire(batch []string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("fire callback panicked",
				slog.Int("paths", len(batch)),
				slog.Any("error", r),
			)
		}
	}()

	sort.Strings(batch)
	d.onFire(batch)
}

// claimedSet queries the claim checker, tolerating a nil function.
func (d *Debouncer) claimedSet() map[string]struct{} {
	if d.claims == nil {
		return nil
	}

	return d.claims()
}
