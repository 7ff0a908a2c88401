// Package watch provides the change-detection half of the reload
// pipeline. A Watcher monitors a set of root directories recursively and
// emits normalized change events; a Debouncer buffers those events under
// claim-aware policies and delivers coalesced batches of paths to a
// single fire callback.
package watch
