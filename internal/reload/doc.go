// Package reload dispatches coalesced change batches to the code
// reloader and drives the aftermath: component status transitions,
// per-component callbacks, listener notifications, and observability
// events. The actual namespace reloading sits behind the Reloader
// interface; this package never inspects namespace contents.
package reload
