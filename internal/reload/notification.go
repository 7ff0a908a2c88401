package reload

import "time"

// NotificationType identifies a reload lifecycle milestone.
type NotificationType string

const (
	// NotifyReloadStart is sent before the reloader is invoked.
	NotifyReloadStart NotificationType = "reload-start"
	// NotifyReloadSuccess is sent after a reload with no failed namespace.
	NotifyReloadSuccess NotificationType = "reload-success"
	// NotifyReloadError is sent after a reload reporting a failed namespace.
	NotifyReloadError NotificationType = "reload-error"
	// NotifyComponentCallback is sent immediately before a component's
	// own callback is invoked.
	NotifyComponentCallback NotificationType = "component-callback"
)

// Callback names used in component-callback notifications.
const (
	CallbackOnReload = "on-reload"
	CallbackOnError  = "on-error"
)

// Notification is delivered to every registered listener at each
// lifecycle milestone. Fields beyond Type are populated per milestone.
type Notification struct {
	Type NotificationType

	// Component and Callback identify a component-callback milestone.
	Component string
	Callback  string

	// Loaded, Unloaded, and Elapsed describe a reload-success milestone.
	Loaded   []string
	Unloaded []string
	Elapsed  time.Duration

	// Failed and Err describe a reload-error milestone.
	Failed string
	Err    error
}

// ListenerFunc receives lifecycle notifications. Listeners are invoked
// synchronously and must not block; a panicking listener is isolated
// and logged.
type ListenerFunc func(Notification)
