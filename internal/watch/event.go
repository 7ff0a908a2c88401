package watch

import "github.com/fsnotify/fsnotify"

// Kind classifies a normalized file change.
type Kind int

const (
	// KindCreate is emitted when a new file appears.
	KindCreate Kind = iota
	// KindModify is emitted when an existing file is written.
	KindModify
	// KindDelete is emitted when a file is removed or renamed away.
	KindDelete
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a normalized file change notification.
type Event struct {
	Path string
	Kind Kind
}

// eventKind maps an fsnotify op onto a Kind. The second return value is
// false for ops that carry no content change (e.g. chmod-only).
func eventKind(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreate, true
	case op.Has(fsnotify.Write):
		return KindModify, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindDelete, true
	default:
		return 0, false
	}
}
