// Package watcher turns raw filesystem notifications from the template
// tree and the source tree into one ordered stream of semantic events.
package watcher

import "fmt"

// Kind tags a semantic change event.
type Kind int

const (
	// TemplateTreeChanged invalidates every page.
	TemplateTreeChanged Kind = iota + 1
	// DocumentUpsert means Path was created or written.
	DocumentUpsert
	// DocumentRemoved means Path no longer exists.
	DocumentRemoved
	// DocumentRenamed means OldPath was moved to Path.
	DocumentRenamed
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case TemplateTreeChanged:
		return "template_changed"
	case DocumentUpsert:
		return "upsert"
	case DocumentRemoved:
		return "removed"
	case DocumentRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one semantic change, consumed exactly once by the rebuild loop.
type Event struct {
	Kind    Kind
	Path    string
	OldPath string
}

func (e Event) String() string {
	switch e.Kind {
	case TemplateTreeChanged:
		return e.Kind.String()
	case DocumentRenamed:
		return fmt.Sprintf("%s(%s -> %s)", e.Kind, e.OldPath, e.Path)
	default:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Path)
	}
}

// TemplateChanged returns a TemplateTreeChanged event.
func TemplateChanged() Event {
	return Event{Kind: TemplateTreeChanged}
}

// Upsert returns a DocumentUpsert event for path.
func Upsert(path string) Event {
	return Event{Kind: DocumentUpsert, Path: path}
}

// Removed returns a DocumentRemoved event for path.
func Removed(path string) Event {
	return Event{Kind: DocumentRemoved, Path: path}
}

// Renamed returns a DocumentRenamed event.
func Renamed(oldPath, newPath string) Event {
	return Event{Kind: DocumentRenamed, Path: newPath, OldPath: oldPath}
}
