// Package types contains the core domain types shared across all internal
// packages. It deliberately has zero imports of other internal packages so
// that the registry, updater, and transport layers can all import from it
// without creating import cycles.
package types

// UpdateKind describes what happened to a library item. The values match the
// UpdateType strings media servers accept in bulk refresh calls.
type UpdateKind string

const (
	UpdateCreated  UpdateKind = "Created"
	UpdateModified UpdateKind = "Modified"
	UpdateDeleted  UpdateKind = "Deleted"
)

// Valid reports whether k is one of the known update kinds.
func (k UpdateKind) Valid() bool {
	switch k {
	case UpdateCreated, UpdateModified, UpdateDeleted:
		return true
	}
	return false
}

// Item is one changed library item.
//
// ID is the item's stable identity: two Items with the same ID describe the
// same underlying library entry, and a later change supersedes an earlier
// one. Everything else is payload handed to the media server as-is.
type Item struct {
	// ID uniquely identifies the library entry (e.g. a series id).
	ID string `json:"id"`

	// Path is the on-disk location the media server should rescan.
	Path string `json:"path"`

	// Kind is what happened to the item.
	Kind UpdateKind `json:"kind"`

	// Title is a human-readable label, used only for logging.
	Title string `json:"title,omitempty"`
}

// Endpoint is one configured media server target. Endpoints partition all
// pending-update state: distinct endpoints are fully independent.
type Endpoint struct {
	// Name is the unique registry key for this endpoint.
	Name string `json:"name"`

	// URL is the media server base URL, e.g. "http://emby.local:8096".
	URL string `json:"url"`

	// APIKey authenticates bulk refresh calls against the media server.
	APIKey string `json:"api_key"`

	// UpdateLibrary controls whether library changes are pushed to this
	// endpoint. When false, Enqueue drops changes and Drain discards any
	// pending state without calling the media server.
	UpdateLibrary bool `json:"update_library"`

	// CreatedAt is the UTC millisecond the endpoint was registered.
	CreatedAt int64 `json:"created_at"`
}
