package ir

// EventKind classifies a collection mutation.
type EventKind string

const (
	EventItemsAdded           EventKind = "items_added"
	EventItemsChanged         EventKind = "items_changed"
	EventItemsRemoved         EventKind = "items_removed"
	EventPlaylistCreated      EventKind = "playlist_created"
	EventPlaylistDeleted      EventKind = "playlist_deleted"
	EventPlaylistItemsAdded   EventKind = "playlist_items_added"
	EventPlaylistItemsRemoved EventKind = "playlist_items_removed"
	EventLibraryReloaded      EventKind = "library_reloaded"
)

// Event is a mutation of the collection, emitted after the mutation has
// been committed to the store.
//
// Seq is assigned by the consumer's logical clock when the event is
// queued. Playlist is set only for the playlist_* kinds.
type Event struct {
	Kind     EventKind   `json:"kind"`
	Seq      int64       `json:"seq"`
	ItemIDs  []int64     `json:"item_ids,omitempty"`
	Playlist PlaylistRef `json:"playlist"`
}

// IsPlaylistEvent reports whether the event concerns a playlist rather
// than items of the collection.
func (e Event) IsPlaylistEvent() bool {
	switch e.Kind {
	case EventPlaylistCreated, EventPlaylistDeleted,
		EventPlaylistItemsAdded, EventPlaylistItemsRemoved:
		return true
	}
	return false
}

// Validate checks that the event's fields match its kind.
func (e Event) Validate() error {
	switch e.Kind {
	case EventItemsAdded, EventItemsChanged, EventItemsRemoved:
		if len(e.ItemIDs) == 0 {
			return errEvent(e, "no item ids")
		}
	case EventPlaylistItemsAdded, EventPlaylistItemsRemoved:
		if e.Playlist.ID == 0 {
			return errEvent(e, "missing playlist")
		}
		if len(e.ItemIDs) == 0 {
			return errEvent(e, "no item ids")
		}
	case EventPlaylistCreated, EventPlaylistDeleted:
		if e.Playlist.ID == 0 {
			return errEvent(e, "missing playlist")
		}
	case EventLibraryReloaded:
	default:
		return errEvent(e, "unknown kind")
	}
	return nil
}

// EventError reports a malformed event.
type EventError struct {
	Kind   EventKind
	Reason string
}

func (e *EventError) Error() string {
	return "invalid " + string(e.Kind) + " event: " + e.Reason
}

func errEvent(e Event, reason string) error {
	return &EventError{Kind: e.Kind, Reason: reason}
}
