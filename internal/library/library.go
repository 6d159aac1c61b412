package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/store"
)

// Sink receives collection events after they are committed.
// *engine.Controller satisfies it.
type Sink interface {
	Enqueue(e ir.Event) error
}

// Library is the write side of the collection.
type Library struct {
	store  *store.Store
	sink   Sink
	logger *slog.Logger
}

// New returns a Library that writes to s and reports to sink. A nil
// logger falls back to slog.Default.
func New(s *store.Store, sink Sink, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{store: s, sink: sink, logger: logger}
}

// AddItems inserts items and emits one items_added event. Items with a
// zero ID are assigned one; the assigned ids are returned in input order.
func (l *Library) AddItems(ctx context.Context, items ...ir.Item) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := l.store.InsertItem(ctx, item)
		if err != nil {
			// Items inserted so far are committed; announce them
			// before reporting the failure.
			l.emit(ir.Event{Kind: ir.EventItemsAdded, ItemIDs: ids})
			return ids, fmt.Errorf("add item %q: %w", item.Title, err)
		}
		ids = append(ids, id)
	}
	return ids, l.emit(ir.Event{Kind: ir.EventItemsAdded, ItemIDs: ids})
}

// UpdateItems replaces the attributes of existing items and emits one
// items_changed event.
func (l *Library) UpdateItems(ctx context.Context, items ...ir.Item) error {
	ids := make([]int64, 0, len(items))
	var errs []error
	for _, item := range items {
		if err := l.store.UpdateItem(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("update item %d: %w", item.ID, err))
			continue
		}
		ids = append(ids, item.ID)
	}
	if err := l.emit(ir.Event{Kind: ir.EventItemsChanged, ItemIDs: ids}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RemoveItems deletes items together with their playlist entries and
// emits one items_removed event.
func (l *Library) RemoveItems(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.store.DeleteItems(ctx, ids); err != nil {
		return fmt.Errorf("remove items: %w", err)
	}
	return l.emit(ir.Event{Kind: ir.EventItemsRemoved, ItemIDs: ids})
}

// CreatePlaylist creates a static playlist. A zero id lets the store
// assign one.
func (l *Library) CreatePlaylist(ctx context.Context, id int64, name string) (int64, error) {
	if name == "" {
		return 0, errors.New("playlist name is required")
	}
	id, err := l.store.CreatePlaylist(ctx, id, name)
	if err != nil {
		return 0, fmt.Errorf("create playlist %q: %w", name, err)
	}
	return id, l.emit(ir.Event{Kind: ir.EventPlaylistCreated, Playlist: ir.StaticRef(id)})
}

// DeletePlaylist deletes a static playlist and its entries.
func (l *Library) DeletePlaylist(ctx context.Context, id int64) error {
	if err := l.store.DeletePlaylist(ctx, id); err != nil {
		return fmt.Errorf("delete playlist %d: %w", id, err)
	}
	return l.emit(ir.Event{Kind: ir.EventPlaylistDeleted, Playlist: ir.StaticRef(id)})
}

// AddToPlaylist appends items to a static playlist and returns the ids
// that were not already present.
func (l *Library) AddToPlaylist(ctx context.Context, playlistID int64, itemIDs ...int64) ([]int64, error) {
	added, err := l.store.AddPlaylistItems(ctx, playlistID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("add to playlist %d: %w", playlistID, err)
	}
	return added, l.emit(ir.Event{
		Kind:     ir.EventPlaylistItemsAdded,
		Playlist: ir.StaticRef(playlistID),
		ItemIDs:  added,
	})
}

// RemoveFromPlaylist removes items from a static playlist and returns
// the ids that were present.
func (l *Library) RemoveFromPlaylist(ctx context.Context, playlistID int64, itemIDs ...int64) ([]int64, error) {
	removed, err := l.store.RemovePlaylistItems(ctx, playlistID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("remove from playlist %d: %w", playlistID, err)
	}
	return removed, l.emit(ir.Event{
		Kind:     ir.EventPlaylistItemsRemoved,
		Playlist: ir.StaticRef(playlistID),
		ItemIDs:  removed,
	})
}

// Reload announces that the collection changed in bulk outside this
// package, for example after an external rescan.
func (l *Library) Reload() error {
	return l.emit(ir.Event{Kind: ir.EventLibraryReloaded})
}

// emit forwards e unless it carries no change.
func (l *Library) emit(e ir.Event) error {
	switch e.Kind {
	case ir.EventItemsAdded, ir.EventItemsChanged, ir.EventItemsRemoved,
		ir.EventPlaylistItemsAdded, ir.EventPlaylistItemsRemoved:
		if len(e.ItemIDs) == 0 {
			return nil
		}
	}
	if l.sink == nil {
		return nil
	}
	if err := l.sink.Enqueue(e); err != nil {
		l.logger.Warn("event dropped", "kind", e.Kind, "playlist", e.Playlist.String(), "error", err)
		return fmt.Errorf("emit %s: %w", e.Kind, err)
	}
	l.logger.Debug("event emitted", "kind", e.Kind, "items", len(e.ItemIDs))
	return nil
}
