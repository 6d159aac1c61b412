package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smartview/internal/ir"
)

func TestItemRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	in := ir.Item{
		ID:         7,
		Title:      "So What",
		Artist:     "Miles Davis",
		Album:      "Kind of Blue",
		Genre:      "Jazz",
		URI:        "file:///music/so-what.flac",
		Year:       1959,
		Rating:     5,
		PlayCount:  12,
		Duration:   9*time.Minute + 22*time.Second,
		DateAdded:  testNow.Add(-48 * time.Hour),
		LastPlayed: testNow.Add(-time.Hour),
	}

	id, err := s.InsertItem(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	out, err := s.ReadItem(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestInsertItemAssignsID(t *testing.T) {
	s := createTestStore(t)

	id, err := s.InsertItem(context.Background(), ir.Item{Title: "untitled"})
	require.NoError(t, err)
	assert.Positive(t, id)

	item, err := s.ReadItem(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, item.LastPlayed.IsZero(), "never played stays zero")
}

func TestInsertItemNormalizesText(t *testing.T) {
	s := createTestStore(t)
	seedItems(t, s, ir.Item{ID: 1, Artist: "Beyonce\u0301"})

	item, err := s.ReadItem(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Beyonc\u00e9", item.Artist)
}

func TestUpdateItem(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 4))

	changed := track(1, "Rock", 4)
	require.NoError(t, s.UpdateItem(ctx, changed))

	item, err := s.ReadItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Rock", item.Genre)

	err = s.UpdateItem(ctx, track(99, "Rock", 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteItemsCascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 4), track(2, "Jazz", 4))

	pid, err := s.CreatePlaylist(ctx, 0, "Favourites")
	require.NoError(t, err)
	_, err = s.AddPlaylistItems(ctx, pid, []int64{1, 2})
	require.NoError(t, err)

	defID, err := s.InsertDefinition(ctx, recordNamed("All"))
	require.NoError(t, err)
	require.NoError(t, s.ReplaceMembership(ctx, defID, []int64{1, 2}))

	require.NoError(t, s.DeleteItems(ctx, []int64{1, 42}))

	_, err = s.ReadItem(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	static, err := s.PlaylistItems(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, static)

	smart, err := s.ReadMembership(ctx, defID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, smart)
}

func TestListItems(t *testing.T) {
	s := createTestStore(t)

	items, err := s.ListItems(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	seedItems(t, s, track(3, "a", 1), track(1, "b", 1))
	items, err = s.ListItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
}
