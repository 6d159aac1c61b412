package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
	"github.com/roach88/smartview/internal/querysql"
)

func recordNamed(name string) queryir.Record {
	return queryir.Record{Name: name}
}

func jazz() queryir.Predicate {
	return queryir.Compare{Field: "genre", Op: queryir.OpEq, Value: ir.String("Jazz")}
}

func TestDefinitionCRUD(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := queryir.Record{
		Name:           "Short Jazz",
		Predicate:      `{"field":"genre","op":"eq","value":"Jazz"}`,
		OrderBy:        "duration asc",
		LimitNumber:    "10",
		LimitCriterion: int64(queryir.CriterionMinutes),
	}
	id, err := s.InsertDefinition(ctx, rec)
	require.NoError(t, err)
	rec.ID = id

	got, err := s.ReadDefinition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	rec.Name = "Renamed"
	rec.LimitNumber = ""
	require.NoError(t, s.UpdateDefinition(ctx, rec))

	all, err := s.ReadDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Renamed", all[0].Name)
	assert.Empty(t, all[0].LimitNumber, "empty strings persist as NULL and read back empty")

	require.NoError(t, s.DeleteDefinition(ctx, id))
	_, err = s.ReadDefinition(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteDefinition(ctx, id), ErrNotFound)
	assert.ErrorIs(t, s.UpdateDefinition(ctx, rec), ErrNotFound)
}

func TestReplaceMembership(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 4), track(2, "Jazz", 4), track(3, "Jazz", 4))

	id, err := s.InsertDefinition(ctx, recordNamed("p"))
	require.NoError(t, err)

	require.NoError(t, s.ReplaceMembership(ctx, id, []int64{3, 1}))
	got, err := s.ReadMembership(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, got)

	require.NoError(t, s.ReplaceMembership(ctx, id, []int64{2, 99}))
	got, err = s.ReadMembership(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, got, "ids of deleted items are skipped")

	require.NoError(t, s.ReplaceMembership(ctx, id, nil))
	got, err = s.ReadMembership(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPatchMembership(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 4), track(2, "Jazz", 4), track(3, "Jazz", 4))

	id, err := s.InsertDefinition(ctx, recordNamed("p"))
	require.NoError(t, err)
	require.NoError(t, s.ReplaceMembership(ctx, id, []int64{1, 2}))

	require.NoError(t, s.PatchMembership(ctx, id, []int64{3, 1}, []int64{2, 7}))
	got, err := s.ReadMembership(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, got)

	assert.NoError(t, s.PatchMembership(ctx, id, nil, nil))
}

func TestCandidates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 5), track(2, "Rock", 3), track(3, "jazz", 3), track(4, "Jazz", 1))

	q := queryir.Query{
		Filter: jazz(),
		Order:  &queryir.Order{Field: "duration"},
	}
	got, err := s.Candidates(ctx, q, testNow, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{4, 3, 1}, candidateIDs(got), "case-insensitive match, ordered by duration then id")
	assert.Equal(t, time.Minute, got[0].Duration)
	assert.Equal(t, "file:///music/track.mp3", got[0].URI)

	q.Limit = &queryir.Limit{Number: "2"}
	got, err = s.Candidates(ctx, q, testNow, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, candidateIDs(got), "count limit pushed to SQL")
}

func TestCandidatesRestricted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 5), track(2, "Jazz", 3), track(3, "Jazz", 4))

	id, err := s.InsertDefinition(ctx, recordNamed("p"))
	require.NoError(t, err)
	require.NoError(t, s.ReplaceMembership(ctx, id, []int64{1}))

	q := queryir.Query{Filter: jazz(), Order: &queryir.Order{Field: "duration"}}
	got, err := s.Candidates(ctx, q, testNow, &querysql.Restriction{Playlist: id, Include: []int64{3}})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, candidateIDs(got), "item 2 is outside the restriction")
}

func TestCandidatesInPlaylist(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 5), track(2, "Jazz", 3))

	pid, err := s.CreatePlaylist(ctx, 0, "Favourites")
	require.NoError(t, err)
	_, err = s.AddPlaylistItems(ctx, pid, []int64{2})
	require.NoError(t, err)

	q := queryir.Query{Filter: queryir.InPlaylist{Playlist: ir.StaticRef(pid)}}
	got, err := s.Candidates(ctx, q, testNow, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, candidateIDs(got))
}

func TestCandidatesWithin(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recent := track(1, "Jazz", 1)
	recent.LastPlayed = testNow.Add(-10 * time.Minute)
	old := track(2, "Jazz", 1)
	old.LastPlayed = testNow.Add(-48 * time.Hour)
	never := track(3, "Jazz", 1)
	seedItems(t, s, recent, old, never)

	q := queryir.Query{Filter: queryir.Within{Field: "last_played", Seconds: 3600}}
	got, err := s.Candidates(ctx, q, testNow, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, candidateIDs(got))

	q.Filter = queryir.Not{Predicate: q.Filter}
	got, err = s.Candidates(ctx, q, testNow, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, candidateIDs(got), "never played counts as not recently played")
}

func TestMatchItem(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 5), track(2, "Rock", 3))

	ok, err := s.MatchItem(ctx, jazz(), testNow, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MatchItem(ctx, jazz(), testNow, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MatchItem(ctx, nil, testNow, 2)
	require.NoError(t, err)
	assert.True(t, ok, "nil predicate matches everything")

	ok, err = s.MatchItem(ctx, nil, testNow, 404)
	require.NoError(t, err)
	assert.False(t, ok, "missing items never match")
}

func TestStaticPlaylists(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItems(t, s, track(1, "Jazz", 5), track(2, "Rock", 3))

	pid, err := s.CreatePlaylist(ctx, 5, "Mix")
	require.NoError(t, err)
	assert.Equal(t, int64(5), pid)

	added, err := s.AddPlaylistItems(ctx, pid, []int64{2, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, added, "duplicates are skipped")

	removed, err := s.RemovePlaylistItems(ctx, pid, []int64{1, 9})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, removed)

	list, err := s.ListPlaylists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Playlist{{ID: 5, Name: "Mix"}}, list)

	require.NoError(t, s.DeletePlaylist(ctx, pid))
	assert.ErrorIs(t, s.DeletePlaylist(ctx, pid), ErrNotFound)
}

func candidateIDs(cs []ir.Candidate) []int64 {
	ids := make([]int64, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}
