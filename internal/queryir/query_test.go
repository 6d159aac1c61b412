package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smartview/internal/ir"
)

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("Rating DESC")
	require.NoError(t, err)
	assert.Equal(t, &Order{Field: "rating", Desc: true}, o)
	assert.Equal(t, "rating desc", o.String())

	o, err = ParseOrder("duration")
	require.NoError(t, err)
	assert.Equal(t, "duration asc", o.String())

	o, err = ParseOrder("  ")
	require.NoError(t, err)
	assert.Nil(t, o)

	_, err = ParseOrder("rating sideways")
	assert.Error(t, err)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want Limit
	}{
		{"25", Limit{Number: "25", Criterion: CriterionItems}},
		{"10 minutes", Limit{Number: "10", Criterion: CriterionMinutes}},
		{"1.5 h", Limit{Number: "1.5", Criterion: CriterionHours}},
		{"700 MB", Limit{Number: "700", Criterion: CriterionMegabytes}},
		{"3 tracks", Limit{Number: "3", Criterion: CriterionItems}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l, err := ParseLimit(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *l)
		})
	}

	l, err := ParseLimit("")
	require.NoError(t, err)
	assert.Nil(t, l)

	for _, bad := range []string{"ten", "5 parsecs", "1 2 3"} {
		_, err := ParseLimit(bad)
		assert.Error(t, err, bad)
	}
}

func TestLimitDegenerate(t *testing.T) {
	var nilLimit *Limit
	assert.True(t, nilLimit.Degenerate())
	assert.True(t, (&Limit{Number: ""}).Degenerate())
	assert.True(t, (&Limit{Number: "0"}).Degenerate())
	assert.True(t, (&Limit{Number: "0.0", Criterion: CriterionHours}).Degenerate())
	assert.False(t, (&Limit{Number: "1"}).Degenerate())
}

func TestQueryEffectiveLimit(t *testing.T) {
	limit := &Limit{Number: "10", Criterion: CriterionItems}

	_, ok := Query{Limit: limit}.EffectiveLimit()
	assert.False(t, ok, "a limit without an order is ignored")

	q := Query{Order: &Order{Field: "rating"}, Limit: limit}
	l, ok := q.EffectiveLimit()
	require.True(t, ok)
	assert.Equal(t, *limit, l)

	n, ok := q.CountLimit()
	require.True(t, ok)
	assert.Equal(t, 10, n)

	q.Limit = &Limit{Number: "10", Criterion: CriterionMinutes}
	_, ok = q.CountLimit()
	assert.False(t, ok)

	q.Limit = &Limit{Number: "0"}
	_, ok = q.EffectiveLimit()
	assert.False(t, ok, "a zero limit is degenerate")
}

func TestReferences(t *testing.T) {
	p := Or{Predicates: []Predicate{
		InPlaylist{Playlist: ir.SmartRef(3)},
		And{Predicates: []Predicate{
			Not{Predicate: InPlaylist{Playlist: ir.StaticRef(8)}},
			InPlaylist{Playlist: ir.SmartRef(3)},
			Compare{Field: "genre", Op: OpEq, Value: ir.String("x")},
		}},
		InPlaylist{Playlist: ir.StaticRef(2)},
	}}

	assert.Equal(t, []ir.PlaylistRef{ir.StaticRef(2), ir.StaticRef(8), ir.SmartRef(3)}, References(p))
	assert.Empty(t, References(nil))
}

func TestTimeDependent(t *testing.T) {
	assert.False(t, TimeDependent(Query{}))
	assert.False(t, TimeDependent(Query{Order: &Order{Field: "rating"}}))
	assert.True(t, TimeDependent(Query{Order: &Order{Field: "last_played", Desc: true}}))
	assert.True(t, TimeDependent(Query{Filter: Not{Predicate: Within{Field: "date_added", Seconds: 60}}}))
}
