package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
)

func playlist(id int64, name string, refs ...int64) Playlist {
	var filter queryir.Predicate
	if len(refs) > 0 {
		preds := make([]queryir.Predicate, len(refs))
		for i, r := range refs {
			preds[i] = queryir.InPlaylist{Playlist: ir.SmartRef(r)}
		}
		filter = queryir.Or{Predicates: preds}
	}
	return Playlist{
		Definition: queryir.Definition{ID: id, Name: name, Query: queryir.Query{Filter: filter}},
		Source:     name + ".cue:1",
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateValidSet(t *testing.T) {
	errs := Validate([]Playlist{
		playlist(1, "base"),
		playlist(2, "derived", 1),
		playlist(0, "loose"),
	})
	assert.Empty(t, errs)
}

func TestValidateExistingIDsResolve(t *testing.T) {
	errs := Validate([]Playlist{playlist(5, "derived", 9)}, 9)
	assert.Empty(t, errs)
}

func TestValidateDuplicates(t *testing.T) {
	errs := Validate([]Playlist{
		playlist(1, "Jazz"),
		playlist(1, "jazz"),
	})
	assert.ElementsMatch(t, []string{ErrDuplicateName, ErrDuplicateID}, codes(errs))
}

func TestValidateUnknownAndUnpinnedReferences(t *testing.T) {
	errs := Validate([]Playlist{
		playlist(1, "base"),
		playlist(2, "dangling", 99),
		playlist(0, "unpinned", 1),
	})
	assert.Equal(t, []string{ErrUnknownReference, ErrUnpinnedReference}, codes(errs))
}

func TestValidateCycles(t *testing.T) {
	errs := Validate([]Playlist{
		playlist(1, "a", 3),
		playlist(2, "b", 1),
		playlist(3, "c", 2),
		playlist(4, "self", 4),
	})
	require.Equal(t, []string{ErrDependencyCycle, ErrDependencyCycle}, codes(errs))
	assert.Equal(t, "playlist.a", errs[0].Field)
	assert.Contains(t, errs[0].Message, "smart:1")
	assert.Equal(t, "playlist.self", errs[1].Field)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "playlist.a", Message: "boom", Code: ErrDependencyCycle}
	assert.Equal(t, "[E204] playlist.a: boom", err.Error())

	err.Line = 7
	assert.Equal(t, "[E204] line 7: playlist.a: boom", err.Error())
}
