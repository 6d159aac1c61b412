package ir

import (
	"fmt"
	"time"
)

// Item is one entry of the library collection.
type Item struct {
	ID         int64         `json:"id"`
	Title      string        `json:"title"`
	Artist     string        `json:"artist"`
	Album      string        `json:"album"`
	Genre      string        `json:"genre"`
	URI        string        `json:"uri"`
	Year       int64         `json:"year"`
	Rating     int64         `json:"rating"`
	PlayCount  int64         `json:"play_count"`
	Duration   time.Duration `json:"duration"`
	DateAdded  time.Time     `json:"date_added"`
	LastPlayed time.Time     `json:"last_played"` // zero means never played
}

// Candidate is the projection of an item that the limit policy needs. The
// store returns candidates already filtered and ordered.
type Candidate struct {
	ID       int64
	Duration time.Duration
	URI      string
}

// PlaylistRef identifies a playlist. Static and smart playlists have
// separate id spaces.
type PlaylistRef struct {
	ID    int64 `json:"id"`
	Smart bool  `json:"smart"`
}

// String renders the reference as "smart:7" or "static:7".
func (r PlaylistRef) String() string {
	if r.Smart {
		return fmt.Sprintf("smart:%d", r.ID)
	}
	return fmt.Sprintf("static:%d", r.ID)
}

// SmartRef returns the reference to smart playlist id.
func SmartRef(id int64) PlaylistRef { return PlaylistRef{ID: id, Smart: true} }

// StaticRef returns the reference to static playlist id.
func StaticRef(id int64) PlaylistRef { return PlaylistRef{ID: id} }
