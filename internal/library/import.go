package library

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/smartview/internal/ir"
)

// ItemSpec is the YAML form of an item in an import file.
//
//	items:
//	  - title: So What
//	    artist: Miles Davis
//	    genre: Jazz
//	    duration: 9m22s
//	    date_added: 2024-05-01T10:00:00Z
type ItemSpec struct {
	ID         int64     `yaml:"id"`
	Title      string    `yaml:"title"`
	Artist     string    `yaml:"artist"`
	Album      string    `yaml:"album"`
	Genre      string    `yaml:"genre"`
	URI        string    `yaml:"uri"`
	Year       int64     `yaml:"year"`
	Rating     int64     `yaml:"rating"`
	PlayCount  int64     `yaml:"play_count"`
	Duration   string    `yaml:"duration"`
	DateAdded  time.Time `yaml:"date_added"`
	LastPlayed time.Time `yaml:"last_played"`
}

// ItemFile is the top level of an import file.
type ItemFile struct {
	Items []ItemSpec `yaml:"items"`
}

// Item converts the spec to an ir.Item.
func (s ItemSpec) Item() (ir.Item, error) {
	var d time.Duration
	if s.Duration != "" {
		var err error
		d, err = time.ParseDuration(s.Duration)
		if err != nil {
			return ir.Item{}, fmt.Errorf("item %q: duration: %w", s.Title, err)
		}
		if d < 0 {
			return ir.Item{}, fmt.Errorf("item %q: negative duration", s.Title)
		}
	}
	return ir.Item{
		ID:         s.ID,
		Title:      s.Title,
		Artist:     s.Artist,
		Album:      s.Album,
		Genre:      s.Genre,
		URI:        s.URI,
		Year:       s.Year,
		Rating:     s.Rating,
		PlayCount:  s.PlayCount,
		Duration:   d,
		DateAdded:  s.DateAdded,
		LastPlayed: s.LastPlayed,
	}, nil
}

// ParseItems decodes an import file.
func ParseItems(r io.Reader) ([]ir.Item, error) {
	var f ItemFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse items: %w", err)
	}
	items := make([]ir.Item, 0, len(f.Items))
	for _, spec := range f.Items {
		item, err := spec.Item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Import reads an import file and adds its items in one batch.
func (l *Library) Import(ctx context.Context, r io.Reader) ([]int64, error) {
	items, err := ParseItems(r)
	if err != nil {
		return nil, err
	}
	return l.AddItems(ctx, items...)
}
