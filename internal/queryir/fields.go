package queryir

import "sort"

// FieldKind is the value domain of an item field.
type FieldKind int

const (
	KindText FieldKind = iota
	KindInt
	KindDuration
	KindTime
)

func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindDuration:
		return "duration"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Field describes a filterable and sortable item attribute.
type Field struct {
	Name   string
	Column string
	Kind   FieldKind
}

var fields = map[string]Field{
	"title":       {Name: "title", Column: "title", Kind: KindText},
	"artist":      {Name: "artist", Column: "artist", Kind: KindText},
	"album":       {Name: "album", Column: "album", Kind: KindText},
	"genre":       {Name: "genre", Column: "genre", Kind: KindText},
	"uri":         {Name: "uri", Column: "uri", Kind: KindText},
	"year":        {Name: "year", Column: "year", Kind: KindInt},
	"rating":      {Name: "rating", Column: "rating", Kind: KindInt},
	"play_count":  {Name: "play_count", Column: "play_count", Kind: KindInt},
	"duration":    {Name: "duration", Column: "duration_ms", Kind: KindDuration},
	"date_added":  {Name: "date_added", Column: "date_added", Kind: KindTime},
	"last_played": {Name: "last_played", Column: "last_played", Kind: KindTime},
}

// LookupField returns the field named name.
func LookupField(name string) (Field, bool) {
	f, ok := fields[name]
	return f, ok
}

// FieldNames lists the known field names in sorted order.
func FieldNames() []string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
