package compiler

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/smartview/internal/queryir"
)

// Playlist is a compiled definition together with where it came from.
type Playlist struct {
	Definition queryir.Definition
	Source     string // "file.cue:12"
}

// CompilePlaylists compiles every field of the top-level "playlist"
// struct, in declaration order. A missing struct yields no playlists.
func CompilePlaylists(v cue.Value) ([]Playlist, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	root := v.LookupPath(cue.ParsePath("playlist"))
	if !root.Exists() {
		return nil, nil
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		out  []Playlist
		errs []error
	)
	for iter.Next() {
		p, err := CompilePlaylist(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, *p)
	}
	return out, errs
}

// CompilePlaylist parses one CUE playlist value. The playlist is named by
// its label unless a "name" field overrides it.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`playlist: Jazz: { where: {op: "eq", field: "genre", value: "Jazz"} }`)
//	p, err := CompilePlaylist(v.LookupPath(cue.ParsePath("playlist.Jazz")))
func CompilePlaylist(v cue.Value) (*Playlist, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.Exists() {
		return nil, &CompileError{Field: "playlist", Message: "value does not exist"}
	}

	p := &Playlist{Source: source(v)}
	def := &p.Definition

	if sels := v.Path().Selectors(); len(sels) > 0 {
		def.Name = unquote(sels[len(sels)-1].String())
	}
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, fieldError("name", nameVal, err)
		}
		def.Name = name
	}
	if strings.TrimSpace(def.Name) == "" {
		return nil, &CompileError{Field: "name", Message: "name must not be empty", Pos: v.Pos()}
	}

	if idVal := v.LookupPath(cue.ParsePath("id")); idVal.Exists() {
		id, err := idVal.Int64()
		if err != nil {
			return nil, fieldError("id", idVal, err)
		}
		if id <= 0 {
			return nil, &CompileError{Field: "id", Message: "id must be positive", Pos: idVal.Pos()}
		}
		def.ID = id
	}

	filter, err := parseWhere(v.LookupPath(cue.ParsePath("where")))
	if err != nil {
		return nil, err
	}
	def.Query.Filter = filter

	if orderVal := v.LookupPath(cue.ParsePath("order")); orderVal.Exists() {
		s, err := orderVal.String()
		if err != nil {
			return nil, fieldError("order", orderVal, err)
		}
		if def.Query.Order, err = queryir.ParseOrder(s); err != nil {
			return nil, &CompileError{Field: "order", Message: err.Error(), Pos: orderVal.Pos()}
		}
	}

	if limitVal := v.LookupPath(cue.ParsePath("limit")); limitVal.Exists() {
		s, err := limitString(limitVal)
		if err != nil {
			return nil, err
		}
		if def.Query.Limit, err = queryir.ParseLimit(s); err != nil {
			return nil, &CompileError{Field: "limit", Message: err.Error(), Pos: limitVal.Pos()}
		}
	}

	if err := queryir.Validate(def.Query); err != nil {
		return nil, &CompileError{Field: "query", Message: err.Error(), Pos: v.Pos()}
	}
	return p, nil
}

// parseWhere decodes the predicate through its JSON form. A list is the
// conjunction of its elements.
func parseWhere(v cue.Value) (queryir.Predicate, error) {
	if !v.Exists() {
		return nil, nil
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fieldError("where", v, err)
	}
	if v.IncompleteKind() == cue.ListKind {
		var buf bytes.Buffer
		buf.WriteString(`{"op":"and","args":`)
		buf.Write(data)
		buf.WriteString(`}`)
		data = buf.Bytes()
	}
	pred, err := queryir.UnmarshalPredicate(data)
	if err != nil {
		return nil, &CompileError{Field: "where", Message: err.Error(), Pos: v.Pos()}
	}
	return pred, nil
}

func limitString(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return "", fieldError("limit", v, err)
		}
		return strconv.FormatInt(n, 10), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return "", fieldError("limit", v, err)
		}
		return s, nil
	}
	return "", &CompileError{Field: "limit", Message: "must be an integer or a string like \"10 minutes\"", Pos: v.Pos()}
}

func fieldError(field string, v cue.Value, err error) error {
	if ce, ok := formatCUEError(err).(*CompileError); ok {
		ce.Field = field
		return ce
	}
	return &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
}

func source(v cue.Value) string {
	pos := v.Pos()
	if !pos.IsValid() {
		return ""
	}
	return fmt.Sprintf("%s:%d", pos.Filename(), pos.Line())
}

func unquote(label string) string {
	if s, err := strconv.Unquote(label); err == nil {
		return s
	}
	return label
}
