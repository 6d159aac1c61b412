package queryir

import (
	"bytes"
	"fmt"

	"github.com/roach88/smartview/internal/ir"
)

// Predicates are encoded as tagged objects keyed by "op":
//
//	{"op":"eq","field":"genre","value":"Jazz"}
//	{"op":"and","args":[...]}        also "or"
//	{"op":"not","arg":{...}}
//	{"op":"in_playlist","playlist":10,"smart":true}
//	{"op":"within","field":"last_played","seconds":604800}

// ToValue converts a predicate into its tagged object form. A nil
// predicate converts to ir.Null.
func ToValue(p Predicate) (ir.Value, error) {
	switch pred := p.(type) {
	case nil:
		return ir.Null{}, nil
	case Compare:
		if pred.Value == nil {
			return nil, fmt.Errorf("compare on %q has no value", pred.Field)
		}
		return ir.Object{
			"op":    ir.String(pred.Op),
			"field": ir.String(pred.Field),
			"value": pred.Value,
		}, nil
	case And:
		return junction("and", pred.Predicates)
	case Or:
		return junction("or", pred.Predicates)
	case Not:
		arg, err := ToValue(pred.Predicate)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		if _, isNull := arg.(ir.Null); isNull {
			return nil, fmt.Errorf("not: missing argument")
		}
		return ir.Object{"op": ir.String("not"), "arg": arg}, nil
	case InPlaylist:
		return ir.Object{
			"op":       ir.String("in_playlist"),
			"playlist": ir.Int(pred.Playlist.ID),
			"smart":    ir.Bool(pred.Playlist.Smart),
		}, nil
	case Within:
		return ir.Object{
			"op":      ir.String("within"),
			"field":   ir.String(pred.Field),
			"seconds": ir.Int(pred.Seconds),
		}, nil
	default:
		return nil, fmt.Errorf("unknown predicate type: %T", p)
	}
}

func junction(op string, preds []Predicate) (ir.Value, error) {
	args := make(ir.List, 0, len(preds))
	for i, sub := range preds {
		v, err := ToValue(sub)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		if _, isNull := v.(ir.Null); isNull {
			return nil, fmt.Errorf("%s[%d]: nil predicate", op, i)
		}
		args = append(args, v)
	}
	return ir.Object{"op": ir.String(op), "args": args}, nil
}

// FromValue converts the tagged object form back into a predicate. Null
// and the empty object decode to a nil predicate.
func FromValue(v ir.Value) (Predicate, error) {
	switch val := v.(type) {
	case nil, ir.Null:
		return nil, nil
	case ir.Object:
		if len(val) == 0 {
			return nil, nil
		}
		return fromObject(val)
	default:
		return nil, fmt.Errorf("predicate must be an object, got %s", ir.TypeName(v))
	}
}

func fromObject(obj ir.Object) (Predicate, error) {
	op, err := stringField(obj, "op")
	if err != nil {
		return nil, err
	}
	switch op {
	case "and", "or":
		list, ok := obj["args"].(ir.List)
		if !ok {
			return nil, fmt.Errorf("%s: args must be a list", op)
		}
		preds := make([]Predicate, 0, len(list))
		for i, elem := range list {
			sub, err := FromValue(elem)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
			}
			if sub == nil {
				return nil, fmt.Errorf("%s[%d]: empty predicate", op, i)
			}
			preds = append(preds, sub)
		}
		if op == "and" {
			return And{Predicates: preds}, nil
		}
		return Or{Predicates: preds}, nil
	case "not":
		sub, err := FromValue(obj["arg"])
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		if sub == nil {
			return nil, fmt.Errorf("not: missing argument")
		}
		return Not{Predicate: sub}, nil
	case "in_playlist":
		id, ok := obj["playlist"].(ir.Int)
		if !ok {
			return nil, fmt.Errorf("in_playlist: playlist must be an int")
		}
		smart := false
		if b, present := obj["smart"]; present {
			bv, ok := b.(ir.Bool)
			if !ok {
				return nil, fmt.Errorf("in_playlist: smart must be a bool")
			}
			smart = bool(bv)
		}
		return InPlaylist{Playlist: ir.PlaylistRef{ID: int64(id), Smart: smart}}, nil
	case "within":
		field, err := stringField(obj, "field")
		if err != nil {
			return nil, err
		}
		secs, ok := obj["seconds"].(ir.Int)
		if !ok {
			return nil, fmt.Errorf("within: seconds must be an int")
		}
		return Within{Field: field, Seconds: int64(secs)}, nil
	default:
		if !Op(op).known() {
			return nil, fmt.Errorf("unknown operator %q", op)
		}
		field, err := stringField(obj, "field")
		if err != nil {
			return nil, err
		}
		value, ok := obj["value"]
		if !ok {
			return nil, fmt.Errorf("%s: missing value", op)
		}
		return Compare{Field: field, Op: Op(op), Value: value}, nil
	}
}

func stringField(obj ir.Object, key string) (string, error) {
	s, ok := obj[key].(ir.String)
	if !ok {
		return "", fmt.Errorf("predicate %q must be a string", key)
	}
	return string(s), nil
}

// MarshalPredicate encodes a predicate as canonical JSON. A nil predicate
// encodes as the empty string.
func MarshalPredicate(p Predicate) (string, error) {
	if p == nil {
		return "", nil
	}
	v, err := ToValue(p)
	if err != nil {
		return "", err
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalPredicate decodes JSON text into a predicate. Blank text, null
// and {} decode to a nil predicate.
func UnmarshalPredicate(data []byte) (Predicate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	v, err := ir.ParseValue(data)
	if err != nil {
		return nil, fmt.Errorf("parse predicate: %w", err)
	}
	return FromValue(v)
}
