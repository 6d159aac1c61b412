package querysql

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
)

// SQLCompiler compiles queryir definitions to parameterized SQL over the
// items table.
//
// CRITICAL: every candidate query has an ORDER BY ending in "id ASC" so the
// result order is total and deterministic.
// CRITICAL: literals are always parameters, never interpolated. Column names
// come from the queryir field catalog only.
type SQLCompiler struct {
	// Now anchors Within predicates. Two compilations with the same Now and
	// the same query produce identical SQL and parameters.
	Now time.Time
}

// NewSQLCompiler creates a compiler evaluating relative time against now.
func NewSQLCompiler(now time.Time) *SQLCompiler {
	return &SQLCompiler{Now: now}
}

// CandidateColumns is the projection returned by CompileCandidates, in scan
// order.
const CandidateColumns = "id, duration_ms, uri"

// Restriction narrows a candidate query to the committed members of one
// smart playlist plus a few extra items.
type Restriction struct {
	Playlist int64   // smart playlist whose committed entries are included; 0 for none
	Include  []int64 // extra item ids
}

// CompileCandidates compiles a query to a SELECT of candidate rows
// (CandidateColumns), filtered and ordered. A count limit is pushed down as
// SQL LIMIT; cumulative limits are left to the caller.
//
// When r is non-nil only the items it names are considered.
func (c *SQLCompiler) CompileCandidates(q queryir.Query, r *Restriction) (string, []any, error) {
	where, params, err := c.compilePredicate(q.Filter)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}

	if r != nil {
		in, inParams := idList(r.Include)
		scope := "id IN " + in
		if r.Playlist != 0 {
			scope = "id IN (SELECT item_id FROM smart_playlist_entries WHERE playlist_id = ?) OR " + scope
			inParams = append([]any{r.Playlist}, inParams...)
		}
		where = "(" + where + ") AND (" + scope + ")"
		params = append(params, inParams...)
	}

	order, err := c.orderClause(q.Order)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM items WHERE %s ORDER BY %s", CandidateColumns, where, order)

	if n, ok := q.CountLimit(); ok {
		sql += " LIMIT ?"
		params = append(params, n)
	}
	return sql, params, nil
}

// CompileMatch compiles a single-row probe: the query returns one row when
// item itemID satisfies the filter and none otherwise.
func (c *SQLCompiler) CompileMatch(filter queryir.Predicate, itemID int64) (string, []any, error) {
	where, params, err := c.compilePredicate(filter)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	sql := "SELECT 1 FROM items WHERE id = ? AND (" + where + ")"
	return sql, append([]any{itemID}, params...), nil
}

// orderClause returns the ORDER BY body. Unordered queries sort by id.
// Text columns sort case-insensitively.
func (c *SQLCompiler) orderClause(o *queryir.Order) (string, error) {
	if o == nil {
		return "id ASC", nil
	}
	f, ok := queryir.LookupField(o.Field)
	if !ok {
		return "", fmt.Errorf("order: unknown field %q", o.Field)
	}
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	col := columnExpr(f)
	if f.Kind == queryir.KindText {
		col += " COLLATE NOCASE"
	}
	return fmt.Sprintf("%s %s, id ASC", col, dir), nil
}

// compilePredicate compiles a predicate to a WHERE fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case queryir.Compare:
		return c.compileCompare(pred)
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	case queryir.Not:
		if pred.Predicate == nil {
			return "", nil, fmt.Errorf("not: missing argument")
		}
		inner, params, err := c.compilePredicate(pred.Predicate)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", params, nil
	case queryir.InPlaylist:
		table := "playlist_entries"
		if pred.Playlist.Smart {
			table = "smart_playlist_entries"
		}
		return "id IN (SELECT item_id FROM " + table + " WHERE playlist_id = ?)",
			[]any{pred.Playlist.ID}, nil
	case queryir.Within:
		f, ok := queryir.LookupField(pred.Field)
		if !ok || f.Kind != queryir.KindTime {
			return "", nil, fmt.Errorf("within: %q is not a time field", pred.Field)
		}
		col := columnExpr(f)
		cutoff := c.Now.Unix() - pred.Seconds
		return fmt.Sprintf("(%s > 0 AND %s >= ?)", col, col), []any{cutoff}, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(preds))
	var params []any
	for i, sub := range preds {
		if sub == nil {
			return "", nil, fmt.Errorf("predicate %d is empty", i)
		}
		s, p, err := c.compilePredicate(sub)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+s+")")
		params = append(params, p...)
	}
	return strings.Join(parts, sep), params, nil
}

var sqlOps = map[queryir.Op]string{
	queryir.OpEq: "=",
	queryir.OpNe: "<>",
	queryir.OpLt: "<",
	queryir.OpLe: "<=",
	queryir.OpGt: ">",
	queryir.OpGe: ">=",
}

func (c *SQLCompiler) compileCompare(cmp queryir.Compare) (string, []any, error) {
	f, ok := queryir.LookupField(cmp.Field)
	if !ok {
		return "", nil, fmt.Errorf("unknown field %q", cmp.Field)
	}
	col := columnExpr(f)

	if f.Kind == queryir.KindText {
		s, ok := cmp.Value.(ir.String)
		if !ok {
			return "", nil, fmt.Errorf("field %q needs a string literal", cmp.Field)
		}
		switch cmp.Op {
		case queryir.OpEq, queryir.OpNe:
			return fmt.Sprintf("%s %s ? COLLATE NOCASE", col, sqlOps[cmp.Op]), []any{string(s)}, nil
		case queryir.OpContains:
			return col + ` LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(string(s)) + "%"}, nil
		case queryir.OpNotContains:
			return col + ` NOT LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(string(s)) + "%"}, nil
		case queryir.OpStartsWith:
			return col + ` LIKE ? ESCAPE '\'`, []any{escapeLike(string(s)) + "%"}, nil
		case queryir.OpEndsWith:
			return col + ` LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(string(s))}, nil
		default:
			return "", nil, fmt.Errorf("operator %s does not apply to text field %q", cmp.Op, cmp.Field)
		}
	}

	op, ok := sqlOps[cmp.Op]
	if !ok {
		return "", nil, fmt.Errorf("operator %s does not apply to %s field %q", cmp.Op, f.Kind, cmp.Field)
	}
	n, ok := cmp.Value.(ir.Int)
	if !ok {
		return "", nil, fmt.Errorf("field %q needs an int literal", cmp.Field)
	}
	param := int64(n)
	if f.Kind == queryir.KindDuration {
		param *= 1000 // seconds to the stored milliseconds
	}
	return fmt.Sprintf("%s %s ?", col, op), []any{param}, nil
}

// columnExpr wraps nullable columns so comparisons never yield NULL.
func columnExpr(f queryir.Field) string {
	if f.Kind == queryir.KindText {
		return "COALESCE(" + f.Column + ", '')"
	}
	return "COALESCE(" + f.Column + ", 0)"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func idList(ids []int64) (string, []any) {
	if len(ids) == 0 {
		return "(NULL)", nil
	}
	params := make([]any, len(ids))
	for i, id := range ids {
		params[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", params
}
