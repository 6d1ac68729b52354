package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/aosim/internal/queryir"
)

// SQLCompiler compiles queryir filters to parameterized SQL for SQLite.
//
// CRITICAL: ALL queries include ORDER BY for deterministic results.
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// orderBy is appended to every compiled query.
// COLLATE BINARY keeps text ordering stable across SQLite versions.
const orderBy = " ORDER BY t.block_height ASC, t.position ASC, t.id ASC COLLATE BINARY"

// Compile converts a filter to a query returning matching transaction ids.
// Returns (sql, params, error).
func (c *SQLCompiler) Compile(f queryir.Filter) (string, []any, error) {
	if f.Limit < 0 {
		return "", nil, fmt.Errorf("negative limit %d", f.Limit)
	}

	where, params, err := c.compilePredicate(f.Where)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}

	sql := "SELECT t.id FROM transactions t WHERE " + where + orderBy
	if f.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, f.Limit)
	}
	return sql, params, nil
}

// compilePredicate compiles a predicate to a WHERE clause fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case queryir.OwnerIn:
		return compileIn("t.owner", pred.Owners)
	case queryir.IDIn:
		return compileIn("t.id", pred.IDs)
	case queryir.HeightAtMost:
		return "t.block_height <= ?", []any{pred.Height}, nil
	case queryir.TargetEquals:
		return "t.target = ?", []any{pred.Target}, nil
	case queryir.TagEquals:
		return "EXISTS (SELECT 1 FROM tags g WHERE g.tx_id = t.id AND g.name = ? AND g.value = ?)",
			[]any{pred.Name, pred.Value}, nil
	case queryir.And:
		return c.compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileAnd compiles an And predicate to a conjunction.
func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, "("+sql+")")
		allParams = append(allParams, params...)
	}

	return strings.Join(sqlParts, " AND "), allParams, nil
}

// compileIn compiles set membership. An empty set is always false.
func compileIn(column string, values []string) (string, []any, error) {
	if len(values) == 0 {
		return "1 = 0", nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	params := make([]any, len(values))
	for i, v := range values {
		params[i] = v
	}
	return column + " IN (" + placeholders + ")", params, nil
}
