package sqlstore

import (
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"librarium/internal/docstore"
)

const (
	colID  = "id"
	colDoc = "doc"

	castJsonb  = "?::jsonb"
	likeEscape = `\`
)

// dialect renders docstore filters and updates for one SQL engine. Field
// names are validated with docstore.ValidateField before they are spliced
// into SQL; values always travel as bound parameters.
type dialect interface {
	name() string
	system() string
	createTable(table string) string
	docValue(raw []byte) any
	eq(field string, value any) (exp.Expression, error)
	gt(field string, value float64) exp.Expression
	containsFold(field, pattern string) exp.Expression
	sortKey(field string) exp.LiteralExpression
	applyUpdate(set []byte, inc map[string]int) exp.LiteralExpression
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return postgresDialect{}, nil
	case SQLiteDriver:
		return sqliteDialect{}, nil
	case "sqlite3":
		return nil, fmt.Errorf("sqlite pools must be opened with driver %q", SQLiteDriver)
	}
	return nil, fmt.Errorf("unsupported sql driver %q", driver)
}

// where translates a docstore filter into a goqu expression. A nil result
// means no condition.
func where(d dialect, filter docstore.Filter) (exp.Expression, error) {
	switch f := filter.(type) {
	case nil:
		return nil, nil
	case docstore.EqFilter:
		if err := docstore.ValidateField(f.Field); err != nil {
			return nil, err
		}
		if f.Field == docstore.FieldID {
			return goqu.C(colID).Eq(f.Value), nil
		}
		return d.eq(f.Field, f.Value)
	case docstore.GtFilter:
		if err := docstore.ValidateField(f.Field); err != nil {
			return nil, err
		}
		return d.gt(f.Field, f.Value), nil
	case docstore.ContainsFoldFilter:
		pattern := "%" + escapeLike(f.Substring) + "%"
		exprs := make([]exp.Expression, 0, len(f.Fields))
		for _, field := range f.Fields {
			if err := docstore.ValidateField(field); err != nil {
				return nil, err
			}
			exprs = append(exprs, d.containsFold(field, pattern))
		}
		if len(exprs) == 0 {
			return goqu.L("1 = 0"), nil
		}
		return goqu.Or(exprs...), nil
	case docstore.AndFilter:
		exprs, err := whereAll(d, f)
		if err != nil || len(exprs) == 0 {
			return nil, err
		}
		return goqu.And(exprs...), nil
	case docstore.OrFilter:
		exprs, err := whereAll(d, f)
		if err != nil {
			return nil, err
		}
		if len(exprs) == 0 {
			return goqu.L("1 = 0"), nil
		}
		return goqu.Or(exprs...), nil
	}
	return nil, fmt.Errorf("unsupported filter %T", filter)
}

func whereAll(d dialect, filters []docstore.Filter) ([]exp.Expression, error) {
	exprs := make([]exp.Expression, 0, len(filters))
	for _, sub := range filters {
		expr, err := where(d, sub)
		if err != nil {
			return nil, err
		}
		if expr == nil {
			// A nil sub-filter matches everything.
			expr = goqu.L("1 = 1")
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type postgresDialect struct{}

func (postgresDialect) name() string   { return "postgres" }
func (postgresDialect) system() string { return "postgresql" }

func (postgresDialect) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`, table)
}

func (postgresDialect) docValue(raw []byte) any {
	return goqu.L(castJsonb, string(raw))
}

func (postgresDialect) eq(field string, value any) (exp.Expression, error) {
	if value == nil {
		return goqu.L(fmt.Sprintf(`(doc->'%[1]s' IS NULL OR doc->'%[1]s' = 'null'::jsonb)`, field)), nil
	}
	raw, err := docstore.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode filter value: %w", err)
	}
	return goqu.L(fmt.Sprintf(`doc->'%s' = `, field)+castJsonb, string(raw)), nil
}

func (postgresDialect) gt(field string, value float64) exp.Expression {
	return goqu.L(fmt.Sprintf(
		`CASE WHEN jsonb_typeof(doc->'%[1]s') = 'number' THEN (doc->>'%[1]s')::numeric > ? ELSE false END`,
		field), value)
}

// containsFold matches a string field, or any string element of an array
// field. Elements are compared one at a time so the pattern never runs over
// the array's JSON text.
func (postgresDialect) containsFold(field, pattern string) exp.Expression {
	return goqu.L(fmt.Sprintf(
		`((jsonb_typeof(doc->'%[1]s') = 'string' AND lower(doc->>'%[1]s') LIKE ? ESCAPE '%[2]s')`+
			` OR (jsonb_typeof(doc->'%[1]s') = 'array' AND EXISTS (`+
			`SELECT 1 FROM jsonb_array_elements(doc->'%[1]s') AS e(v)`+
			` WHERE jsonb_typeof(e.v) = 'string' AND lower(e.v #>> '{}') LIKE ? ESCAPE '%[2]s')))`,
		field, likeEscape), strings.ToLower(pattern), strings.ToLower(pattern))
}

func (postgresDialect) sortKey(field string) exp.LiteralExpression {
	return goqu.L(fmt.Sprintf(`doc->'%s'`, field))
}

func (postgresDialect) applyUpdate(set []byte, inc map[string]int) exp.LiteralExpression {
	sql := "(doc || " + castJsonb + ")"
	args := []any{string(set)}
	for _, field := range sortedKeys(inc) {
		sql = fmt.Sprintf(
			`jsonb_set(%s, '{%[2]s}', to_jsonb(COALESCE((doc->>'%[2]s')::numeric, 0) + ?))`,
			sql, field)
		args = append(args, inc[field])
	}
	return goqu.L(sql, args...)
}

type sqliteDialect struct{}

func (sqliteDialect) name() string   { return "sqlite3" }
func (sqliteDialect) system() string { return "sqlite" }

func (sqliteDialect) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`, table)
}

func (sqliteDialect) docValue(raw []byte) any {
	return string(raw)
}

func (sqliteDialect) eq(field string, value any) (exp.Expression, error) {
	path := jsonPath(field)
	switch v := value.(type) {
	case nil:
		return goqu.L(fmt.Sprintf(`(json_type(doc, '%[1]s') IS NULL OR json_type(doc, '%[1]s') = 'null')`, path)), nil
	case bool:
		kind := "false"
		if v {
			kind = "true"
		}
		return goqu.L(fmt.Sprintf(`json_type(doc, '%s') = ?`, path), kind), nil
	case float64:
		return goqu.L(fmt.Sprintf(
			`(json_type(doc, '%[1]s') IN ('integer', 'real') AND json_extract(doc, '%[1]s') = ?)`, path), v), nil
	case string:
		return goqu.L(fmt.Sprintf(
			`(json_type(doc, '%[1]s') = 'text' AND json_extract(doc, '%[1]s') = ?)`, path), v), nil
	}
	raw, err := docstore.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode filter value: %w", err)
	}
	return goqu.L(fmt.Sprintf(`json_extract(doc, '%s') = json(?)`, path), string(raw)), nil
}

func (sqliteDialect) gt(field string, value float64) exp.Expression {
	return goqu.L(fmt.Sprintf(
		`(json_type(doc, '%[1]s') IN ('integer', 'real') AND json_extract(doc, '%[1]s') > ?)`,
		jsonPath(field)), value)
}

// containsFold walks the field with json_each, which yields a scalar as one
// row and an array as one row per element, and folds each text value with
// foldFunc before matching.
func (sqliteDialect) containsFold(field, pattern string) exp.Expression {
	return goqu.L(fmt.Sprintf(
		`(json_type(doc, '%[1]s') IN ('text', 'array') AND EXISTS (`+
			`SELECT 1 FROM json_each(doc, '%[1]s') AS e WHERE e.type = 'text' AND %[2]s(e.value) LIKE ? ESCAPE '%[3]s'))`,
		jsonPath(field), foldFunc, likeEscape), strings.ToLower(pattern))
}

func (sqliteDialect) sortKey(field string) exp.LiteralExpression {
	return goqu.L(fmt.Sprintf(`json_extract(doc, '%s')`, jsonPath(field)))
}

func (sqliteDialect) applyUpdate(set []byte, inc map[string]int) exp.LiteralExpression {
	sql := "json_patch(doc, ?)"
	args := []any{string(set)}
	for _, field := range sortedKeys(inc) {
		path := jsonPath(field)
		sql = fmt.Sprintf(`json_set(%s, '%s', COALESCE(json_extract(doc, '%s'), 0) + ?)`, sql, path, path)
		args = append(args, inc[field])
	}
	return goqu.L(sql, args...)
}

func jsonPath(field string) string {
	return "$." + field
}
