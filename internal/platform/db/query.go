package db

import (
	"fmt"
	"strings"
)

// Query builds a parameterised SELECT with an optional WHERE, ORDER BY and
// LIMIT/OFFSET. Column and table names are trusted; values are always bound.
type Query struct {
	from    string
	cols    string
	where   []string
	args    []interface{}
	orderBy string
}

// NewQuery starts a query over from, which may contain joins.
func NewQuery(from, cols string) *Query {
	return &Query{from: from, cols: cols}
}

func (q *Query) next() int { return len(q.args) + 1 }

// Where appends a clause. Each "?" in clause is replaced by the next
// positional parameter.
func (q *Query) Where(clause string, args ...interface{}) *Query {
	for _, arg := range args {
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", q.next()), 1)
		q.args = append(q.args, arg)
	}
	q.where = append(q.where, clause)
	return q
}

// Eq adds "column = value".
func (q *Query) Eq(column string, value interface{}) *Query {
	return q.Where(column+" = ?", value)
}

// OrderBy sets the ORDER BY expression.
func (q *Query) OrderBy(orderBy string) *Query {
	q.orderBy = orderBy
	return q
}

func (q *Query) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

// CountSQL returns the count query SQL.
func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.from, q.whereSQL())
}

// Args returns the bound filter values.
func (q *Query) Args() []interface{} {
	return q.args
}

// DataSQL returns the page query SQL with ORDER BY and LIMIT/OFFSET.
func (q *Query) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s%s", q.cols, q.from, q.whereSQL())
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.next(), q.next()+1)
	return sql
}

// DataArgs returns the filter values followed by limit and offset.
func (q *Query) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
