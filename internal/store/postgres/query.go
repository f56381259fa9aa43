package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// listQuery appends optional filters, ordering and pagination to base.
type listQuery struct {
	sql  strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sql.WriteString(base)
	return q
}

func (q *listQuery) where(cond string, arg any) {
	q.args = append(q.args, arg)
	fmt.Fprintf(&q.sql, " AND "+cond, len(q.args))
}

func (q *listQuery) apply(opts domain.ListOpts, timeCol, order string) (string, []any) {
	if opts.Since != nil {
		q.where(timeCol+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		q.where(timeCol+" < $%d", *opts.Until)
	}
	q.sql.WriteString(" ORDER BY " + order)
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		fmt.Fprintf(&q.sql, " LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		fmt.Fprintf(&q.sql, " OFFSET $%d", len(q.args))
	}
	return q.sql.String(), q.args
}
