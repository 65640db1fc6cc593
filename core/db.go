package core

import (
	"context"
	"database/sql"
)

// DBExecutor is satisfied by *sql.DB & *sql.Tx.
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// SafeOrderings keeps the orderings whose Field is in allowed (column names), dropping the rest.
func SafeOrderings(orderings []DBOrdering, allowed ...string) []DBOrdering {
	safe := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		for _, a := range allowed {
			if ord.Field == a {
				safe = append(safe, ord)
				break
			}
		}
	}
	return safe
}
