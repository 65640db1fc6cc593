// Package sqlxrepos implements the repositories over postgres with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
)

const uniqueViolation = "23505"

func newID() string {
	return uuid.New().String()
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// isUniqueViolation reports whether err is a postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == uniqueViolation
}

// where accumulates AND-ed conditions written with "?" bind vars.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// orderBy builds the ORDER BY clause from the allowed orderings, falling back on def.
func orderBy(ordering []core.DBOrdering, allowed []string, def ...core.DBOrdering) string {
	ords := append(core.SafeOrderings(ordering, allowed...), def...)
	if len(ords) == 0 {
		return ""
	}
	list := make([]string, 0, len(ords))
	for _, ord := range ords {
		list = append(list, ord.String())
	}
	return " ORDER BY " + strings.Join(list, ", ")
}

// selectWhere runs "<base><where><suffix>", expanding slice args (IN (?)) and rebinding to postgres vars.
func selectWhere(ctx context.Context, db *sqlx.DB, dest interface{}, base string, w *where, suffix string) error {
	query, args, err := sqlx.In(base+w.String()+suffix, w.args...)
	if err != nil {
		return err
	}
	return db.SelectContext(ctx, dest, db.Rebind(query), args...)
}

// execAffected runs a statement and reports whether any row was affected.
func execAffected(ctx context.Context, exec sqlx.ExecerContext, query string, args ...interface{}) (bool, error) {
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// withTx runs fn in a transaction, rolling back when it fails.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func isNoRows(err error) bool {
	return errors.Cause(err) == sql.ErrNoRows
}
