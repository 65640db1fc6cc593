// Package inmemdb implements the repositories over mutex-guarded maps. Used by tests & DB-less DEV runs.
package inmemdb

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
)

type (
	DB struct {
		user       *table[user.User]
		branch     *table[branch.Branch]
		class      *table[class.Class]
		enrollment *table[class.Enrollment]
		quiz       *table[quiz.Quiz]
		question   *table[quiz.Question]
		attempt    *table[quiz.Attempt]
		response   *table[quiz.Response]
		violation  *table[quiz.Violation]
		attendance *table[attendance.Record]
		receipt    *table[fee.Receipt]
	}

	table[T any] struct {
		sync.RWMutex
		rows map[string]T
	}
)

func Open() *DB {
	return &DB{
		user:       newTable[user.User](),
		branch:     newTable[branch.Branch](),
		class:      newTable[class.Class](),
		enrollment: newTable[class.Enrollment](),
		quiz:       newTable[quiz.Quiz](),
		question:   newTable[quiz.Question](),
		attempt:    newTable[quiz.Attempt](),
		response:   newTable[quiz.Response](),
		violation:  newTable[quiz.Violation](),
		attendance: newTable[attendance.Record](),
		receipt:    newTable[fee.Receipt](),
	}
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

// filter returns the rows matching keep. Callers hold the lock.
func (t *table[T]) filter(keep func(T) bool) []T {
	rows := make([]T, 0, len(t.rows))
	for _, row := range t.rows {
		if keep == nil || keep(row) {
			rows = append(rows, row)
		}
	}
	return rows
}

func newID() string {
	return uuid.New().String()
}

type comparator[T any] func(a, b T) int

// sortRows sorts rows by the given orderings, falling back on def.
// Orderings on unknown fields are ignored.
func sortRows[T any](rows []T, ordering []core.DBOrdering, fields map[string]comparator[T], def ...core.DBOrdering) {
	ords := make([]core.DBOrdering, 0, len(ordering)+len(def))
	for _, ord := range ordering {
		if _, ok := fields[ord.Field]; ok {
			ords = append(ords, ord)
		}
	}
	ords = append(ords, def...)

	sort.SliceStable(rows, func(i, j int) bool {
		for _, ord := range ords {
			cmp, ok := fields[ord.Field]
			if !ok {
				continue
			}
			c := cmp(rows[i], rows[j])
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

func containsStr(vals []string, val string) bool {
	for _, v := range vals {
		if v == val {
			return true
		}
	}
	return false
}

func matches(search string, vals ...string) bool {
	search = strings.ToLower(search)
	for _, v := range vals {
		if strings.Contains(strings.ToLower(v), search) {
			return true
		}
	}
	return false
}
