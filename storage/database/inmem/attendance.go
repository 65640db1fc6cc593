package inmemdb

import (
	"context"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/attendance"
)

type attendanceRepository struct {
	db *table[attendance.Record]
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db.attendance}
}

var recordOrderings = map[string]comparator[attendance.Record]{
	"date":      func(a, b attendance.Record) int { return a.Date.Compare(b.Date) },
	"marked_at": func(a, b attendance.Record) int { return a.MarkedAt.Compare(b.MarkedAt) },
}

func (repo *attendanceRepository) UpsertRecord(_ context.Context, r attendance.Record) (attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for id, existing := range repo.db.rows {
		if existing.ClassID == r.ClassID && existing.StudentID == r.StudentID && existing.Date.Equal(r.Date) {
			r.ID = id
			r.MarkedAt = existing.MarkedAt
			repo.db.rows[id] = r
			return r, nil
		}
	}
	r.ID = newID()
	repo.db.rows[r.ID] = r
	return r, nil
}

func (repo *attendanceRepository) GetRecord(_ context.Context, id string) (attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if r, ok := repo.db.rows[id]; ok {
		return r, nil
	}
	return attendance.Record{}, attendance.ErrNotFound
}

func (repo *attendanceRepository) UpdateRecord(_ context.Context, r attendance.Record) (attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[r.ID]; !ok {
		return attendance.Record{}, attendance.ErrNotFound
	}
	repo.db.rows[r.ID] = r
	return r, nil
}

func (repo *attendanceRepository) DeleteRecord(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[id]; !ok {
		return attendance.ErrNotFound
	}
	delete(repo.db.rows, id)
	return nil
}

func (repo *attendanceRepository) QueryRecords(_ context.Context, filter attendance.Filter) ([]attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	records := repo.db.filter(func(r attendance.Record) bool {
		if filter.ClassID != "" && r.ClassID != filter.ClassID {
			return false
		}
		if filter.StudentID != "" && r.StudentID != filter.StudentID {
			return false
		}
		if filter.TeacherID != "" && r.TeacherID != filter.TeacherID {
			return false
		}
		if filter.BranchID != "" && r.BranchID != filter.BranchID {
			return false
		}
		if !filter.From.IsZero() && r.Date.Before(filter.From.Time) {
			return false
		}
		if !filter.To.IsZero() && r.Date.After(filter.To.Time) {
			return false
		}
		if len(filter.Statuses) > 0 && !containsStr(filter.Statuses, r.Status) {
			return false
		}
		return true
	})
	sortRows(records, nil, recordOrderings, core.DBOrdering{Field: "date"}, core.DBOrdering{Field: "marked_at"})
	return records, nil
}
