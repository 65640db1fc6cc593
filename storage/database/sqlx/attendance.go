package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core/attendance"
)

const recordColumns = `id, class_id, student_id, teacher_id, branch_id, date, status, notes, marked_at, updated_at`

type recordRow struct {
	ID        string    `db:"id"`
	ClassID   string    `db:"class_id"`
	StudentID string    `db:"student_id"`
	TeacherID string    `db:"teacher_id"`
	BranchID  string    `db:"branch_id"`
	Date      time.Time `db:"date"`
	Status    string    `db:"status"`
	Notes     string    `db:"notes"`
	MarkedAt  time.Time `db:"marked_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

func (repo *attendanceRepository) boil(r attendance.Record) recordRow {
	return recordRow{
		ID:        r.ID,
		ClassID:   r.ClassID,
		StudentID: r.StudentID,
		TeacherID: r.TeacherID,
		BranchID:  r.BranchID,
		Date:      r.Date.UTC(),
		Status:    r.Status,
		Notes:     r.Notes,
		MarkedAt:  r.MarkedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func (repo *attendanceRepository) unboil(row recordRow) attendance.Record {
	d := row.Date
	return attendance.Record{
		ID:        row.ID,
		ClassID:   row.ClassID,
		StudentID: row.StudentID,
		TeacherID: row.TeacherID,
		BranchID:  row.BranchID,
		Date:      time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		Status:    row.Status,
		Notes:     row.Notes,
		MarkedAt:  row.MarkedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func (repo *attendanceRepository) UpsertRecord(ctx context.Context, r attendance.Record) (attendance.Record, error) {
	row := repo.boil(r)
	row.ID = newID()
	query, args, err := repo.db.BindNamed(`
		INSERT INTO attendance (`+recordColumns+`)
		VALUES (:id, :class_id, :student_id, :teacher_id, :branch_id, :date, :status, :notes, :marked_at, :updated_at)
		ON CONFLICT (class_id, student_id, date) DO UPDATE SET
			teacher_id = EXCLUDED.teacher_id, branch_id = EXCLUDED.branch_id, status = EXCLUDED.status,
			notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
		RETURNING `+recordColumns, row)
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "binding attendance record")
	}
	var saved recordRow
	if err = repo.db.GetContext(ctx, &saved, query, args...); err != nil {
		return attendance.Record{}, errors.Wrap(err, "upserting attendance record")
	}
	return repo.unboil(saved), nil
}

func (repo *attendanceRepository) GetRecord(ctx context.Context, id string) (attendance.Record, error) {
	if !isUUID(id) {
		return attendance.Record{}, attendance.ErrNotFound
	}
	var row recordRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+recordColumns+` FROM attendance WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return attendance.Record{}, attendance.ErrNotFound
		}
		return attendance.Record{}, errors.Wrap(err, "finding attendance record by ID")
	}
	return repo.unboil(row), nil
}

func (repo *attendanceRepository) UpdateRecord(ctx context.Context, r attendance.Record) (attendance.Record, error) {
	ok, err := execAffected(ctx, repo.db,
		`UPDATE attendance SET status = $2, notes = $3, updated_at = $4 WHERE id = $1`,
		r.ID, r.Status, r.Notes, r.UpdatedAt.UTC())
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "updating attendance record")
	}
	if !ok {
		return attendance.Record{}, attendance.ErrNotFound
	}
	return r, nil
}

func (repo *attendanceRepository) DeleteRecord(ctx context.Context, id string) error {
	if !isUUID(id) {
		return attendance.ErrNotFound
	}
	ok, err := execAffected(ctx, repo.db, `DELETE FROM attendance WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting attendance record")
	}
	if !ok {
		return attendance.ErrNotFound
	}
	return nil
}

func (repo *attendanceRepository) QueryRecords(ctx context.Context, filter attendance.Filter) ([]attendance.Record, error) {
	w := new(where)
	if filter.ClassID != "" {
		w.add("class_id::text = ?", filter.ClassID)
	}
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}
	if filter.TeacherID != "" {
		w.add("teacher_id::text = ?", filter.TeacherID)
	}
	if filter.BranchID != "" {
		w.add("branch_id::text = ?", filter.BranchID)
	}
	if !filter.From.IsZero() {
		w.add("date >= ?", filter.From.String())
	}
	if !filter.To.IsZero() {
		w.add("date <= ?", filter.To.String())
	}
	if len(filter.Statuses) > 0 {
		w.add("status IN (?)", filter.Statuses)
	}

	var rows []recordRow
	if err := selectWhere(ctx, repo.db, &rows, `SELECT `+recordColumns+` FROM attendance`, w, " ORDER BY date DESC, marked_at DESC"); err != nil {
		return nil, errors.Wrap(err, "querying attendance records")
	}
	records := make([]attendance.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, repo.unboil(row))
	}
	return records, nil
}
