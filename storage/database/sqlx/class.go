package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/class"
)

const (
	classColumns      = `id, branch_id, teacher_id, coach_id, name, subject, schedule, capacity, is_active, created_at, updated_at`
	enrollmentColumns = `id, class_id, student_id, status, enrolled_at, updated_at`
)

type (
	classRow struct {
		ID        string      `db:"id"`
		BranchID  string      `db:"branch_id"`
		TeacherID null.String `db:"teacher_id"`
		CoachID   null.String `db:"coach_id"`
		Name      string      `db:"name"`
		Subject   string      `db:"subject"`
		Schedule  string      `db:"schedule"`
		Capacity  int         `db:"capacity"`
		IsActive  bool        `db:"is_active"`
		CreatedAt time.Time   `db:"created_at"`
		UpdatedAt time.Time   `db:"updated_at"`
	}

	enrollmentRow struct {
		ID         string    `db:"id"`
		ClassID    string    `db:"class_id"`
		StudentID  string    `db:"student_id"`
		Status     string    `db:"status"`
		EnrolledAt time.Time `db:"enrolled_at"`
		UpdatedAt  time.Time `db:"updated_at"`
	}
)

type classRepository struct {
	db *sqlx.DB
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *sqlx.DB) class.Repository {
	return &classRepository{db: db}
}

func (repo *classRepository) boil(cls class.Class) classRow {
	return classRow{
		ID:        cls.ID,
		BranchID:  cls.BranchID,
		TeacherID: null.NewString(cls.TeacherID, cls.TeacherID != ""),
		CoachID:   null.NewString(cls.CoachID, cls.CoachID != ""),
		Name:      cls.Name,
		Subject:   cls.Subject,
		Schedule:  cls.Schedule,
		Capacity:  cls.Capacity,
		IsActive:  cls.IsActive,
		CreatedAt: cls.CreatedAt.UTC(),
		UpdatedAt: cls.UpdatedAt.UTC(),
	}
}

func (repo *classRepository) unboil(row classRow) class.Class {
	return class.Class{
		ID:        row.ID,
		BranchID:  row.BranchID,
		TeacherID: row.TeacherID.String,
		CoachID:   row.CoachID.String,
		Name:      row.Name,
		Subject:   row.Subject,
		Schedule:  row.Schedule,
		Capacity:  row.Capacity,
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

func (repo *classRepository) unboilEnrollment(row enrollmentRow) class.Enrollment {
	return class.Enrollment{
		ID:         row.ID,
		ClassID:    row.ClassID,
		StudentID:  row.StudentID,
		Status:     row.Status,
		EnrolledAt: row.EnrolledAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

func (repo *classRepository) CreateClass(ctx context.Context, cls class.Class) (class.Class, error) {
	cls.ID = newID()
	row := repo.boil(cls)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO class (`+classColumns+`)
		VALUES (:id, :branch_id, :teacher_id, :coach_id, :name, :subject, :schedule, :capacity, :is_active, :created_at, :updated_at)`,
		row)
	if err != nil {
		return class.Class{}, errors.Wrap(err, "inserting class")
	}
	return repo.unboil(row), nil
}

func (repo *classRepository) GetClass(ctx context.Context, id string) (class.Class, error) {
	if !isUUID(id) {
		return class.Class{}, class.ErrNotFound
	}
	var row classRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+classColumns+` FROM class WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return class.Class{}, class.ErrNotFound
		}
		return class.Class{}, errors.Wrap(err, "finding class by ID")
	}
	return repo.unboil(row), nil
}

func (repo *classRepository) QueryClasses(ctx context.Context, filter *class.QueryFilter, ordering []core.DBOrdering) ([]class.Class, error) {
	w := new(where)
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(name ILIKE ? OR subject ILIKE ?)", val, val)
		}
		if filter.BranchID != "" {
			w.add("branch_id::text = ?", filter.BranchID)
		}
		if filter.TeacherID != "" {
			w.add("teacher_id::text = ?", filter.TeacherID)
		}
		if filter.CoachID != "" {
			w.add("coach_id::text = ?", filter.CoachID)
		}
		if filter.StudentID != "" {
			w.add("id IN (SELECT class_id FROM enrollment WHERE student_id::text = ? AND status IN (?))",
				filter.StudentID, class.OpenEnrollmentStatuses)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
		if len(filter.IDs) > 0 {
			w.add("id::text IN (?)", filter.IDs)
		}
	}

	var rows []classRow
	order := orderBy(ordering, []string{"name", "subject", "capacity", "created_at"}, core.DBOrdering{Field: "name", Ascending: true})
	if err := selectWhere(ctx, repo.db, &rows, `SELECT `+classColumns+` FROM class`, w, order); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]class.Class, 0, len(rows))
	for _, row := range rows {
		classes = append(classes, repo.unboil(row))
	}
	return classes, nil
}

func (repo *classRepository) UpdateClass(ctx context.Context, cls class.Class) (class.Class, error) {
	row := repo.boil(cls)
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE class SET
			teacher_id = :teacher_id, coach_id = :coach_id, name = :name, subject = :subject,
			schedule = :schedule, capacity = :capacity, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return class.Class{}, errors.Wrap(err, "updating class")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return class.Class{}, class.ErrNotFound
	}
	return repo.unboil(row), nil
}

func (repo *classRepository) DeleteClass(ctx context.Context, id string) error {
	if !isUUID(id) {
		return class.ErrNotFound
	}
	ok, err := execAffected(ctx, repo.db, `DELETE FROM class WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting class")
	}
	if !ok {
		return class.ErrNotFound
	}
	return nil
}

func (repo *classRepository) CreateEnrollment(ctx context.Context, enr class.Enrollment) (class.Enrollment, error) {
	enr.ID = newID()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO enrollment (`+enrollmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		enr.ID, enr.ClassID, enr.StudentID, enr.Status, enr.EnrolledAt.UTC(), enr.UpdatedAt.UTC())
	if err != nil {
		return class.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return enr, nil
}

func (repo *classRepository) GetEnrollment(ctx context.Context, id string) (class.Enrollment, error) {
	if !isUUID(id) {
		return class.Enrollment{}, class.ErrEnrollmentNotFound
	}
	var row enrollmentRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+enrollmentColumns+` FROM enrollment WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return class.Enrollment{}, class.ErrEnrollmentNotFound
		}
		return class.Enrollment{}, errors.Wrap(err, "finding enrollment by ID")
	}
	return repo.unboilEnrollment(row), nil
}

func (repo *classRepository) QueryEnrollments(ctx context.Context, filter class.EnrollmentFilter) ([]class.Enrollment, error) {
	w := new(where)
	if filter.ClassID != "" {
		w.add("class_id::text = ?", filter.ClassID)
	}
	if len(filter.ClassIDs) > 0 {
		w.add("class_id::text IN (?)", filter.ClassIDs)
	}
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		w.add("status IN (?)", filter.Statuses)
	}

	var rows []enrollmentRow
	if err := selectWhere(ctx, repo.db, &rows, `SELECT `+enrollmentColumns+` FROM enrollment`, w, " ORDER BY enrolled_at ASC"); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrs := make([]class.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrs = append(enrs, repo.unboilEnrollment(row))
	}
	return enrs, nil
}

func (repo *classRepository) UpdateEnrollment(ctx context.Context, enr class.Enrollment) (class.Enrollment, error) {
	ok, err := execAffected(ctx, repo.db,
		`UPDATE enrollment SET status = $2, updated_at = $3 WHERE id = $1`, enr.ID, enr.Status, enr.UpdatedAt.UTC())
	if err != nil {
		return class.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if !ok {
		return class.Enrollment{}, class.ErrEnrollmentNotFound
	}
	return enr, nil
}
