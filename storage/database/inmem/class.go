package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/class"
)

type classRepository struct {
	classes     *table[class.Class]
	enrollments *table[class.Enrollment]
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *DB) class.Repository {
	return &classRepository{classes: db.class, enrollments: db.enrollment}
}

var classOrderings = map[string]comparator[class.Class]{
	"name":       func(a, b class.Class) int { return strings.Compare(a.Name, b.Name) },
	"subject":    func(a, b class.Class) int { return strings.Compare(a.Subject, b.Subject) },
	"capacity":   func(a, b class.Class) int { return a.Capacity - b.Capacity },
	"created_at": func(a, b class.Class) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

func (repo *classRepository) CreateClass(_ context.Context, cls class.Class) (class.Class, error) {
	repo.classes.Lock()
	defer repo.classes.Unlock()

	cls.ID = newID()
	repo.classes.rows[cls.ID] = cls
	return cls, nil
}

func (repo *classRepository) GetClass(_ context.Context, id string) (class.Class, error) {
	repo.classes.RLock()
	defer repo.classes.RUnlock()

	if cls, ok := repo.classes.rows[id]; ok {
		return cls, nil
	}
	return class.Class{}, class.ErrNotFound
}

func (repo *classRepository) QueryClasses(_ context.Context, filter *class.QueryFilter, ordering []core.DBOrdering) ([]class.Class, error) {
	var studentClasses map[string]bool
	if filter != nil && filter.StudentID != "" {
		repo.enrollments.RLock()
		studentClasses = make(map[string]bool)
		for _, enr := range repo.enrollments.rows {
			if enr.StudentID == filter.StudentID && containsStr(class.OpenEnrollmentStatuses, enr.Status) {
				studentClasses[enr.ClassID] = true
			}
		}
		repo.enrollments.RUnlock()
	}

	repo.classes.RLock()
	defer repo.classes.RUnlock()

	classes := repo.classes.filter(func(cls class.Class) bool {
		if filter == nil {
			return true
		}
		if filter.Search != "" && !matches(filter.Search, cls.Name, cls.Subject) {
			return false
		}
		if filter.BranchID != "" && cls.BranchID != filter.BranchID {
			return false
		}
		if filter.TeacherID != "" && cls.TeacherID != filter.TeacherID {
			return false
		}
		if filter.CoachID != "" && cls.CoachID != filter.CoachID {
			return false
		}
		if studentClasses != nil && !studentClasses[cls.ID] {
			return false
		}
		if filter.IsActive != nil && cls.IsActive != *filter.IsActive {
			return false
		}
		if len(filter.IDs) > 0 && !containsStr(filter.IDs, cls.ID) {
			return false
		}
		return true
	})
	sortRows(classes, ordering, classOrderings, core.DBOrdering{Field: "name", Ascending: true})
	return classes, nil
}

func (repo *classRepository) UpdateClass(_ context.Context, cls class.Class) (class.Class, error) {
	repo.classes.Lock()
	defer repo.classes.Unlock()

	if _, ok := repo.classes.rows[cls.ID]; !ok {
		return class.Class{}, class.ErrNotFound
	}
	repo.classes.rows[cls.ID] = cls
	return cls, nil
}

func (repo *classRepository) DeleteClass(_ context.Context, id string) error {
	repo.classes.Lock()
	if _, ok := repo.classes.rows[id]; !ok {
		repo.classes.Unlock()
		return class.ErrNotFound
	}
	delete(repo.classes.rows, id)
	repo.classes.Unlock()

	// ON DELETE CASCADE
	repo.enrollments.Lock()
	defer repo.enrollments.Unlock()
	for enrID, enr := range repo.enrollments.rows {
		if enr.ClassID == id {
			delete(repo.enrollments.rows, enrID)
		}
	}
	return nil
}

func (repo *classRepository) CreateEnrollment(_ context.Context, enr class.Enrollment) (class.Enrollment, error) {
	repo.enrollments.Lock()
	defer repo.enrollments.Unlock()

	enr.ID = newID()
	repo.enrollments.rows[enr.ID] = enr
	return enr, nil
}

func (repo *classRepository) GetEnrollment(_ context.Context, id string) (class.Enrollment, error) {
	repo.enrollments.RLock()
	defer repo.enrollments.RUnlock()

	if enr, ok := repo.enrollments.rows[id]; ok {
		return enr, nil
	}
	return class.Enrollment{}, class.ErrEnrollmentNotFound
}

func (repo *classRepository) QueryEnrollments(_ context.Context, filter class.EnrollmentFilter) ([]class.Enrollment, error) {
	repo.enrollments.RLock()
	defer repo.enrollments.RUnlock()

	enrs := repo.enrollments.filter(func(enr class.Enrollment) bool {
		if filter.ClassID != "" && enr.ClassID != filter.ClassID {
			return false
		}
		if len(filter.ClassIDs) > 0 && !containsStr(filter.ClassIDs, enr.ClassID) {
			return false
		}
		if filter.StudentID != "" && enr.StudentID != filter.StudentID {
			return false
		}
		if len(filter.Statuses) > 0 && !containsStr(filter.Statuses, enr.Status) {
			return false
		}
		return true
	})
	sortRows(enrs, nil, map[string]comparator[class.Enrollment]{
		"enrolled_at": func(a, b class.Enrollment) int { return a.EnrolledAt.Compare(b.EnrolledAt) },
	}, core.DBOrdering{Field: "enrolled_at", Ascending: true})
	return enrs, nil
}

func (repo *classRepository) UpdateEnrollment(_ context.Context, enr class.Enrollment) (class.Enrollment, error) {
	repo.enrollments.Lock()
	defer repo.enrollments.Unlock()

	if _, ok := repo.enrollments.rows[enr.ID]; !ok {
		return class.Enrollment{}, class.ErrEnrollmentNotFound
	}
	repo.enrollments.rows[enr.ID] = enr
	return enr, nil
}
