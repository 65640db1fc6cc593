package class

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/user"
)

var (
	// errors
	ErrNotFound           = errors.New("class not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrClassFull          = errors.New("class is full")
	ErrClassInactive      = errors.New("class is not active")
	ErrAlreadyEnrolled    = errors.New("student is already enrolled in this class")
	ErrNotAStudent        = errors.New("user is not a student")
	ErrInvalidTransition  = errors.New("invalid enrollment status transition")
)

type (
	Repository interface {
		CreateClass(ctx context.Context, cls Class) (Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		// QueryClasses applies AND operation on available QueryFilter fields.
		QueryClasses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Class, error)
		UpdateClass(ctx context.Context, cls Class) (Class, error)
		DeleteClass(ctx context.Context, id string) error

		CreateEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, id string) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter EnrollmentFilter) ([]Enrollment, error)
		UpdateEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
	}

	// Students resolves the users that may be enrolled in classes.
	Students interface {
		GetByID(id string) (user.User, error)
		GetByUsernameOrEmail(uname string) (user.User, error)
	}

	Service interface {
		CreateClass(ctx context.Context, nc NewClass) (Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		QueryClasses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Class, error)
		UpdateClass(ctx context.Context, id string, uc UpdateClass) (Class, error)
		DeleteClass(ctx context.Context, id string) error

		Enroll(ctx context.Context, classID string, ne NewEnrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, id string) (Enrollment, error)
		SetEnrollmentStatus(ctx context.Context, id, status string) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter EnrollmentFilter) ([]Enrollment, error)
		// IsEnrolled reports whether the student holds an active enrollment in the class.
		IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
		// ImportEnrollments enrolls the students listed in the first column of an Excel roster.
		ImportEnrollments(ctx context.Context, classID string, r io.Reader) (ImportResult, error)
	}

	service struct {
		repo     Repository
		students Students

		// serializes seat checks with enrollment creation
		enrollMu sync.Mutex
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, students Students) Service {
	return &service{repo: repo, students: students}
}

func (svc *service) CreateClass(ctx context.Context, nc NewClass) (Class, error) {
	now := core.NowFunc()
	return svc.repo.CreateClass(ctx, Class{
		BranchID:  nc.BranchID,
		TeacherID: nc.TeacherID,
		CoachID:   nc.CoachID,
		Name:      nc.Name,
		Subject:   nc.Subject,
		Schedule:  nc.Schedule,
		Capacity:  nc.Capacity,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *service) GetClass(ctx context.Context, id string) (Class, error) {
	if id == "" {
		return Class{}, ErrNotFound
	}
	return svc.repo.GetClass(ctx, id)
}

func (svc *service) QueryClasses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, filter, ordering)
}

func (svc *service) UpdateClass(ctx context.Context, id string, uc UpdateClass) (Class, error) {
	cls, err := svc.GetClass(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if uc.TeacherID != nil {
		cls.TeacherID = *uc.TeacherID
	}
	if uc.CoachID != nil {
		cls.CoachID = *uc.CoachID
	}
	if uc.Name != nil {
		cls.Name = *uc.Name
	}
	if uc.Subject != nil {
		cls.Subject = core.CleanString(*uc.Subject)
	}
	if uc.Schedule != nil {
		cls.Schedule = core.CleanString(*uc.Schedule)
	}
	if uc.Capacity != nil {
		cls.Capacity = *uc.Capacity
	}
	if uc.IsActive != nil {
		cls.IsActive = *uc.IsActive
	}
	cls.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateClass(ctx, cls)
}

func (svc *service) DeleteClass(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	return svc.repo.DeleteClass(ctx, id)
}

func (svc *service) Enroll(ctx context.Context, classID string, ne NewEnrollment) (Enrollment, error) {
	cls, err := svc.GetClass(ctx, classID)
	if err != nil {
		return Enrollment{}, err
	}
	if !cls.IsActive {
		return Enrollment{}, ErrClassInactive
	}

	usr, err := svc.students.GetByID(ne.StudentID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Enrollment{}, ErrNotAStudent
		}
		return Enrollment{}, errors.Wrap(err, "finding student")
	}
	if !usr.IsStudent() || !usr.IsActive {
		return Enrollment{}, ErrNotAStudent
	}

	status := ne.Status
	if status == "" {
		status = EnrollmentActive
	}

	svc.enrollMu.Lock()
	defer svc.enrollMu.Unlock()

	open, err := svc.repo.QueryEnrollments(ctx, EnrollmentFilter{ClassID: cls.ID, Statuses: OpenEnrollmentStatuses})
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "querying enrollments")
	}
	for _, enr := range open {
		if enr.StudentID == usr.ID {
			return Enrollment{}, ErrAlreadyEnrolled
		}
	}
	if cls.Capacity > 0 && len(open) >= cls.Capacity {
		return Enrollment{}, ErrClassFull
	}

	now := core.NowFunc()
	return svc.repo.CreateEnrollment(ctx, Enrollment{
		ClassID:    cls.ID,
		StudentID:  usr.ID,
		Status:     status,
		EnrolledAt: now,
		UpdatedAt:  now,
	})
}

func (svc *service) GetEnrollment(ctx context.Context, id string) (Enrollment, error) {
	if id == "" {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	return svc.repo.GetEnrollment(ctx, id)
}

func (svc *service) SetEnrollmentStatus(ctx context.Context, id, status string) (Enrollment, error) {
	enr, err := svc.GetEnrollment(ctx, id)
	if err != nil {
		return Enrollment{}, err
	}
	if !CanTransition(enr.Status, status) {
		return Enrollment{}, ErrInvalidTransition
	}

	enr.Status = status
	enr.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateEnrollment(ctx, enr)
}

func (svc *service) QueryEnrollments(ctx context.Context, filter EnrollmentFilter) ([]Enrollment, error) {
	return svc.repo.QueryEnrollments(ctx, filter)
}

func (svc *service) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	if classID == "" || studentID == "" {
		return false, nil
	}
	enrs, err := svc.repo.QueryEnrollments(ctx, EnrollmentFilter{
		ClassID:   classID,
		StudentID: studentID,
		Statuses:  []string{EnrollmentActive},
	})
	if err != nil {
		return false, errors.Wrap(err, "querying enrollments")
	}
	return len(enrs) > 0, nil
}

func (svc *service) ImportEnrollments(ctx context.Context, classID string, r io.Reader) (ImportResult, error) {
	var res ImportResult
	if _, err := svc.GetClass(ctx, classID); err != nil {
		return res, err
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return res, core.NewValidationError(errors.Wrap(err, "opening excel file"))
	}
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return res, core.NewValidationError(errors.New("excel file does not contain any sheets"))
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return res, errors.Wrapf(err, "reading rows of sheet %s", sheetName)
	}

	res.Skipped = make([]SkippedRow, 0)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		var value string
		if len(row) > 0 {
			value = core.CleanString(row[0])
		}
		skip := func(reason string) {
			res.Skipped = append(res.Skipped, SkippedRow{Row: i + 1, Value: value, Reason: reason})
		}
		if value == "" {
			skip("missing username or email")
			continue
		}

		usr, err := svc.students.GetByUsernameOrEmail(value)
		if err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				skip(user.ErrNotFound.Error())
				continue
			}
			return res, errors.Wrap(err, "finding student")
		}

		_, err = svc.Enroll(ctx, classID, NewEnrollment{StudentID: usr.ID, Status: EnrollmentActive})
		switch errors.Cause(err) {
		case nil:
			res.Enrolled++
		case ErrAlreadyEnrolled, ErrClassFull, ErrClassInactive, ErrNotAStudent:
			skip(errors.Cause(err).Error())
		default:
			return res, err
		}
	}
	return res, nil
}
