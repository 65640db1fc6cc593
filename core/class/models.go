package class

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/eduro/core"
)

// Enrollment statuses
const (
	EnrollmentPending   = "pending"
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentDropped   = "dropped"
)

var (
	EnrollmentStatuses = []string{EnrollmentPending, EnrollmentActive, EnrollmentCompleted, EnrollmentDropped}

	// OpenEnrollmentStatuses are the statuses that hold a seat in a class.
	OpenEnrollmentStatuses = []string{EnrollmentPending, EnrollmentActive}

	enrollmentTransitions = map[string][]string{
		EnrollmentPending: {EnrollmentActive, EnrollmentDropped},
		EnrollmentActive:  {EnrollmentCompleted, EnrollmentDropped},
	}
)

// CanTransition reports whether an enrollment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range enrollmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Class struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id"`
	TeacherID string    `json:"teacher_id"`
	CoachID   string    `json:"coach_id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Schedule  string    `json:"schedule"`
	Capacity  int       `json:"capacity"` // 0: unlimited
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

type Enrollment struct {
	ID         string    `json:"id"`
	ClassID    string    `json:"class_id"`
	StudentID  string    `json:"student_id"`
	Status     string    `json:"status"`
	EnrolledAt time.Time `json:"enrolled_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"`  // UTC
}

// NewClass contains information needed to create a new Class.
type NewClass struct {
	BranchID  string `json:"branch_id" validate:"required,uuid"`
	TeacherID string `json:"teacher_id" validate:"omitempty,uuid"`
	CoachID   string `json:"coach_id" validate:"omitempty,uuid"`
	Name      string `json:"name" validate:"required,notblank"`
	Subject   string `json:"subject"`
	Schedule  string `json:"schedule"`
	Capacity  int    `json:"capacity" validate:"min=0"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Subject = core.CleanString(nc.Subject)
	nc.Schedule = core.CleanString(nc.Schedule)
	return validate.Struct(nc)
}

// UpdateClass defines what information may be provided to modify an existing Class.
type UpdateClass struct {
	TeacherID *string `json:"teacher_id" validate:"omitempty,uuid|len=0"`
	CoachID   *string `json:"coach_id" validate:"omitempty,uuid|len=0"`
	Name      *string `json:"name" validate:"omitempty,notblank"`
	Subject   *string `json:"subject"`
	Schedule  *string `json:"schedule"`
	Capacity  *int    `json:"capacity" validate:"omitempty,min=0"`
	IsActive  *bool   `json:"is_active"`
}

func (uc *UpdateClass) Validate(validate *validator.Validate) error {
	if uc.Name != nil {
		name := core.CleanString(*uc.Name)
		uc.Name = &name
	}
	return validate.Struct(uc)
}

type NewEnrollment struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
	Status    string `json:"status" validate:"omitempty,oneof=pending active"` // default: active
}

func (ne NewEnrollment) Validate(validate *validator.Validate) error { return validate.Struct(ne) }

type UpdateEnrollment struct {
	Status string `json:"status" validate:"required,oneof=pending active completed dropped"`
}

func (ue UpdateEnrollment) Validate(validate *validator.Validate) error { return validate.Struct(ue) }

type QueryFilter struct {
	Search    string   `query:"search"`
	BranchID  string   `query:"branch_id"`
	TeacherID string   `query:"teacher_id"`
	CoachID   string   `query:"coach_id"`
	StudentID string   `query:"student_id"` // classes with an open or active enrollment of the student
	IsActive  *bool    `query:"is_active"`
	IDs       []string `query:"id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

type EnrollmentFilter struct {
	ClassID   string   `query:"class_id"`
	ClassIDs  []string `query:"-"`
	StudentID string   `query:"student_id"`
	Statuses  []string `query:"status"`
}

// ImportResult reports the outcome of an enrollment roster import.
type ImportResult struct {
	Enrolled int          `json:"enrolled"`
	Skipped  []SkippedRow `json:"skipped"`
}

type SkippedRow struct {
	Row    int    `json:"row"` // 1-based, as shown by spreadsheet apps
	Value  string `json:"value"`
	Reason string `json:"reason"`
}
