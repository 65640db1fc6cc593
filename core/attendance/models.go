package attendance

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/eduro/core"
)

// Statuses
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
	StatusExcused = "excused"
)

var Statuses = []string{StatusPresent, StatusAbsent, StatusLate, StatusExcused}

type Record struct {
	ID        string    `json:"id"`
	ClassID   string    `json:"class_id"`
	StudentID string    `json:"student_id"`
	TeacherID string    `json:"teacher_id"`
	BranchID  string    `json:"branch_id"`
	Date      time.Time `json:"date"` // midnight UTC
	Status    string    `json:"status"`
	Notes     string    `json:"notes"`
	MarkedAt  time.Time `json:"marked_at"`  // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func recordID(r Record) string { return r.ID }

// NewRecord contains information needed to mark the attendance of a student.
type NewRecord struct {
	ClassID   string    `json:"class_id" validate:"required,uuid"`
	StudentID string    `json:"student_id" validate:"required,uuid"`
	Date      core.Date `json:"date"`
	Status    string    `json:"status" validate:"required,oneof=present absent late excused"`
	Notes     string    `json:"notes" validate:"max=1000"`
	MarkedBy  string    `json:"-"`
}

func (nr *NewRecord) Validate(validate *validator.Validate) error {
	nr.Notes = core.CleanString(nr.Notes)
	if err := validate.Struct(nr); err != nil {
		return err
	}
	return requireDate(nr.Date)
}

// UpdateRecord defines what information may be provided to modify an existing Record.
type UpdateRecord struct {
	Status *string `json:"status" validate:"omitempty,oneof=present absent late excused"`
	Notes  *string `json:"notes" validate:"omitempty,max=1000"`
}

func (ur *UpdateRecord) Validate(validate *validator.Validate) error {
	if ur.Notes != nil {
		notes := core.CleanString(*ur.Notes)
		ur.Notes = &notes
	}
	return validate.Struct(ur)
}

type BulkEntry struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
	Status    string `json:"status" validate:"required,oneof=present absent late excused"`
	Notes     string `json:"notes" validate:"max=1000"`
}

// BulkMark marks the attendance of a class roster for one day.
// Actively enrolled students without an entry get DefaultStatus, if set.
type BulkMark struct {
	ClassID       string      `json:"class_id" validate:"required,uuid"`
	Date          core.Date   `json:"date"`
	DefaultStatus string      `json:"default_status" validate:"omitempty,oneof=present absent late excused"`
	Entries       []BulkEntry `json:"entries" validate:"dive"`
	MarkedBy      string      `json:"-"`
}

func (bm *BulkMark) Validate(validate *validator.Validate) error {
	if err := validate.Struct(bm); err != nil {
		return err
	}
	return requireDate(bm.Date)
}

func requireDate(d core.Date) error {
	if d.IsZero() {
		return core.NewValidationError(nil, core.FieldError{Field: "date", Error: "this field is required"})
	}
	return nil
}

type Filter struct {
	ClassID   string    `query:"class_id"`
	StudentID string    `query:"student_id"`
	TeacherID string    `query:"teacher_id"`
	BranchID  string    `query:"branch_id"`
	From      core.Date `query:"from"`
	To        core.Date `query:"to"`
	Statuses  []string  `query:"status"`
}

type Summary struct {
	Total   int     `json:"total"`
	Present int     `json:"present"`
	Absent  int     `json:"absent"`
	Late    int     `json:"late"`
	Excused int     `json:"excused"`
	Rate    float64 `json:"rate"` // (present + late) / (total - excused)
}

// HasData reports whether the rate is backed by at least one non-excused record.
func (s Summary) HasData() bool { return s.Total-s.Excused > 0 }

// Summarize counts the records per status & computes the attendance rate.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.Total++
		switch r.Status {
		case StatusPresent:
			s.Present++
		case StatusAbsent:
			s.Absent++
		case StatusLate:
			s.Late++
		case StatusExcused:
			s.Excused++
		}
	}
	if s.HasData() {
		s.Rate = float64(s.Present+s.Late) / float64(s.Total-s.Excused)
	}
	return s
}
