package dashboard

import (
	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
)

// AtRiskAttendanceRate is the attendance rate under which a student is considered at risk.
const AtRiskAttendanceRate = 0.75

// Kinds of dashboards
const (
	KindStudent       = "student"
	KindTeacher       = "teacher"
	KindBranchManager = "branch_manager"
	KindCoach         = "coach"
)

type EnrolledClass struct {
	Class      class.Class      `json:"class"`
	Enrollment class.Enrollment `json:"enrollment"`
}

type QuizAvailability struct {
	Quiz         quiz.Quiz         `json:"quiz"`
	Availability quiz.Availability `json:"availability"`
	AttemptsUsed int               `json:"attempts_used"`
	BestScore    float64           `json:"best_percentage"`
	// InProgress is the id of the attempt the student may resume, if any.
	InProgress string `json:"in_progress,omitempty"`
}

type Student struct {
	Kind            string             `json:"kind"`
	Enrollments     []EnrolledClass    `json:"enrollments"`
	Quizzes         []QuizAvailability `json:"quizzes"`
	RecentAttempts  []quiz.Attempt     `json:"recent_attempts"`
	Attendance      attendance.Summary `json:"attendance"`
	PendingReceipts []fee.Receipt      `json:"pending_receipts"`
	OverdueReceipts []fee.Receipt      `json:"overdue_receipts"`
}

type ClassStats struct {
	Class             class.Class `json:"class"`
	ActiveEnrollments int         `json:"active_enrollments"`
}

type QuizStats struct {
	Quiz              quiz.Quiz `json:"quiz"`
	Attempts          int       `json:"attempts"`
	Closed            int       `json:"closed"`
	AveragePercentage float64   `json:"average_percentage"` // of closed attempts
	PassRate          float64   `json:"pass_rate"`          // of closed attempts
}

type Teacher struct {
	Kind       string             `json:"kind"`
	Classes    []ClassStats       `json:"classes"`
	Quizzes    []QuizStats        `json:"quizzes"`
	Attendance attendance.Summary `json:"attendance"`
}

type BranchManager struct {
	Kind        string             `json:"kind"`
	Branch      branch.Branch      `json:"branch"`
	Classes     []ClassStats       `json:"classes"`
	Enrollments map[string]int     `json:"enrollments"` // {status: count}
	Fees        []fee.Totals       `json:"fees"`
	Attendance  attendance.Summary `json:"attendance"`
}

type StudentProgress struct {
	StudentID         string   `json:"student_id"`
	Name              string   `json:"name"`
	ClassID           string   `json:"class_id"`
	Attempts          int      `json:"attempts"`
	AveragePercentage float64  `json:"average_percentage"`
	AttendanceRate    float64  `json:"attendance_rate"`
	AtRisk            bool     `json:"at_risk"`
	RiskReasons       []string `json:"risk_reasons"`
}

type Coach struct {
	Kind     string            `json:"kind"`
	Classes  []ClassStats      `json:"classes"`
	Students []StudentProgress `json:"students"`
	AtRisk   int               `json:"at_risk"`
}
