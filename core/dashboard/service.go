package dashboard

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
)

const recentAttempts = 5

type (
	Service interface {
		Student(ctx context.Context, studentID string) (Student, error)
		Teacher(ctx context.Context, teacherID string) (Teacher, error)
		BranchManager(ctx context.Context, managerID string) (BranchManager, error)
		Coach(ctx context.Context, coachID string) (Coach, error)
	}

	service struct {
		users      user.Service
		branches   branch.Service
		classes    class.Service
		quizzes    quiz.Service
		attempts   quiz.AttemptService
		attendance attendance.Service
		fees       fee.Service
	}
)

var _ Service = (*service)(nil)

func NewService(
	users user.Service,
	branches branch.Service,
	classes class.Service,
	quizzes quiz.Service,
	attempts quiz.AttemptService,
	attendanceSvc attendance.Service,
	fees fee.Service,
) Service {
	return &service{
		users:      users,
		branches:   branches,
		classes:    classes,
		quizzes:    quizzes,
		attempts:   attempts,
		attendance: attendanceSvc,
		fees:       fees,
	}
}

func (svc *service) Student(ctx context.Context, studentID string) (Student, error) {
	dash := Student{
		Kind:            KindStudent,
		Enrollments:     make([]EnrolledClass, 0),
		Quizzes:         make([]QuizAvailability, 0),
		RecentAttempts:  make([]quiz.Attempt, 0, recentAttempts),
		PendingReceipts: make([]fee.Receipt, 0),
		OverdueReceipts: make([]fee.Receipt, 0),
	}

	enrs, err := svc.classes.QueryEnrollments(ctx, class.EnrollmentFilter{
		StudentID: studentID,
		Statuses:  []string{class.EnrollmentActive},
	})
	if err != nil {
		return Student{}, errors.Wrap(err, "querying enrollments")
	}
	classIDs := make([]string, 0, len(enrs))
	for _, enr := range enrs {
		cls, err := svc.classes.GetClass(ctx, enr.ClassID)
		if err != nil {
			return Student{}, errors.Wrap(err, "finding class")
		}
		dash.Enrollments = append(dash.Enrollments, EnrolledClass{Class: cls, Enrollment: enr})
		classIDs = append(classIDs, cls.ID)
	}

	attempts, err := svc.attempts.ListAttempts(ctx, quiz.AttemptFilter{StudentID: studentID})
	if err != nil {
		return Student{}, errors.Wrap(err, "querying attempts")
	}
	for i := len(attempts) - 1; i >= 0 && len(dash.RecentAttempts) < recentAttempts; i-- {
		dash.RecentAttempts = append(dash.RecentAttempts, attempts[i])
	}

	if len(classIDs) > 0 {
		published := true
		quizzes, err := svc.quizzes.QueryQuizzes(ctx, &quiz.QueryFilter{ClassIDs: classIDs, IsPublished: &published}, nil)
		if err != nil {
			return Student{}, errors.Wrap(err, "querying quizzes")
		}
		now := core.NowFunc()
		for _, q := range quizzes {
			qa := QuizAvailability{Quiz: q}
			for _, a := range attempts {
				if a.QuizID != q.ID {
					continue
				}
				qa.AttemptsUsed++
				if !a.IsClosed() {
					if !quiz.IsExpired(a, q, now) {
						qa.InProgress = a.ID
					}
					continue
				}
				if a.Percentage > qa.BestScore {
					qa.BestScore = a.Percentage
				}
			}
			if qa.InProgress != "" {
				qa.Availability = quiz.AvailabilityOpen // resumable, whatever the limits
			} else {
				qa.Availability = quiz.GetAvailability(q, now, qa.AttemptsUsed)
			}
			dash.Quizzes = append(dash.Quizzes, qa)
		}
	}

	dash.Attendance, err = svc.attendance.Summary(ctx, attendance.Filter{StudentID: studentID})
	if err != nil {
		return Student{}, errors.Wrap(err, "summarizing attendance")
	}

	receipts, err := svc.fees.Query(ctx, fee.Filter{StudentID: studentID, Statuses: []string{fee.StatusPending}})
	if err != nil {
		return Student{}, errors.Wrap(err, "querying receipts")
	}
	now := core.NowFunc()
	for _, r := range receipts {
		if r.IsOverdue(now) {
			dash.OverdueReceipts = append(dash.OverdueReceipts, r)
		} else {
			dash.PendingReceipts = append(dash.PendingReceipts, r)
		}
	}
	return dash, nil
}

func (svc *service) Teacher(ctx context.Context, teacherID string) (Teacher, error) {
	dash := Teacher{Kind: KindTeacher, Quizzes: make([]QuizStats, 0)}

	classes, err := svc.classes.QueryClasses(ctx, &class.QueryFilter{TeacherID: teacherID}, nil)
	if err != nil {
		return Teacher{}, errors.Wrap(err, "querying classes")
	}
	if dash.Classes, err = svc.classStats(ctx, classes); err != nil {
		return Teacher{}, err
	}

	if len(classes) > 0 {
		quizzes, err := svc.quizzes.QueryQuizzes(ctx, &quiz.QueryFilter{ClassIDs: classIDs(classes)}, nil)
		if err != nil {
			return Teacher{}, errors.Wrap(err, "querying quizzes")
		}
		for _, q := range quizzes {
			attempts, err := svc.attempts.ListAttempts(ctx, quiz.AttemptFilter{QuizID: q.ID})
			if err != nil {
				return Teacher{}, errors.Wrap(err, "querying attempts")
			}
			dash.Quizzes = append(dash.Quizzes, quizStats(q, attempts))
		}
	}

	// own records, through the attendance cache
	records, err := svc.attendance.List(ctx, teacherID)
	if err != nil {
		return Teacher{}, errors.Wrap(err, "listing attendance")
	}
	dash.Attendance = attendance.Summarize(records)
	return dash, nil
}

func (svc *service) BranchManager(ctx context.Context, managerID string) (BranchManager, error) {
	br, err := svc.branches.ManagedBy(ctx, managerID)
	if err != nil {
		return BranchManager{}, err
	}
	dash := BranchManager{Kind: KindBranchManager, Branch: br, Enrollments: make(map[string]int)}
	for _, status := range class.EnrollmentStatuses {
		dash.Enrollments[status] = 0
	}

	classes, err := svc.classes.QueryClasses(ctx, &class.QueryFilter{BranchID: br.ID}, nil)
	if err != nil {
		return BranchManager{}, errors.Wrap(err, "querying classes")
	}
	if dash.Classes, err = svc.classStats(ctx, classes); err != nil {
		return BranchManager{}, err
	}
	if len(classes) > 0 {
		enrs, err := svc.classes.QueryEnrollments(ctx, class.EnrollmentFilter{ClassIDs: classIDs(classes)})
		if err != nil {
			return BranchManager{}, errors.Wrap(err, "querying enrollments")
		}
		for _, enr := range enrs {
			dash.Enrollments[enr.Status]++
		}
	}

	if dash.Fees, err = svc.fees.Totals(ctx, br.ID); err != nil {
		return BranchManager{}, errors.Wrap(err, "totalling receipts")
	}
	if dash.Attendance, err = svc.attendance.Summary(ctx, attendance.Filter{BranchID: br.ID}); err != nil {
		return BranchManager{}, errors.Wrap(err, "summarizing attendance")
	}
	return dash, nil
}

func (svc *service) Coach(ctx context.Context, coachID string) (Coach, error) {
	dash := Coach{Kind: KindCoach, Students: make([]StudentProgress, 0)}

	classes, err := svc.classes.QueryClasses(ctx, &class.QueryFilter{CoachID: coachID}, nil)
	if err != nil {
		return Coach{}, errors.Wrap(err, "querying classes")
	}
	if dash.Classes, err = svc.classStats(ctx, classes); err != nil {
		return Coach{}, err
	}

	for _, cls := range classes {
		progress, err := svc.classProgress(ctx, cls)
		if err != nil {
			return Coach{}, err
		}
		dash.Students = append(dash.Students, progress...)
	}
	for _, p := range dash.Students {
		if p.AtRisk {
			dash.AtRisk++
		}
	}
	return dash, nil
}

// classProgress computes the quiz average & attendance rate of every active student of a class.
func (svc *service) classProgress(ctx context.Context, cls class.Class) ([]StudentProgress, error) {
	enrs, err := svc.classes.QueryEnrollments(ctx, class.EnrollmentFilter{
		ClassID:  cls.ID,
		Statuses: []string{class.EnrollmentActive},
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	if len(enrs) == 0 {
		return nil, nil
	}

	quizzes, err := svc.quizzes.QueryQuizzes(ctx, &quiz.QueryFilter{ClassID: cls.ID}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying quizzes")
	}
	var passingSum float64
	quizIDs := make([]string, 0, len(quizzes))
	for _, q := range quizzes {
		passingSum += q.PassingScore
		quizIDs = append(quizIDs, q.ID)
	}

	percentages := make(map[string][]float64) // {studentID: percentages of closed attempts}
	if len(quizIDs) > 0 {
		attempts, err := svc.attempts.ListAttempts(ctx, quiz.AttemptFilter{QuizIDs: quizIDs})
		if err != nil {
			return nil, errors.Wrap(err, "querying attempts")
		}
		for _, a := range attempts {
			if a.IsClosed() {
				percentages[a.StudentID] = append(percentages[a.StudentID], a.Percentage)
			}
		}
	}

	records, err := svc.attendance.Query(ctx, attendance.Filter{ClassID: cls.ID})
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	recordsByStudent := make(map[string][]attendance.Record)
	for _, rec := range records {
		recordsByStudent[rec.StudentID] = append(recordsByStudent[rec.StudentID], rec)
	}

	progress := make([]StudentProgress, 0, len(enrs))
	for _, enr := range enrs {
		p := StudentProgress{StudentID: enr.StudentID, ClassID: cls.ID, RiskReasons: make([]string, 0)}
		if usr, err := svc.users.GetByID(enr.StudentID); err == nil {
			p.Name = usr.Name
		}

		pcts := percentages[enr.StudentID]
		p.Attempts = len(pcts)
		if p.Attempts > 0 {
			var sum float64
			for _, pct := range pcts {
				sum += pct
			}
			p.AveragePercentage = round2(sum / float64(p.Attempts))
			if len(quizzes) > 0 && p.AveragePercentage < passingSum/float64(len(quizzes)) {
				p.RiskReasons = append(p.RiskReasons, "quiz average below passing score")
			}
		}

		summary := attendance.Summarize(recordsByStudent[enr.StudentID])
		p.AttendanceRate = round2(summary.Rate)
		if summary.HasData() && summary.Rate < AtRiskAttendanceRate {
			p.RiskReasons = append(p.RiskReasons, "low attendance")
		}

		p.AtRisk = len(p.RiskReasons) > 0
		progress = append(progress, p)
	}

	sort.SliceStable(progress, func(i, j int) bool {
		if progress[i].AtRisk != progress[j].AtRisk {
			return progress[i].AtRisk
		}
		return progress[i].Name < progress[j].Name
	})
	return progress, nil
}

func (svc *service) classStats(ctx context.Context, classes []class.Class) ([]ClassStats, error) {
	stats := make([]ClassStats, 0, len(classes))
	for _, cls := range classes {
		enrs, err := svc.classes.QueryEnrollments(ctx, class.EnrollmentFilter{
			ClassID:  cls.ID,
			Statuses: []string{class.EnrollmentActive},
		})
		if err != nil {
			return nil, errors.Wrap(err, "querying enrollments")
		}
		stats = append(stats, ClassStats{Class: cls, ActiveEnrollments: len(enrs)})
	}
	return stats, nil
}

func quizStats(q quiz.Quiz, attempts []quiz.Attempt) QuizStats {
	stats := QuizStats{Quiz: q, Attempts: len(attempts)}
	var sum float64
	var passed int
	for _, a := range attempts {
		if !a.IsClosed() {
			continue
		}
		stats.Closed++
		sum += a.Percentage
		if a.Passed {
			passed++
		}
	}
	if stats.Closed > 0 {
		stats.AveragePercentage = round2(sum / float64(stats.Closed))
		stats.PassRate = round2(float64(passed) / float64(stats.Closed))
	}
	return stats
}

func classIDs(classes []class.Class) []string {
	ids := make([]string, 0, len(classes))
	for _, cls := range classes {
		ids = append(ids, cls.ID)
	}
	return ids
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
