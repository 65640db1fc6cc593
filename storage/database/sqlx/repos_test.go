package sqlxrepos_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
	"github.com/trezcool/eduro/storage/database"
	sqlxrepos "github.com/trezcool/eduro/storage/database/sqlx"
	"github.com/trezcool/eduro/tests"
)

// openTestDB connects to TEST_DATABASE_URL, migrated & emptied. Tests are skipped when it is not set.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db.DB, "up"))
	_, err = db.Exec(`TRUNCATE "user", branch CASCADE`)
	require.NoError(t, err)
	return db
}

type fixtures struct {
	student, teacher user.User
	cls              class.Class
}

func setUpFixtures(t *testing.T, db *sqlx.DB) fixtures {
	t.Helper()
	usrRepo := sqlxrepos.NewUserRepository(db)
	clsRepo := sqlxrepos.NewClassRepository(db)

	fx := fixtures{
		student: testutil.CreateUser(t, usrRepo, "Alice", "alice", "alice@test.cd", "", []string{user.RoleStudent}, true),
		teacher: testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true),
	}
	br := testutil.CreateBranch(t, sqlxrepos.NewBranchRepository(db), "Downtown", "")
	fx.cls = testutil.CreateClass(t, clsRepo, br.ID, fx.teacher.ID, "", "Maths", 0)
	testutil.Enroll(t, clsRepo, fx.cls.ID, fx.student.ID, class.EnrollmentActive)
	return fx
}

func TestAttendanceRepository_UpsertRecord(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fx := setUpFixtures(t, db)
	repo := sqlxrepos.NewAttendanceRepository(db)

	day := time.Date(2026, time.October, 5, 0, 0, 0, 0, time.UTC)
	rec := attendance.Record{
		ClassID:   fx.cls.ID,
		StudentID: fx.student.ID,
		TeacherID: fx.teacher.ID,
		BranchID:  fx.cls.BranchID,
		Date:      day,
		Status:    attendance.StatusPresent,
		MarkedAt:  core.NowFunc(),
		UpdatedAt: core.NowFunc(),
	}
	first, err := repo.UpsertRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, first.Date.Equal(day))

	rec.Status = attendance.StatusLate
	second, err := repo.UpsertRecord(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, attendance.StatusLate, second.Status)

	records, err := repo.QueryRecords(ctx, attendance.Filter{TeacherID: fx.teacher.ID, Statuses: []string{attendance.StatusLate}})
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = repo.GetRecord(ctx, "not-a-uuid")
	assert.Equal(t, attendance.ErrNotFound, err)
}

func TestReceiptRepository_CreateReceipt(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fx := setUpFixtures(t, db)
	repo := sqlxrepos.NewReceiptRepository(db)

	now := core.NowFunc()
	r := fee.Receipt{
		Number:      "RCP-202610-0000CAFE",
		BranchID:    fx.cls.BranchID,
		StudentID:   fx.student.ID,
		Description: "Tuition",
		Amount:      150050,
		Currency:    "USD",
		Status:      fee.StatusPending,
		DueDate:     core.Day(now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := repo.CreateReceipt(ctx, r)
	require.NoError(t, err)
	assert.Empty(t, created.ClassID)
	assert.True(t, created.PaidAt.IsZero())

	_, err = repo.CreateReceipt(ctx, r)
	assert.Equal(t, fee.ErrDuplicateNumber, err)

	got, err := repo.GetReceiptByNumber(ctx, r.Number)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(150050), got.Amount)
}

func TestQuizRepository_FinalizeAttempt(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fx := setUpFixtures(t, db)
	repo := sqlxrepos.NewQuizRepository(db)

	qz, qns := testutil.CreateQuiz(t, repo, quiz.Quiz{ClassID: fx.cls.ID, Title: "Week 1", CreatedBy: fx.teacher.ID},
		testutil.SingleChoice("2 + 2?", "4", "5"),
		testutil.SingleChoice("3 + 3?", "6", "7"),
	)
	listed, err := repo.ListQuestions(ctx, qz.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, qns[0].ID, listed[0].ID)
	assert.Equal(t, []string{"4", "5"}, listed[0].Options)

	a, err := repo.CreateAttempt(ctx, quiz.Attempt{QuizID: qz.ID, StudentID: fx.student.ID, Status: quiz.StatusInProgress, StartedAt: core.NowFunc()})
	require.NoError(t, err)
	resp, err := repo.UpsertResponse(ctx, quiz.Response{AttemptID: a.ID, QuestionID: qns[0].ID, Answer: []string{"4"}, AnsweredAt: core.NowFunc()})
	require.NoError(t, err)

	resp.IsCorrect, resp.PointsAwarded = true, 1
	a.Status, a.SubmitReason, a.Score, a.MaxScore = quiz.StatusCompleted, quiz.ReasonManual, 1, 2
	a.SubmittedAt = core.NowFunc()
	_, err = repo.FinalizeAttempt(ctx, a, []quiz.Response{resp})
	require.NoError(t, err)

	// only in-progress attempts may be finalized
	_, err = repo.FinalizeAttempt(ctx, a, nil)
	assert.Equal(t, quiz.ErrAttemptClosed, err)

	responses, err := repo.ListResponses(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].IsCorrect)
}
