package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/dashboard"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
	"github.com/trezcool/eduro/tests"
)

type dashboardResp[T any] struct {
	View      string `json:"view"`
	Dashboard T      `json:"dashboard"`
}

func Test_dashboardApi(t *testing.T) {
	env := setup(t)
	s := newSchool(t, env)

	rec := env.do(http.MethodPost, "/v1/attendance/bulk", getToken(t, s.teacher), attendance.BulkMark{
		ClassID:       s.class.ID,
		Date:          core.NewDate(time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC)),
		DefaultStatus: attendance.StatusPresent,
		Entries:       []attendance.BulkEntry{{StudentID: s.bob.ID, Status: attendance.StatusAbsent}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("permissions", func(t *testing.T) {
		tests := []struct {
			name     string
			usr      user.User
			path     string
			wantCode int
		}{
			{name: "admin has no dashboard", usr: s.admin, path: "/v1/dashboard", wantCode: http.StatusForbidden},
			{name: "teacher as student", usr: s.teacher, path: "/v1/dashboard/student", wantCode: http.StatusForbidden},
			{name: "student as manager", usr: s.alice, path: "/v1/dashboard?view=manager", wantCode: http.StatusForbidden},
			{name: "unknown view", usr: s.manager, path: "/v1/dashboard/lol", wantCode: http.StatusForbidden},
			{name: "teacher", usr: s.teacher, path: "/v1/dashboard/teacher", wantCode: http.StatusOK},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := env.do(http.MethodGet, tt.path, getToken(t, tt.usr), nil)
				assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			})
		}
		rec := env.do(http.MethodGet, "/v1/dashboard", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("student", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/v1/dashboard", getToken(t, s.alice), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp dashboardResp[dashboard.Student]
		unmarshal(t, rec, &resp)
		assert.Equal(t, "student", resp.View)
		require.Len(t, resp.Dashboard.Enrollments, 1)
		assert.Equal(t, s.class.ID, resp.Dashboard.Enrollments[0].Class.ID)
		assert.Equal(t, 1, resp.Dashboard.Attendance.Present)
		assert.Empty(t, resp.Dashboard.Quizzes)
	})
	t.Run("teacher", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/v1/dashboard", getToken(t, s.teacher), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp dashboardResp[dashboard.Teacher]
		unmarshal(t, rec, &resp)
		require.Len(t, resp.Dashboard.Classes, 1)
		assert.Equal(t, 2, resp.Dashboard.Classes[0].ActiveEnrollments)
		assert.Equal(t, 2, resp.Dashboard.Attendance.Total)
		assert.InDelta(t, 0.5, resp.Dashboard.Attendance.Rate, 0.0001)
	})
	t.Run("coach", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/v1/dashboard", getToken(t, s.coach), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp dashboardResp[dashboard.Coach]
		unmarshal(t, rec, &resp)
		assert.Equal(t, "coach", resp.View)
		assert.Equal(t, 1, resp.Dashboard.AtRisk)
		require.Len(t, resp.Dashboard.Students, 2)
		assert.Equal(t, s.bob.ID, resp.Dashboard.Students[0].StudentID)
		assert.Equal(t, []string{"low attendance"}, resp.Dashboard.Students[0].RiskReasons)
		assert.False(t, resp.Dashboard.Students[1].AtRisk)
	})
	t.Run("manager", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/v1/dashboard", getToken(t, s.manager), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp dashboardResp[dashboard.BranchManager]
		unmarshal(t, rec, &resp)
		assert.Equal(t, "manager", resp.View)
		assert.Equal(t, s.branch.ID, resp.Dashboard.Branch.ID)
		assert.Equal(t, 2, resp.Dashboard.Enrollments["active"])
		assert.Empty(t, resp.Dashboard.Fees)

		// a manager without a branch
		lonely := testutil.CreateUser(t, env.usrRepo, "Lonely", "lonely", "lonely@test.cd", "", []string{user.RoleBranchManager}, true)
		rec = env.do(http.MethodGet, "/v1/dashboard", getToken(t, lonely), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("student resuming a single attempt quiz", func(t *testing.T) {
		qz, _ := testutil.CreateQuiz(t, env.quizRepo, quiz.Quiz{
			ClassID: s.class.ID, Title: "Once", MaxAttempts: 1, IsPublished: true,
		}, testutil.SingleChoice("2 + 2?", "4", "5"))
		token := getToken(t, s.bob)
		availability := func() dashboard.QuizAvailability {
			rec := env.do(http.MethodGet, "/v1/dashboard/student", token, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var resp dashboardResp[dashboard.Student]
			unmarshal(t, rec, &resp)
			require.Len(t, resp.Dashboard.Quizzes, 1)
			return resp.Dashboard.Quizzes[0]
		}

		rec := env.do(http.MethodPost, "/v1/quizzes/"+qz.ID+"/attempts", token, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var attempt quiz.Attempt
		unmarshal(t, rec, &attempt)

		qa := availability()
		assert.Equal(t, quiz.AvailabilityOpen, qa.Availability)
		assert.Equal(t, attempt.ID, qa.InProgress)
		assert.Equal(t, 1, qa.AttemptsUsed)

		rec = env.do(http.MethodPost, "/v1/attempts/"+attempt.ID+"/submit", token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		qa = availability()
		assert.Equal(t, quiz.AvailabilityExhausted, qa.Availability)
		assert.Empty(t, qa.InProgress)
	})
}
