package class_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/user"
	emailsvc "github.com/trezcool/eduro/services/email"
	logsvc "github.com/trezcool/eduro/services/logger"
	inmemdb "github.com/trezcool/eduro/storage/database/inmem"
	"github.com/trezcool/eduro/tests"
)

var conf = core.NewTestConfig()

type classEnv struct {
	svc     class.Service
	repo    class.Repository
	usrRepo user.Repository
	cls     class.Class
	alice   user.User
	bob     user.User
	teacher user.User
}

func setup(t *testing.T, capacity int) *classEnv {
	t.Helper()
	db := inmemdb.Open()
	env := &classEnv{
		repo:    inmemdb.NewClassRepository(db),
		usrRepo: inmemdb.NewUserRepository(db),
	}
	usrSvc := user.NewServiceMock(env.usrRepo, emailsvc.NewConsoleServiceMock(conf, logsvc.NopLogger{}), conf)
	env.svc = class.NewService(env.repo, usrSvc)

	env.alice = testutil.CreateUser(t, env.usrRepo, "Alice", "alice", "alice@test.cd", "", []string{user.RoleStudent}, true)
	env.bob = testutil.CreateUser(t, env.usrRepo, "Bob", "bob", "bob@test.cd", "", []string{user.RoleStudent}, true)
	env.teacher = testutil.CreateUser(t, env.usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true)
	env.cls = testutil.CreateClass(t, env.repo, "b1", env.teacher.ID, "", "Maths", capacity)
	return env
}

func TestService_Enroll(t *testing.T) {
	ctx := context.Background()
	env := setup(t, 1)
	ghost := testutil.CreateUser(t, env.usrRepo, "Ghost", "ghost", "ghost@test.cd", "", []string{user.RoleStudent}, false)

	enr, err := env.svc.Enroll(ctx, env.cls.ID, class.NewEnrollment{StudentID: env.alice.ID})
	require.NoError(t, err)
	assert.Equal(t, class.EnrollmentActive, enr.Status)

	tests := []struct {
		name    string
		classID string
		student string
		wantErr error
	}{
		{name: "unknown class", classID: "nope", student: env.bob.ID, wantErr: class.ErrNotFound},
		{name: "unknown student", classID: env.cls.ID, student: "nope", wantErr: class.ErrNotAStudent},
		{name: "not a student", classID: env.cls.ID, student: env.teacher.ID, wantErr: class.ErrNotAStudent},
		{name: "inactive student", classID: env.cls.ID, student: ghost.ID, wantErr: class.ErrNotAStudent},
		{name: "already enrolled", classID: env.cls.ID, student: env.alice.ID, wantErr: class.ErrAlreadyEnrolled},
		{name: "class full", classID: env.cls.ID, student: env.bob.ID, wantErr: class.ErrClassFull},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Enroll(ctx, tc.classID, class.NewEnrollment{StudentID: tc.student})
			assert.Equal(t, tc.wantErr, err)
		})
	}

	t.Run("dropping frees the seat", func(t *testing.T) {
		_, err := env.svc.SetEnrollmentStatus(ctx, enr.ID, class.EnrollmentDropped)
		require.NoError(t, err)
		_, err = env.svc.Enroll(ctx, env.cls.ID, class.NewEnrollment{StudentID: env.bob.ID, Status: class.EnrollmentPending})
		require.NoError(t, err)
	})
	t.Run("inactive class", func(t *testing.T) {
		inactive := false
		_, err := env.svc.UpdateClass(ctx, env.cls.ID, class.UpdateClass{IsActive: &inactive})
		require.NoError(t, err)
		_, err = env.svc.Enroll(ctx, env.cls.ID, class.NewEnrollment{StudentID: env.alice.ID})
		assert.Equal(t, class.ErrClassInactive, err)
	})
}

func TestService_SetEnrollmentStatus(t *testing.T) {
	tests := []struct {
		from, to string
		wantErr  error
	}{
		{from: class.EnrollmentPending, to: class.EnrollmentActive},
		{from: class.EnrollmentPending, to: class.EnrollmentDropped},
		{from: class.EnrollmentPending, to: class.EnrollmentCompleted, wantErr: class.ErrInvalidTransition},
		{from: class.EnrollmentActive, to: class.EnrollmentCompleted},
		{from: class.EnrollmentActive, to: class.EnrollmentDropped},
		{from: class.EnrollmentActive, to: class.EnrollmentPending, wantErr: class.ErrInvalidTransition},
		{from: class.EnrollmentCompleted, to: class.EnrollmentActive, wantErr: class.ErrInvalidTransition},
		{from: class.EnrollmentDropped, to: class.EnrollmentActive, wantErr: class.ErrInvalidTransition},
	}
	for _, tc := range tests {
		t.Run(tc.from+"->"+tc.to, func(t *testing.T) {
			ctx := context.Background()
			env := setup(t, 0)
			enr := testutil.Enroll(t, env.repo, env.cls.ID, env.alice.ID, tc.from)

			got, err := env.svc.SetEnrollmentStatus(ctx, enr.ID, tc.to)
			if tc.wantErr != nil {
				assert.Equal(t, tc.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.to, got.Status)

			enrolled, err := env.svc.IsEnrolled(ctx, env.cls.ID, env.alice.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.to == class.EnrollmentActive, enrolled)
		})
	}
}

func TestService_ImportEnrollments(t *testing.T) {
	ctx := context.Background()
	env := setup(t, 0)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"student"},
		{" Alice@Test.cd "},
		{"teacher"},
		{""},
		{"ghost"},
		{"bob"},
		{"alice"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := env.svc.ImportEnrollments(ctx, env.cls.ID, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enrolled)
	assert.Equal(t, []class.SkippedRow{
		{Row: 3, Value: "teacher", Reason: class.ErrNotAStudent.Error()},
		{Row: 4, Value: "", Reason: "missing username or email"},
		{Row: 5, Value: "ghost", Reason: user.ErrNotFound.Error()},
		{Row: 7, Value: "alice", Reason: class.ErrAlreadyEnrolled.Error()},
	}, res.Skipped)

	t.Run("not an excel file", func(t *testing.T) {
		_, err := env.svc.ImportEnrollments(ctx, env.cls.ID, strings.NewReader("name\nalice\n"))
		var verr *core.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
	t.Run("unknown class", func(t *testing.T) {
		_, err := env.svc.ImportEnrollments(ctx, "nope", strings.NewReader(""))
		assert.Equal(t, class.ErrNotFound, err)
	})
}
