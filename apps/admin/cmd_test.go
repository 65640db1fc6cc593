package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
	cachesvc "github.com/trezcool/eduro/services/cache"
	emailsvc "github.com/trezcool/eduro/services/email"
	logsvc "github.com/trezcool/eduro/services/logger"
	inmemdb "github.com/trezcool/eduro/storage/database/inmem"
	"github.com/trezcool/eduro/tests"
)

var conf = core.NewTestConfig()

type cliEnv struct {
	cli      *commandLine
	usrRepo  user.Repository
	brRepo   branch.Repository
	clsRepo  class.Repository
	quizRepo quiz.Repository
}

func setup(t *testing.T) *cliEnv {
	t.Helper()
	logger := logsvc.NopLogger{}
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	// set up DB & repos
	db := inmemdb.Open()
	env := &cliEnv{
		usrRepo:  inmemdb.NewUserRepository(db),
		brRepo:   inmemdb.NewBranchRepository(db),
		clsRepo:  inmemdb.NewClassRepository(db),
		quizRepo: inmemdb.NewQuizRepository(db),
	}
	usrSvc := user.NewServiceMock(env.usrRepo, mailSvc, conf)
	classSvc := class.NewService(env.clsRepo, usrSvc)

	env.cli = &commandLine{
		db:         &sql.DB{}, // never reached, goose is mocked
		usrRepo:    env.usrRepo,
		classSvc:   classSvc,
		attemptSvc: quiz.NewAttemptService(env.quizRepo, classSvc, nil, logger),
		feeSvc:     fee.NewServiceMock(inmemdb.NewReceiptRepository(db), usrSvc, cachesvc.NewMemoryCache(), mailSvc, conf, logger),
	}
	return env
}

// run runs the CLI & returns its output.
func (env *cliEnv) run(args ...string) (string, error) {
	var out bytes.Buffer
	err := env.cli.run(&out, args)
	return out.String(), err
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	env := setup(t)

	var ran []string
	gooseRunFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		ran = append(ran, command)
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErrStr: "requires at least 1 arg(s), only received 0"},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(tt.args...)
			tt.check(t, err)
		})
	}
	assert.Len(t, ran, 11)

	t.Run("in-memory database", func(t *testing.T) {
		env.cli.db = nil
		_, err := env.run("migrate", "up")
		assert.Equal(t, errNoDatabase, err)
	})
}

func Test_commandLine_addUser(t *testing.T) {
	env := setup(t)

	tests := []cliTest{
		{name: "missing flags", args: []string{"adduser"}, pwd: "pwd", wantErrStr: `required flag(s) "email", "username" not set`},
		{name: "invalid role", args: []string{"adduser", "--username", "awe", "--email", "awe@test.cd", "--role", "wizard:"}, pwd: "pwd", wantErrStr: `invalid role "wizard:"`},
		{name: "empty password", args: []string{"adduser", "--username", "awe", "--email", "awe@test.cd"}, wantErr: errEmptyPassword},
		{name: "create", args: []string{"adduser", "--name", "Awe", "--username", "AWE", "--email", "awe@test.cd", "--role", user.RoleTeacher}, pwd: "pwd"},
		{name: "update", args: []string{"adduser", "--username", "awe", "--email", "awe@test.cd", "--admin"}, pwd: "new-pwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(tt.pwd)
			_, err := env.run(tt.args...)
			tt.check(t, err)
		})
	}

	usrs, err := env.usrRepo.QueryUsers(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, usrs, 1)
	usr := usrs[0]
	assert.Equal(t, "Awe", usr.Name)
	assert.Equal(t, "awe", usr.Username)
	assert.Equal(t, user.AllRoles, usr.Roles)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("new-pwd"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	env := setup(t)
	usr := testutil.CreateUser(t, env.usrRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	tests := []cliTest{
		{name: "no username", args: []string{"resetpassword"}, pwd: "lol", wantErrStr: `required flag(s) "username" not set`},
		{name: "no password", args: []string{"resetpassword", "--username", "lol"}, wantErr: errEmptyPassword},
		{name: "user not found", args: []string{"resetpassword", "--username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "--username", usr.Username}, pwd: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "--username", "AWE@test.cd"}, pwd: "lmao"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(tt.pwd)
			_, err := env.run(tt.args...)
			tt.check(t, err)
			if err != nil {
				return
			}
			refreshed, err := env.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.NoError(t, refreshed.CheckPassword(tt.pwd))
		})
	}
}

func Test_commandLine_expireAttempts(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	timed, _ := testutil.CreateQuiz(t, env.quizRepo, quiz.Quiz{ClassID: "c1", Title: "Timed", TimeLimit: 30, IsPublished: true})
	untimed, _ := testutil.CreateQuiz(t, env.quizRepo, quiz.Quiz{ClassID: "c1", Title: "Untimed", IsPublished: true})
	started := time.Now().UTC().Add(-time.Hour)
	for _, qz := range []quiz.Quiz{timed, untimed} {
		_, err := env.quizRepo.CreateAttempt(ctx, quiz.Attempt{QuizID: qz.ID, StudentID: "s1", Status: quiz.StatusInProgress, StartedAt: started})
		require.NoError(t, err)
	}

	out, err := env.run("expire-attempts")
	require.NoError(t, err)
	assert.Equal(t, "1 attempt(s) expired\n", out)

	expired, err := env.quizRepo.QueryAttempts(ctx, quiz.AttemptFilter{QuizID: timed.ID})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, quiz.StatusTimeout, expired[0].Status)
	assert.Equal(t, quiz.ReasonTimeout, expired[0].SubmitReason)

	out, err = env.run("expire-attempts")
	require.NoError(t, err)
	assert.Equal(t, "0 attempt(s) expired\n", out)
}

func Test_commandLine_importEnrollments(t *testing.T) {
	env := setup(t)
	teacher := testutil.CreateUser(t, env.usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true)
	testutil.CreateUser(t, env.usrRepo, "Alice", "alice", "alice@test.cd", "", []string{user.RoleStudent}, true)
	br := testutil.CreateBranch(t, env.brRepo, "Downtown", "")
	cls := testutil.CreateClass(t, env.clsRepo, br.ID, teacher.ID, "", "Algebra", 0)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, v := range []string{"Student", "alice@test.cd", "teacher", "ghost"} {
		require.NoError(t, f.SetCellValue(sheet, "A"+strconv.Itoa(i+1), v))
	}
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	require.NoError(t, f.SaveAs(path))

	_, err := env.run("import-enrollments", "--class", cls.ID)
	assert.EqualError(t, err, `required flag(s) "file" not set`)

	out, err := env.run("import-enrollments", "--class", cls.ID, "--file", path)
	require.NoError(t, err)
	assert.Equal(t, "1 student(s) enrolled\n"+
		"row 3 skipped (teacher): user is not a student\n"+
		"row 4 skipped (ghost): user not found\n", out)

	_, err = env.run("import-enrollments", "--class", "lol", "--file", path)
	assert.Equal(t, class.ErrNotFound, err)
}

func Test_commandLine_exportReceipts(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, env.usrRepo, "Alice", "alice", "alice@test.cd", "", []string{user.RoleStudent}, true)
	br := testutil.CreateBranch(t, env.brRepo, "Downtown", "")

	r, err := env.cli.feeSvc.Issue(ctx, fee.NewReceipt{
		BranchID:    br.ID,
		StudentID:   alice.ID,
		Description: "Tuition",
		Amount:      150050,
		Currency:    "USD",
		DueDate:     core.NewDate(time.Now().AddDate(0, 1, 0)),
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "receipts.xlsx")
	_, err = env.run("export-receipts", "--branch", br.ID, "--status", "lol", "--out", path)
	assert.EqualError(t, err, `invalid status "lol"`)

	out, err := env.run("export-receipts", "--branch", br.ID, "--status", fee.StatusPending, "--out", path)
	require.NoError(t, err)
	assert.Equal(t, "receipts exported to "+path+"\n", out)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()
	rows, err := f.GetRows("Receipts")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, r.Number, rows[1][0])
	assert.Equal(t, "1500.50", rows[1][5])
}
