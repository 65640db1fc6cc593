package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/dashboard"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
)

type (
	ServerDeps struct {
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Translator     ut.Translator
		DisableReqLogs bool

		UserSvc       user.Service
		BranchSvc     branch.Service
		ClassSvc      class.Service
		QuizSvc       quiz.Service
		AttemptSvc    quiz.AttemptService
		AttendanceSvc attendance.Service
		FeeSvc        fee.Service
		DashboardSvc  dashboard.Service
	}

	Server interface {
		http.Handler
		Start()
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
		Shutdown(context.Context) error
		Close() error
	}

	server struct {
		deps     ServerDeps
		app      *echo.Echo
		auth     *authenticator
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(deps ServerDeps) Server {
	s := &server{
		deps:     deps,
		app:      echo.New(),
		auth:     newAuthenticator(deps.Conf),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug && !conf.TestMode

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(s.auth.jwtConfig)
	acc := &access{branches: s.deps.BranchSvc, classes: s.deps.ClassSvc, quizzes: s.deps.QuizSvc}

	registerUserAPI(v1, jwt, s.auth, s.deps.UserSvc, s.deps.Validate, s.deps.Logger)
	registerBranchAPI(v1, jwt, acc, s.deps.BranchSvc, s.deps.Validate)
	registerClassAPI(v1, jwt, acc, s.deps.ClassSvc, s.deps.Validate)
	registerQuizAPI(v1, jwt, acc, s.deps.QuizSvc, s.deps.AttemptSvc, s.deps.Validate)
	registerAttemptAPI(v1, jwt, s.auth.queryJWT(), acc, s.deps.AttemptSvc, s.deps.Validate, s.deps.Logger)
	registerAttendanceAPI(v1, jwt, acc, s.deps.AttendanceSvc, s.deps.Validate)
	registerReceiptAPI(v1, jwt, acc, s.deps.FeeSvc, s.deps.Validate)
	registerDashboardAPI(v1, jwt, s.deps.DashboardSvc)
}

func (s *server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Errors() <-chan error { return s.errors }

func (s *server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
