package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	echoapi "github.com/trezcool/eduro/apps/api/echo"
	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/dashboard"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
	cachesvc "github.com/trezcool/eduro/services/cache"
	emailsvc "github.com/trezcool/eduro/services/email"
	logsvc "github.com/trezcool/eduro/services/logger"
	metricsvc "github.com/trezcool/eduro/services/metrics"
	"github.com/trezcool/eduro/storage/database"
	inmemdb "github.com/trezcool/eduro/storage/database/inmem"
	sqlxrepos "github.com/trezcool/eduro/storage/database/sqlx"
)

// repositories of every domain, backed by postgres or memory.
type repositories struct {
	users      user.Repository
	branches   branch.Repository
	classes    class.Repository
	quizzes    quiz.Repository
	attendance attendance.Repository
	receipts   fee.Repository
	close      func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up logger
	zl, err := logsvc.NewZapLogger(conf)
	if err != nil {
		log.Fatalf("setting up zap logger: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	//goland:noinspection GoUnhandledErrorResult
	defer logger.Sync()

	// set up DB
	repos, err := setUpRepositories(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = repos.close(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	// set up cache
	cache, closeCache, err := setUpCache(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up cache: %v", err), err)
	}
	defer closeCache()

	// set up metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := metricsvc.NewPrometheusMetrics(registry, conf)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	usrSvc := user.NewService(repos.users, mailSvc, conf)
	branchSvc := branch.NewService(repos.branches)
	classSvc := class.NewService(repos.classes, usrSvc)
	quizSvc := quiz.NewService(repos.quizzes, conf)
	attemptSvc := quiz.NewAttemptService(repos.quizzes, classSvc, metrics, logger)
	attendanceSvc := attendance.NewService(repos.attendance, classSvc, cache, conf, metrics, logger)
	feeSvc := fee.NewService(repos.receipts, usrSvc, cache, mailSvc, conf, metrics, logger)
	dashboardSvc := dashboard.NewService(usrSvc, branchSvc, classSvc, quizSvc, attemptSvc, attendanceSvc, feeSvc)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	quiz.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger, false)

	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus scrape endpoint.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Background Workers

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go quiz.NewSweeper(attemptSvc, conf.Quiz.SweepInterval, logger).Run(workersCtx)

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Validate:      validate,
			Translator:    translator,
			UserSvc:       usrSvc,
			BranchSvc:     branchSvc,
			ClassSvc:      classSvc,
			QuizSvc:       quizSvc,
			AttemptSvc:    attemptSvc,
			AttendanceSvc: attendanceSvc,
			FeeSvc:        feeSvc,
			DashboardSvc:  dashboardSvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopWorkers()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpRepositories(conf *core.Config, logger core.Logger) (*repositories, error) {
	if conf.Database.InMemory {
		logger.Warn("using the in-memory database, data will be lost on exit")
		db := inmemdb.Open()
		return &repositories{
			users:      inmemdb.NewUserRepository(db),
			branches:   inmemdb.NewBranchRepository(db),
			classes:    inmemdb.NewClassRepository(db),
			quizzes:    inmemdb.NewQuizRepository(db),
			attendance: inmemdb.NewAttendanceRepository(db),
			receipts:   inmemdb.NewReceiptRepository(db),
			close:      func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &repositories{
		users:      sqlxrepos.NewUserRepository(db),
		branches:   sqlxrepos.NewBranchRepository(db),
		classes:    sqlxrepos.NewClassRepository(db),
		quizzes:    sqlxrepos.NewQuizRepository(db),
		attendance: sqlxrepos.NewAttendanceRepository(db),
		receipts:   sqlxrepos.NewReceiptRepository(db),
		close:      db.Close,
	}, nil
}

func setUpCache(conf *core.Config) (core.Cache, func(), error) {
	if conf.Cache.Backend != "redis" {
		return cachesvc.NewMemoryCache(), func() {}, nil
	}
	client, err := cachesvc.NewRedisClient(context.Background(), conf)
	if err != nil {
		return nil, nil, err
	}
	return cachesvc.NewRedisCache(client), func() { _ = client.Close() }, nil
}
