package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
	cachesvc "github.com/trezcool/eduro/services/cache"
	emailsvc "github.com/trezcool/eduro/services/email"
	logsvc "github.com/trezcool/eduro/services/logger"
	"github.com/trezcool/eduro/storage/database"
	sqlxrepos "github.com/trezcool/eduro/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZapLogger(conf)
	if err != nil {
		log.Fatalf("setting up zap logger: %v", err)
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(false)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}

	// set up services
	core.ParseEmailTemplates(logger, false)
	mailSvc := emailsvc.NewConsoleService(conf, logger)
	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	classSvc := class.NewService(sqlxrepos.NewClassRepository(db), usrSvc)
	quizRepo := sqlxrepos.NewQuizRepository(db)

	// start CLI
	cli := commandLine{
		db:         db.DB,
		usrRepo:    usrRepo,
		classSvc:   classSvc,
		attemptSvc: quiz.NewAttemptService(quizRepo, classSvc, nil, logger),
		feeSvc:     fee.NewService(sqlxrepos.NewReceiptRepository(db), usrSvc, cachesvc.NewMemoryCache(), mailSvc, conf, nil, logger),
	}
	err = cli.run(os.Stdout, os.Args[1:])
	_ = db.Close()
	_ = logger.Sync()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
