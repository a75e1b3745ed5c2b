package main

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/realtime"
	"github.com/trezcool/ratiba/core/schedule"
	emailsvc "github.com/trezcool/ratiba/services/email"
	locksvc "github.com/trezcool/ratiba/services/lock"
	logsvc "github.com/trezcool/ratiba/services/logger"
	"github.com/trezcool/ratiba/storage/database"
	sqlxrepos "github.com/trezcool/ratiba/storage/database/sqlx"
)

var logger core.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	stdLogger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	rLogger := logsvc.NewRollbarLogger(stdLogger, conf)
	rLogger.Enable(!conf.Debug)
	logger = rLogger

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	mailSvc := emailsvc.NewConsoleService(conf)
	if !conf.Debug {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)
	schedule.InitValidators(validate, translator)

	// the CLI has no connected users: events go to an empty hub
	svc := schedule.NewService(
		sqlxrepos.NewScheduleRepository(db),
		locksvc.NewLocalLocker(),
		realtime.NewHub(logger),
		mailSvc,
		logger,
		validate,
		conf,
	)

	// start CLI
	cli := commandLine{
		db:   db,
		svc:  svc,
		conf: conf,
		out:  os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("\nerror: "+err.Error(), err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
