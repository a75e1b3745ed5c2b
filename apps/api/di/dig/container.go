package dig_container

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/ratiba/apps/api/echo"
	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/realtime"
	"github.com/trezcool/ratiba/core/schedule"
	emailsvc "github.com/trezcool/ratiba/services/email"
	"github.com/trezcool/ratiba/services/jobs"
	locksvc "github.com/trezcool/ratiba/services/lock"
	logsvc "github.com/trezcool/ratiba/services/logger"
	"github.com/trezcool/ratiba/storage/database"
	inmemdb "github.com/trezcool/ratiba/storage/database/inmem"
	sqlxrepos "github.com/trezcool/ratiba/storage/database/sqlx"
)

const redisDialTimeout = 5 * time.Second

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Storage holds the repositories of the configured database engine.
type Storage struct {
	Schedules schedule.Repository
	db        *sql.DB
}

func (st *Storage) Close() error {
	if st.db == nil {
		return nil
	}
	return st.db.Close()
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) *Storage {
	if conf.Database.Engine == "memory" {
		loggerParam.Logger.Warn("using the in-memory database: data is lost on restart")
		return &Storage{Schedules: inmemdb.NewScheduleRepository(inmemdb.Open())}
	}

	db, err := database.Setup(conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return &Storage{Schedules: sqlxrepos.NewScheduleRepository(db), db: db}
}

func newScheduleRepository(st *Storage) schedule.Repository {
	return st.Schedules
}

// newLocker returns a redis lock when redis is configured (several api replicas), a process-local one otherwise.
func newLocker(conf *core.Config, logger core.Logger) schedule.Locker {
	if conf.Redis.Addr == "" {
		return locksvc.NewLocalLocker()
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	client, err := locksvc.NewRedisClient(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	return locksvc.NewRedisLocker(client, conf.Redis.LockTTL, logger)
}

func newNotifier(hub *realtime.Hub) schedule.Notifier {
	return hub
}

func newAuthenticator(conf *core.Config) *realtime.Authenticator {
	return realtime.NewAuthenticator([]byte(conf.SecretKey))
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	schedule.InitValidators(validate, translator)
	return validate
}

func newChainAudit(svc schedule.ServiceInterface, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *jobs.ChainAudit {
	return jobs.NewChainAudit(svc, mailSvc, logger, conf)
}

func newScheduler(conf *core.Config, audit *jobs.ChainAudit, logger core.Logger) *jobs.Scheduler {
	s, err := jobs.NewScheduler(conf.Schedule.AuditSpec, audit, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up jobs: %v", err), err)
	}
	return s
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	svc schedule.ServiceInterface,
	hub *realtime.Hub,
	authenticator *realtime.Authenticator,
	validate *validator.Validate,
	translator ut.Translator,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		ScheduleSvc:   svc,
		Hub:           hub,
		Authenticator: authenticator,
		Validate:      validate,
		Translator:    translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newScheduleRepository))
	must(c.Provide(newLocker))
	must(c.Provide(realtime.NewHub))
	must(c.Provide(newNotifier))
	must(c.Provide(newAuthenticator))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(schedule.NewService, dig.As(new(schedule.ServiceInterface))))
	must(c.Provide(newChainAudit))
	must(c.Provide(newScheduler))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
