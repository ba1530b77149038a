package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/lingua/apps/api/echo"
	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/classes"
	"github.com/trezcool/lingua/core/material"
	"github.com/trezcool/lingua/core/placement"
	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
	emailsvc "github.com/trezcool/lingua/services/email"
	logsvc "github.com/trezcool/lingua/services/logger"
	storagesvc "github.com/trezcool/lingua/services/storage"
	stripesvc "github.com/trezcool/lingua/services/stripe"
	zoomsvc "github.com/trezcool/lingua/services/zoom"
	"github.com/trezcool/lingua/storage/database"
	dummydb "github.com/trezcool/lingua/storage/database/dummy"
	sqlxrepos "github.com/trezcool/lingua/storage/database/sqlx"
)

// EngineMemory keeps every record in memory. Handy for demos; nothing survives a restart.
const EngineMemory = "memory"

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	Repositories struct {
		dig.Out
		Users     user.Repository
		Students  student.Repository
		Placement placement.Repository
		Billing   billing.Repository
		Classes   classes.Repository
		Materials material.Repository
	}

	ServerParams struct {
		dig.In
		Conf         *core.Config
		Logger       core.Logger
		Shutdown     chan os.Signal
		UserSvc      *user.Service
		StudentSvc   *student.Service
		PlacementSvc *placement.Service
		BillingSvc   *billing.Service
		ClassesSvc   *classes.Service
		MaterialSvc  *material.Service
		Media        *storagesvc.LocalStorage
		Validate     *validator.Validate
		Translator   ut.Translator
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
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

// newDB returns nil with the memory engine.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	if conf.Database.Engine == EngineMemory {
		return nil
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(context.Background(), conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newRepositories(db *sqlx.DB) Repositories {
	if db == nil {
		mem := dummydb.Open()
		return Repositories{
			Users:     dummydb.NewUserRepository(mem),
			Students:  dummydb.NewStudentRepository(mem),
			Placement: dummydb.NewPlacementRepository(mem),
			Billing:   dummydb.NewBillingRepository(mem),
			Classes:   dummydb.NewClassesRepository(mem),
			Materials: dummydb.NewMaterialRepository(mem),
		}
	}
	return Repositories{
		Users:     sqlxrepos.NewUserRepository(db),
		Students:  sqlxrepos.NewStudentRepository(db),
		Placement: sqlxrepos.NewPlacementRepository(db),
		Billing:   sqlxrepos.NewBillingRepository(db),
		Classes:   sqlxrepos.NewClassesRepository(db),
		Materials: sqlxrepos.NewMaterialRepository(db),
	}
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.RegisterValidators(validate, translator)
	placement.RegisterValidators(validate, translator)
	return validate
}

func newBillingProvider(conf *core.Config) billing.Provider {
	return stripesvc.NewProvider(conf)
}

// newMeetingScheduler returns nil when no Zoom account is configured: sessions then keep the URL they are given.
func newMeetingScheduler(conf *core.Config) classes.MeetingScheduler {
	if !conf.Zoom.Enabled() {
		return nil
	}
	return zoomsvc.NewScheduler(conf)
}

// newFileStorage also returns the LocalStorage, if that is the one in use, so that the API can serve its files.
func newFileStorage(conf *core.Config) (material.FileStorage, *storagesvc.LocalStorage, error) {
	switch conf.Storage.Driver {
	case "oss":
		files, err := storagesvc.NewOSSStorage(conf)
		return files, nil, err
	case "", "local":
		files := storagesvc.NewLocalStorage(conf)
		return files, files, nil
	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", conf.Storage.Driver)
	}
}

func newStudentService(repo student.Repository, usrSvc *user.Service, mailSvc core.EmailService, validate *validator.Validate) *student.Service {
	return student.NewService(repo, usrSvc, mailSvc, validate)
}

func newPlacementService(
	repo placement.Repository,
	students *student.Service,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
) *placement.Service {
	return placement.NewService(repo, students, mailSvc, logger, validate)
}

func newBillingService(
	conf *core.Config,
	repo billing.Repository,
	provider billing.Provider,
	students *student.Service,
	mailSvc core.EmailService,
	logger core.Logger,
) *billing.Service {
	return billing.NewService(conf, repo, provider, students, mailSvc, logger)
}

func newClassesService(
	repo classes.Repository,
	students *student.Service,
	billSvc *billing.Service,
	scheduler classes.MeetingScheduler,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
) *classes.Service {
	return classes.NewService(repo, students, billSvc, scheduler, mailSvc, logger, validate)
}

func newMaterialService(
	conf *core.Config,
	repo material.Repository,
	files material.FileStorage,
	students *student.Service,
	billSvc *billing.Service,
	logger core.Logger,
	validate *validator.Validate,
) *material.Service {
	return material.NewService(conf, repo, files, students, billSvc, logger, validate)
}

func newServer(p ServerParams) echoapi.Server {
	return echoapi.NewServer(p.Conf, p.Logger, p.Shutdown, &echoapi.Deps{
		UserSvc:      p.UserSvc,
		StudentSvc:   p.StudentSvc,
		PlacementSvc: p.PlacementSvc,
		BillingSvc:   p.BillingSvc,
		ClassesSvc:   p.ClassesSvc,
		MaterialSvc:  p.MaterialSvc,
		Media:        p.Media,
		Validate:     p.Validate,
		Translator:   p.Translator,
	})
}

// New returns a new dependency injection dig.Container.
// shutdown receives the signals that stop the API.
func New(conf *core.Config, shutdown chan os.Signal) *dig.Container {
	c := dig.New()

	must(c.Provide(func() *core.Config { return conf }))
	must(c.Provide(func() chan os.Signal { return shutdown }))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newBillingProvider))
	must(c.Provide(newMeetingScheduler))
	must(c.Provide(newFileStorage))
	must(c.Provide(user.NewService))
	must(c.Provide(newStudentService))
	must(c.Provide(newPlacementService))
	must(c.Provide(newBillingService))
	must(c.Provide(newClassesService))
	must(c.Provide(newMaterialService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
