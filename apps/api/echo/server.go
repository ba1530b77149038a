package echoapi

import (
	"context"
	"net/http"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/classes"
	"github.com/trezcool/lingua/core/material"
	"github.com/trezcool/lingua/core/placement"
	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
	storagesvc "github.com/trezcool/lingua/services/storage"
)

type (
	Deps struct {
		UserSvc      *user.Service
		StudentSvc   *student.Service
		PlacementSvc *placement.Service
		BillingSvc   *billing.Service
		ClassesSvc   *classes.Service
		MaterialSvc  *material.Service
		Media        *storagesvc.LocalStorage // nil when files are not stored locally
		Validate     *validator.Validate
		Translator   ut.Translator
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		conf     *core.Config
		logger   core.Logger
		shutdown chan os.Signal
		deps     *Deps
		app      *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(conf *core.Config, logger core.Logger, shutdown chan os.Signal, deps *Deps) Server {
	s := &server{
		conf:     conf,
		logger:   logger,
		shutdown: shutdown,
		deps:     deps,
		app:      echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger, s.deps.Translator, s.shutdown)
	s.app.Debug = s.conf.Debug

	s.app.GET("/", s.home)
	if s.deps.Media != nil {
		s.app.GET("/media/*", serveMedia(s.deps.Media))
	}

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(newJWTConfig(s.conf))

	registerUserAPI(v1, jwt, s.conf, s.deps.UserSvc, s.deps.Validate)
	registerStudentAPI(v1, jwt, s.deps.StudentSvc)
	registerPlacementAPI(v1, jwt, s.deps.PlacementSvc)
	registerBillingAPI(v1, jwt, s.deps.BillingSvc)
	registerClassesAPI(v1, jwt, s.deps.ClassesSvc)
	registerMaterialAPI(v1, jwt, s.deps.MaterialSvc)
}

func (s *server) Start() error {
	return s.app.Start(s.conf.Server.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}
