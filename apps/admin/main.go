package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/placement"
	logsvc "github.com/trezcool/lingua/services/logger"
	"github.com/trezcool/lingua/storage/database"
	sqlxrepos "github.com/trezcool/lingua/storage/database/sqlx"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()
	stdLogger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	rbLogger := logsvc.NewRollbarLogger(stdLogger, conf)
	rbLogger.Enable(!conf.Debug)
	logger = rbLogger

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	errAndDie(database.Ping(ctx, db))
	cancel()

	// publishing only needs the validator: no contacts, no emails
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	placement.RegisterValidators(validate, translator)
	usrRepo := sqlxrepos.NewUserRepository(db)

	// start CLI
	cli := commandLine{
		db:           db,
		usrRepo:      usrRepo,
		placementSvc: placement.NewService(sqlxrepos.NewPlacementRepository(db), nil, nil, logger, validate),
		out:          os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %+v", err))
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
