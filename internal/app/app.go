package app

import (
	"context"

	"gitlab.com/nevasik7/alerting/logger"
)

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

type Scheduler interface {
	Start() error
	Stop()
}

type App struct {
	log       logger.Logger
	httpSrv   HTTPServer
	refresher Scheduler
}

func NewApp(log logger.Logger, httpSrv HTTPServer, refresher Scheduler) *App {
	return &App{log: log, httpSrv: httpSrv, refresher: refresher}
}

func (a *App) Start() error {
	a.log.Debug("app start begin...")

	if a.refresher != nil {
		if err := a.refresher.Start(); err != nil {
			return err
		}
	}

	go func() {
		if err := a.httpSrv.Start(); err != nil {
			a.log.Fatalf("http server failed: %v", err)
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debug("app stop begin...")

	if a.refresher != nil {
		a.refresher.Stop()
	}
	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	a.log.Info("app stopped")
	return nil
}
