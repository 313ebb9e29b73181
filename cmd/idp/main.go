package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"coachlink.app/internal/app"
	"coachlink.app/internal/idp"
	"coachlink.app/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const service = "coachlink-idp"

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("idp exited", zap.Error(err))
		_ = obs.Logger().Sync()
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := app.Setup(service)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	obs.Init()
	obs.InitBuildInfo(service, version, commit)

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := idp.NewService(idp.NewPGStore(db), []byte(cfg.JWTSecret),
		idp.WithIssuer(cfg.JWTIssuer),
		idp.WithAudience(cfg.JWTAudience),
		idp.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.IdPAddr,
		Handler:           idp.Router(svc, cfg.IdentityAPIKey),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("idp listening", zap.String("addr", srv.Addr), zap.Bool("api_key", cfg.IdentityAPIKey != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
