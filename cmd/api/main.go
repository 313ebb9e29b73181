package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"coachlink.app/internal/app"
	"coachlink.app/internal/gateway"
	"coachlink.app/internal/httpapi"
	"coachlink.app/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const service = "coachlink-api"

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("api exited", zap.Error(err))
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
	shutdownTracing, err := obs.InitTracing(ctx, obs.TraceConfig{
		Service:  service,
		Endpoint: cfg.OTLPEndpoint,
		Insecure: cfg.OTLPInsecure,
		Required: cfg.Production && cfg.OTLPEndpoint != "",
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ident, err := app.NewIdentity(ctx, cfg)
	if err != nil {
		return err
	}
	defer ident.Close()

	factory, err := gateway.NewFactory(db, ident.Resolver, gateway.Options{
		QueryTimeout: cfg.QueryTimeout,
		AllowService: cfg.AllowServiceGateway,
	})
	if err != nil {
		return err
	}

	opts := httpapi.Options{
		Version:       version,
		SecureCookies: cfg.Production,
		CORSOrigins:   cfg.CORSOrigins,
		RateBurst:     cfg.RateBurst,
		RatePerSecond: cfg.RatePerSecond,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}
	if ident.Sessions != nil {
		opts.Sessions = ident.Sessions
	}
	ready := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(ready, ident.Resolver, factory, opts)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, httpapi.NewHealthServer(ready))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	logger.Info("listening", zap.String("http", srv.Addr), zap.String("grpc", lis.Addr().String()),
		zap.String("version", version), zap.String("identity_mode", cfg.IdentityMode),
		zap.Bool("sessions", ident.Sessions != nil))
	return serve(ctx, logger, srv, gs, lis)
}
