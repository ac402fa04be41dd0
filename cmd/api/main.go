package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"solarforecast.org/internal/app"
	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/config"
	"solarforecast.org/internal/httpapi"
	"solarforecast.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("SFA_CONFIG"), "Path to YAML config file")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	app.ConfigureLogging(cfg.Log)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("api stopped")
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	store, closeStore, err := app.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.WithError(err).Warn("close store")
		}
	}()

	svc, err := app.NewService(ctx, cfg, store)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	ready := httpapi.ReadinessCheck{Store: store}
	api := httpapi.New(svc, tokens, ready, version,
		httpapi.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins...),
	)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(ready, 0)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go health.Watch(ctx)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.GRPC.Addr}).Info("grpc listening")
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	grpcSrv.GracefulStop()
	return srv.Shutdown(shutdownCtx)
}
