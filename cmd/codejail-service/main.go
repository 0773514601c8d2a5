package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"capajail/internal/codejail/config"
	"capajail/internal/codejail/jail"
	"capajail/internal/codejail/telemetry"
	"capajail/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/codejail.yaml"
	defaultEnvPath    = ".env"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", defaultEnvPath, "Optional dotenv file loaded before reading the environment")
	flag.Parse()

	if err := loadDotenv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "load env file failed: %v\n", err)
		return
	}
	appCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	localJail, err := jail.NewJail(appCfg.CodeJail.Jail())
	if err != nil {
		logger.Error(context.Background(), "init local jail failed", zap.Error(err))
		return
	}
	resolver, err := appCfg.LimitResolver()
	if err != nil {
		logger.Error(context.Background(), "init limits failed", zap.Error(err))
		return
	}
	policy, err := appCfg.UnsafePolicy()
	if err != nil {
		logger.Error(context.Background(), "init unsafe code policy failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg, serverDeps{
		jail:     instrument(localJail, metrics),
		resolver: resolver,
		policy:   policy,
		registry: registry,
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "codejail http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Bool("auth", appCfg.Auth.JWTSecret != ""))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

// loadDotenv loads path when it exists. Variables already set win.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}
