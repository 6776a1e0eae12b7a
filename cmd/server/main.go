// Package main initializes and starts the passkeeper HTTPS server: it reads
// configuration, sets up logging, the pass store, the login cache and the
// fallback repository, and serves the login storage API over mutual TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/passkeeper/internal/cache"
	"github.com/atinyakov/passkeeper/internal/clock"
	"github.com/atinyakov/passkeeper/internal/config"
	"github.com/atinyakov/passkeeper/internal/db"
	"github.com/atinyakov/passkeeper/internal/logger"
	"github.com/atinyakov/passkeeper/internal/pass"
	"github.com/atinyakov/passkeeper/internal/repository"
	"github.com/atinyakov/passkeeper/internal/server/handler/http"
	"github.com/atinyakov/passkeeper/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const (
	cleanerInterval  = time.Hour
	cleanerRetention = 30 * 24 * time.Hour
	shutdownTimeout  = 10 * time.Second
)

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()
	settings, err := options.Settings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(settings.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	fallback, err := newFallback(ctx, settings, clk, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot init fallback storage", zap.Error(err))
	}

	store := pass.NewStore(pass.NewCommand(settings.PassCmd, zapLogger), zapLogger)
	loginService := service.NewLoginService(store, cache.New(clk), fallback, settings, zapLogger)
	if err := loginService.Initialize(ctx); err != nil {
		zapLogger.Fatal("cannot init login service", zap.Error(err))
	}

	// Apply config file edits without a restart.
	if options.Config != "" {
		err := config.Watch(ctx, options, config.DefaultDebounce, func(s *config.Settings) {
			if err := log.SetLevel(s.LogLevel); err != nil {
				zapLogger.Warn("invalid log level", zap.String("level", s.LogLevel), zap.Error(err))
			}
			loginService.Reconfigure(s)
		}, zapLogger)
		if err != nil {
			zapLogger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	loginHandler := &http.LoginHandler{LoginService: loginService, Log: zapLogger}

	// Build the router with middleware and routes.
	router := http.NewRouter(loginHandler, zapLogger)

	tlsConfig, err := serverTLS(settings)
	if err != nil {
		zapLogger.Fatal("failed to configure TLS", zap.Error(err))
	}

	// Create and start the HTTPS server.
	server := &nethttp.Server{
		Addr:              settings.Addr,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	zapLogger.Info("starting HTTPS server",
		zap.String("addr", settings.Addr),
		zap.String("realm", settings.Realm),
		zap.Bool("fuzzy", settings.Fuzzy))
	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
	}

	if err := loginService.Terminate(); err != nil {
		zapLogger.Warn("failed to close fallback storage", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}

// newFallback returns the repository serving the reserved account: Postgres
// when a DSN is configured, a JSON file otherwise.
func newFallback(ctx context.Context, s *config.Settings, clk clock.Clock, log *zap.Logger) (service.Fallback, error) {
	if s.FallbackDSN == "" {
		log.Info("using file fallback storage", zap.String("file", s.FallbackFile))
		return repository.NewFileLoginRepository(s.FallbackFile), nil
	}

	postgresDB, err := db.InitPostgres(ctx, s.FallbackDSN)
	if err != nil {
		return nil, err
	}
	db.StartSoftDeleteCleaner(ctx, postgresDB, clk, cleanerInterval, cleanerRetention, log)
	log.Info("using postgres fallback storage")
	return repository.NewPostgresLoginRepository(postgresDB, clk), nil
}

// serverTLS loads the server key pair and requires every client to present
// a certificate signed by the configured CA.
func serverTLS(s *config.Settings) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.TLSCert, s.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}
	caCert, err := os.ReadFile(s.TLSCA)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		return nil, errors.New("failed to append CA cert to pool")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
