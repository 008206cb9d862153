package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gamegroup/internal/auth"
	"gamegroup/internal/config"
	"gamegroup/internal/handler"
	"gamegroup/internal/mail"
	"gamegroup/internal/metrics"
	"gamegroup/internal/service"
	"gamegroup/internal/storage"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	shutdownTimeout = 15 * time.Second
)

func main() {
	//PARSE ARGS
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")

	flag.Parse()
	if configPath == "" {
		log.Fatal("failed get config path from flags")
	}

	cfg := config.MustLoadConfig(configPath)

	//INIT LOGGER
	lgr := setupLogger(cfg.Env)
	lgr.Info("starting gamegroup", slog.String("env", cfg.Env), slog.String("storage", cfg.Storage))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lgr); err != nil {
		lgr.Error("gamegroup stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	lgr.Info("gamegroup stopped")
}

func run(ctx context.Context, cfg *config.Config, lgr *slog.Logger) error {
	//INIT DB
	st, err := setupStorage(ctx, cfg, lgr)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := auth.NewSessionProvider(auth.SessionConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		TTL:    cfg.Auth.SessionTTL,
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}
	lgr.Info("session provider ready", slog.Duration("session_ttl", sessions.TTL()), slog.Duration("link_ttl", cfg.Auth.LinkTTL))

	m := metrics.New()

	srvc := service.NewService(st, setupMailer(cfg, lgr), sessions, m, lgr, service.Config{
		BaseURL:                 cfg.Auth.BaseURL,
		LinkTTL:                 cfg.Auth.LinkTTL,
		SingleActiveToken:       cfg.Auth.SingleActiveToken,
		RevokeOnDispatchFailure: cfg.Auth.OnDispatchFailure == config.DispatchFailureRevoke,
	})

	for _, u := range cfg.SeedUsers {
		if _, err := srvc.EnsureUser(ctx, u.Username, u.Email, u.Role); err != nil {
			return err
		}
		lgr.Info("seeded user", slog.String("email", u.Email), slog.String("role", u.Role))
	}

	go service.SweepExpiredTokens(ctx, st, cfg.DB.SweepInterval, time.Now, lgr)

	//INIT SERVER
	if cfg.Env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}

	h := handler.NewHandler(srvc, m, lgr, handler.Options{
		AllowOrigins:         cfg.HTTPServer.AllowOrigins,
		LinkRequestsPerEmail: 3,
		LinkRequestsPerIP:    30,
		LinkRequestWindow:    10 * time.Minute,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		lgr.Info("http server listening", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func setupStorage(ctx context.Context, cfg *config.Config, lgr *slog.Logger) (storage.Storage, error) {
	if cfg.Storage == config.StorageMemory {
		lgr.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStorage(), nil
	}

	if err := storage.Migrate(cfg.DB.DbURL, cfg.DB.MigrationsPath, lgr); err != nil {
		return nil, err
	}

	return storage.NewPostgresStorage(ctx, cfg.DB.DbURL)
}

func setupMailer(cfg *config.Config, lgr *slog.Logger) mail.Dispatcher {
	if cfg.Mail.Host == "" {
		lgr.Warn("mail host not configured, login links are only logged")
		return mail.NewLogDispatcher(lgr)
	}

	return mail.NewSMTPDispatcher(mail.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		User:     cfg.Mail.User,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		SiteName: cfg.Mail.SiteName,
		Timeout:  cfg.Mail.Timeout,
	}, lgr)
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
