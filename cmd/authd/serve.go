package main

import (
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	auth "github.com/opsimulator/auth-service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP authentication server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := auth.LoadConfig(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runServer(cfg)
	},
}

func init() {
	serveCmd.Flags().String("server.addr", ":8080", "listen address")
	serveCmd.Flags().String("db.dsn", "", "postgres connection string")
}

func openDB(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func runServer(cfg auth.Config) error {
	logger := auth.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := openDB(cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := auth.NewRepositoryManager(db)
	repo.MustValidate()

	mailer := auth.NewSMTPMailer(auth.SMTPConfig{
		Host:     cfg.App.Mail.Host,
		Port:     cfg.App.Mail.Port,
		Username: cfg.App.Mail.Username,
		Password: cfg.App.Mail.Password,
		From:     cfg.App.Mail.From,
		ReplyTo:  cfg.App.Mail.ReplyTo,
	}).WithLogger(logger)

	tokens, err := auth.NewTokenService(cfg.App.JWT.Secret, cfg.App.JWT.ExpirationSeconds, cfg.App.JWT.Issuer, logger)
	if err != nil {
		return err
	}

	users := auth.NewUserService(repo).WithLogger(logger)
	verification := auth.NewEmailVerificationService(repo, mailer, auth.EmailVerificationConfig{
		TTLHours:           cfg.App.VerifyEmail.TTLHours,
		BackendVerifyURL:   cfg.App.VerifyEmail.BackendVerifyURL,
		FrontendSuccessURL: cfg.App.VerifyEmail.FrontendSuccessURL,
		FrontendErrorURL:   cfg.App.VerifyEmail.FrontendErrorURL,
	}).WithLogger(logger)
	resets := auth.NewPasswordResetService(repo, users, mailer, auth.PasswordResetConfig{
		ExpirationMinutes: cfg.App.PasswordReset.ExpirationMinutes,
	}).WithLogger(logger)
	refresh := auth.NewRefreshService(repo, auth.RefreshConfig{
		MaxSessionsPerUser: cfg.App.JWT.MaxSessionsPerUser,
	}).WithLogger(logger)

	controller := auth.NewAuthController(repo, users, verification, resets, refresh, tokens,
		auth.WithControllerLogger(logger))

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.NewErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New())
	if len(cfg.Security.PermitAll) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.Security.PermitAll, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		}))
	}

	auth.RegisterAuthRoutes(app, controller)

	cleanup, err := auth.NewCleanupScheduler(repo)
	if err != nil {
		return err
	}
	cleanup.WithLogger(logger)
	if err := cleanup.Start(); err != nil {
		return err
	}
	defer cleanup.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		errCh <- app.Listen(cfg.Server.Addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		return app.ShutdownWithTimeout(10 * time.Second)
	}
}
