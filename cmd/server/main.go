package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/api"
	"github.com/skyquote/skyquote/internal/app"
	"github.com/skyquote/skyquote/internal/app/maintenance"
	iauth "github.com/skyquote/skyquote/internal/auth"
	"github.com/skyquote/skyquote/internal/database"
	"github.com/skyquote/skyquote/internal/notify"
	"github.com/skyquote/skyquote/internal/services"
	"github.com/skyquote/skyquote/pkg/logger"
	"github.com/skyquote/skyquote/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("skyquote-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := ensureSecretsPresent(cfg); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, cfg.Server.LogFormat); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := database.Open(cfg.Database.DatabaseSettings())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeDatabase(db, log)

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if cfg.Auth.Bootstrap.Email != "" {
		if err := database.EnsureBootstrapAdmin(db, cfg.Auth.Bootstrap.Email, cfg.Auth.Bootstrap.Name, cfg.Auth.Bootstrap.Password); err != nil {
			return fmt.Errorf("seed bootstrap admin: %w", err)
		}
	}

	var mailer mail.Mailer
	if cfg.Email.SMTP.Enabled {
		mailer, err = mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return fmt.Errorf("initialise smtp mailer: %w", err)
		}
	} else {
		log.Warn("smtp disabled; outbound email stays queued until a transport is configured")
	}

	dispatcher, err := notify.NewDispatcher(db, mailer, notify.WithSendTimeout(cfg.Email.SMTP.Timeout))
	if err != nil {
		return fmt.Errorf("initialise dispatcher: %w", err)
	}
	defer dispatcher.Wait()

	events, err := services.NewEventService(db)
	if err != nil {
		return fmt.Errorf("initialise event service: %w", err)
	}

	enquiries, err := services.NewEnquiryService(db, dispatcher, events)
	if err != nil {
		return fmt.Errorf("initialise enquiry service: %w", err)
	}

	invites, err := services.NewInviteService(db, dispatcher, events,
		services.WithQuoteBaseURL(cfg.Server.PublicBaseURL))
	if err != nil {
		return fmt.Errorf("initialise invite service: %w", err)
	}

	applications, err := services.NewApplicationService(db, dispatcher, events,
		services.WithPublicBaseURL(cfg.Server.PublicBaseURL),
		services.WithAdminAlertEmail(cfg.Email.AdminAlerts))
	if err != nil {
		return fmt.Errorf("initialise application service: %w", err)
	}

	operators, err := services.NewOperatorService(db)
	if err != nil {
		return fmt.Errorf("initialise operator service: %w", err)
	}

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:     cfg.Auth.JWT.Secret,
		Issuer:     cfg.Auth.JWT.Issuer,
		SessionTTL: cfg.Auth.JWT.SessionTTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	magicLinks, err := iauth.NewMagicLinkService(db, dispatcher, jwtService,
		iauth.WithMagicLinkTTL(cfg.Auth.MagicLink.TTL),
		iauth.WithAdminBaseURL(cfg.Server.AdminBaseURL))
	if err != nil {
		return fmt.Errorf("initialise magic link service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		sweeper, sweepErr := maintenance.NewSweeper(db, events,
			maintenance.WithSchedule(cfg.Maintenance.Schedule),
			maintenance.WithEmailStaleAfter(cfg.Maintenance.EmailStaleAfter),
			maintenance.WithMagicLinkRetention(cfg.Maintenance.MagicLinkRetention))
		if sweepErr != nil {
			return fmt.Errorf("initialise maintenance sweeper: %w", sweepErr)
		}
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start maintenance sweeper: %w", err)
		}
		defer func() {
			stopCtx := sweeper.Stop()
			if err := sweeper.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown sweep failed", zap.Error(err))
			}
		}()
	}

	router, err := api.NewRouter(db, cfg, api.Deps{
		Enquiries:    enquiries,
		Invites:      invites,
		Applications: applications,
		Operators:    operators,
		Events:       events,
		MagicLinks:   magicLinks,
		JWT:          jwtService,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	return nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database handle unavailable during shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("closing database failed", zap.Error(err))
	}
}
