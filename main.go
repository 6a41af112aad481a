package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"examkiosk/internal/api"
	"examkiosk/internal/auth"
	"examkiosk/internal/certs"
	"examkiosk/internal/config"
	"examkiosk/internal/database"
	"examkiosk/internal/logging"
	"examkiosk/internal/presentation"
	"examkiosk/internal/printer"
	"examkiosk/internal/scanner"
)

// activityRetention bounds how long journal entries are kept.
const activityRetention = 90 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.IsDev)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("kiosk stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("opening database", zap.String("path", cfg.DBPath))
	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		return err
	}
	defer db.Close()

	settings := database.NewSettingsRepo(db)
	students := database.NewStudentRepo(db)
	activity := database.NewActivityRepo(db)

	if cfg.RosterFile != "" {
		n, err := students.ImportFile(ctx, cfg.RosterFile)
		if err != nil {
			return err
		}
		logger.Info("roster imported", zap.String("file", cfg.RosterFile), zap.Int("students", n))
	}
	if n, err := students.Count(ctx); err == nil && n == 0 {
		logger.Warn("roster is empty; every scan will be reported as unknown")
	}

	if pruned, err := activity.DeleteOlderThan(ctx, time.Now().Add(-activityRetention)); err != nil {
		logger.Warn("prune activity log", zap.Error(err))
	} else if pruned > 0 {
		logger.Info("pruned activity log", zap.Int64("entries", pruned))
	}

	manager, err := auth.NewManager(ctx, auth.ManagerOptions{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Store:   settings,
		Journal: activity,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	board := presentation.NewBoard(presentation.WithTTL(cfg.Board.ErrorTTL, cfg.Board.SuccessTTL))
	if enabled, err := settings.LoadAutoPrint(ctx); err != nil {
		logger.Warn("load auto-print flag", zap.Error(err))
	} else {
		board.SetAutoPrint(enabled)
	}

	dispatcher, err := scanner.NewDispatcher(scanner.Options{
		URL:     cfg.Scanner.URL,
		Roster:  students,
		Printer: printer.NewClient(cfg.Printer.URL, cfg.Printer.Timeout, logger.Named("printer")),
		Board:   board,
		Journal: activity,
		Flags:   settings,
		Logger:  logger,
		Operator: func() string {
			if u := manager.User(); u != nil {
				return u.Username
			}
			return ""
		},
	})
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Deps{
		Manager:        manager,
		Kiosk:          dispatcher,
		Board:          board,
		Activity:       activity,
		CSRF:           auth.NewCSRFProtection(12 * time.Hour),
		Limiter:        auth.DefaultRateLimiter(),
		Logger:         logger,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	e := newServer(cfg, logger)
	handler.RegisterRoutes(e)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if manager.EnsureAuthenticated(gctx) {
			logger.Info("operator session restored")
		} else {
			logger.Info("no operator session; login required")
		}
		if cfg.Scanner.AutoConnect {
			if err := dispatcher.Connect(gctx); err != nil {
				logger.Warn("scanner not connected at startup", zap.Error(err))
			}
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("starting kiosk backend", zap.String("addr", cfg.HTTP.Addr), zap.Bool("tls", cfg.HTTP.TLSEnabled))
		var err error
		if cfg.HTTP.TLSEnabled {
			var p certs.Paths
			if p, err = certs.Ensure(cfg.HTTP.CertDir, listenHost(cfg.HTTP.Addr)); err != nil {
				return err
			}
			err = e.StartTLS(cfg.HTTP.Addr, p.Cert, p.Key)
		} else {
			err = e.Start(cfg.HTTP.Addr)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		dispatcher.Disconnect()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newServer(cfg config.Config, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(logging.RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, auth.HeaderCSRFToken},
		AllowCredentials: true,
	}))
	return e
}

// listenHost returns the host part of addr when it names a specific interface.
func listenHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return host
}
