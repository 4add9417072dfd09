// Package main is the entry point for the trip sync API server.
// Its sole responsibility is wiring dependencies together and starting the server.
// No business logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pkordes/tripsync/backend/internal/config"
	"github.com/pkordes/tripsync/backend/internal/docstore"
	"github.com/pkordes/tripsync/backend/internal/handler"
	"github.com/pkordes/tripsync/backend/internal/identity"
	"github.com/pkordes/tripsync/backend/internal/logging"
	"github.com/pkordes/tripsync/backend/internal/middleware"
	"github.com/pkordes/tripsync/backend/internal/repo"
	"github.com/pkordes/tripsync/backend/internal/service"
	"github.com/pkordes/tripsync/backend/internal/session"
	"github.com/pkordes/tripsync/backend/internal/tripsync"
	"github.com/pkordes/tripsync/backend/migrations"
)

func main() {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		// Use plain stderr before the logger is configured.
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	logger, flush := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		_ = flush()
		os.Exit(1)
	}
	_ = flush()
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Firebase backs both token verification and the firestore driver.
	var app *firebase.App
	if cfg.FirebaseProjectID != "" {
		var err error
		if app, err = identity.NewFirebaseApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsJSON); err != nil {
			return err
		}
	}

	// --- Store ------------------------------------------------------------
	store, expenses, closeStore, err := openStore(ctx, cfg, app, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("document store ready", "driver", cfg.StoreDriver)

	// --- Services ---------------------------------------------------------
	trips := repo.NewTripRepo(store)
	invitations := repo.NewInvitationRepo(store)
	tripSvc := service.NewTripService(trips, invitations, logger)
	inviteSvc := service.NewInvitationService(trips, invitations, logger)
	checkIn := service.NewCheckInWorkflow(trips, expenses, logger)
	exportSvc := service.NewExportService(trips, expenses)

	sessions := session.NewManager(func() *tripsync.Engine {
		return tripsync.New(tripsync.Config{
			Trips:             trips,
			Invitations:       invitations,
			TripService:       tripSvc,
			InvitationService: inviteSvc,
			CheckIn:           checkIn,
			PollInterval:      cfg.PollInterval,
			Logger:            logger,
		})
	}, logger)
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Warn("closing sessions", "error", err)
		}
	}()

	verifier, err := newVerifier(ctx, cfg, app)
	if err != nil {
		return err
	}

	// --- Router -----------------------------------------------------------
	// Middleware is applied in order: RequestID → RealIP → Logger → Recoverer → CORS → body limit.
	// RequestID generates a unique trace ID per request.
	// RealIP sets r.RemoteAddr from X-Forwarded-For / X-Real-IP (safe behind a proxy).
	// SlogLogger writes one structured log line per request.
	// Recoverer catches panics and returns HTTP 500 instead of crashing.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))

	srv := handler.NewServer(sessions, exportSvc, logger, cfg.CORSOrigins)
	r.Mount("/", srv.Handler(middleware.NewAuthHandler(verifier, logger)))

	// --- HTTP Server ------------------------------------------------------
	// No WriteTimeout: /ws responses live as long as the client stays connected.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown: wait for OS signal, then give in-flight requests
	// up to 15 seconds to complete before forcefully closing.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-stop:
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// openStore opens the configured document store and the expense ledger that
// goes with it. The returned func releases both.
func openStore(ctx context.Context, cfg config.Config, app *firebase.App, logger *slog.Logger) (docstore.Store, repo.ExpenseRepo, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := docstore.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, repo.NewDocExpenseRepo(s), func() { _ = s.Close() }, nil

	case config.DriverPostgres:
		// pgxpool manages a pool of Postgres connections.
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create database pool: %w", err)
		}
		// Verify the DB is reachable before accepting traffic.
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := migratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		s := docstore.NewPostgres(pool, pool, logger)
		return s, repo.NewExpenseRepo(pool), func() {
			_ = s.Close()
			pool.Close()
		}, nil

	case config.DriverFirestore:
		if app == nil {
			return nil, nil, nil, errors.New("firestore driver needs FIREBASE_PROJECT_ID")
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		s := docstore.NewFirestore(client, logger)
		return s, repo.NewDocExpenseRepo(s), func() {
			_ = s.Close()
			_ = client.Close()
		}, nil

	default:
		s := docstore.NewMemory(logger)
		return s, repo.NewDocExpenseRepo(s), func() { _ = s.Close() }, nil
	}
}

// migratePostgres applies the embedded migrations through a database/sql
// handle on the same pool.
func migratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		slog.InfoContext(ctx, "migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// newVerifier prefers Firebase ID tokens and falls back to HS256 tokens
// signed with AUTH_JWT_SECRET.
func newVerifier(ctx context.Context, cfg config.Config, app *firebase.App) (identity.Verifier, error) {
	if app != nil {
		return identity.NewFirebaseVerifier(ctx, app)
	}
	return identity.NewJWTVerifier(cfg.JWTSecret), nil
}
