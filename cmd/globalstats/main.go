package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"globalstats/configs"
	"globalstats/internal/api"
	"globalstats/internal/auth"
	"globalstats/internal/metric"
	"globalstats/internal/reports"
	"globalstats/internal/service"
	"globalstats/internal/storage"

	"go.uber.org/zap"
)

var (
	connectMongo = storage.ConnectMongo
	migrateFunc  = storage.RunMigrations
)

// backend is a store that also accepts diagnostic reports.
type backend interface {
	storage.StatsStore
	storage.ReportSink
}

type application struct {
	handler  http.Handler
	notifier *reports.Notifier
	cleanup  func()
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	sugar := logger.Sugar()
	defer func() {
		if err := logger.Sync(); err != nil {
			sugar.Warnf("logger sync: %v", err)
		}
	}()

	cfg, err := configs.Load()
	if err != nil {
		sugar.Fatalf("config load failed: %v", err)
	}
	metric.Register(sugar)

	app, err := bootstrap(cfg, sql.Open, sugar)
	if err != nil {
		sugar.Fatalf("bootstrap failed: %v", err)
	}
	defer app.cleanup()

	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	if err := run(sigCtx, app.handler, sugar, cfg.HTTPAddr); err != nil {
		app.notifier.Notify(context.Background(), reports.Failure{
			Kind:        storage.ReportError,
			Caller:      "main",
			Description: "Error starting the server.",
			Err:         err,
		})
		app.cleanup()
		sugar.Fatalf("server failed: %v", err)
	}
}

func run(ctx context.Context, srv http.Handler, logger *zap.SugaredLogger, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Infof("server listening on %s", server.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down...")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("graceful shutdown failed: %v", err)
			return err
		}
		<-errCh
		logger.Info("server stopped")
		return nil
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}
}

func bootstrap(
	cfg *configs.Config,
	openDB func(driverName, dsn string) (*sql.DB, error),
	logger *zap.SugaredLogger,
) (*application, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		store   backend
		cleanup func()
		err     error
	)
	switch cfg.Backend {
	case configs.BackendPostgres:
		store, cleanup, err = openPostgres(ctx, cfg.DatabaseURL, openDB, logger)
	case configs.BackendMongo:
		store, cleanup, err = openMongo(ctx, cfg.MongoURI, logger)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Infow("store connected", "backend", cfg.Backend, "database", storage.DatabaseName)

	notifier := reports.NewNotifier(store, logger)
	svc := service.New(store, notifier)
	handler := api.NewServer(svc, auth.NewStaticCode(auth.DefaultAdminCode), logger).Routes()
	return &application{handler: handler, notifier: notifier, cleanup: cleanup}, nil
}

func openPostgres(
	ctx context.Context,
	dsn string,
	openDB func(driverName, dsn string) (*sql.DB, error),
	logger *zap.SugaredLogger,
) (backend, func(), error) {
	db, err := openDB("pgx", dsn)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)

	if err := migrateFunc(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return storage.NewPostgresStore(db, logger), func() { _ = db.Close() }, nil
}

func openMongo(ctx context.Context, uri string, logger *zap.SugaredLogger) (backend, func(), error) {
	client, err := connectMongo(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(dctx); err != nil {
			logger.Warnw("mongo disconnect", "err", err)
		}
	}
	return storage.NewMongoStore(client, logger), cleanup, nil
}
