package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"finledger/auth"
	"finledger/config"
	"finledger/database"
	"finledger/handlers"
	"finledger/logging"
	"finledger/repository"
	"finledger/statements"
	"finledger/users"
)

type stores struct {
	users      repository.UserRepository
	statements repository.StatementRepository
	db         *sql.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	st, err := openStores(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("failed to open storage", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	directory := users.NewDirectory(st.users, cfg.Auth.BcryptCost)
	app := &handlers.App{
		Logger: logger,
		Users:  directory,
		Auth:   auth.NewService(directory, auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)),
		Ledger: statements.NewLedger(directory, st.statements, logger),
	}
	if st.db != nil {
		app.Health = st.db
	}

	srv := handlers.NewServer(logger, cfg.HTTP, handlers.NewRouter(app))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func openStores(ctx context.Context, logger *slog.Logger, cfg config.Config) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return stores{
			users:      repository.NewMemoryUsers(),
			statements: repository.NewMemoryStatements(),
		}, nil
	}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return stores{}, err
	}
	logger.Info("connected to mysql", "host", cfg.Database.Host, "database", cfg.Database.Name)

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database schema is up to date")
	}

	return stores{
		users:      database.NewUserStore(db),
		statements: database.NewStatementStore(db),
		db:         db,
	}, nil
}
