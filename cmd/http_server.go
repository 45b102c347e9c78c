package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/viso/api"
	"github.com/frahmantamala/viso/internal"
	"github.com/frahmantamala/viso/internal/backend"
	"github.com/frahmantamala/viso/internal/transport/rest"
	"github.com/frahmantamala/viso/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that gates, synchronizes and authorizes requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config  *internal.Config
	DB      *sqlx.DB
	Router  *chi.Mux
	Factory *backend.Factory
	Logger  *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "backend", deps.Config.Auth.Backend)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if deps.DB != nil {
			if err := deps.DB.Close(); err != nil {
				deps.Logger.Error("Database close error", "error", err)
			}
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) {
	var sqlDB *sql.DB
	if deps.DB != nil {
		sqlDB = deps.DB.DB
	}
	deps.Router = rest.NewRouter(deps.Config, deps.Factory, sqlDB, api.OpenAPI, deps.Logger)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Configure(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	var (
		db    *sqlx.DB
		bdeps backend.Deps
	)
	if config.Database.Source != "" {
		db, err = initDB(config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		gdb, err := initGormDB(db)
		if err != nil {
			return nil, err
		}
		bdeps = backend.Deps{GormDB: gdb, SQLDB: db}
	}

	factory, err := backend.NewFactory(config, bdeps, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend factory: %w", err)
	}

	return &Dependencies{
		Config:  config,
		Logger:  lg,
		DB:      db,
		Factory: factory,
	}, nil
}
