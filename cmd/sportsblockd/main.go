// Package main runs the Sportsblock API server: the HTTP surface, the chain
// monitor, the price feed refresher and the background job scheduler.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/sportsblock/sportsblock/internal/app"
	"github.com/sportsblock/sportsblock/internal/app/httpapi"
	"github.com/sportsblock/sportsblock/internal/app/storage/postgres"
	"github.com/sportsblock/sportsblock/internal/config"
	"github.com/sportsblock/sportsblock/internal/docstore"
	"github.com/sportsblock/sportsblock/internal/platform/migrations"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if v := os.Getenv("SPORTSBLOCK_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sportsblockd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	log.WithField("addr", cfg.Server.Addr).Info("Starting sportsblockd")

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	application, err := app.New(cfg, stores, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	handler, err := httpapi.NewServer(application, log)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-errCh:
		log.WithError(err).Error("HTTP server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Service shutdown incomplete")
	}

	log.Info("Shutdown complete")
	return nil
}

// buildStores selects the persistence backends. An empty database DSN keeps
// everything in memory; a docstore URL moves posts, notifications and chain
// cursors to the document store.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	var stores app.Stores
	var db *sql.DB

	if cfg.Database.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return stores, nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.Database.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return stores, nil, fmt.Errorf("ping database: %w", err)
		}
		if err := migrations.Apply(context.Background(), db); err != nil {
			db.Close()
			return stores, nil, fmt.Errorf("apply migrations: %w", err)
		}

		pg := postgres.New(db)
		stores = app.Stores{
			Users:         pg,
			Custodian:     pg,
			Predictions:   pg,
			Leaderboard:   pg,
			PriceFeeds:    pg,
			Posts:         pg,
			Notifications: pg,
			Cursors:       pg,
		}
		log.Info("Using PostgreSQL storage")
	} else {
		log.Warn("No database DSN configured, using in-memory storage")
	}

	if cfg.DocStore.URL != "" {
		client, err := docstore.NewClient(docstore.Config{
			URL:        cfg.DocStore.URL,
			APIKey:     cfg.DocStore.APIKey,
			ServiceKey: cfg.DocStore.ServiceKey,
		})
		if err != nil {
			if db != nil {
				db.Close()
			}
			return stores, nil, fmt.Errorf("docstore client: %w", err)
		}
		ds := docstore.NewStore(client)
		stores.Posts = ds
		stores.Notifications = ds
		stores.Cursors = ds
		log.WithField("url", cfg.DocStore.URL).Info("Using document store for posts and notifications")
	}

	return stores, db, nil
}
