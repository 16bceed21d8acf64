// Package main re-seals every custodial key under a new master key. Run it
// offline with the API server stopped, then restart the server with the new
// key configured.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/sportsblock/sportsblock/internal/app/services/custodian"
	"github.com/sportsblock/sportsblock/internal/app/storage/postgres"
	"github.com/sportsblock/sportsblock/internal/config"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	newKey := flag.String("new-key", "", "New master key (or SPORTSBLOCK_NEW_MASTER_KEY)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Rotation deadline")
	flag.Parse()

	if v := os.Getenv("SPORTSBLOCK_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}
	if v := os.Getenv("SPORTSBLOCK_NEW_MASTER_KEY"); v != "" && *newKey == "" {
		*newKey = v
	}
	if *newKey == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(*configPath, *newKey, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "rotate-master-key: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, newKey string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("rotation requires a database DSN; in-memory storage has nothing to reseal")
	}
	if cfg.Custodian.MasterKey == "" {
		return fmt.Errorf("current master key is not configured")
	}
	if newKey == cfg.Custodian.MasterKey {
		return fmt.Errorf("new master key matches the current one")
	}

	log := logger.New(cfg.Logging)

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	svc, err := custodian.New(postgres.New(db), []byte(cfg.Custodian.MasterKey), log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := svc.RotateMasterKey(ctx, []byte(newKey)); err != nil {
		return fmt.Errorf("rotate: %w", err)
	}

	log.Info("Rotation complete; update the configured master key before restarting the server")
	return nil
}
