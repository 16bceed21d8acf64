package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/domain/user"
	"github.com/sportsblock/sportsblock/internal/platform/migrations"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := New(db)

	u, err := store.CreateUser(ctx, user.User{Username: "alice", HiveAccount: "alice"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	p, err := store.CreatePrediction(ctx, prediction.Prediction{
		Author:      u.Username,
		Title:       "derby",
		Outcomes:    []prediction.Outcome{{ID: "home", Label: "Home"}},
		Status:      prediction.StatusOpen,
		StakeSymbol: "HIVE",
		LocksAt:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create prediction: %v", err)
	}

	if _, err := store.CreateStake(ctx, prediction.Stake{
		PredictionID: p.ID,
		OutcomeID:    "home",
		Account:      "alice",
		Amount:       1,
		Symbol:       "HIVE",
		Status:       prediction.StakePending,
	}); err != nil {
		t.Fatalf("create stake: %v", err)
	}
}
