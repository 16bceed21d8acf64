package leaderboard

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/storage/memory"
)

func seedSettledPrediction(t *testing.T, store *memory.Store, winner string, stakes []prediction.Stake) {
	t.Helper()
	ctx := context.Background()

	p, err := store.CreatePrediction(ctx, prediction.Prediction{
		Author: "alice",
		Title:  "seed",
		Outcomes: []prediction.Outcome{
			{ID: "yes", Label: "Yes"},
			{ID: "no", Label: "No"},
		},
		Status:      prediction.StatusSettled,
		StakeSymbol: "HIVE",
		MinStake:    1,
		LocksAt:     time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("CreatePrediction: %v", err)
	}
	p.WinningOutcomeID = winner
	if _, err := store.UpdatePrediction(ctx, p); err != nil {
		t.Fatalf("UpdatePrediction: %v", err)
	}

	for _, st := range stakes {
		st.PredictionID = p.ID
		if _, err := store.CreateStake(ctx, st); err != nil {
			t.Fatalf("CreateStake: %v", err)
		}
	}
}

func TestRollupAggregatesConfirmedStakes(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	seedSettledPrediction(t, store, "yes", []prediction.Stake{
		{OutcomeID: "yes", Account: "bob", Amount: 40, Status: prediction.StakeConfirmed, Payout: 95},
		{OutcomeID: "no", Account: "carol", Amount: 60, Status: prediction.StakeConfirmed},
		{OutcomeID: "yes", Account: "dave", Amount: 10, Status: prediction.StakePending},
	})

	written, err := svc.Rollup(ctx)
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if written != 2 {
		t.Fatalf("expected 2 accounts written, got %d", written)
	}

	bob, err := svc.For(ctx, "bob")
	if err != nil {
		t.Fatalf("For bob: %v", err)
	}
	if bob.Wins != 1 || bob.Settled != 1 || bob.WinRate != 1 {
		t.Fatalf("unexpected bob entry: %+v", bob)
	}
	if math.Abs(bob.NetPayout-55) > 1e-9 {
		t.Fatalf("expected bob net payout 55, got %.3f", bob.NetPayout)
	}

	carol, err := svc.For(ctx, "carol")
	if err != nil {
		t.Fatalf("For carol: %v", err)
	}
	if carol.Wins != 0 || math.Abs(carol.NetPayout+60) > 1e-9 {
		t.Fatalf("unexpected carol entry: %+v", carol)
	}

	if _, err := svc.For(ctx, "dave"); err == nil {
		t.Fatal("pending stakes must not appear on the leaderboard")
	}
}

func TestTopOrdersByNetPayout(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	seedSettledPrediction(t, store, "yes", []prediction.Stake{
		{OutcomeID: "yes", Account: "bob", Amount: 10, Status: prediction.StakeConfirmed, Payout: 30},
		{OutcomeID: "yes", Account: "carol", Amount: 20, Status: prediction.StakeConfirmed, Payout: 90},
	})
	if _, err := svc.Rollup(ctx); err != nil {
		t.Fatalf("Rollup: %v", err)
	}

	top, err := svc.Top(ctx, 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(top))
	}
	if top[0].Account != "carol" {
		t.Fatalf("expected carol first by net payout, got %q", top[0].Account)
	}
}
