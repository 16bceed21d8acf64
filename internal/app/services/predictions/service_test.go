package predictions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/domain/notification"
	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/storage/memory"
)

type fakeVerifier struct {
	fail map[string]error
}

func (f *fakeVerifier) VerifyStakeTransfer(ctx context.Context, txID, from, to string, amount float64, symbol, memo string) error {
	if f.fail != nil {
		if err, ok := f.fail[txID]; ok {
			return err
		}
	}
	return nil
}

type payment struct {
	to     string
	amount float64
	memo   string
}

type fakeTreasury struct {
	payments []payment
	err      error
}

func (f *fakeTreasury) Pay(ctx context.Context, to string, amount float64, symbol, memo string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payments = append(f.payments, payment{to: to, amount: amount, memo: memo})
	return fmt.Sprintf("payout-%d", len(f.payments)), nil
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Notify(ctx context.Context, account string, kind notification.Kind, actor, ref, body string) {
	f.sent = append(f.sent, account+":"+string(kind))
}

func openPrediction(t *testing.T, svc *Service) prediction.Prediction {
	t.Helper()
	p, err := svc.Create(context.Background(), "alice", CreateParams{
		Title:      "Will the home team win?",
		Outcomes:   []string{"Yes", "No"},
		MinStake:   1,
		MaxStake:   100,
		FeePercent: 5,
		LocksAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil, nil, nil, "sb-escrow", nil)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"no title", CreateParams{Outcomes: []string{"a", "b"}, MinStake: 1, LocksAt: time.Now().Add(time.Hour)}},
		{"one outcome", CreateParams{Title: "t", Outcomes: []string{"a"}, MinStake: 1, LocksAt: time.Now().Add(time.Hour)}},
		{"duplicate outcomes", CreateParams{Title: "t", Outcomes: []string{"a", "A"}, MinStake: 1, LocksAt: time.Now().Add(time.Hour)}},
		{"past deadline", CreateParams{Title: "t", Outcomes: []string{"a", "b"}, MinStake: 1, LocksAt: time.Now().Add(-time.Hour)}},
		{"zero min stake", CreateParams{Title: "t", Outcomes: []string{"a", "b"}, LocksAt: time.Now().Add(time.Hour)}},
		{"max below min", CreateParams{Title: "t", Outcomes: []string{"a", "b"}, MinStake: 5, MaxStake: 1, LocksAt: time.Now().Add(time.Hour)}},
		{"fee too high", CreateParams{Title: "t", Outcomes: []string{"a", "b"}, MinStake: 1, FeePercent: 50, LocksAt: time.Now().Add(time.Hour)}},
	}
	for _, c := range cases {
		if _, err := svc.Create(ctx, "alice", c.params); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestCreateDefaultsSymbolAndEscrow(t *testing.T) {
	svc := New(memory.New(), nil, nil, nil, "SB-Escrow", nil)
	p := openPrediction(t, svc)

	if p.StakeSymbol != "HIVE" {
		t.Fatalf("expected HIVE default, got %q", p.StakeSymbol)
	}
	if p.EscrowAccount != "sb-escrow" {
		t.Fatalf("expected lowercased escrow, got %q", p.EscrowAccount)
	}
	if p.Status != prediction.StatusOpen {
		t.Fatalf("expected open, got %q", p.Status)
	}
}

func TestPlaceStakeConfirmsWhenTransferVerifies(t *testing.T) {
	store := memory.New()
	notifier := &fakeNotifier{}
	svc := New(store, &fakeVerifier{}, nil, notifier, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)

	stake, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 10, "tx-1")
	if err != nil {
		t.Fatalf("PlaceStake: %v", err)
	}
	if stake.Status != prediction.StakeConfirmed {
		t.Fatalf("expected confirmed, got %q", stake.Status)
	}

	updated, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Outcomes[0].StakeTotal != 10 || updated.Outcomes[0].StakeCount != 1 {
		t.Fatalf("expected outcome totals updated, got %+v", updated.Outcomes[0])
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "alice:stake" {
		t.Fatalf("expected author notified, got %v", notifier.sent)
	}
}

func TestPlaceStakeStaysPendingOnUnverifiedTransfer(t *testing.T) {
	verifier := &fakeVerifier{fail: map[string]error{"tx-1": errors.New("not found")}}
	svc := New(memory.New(), verifier, nil, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)

	stake, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 10, "tx-1")
	if err != nil {
		t.Fatalf("PlaceStake: %v", err)
	}
	if stake.Status != prediction.StakePending {
		t.Fatalf("expected pending, got %q", stake.Status)
	}

	// Transfer becomes visible; the sweep confirms it.
	delete(verifier.fail, "tx-1")
	confirmed, err := svc.VerifyPendingStakes(ctx)
	if err != nil {
		t.Fatalf("VerifyPendingStakes: %v", err)
	}
	if confirmed != 1 {
		t.Fatalf("expected 1 confirmed, got %d", confirmed)
	}
}

func TestPlaceStakeBoundsAndDuplicates(t *testing.T) {
	svc := New(memory.New(), &fakeVerifier{}, nil, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)

	if _, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 0.5, "tx-low"); err == nil {
		t.Fatal("expected below-minimum stake rejected")
	}
	if _, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 500, "tx-high"); err == nil {
		t.Fatal("expected above-maximum stake rejected")
	}
	if _, err := svc.PlaceStake(ctx, "bob", p.ID, "bogus", 10, "tx-out"); err == nil {
		t.Fatal("expected unknown outcome rejected")
	}
	if _, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 10, "tx-1"); err != nil {
		t.Fatalf("PlaceStake: %v", err)
	}
	if _, err := svc.PlaceStake(ctx, "BOB", p.ID, p.Outcomes[1].ID, 10, "tx-2"); err == nil {
		t.Fatal("expected second stake by same account rejected")
	}
}

func TestLockRejectsPendingStakes(t *testing.T) {
	verifier := &fakeVerifier{fail: map[string]error{"tx-1": errors.New("not found")}}
	svc := New(memory.New(), verifier, nil, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)

	if _, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 10, "tx-1"); err != nil {
		t.Fatalf("PlaceStake: %v", err)
	}

	locked, err := svc.Lock(ctx, p.ID)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if locked.Status != prediction.StatusLocked {
		t.Fatalf("expected locked, got %q", locked.Status)
	}

	stakes, err := svc.Stakes(ctx, p.ID)
	if err != nil {
		t.Fatalf("Stakes: %v", err)
	}
	if stakes[0].Status != prediction.StakeRejected {
		t.Fatalf("expected pending stake rejected at lock, got %q", stakes[0].Status)
	}

	if _, err := svc.PlaceStake(ctx, "carol", p.ID, p.Outcomes[0].ID, 10, "tx-2"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after lock, got %v", err)
	}
}

func TestSettlePaysWinnersProRata(t *testing.T) {
	treasury := &fakeTreasury{}
	svc := New(memory.New(), &fakeVerifier{}, treasury, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)
	yes, no := p.Outcomes[0].ID, p.Outcomes[1].ID

	for i, st := range []struct {
		account string
		outcome string
		amount  float64
	}{
		{"bob", yes, 30},
		{"carol", yes, 10},
		{"dave", no, 60},
	} {
		if _, err := svc.PlaceStake(ctx, st.account, p.ID, st.outcome, st.amount, fmt.Sprintf("tx-%d", i)); err != nil {
			t.Fatalf("PlaceStake %s: %v", st.account, err)
		}
	}

	if _, err := svc.Lock(ctx, p.ID); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	settled, err := svc.Settle(ctx, p.ID, yes, "alice")
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if settled.Status != prediction.StatusSettled || settled.WinningOutcomeID != yes {
		t.Fatalf("unexpected settlement state: %+v", settled)
	}

	// Pool 100, fee 5%: bob gets 30/40*100*0.95 = 71.25, carol 23.75.
	if len(treasury.payments) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(treasury.payments))
	}
	got := map[string]float64{}
	for _, pay := range treasury.payments {
		got[pay.to] = pay.amount
	}
	if math.Abs(got["bob"]-71.25) > 1e-9 || math.Abs(got["carol"]-23.75) > 1e-9 {
		t.Fatalf("unexpected payouts: %v", got)
	}

	stakes, _ := svc.Stakes(ctx, p.ID)
	for _, st := range stakes {
		if st.Account == "bob" && st.PayoutTxID == "" {
			t.Fatal("expected payout tx recorded for bob")
		}
		if st.Account == "dave" && st.Payout != 0 {
			t.Fatalf("losing stake must not be paid, got %.3f", st.Payout)
		}
	}
}

func TestSettleRefundsWhenNoWinningStakes(t *testing.T) {
	treasury := &fakeTreasury{}
	svc := New(memory.New(), &fakeVerifier{}, treasury, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)
	yes, no := p.Outcomes[0].ID, p.Outcomes[1].ID

	if _, err := svc.PlaceStake(ctx, "bob", p.ID, no, 25, "tx-1"); err != nil {
		t.Fatalf("PlaceStake: %v", err)
	}
	if _, err := svc.Lock(ctx, p.ID); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := svc.Settle(ctx, p.ID, yes, "alice"); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if len(treasury.payments) != 1 || treasury.payments[0].amount != 25 {
		t.Fatalf("expected full refund of 25, got %v", treasury.payments)
	}
}

func TestSettleGuards(t *testing.T) {
	svc := New(memory.New(), &fakeVerifier{}, nil, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)

	if _, err := svc.Settle(ctx, p.ID, p.Outcomes[0].ID, "alice"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition for open prediction, got %v", err)
	}
	if _, err := svc.Lock(ctx, p.ID); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := svc.Settle(ctx, p.ID, p.Outcomes[0].ID, "mallory"); err == nil {
		t.Fatal("expected non-author settle rejected")
	}
	if _, err := svc.Settle(ctx, p.ID, "bogus", "alice"); err == nil {
		t.Fatal("expected unknown outcome rejected")
	}
}

func TestVoidRefundsConfirmedStakes(t *testing.T) {
	treasury := &fakeTreasury{}
	svc := New(memory.New(), &fakeVerifier{}, treasury, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)

	if _, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 15, "tx-1"); err != nil {
		t.Fatalf("PlaceStake: %v", err)
	}

	voided, err := svc.Void(ctx, p.ID, "alice")
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if voided.Status != prediction.StatusVoid {
		t.Fatalf("expected void, got %q", voided.Status)
	}
	if len(treasury.payments) != 1 || treasury.payments[0].amount != 15 {
		t.Fatalf("expected refund of 15, got %v", treasury.payments)
	}

	if _, err := svc.Void(ctx, p.ID, "alice"); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition on double void, got %v", err)
	}
}

func TestLockDueSweep(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil, nil, "sb-escrow", nil)
	ctx := context.Background()

	p := openPrediction(t, svc)
	// Force the deadline into the past to simulate an expired market.
	p.LocksAt = time.Now().Add(-time.Minute)
	if _, err := store.UpdatePrediction(ctx, p); err != nil {
		t.Fatalf("UpdatePrediction: %v", err)
	}
	openPrediction(t, svc) // still in the future

	locked, err := svc.LockDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("LockDue: %v", err)
	}
	if locked != 1 {
		t.Fatalf("expected 1 locked, got %d", locked)
	}
}

func TestConcurrentSweepsFoldStakeOnce(t *testing.T) {
	store := memory.New()
	verifier := &fakeVerifier{fail: map[string]error{"tx-1": errors.New("not yet visible")}}
	svc := New(store, verifier, nil, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)

	stake, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 10, "tx-1")
	if err != nil {
		t.Fatalf("PlaceStake: %v", err)
	}
	if stake.Status != prediction.StakePending {
		t.Fatalf("expected pending stake, got %s", stake.Status)
	}

	delete(verifier.fail, "tx-1")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.VerifyPendingStakes(ctx); err != nil {
				t.Errorf("VerifyPendingStakes: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	yes, _ := got.Outcome(p.Outcomes[0].ID)
	if yes.StakeTotal != 10 {
		t.Fatalf("stake folded more than once: total %.3f", yes.StakeTotal)
	}
	if yes.StakeCount != 1 {
		t.Fatalf("expected stake count 1, got %d", yes.StakeCount)
	}

	confirmed, err := store.GetStake(ctx, stake.ID)
	if err != nil {
		t.Fatalf("GetStake: %v", err)
	}
	if confirmed.Status != prediction.StakeConfirmed {
		t.Fatalf("expected confirmed stake, got %s", confirmed.Status)
	}
}

func TestTransitionGuardKeepsConfirmedStake(t *testing.T) {
	store := memory.New()
	svc := New(store, &fakeVerifier{}, nil, nil, "sb-escrow", nil)
	ctx := context.Background()
	p := openPrediction(t, svc)

	stake, err := svc.PlaceStake(ctx, "bob", p.ID, p.Outcomes[0].ID, 10, "tx-1")
	if err != nil {
		t.Fatalf("PlaceStake: %v", err)
	}
	if stake.Status != prediction.StakeConfirmed {
		t.Fatalf("expected confirmed stake, got %s", stake.Status)
	}

	// The lock sweep must not demote a stake that confirmed meanwhile.
	if _, err := svc.Lock(ctx, p.ID); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	got, err := store.GetStake(ctx, stake.ID)
	if err != nil {
		t.Fatalf("GetStake: %v", err)
	}
	if got.Status != prediction.StakeConfirmed {
		t.Fatalf("lock rejected a confirmed stake: %s", got.Status)
	}
}
