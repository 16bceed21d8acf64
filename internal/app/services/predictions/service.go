// Package predictions implements the wager lifecycle: open markets accept
// verified stakes, lock at their deadline, then settle pro rata or void with
// refunds.
package predictions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sportsblock/sportsblock/internal/app/domain/notification"
	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/metrics"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

var (
	// ErrNotOpen is returned when staking against a non-open prediction.
	ErrNotOpen = errors.New("prediction is not open for staking")
	// ErrBadTransition is returned on an illegal lifecycle move.
	ErrBadTransition = errors.New("illegal prediction state transition")
)

const maxFeePercent = 20

// stakeVerifyTimeout bounds how long an escrow transfer may stay unconfirmed
// before its stake is rejected.
const stakeVerifyTimeout = 15 * time.Minute

// Verifier checks that a claimed escrow transfer exists on chain and matches
// the stake it is supposed to fund.
type Verifier interface {
	VerifyStakeTransfer(ctx context.Context, txID, from, to string, amount float64, symbol, memo string) error
}

// Treasury pays out from the escrow account. Pay returns the broadcast
// transaction ID.
type Treasury interface {
	Pay(ctx context.Context, to string, amount float64, symbol, memo string) (string, error)
}

// Notifier delivers prediction events to stakers. Implementations must not
// block settlement on delivery failures.
type Notifier interface {
	Notify(ctx context.Context, account string, kind notification.Kind, actor, ref, body string)
}

// Service drives the prediction lifecycle.
type Service struct {
	store    storage.PredictionStore
	verifier Verifier
	treasury Treasury
	notifier Notifier
	escrow   string
	log      *logger.Logger
}

// New constructs the service. verifier, treasury and notifier may be nil;
// without a verifier stakes stay pending, without a treasury settlement
// records payouts but broadcasts nothing.
func New(store storage.PredictionStore, verifier Verifier, treasury Treasury, notifier Notifier, escrow string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("predictions")
	}
	return &Service{
		store:    store,
		verifier: verifier,
		treasury: treasury,
		notifier: notifier,
		escrow:   strings.ToLower(escrow),
		log:      log,
	}
}

// CreateParams carries a new prediction request.
type CreateParams struct {
	Title       string
	Body        string
	Outcomes    []string
	StakeSymbol string
	MinStake    float64
	MaxStake    float64
	FeePercent  float64
	LocksAt     time.Time
}

// Create opens a new prediction market.
func (s *Service) Create(ctx context.Context, author string, params CreateParams) (prediction.Prediction, error) {
	author = strings.ToLower(strings.TrimSpace(author))
	if author == "" {
		return prediction.Prediction{}, fmt.Errorf("author is required")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return prediction.Prediction{}, fmt.Errorf("title is required")
	}
	if len(params.Outcomes) < 2 {
		return prediction.Prediction{}, fmt.Errorf("at least two outcomes are required")
	}
	if !params.LocksAt.After(time.Now()) {
		return prediction.Prediction{}, fmt.Errorf("locks_at must be in the future")
	}
	if params.MinStake <= 0 {
		return prediction.Prediction{}, fmt.Errorf("min_stake must be positive")
	}
	if params.MaxStake > 0 && params.MaxStake < params.MinStake {
		return prediction.Prediction{}, fmt.Errorf("max_stake must be at least min_stake")
	}
	if params.FeePercent < 0 || params.FeePercent > maxFeePercent {
		return prediction.Prediction{}, fmt.Errorf("fee_percent must be between 0 and %d", maxFeePercent)
	}

	symbol := strings.ToUpper(strings.TrimSpace(params.StakeSymbol))
	if symbol == "" {
		symbol = "HIVE"
	}

	outcomes := make([]prediction.Outcome, 0, len(params.Outcomes))
	seen := make(map[string]struct{}, len(params.Outcomes))
	for _, label := range params.Outcomes {
		label = strings.TrimSpace(label)
		if label == "" {
			return prediction.Prediction{}, fmt.Errorf("outcome labels must be non-empty")
		}
		key := strings.ToLower(label)
		if _, dup := seen[key]; dup {
			return prediction.Prediction{}, fmt.Errorf("duplicate outcome label %q", label)
		}
		seen[key] = struct{}{}
		outcomes = append(outcomes, prediction.Outcome{ID: uuid.NewString(), Label: label})
	}

	p := prediction.Prediction{
		Author:        author,
		Title:         title,
		Body:          strings.TrimSpace(params.Body),
		Outcomes:      outcomes,
		Status:        prediction.StatusOpen,
		StakeSymbol:   symbol,
		MinStake:      params.MinStake,
		MaxStake:      params.MaxStake,
		FeePercent:    params.FeePercent,
		EscrowAccount: s.escrow,
		LocksAt:       params.LocksAt.UTC(),
	}
	p, err := s.store.CreatePrediction(ctx, p)
	if err != nil {
		return prediction.Prediction{}, err
	}
	s.log.WithField("prediction_id", p.ID).WithField("author", author).Info("prediction created")
	return p, nil
}

// Get returns a prediction by ID.
func (s *Service) Get(ctx context.Context, id string) (prediction.Prediction, error) {
	return s.store.GetPrediction(ctx, id)
}

// List returns predictions filtered by status and author; empty values match
// everything.
func (s *Service) List(ctx context.Context, status prediction.Status, author string) ([]prediction.Prediction, error) {
	return s.store.ListPredictions(ctx, status, strings.ToLower(strings.TrimSpace(author)))
}

// Stakes returns all stakes on a prediction.
func (s *Service) Stakes(ctx context.Context, predictionID string) ([]prediction.Stake, error) {
	return s.store.ListStakes(ctx, predictionID)
}

// StakeMemo is the transfer memo format binding an escrow transfer to a
// stake. Verification matches it exactly.
func StakeMemo(predictionID, outcomeID string) string {
	return fmt.Sprintf("sb:%s:%s", predictionID, outcomeID)
}

// PlaceStake records a stake backed by the transfer txID. The stake starts
// pending and is confirmed once the transfer verifies on chain.
func (s *Service) PlaceStake(ctx context.Context, account, predictionID, outcomeID string, amount float64, txID string) (prediction.Stake, error) {
	account = strings.ToLower(strings.TrimSpace(account))
	if account == "" {
		return prediction.Stake{}, fmt.Errorf("account is required")
	}
	if strings.TrimSpace(txID) == "" {
		return prediction.Stake{}, fmt.Errorf("tx_id of the escrow transfer is required")
	}

	p, err := s.store.GetPrediction(ctx, predictionID)
	if err != nil {
		return prediction.Stake{}, err
	}
	if p.Status != prediction.StatusOpen || !time.Now().Before(p.LocksAt) {
		return prediction.Stake{}, ErrNotOpen
	}
	if _, ok := p.Outcome(outcomeID); !ok {
		return prediction.Stake{}, fmt.Errorf("unknown outcome %q", outcomeID)
	}
	if amount < p.MinStake {
		return prediction.Stake{}, fmt.Errorf("stake below minimum of %.3f %s", p.MinStake, p.StakeSymbol)
	}
	if p.MaxStake > 0 && amount > p.MaxStake {
		return prediction.Stake{}, fmt.Errorf("stake above maximum of %.3f %s", p.MaxStake, p.StakeSymbol)
	}

	stake := prediction.Stake{
		PredictionID: p.ID,
		OutcomeID:    outcomeID,
		Account:      account,
		Amount:       amount,
		Symbol:       p.StakeSymbol,
		TxID:         strings.TrimSpace(txID),
		Status:       prediction.StakePending,
	}
	stake, err = s.store.CreateStake(ctx, stake)
	if err != nil {
		return prediction.Stake{}, err
	}

	// Try to confirm immediately; a miss leaves the stake for the sweep.
	if s.verifier != nil {
		if confirmed, verr := s.verifyStake(ctx, p, stake); verr == nil {
			return confirmed, nil
		}
	}
	return stake, nil
}

// verifyStake checks the escrow transfer and, on success, confirms the stake
// and folds it into the outcome totals.
func (s *Service) verifyStake(ctx context.Context, p prediction.Prediction, stake prediction.Stake) (prediction.Stake, error) {
	memo := StakeMemo(p.ID, stake.OutcomeID)
	err := s.verifier.VerifyStakeTransfer(ctx, stake.TxID, stake.Account, p.EscrowAccount, stake.Amount, stake.Symbol, memo)
	if err != nil {
		metrics.RecordStakeVerification("unverified")
		return prediction.Stake{}, err
	}

	// The immediate check in PlaceStake and the sweep can race on the same
	// stake; only the one winning the pending->confirmed transition folds it
	// into the totals.
	stake, err = s.store.TransitionStake(ctx, stake.ID, prediction.StakePending, prediction.StakeConfirmed)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return s.store.GetStake(ctx, stake.ID)
		}
		return prediction.Stake{}, err
	}

	p, err = s.store.GetPrediction(ctx, p.ID)
	if err != nil {
		return prediction.Stake{}, err
	}
	for i := range p.Outcomes {
		if p.Outcomes[i].ID == stake.OutcomeID {
			p.Outcomes[i].StakeTotal += stake.Amount
			p.Outcomes[i].StakeCount++
		}
	}
	if _, err := s.store.UpdatePrediction(ctx, p); err != nil {
		return prediction.Stake{}, err
	}

	metrics.RecordStakeVerification("verified")
	s.notify(ctx, p.Author, notification.KindStake, stake.Account, p.ID,
		fmt.Sprintf("%s staked %.3f %s", stake.Account, stake.Amount, stake.Symbol))
	return stake, nil
}

// VerifyPendingStakes sweeps pending stakes and confirms those whose escrow
// transfer is now visible on chain. Returns the number confirmed.
func (s *Service) VerifyPendingStakes(ctx context.Context) (int, error) {
	if s.verifier == nil {
		return 0, nil
	}
	pending, err := s.store.ListPendingStakes(ctx)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, stake := range pending {
		p, err := s.store.GetPrediction(ctx, stake.PredictionID)
		if err != nil {
			s.log.WithError(err).WithField("stake_id", stake.ID).Warn("pending stake references missing prediction")
			continue
		}
		if p.Status != prediction.StatusOpen || time.Since(stake.CreatedAt) > stakeVerifyTimeout {
			if _, err := s.store.TransitionStake(ctx, stake.ID, prediction.StakePending, prediction.StakeRejected); err != nil {
				if !errors.Is(err, storage.ErrConflict) {
					s.log.WithError(err).WithField("stake_id", stake.ID).Error("reject stale stake")
				}
				continue
			}
			metrics.RecordStakeVerification("rejected")
			continue
		}
		if _, err := s.verifyStake(ctx, p, stake); err == nil {
			confirmed++
		}
	}
	return confirmed, nil
}

// Lock moves an open prediction to locked. No further stakes are accepted
// and remaining pending stakes are rejected.
func (s *Service) Lock(ctx context.Context, id string) (prediction.Prediction, error) {
	p, err := s.store.GetPrediction(ctx, id)
	if err != nil {
		return prediction.Prediction{}, err
	}
	if !prediction.CanTransition(p.Status, prediction.StatusLocked) {
		return prediction.Prediction{}, ErrBadTransition
	}

	p.Status = prediction.StatusLocked
	p, err = s.store.UpdatePrediction(ctx, p)
	if err != nil {
		return prediction.Prediction{}, err
	}
	s.rejectPending(ctx, p.ID)
	s.log.WithField("prediction_id", p.ID).Info("prediction locked")
	return p, nil
}

// LockDue locks every open prediction whose deadline has passed. Returns the
// number locked.
func (s *Service) LockDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListLockable(ctx, now)
	if err != nil {
		return 0, err
	}
	locked := 0
	for _, p := range due {
		if _, err := s.Lock(ctx, p.ID); err != nil {
			s.log.WithError(err).WithField("prediction_id", p.ID).Error("lock sweep failed")
			continue
		}
		locked++
	}
	return locked, nil
}

// Settle resolves a locked prediction. Winners split the full pool pro rata
// after the fee; when the winning outcome drew no stakes, every confirmed
// stake is refunded instead.
func (s *Service) Settle(ctx context.Context, id, winningOutcomeID, settledBy string) (prediction.Prediction, error) {
	p, err := s.store.GetPrediction(ctx, id)
	if err != nil {
		return prediction.Prediction{}, err
	}
	if !prediction.CanTransition(p.Status, prediction.StatusSettled) {
		return prediction.Prediction{}, ErrBadTransition
	}
	if !strings.EqualFold(settledBy, p.Author) {
		return prediction.Prediction{}, fmt.Errorf("only the author may settle")
	}
	if _, ok := p.Outcome(winningOutcomeID); !ok {
		return prediction.Prediction{}, fmt.Errorf("unknown outcome %q", winningOutcomeID)
	}

	stakes, err := s.store.ListStakes(ctx, p.ID)
	if err != nil {
		return prediction.Prediction{}, err
	}

	var pool, winningTotal float64
	for _, st := range stakes {
		if st.Status != prediction.StakeConfirmed {
			continue
		}
		pool += st.Amount
		if st.OutcomeID == winningOutcomeID {
			winningTotal += st.Amount
		}
	}

	if winningTotal == 0 {
		// Nobody backed the winner; refund everyone in full.
		if err := s.refundConfirmed(ctx, p, stakes, "no winning stakes, refund"); err != nil {
			return prediction.Prediction{}, err
		}
	} else {
		keep := 1 - p.FeePercent/100
		for _, st := range stakes {
			if st.Status != prediction.StakeConfirmed || st.OutcomeID != winningOutcomeID {
				continue
			}
			payout := st.Amount / winningTotal * pool * keep
			if err := s.payStake(ctx, p, st, payout, "prediction payout"); err != nil {
				return prediction.Prediction{}, err
			}
		}
	}

	p.Status = prediction.StatusSettled
	p.WinningOutcomeID = winningOutcomeID
	p.SettledAt = time.Now().UTC()
	p, err = s.store.UpdatePrediction(ctx, p)
	if err != nil {
		return prediction.Prediction{}, err
	}

	metrics.RecordSettlement(string(prediction.StatusSettled))
	s.log.WithField("prediction_id", p.ID).
		WithField("winning_outcome", winningOutcomeID).
		WithField("pool", pool).
		Info("prediction settled")
	return p, nil
}

// Void cancels a prediction and refunds every confirmed stake in full.
func (s *Service) Void(ctx context.Context, id, voidedBy string) (prediction.Prediction, error) {
	p, err := s.store.GetPrediction(ctx, id)
	if err != nil {
		return prediction.Prediction{}, err
	}
	if !prediction.CanTransition(p.Status, prediction.StatusVoid) {
		return prediction.Prediction{}, ErrBadTransition
	}
	if !strings.EqualFold(voidedBy, p.Author) {
		return prediction.Prediction{}, fmt.Errorf("only the author may void")
	}

	stakes, err := s.store.ListStakes(ctx, p.ID)
	if err != nil {
		return prediction.Prediction{}, err
	}
	if err := s.refundConfirmed(ctx, p, stakes, "prediction voided, refund"); err != nil {
		return prediction.Prediction{}, err
	}
	s.rejectPending(ctx, p.ID)

	p.Status = prediction.StatusVoid
	p.SettledAt = time.Now().UTC()
	p, err = s.store.UpdatePrediction(ctx, p)
	if err != nil {
		return prediction.Prediction{}, err
	}

	metrics.RecordSettlement(string(prediction.StatusVoid))
	s.log.WithField("prediction_id", p.ID).Info("prediction voided")
	return p, nil
}

func (s *Service) refundConfirmed(ctx context.Context, p prediction.Prediction, stakes []prediction.Stake, memo string) error {
	for _, st := range stakes {
		if st.Status != prediction.StakeConfirmed {
			continue
		}
		if err := s.payStake(ctx, p, st, st.Amount, memo); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) payStake(ctx context.Context, p prediction.Prediction, st prediction.Stake, amount float64, memo string) error {
	var txID string
	if s.treasury != nil {
		var err error
		txID, err = s.treasury.Pay(ctx, st.Account, amount, st.Symbol, memo)
		if err != nil {
			return fmt.Errorf("pay %s for stake %s: %w", st.Account, st.ID, err)
		}
	}
	st.Payout = amount
	st.PayoutTxID = txID
	if _, err := s.store.UpdateStake(ctx, st); err != nil {
		return err
	}
	s.notify(ctx, st.Account, notification.KindSettlement, p.Author, p.ID,
		fmt.Sprintf("%.3f %s paid out for %q", amount, st.Symbol, p.Title))
	return nil
}

func (s *Service) rejectPending(ctx context.Context, predictionID string) {
	stakes, err := s.store.ListStakes(ctx, predictionID)
	if err != nil {
		s.log.WithError(err).WithField("prediction_id", predictionID).Error("list stakes for reject")
		return
	}
	for _, st := range stakes {
		if st.Status != prediction.StakePending {
			continue
		}
		if _, err := s.store.TransitionStake(ctx, st.ID, prediction.StakePending, prediction.StakeRejected); err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				s.log.WithError(err).WithField("stake_id", st.ID).Error("reject pending stake")
			}
			continue
		}
		metrics.RecordStakeVerification("rejected")
	}
}

func (s *Service) notify(ctx context.Context, account string, kind notification.Kind, actor, ref, body string) {
	if s.notifier == nil || account == "" {
		return
	}
	s.notifier.Notify(ctx, account, kind, actor, ref, body)
}
