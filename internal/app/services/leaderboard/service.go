// Package leaderboard aggregates settled predictions into per-account
// standings.
package leaderboard

import (
	"context"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/domain/leaderboard"
	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/storage"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

// Service recomputes and serves leaderboard standings.
type Service struct {
	predictions storage.PredictionStore
	store       storage.LeaderboardStore
	log         *logger.Logger
}

// New constructs the service.
func New(predictions storage.PredictionStore, store storage.LeaderboardStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("leaderboard")
	}
	return &Service{predictions: predictions, store: store, log: log}
}

// Top returns the highest-ranked entries.
func (s *Service) Top(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	return s.store.TopLeaderboard(ctx, limit)
}

// For returns a single account's standing.
func (s *Service) For(ctx context.Context, account string) (leaderboard.Entry, error) {
	return s.store.GetLeaderboardEntry(ctx, account)
}

// Rollup recomputes every account's aggregate from settled predictions and
// upserts the results. Returns the number of accounts written.
func (s *Service) Rollup(ctx context.Context) (int, error) {
	settled, err := s.predictions.ListPredictions(ctx, prediction.StatusSettled, "")
	if err != nil {
		return 0, err
	}

	totals := make(map[string]*leaderboard.Entry)
	for _, p := range settled {
		stakes, err := s.predictions.ListStakes(ctx, p.ID)
		if err != nil {
			return 0, err
		}
		for _, st := range stakes {
			if st.Status != prediction.StakeConfirmed {
				continue
			}
			entry := totals[st.Account]
			if entry == nil {
				entry = &leaderboard.Entry{Account: st.Account}
				totals[st.Account] = entry
			}
			entry.StakeVolume += st.Amount
			entry.Settled++
			if st.OutcomeID == p.WinningOutcomeID {
				entry.Wins++
			}
			entry.NetPayout += st.Payout - st.Amount
		}
	}

	now := time.Now().UTC()
	written := 0
	for _, entry := range totals {
		if entry.Settled > 0 {
			entry.WinRate = float64(entry.Wins) / float64(entry.Settled)
		}
		entry.UpdatedAt = now
		if err := s.store.UpsertLeaderboardEntry(ctx, *entry); err != nil {
			s.log.WithError(err).WithField("account", entry.Account).Error("upsert leaderboard entry")
			continue
		}
		written++
	}

	s.log.WithField("accounts", written).Info("leaderboard rolled up")
	return written, nil
}
