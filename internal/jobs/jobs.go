// Package jobs schedules the recurring maintenance work: locking expired
// predictions, confirming pending stakes, rolling up the leaderboard and
// pruning old notifications.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sportsblock/sportsblock/internal/app/metrics"
	"github.com/sportsblock/sportsblock/internal/app/services/leaderboard"
	"github.com/sportsblock/sportsblock/internal/app/services/notifications"
	"github.com/sportsblock/sportsblock/internal/app/services/predictions"
	"github.com/sportsblock/sportsblock/internal/system"
	"github.com/sportsblock/sportsblock/pkg/logger"
)

const notificationRetention = 30 * 24 * time.Hour

var _ system.Service = (*Scheduler)(nil)

// Scheduler owns the cron runner and its job registrations.
type Scheduler struct {
	cron          *cron.Cron
	predictions   *predictions.Service
	leaderboard   *leaderboard.Service
	notifications *notifications.Service
	log           *logger.Logger
}

// New wires the jobs. Any service may be nil; its jobs are then skipped.
func New(pred *predictions.Service, lb *leaderboard.Service, notif *notifications.Service, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("jobs")
	}
	return &Scheduler{
		cron:          cron.New(),
		predictions:   pred,
		leaderboard:   lb,
		notifications: notif,
		log:           log,
	}
}

func (s *Scheduler) Name() string { return "jobs" }

// Start registers the schedules and launches the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.predictions != nil {
		if _, err := s.cron.AddFunc("@every 30s", s.run("lock-sweep", func(ctx context.Context) error {
			_, err := s.predictions.LockDue(ctx, time.Now())
			return err
		})); err != nil {
			return err
		}
		if _, err := s.cron.AddFunc("@every 1m", s.run("stake-verify", func(ctx context.Context) error {
			_, err := s.predictions.VerifyPendingStakes(ctx)
			return err
		})); err != nil {
			return err
		}
	}
	if s.leaderboard != nil {
		if _, err := s.cron.AddFunc("@every 10m", s.run("leaderboard-rollup", func(ctx context.Context) error {
			_, err := s.leaderboard.Rollup(ctx)
			return err
		})); err != nil {
			return err
		}
	}
	if s.notifications != nil {
		if _, err := s.cron.AddFunc("0 3 * * *", s.run("notification-prune", func(ctx context.Context) error {
			_, err := s.notifications.Prune(ctx, time.Now().Add(-notificationRetention))
			return err
		})); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.log.Info("job scheduler started")
	return nil
}

// Stop halts the runner and waits for in-flight jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		start := time.Now()
		err := fn(ctx)
		metrics.RecordJobRun(name, time.Since(start), err == nil)
		if err != nil {
			s.log.WithError(err).WithField("job", name).Error("job failed")
			return
		}
		s.log.WithField("job", name).WithField("took", time.Since(start).String()).Debug("job finished")
	}
}
