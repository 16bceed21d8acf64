package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsblock/sportsblock/internal/app/services/leaderboard"
	"github.com/sportsblock/sportsblock/internal/app/services/notifications"
	"github.com/sportsblock/sportsblock/internal/app/services/predictions"
	"github.com/sportsblock/sportsblock/internal/app/storage/memory"
)

func TestSchedulerStartStop(t *testing.T) {
	store := memory.New()
	sched := New(
		predictions.New(store, nil, nil, nil, "sb-escrow", nil),
		leaderboard.New(store, store, nil),
		notifications.New(store, nil),
		nil,
	)

	require.NoError(t, sched.Start(context.Background()))
	assert.Len(t, sched.cron.Entries(), 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Stop(ctx))
}

func TestSchedulerSkipsMissingServices(t *testing.T) {
	sched := New(nil, nil, nil, nil)

	require.NoError(t, sched.Start(context.Background()))
	assert.Empty(t, sched.cron.Entries())

	require.NoError(t, sched.Stop(context.Background()))
}

func TestRunRecoversFromJobError(t *testing.T) {
	sched := New(nil, nil, nil, nil)

	ran := false
	sched.run("failing", func(context.Context) error {
		ran = true
		return context.DeadlineExceeded
	})()

	assert.True(t, ran)
}
