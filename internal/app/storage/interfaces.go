// Package storage defines the persistence interfaces for Sportsblock.
// Relational entities (users, custodial accounts, predictions, leaderboard)
// are backed by PostgreSQL; document entities (soft posts, notifications) by
// the document store; the memory implementation covers everything for tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sportsblock/sportsblock/internal/app/domain/custodian"
	"github.com/sportsblock/sportsblock/internal/app/domain/leaderboard"
	"github.com/sportsblock/sportsblock/internal/app/domain/notification"
	"github.com/sportsblock/sportsblock/internal/app/domain/post"
	"github.com/sportsblock/sportsblock/internal/app/domain/prediction"
	"github.com/sportsblock/sportsblock/internal/app/domain/pricefeed"
	"github.com/sportsblock/sportsblock/internal/app/domain/user"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned on uniqueness violations.
var ErrConflict = errors.New("record already exists")

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
}

// CustodianStore persists custodial key records.
type CustodianStore interface {
	CreateCustodialAccount(ctx context.Context, acct custodian.Account) (custodian.Account, error)
	UpdateCustodialAccount(ctx context.Context, acct custodian.Account) (custodian.Account, error)
	GetCustodialAccount(ctx context.Context, id string) (custodian.Account, error)
	GetCustodialAccountByHive(ctx context.Context, hiveAccount string) (custodian.Account, error)
	ListCustodialAccounts(ctx context.Context) ([]custodian.Account, error)
}

// PredictionStore persists predictions and their stakes.
type PredictionStore interface {
	CreatePrediction(ctx context.Context, p prediction.Prediction) (prediction.Prediction, error)
	UpdatePrediction(ctx context.Context, p prediction.Prediction) (prediction.Prediction, error)
	GetPrediction(ctx context.Context, id string) (prediction.Prediction, error)
	ListPredictions(ctx context.Context, status prediction.Status, author string) ([]prediction.Prediction, error)
	ListLockable(ctx context.Context, before time.Time) ([]prediction.Prediction, error)

	CreateStake(ctx context.Context, s prediction.Stake) (prediction.Stake, error)
	UpdateStake(ctx context.Context, s prediction.Stake) (prediction.Stake, error)
	// TransitionStake updates the stake's status only when it still has the
	// expected one, returning ErrConflict otherwise. Concurrent verifiers
	// use this so each transition happens exactly once.
	TransitionStake(ctx context.Context, id string, from, to prediction.StakeStatus) (prediction.Stake, error)
	GetStake(ctx context.Context, id string) (prediction.Stake, error)
	GetStakeByAccount(ctx context.Context, predictionID, account string) (prediction.Stake, error)
	ListStakes(ctx context.Context, predictionID string) ([]prediction.Stake, error)
	ListPendingStakes(ctx context.Context) ([]prediction.Stake, error)
}

// LeaderboardStore persists rollup aggregates.
type LeaderboardStore interface {
	UpsertLeaderboardEntry(ctx context.Context, e leaderboard.Entry) error
	TopLeaderboard(ctx context.Context, limit int) ([]leaderboard.Entry, error)
	GetLeaderboardEntry(ctx context.Context, account string) (leaderboard.Entry, error)
}

// PriceFeedStore persists price feed definitions and snapshots.
type PriceFeedStore interface {
	CreatePriceFeed(ctx context.Context, feed pricefeed.Feed) (pricefeed.Feed, error)
	UpdatePriceFeed(ctx context.Context, feed pricefeed.Feed) (pricefeed.Feed, error)
	GetPriceFeed(ctx context.Context, id string) (pricefeed.Feed, error)
	ListPriceFeeds(ctx context.Context) ([]pricefeed.Feed, error)

	CreatePriceSnapshot(ctx context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error)
	LatestPriceSnapshot(ctx context.Context, feedID string) (pricefeed.Snapshot, error)
	ListPriceSnapshots(ctx context.Context, feedID string, limit int) ([]pricefeed.Snapshot, error)
}

// PostStore persists soft posts.
type PostStore interface {
	CreateSoftPost(ctx context.Context, p post.SoftPost) (post.SoftPost, error)
	UpdateSoftPost(ctx context.Context, p post.SoftPost) (post.SoftPost, error)
	GetSoftPost(ctx context.Context, id string) (post.SoftPost, error)
	ListSoftPosts(ctx context.Context, author string, limit int) ([]post.SoftPost, error)
	DeleteSoftPost(ctx context.Context, id string) error
}

// NotificationStore persists notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)
	ListNotifications(ctx context.Context, account string, unreadOnly bool, limit int) ([]notification.Notification, error)
	MarkNotificationsRead(ctx context.Context, account string, ids []string) (int, error)
	PruneNotifications(ctx context.Context, olderThan time.Time) (int, error)
}

// CursorStore persists the chain monitor's block cursor.
type CursorStore interface {
	LoadCursor(ctx context.Context, name string) (uint64, error)
	SaveCursor(ctx context.Context, name string, block uint64) error
}
